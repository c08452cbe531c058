package bot

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"testing"

	"github.com/UnknownOlympus/themis/internal/config"
	"github.com/UnknownOlympus/themis/internal/directory"
	"github.com/UnknownOlympus/themis/internal/i18n"
	"github.com/UnknownOlympus/themis/internal/metrics"
	"github.com/UnknownOlympus/themis/internal/models"
	"github.com/UnknownOlympus/themis/internal/notify"
	"github.com/UnknownOlympus/themis/internal/repository"
	"github.com/UnknownOlympus/themis/internal/review"
	"github.com/UnknownOlympus/themis/internal/session"
	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gopkg.in/telebot.v4"
)

// fakeContext is a telebot.Context that records what the handler answered.
type fakeContext struct {
	telebot.Context

	sender   *telebot.User
	chat     *telebot.Chat
	text     string
	args     []string
	callback *telebot.Callback
	message  *telebot.Message
	store    map[string]any

	sent      []any
	sentOpts  [][]any
	edited    []string
	responses []*telebot.CallbackResponse
}

func newTextContext(userID int64, text string) *fakeContext {
	return &fakeContext{
		sender: &telebot.User{ID: userID, LanguageCode: "en"},
		chat:   &telebot.Chat{ID: userID, Type: telebot.ChatPrivate},
		text:   text,
		store:  map[string]any{},
	}
}

func newCallbackContext(userID int64, unique, data string) *fakeContext {
	ctx := newTextContext(userID, "")
	ctx.callback = &telebot.Callback{Unique: unique, Data: data}
	ctx.message = &telebot.Message{Text: "original"}
	return ctx
}

func (c *fakeContext) Sender() *telebot.User       { return c.sender }
func (c *fakeContext) Chat() *telebot.Chat         { return c.chat }
func (c *fakeContext) Text() string                { return c.text }
func (c *fakeContext) Args() []string              { return c.args }
func (c *fakeContext) Callback() *telebot.Callback { return c.callback }
func (c *fakeContext) Message() *telebot.Message   { return c.message }
func (c *fakeContext) Get(key string) any          { return c.store[key] }
func (c *fakeContext) Set(key string, value any)   { c.store[key] = value }

func (c *fakeContext) Data() string {
	if c.callback != nil {
		return c.callback.Data
	}
	return ""
}

func (c *fakeContext) Send(what any, opts ...any) error {
	c.sent = append(c.sent, what)
	c.sentOpts = append(c.sentOpts, opts)
	return nil
}

func (c *fakeContext) Edit(what any, _ ...any) error {
	c.edited = append(c.edited, fmt.Sprint(what))
	return nil
}

func (c *fakeContext) Respond(resp ...*telebot.CallbackResponse) error {
	if len(resp) == 0 {
		resp = []*telebot.CallbackResponse{{}}
	}
	c.responses = append(c.responses, resp[0])
	return nil
}

// lastText returns the last text message sent.
func (c *fakeContext) lastText() string {
	for i := len(c.sent) - 1; i >= 0; i-- {
		if text, ok := c.sent[i].(string); ok {
			return text
		}
	}
	return ""
}

type fakeEmployees struct {
	mu         sync.Mutex
	byID       map[int64]models.Employee
	clusters   []models.Cluster
	registered []models.Employee
	linked     bool
}

func newFakeEmployees(employees ...models.Employee) *fakeEmployees {
	f := &fakeEmployees{byID: map[int64]models.Employee{}}
	for _, e := range employees {
		f.byID[e.ID] = e
	}
	return f
}

func (f *fakeEmployees) GetEmployee(_ context.Context, telegramID int64) (models.Employee, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.byID[telegramID]
	if !ok {
		return models.Employee{}, repository.ErrEmployeeNotFound
	}
	return e, nil
}

func (f *fakeEmployees) RegisterEmployee(_ context.Context, employee models.Employee) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.linked {
		return repository.ErrEmployeeLinked
	}
	f.registered = append(f.registered, employee)
	f.byID[employee.ID] = employee
	return nil
}

func (f *fakeEmployees) SetEmployeeRole(_ context.Context, telegramID int64, role models.Role) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.byID[telegramID]
	if !ok {
		return repository.ErrEmployeeNotFound
	}
	e.IsChecking = role == models.RoleReviewer
	e.IsAdmin = role == models.RoleAdmin
	f.byID[telegramID] = e
	return nil
}

func (f *fakeEmployees) GetEmployeesByKazarmaIDs(_ context.Context, kazarmaIDs []int) ([]models.Employee, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Employee
	for _, e := range f.byID {
		if slices.Contains(kazarmaIDs, e.KazarmaID) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeEmployees) GetAdmins(_ context.Context) ([]models.Employee, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Employee
	for _, e := range f.byID {
		if e.IsAdmin {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeEmployees) GetClusters(_ context.Context) ([]models.Cluster, error) {
	return f.clusters, nil
}

type fakeDirectory struct {
	clients map[int64]string
	staff   []models.StaffCandidate
}

func (f *fakeDirectory) Roles() directory.RoleMap {
	return directory.DefaultRoleMap()
}

func (f *fakeDirectory) ClientName(_ context.Context, clientID int64) (string, error) {
	name, ok := f.clients[clientID]
	if !ok {
		return "", directory.ErrClientNotFound
	}
	return name, nil
}

func (f *fakeDirectory) SearchStaff(_ context.Context, _ string) ([]models.StaffCandidate, error) {
	return f.staff, nil
}

// fakeReviews records the calls the handlers make and answers with canned results.
type fakeReviews struct {
	submitted  []int64
	submitErr  error
	comments   []string
	decided    models.Ticket
	decideErr  error
	history    []models.HistoryEntry
	own        []models.Ticket
	candidates []review.Candidate
	escalated  []string
	sessions   map[int64]session.Session
}

func (f *fakeReviews) Submit(_ context.Context, _ models.Employee, clientID int64) (models.Ticket, error) {
	f.submitted = append(f.submitted, clientID)
	return models.Ticket{ID: clientID, Status: models.StatusNew}, f.submitErr
}

func (f *fakeReviews) Claim(_ context.Context, _ models.Employee, clientID int64) (models.Ticket, error) {
	return models.Ticket{ID: clientID, Status: models.StatusInReview}, nil
}

func (f *fakeReviews) Choose(
	_ context.Context,
	_ models.Employee,
	clientID int64,
	decision session.Decision,
) (session.Session, error) {
	return session.Session{TicketID: clientID, Decision: decision}, nil
}

func (f *fakeReviews) CancelDecision(_ context.Context, _ models.Employee) (session.Session, error) {
	return session.Session{}, nil
}

func (f *fakeReviews) Decide(_ context.Context, _ models.Employee, comment string) (models.Ticket, error) {
	f.comments = append(f.comments, comment)
	return f.decided, f.decideErr
}

func (f *fakeReviews) Appeal(_ context.Context, _ models.Employee, clientID int64, comment string) (models.Ticket, error) {
	f.escalated = append(f.escalated, "appeal:"+comment)
	return models.Ticket{ID: clientID, Status: models.StatusAppealPending}, nil
}

func (f *fakeReviews) Cassation(
	_ context.Context,
	_ models.Employee,
	clientID int64,
	comment string,
) (models.Ticket, error) {
	f.escalated = append(f.escalated, "cassation:"+comment)
	return models.Ticket{ID: clientID, Status: models.StatusCassationPending}, nil
}

func (f *fakeReviews) Reset(_ context.Context, _ models.Employee) (review.ResetResult, error) {
	return review.ResetResult{Tickets: 3, Sessions: 1}, nil
}

func (f *fakeReviews) ReleaseReviewer(
	_ context.Context,
	_ models.Employee,
	reviewerID int64,
) (models.Ticket, error) {
	s, ok := f.sessions[reviewerID]
	if !ok {
		return models.Ticket{}, session.ErrNoSession
	}
	delete(f.sessions, reviewerID)
	return models.Ticket{ID: s.TicketID, Status: models.StatusNew}, nil
}

func (f *fakeReviews) History(_ context.Context, _ int64) ([]models.HistoryEntry, error) {
	return f.history, nil
}

func (f *fakeReviews) ReviewPool(_ context.Context, _ models.Employee, _ int) ([]models.Ticket, error) {
	return nil, nil
}

func (f *fakeReviews) AppealCandidates(_ context.Context, _ models.Employee) ([]review.Candidate, error) {
	return f.candidates, nil
}

func (f *fakeReviews) ExportOwn(_ context.Context, _ models.Employee) ([]models.Ticket, error) {
	return f.own, nil
}

func (f *fakeReviews) ExportAll(_ context.Context, _ models.Employee) ([]models.Ticket, error) {
	return f.own, nil
}

type fakeSessions map[int64]session.Session

func (f fakeSessions) Get(_ context.Context, reviewerID int64) (session.Session, error) {
	s, ok := f[reviewerID]
	if !ok {
		return session.Session{}, session.ErrNoSession
	}
	return s, nil
}

type fakeSettings map[string]bool

func (f fakeSettings) Toggles() map[string]bool { return f }

func (f fakeSettings) Set(name string, on bool) error {
	if _, ok := f[name]; !ok {
		return config.ErrUnknownToggle
	}
	f[name] = on
	return nil
}

func (f fakeSettings) SendClient() bool { return f[config.ToggleSendClient] }
func (f fakeSettings) SendAppeal() bool { return f[config.ToggleSendAppeal] }

type notification struct {
	recipients []int64
	text       string
	opts       []any
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []notification
}

func (f *fakeNotifier) Notify(_ context.Context, recipient int64, text string, opts ...any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, notification{recipients: []int64{recipient}, text: text, opts: opts})
	return nil
}

func (f *fakeNotifier) NotifyAll(_ context.Context, recipients []int64, text string, opts ...any) notify.Report {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, notification{recipients: recipients, text: text, opts: opts})
	return notify.Report{Delivered: recipients}
}

func (f *fakeNotifier) all() []notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.sent)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newLocalizer(t *testing.T) *i18n.Localizer {
	t.Helper()
	localizer, err := i18n.NewLocalizer()
	require.NoError(t, err)
	return localizer
}

type testBot struct {
	*Bot
	employees *fakeEmployees
	directory *fakeDirectory
	reviews   *fakeReviews
	sessions  fakeSessions
	settings  fakeSettings
	notifier  *fakeNotifier
}

func newTestBot(t *testing.T, employees ...models.Employee) *testBot {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	localizer := newLocalizer(t)
	tb := &testBot{
		employees: newFakeEmployees(employees...),
		directory: &fakeDirectory{clients: map[int64]string{41256: "Petrov Petr"}},
		reviews:   &fakeReviews{},
		sessions:  fakeSessions{},
		settings:  fakeSettings{config.ToggleSendClient: true, config.ToggleSendAppeal: true},
		notifier:  &fakeNotifier{},
	}
	tb.Bot = &Bot{
		log:          discardLogger(),
		employees:    tb.employees,
		directory:    tb.directory,
		reviews:      tb.reviews,
		sessions:     tb.sessions,
		settings:     tb.settings,
		notifier:     tb.notifier,
		metrics:      metrics.NewMetrics(prometheus.NewRegistry()),
		stateManager: NewStateManager(client),
		localizer:    localizer,
		menus:        NewMenuBuilder(localizer),
		opts: Options{
			CheckingGroup: -100,
			ClientLink:    func(id int64) string { return fmt.Sprintf("https://crm.example/clients/%d", id) },
			PoolSize:      defaultPoolSize,
		},
	}
	return tb
}
