package bot

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/UnknownOlympus/themis/internal/directory"
	"github.com/UnknownOlympus/themis/internal/i18n"
	"github.com/UnknownOlympus/themis/internal/metrics"
	"github.com/UnknownOlympus/themis/internal/models"
	"github.com/UnknownOlympus/themis/internal/notify"
	"github.com/UnknownOlympus/themis/internal/review"
	"github.com/UnknownOlympus/themis/internal/session"
	"github.com/redis/go-redis/v9"
	"gopkg.in/telebot.v4"
)

const (
	requestTimeout   = 5 * time.Second
	defaultPoolSize  = 10
	maxMessageLength = 4000
	// maxCommentLength leaves room for the template around a comment in one message.
	maxCommentLength = 3000
)

// Employees is the registration store.
type Employees interface {
	GetEmployee(ctx context.Context, telegramID int64) (models.Employee, error)
	RegisterEmployee(ctx context.Context, employee models.Employee) error
	SetEmployeeRole(ctx context.Context, telegramID int64, role models.Role) error
	GetEmployeesByKazarmaIDs(ctx context.Context, kazarmaIDs []int) ([]models.Employee, error)
	GetAdmins(ctx context.Context) ([]models.Employee, error)
	GetClusters(ctx context.Context) ([]models.Cluster, error)
}

// Directory answers the CRM questions the chat flows ask.
type Directory interface {
	Roles() directory.RoleMap
	ClientName(ctx context.Context, clientID int64) (string, error)
	SearchStaff(ctx context.Context, fullName string) ([]models.StaffCandidate, error)
}

// Reviews is the review workflow.
type Reviews interface {
	Submit(ctx context.Context, actor models.Employee, clientID int64) (models.Ticket, error)
	Claim(ctx context.Context, actor models.Employee, clientID int64) (models.Ticket, error)
	Choose(ctx context.Context, actor models.Employee, clientID int64, decision session.Decision) (session.Session, error)
	CancelDecision(ctx context.Context, actor models.Employee) (session.Session, error)
	Decide(ctx context.Context, actor models.Employee, comment string) (models.Ticket, error)
	Appeal(ctx context.Context, actor models.Employee, clientID int64, comment string) (models.Ticket, error)
	Cassation(ctx context.Context, actor models.Employee, clientID int64, comment string) (models.Ticket, error)
	Reset(ctx context.Context, actor models.Employee) (review.ResetResult, error)
	ReleaseReviewer(ctx context.Context, actor models.Employee, reviewerID int64) (models.Ticket, error)
	History(ctx context.Context, clientID int64) ([]models.HistoryEntry, error)
	ReviewPool(ctx context.Context, actor models.Employee, limit int) ([]models.Ticket, error)
	AppealCandidates(ctx context.Context, actor models.Employee) ([]review.Candidate, error)
	ExportOwn(ctx context.Context, actor models.Employee) ([]models.Ticket, error)
	ExportAll(ctx context.Context, actor models.Employee) ([]models.Ticket, error)
}

// Notifier delivers messages with retries.
type Notifier interface {
	Notify(ctx context.Context, recipient int64, text string, opts ...any) error
	NotifyAll(ctx context.Context, recipients []int64, text string, opts ...any) notify.Report
}

// Sessions exposes the reviewer claims.
type Sessions interface {
	Get(ctx context.Context, reviewerID int64) (session.Session, error)
}

// Settings are the operator toggles.
type Settings interface {
	Toggles() map[string]bool
	Set(name string, on bool) error
}

// Options are the chat-level settings of the bot.
type Options struct {
	CheckingGroup int64                       // reviewers' group chat
	ClientLink    func(clientID int64) string // CRM card link, may return ""
	PoolSize      int                         // tickets shown by the review pool
}

// Dependencies groups everything NewBot needs.
type Dependencies struct {
	Log       *slog.Logger
	Employees Employees
	Directory Directory
	Reviews   Reviews
	Sessions  Sessions
	Settings  Settings
	Notifier  Notifier
	Metrics   *metrics.Metrics
	Redis     *redis.Client
	Localizer *i18n.Localizer
	Options   Options
}

// Bot contains the bot API instance and other information.
type Bot struct {
	bot          *telebot.Bot
	log          *slog.Logger
	employees    Employees
	directory    Directory
	reviews      Reviews
	sessions     Sessions
	settings     Settings
	notifier     Notifier
	metrics      *metrics.Metrics
	stateManager *StateManager
	localizer    *i18n.Localizer
	menus        *MenuBuilder
	opts         Options
}

var (
	// review workflow buttons.
	btnClaim          = telebot.InlineButton{Unique: "claim"}
	btnChooseApprove  = telebot.InlineButton{Unique: "choose_approve"}
	btnChooseReject   = telebot.InlineButton{Unique: "choose_reject"}
	btnChangeDecision = telebot.InlineButton{Unique: "change_decision"}
	btnSubmitConfirm  = telebot.InlineButton{Unique: "submit_confirm"}
	btnSubmitCancel   = telebot.InlineButton{Unique: "submit_cancel"}
	btnAppeal         = telebot.InlineButton{Unique: "appeal"}
	btnCassation      = telebot.InlineButton{Unique: "cassation"}

	// registration buttons.
	btnRegisterPick = telebot.InlineButton{Unique: "register_pick"}
	btnCluster      = telebot.InlineButton{Unique: "cluster"}

	// admin buttons.
	btnResetConfirm = telebot.InlineButton{Unique: "reset_confirm"}
	btnResetCancel  = telebot.InlineButton{Unique: "reset_cancel"}
)

// NewAPI connects to Telegram with the given token.
func NewAPI(log *slog.Logger, token string, poller time.Duration) (*telebot.Bot, error) {
	api, err := telebot.NewBot(telebot.Settings{
		Token:  token,
		Poller: &telebot.LongPoller{Timeout: poller},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Telegram bot: %w", err)
	}
	log.Info("Authorized on account", "account", api.Me.Username)

	return api, nil
}

// NewBot wires the handlers onto api.
func NewBot(api *telebot.Bot, deps Dependencies) *Bot {
	if deps.Options.PoolSize <= 0 {
		deps.Options.PoolSize = defaultPoolSize
	}
	if deps.Options.ClientLink == nil {
		deps.Options.ClientLink = func(int64) string { return "" }
	}

	botInstance := &Bot{
		bot:          api,
		log:          deps.Log,
		employees:    deps.Employees,
		directory:    deps.Directory,
		reviews:      deps.Reviews,
		sessions:     deps.Sessions,
		settings:     deps.Settings,
		notifier:     deps.Notifier,
		metrics:      deps.Metrics,
		stateManager: NewStateManager(deps.Redis),
		localizer:    deps.Localizer,
		opts:         deps.Options,
	}
	botInstance.menus = NewMenuBuilder(deps.Localizer)

	botInstance.registerRoutes()

	return botInstance
}

// Start launches the bot to listen for updates.
func (b *Bot) Start() {
	b.log.Info("Telegram bot is starting...")
	b.bot.Start()
}

// Stop gracefully stops the Telegram bot and logs the action.
func (b *Bot) Stop() {
	b.log.Info("Telegram bot is stopped...")
	b.bot.Stop()
}

// registerRoutes configures all routes (commands and callbacks).
func (b *Bot) registerRoutes() {
	// Public routes.
	b.bot.Handle("/start", b.startHandler)
	b.bot.Handle("/cancel", b.cancelHandler)
	b.bot.Handle(telebot.OnText, b.routeTextHandler)
	b.bot.Handle(&btnRegisterPick, b.registerPickHandler)
	b.bot.Handle(&btnCluster, b.clusterHandler)

	// Registered employees.
	b.bot.Handle("/help", b.helpHandler, b.registered)
	b.bot.Handle("/history", b.historyHandler, b.registered)
	b.bot.Handle(&btnSubmitConfirm, b.submitConfirmHandler, b.registered)
	b.bot.Handle(&btnSubmitCancel, b.submitCancelHandler, b.registered)
	b.bot.Handle(&btnAppeal, b.escalateHandler, b.registered)
	b.bot.Handle(&btnCassation, b.escalateHandler, b.registered)

	// Reviewers.
	b.bot.Handle("/pool", b.reviewPoolHandler, b.registered, b.reviewerOnly)
	b.bot.Handle(&btnClaim, b.claimHandler, b.registered, b.reviewerOnly)
	b.bot.Handle(&btnChooseApprove, b.chooseHandler, b.registered, b.reviewerOnly)
	b.bot.Handle(&btnChooseReject, b.chooseHandler, b.registered, b.reviewerOnly)
	b.bot.Handle(&btnChangeDecision, b.changeDecisionHandler, b.registered, b.reviewerOnly)

	// Admins.
	b.bot.Handle("/set", b.setHandler, b.registered, b.adminOnly)
	b.bot.Handle("/reset", b.resetHandler, b.registered, b.adminOnly)
	b.bot.Handle("/role", b.roleHandler, b.registered, b.adminOnly)
	b.bot.Handle("/release", b.releaseHandler, b.registered, b.adminOnly)
	b.bot.Handle("/export", b.exportHandler, b.registered)
	b.bot.Handle(&btnResetConfirm, b.resetConfirmHandler, b.registered, b.adminOnly)
	b.bot.Handle(&btnResetCancel, b.resetCancelHandler, b.registered, b.adminOnly)
}

// lang is the language of the sender.
func (b *Bot) lang(tCtx telebot.Context) string {
	if tCtx.Sender() == nil {
		return i18n.DefaultLanguage
	}
	return i18n.NormalizeLanguageCode(tCtx.Sender().LanguageCode)
}

// t is a shorthand method for getting translations.
func (b *Bot) t(tCtx telebot.Context, key string) string {
	return b.localizer.Get(b.lang(tCtx), key)
}

// tWithData is a shorthand method for getting translations with placeholder data.
func (b *Bot) tWithData(tCtx telebot.Context, key string, data map[string]any) string {
	return b.localizer.GetWithData(b.lang(tCtx), key, data)
}
