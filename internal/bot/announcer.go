package bot

import (
	"context"
	"html"
	"log/slog"
	"strconv"

	"github.com/UnknownOlympus/themis/internal/i18n"
	"github.com/UnknownOlympus/themis/internal/models"
	"github.com/UnknownOlympus/themis/internal/review"
	"github.com/UnknownOlympus/themis/internal/workflow"
	"gopkg.in/telebot.v4"
)

// OwnerLookup finds the Telegram accounts of directory users.
type OwnerLookup interface {
	GetEmployeesByKazarmaIDs(ctx context.Context, kazarmaIDs []int) ([]models.Employee, error)
}

// ClientNamer names CRM clients.
type ClientNamer interface {
	ClientName(ctx context.Context, clientID int64) (string, error)
}

// AnnouncerDeps groups everything NewAnnouncer needs.
type AnnouncerDeps struct {
	Log       *slog.Logger
	Owners    OwnerLookup
	Clients   ClientNamer
	Notifier  Notifier
	Localizer *i18n.Localizer
	Toggles   review.Toggles
	Options   Options
}

// Announcer posts committed transitions. New and contested clients go to the checking group
// with a claim button, verdicts go to the owners of the client. Recipients' languages are
// unknown here, so everything is written in the default language.
type Announcer struct {
	log       *slog.Logger
	owners    OwnerLookup
	clients   ClientNamer
	notifier  Notifier
	localizer *i18n.Localizer
	toggles   review.Toggles
	opts      Options
}

var _ review.Announcer = (*Announcer)(nil)

// NewAnnouncer creates an Announcer.
func NewAnnouncer(deps AnnouncerDeps) *Announcer {
	if deps.Options.ClientLink == nil {
		deps.Options.ClientLink = func(int64) string { return "" }
	}
	return &Announcer{
		log:       deps.Log,
		owners:    deps.Owners,
		clients:   deps.Clients,
		notifier:  deps.Notifier,
		localizer: deps.Localizer,
		toggles:   deps.Toggles,
		opts:      deps.Options,
	}
}

// Announce delivers ev to its audience. Failures are logged and never returned.
func (a *Announcer) Announce(ctx context.Context, ev review.Event) {
	switch ev.Audience {
	case workflow.AudienceReviewers:
		a.toReviewers(ctx, ev)
	case workflow.AudienceOwners:
		a.toOwners(ctx, ev)
	case workflow.AudienceNone:
	}
}

func (a *Announcer) toReviewers(ctx context.Context, ev review.Event) {
	if a.opts.CheckingGroup == 0 {
		a.log.WarnContext(ctx, "Checking group is not configured, announcement dropped", "client", ev.Ticket.ID)
		return
	}

	key := "review.new"
	if ev.Ticket.Status.IsAppealLevel() {
		key = "review.escalated"
	}
	text := a.text(key, ev.Ticket, a.clientName(ctx, ev.Ticket.ID))

	id := strconv.FormatInt(ev.Ticket.ID, 10)
	menu := &telebot.ReplyMarkup{}
	menu.Inline(menu.Row(menu.Data(a.localizer.Get(i18n.DefaultLanguage, "button.claim"), btnClaim.Unique, id)))

	if err := a.notifier.Notify(ctx, a.opts.CheckingGroup, text, menu, telebot.ModeHTML); err != nil {
		a.log.ErrorContext(ctx, "Failed to announce client to reviewers", "client", ev.Ticket.ID, "error", err)
		return
	}
	a.log.InfoContext(ctx, "Client announced to reviewers", "client", ev.Ticket.ID, "action", ev.Action.String())
}

func (a *Announcer) toOwners(ctx context.Context, ev review.Event) {
	ownerIDs := ev.Ticket.Owners().IDs()
	employees, err := a.owners.GetEmployeesByKazarmaIDs(ctx, ownerIDs)
	if err != nil {
		a.log.ErrorContext(ctx, "Failed to look up owners", "client", ev.Ticket.ID, "error", err)
		return
	}
	if len(employees) == 0 {
		a.log.InfoContext(ctx, "No registered owner to notify", "client", ev.Ticket.ID, "owners", ownerIDs)
		return
	}

	recipients := make([]int64, 0, len(employees))
	for _, employee := range employees {
		recipients = append(recipients, employee.ID)
	}

	text := a.text("owners.verdict", ev.Ticket, a.clientName(ctx, ev.Ticket.ID))
	opts := []any{telebot.ModeHTML}
	if ev.Escalation != 0 && a.toggles.SendAppeal() {
		id := strconv.FormatInt(ev.Ticket.ID, 10)
		menu := &telebot.ReplyMarkup{}
		label := a.localizer.Get(i18n.DefaultLanguage, "button."+ev.Escalation.String())
		menu.Inline(menu.Row(escalationButton(menu, label, ev.Escalation, id)))
		opts = append(opts, menu)
	}

	report := a.notifier.NotifyAll(ctx, recipients, text, opts...)
	a.log.InfoContext(ctx, "Verdict delivered to owners",
		"client", ev.Ticket.ID,
		"status", ev.Ticket.Status.String(),
		"delivered", len(report.Delivered),
		"unreachable", len(report.Unreachable),
		"failed", len(report.Failed),
	)
}

func (a *Announcer) text(key string, ticket models.Ticket, name string) string {
	lang := i18n.DefaultLanguage
	comment := a.localizer.Get(lang, "owners.no_comment")
	if ticket.Comment != nil {
		short, cut := truncateText(*ticket.Comment, maxCommentLength)
		comment = html.EscapeString(short)
		if cut {
			comment += a.localizer.GetWithData(lang, "owners.comment_truncated", map[string]any{"client": ticket.ID})
		}
	}

	link := a.opts.ClientLink(ticket.ID)
	return a.localizer.GetWithData(lang, key, map[string]any{
		"client":  ticket.ID,
		"name":    html.EscapeString(name),
		"status":  statusLabel(a.localizer, lang, ticket.Status),
		"comment": comment,
		"link":    html.EscapeString(link),
	})
}

func (a *Announcer) clientName(ctx context.Context, clientID int64) string {
	name, err := a.clients.ClientName(ctx, clientID)
	if err != nil {
		a.log.WarnContext(ctx, "Failed to get client name", "client", clientID, "error", err)
		return ""
	}
	return name
}
