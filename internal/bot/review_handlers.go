package bot

import (
	"context"
	"errors"
	"html"
	"strconv"
	"strings"

	"github.com/UnknownOlympus/themis/internal/directory"
	"github.com/UnknownOlympus/themis/internal/models"
	"github.com/UnknownOlympus/themis/internal/session"
	"github.com/UnknownOlympus/themis/internal/workflow"
	"gopkg.in/telebot.v4"
)

const poolButtonsPerRow = 3

// sendClientHandler asks for the id of the client to submit.
func (b *Bot) sendClientHandler(tCtx telebot.Context) error {
	b.metrics.CommandReceived.WithLabelValues("send_client").Inc()

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	if err := b.stateManager.Set(ctx, tCtx.Sender().ID, UserState{WaitingFor: stateAwaitingClientID}); err != nil {
		return b.replyError(tCtx, "send_client", err)
	}

	b.metrics.SentMessages.WithLabelValues("text").Inc()
	return tCtx.Send(b.t(tCtx, "submit.prompt"))
}

// clientIDHandler checks the typed id against the directory and asks for confirmation.
func (b *Bot) clientIDHandler(tCtx telebot.Context) error {
	clientID, err := parseClientID(tCtx.Text())
	if err != nil {
		return tCtx.Send(b.t(tCtx, "submit.invalid_id"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	name, err := b.directory.ClientName(ctx, clientID)
	if err != nil {
		// an unknown id keeps the dialog open for another try
		if !errors.Is(err, directory.ErrClientNotFound) {
			b.clearState(ctx, tCtx.Sender().ID)
		}
		return b.replyError(tCtx, "client_name", err)
	}
	b.clearState(ctx, tCtx.Sender().ID)

	id := strconv.FormatInt(clientID, 10)
	menu := &telebot.ReplyMarkup{}
	menu.Inline(menu.Row(
		menu.Data(b.t(tCtx, "button.submit"), btnSubmitConfirm.Unique, id),
		menu.Data(b.t(tCtx, "button.no"), btnSubmitCancel.Unique, id),
	))

	b.metrics.SentMessages.WithLabelValues("text").Inc()
	return tCtx.Send(
		b.tWithData(tCtx, "submit.confirm", map[string]any{"client": clientID, "name": html.EscapeString(name)}),
		menu,
		telebot.ModeHTML,
	)
}

// submitConfirmHandler sends the client for review.
func (b *Bot) submitConfirmHandler(tCtx telebot.Context) error {
	b.metrics.CommandReceived.WithLabelValues("submit").Inc()
	clientID, err := parseClientID(tCtx.Data())
	if err != nil {
		return b.replyError(tCtx, "submit", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	if _, err = b.reviews.Submit(ctx, currentEmployee(tCtx), clientID); err != nil {
		return b.replyError(tCtx, "submit", err)
	}

	_ = tCtx.Respond()
	b.metrics.SentMessages.WithLabelValues("edit").Inc()
	return tCtx.Edit(b.tWithData(tCtx, "submit.done", map[string]any{"client": clientID}), telebot.ModeHTML)
}

// submitCancelHandler drops the confirmation.
func (b *Bot) submitCancelHandler(tCtx telebot.Context) error {
	_ = tCtx.Respond()
	b.metrics.SentMessages.WithLabelValues("edit").Inc()
	return tCtx.Edit(b.t(tCtx, "common.cancelled"))
}

// reviewPoolHandler lists tickets waiting for a reviewer. A reviewer with a review in
// progress gets that review's verdict buttons again instead.
func (b *Bot) reviewPoolHandler(tCtx telebot.Context) error {
	b.metrics.CommandReceived.WithLabelValues("pool").Inc()
	employee := currentEmployee(tCtx)

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	current, err := b.sessions.Get(ctx, employee.ID)
	switch {
	case err == nil:
		return b.resendVerdictPrompt(ctx, tCtx, employee.ID, current.TicketID)
	case !errors.Is(err, session.ErrNoSession):
		return b.replyError(tCtx, "pool", err)
	}

	tickets, err := b.reviews.ReviewPool(ctx, employee, b.opts.PoolSize)
	if err != nil {
		return b.replyError(tCtx, "pool", err)
	}
	if len(tickets) == 0 {
		b.metrics.SentMessages.WithLabelValues("text").Inc()
		return tCtx.Send(b.t(tCtx, "pool.empty"))
	}

	lang := b.lang(tCtx)
	lines := []string{b.tWithData(tCtx, "pool.header", map[string]any{"count": len(tickets)})}
	menu := &telebot.ReplyMarkup{}
	var (
		rows []telebot.Row
		row  []telebot.Btn
	)
	for idx, ticket := range tickets {
		lines = append(lines, b.localizer.GetWithData(lang, "my.entry", map[string]any{
			"client": ticket.ID,
			"status": statusLabel(b.localizer, lang, ticket.Status),
		}))
		id := strconv.FormatInt(ticket.ID, 10)
		row = append(row, menu.Data("🔎 "+id, btnClaim.Unique, id))
		if (idx+1)%poolButtonsPerRow == 0 || idx == len(tickets)-1 {
			rows = append(rows, menu.Row(row...))
			row = nil
		}
	}
	menu.Inline(rows...)

	b.metrics.SentMessages.WithLabelValues("text").Inc()
	return tCtx.Send(strings.Join(lines, "\n"), menu, telebot.ModeHTML)
}

// claimHandler takes a ticket for review from the checking group or the pool and sends the
// verdict buttons to the reviewer in private.
func (b *Bot) claimHandler(tCtx telebot.Context) error {
	b.metrics.CommandReceived.WithLabelValues("claim").Inc()
	employee := currentEmployee(tCtx)

	clientID, err := parseClientID(tCtx.Data())
	if err != nil {
		return b.replyError(tCtx, "claim", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	ticket, err := b.reviews.Claim(ctx, employee, clientID)
	if err != nil {
		return b.replyError(tCtx, "claim", err)
	}

	if tCtx.Chat() != nil && tCtx.Chat().ID == b.opts.CheckingGroup && tCtx.Message() != nil {
		taken := tCtx.Message().Text + "\n\n" + b.localizer.GetWithData(
			b.lang(tCtx), "review.taken_by", map[string]any{"name": employee.FullName},
		)
		b.metrics.SentMessages.WithLabelValues("edit").Inc()
		if err = tCtx.Edit(taken); err != nil {
			b.log.Warn("Failed to mark group message as taken", "client", clientID, "error", err)
		}
	}

	if err = b.sendVerdictPrompt(ctx, tCtx, employee.ID, ticket.ID, ticket.Status); err != nil {
		b.log.Warn("Failed to send verdict buttons", "reviewer", employee.ID, "client", clientID, "error", err)
		return tCtx.Respond(&telebot.CallbackResponse{Text: b.t(tCtx, "review.dm_failed"), ShowAlert: true})
	}

	return tCtx.Respond(&telebot.CallbackResponse{Text: b.t(tCtx, "review.claimed_short")})
}

// sendVerdictPrompt sends the reviewer the client card with approve and reject buttons.
func (b *Bot) sendVerdictPrompt(
	ctx context.Context,
	tCtx telebot.Context,
	reviewerID, clientID int64,
	status models.Status,
) error {
	text := b.tWithData(tCtx, "review.claimed", map[string]any{
		"client": clientID,
		"name":   html.EscapeString(b.clientName(ctx, clientID)),
		"status": statusLabel(b.localizer, b.lang(tCtx), status),
		"link":   b.clientLine(clientID),
	})

	b.metrics.SentMessages.WithLabelValues("text").Inc()
	_, err := b.bot.Send(telebot.ChatID(reviewerID), text, b.verdictMarkup(tCtx, clientID), telebot.ModeHTML)
	return err
}

// resendVerdictPrompt repeats the verdict buttons of the review in progress.
func (b *Bot) resendVerdictPrompt(ctx context.Context, tCtx telebot.Context, reviewerID, clientID int64) error {
	status := models.StatusInReview
	if entries, err := b.reviews.History(ctx, clientID); err == nil && len(entries) > 0 {
		status = entries[len(entries)-1].Status
	}
	if err := b.sendVerdictPrompt(ctx, tCtx, reviewerID, clientID, status); err != nil {
		return b.replyError(tCtx, "pool", err)
	}
	return nil
}

func (b *Bot) verdictMarkup(tCtx telebot.Context, clientID int64) *telebot.ReplyMarkup {
	id := strconv.FormatInt(clientID, 10)
	menu := &telebot.ReplyMarkup{}
	menu.Inline(menu.Row(
		menu.Data(b.t(tCtx, "button.approve"), btnChooseApprove.Unique, id),
		menu.Data(b.t(tCtx, "button.reject"), btnChooseReject.Unique, id),
	))
	return menu
}

// chooseHandler records the verdict and asks for the comment.
func (b *Bot) chooseHandler(tCtx telebot.Context) error {
	b.metrics.CommandReceived.WithLabelValues("choose").Inc()

	clientID, err := parseClientID(tCtx.Data())
	if err != nil {
		return b.replyError(tCtx, "choose", err)
	}

	decision := session.DecisionApprove
	if tCtx.Callback().Unique == btnChooseReject.Unique {
		decision = session.DecisionReject
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	if _, err = b.reviews.Choose(ctx, currentEmployee(tCtx), clientID, decision); err != nil {
		return b.replyError(tCtx, "choose", err)
	}

	menu := &telebot.ReplyMarkup{}
	menu.Inline(menu.Row(
		menu.Data(b.t(tCtx, "button.change_decision"), btnChangeDecision.Unique, strconv.FormatInt(clientID, 10)),
	))

	_ = tCtx.Respond()
	b.metrics.SentMessages.WithLabelValues("edit").Inc()
	return tCtx.Edit(b.tWithData(tCtx, "review.comment_prompt", map[string]any{
		"decision": b.t(tCtx, "decision."+string(decision)),
		"client":   clientID,
	}), menu, telebot.ModeHTML)
}

// changeDecisionHandler withdraws the verdict and shows the verdict buttons again.
func (b *Bot) changeDecisionHandler(tCtx telebot.Context) error {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	current, err := b.reviews.CancelDecision(ctx, currentEmployee(tCtx))
	if err != nil {
		return b.replyError(tCtx, "change_decision", err)
	}

	_ = tCtx.Respond()
	b.metrics.SentMessages.WithLabelValues("edit").Inc()
	return tCtx.Edit(b.t(tCtx, "review.decision_cancelled"), b.verdictMarkup(tCtx, current.TicketID))
}

// commentHandler commits a reviewer's verdict with the text as the comment.
func (b *Bot) commentHandler(tCtx telebot.Context) error {
	employee := currentEmployee(tCtx)
	if !employee.IsChecking {
		return tCtx.Send(b.t(tCtx, "common.use_buttons"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	current, err := b.sessions.Get(ctx, employee.ID)
	if err != nil {
		if errors.Is(err, session.ErrNoSession) {
			return tCtx.Send(b.t(tCtx, "common.use_buttons"))
		}
		return b.replyError(tCtx, "decide", err)
	}
	if !current.DecisionPending() {
		return tCtx.Send(b.t(tCtx, "common.use_buttons"))
	}

	b.metrics.CommandReceived.WithLabelValues("decide").Inc()
	ticket, err := b.reviews.Decide(ctx, employee, tCtx.Text())
	if err != nil {
		return b.replyError(tCtx, "decide", err)
	}

	b.metrics.SentMessages.WithLabelValues("text").Inc()
	return tCtx.Send(b.tWithData(tCtx, "review.done", map[string]any{
		"client": ticket.ID,
		"status": statusLabel(b.localizer, b.lang(tCtx), ticket.Status),
	}), telebot.ModeHTML)
}

// myClientsHandler lists the tickets of the employee's clients.
func (b *Bot) myClientsHandler(tCtx telebot.Context) error {
	b.metrics.CommandReceived.WithLabelValues("my_clients").Inc()

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	tickets, err := b.reviews.ExportOwn(ctx, currentEmployee(tCtx))
	if err != nil {
		return b.replyError(tCtx, "my_clients", err)
	}
	if len(tickets) == 0 {
		b.metrics.SentMessages.WithLabelValues("text").Inc()
		return tCtx.Send(b.t(tCtx, "my.empty"))
	}

	lang := b.lang(tCtx)
	lines := []string{b.t(tCtx, "my.header")}
	for _, ticket := range tickets {
		lines = append(lines, b.localizer.GetWithData(lang, "my.entry", map[string]any{
			"client": ticket.ID,
			"status": statusLabel(b.localizer, lang, ticket.Status),
		}))
	}
	return b.sendChunked(tCtx, strings.Join(lines, "\n"))
}

// appealsHandler offers the rejections the employee can still contest.
func (b *Bot) appealsHandler(tCtx telebot.Context) error {
	b.metrics.CommandReceived.WithLabelValues("appeals").Inc()

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	candidates, err := b.reviews.AppealCandidates(ctx, currentEmployee(tCtx))
	if err != nil {
		return b.replyError(tCtx, "appeals", err)
	}
	if len(candidates) == 0 {
		b.metrics.SentMessages.WithLabelValues("text").Inc()
		return tCtx.Send(b.t(tCtx, "appeals.empty"))
	}

	lang := b.lang(tCtx)
	lines := []string{b.t(tCtx, "appeals.header")}
	menu := &telebot.ReplyMarkup{}
	rows := make([]telebot.Row, 0, len(candidates))
	for _, candidate := range candidates {
		id := strconv.FormatInt(candidate.Ticket.ID, 10)
		lines = append(lines, b.localizer.GetWithData(lang, "my.entry", map[string]any{
			"client": candidate.Ticket.ID,
			"status": statusLabel(b.localizer, lang, candidate.Ticket.Status),
		}))
		btn := escalationButton(menu, b.localizer.Get(lang, "button."+candidate.Next.String())+" "+id, candidate.Next, id)
		rows = append(rows, menu.Row(btn))
	}
	menu.Inline(rows...)

	b.metrics.SentMessages.WithLabelValues("text").Inc()
	return tCtx.Send(strings.Join(lines, "\n"), menu, telebot.ModeHTML)
}

func escalationButton(menu *telebot.ReplyMarkup, label string, action workflow.Action, id string) telebot.Btn {
	if action == workflow.ActionCassation {
		return menu.Data(label, btnCassation.Unique, id)
	}
	return menu.Data(label, btnAppeal.Unique, id)
}

// escalateHandler asks the owner why the rejection is wrong.
func (b *Bot) escalateHandler(tCtx telebot.Context) error {
	clientID, err := parseClientID(tCtx.Data())
	if err != nil {
		return b.replyError(tCtx, "escalate", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	err = b.stateManager.Set(ctx, tCtx.Sender().ID, UserState{
		WaitingFor: stateAwaitingAppealComment,
		ClientID:   clientID,
		Action:     tCtx.Callback().Unique,
	})
	if err != nil {
		return b.replyError(tCtx, "escalate", err)
	}

	_ = tCtx.Respond()
	b.metrics.SentMessages.WithLabelValues("text").Inc()
	return tCtx.Send(b.tWithData(tCtx, "appeal.prompt", map[string]any{"client": clientID}), telebot.ModeHTML)
}

// escalationCommentHandler files the appeal or cassation with the text as its reason.
func (b *Bot) escalationCommentHandler(state UserState) telebot.HandlerFunc {
	return func(tCtx telebot.Context) error {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		b.clearState(ctx, tCtx.Sender().ID)

		employee := currentEmployee(tCtx)
		var (
			ticket models.Ticket
			err    error
		)
		if state.Action == btnCassation.Unique {
			b.metrics.CommandReceived.WithLabelValues("cassation").Inc()
			ticket, err = b.reviews.Cassation(ctx, employee, state.ClientID, tCtx.Text())
		} else {
			b.metrics.CommandReceived.WithLabelValues("appeal").Inc()
			ticket, err = b.reviews.Appeal(ctx, employee, state.ClientID, tCtx.Text())
		}
		if err != nil {
			return b.replyError(tCtx, state.Action, err)
		}

		b.metrics.SentMessages.WithLabelValues("text").Inc()
		return tCtx.Send(b.tWithData(tCtx, "appeal.done", map[string]any{
			"client": ticket.ID,
			"status": statusLabel(b.localizer, b.lang(tCtx), ticket.Status),
		}), telebot.ModeHTML)
	}
}

// historyHandler prints the audit log of a client.
func (b *Bot) historyHandler(tCtx telebot.Context) error {
	b.metrics.CommandReceived.WithLabelValues("history").Inc()

	args := tCtx.Args()
	if len(args) != 1 {
		return tCtx.Send(b.t(tCtx, "history.usage"), telebot.ModeHTML)
	}
	clientID, err := parseClientID(args[0])
	if err != nil {
		return tCtx.Send(b.t(tCtx, "history.usage"), telebot.ModeHTML)
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	entries, err := b.reviews.History(ctx, clientID)
	if err != nil {
		return b.replyError(tCtx, "history", err)
	}

	lang := b.lang(tCtx)
	names := make(map[int64]string)
	blocks := []string{b.tWithData(tCtx, "history.header", map[string]any{"client": clientID})}
	for _, entry := range entries {
		comment := ""
		if entry.Comment != nil {
			comment = html.EscapeString(*entry.Comment)
		}
		blocks = append(blocks, strings.TrimSpace(b.localizer.GetWithData(lang, "history.entry", map[string]any{
			"time":    entry.CreatedAt.Format("02.01.2006 15:04"),
			"status":  statusLabel(b.localizer, lang, entry.Status),
			"sender":  html.EscapeString(b.senderName(ctx, names, entry.SenderID)),
			"comment": comment,
		})))
	}

	return b.sendChunked(tCtx, strings.Join(blocks, "\n\n"))
}

// senderName resolves a Telegram id to the employee name, remembering answers in names.
func (b *Bot) senderName(ctx context.Context, names map[int64]string, telegramID int64) string {
	if name, ok := names[telegramID]; ok {
		return name
	}
	name := strconv.FormatInt(telegramID, 10)
	if employee, err := b.employees.GetEmployee(ctx, telegramID); err == nil {
		name = employee.FullName
	}
	names[telegramID] = name
	return name
}

// clientName returns the directory name of a client, or "" when it cannot be read.
func (b *Bot) clientName(ctx context.Context, clientID int64) string {
	name, err := b.directory.ClientName(ctx, clientID)
	if err != nil {
		b.log.WarnContext(ctx, "Failed to get client name", "client", clientID, "error", err)
		return ""
	}
	return name
}

// sendChunked sends text in pieces Telegram accepts.
func (b *Bot) sendChunked(tCtx telebot.Context, text string) error {
	for _, chunk := range chunkText(text, maxMessageLength) {
		b.metrics.SentMessages.WithLabelValues("text").Inc()
		if err := tCtx.Send(chunk, telebot.ModeHTML); err != nil {
			return err
		}
	}
	return nil
}
