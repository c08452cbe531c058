package bot

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"

	"github.com/UnknownOlympus/themis/internal/models"
	"github.com/UnknownOlympus/themis/internal/repository"
	"gopkg.in/telebot.v4"
)

// startHandler greets a registered employee with the menu, or starts registration.
func (b *Bot) startHandler(tCtx telebot.Context) error {
	b.metrics.CommandReceived.WithLabelValues("start").Inc()
	if !isPrivate(tCtx) {
		return nil
	}

	userID := tCtx.Sender().ID
	b.log.Info("User started the bot", "id", userID, "username", tCtx.Sender().Username)

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	employee, err := b.employees.GetEmployee(ctx, userID)
	switch {
	case err == nil:
		b.clearState(ctx, userID)
		b.metrics.SentMessages.WithLabelValues("text").Inc()
		return tCtx.Send(
			b.tWithData(tCtx, "welcome.registered", map[string]any{"name": html.EscapeString(employee.ShortName())}),
			b.menus.Build(b.lang(tCtx), employee),
			telebot.ModeHTML,
		)
	case errors.Is(err, repository.ErrEmployeeNotFound):
		if err = b.stateManager.Set(ctx, userID, UserState{WaitingFor: stateAwaitingFullName}); err != nil {
			return b.replyError(tCtx, "start", err)
		}
		b.metrics.SentMessages.WithLabelValues("text").Inc()
		return tCtx.Send(b.t(tCtx, "welcome.unregistered"), &telebot.ReplyMarkup{RemoveKeyboard: true})
	default:
		return b.replyError(tCtx, "start", err)
	}
}

// helpHandler lists what the employee can do.
func (b *Bot) helpHandler(tCtx telebot.Context) error {
	b.metrics.CommandReceived.WithLabelValues("help").Inc()
	employee := currentEmployee(tCtx)

	var parts []string
	if isSubmitter(employee) {
		parts = append(parts, b.t(tCtx, "help.submitter"))
	}
	if isReviewer(employee) {
		parts = append(parts, b.t(tCtx, "help.reviewer"))
	}
	if employee.IsAdmin {
		parts = append(parts, b.t(tCtx, "help.admin"))
	}

	b.metrics.SentMessages.WithLabelValues("text").Inc()
	return tCtx.Send(strings.Join(parts, "\n\n"), b.menus.Build(b.lang(tCtx), employee), telebot.ModeHTML)
}

// cancelHandler drops the dialog in progress.
func (b *Bot) cancelHandler(tCtx telebot.Context) error {
	b.metrics.CommandReceived.WithLabelValues("cancel").Inc()

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	_, ok, err := b.stateManager.Get(ctx, tCtx.Sender().ID)
	if err != nil {
		return b.replyError(tCtx, "cancel", err)
	}
	if !ok {
		return tCtx.Send(b.t(tCtx, "common.nothing_to_cancel"))
	}

	b.clearState(ctx, tCtx.Sender().ID)
	b.metrics.SentMessages.WithLabelValues("text").Inc()
	return tCtx.Send(b.t(tCtx, "common.cancelled"))
}

// routeTextHandler dispatches free text. A menu button always wins, then the dialog in
// progress, then a reviewer's pending comment.
func (b *Bot) routeTextHandler(tCtx telebot.Context) error {
	if !isPrivate(tCtx) {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	userID := tCtx.Sender().ID

	if action, ok := b.menus.Resolve(tCtx.Text()); ok {
		b.clearState(ctx, userID)
		return b.registered(b.menuHandler(action))(tCtx)
	}

	state, ok, err := b.stateManager.Get(ctx, userID)
	if err != nil {
		return b.replyError(tCtx, "route_text", err)
	}
	if ok {
		switch state.WaitingFor {
		case stateAwaitingFullName:
			return b.fullNameHandler(ctx, tCtx)
		case stateAwaitingClientID:
			return b.registered(b.clientIDHandler)(tCtx)
		case stateAwaitingAppealComment:
			return b.registered(b.escalationCommentHandler(state))(tCtx)
		case stateAwaitingCandidate, stateAwaitingCluster:
			return tCtx.Send(b.t(tCtx, "common.use_buttons"))
		}
	}

	return b.registered(b.commentHandler)(tCtx)
}

// menuHandler maps a menu action to its handler.
func (b *Bot) menuHandler(action MenuAction) telebot.HandlerFunc {
	switch action {
	case ActionSendClient:
		return b.sendClientHandler
	case ActionMyClients:
		return b.myClientsHandler
	case ActionAppeals:
		return b.appealsHandler
	case ActionReviewPool:
		return b.reviewerOnly(b.reviewPoolHandler)
	case ActionExport:
		return b.exportHandler
	default:
		return b.helpHandler
	}
}

// fullNameHandler looks the typed name up in the directory.
func (b *Bot) fullNameHandler(ctx context.Context, tCtx telebot.Context) error {
	b.metrics.CommandReceived.WithLabelValues("register").Inc()

	candidates, err := b.directory.SearchStaff(ctx, tCtx.Text())
	if err != nil {
		return b.replyError(tCtx, "search_staff", err)
	}

	switch len(candidates) {
	case 0:
		b.log.Info("No staff matches the name", "user", tCtx.Sender().ID)
		return tCtx.Send(b.t(tCtx, "register.not_found"))
	case 1:
		return b.pickCandidate(ctx, tCtx, candidates[0])
	}

	err = b.stateManager.Set(ctx, tCtx.Sender().ID, UserState{
		WaitingFor: stateAwaitingCandidate,
		Candidates: candidates,
	})
	if err != nil {
		return b.replyError(tCtx, "register", err)
	}

	menu := &telebot.ReplyMarkup{}
	rows := make([]telebot.Row, 0, len(candidates))
	for idx, candidate := range candidates {
		label := fmt.Sprintf("%s (%s)", candidate.FullName, candidate.RoleName)
		rows = append(rows, menu.Row(menu.Data(label, btnRegisterPick.Unique, strconv.Itoa(idx))))
	}
	menu.Inline(rows...)

	b.metrics.SentMessages.WithLabelValues("text").Inc()
	return tCtx.Send(b.t(tCtx, "register.pick_candidate"), menu)
}

// registerPickHandler takes the candidate chosen from the list.
func (b *Bot) registerPickHandler(tCtx telebot.Context) error {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	state, ok, err := b.stateManager.Get(ctx, tCtx.Sender().ID)
	if err != nil {
		return b.replyError(tCtx, "register_pick", err)
	}
	idx, convErr := strconv.Atoi(tCtx.Data())
	if !ok || state.WaitingFor != stateAwaitingCandidate || convErr != nil || idx < 0 || idx >= len(state.Candidates) {
		b.log.Warn("Stale registration callback", "user", tCtx.Sender().ID, "data", tCtx.Data())
		return tCtx.Respond(&telebot.CallbackResponse{Text: b.t(tCtx, "common.use_buttons")})
	}

	_ = tCtx.Respond()
	return b.pickCandidate(ctx, tCtx, state.Candidates[idx])
}

// pickCandidate registers admins at once and asks everybody else for their team.
func (b *Bot) pickCandidate(ctx context.Context, tCtx telebot.Context, candidate models.StaffCandidate) error {
	if b.directory.Roles().IsAdmin(candidate.RoleID) {
		return b.register(ctx, tCtx, candidate, nil)
	}

	clusters, err := b.employees.GetClusters(ctx)
	if err != nil {
		return b.replyError(tCtx, "get_clusters", err)
	}
	if len(clusters) == 0 {
		return b.register(ctx, tCtx, candidate, nil)
	}

	err = b.stateManager.Set(ctx, tCtx.Sender().ID, UserState{
		WaitingFor: stateAwaitingCluster,
		Candidates: []models.StaffCandidate{candidate},
	})
	if err != nil {
		return b.replyError(tCtx, "register", err)
	}

	menu := &telebot.ReplyMarkup{}
	rows := make([]telebot.Row, 0, len(clusters))
	for _, cluster := range clusters {
		rows = append(rows, menu.Row(menu.Data(cluster.Name, btnCluster.Unique, strconv.Itoa(cluster.ID))))
	}
	menu.Inline(rows...)

	b.metrics.SentMessages.WithLabelValues("text").Inc()
	return tCtx.Send(b.t(tCtx, "register.pick_cluster"), menu)
}

// clusterHandler finishes registration with the chosen team.
func (b *Bot) clusterHandler(tCtx telebot.Context) error {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	state, ok, err := b.stateManager.Get(ctx, tCtx.Sender().ID)
	if err != nil {
		return b.replyError(tCtx, "cluster", err)
	}
	clusterID, convErr := strconv.Atoi(tCtx.Data())
	if !ok || state.WaitingFor != stateAwaitingCluster || convErr != nil || len(state.Candidates) != 1 {
		b.log.Warn("Stale cluster callback", "user", tCtx.Sender().ID, "data", tCtx.Data())
		return tCtx.Respond(&telebot.CallbackResponse{Text: b.t(tCtx, "common.use_buttons")})
	}

	_ = tCtx.Respond()
	return b.register(ctx, tCtx, state.Candidates[0], &clusterID)
}

// register links the Telegram account to the directory account.
func (b *Bot) register(
	ctx context.Context,
	tCtx telebot.Context,
	candidate models.StaffCandidate,
	clusterID *int,
) error {
	userID := tCtx.Sender().ID
	err := b.employees.RegisterEmployee(ctx, models.Employee{
		ID:        userID,
		FullName:  candidate.FullName,
		KazarmaID: candidate.KazarmaID,
		RoleID:    candidate.RoleID,
		RoleName:  candidate.RoleName,
		ClusterID: clusterID,
		IsAdmin:   b.directory.Roles().IsAdmin(candidate.RoleID),
	})
	if err != nil {
		if errors.Is(err, repository.ErrEmployeeLinked) {
			b.log.Info("Directory account already linked", "user", userID, "kazarma_id", candidate.KazarmaID)
			b.clearState(ctx, userID)
			return tCtx.Send(b.t(tCtx, "register.linked"))
		}
		return b.replyError(tCtx, "register", err)
	}

	employee, err := b.employees.GetEmployee(ctx, userID)
	if err != nil {
		return b.replyError(tCtx, "register", err)
	}

	b.clearState(ctx, userID)
	b.metrics.NewUsers.Inc()
	b.log.Info("Employee registered", "user", userID, "kazarma_id", employee.KazarmaID, "role", employee.Role())

	b.metrics.SentMessages.WithLabelValues("text").Inc()
	return tCtx.Send(
		b.tWithData(tCtx, "register.done", map[string]any{
			"name": html.EscapeString(employee.FullName),
			"role": b.t(tCtx, "role."+string(employee.Role())),
		}),
		b.menus.Build(b.lang(tCtx), employee),
		telebot.ModeHTML,
	)
}

// clearState forgets the dialog of userID. A failure only leaves a stale dialog behind.
func (b *Bot) clearState(ctx context.Context, userID int64) {
	if err := b.stateManager.Clear(ctx, userID); err != nil {
		b.log.WarnContext(ctx, "Failed to clear user state", "user", userID, "error", err)
	}
}

func isPrivate(tCtx telebot.Context) bool {
	return tCtx.Chat() == nil || tCtx.Chat().Type == telebot.ChatPrivate
}
