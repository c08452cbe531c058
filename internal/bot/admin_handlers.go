package bot

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/UnknownOlympus/themis/internal/config"
	"github.com/UnknownOlympus/themis/internal/models"
	"github.com/UnknownOlympus/themis/internal/report"
	"github.com/UnknownOlympus/themis/internal/repository"
	"github.com/UnknownOlympus/themis/internal/session"
	"gopkg.in/telebot.v4"
)

const exportTimeout = 30 * time.Second

// setHandler shows the toggles, or switches one: /set send_client off.
func (b *Bot) setHandler(tCtx telebot.Context) error {
	b.metrics.CommandReceived.WithLabelValues("set").Inc()

	args := tCtx.Args()
	if len(args) == 0 {
		return b.showToggles(tCtx)
	}
	if len(args) != 2 { //nolint:mnd // name and value
		return tCtx.Send(b.t(tCtx, "admin.set.usage"))
	}

	var on bool
	switch strings.ToLower(args[1]) {
	case "on":
		on = true
	case "off":
		on = false
	default:
		return tCtx.Send(b.t(tCtx, "admin.set.usage"))
	}

	if err := b.settings.Set(args[0], on); err != nil {
		if errors.Is(err, config.ErrUnknownToggle) {
			return tCtx.Send(b.t(tCtx, "admin.set.usage"))
		}
		return b.replyError(tCtx, "set", err)
	}

	b.log.Info("Toggle switched", "admin", tCtx.Sender().ID, "name", args[0], "on", on)
	b.metrics.SentMessages.WithLabelValues("text").Inc()
	return tCtx.Send(b.tWithData(tCtx, "admin.set.done", map[string]any{"name": args[0], "value": onOff(on)}))
}

// showToggles lists every toggle with its state.
func (b *Bot) showToggles(tCtx telebot.Context) error {
	toggles := b.settings.Toggles()
	names := make([]string, 0, len(toggles))
	for name := range toggles {
		names = append(names, name)
	}
	slices.Sort(names)

	lines := make([]string, 0, len(names))
	for _, name := range names {
		lines = append(lines, fmt.Sprintf("%s: %s", name, onOff(toggles[name])))
	}

	b.metrics.SentMessages.WithLabelValues("text").Inc()
	return tCtx.Send(b.tWithData(tCtx, "admin.set.current", map[string]any{"toggles": strings.Join(lines, "\n")}))
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

// resetHandler asks the admin to confirm a reset of every ticket.
func (b *Bot) resetHandler(tCtx telebot.Context) error {
	b.metrics.CommandReceived.WithLabelValues("reset").Inc()

	menu := &telebot.ReplyMarkup{}
	menu.Inline(menu.Row(
		menu.Data(b.t(tCtx, "button.yes"), btnResetConfirm.Unique),
		menu.Data(b.t(tCtx, "button.no"), btnResetCancel.Unique),
	))

	b.metrics.SentMessages.WithLabelValues("text").Inc()
	return tCtx.Send(b.t(tCtx, "admin.reset.confirm"), menu)
}

// resetConfirmHandler resets every ticket and review session.
func (b *Bot) resetConfirmHandler(tCtx telebot.Context) error {
	ctx, cancel := context.WithTimeout(context.Background(), exportTimeout)
	defer cancel()

	result, err := b.reviews.Reset(ctx, currentEmployee(tCtx))
	if err != nil {
		return b.replyError(tCtx, "reset", err)
	}

	_ = tCtx.Respond()
	b.metrics.SentMessages.WithLabelValues("edit").Inc()
	return tCtx.Edit(b.tWithData(tCtx, "admin.reset.done", map[string]any{
		"tickets":  result.Tickets,
		"sessions": result.Sessions,
	}))
}

// resetCancelHandler drops the confirmation.
func (b *Bot) resetCancelHandler(tCtx telebot.Context) error {
	_ = tCtx.Respond()
	b.metrics.SentMessages.WithLabelValues("edit").Inc()
	return tCtx.Edit(b.t(tCtx, "common.cancelled"))
}

// roleHandler changes the role of a registered employee: /role 123456 reviewer.
func (b *Bot) roleHandler(tCtx telebot.Context) error {
	b.metrics.CommandReceived.WithLabelValues("role").Inc()

	args := tCtx.Args()
	if len(args) != 2 { //nolint:mnd // id and role
		return tCtx.Send(b.t(tCtx, "admin.role.usage"), telebot.ModeHTML)
	}
	telegramID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return tCtx.Send(b.t(tCtx, "admin.role.usage"), telebot.ModeHTML)
	}
	role := models.Role(strings.ToLower(args[1]))
	if !slices.Contains([]models.Role{models.RoleSubmitter, models.RoleReviewer, models.RoleAdmin}, role) {
		return tCtx.Send(b.t(tCtx, "admin.role.usage"), telebot.ModeHTML)
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	if err = b.employees.SetEmployeeRole(ctx, telegramID, role); err != nil {
		if errors.Is(err, repository.ErrEmployeeNotFound) {
			return tCtx.Send(b.t(tCtx, "admin.role.unknown_user"))
		}
		return b.replyError(tCtx, "role", err)
	}

	b.log.Info("Employee role changed", "admin", tCtx.Sender().ID, "user", telegramID, "role", role)
	b.metrics.SentMessages.WithLabelValues("text").Inc()
	return tCtx.Send(b.tWithData(tCtx, "admin.role.done", map[string]any{
		"user": telegramID,
		"role": b.t(tCtx, "role."+string(role)),
	}))
}

// releaseHandler frees a reviewer stuck on a ticket and puts the ticket back in the queue: /release 123456.
func (b *Bot) releaseHandler(tCtx telebot.Context) error {
	b.metrics.CommandReceived.WithLabelValues("release").Inc()

	args := tCtx.Args()
	if len(args) != 1 {
		return tCtx.Send(b.t(tCtx, "admin.release.usage"), telebot.ModeHTML)
	}
	reviewerID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return tCtx.Send(b.t(tCtx, "admin.release.usage"), telebot.ModeHTML)
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	released, err := b.reviews.ReleaseReviewer(ctx, currentEmployee(tCtx), reviewerID)
	if err != nil {
		if errors.Is(err, session.ErrNoSession) {
			return tCtx.Send(b.t(tCtx, "admin.release.none"))
		}
		return b.replyError(tCtx, "release", err)
	}

	status := "-"
	if released.Status.Valid() {
		status = statusLabel(b.localizer, b.lang(tCtx), released.Status)
	}

	b.metrics.SentMessages.WithLabelValues("text").Inc()
	return tCtx.Send(b.tWithData(tCtx, "admin.release.done", map[string]any{
		"user":   reviewerID,
		"client": released.ID,
		"status": status,
	}), telebot.ModeHTML)
}

// exportHandler sends the tickets as an Excel workbook: all of them to admins, their own
// clients to everybody else.
func (b *Bot) exportHandler(tCtx telebot.Context) error {
	b.metrics.CommandReceived.WithLabelValues("export").Inc()
	employee := currentEmployee(tCtx)

	ctx, cancel := context.WithTimeout(context.Background(), exportTimeout)
	defer cancel()

	scope := "own"
	var (
		tickets []models.Ticket
		err     error
	)
	if employee.IsAdmin {
		scope = "all"
		tickets, err = b.reviews.ExportAll(ctx, employee)
	} else {
		tickets, err = b.reviews.ExportOwn(ctx, employee)
	}
	if err != nil {
		return b.replyError(tCtx, "export", err)
	}

	startTime := time.Now()
	buffer, err := report.GenerateExcelReport(b.excelRows(ctx, b.lang(tCtx), tickets), b.reportLabels(tCtx))
	b.metrics.ReportGeneration.WithLabelValues(scope).Observe(time.Since(startTime).Seconds())
	if err != nil {
		if errors.Is(err, report.ErrNoRows) {
			b.metrics.SentMessages.WithLabelValues("text").Inc()
			return tCtx.Send(b.t(tCtx, "export.empty"))
		}
		return b.replyError(tCtx, "export", err)
	}

	now := time.Now()
	document := &telebot.Document{
		File:     telebot.FromReader(buffer),
		FileName: fmt.Sprintf("tickets_%s.xlsx", now.Format("2006-01-02")),
		MIME:     "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		Caption:  b.tWithData(tCtx, "export.caption", map[string]any{"date": now.Format("02.01.2006")}),
	}

	b.log.Info("Tickets exported", "user", employee.ID, "scope", scope, "tickets", len(tickets))
	b.metrics.SentMessages.WithLabelValues("document").Inc()
	return tCtx.Send(document)
}

func (b *Bot) reportLabels(tCtx telebot.Context) report.Labels {
	return report.Labels{
		Summary: b.t(tCtx, "export.sheet.summary"),
		Count:   b.t(tCtx, "export.sheet.count"),
		Total:   b.t(tCtx, "export.sheet.total"),
		Columns: [7]string{
			b.t(tCtx, "export.column.client_id"),
			b.t(tCtx, "export.column.client"),
			b.t(tCtx, "export.column.link"),
			b.t(tCtx, "export.column.status"),
			b.t(tCtx, "export.column.comment"),
			b.t(tCtx, "export.column.submitted"),
			b.t(tCtx, "export.column.updated"),
		},
	}
}

// excelRows turns tickets into report rows. A client the directory cannot name keeps an empty name.
func (b *Bot) excelRows(ctx context.Context, lang string, tickets []models.Ticket) []report.ExcelRow {
	rows := make([]report.ExcelRow, 0, len(tickets))
	for _, ticket := range tickets {
		comment := ""
		if ticket.Comment != nil {
			comment = *ticket.Comment
		}
		rows = append(rows, report.ExcelRow{
			ClientID:    ticket.ID,
			ClientName:  b.clientName(ctx, ticket.ID),
			Link:        b.opts.ClientLink(ticket.ID),
			Status:      statusLabel(b.localizer, lang, ticket.Status),
			Comment:     comment,
			SubmittedAt: ticket.CreatedAt,
			UpdatedAt:   ticket.UpdatedAt,
		})
	}
	return rows
}
