package bot

import (
	"context"
	"errors"

	"github.com/UnknownOlympus/themis/internal/models"
	"github.com/UnknownOlympus/themis/internal/repository"
	"gopkg.in/telebot.v4"
)

const employeeKey = "employee"

// registered loads the sender's employee record and stores it in the context.
// Unregistered senders are told to run /start.
func (b *Bot) registered(next telebot.HandlerFunc) telebot.HandlerFunc {
	return func(tCtx telebot.Context) error {
		userID := tCtx.Sender().ID

		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		employee, err := b.employees.GetEmployee(ctx, userID)
		if err != nil {
			if errors.Is(err, repository.ErrEmployeeNotFound) {
				b.log.Info("Access denied, not registered", "username", tCtx.Sender().Username, "id", userID)
				return b.deny(tCtx, "error.not_registered")
			}
			b.log.Error("Failed to load employee", "id", userID, "error", err)
			return b.deny(tCtx, "error.internal")
		}

		tCtx.Set(employeeKey, employee)
		return next(tCtx)
	}
}

// reviewerOnly lets reviewers and admins through. It must run after registered.
func (b *Bot) reviewerOnly(next telebot.HandlerFunc) telebot.HandlerFunc {
	return func(tCtx telebot.Context) error {
		employee := currentEmployee(tCtx)
		if !employee.IsChecking && !employee.IsAdmin {
			b.log.Info("Access denied, not a reviewer", "id", employee.ID)
			return b.deny(tCtx, "error.unauthorized")
		}
		return next(tCtx)
	}
}

// adminOnly lets admins through. It must run after registered.
func (b *Bot) adminOnly(next telebot.HandlerFunc) telebot.HandlerFunc {
	return func(tCtx telebot.Context) error {
		employee := currentEmployee(tCtx)
		if !employee.IsAdmin {
			b.log.Info("Access denied, not an admin", "id", employee.ID)
			return b.deny(tCtx, "error.unauthorized")
		}
		return next(tCtx)
	}
}

// deny answers a callback with an alert or a message with text.
func (b *Bot) deny(tCtx telebot.Context, key string) error {
	b.metrics.SentMessages.WithLabelValues("error").Inc()
	if tCtx.Callback() != nil {
		return tCtx.Respond(&telebot.CallbackResponse{Text: b.t(tCtx, key), ShowAlert: true})
	}
	return tCtx.Send(b.t(tCtx, key))
}

// currentEmployee returns the employee stored by registered.
func currentEmployee(tCtx telebot.Context) models.Employee {
	employee, _ := tCtx.Get(employeeKey).(models.Employee)
	return employee
}
