// Package notify delivers outbound messages through Telegram. It waits out flood control,
// retries transient failures a bounded number of times and treats blocked or vanished
// recipients as permanent, so one bad recipient never stops a fan-out.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/UnknownOlympus/themis/internal/metrics"
	"github.com/UnknownOlympus/themis/internal/workflow"
	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"
	"gopkg.in/telebot.v4"
)

var (
	// ErrRecipientUnreachable is returned when the recipient blocked the bot or no longer exists.
	ErrRecipientUnreachable = errors.New("recipient is unreachable")
	// ErrDeliveryFailed is returned when every attempt failed with a transient error.
	ErrDeliveryFailed = errors.New("message delivery failed")
	// ErrMessageRejected is returned when Telegram refused the message content. It is not retried.
	ErrMessageRejected = errors.New("message rejected by telegram")
)

// Sender is the part of *telebot.Bot the dispatcher needs.
type Sender interface {
	Send(to telebot.Recipient, what any, opts ...any) (*telebot.Message, error)
}

// Config tunes retries and fan-out.
type Config struct {
	MaxAttempts  int           // total attempts per message, flood waits included
	InitialDelay time.Duration // first backoff for transient errors
	MaxDelay     time.Duration // backoff ceiling for transient errors
	Concurrency  int           // parallel sends in NotifyAll
	OperatorChat int64         // where exhausted deliveries are reported, 0 disables
}

// DefaultConfig returns production settings.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  5,                      //nolint:mnd // production value
		InitialDelay: 500 * time.Millisecond, //nolint:mnd // production value
		MaxDelay:     30 * time.Second,       //nolint:mnd // production value
		Concurrency:  4,                      //nolint:mnd // stays well below the per-bot rate limit
	}
}

// Dispatcher sends messages with retry semantics.
type Dispatcher struct {
	log     *slog.Logger
	sender  Sender
	metrics *metrics.Metrics
	cfg     Config
}

// NewDispatcher creates a Dispatcher. Zero config values fall back to DefaultConfig.
func NewDispatcher(log *slog.Logger, sender Sender, appMetrics *metrics.Metrics, cfg Config) *Dispatcher {
	def := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = def.InitialDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	return &Dispatcher{log: log, sender: sender, metrics: appMetrics, cfg: cfg}
}

// Notify sends one message to a chat. Flood control waits are honoured, other transient errors are
// retried with exponential backoff up to MaxAttempts. A permanent failure returns
// ErrRecipientUnreachable at once and a refused message returns ErrMessageRejected; exhausting the attempts returns ErrDeliveryFailed and is
// reported to the operator chat.
func (d *Dispatcher) Notify(ctx context.Context, recipient int64, text string, opts ...any) error {
	err := d.send(ctx, recipient, text, opts...)
	switch {
	case err == nil:
		d.metrics.Notifications.WithLabelValues("sent").Inc()
		return nil
	case errors.Is(err, ErrRecipientUnreachable):
		d.metrics.Notifications.WithLabelValues("unreachable").Inc()
		d.log.InfoContext(ctx, "Recipient is unreachable, skipping", "recipient", recipient, "error", err)
		return err
	case errors.Is(err, ErrMessageRejected):
		d.metrics.Notifications.WithLabelValues("rejected").Inc()
		d.log.ErrorContext(ctx, "Message rejected by telegram", "recipient", recipient, "error", err)
		return err
	default:
		d.metrics.Notifications.WithLabelValues("failed").Inc()
		d.log.ErrorContext(ctx, "Failed to deliver message", "recipient", recipient, "error", err)
		d.reportFailure(ctx, recipient, err)
		return fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
	}
}

func (d *Dispatcher) send(ctx context.Context, recipient int64, text string, opts ...any) error {
	policy := newFloodAware(d.cfg.InitialDelay, d.cfg.MaxDelay)
	retries := uint64(d.cfg.MaxAttempts - 1) //nolint:gosec // MaxAttempts is positive
	b := backoff.WithContext(backoff.WithMaxRetries(policy, retries), ctx)

	operation := func() error {
		_, err := d.sender.Send(telebot.ChatID(recipient), text, opts...)
		if err == nil {
			return nil
		}

		if retryAfter, ok := floodWait(err); ok {
			policy.floodFor(retryAfter)
			return fmt.Errorf("%w: retry after %s", workflow.ErrUpstreamRateLimited, retryAfter)
		}
		if isPermanent(err) {
			return backoff.Permanent(fmt.Errorf("%w: %w", ErrRecipientUnreachable, err))
		}
		if isBadRequest(err) {
			return backoff.Permanent(fmt.Errorf("%w: %w", ErrMessageRejected, err))
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		d.metrics.Notifications.WithLabelValues("retried").Inc()
		d.log.WarnContext(ctx, "Retrying message delivery", "recipient", recipient, "wait", wait, "error", err)
	}

	return backoff.RetryNotify(operation, b, notify)
}

func (d *Dispatcher) reportFailure(ctx context.Context, recipient int64, cause error) {
	if d.cfg.OperatorChat == 0 || d.cfg.OperatorChat == recipient {
		return
	}

	text := fmt.Sprintf("⚠️ Delivery to %d failed after %d attempts: %v", recipient, d.cfg.MaxAttempts, cause)
	if _, err := d.sender.Send(telebot.ChatID(d.cfg.OperatorChat), text); err != nil {
		d.log.WarnContext(ctx, "Failed to report delivery failure to operator", "error", err)
	}
}

// Report summarises a fan-out.
type Report struct {
	Delivered   []int64
	Unreachable []int64
	Failed      []int64
}

// NotifyAll sends the same message to every recipient concurrently. Failures are collected in the
// report and never stop delivery to the remaining recipients.
func (d *Dispatcher) NotifyAll(ctx context.Context, recipients []int64, text string, opts ...any) Report {
	var (
		report Report
		mu     sync.Mutex
		group  errgroup.Group
	)
	group.SetLimit(d.cfg.Concurrency)

	for _, recipient := range recipients {
		group.Go(func() error {
			err := d.Notify(ctx, recipient, text, opts...)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				report.Delivered = append(report.Delivered, recipient)
			case errors.Is(err, ErrRecipientUnreachable):
				report.Unreachable = append(report.Unreachable, recipient)
			default:
				report.Failed = append(report.Failed, recipient)
			}
			return nil
		})
	}
	_ = group.Wait()

	return report
}
