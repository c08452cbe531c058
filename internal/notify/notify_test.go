package notify_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/UnknownOlympus/themis/internal/metrics"
	"github.com/UnknownOlympus/themis/internal/notify"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/telebot.v4"
)

// fakeSender replays scripted errors per chat and records every attempt.
type fakeSender struct {
	mu       sync.Mutex
	script   map[int64][]error
	attempts map[int64]int
	texts    map[int64][]string
}

func newFakeSender(script map[int64][]error) *fakeSender {
	return &fakeSender{script: script, attempts: map[int64]int{}, texts: map[int64][]string{}}
}

func (f *fakeSender) Send(to telebot.Recipient, what any, _ ...any) (*telebot.Message, error) {
	chatID, err := strconv.ParseInt(to.Recipient(), 10, 64)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts[chatID]++
	if errs := f.script[chatID]; len(errs) > 0 {
		next := errs[0]
		if len(errs) > 1 {
			f.script[chatID] = errs[1:]
		}
		if next != nil {
			return nil, next
		}
	}
	f.texts[chatID] = append(f.texts[chatID], what.(string))
	return &telebot.Message{}, nil
}

func (f *fakeSender) count(chatID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts[chatID]
}

func (f *fakeSender) received(chatID int64) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.texts[chatID]
}

func newDispatcher(sender notify.Sender, cfg notify.Config) (*notify.Dispatcher, *metrics.Metrics) {
	appMetrics := metrics.NewMetrics(prometheus.NewRegistry())
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return notify.NewDispatcher(log, sender, appMetrics, cfg), appMetrics
}

func fastConfig() notify.Config {
	return notify.Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestNotifyAll_PermanentFailureDoesNotStopOthers(t *testing.T) {
	t.Parallel()
	sender := newFakeSender(map[int64][]error{2: {telebot.ErrBlockedByUser}})
	dispatcher, appMetrics := newDispatcher(sender, fastConfig())

	report := dispatcher.NotifyAll(t.Context(), []int64{1, 2, 3}, "ticket rejected")

	assert.ElementsMatch(t, []int64{1, 3}, report.Delivered)
	assert.Equal(t, []int64{2}, report.Unreachable)
	assert.Empty(t, report.Failed)
	assert.Equal(t, []string{"ticket rejected"}, sender.received(1))
	assert.Equal(t, []string{"ticket rejected"}, sender.received(3))
	assert.Equal(t, 1, sender.count(2), "permanent failures are not retried")
	assert.InDelta(t, 2, testutil.ToFloat64(appMetrics.Notifications.WithLabelValues("sent")), 0)
}

func TestNotify(t *testing.T) {
	t.Parallel()
	ctx := t.Context()

	t.Run("success - waits out flood control", func(t *testing.T) {
		t.Parallel()
		flood := telebot.FloodError{RetryAfter: 0}
		sender := newFakeSender(map[int64][]error{10: {flood, flood, nil}})
		dispatcher, appMetrics := newDispatcher(sender, fastConfig())

		err := dispatcher.Notify(ctx, 10, "hello")

		require.NoError(t, err)
		assert.Equal(t, 3, sender.count(10))
		assert.InDelta(t, 2, testutil.ToFloat64(appMetrics.Notifications.WithLabelValues("retried")), 0)
	})

	t.Run("error - deactivated user", func(t *testing.T) {
		t.Parallel()
		sender := newFakeSender(map[int64][]error{10: {telebot.ErrUserIsDeactivated}})
		dispatcher, _ := newDispatcher(sender, fastConfig())

		err := dispatcher.Notify(ctx, 10, "hello")

		require.ErrorIs(t, err, notify.ErrRecipientUnreachable)
		require.ErrorIs(t, err, telebot.ErrUserIsDeactivated)
	})

	t.Run("error - chat not found", func(t *testing.T) {
		t.Parallel()
		sender := newFakeSender(map[int64][]error{10: {telebot.ErrChatNotFound}})
		dispatcher, _ := newDispatcher(sender, fastConfig())

		err := dispatcher.Notify(ctx, 10, "hello")

		require.ErrorIs(t, err, notify.ErrRecipientUnreachable)
	})

	t.Run("error - refused message is not retried", func(t *testing.T) {
		t.Parallel()
		cfg := fastConfig()
		cfg.OperatorChat = 99
		sender := newFakeSender(map[int64][]error{10: {telebot.ErrTooLongMessage}})
		dispatcher, appMetrics := newDispatcher(sender, cfg)

		err := dispatcher.Notify(ctx, 10, "hello")

		require.ErrorIs(t, err, notify.ErrMessageRejected)
		require.ErrorIs(t, err, telebot.ErrTooLongMessage)
		assert.Equal(t, 1, sender.count(10))
		assert.Empty(t, sender.received(99))
		assert.InDelta(t, 1, testutil.ToFloat64(appMetrics.Notifications.WithLabelValues("rejected")), 0)
		assert.InDelta(t, 0, testutil.ToFloat64(appMetrics.Notifications.WithLabelValues("failed")), 0)
	})

	t.Run("error - attempts exhausted are reported to the operator", func(t *testing.T) {
		t.Parallel()
		cfg := fastConfig()
		cfg.OperatorChat = 99
		sender := newFakeSender(map[int64][]error{10: {assert.AnError}})
		dispatcher, appMetrics := newDispatcher(sender, cfg)

		err := dispatcher.Notify(ctx, 10, "hello")

		require.ErrorIs(t, err, notify.ErrDeliveryFailed)
		require.ErrorIs(t, err, assert.AnError)
		assert.Equal(t, 3, sender.count(10))
		require.Len(t, sender.received(99), 1)
		assert.Contains(t, sender.received(99)[0], "Delivery to 10 failed after 3 attempts")
		assert.InDelta(t, 1, testutil.ToFloat64(appMetrics.Notifications.WithLabelValues("failed")), 0)
	})

	t.Run("error - endless flood control is capped", func(t *testing.T) {
		t.Parallel()
		sender := newFakeSender(map[int64][]error{10: {telebot.FloodError{RetryAfter: 0}}})
		dispatcher, _ := newDispatcher(sender, fastConfig())

		err := dispatcher.Notify(ctx, 10, "hello")

		require.ErrorIs(t, err, notify.ErrDeliveryFailed)
		assert.Equal(t, 3, sender.count(10))
	})

	t.Run("error - cancelled context stops retrying", func(t *testing.T) {
		t.Parallel()
		cfg := fastConfig()
		cfg.MaxAttempts = 100
		cfg.InitialDelay = time.Hour
		cfg.MaxDelay = time.Hour
		sender := newFakeSender(map[int64][]error{10: {assert.AnError}})
		dispatcher, _ := newDispatcher(sender, cfg)

		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		err := dispatcher.Notify(cancelled, 10, "hello")

		require.Error(t, err)
		assert.True(t, errors.Is(err, context.Canceled) || errors.Is(err, assert.AnError))
		assert.Equal(t, 1, sender.count(10))
	})
}
