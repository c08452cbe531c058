package notify

import (
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"gopkg.in/telebot.v4"
)

// floodAware is an exponential backoff that yields to the wait Telegram asked for
// when the last failure was flood control.
type floodAware struct {
	*backoff.ExponentialBackOff
	flooded bool
	wait    time.Duration
}

func newFloodAware(initial, ceiling time.Duration) *floodAware {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = initial
	exp.MaxInterval = ceiling
	exp.MaxElapsedTime = 0
	return &floodAware{ExponentialBackOff: exp}
}

func (f *floodAware) floodFor(wait time.Duration) {
	f.flooded = true
	f.wait = wait
}

func (f *floodAware) NextBackOff() time.Duration {
	if f.flooded {
		f.flooded = false
		return f.wait
	}
	return f.ExponentialBackOff.NextBackOff()
}

func (f *floodAware) Reset() {
	f.flooded = false
	f.wait = 0
	f.ExponentialBackOff.Reset()
}

// floodWait extracts the retry-after of a flood control error.
func floodWait(err error) (time.Duration, bool) {
	var flood telebot.FloodError
	if errors.As(err, &flood) {
		return time.Duration(flood.RetryAfter) * time.Second, true
	}
	var floodPtr *telebot.FloodError
	if errors.As(err, &floodPtr) && floodPtr != nil {
		return time.Duration(floodPtr.RetryAfter) * time.Second, true
	}
	return 0, false
}

// isPermanent reports whether retrying cannot help: the bot was blocked, kicked or never started,
// or the chat is gone.
func isPermanent(err error) bool {
	if errors.Is(err, telebot.ErrChatNotFound) {
		return true
	}
	var apiErr *telebot.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == 401 || apiErr.Code == 403 //nolint:mnd // Unauthorized, Forbidden
	}
	return false
}

// isBadRequest reports whether Telegram refused the message itself, e.g. too long text or
// unparsable entities. Sending it again gives the same answer.
func isBadRequest(err error) bool {
	var apiErr *telebot.Error
	return errors.As(err, &apiErr) && apiErr.Code == 400 //nolint:mnd // Bad Request
}
