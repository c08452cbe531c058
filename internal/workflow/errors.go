package workflow

import (
	"errors"
	"fmt"

	"github.com/UnknownOlympus/themis/internal/models"
)

var (
	// ErrNotFound is returned when the ticket does not exist.
	ErrNotFound = errors.New("ticket not found")
	// ErrInvalidTransition is returned when the action is not legal in the current status.
	ErrInvalidTransition = errors.New("transition is not allowed in the current status")
	// ErrAlreadyClaimed is returned when the ticket or the reviewer is already busy with a review.
	ErrAlreadyClaimed = errors.New("review is already claimed")
	// ErrUnauthorized is returned when the actor is not an owner, reviewer or admin as required.
	ErrUnauthorized = errors.New("actor is not allowed to perform this action")
	// ErrStorage marks transactional failures. The transition was rolled back.
	ErrStorage = errors.New("storage failure")
	// ErrUpstreamRateLimited marks messaging endpoint backoff. Recovered inside the dispatcher.
	ErrUpstreamRateLimited = errors.New("messaging endpoint rate limited")
	// ErrDisabled is returned when an operator toggle switched the action off.
	ErrDisabled = errors.New("action is disabled by settings")
	// ErrLimitReached is returned when no appeal or cassation is left. It is an ErrInvalidTransition.
	ErrLimitReached = fmt.Errorf("%w: escalation limit", ErrInvalidTransition)
)

// StatusError is a business rejection that carries the ticket status to show the actor.
type StatusError struct {
	Kind    error
	Current models.Status
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%v (current status: %s)", e.Kind, e.Current)
}

func (e *StatusError) Unwrap() error {
	return e.Kind
}

// CurrentStatus extracts the status carried by err, if any.
func CurrentStatus(err error) (models.Status, bool) {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Current, true
	}
	return 0, false
}

func rejectIn(kind error, current models.Status) error {
	return &StatusError{Kind: kind, Current: current}
}

// IsBusinessOutcome reports whether err is an expected rejection that must not be logged as an error.
func IsBusinessOutcome(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrAlreadyClaimed) ||
		errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrDisabled)
}
