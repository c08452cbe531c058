// Package session tracks which ticket each reviewer is working on. A reviewer holds at most one
// review at a time, wherever the claim came from. State lives in redis so an in-progress review
// survives a restart of the bot.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrAlreadyActive is returned when the reviewer already holds a review.
	ErrAlreadyActive = errors.New("reviewer already has an active review")
	// ErrNoSession is returned when the reviewer holds no review.
	ErrNoSession = errors.New("no active review")
	// ErrTokenMismatch is returned when the session was replaced since the token was issued.
	ErrTokenMismatch = errors.New("review session token does not match")
)

// Decision is the reviewer's pending verdict, recorded before the comment is written.
type Decision string

const (
	DecisionNone    Decision = ""
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// Session is an in-progress review.
type Session struct {
	Token     string    `json:"token"`
	TicketID  int64     `json:"ticket_id"`
	Decision  Decision  `json:"decision"`
	ClaimedAt time.Time `json:"claimed_at"`
}

// DecisionPending reports whether the reviewer chose a verdict and still owes the comment.
func (s Session) DecisionPending() bool {
	return s.Decision != DecisionNone
}

const keyPrefix = "themis:review:"

// releaseScript deletes the session only if it still carries the caller's token.
var releaseScript = redis.NewScript(`
local raw = redis.call("GET", KEYS[1])
if not raw then
	return 0
end
local ok, session = pcall(cjson.decode, raw)
if ok and session["token"] == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return -1
`)

// Tracker is the redis-backed review session store.
type Tracker struct {
	client *redis.Client
}

// NewTracker creates a Tracker on the given redis client.
func NewTracker(client *redis.Client) *Tracker {
	return &Tracker{client: client}
}

func key(reviewerID int64) string {
	return keyPrefix + strconv.FormatInt(reviewerID, 10)
}

// TryClaim opens a session for the reviewer on ticketID. It fails with ErrAlreadyActive
// while another session is outstanding. Sessions never expire on their own.
func (t *Tracker) TryClaim(ctx context.Context, reviewerID, ticketID int64) (Session, error) {
	session := Session{
		Token:     uuid.NewString(),
		TicketID:  ticketID,
		ClaimedAt: time.Now().UTC(),
	}
	raw, err := json.Marshal(session)
	if err != nil {
		return Session{}, fmt.Errorf("failed to encode session: %w", err)
	}

	ok, err := t.client.SetNX(ctx, key(reviewerID), raw, 0).Result()
	if err != nil {
		return Session{}, fmt.Errorf("failed to open review session: %w", err)
	}
	if !ok {
		return Session{}, ErrAlreadyActive
	}

	return session, nil
}

// Get returns the reviewer's session.
func (t *Tracker) Get(ctx context.Context, reviewerID int64) (Session, error) {
	raw, err := t.client.Get(ctx, key(reviewerID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Session{}, ErrNoSession
		}
		return Session{}, fmt.Errorf("failed to read review session: %w", err)
	}

	var session Session
	if err = json.Unmarshal(raw, &session); err != nil {
		return Session{}, fmt.Errorf("failed to decode review session: %w", err)
	}

	return session, nil
}

// CurrentTicket returns the ticket under review, if any.
func (t *Tracker) CurrentTicket(ctx context.Context, reviewerID int64) (int64, bool, error) {
	session, err := t.Get(ctx, reviewerID)
	if err != nil {
		if errors.Is(err, ErrNoSession) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return session.TicketID, true, nil
}

// SetDecision records the verdict for the reviewer's open session. The token guards against
// writing into a session that was replaced after a reset.
func (t *Tracker) SetDecision(ctx context.Context, reviewerID int64, token string, decision Decision) (Session, error) {
	var updated Session
	err := t.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key(reviewerID)).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return ErrNoSession
			}
			return err
		}

		var session Session
		if err = json.Unmarshal(raw, &session); err != nil {
			return err
		}
		if session.Token != token {
			return ErrTokenMismatch
		}

		session.Decision = decision
		if raw, err = json.Marshal(session); err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key(reviewerID), raw, 0)
			return nil
		})
		updated = session
		return err
	}, key(reviewerID))
	if err != nil {
		if errors.Is(err, ErrNoSession) || errors.Is(err, ErrTokenMismatch) {
			return Session{}, err
		}
		return Session{}, fmt.Errorf("failed to record decision: %w", err)
	}

	return updated, nil
}

// Release closes the reviewer's session if it still carries token.
func (t *Tracker) Release(ctx context.Context, reviewerID int64, token string) error {
	res, err := releaseScript.Run(ctx, t.client, []string{key(reviewerID)}, token).Int()
	if err != nil {
		return fmt.Errorf("failed to release review session: %w", err)
	}

	switch res {
	case 0:
		return ErrNoSession
	case -1:
		return ErrTokenMismatch
	default:
		return nil
	}
}

// ForceRelease closes the reviewer's session regardless of its token.
func (t *Tracker) ForceRelease(ctx context.Context, reviewerID int64) error {
	if err := t.client.Del(ctx, key(reviewerID)).Err(); err != nil {
		return fmt.Errorf("failed to drop review session: %w", err)
	}
	return nil
}

// ResetAll drops every review session and returns how many were removed.
func (t *Tracker) ResetAll(ctx context.Context) (int, error) {
	const batch = 100
	var (
		cursor  uint64
		removed int
	)
	for {
		keys, next, err := t.client.Scan(ctx, cursor, keyPrefix+"*", batch).Result()
		if err != nil {
			return removed, fmt.Errorf("failed to scan review sessions: %w", err)
		}
		if len(keys) > 0 {
			n, errDel := t.client.Del(ctx, keys...).Result()
			if errDel != nil {
				return removed, fmt.Errorf("failed to drop review sessions: %w", errDel)
			}
			removed += int(n)
		}
		if next == 0 {
			return removed, nil
		}
		cursor = next
	}
}
