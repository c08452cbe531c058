package bot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/UnknownOlympus/themis/internal/models"
	"github.com/redis/go-redis/v9"
)

const (
	stateKeyPrefix = "themis:state:"
	stateTTL       = 24 * time.Hour
)

const (
	stateAwaitingFullName      = "awaiting_full_name"
	stateAwaitingCandidate     = "awaiting_candidate"
	stateAwaitingCluster       = "awaiting_cluster"
	stateAwaitingClientID      = "awaiting_client_id"
	stateAwaitingAppealComment = "awaiting_appeal_comment"
)

// UserState saves a context for next message from user.
type UserState struct {
	WaitingFor string                  `json:"waiting_for"`
	ClientID   int64                   `json:"client_id,omitempty"`
	Action     string                  `json:"action,omitempty"`
	Candidates []models.StaffCandidate `json:"candidates,omitempty"`
}

// StateManager keeps the conversation state of every user in redis, so a half-finished
// dialog survives a restart. Abandoned dialogs expire after a day.
type StateManager struct {
	client *redis.Client
}

// NewStateManager creates a StateManager on client.
func NewStateManager(client *redis.Client) *StateManager {
	return &StateManager{client: client}
}

func stateKey(userID int64) string {
	return stateKeyPrefix + strconv.FormatInt(userID, 10)
}

// Set sets the state for the user.
func (sm *StateManager) Set(ctx context.Context, userID int64, state UserState) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}
	if err = sm.client.Set(ctx, stateKey(userID), payload, stateTTL).Err(); err != nil {
		return fmt.Errorf("failed to save state: %w", err)
	}
	return nil
}

// Get returns the state of the user and whether there is one.
func (sm *StateManager) Get(ctx context.Context, userID int64) (UserState, bool, error) {
	payload, err := sm.client.Get(ctx, stateKey(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return UserState{}, false, nil
		}
		return UserState{}, false, fmt.Errorf("failed to load state: %w", err)
	}

	var state UserState
	if err = json.Unmarshal(payload, &state); err != nil {
		return UserState{}, false, fmt.Errorf("failed to decode state: %w", err)
	}
	return state, true, nil
}

// Clear forgets the state of the user.
func (sm *StateManager) Clear(ctx context.Context, userID int64) error {
	if err := sm.client.Del(ctx, stateKey(userID)).Err(); err != nil {
		return fmt.Errorf("failed to clear state: %w", err)
	}
	return nil
}
