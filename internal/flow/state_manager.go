// Package flow provides concrete implementations of state management.
package flow

import (
	"context"
	"log/slog"
	"time"

	"github.com/BTreeMap/OrderPipe/internal/models"
	"github.com/BTreeMap/OrderPipe/internal/store"
)

// StoreBasedStateManager implements StateManager using a Store backend.
type StoreBasedStateManager struct {
	store store.Store
}

// NewStoreBasedStateManager creates a new StateManager backed by a Store.
func NewStoreBasedStateManager(st store.Store) *StoreBasedStateManager {
	slog.Debug("Creating StoreBasedStateManager")
	return &StoreBasedStateManager{store: st}
}

// GetConversation retrieves the current conversation for a user.
func (sm *StoreBasedStateManager) GetConversation(ctx context.Context, userID string) (*models.Conversation, error) {
	slog.Debug("StateManager GetConversation", "userID", userID)

	conv, err := sm.store.GetConversation(userID)
	if err != nil {
		slog.Error("StateManager GetConversation error", "error", err, "userID", userID)
		return nil, err
	}

	if conv == nil {
		slog.Debug("StateManager GetConversation not found", "userID", userID)
		return nil, nil
	}
	if conv.Data == nil {
		conv.Data = make(map[models.DataKey]string)
	}

	slog.Debug("StateManager GetConversation found", "userID", userID, "step", conv.Step)
	return conv, nil
}

// SaveConversation stores the conversation and stamps its update time.
func (sm *StoreBasedStateManager) SaveConversation(ctx context.Context, conv *models.Conversation) error {
	slog.Debug("StateManager SaveConversation", "userID", conv.UserID, "step", conv.Step)

	now := time.Now()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = now
	}
	conv.UpdatedAt = now

	if err := sm.store.SaveConversation(*conv); err != nil {
		slog.Error("StateManager SaveConversation error", "error", err, "userID", conv.UserID, "step", conv.Step)
		return err
	}

	slog.Debug("StateManager SaveConversation succeeded", "userID", conv.UserID, "step", conv.Step)
	return nil
}

// ResetConversation removes all state for a user.
func (sm *StoreBasedStateManager) ResetConversation(ctx context.Context, userID string) error {
	slog.Debug("StateManager ResetConversation", "userID", userID)

	if err := sm.store.DeleteConversation(userID); err != nil {
		slog.Error("StateManager ResetConversation error", "error", err, "userID", userID)
		return err
	}

	slog.Info("StateManager ResetConversation succeeded", "userID", userID)
	return nil
}
