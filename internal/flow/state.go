// Package flow defines state management interfaces for the order conversation.
package flow

import (
	"context"

	"github.com/BTreeMap/OrderPipe/internal/models"
)

// StateManager defines the interface for managing per-user conversation state.
// It is injected into the Engine so that state can live in memory, SQLite or
// Postgres without the engine knowing.
type StateManager interface {
	// GetConversation retrieves the conversation for a user; nil when none exists.
	GetConversation(ctx context.Context, userID string) (*models.Conversation, error)

	// SaveConversation stores the conversation, replacing any previous version.
	SaveConversation(ctx context.Context, conv *models.Conversation) error

	// ResetConversation removes all state for a user.
	ResetConversation(ctx context.Context, userID string) error
}
