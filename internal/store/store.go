// Package store provides storage backends for OrderPipe.
//
// It holds per-user conversation state and a local ledger of confirmed
// orders, in memory or in SQLite/PostgreSQL.
package store

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/OrderPipe/internal/models"
	"github.com/patrickmn/go-cache"
)

// DefaultIdleTimeout is how long an untouched conversation is kept.
const DefaultIdleTimeout = 24 * time.Hour

// Store is the persistence interface used by the state manager and the order ledger.
type Store interface {
	SaveConversation(c models.Conversation) error
	// GetConversation returns nil, nil when the user has no conversation.
	GetConversation(userID string) (*models.Conversation, error)
	DeleteConversation(userID string) error
	// PurgeIdleConversations removes conversations last updated before the cutoff
	// and returns how many were removed.
	PurgeIdleConversations(before time.Time) (int, error)

	AddOrder(o models.Order) error
	// ListOrders returns the user's orders in insertion order.
	ListOrders(userID string) ([]models.Order, error)

	Close() error
}

// Opts holds configuration for store backends.
type Opts struct {
	DSN         string
	IdleTimeout time.Duration
}

// Option configures a store backend.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithIdleTimeout sets how long an untouched conversation is kept by the in-memory store.
func WithIdleTimeout(d time.Duration) Option {
	return func(o *Opts) { o.IdleTimeout = d }
}

// InMemoryStore keeps conversations in a TTL cache and orders in a map.
// Each save refreshes the conversation's expiry.
type InMemoryStore struct {
	conversations *cache.Cache

	mu     sync.RWMutex
	orders map[string][]models.Order
}

// NewInMemoryStore creates an in-memory store.
func NewInMemoryStore(opts ...Option) *InMemoryStore {
	cfg := Opts{IdleTimeout: DefaultIdleTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}

	cleanup := cfg.IdleTimeout / 2
	if cleanup > 10*time.Minute {
		cleanup = 10 * time.Minute
	}
	c := cache.New(cfg.IdleTimeout, cleanup)
	c.OnEvicted(func(userID string, _ interface{}) {
		slog.Debug("InMemoryStore conversation evicted", "userID", userID)
	})

	slog.Debug("InMemoryStore created", "idle_timeout", cfg.IdleTimeout)
	return &InMemoryStore{
		conversations: c,
		orders:        make(map[string][]models.Order),
	}
}

// SaveConversation stores a copy of c.
func (s *InMemoryStore) SaveConversation(c models.Conversation) error {
	if c.UserID == "" {
		return fmt.Errorf("failed to save conversation: %w", models.ErrEmptyUserID)
	}
	s.conversations.Set(c.UserID, *c.Clone(), cache.DefaultExpiration)
	slog.Debug("InMemoryStore SaveConversation succeeded", "userID", c.UserID, "step", c.Step)
	return nil
}

// GetConversation returns a copy of the stored conversation.
func (s *InMemoryStore) GetConversation(userID string) (*models.Conversation, error) {
	v, ok := s.conversations.Get(userID)
	if !ok {
		return nil, nil
	}
	c, ok := v.(models.Conversation)
	if !ok {
		return nil, fmt.Errorf("unexpected cache entry type %T for %s", v, userID)
	}
	return c.Clone(), nil
}

func (s *InMemoryStore) DeleteConversation(userID string) error {
	s.conversations.Delete(userID)
	slog.Debug("InMemoryStore DeleteConversation succeeded", "userID", userID)
	return nil
}

// PurgeIdleConversations removes conversations not updated since before. The
// cache also expires entries on its own; this covers explicit sweeps.
func (s *InMemoryStore) PurgeIdleConversations(before time.Time) (int, error) {
	purged := 0
	for userID, item := range s.conversations.Items() {
		c, ok := item.Object.(models.Conversation)
		if !ok || c.UpdatedAt.Before(before) {
			s.conversations.Delete(userID)
			purged++
		}
	}
	slog.Debug("InMemoryStore PurgeIdleConversations succeeded", "purged", purged)
	return purged, nil
}

func (s *InMemoryStore) AddOrder(o models.Order) error {
	if o.UserID == "" {
		return fmt.Errorf("failed to add order: %w", models.ErrEmptyUserID)
	}
	s.mu.Lock()
	s.orders[o.UserID] = append(s.orders[o.UserID], o)
	s.mu.Unlock()
	slog.Debug("InMemoryStore AddOrder succeeded", "userID", o.UserID, "event_date", o.EventDate)
	return nil
}

func (s *InMemoryStore) ListOrders(userID string) ([]models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Order, len(s.orders[userID]))
	copy(out, s.orders[userID])
	return out, nil
}

// Close drops all conversations.
func (s *InMemoryStore) Close() error {
	s.conversations.Flush()
	return nil
}

