package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/OrderPipe/internal/models"
)

// LedgerRepository records confirmed orders in a Store. It serves as the
// order repository when no spreadsheet is configured.
type LedgerRepository struct {
	store Store
}

// NewLedgerRepository wraps st.
func NewLedgerRepository(st Store) *LedgerRepository {
	return &LedgerRepository{store: st}
}

// SaveOrder appends the order to the ledger.
func (r *LedgerRepository) SaveOrder(ctx context.Context, order models.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := r.store.AddOrder(order); err != nil {
		return fmt.Errorf("ledger: %w", err)
	}
	return nil
}

// FutureOrders returns the user's orders dated today or later, earliest first.
func (r *LedgerRepository) FutureOrders(ctx context.Context, userID string, today time.Time) ([]models.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	all, err := r.store.ListOrders(userID)
	if err != nil {
		return nil, fmt.Errorf("ledger: %w", err)
	}
	upcoming := models.UpcomingOrders(all, today)
	slog.Debug("LedgerRepository FutureOrders", "userID", userID, "total", len(all), "upcoming", len(upcoming))
	return upcoming, nil
}
