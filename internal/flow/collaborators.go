package flow

import (
	"context"
	"errors"
	"time"

	"github.com/BTreeMap/OrderPipe/internal/models"
)

// ErrOrderNotPersisted is returned by Engine.Advance when a confirmed order
// could not be written to the order repository. The reply still tells the
// customer; callers decide on any follow-up.
var ErrOrderNotPersisted = errors.New("order not persisted")

// OrderRepository is the system of record for confirmed orders.
type OrderRepository interface {
	// SaveOrder appends one order.
	SaveOrder(ctx context.Context, order models.Order) error

	// FutureOrders returns the user's orders with an event date on or after
	// today, sorted by event date ascending.
	FutureOrders(ctx context.Context, userID string, today time.Time) ([]models.Order, error)
}

// CalendarService books confirmed orders on the bakery calendar.
type CalendarService interface {
	CreateEvent(ctx context.Context, order models.Order) error
}

// MediaResolver stores an uploaded image and returns a durable reference.
type MediaResolver interface {
	Resolve(ctx context.Context, userID string, media models.Media) (string, error)
}
