// Package orders follows placed orders: the one on screen, the history per
// phone, and the rooms to rejoin after a restart.
package orders

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/tableside/pkg/enums/orderstatus"
	"github.com/appetiteclub/tableside/services/tableside/internal/backend"
	"github.com/appetiteclub/tableside/services/tableside/internal/durable"
)

var (
	// ErrStale is returned when another order took focus while a status
	// fetch was in flight.
	ErrStale        = errors.New("order is no longer in focus")
	ErrMissingOrder = errors.New("order id is required")
)

// Reader fetches orders from the backend.
type Reader interface {
	GetOrder(ctx context.Context, orderID string) (*backend.Order, error)
	OrderHistory(ctx context.Context, restaurantID, phone string) ([]backend.Order, error)
}

type Rooms interface {
	JoinOrder(orderID string) error
}

type Tracker struct {
	reader Reader
	rooms  Rooms
	store  durable.Store
	logger apt.Logger

	mu      sync.Mutex
	focused string
	gen     uint64
	current *backend.Order
}

func NewTracker(reader Reader, rooms Rooms, store durable.Store, logger apt.Logger) *Tracker {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	return &Tracker{reader: reader, rooms: rooms, store: store, logger: logger}
}

// Status focuses orderID and fetches it. The result is applied only if no
// other order took focus in the meantime.
func (t *Tracker) Status(ctx context.Context, orderID string) (backend.Order, error) {
	if orderID == "" {
		return backend.Order{}, ErrMissingOrder
	}

	t.mu.Lock()
	t.gen++
	gen := t.gen
	if t.focused != orderID {
		t.current = nil
	}
	t.focused = orderID
	t.mu.Unlock()

	t.join(orderID)

	order, err := t.reader.GetOrder(ctx, orderID)
	if err != nil {
		return backend.Order{}, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.focused != orderID {
		t.logger.Debug("discarding stale order status", "order_id", orderID)
		return backend.Order{}, ErrStale
	}
	// A newer fetch of the same order owns current.
	if t.gen == gen {
		t.current = order
	}
	return *order, nil
}

// Current returns the last applied status of the focused order.
func (t *Tracker) Current() (backend.Order, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil {
		return backend.Order{}, false
	}
	return *t.current, true
}

// Phone returns the phone remembered for restaurantID.
func (t *Tracker) Phone(restaurantID string) string {
	if restaurantID == "" {
		return ""
	}
	return durable.Lookup(t.store, durable.CustomerPhoneKey(restaurantID))
}

// History lists the orders placed with the remembered phone. Without a
// phone there is nothing to look up.
func (t *Tracker) History(ctx context.Context, restaurantID string) ([]backend.Order, error) {
	phone := t.Phone(restaurantID)
	if phone == "" {
		return []backend.Order{}, nil
	}
	orders, err := t.reader.OrderHistory(ctx, restaurantID, phone)
	if err != nil {
		return nil, err
	}
	if orders == nil {
		orders = []backend.Order{}
	}
	return orders, nil
}

// Restore joins the rooms of every open order placed from this device. It
// returns the number of rooms joined; failures are logged per restaurant.
func (t *Tracker) Restore(ctx context.Context) int {
	if t.store == nil {
		return 0
	}
	keys, err := t.store.Keys(durable.CustomerPhonePrefix)
	if err != nil {
		t.logger.Error("cannot list remembered phones", "error", err.Error())
		return 0
	}

	joined := 0
	for _, key := range keys {
		restaurantID := strings.TrimPrefix(key, durable.CustomerPhonePrefix)
		orders, err := t.History(ctx, restaurantID)
		if err != nil {
			t.logger.Info("cannot restore order rooms", "restaurant_id", restaurantID, "error", err.Error())
			continue
		}
		for _, o := range orders {
			if o.ID == "" || orderstatus.IsFinal(o.Status) {
				continue
			}
			if t.join(o.ID) {
				joined++
			}
		}
	}
	if joined > 0 {
		t.logger.Infof("rejoined %d open order rooms", joined)
	}
	return joined
}

func (t *Tracker) join(orderID string) bool {
	if t.rooms == nil {
		return false
	}
	if err := t.rooms.JoinOrder(orderID); err != nil {
		t.logger.Error("cannot join order room", "order_id", orderID, "error", err.Error())
		return false
	}
	return true
}
