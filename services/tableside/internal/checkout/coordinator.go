// Package checkout turns the cart into a single order submission.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/tableside/pkg/enums/payment"
	"github.com/appetiteclub/tableside/services/tableside/internal/backend"
	"github.com/appetiteclub/tableside/services/tableside/internal/cart"
	"github.com/appetiteclub/tableside/services/tableside/internal/durable"
	"github.com/appetiteclub/tableside/services/tableside/internal/realtime"
	"github.com/appetiteclub/tableside/services/tableside/internal/session"
)

const (
	OrderTypeDineIn = "dine-in"
	FailedMessage   = "Failed to place order"
)

var (
	ErrSubmissionInProgress = errors.New("an order is already being submitted")
	ErrEmptyCart            = errors.New("cart is empty")
	ErrNoRestaurant         = errors.New("restaurant is not identified")
	ErrRestaurantMismatch   = errors.New("cart belongs to another restaurant")
	ErrMissingName          = errors.New("customer name is required")
	ErrMissingPhone         = errors.New("phone number is required")
	ErrMissingTable         = errors.New("table is not identified, scan the QR code again")
	ErrMissingToken         = errors.New("table token is missing, scan the QR code again")
	ErrInvalidPayment       = errors.New("payment method must be mpesa, emola, visa or cash")
)

// SubmitError is a failed order creation. Message is what the customer sees.
type SubmitError struct {
	Message string
	Err     error
}

func (e *SubmitError) Error() string {
	return e.Message
}

func (e *SubmitError) Unwrap() error { return e.Err }

// OrderCreator posts new orders.
type OrderCreator interface {
	CreateOrder(ctx context.Context, req backend.OrderRequest) (*backend.Order, error)
}

// Rooms is the part of the realtime multiplexer used after an order is placed.
type Rooms interface {
	JoinOrder(orderID string) error
	PlayCue(cue realtime.Cue)
}

// SubmitRequest carries the checkout form. TableID and Token are the values
// found in the URL, if any; missing ones are resolved from storage.
type SubmitRequest struct {
	RestaurantID  string `json:"restaurant_id"`
	TableID       string `json:"table_id"`
	Token         string `json:"token"`
	CustomerName  string `json:"customer_name"`
	Phone         string `json:"phone"`
	PaymentMethod string `json:"payment_method"`
}

type Result struct {
	Order         backend.Order `json:"order"`
	JustSubmitted bool          `json:"just_submitted"`
	Redirect      string        `json:"redirect"`
}

// Customer is the contact info remembered per restaurant.
type Customer struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

type Coordinator struct {
	orders   OrderCreator
	sessions *session.Validator
	cart     *cart.Guard
	rooms    Rooms
	store    durable.Store
	logger   apt.Logger

	mu     sync.Mutex
	locked bool
	kept   bool
}

func NewCoordinator(orders OrderCreator, sessions *session.Validator, guard *cart.Guard, rooms Rooms, store durable.Store, logger apt.Logger) *Coordinator {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	return &Coordinator{
		orders:   orders,
		sessions: sessions,
		cart:     guard,
		rooms:    rooms,
		store:    store,
		logger:   logger,
	}
}

// Submit places the cart as one order. Only one submission runs at a time;
// after a success the lock stays held until Rearm.
func (c *Coordinator) Submit(ctx context.Context, req SubmitRequest) (Result, error) {
	if !c.acquire() {
		return Result{}, ErrSubmissionInProgress
	}

	res, err := c.submit(ctx, req)

	if err != nil {
		c.mu.Lock()
		c.locked = false
		c.mu.Unlock()
		return Result{}, err
	}
	return res, nil
}

// Rearm releases the lock held by a successful submission. A submission
// still in flight keeps its lock.
func (c *Coordinator) Rearm() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.kept {
		c.locked = false
		c.kept = false
	}
}

// Busy reports whether a submission holds the lock.
func (c *Coordinator) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.locked
}

// Prefill returns the customer details remembered for restaurantID.
func (c *Coordinator) Prefill(restaurantID string) Customer {
	if restaurantID == "" {
		return Customer{}
	}
	return Customer{
		Name:  durable.Lookup(c.store, durable.CustomerNameKey(restaurantID)),
		Phone: durable.Lookup(c.store, durable.CustomerPhoneKey(restaurantID)),
	}
}

func (c *Coordinator) acquire() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.locked {
		return false
	}
	c.locked = true
	return true
}

func (c *Coordinator) keep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.kept = true
}

func (c *Coordinator) submit(ctx context.Context, req SubmitRequest) (Result, error) {
	snap := c.cart.Snapshot()
	if snap.Empty() {
		return Result{}, ErrEmptyCart
	}

	restaurantID := req.RestaurantID
	if restaurantID == "" {
		restaurantID = snap.RestaurantID
	}
	if restaurantID == "" {
		return Result{}, ErrNoRestaurant
	}
	if snap.RestaurantID != "" && restaurantID != snap.RestaurantID {
		return Result{}, ErrRestaurantMismatch
	}

	name := strings.TrimSpace(req.CustomerName)
	if name == "" {
		return Result{}, ErrMissingName
	}
	phone := strings.TrimSpace(req.Phone)
	if phone == "" {
		return Result{}, ErrMissingPhone
	}

	ref := c.sessions.ResolveTableRef(restaurantID, req.TableID, req.Token)
	if ref.TableID == "" {
		return Result{}, ErrMissingTable
	}
	if ref.Token == "" {
		return Result{}, ErrMissingToken
	}

	method := req.PaymentMethod
	if method == "" {
		method = payment.Methods.Cash.Code()
	}
	if payment.ByName(method) == nil {
		return Result{}, ErrInvalidPayment
	}

	order, err := c.orders.CreateOrder(ctx, backend.OrderRequest{
		Restaurant:    restaurantID,
		Table:         ref.TableID,
		Token:         ref.Token,
		Items:         orderItems(snap.Lines),
		Total:         snap.Total,
		CustomerName:  name,
		Phone:         phone,
		PaymentMethod: method,
		OrderType:     OrderTypeDineIn,
	})
	if err != nil {
		c.logger.Error("order submission failed", "restaurant_id", restaurantID, "error", err.Error())
		return Result{}, &SubmitError{Message: backend.MessageOr(err, FailedMessage), Err: err}
	}

	c.logger.Info("order placed", "order_id", order.ID, "restaurant_id", restaurantID, "total", snap.Total)

	if c.rooms != nil {
		c.rooms.PlayCue(realtime.CueOrderConfirmed)
	}
	c.remember(restaurantID, name, phone)
	if c.rooms != nil && order.ID != "" {
		if err := c.rooms.JoinOrder(order.ID); err != nil {
			c.logger.Error("cannot join order room", "order_id", order.ID, "error", err.Error())
		}
	}
	// Kept before the cart empties so the next item can rearm.
	c.keep()
	c.cart.Clear()

	return Result{
		Order:         *order,
		JustSubmitted: true,
		Redirect:      fmt.Sprintf("/menu/%s/status/%s", restaurantID, order.ID),
	}, nil
}

func (c *Coordinator) remember(restaurantID, name, phone string) {
	if c.store == nil {
		return
	}
	if err := c.store.Put(durable.CustomerNameKey(restaurantID), name); err != nil {
		c.logger.Error("cannot remember customer name", "restaurant_id", restaurantID, "error", err.Error())
	}
	if err := c.store.Put(durable.CustomerPhoneKey(restaurantID), phone); err != nil {
		c.logger.Error("cannot remember customer phone", "restaurant_id", restaurantID, "error", err.Error())
	}
}

func orderItems(lines []cart.Line) []backend.OrderItem {
	items := make([]backend.OrderItem, 0, len(lines))
	for _, l := range lines {
		customs := make([]backend.Customization, 0, len(l.Customizations))
		for _, cu := range l.Customizations {
			customs = append(customs, backend.Customization{ID: cu.ID, Name: cu.Name, PriceModifier: cu.PriceModifier})
		}
		items = append(items, backend.OrderItem{
			Item:           l.ItemID,
			Qty:            l.Quantity,
			Customizations: customs,
			ItemPrice:      l.UnitPrice,
		})
	}
	return items
}
