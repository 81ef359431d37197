package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/tableside/pkg/enums/orderstatus"
	"github.com/appetiteclub/tableside/pkg/event"
	"github.com/google/uuid"
)

// NotificationTTL is how long a notification stays active.
const NotificationTTL = 5 * time.Second

type EventKind string

const (
	KindNotification EventKind = "notification"
	KindCue          EventKind = "cue"
	KindConnectivity EventKind = "connectivity"
	KindInvalidate   EventKind = "invalidate"
)

// Scope identifies cached data that a server event invalidates.
type Scope string

const (
	ScopeMenu  Scope = "menu"
	ScopeTable Scope = "table"
)

type Cue string

const (
	CueStatusChange   Cue = "status-change"
	CueOrderConfirmed Cue = "order-confirmed"
)

type Notification struct {
	ID        string    `json:"id"`
	OrderID   string    `json:"order_id,omitempty"`
	Kind      string    `json:"kind"`
	Status    string    `json:"status,omitempty"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// Event is delivered to subscribers. A KindNotification event with a nil
// Notification means the active notification was dismissed.
type Event struct {
	Kind         EventKind     `json:"kind"`
	Notification *Notification `json:"notification,omitempty"`
	Cue          Cue           `json:"cue,omitempty"`
	Connected    bool          `json:"connected"`
	Scope        Scope         `json:"scope,omitempty"`
	ChangedAt    time.Time     `json:"changed_at,omitempty"`
}

// Join is a requested room membership.
type Join struct {
	Event string `json:"event"`
	ID    string `json:"id"`
}

var ErrAlreadyStarted = errors.New("multiplexer already started")

type Option func(*Multiplexer)

func WithLogger(logger apt.Logger) Option {
	return func(m *Multiplexer) {
		if logger != nil {
			m.logger = logger
		}
	}
}

func WithMessages(messages *orderstatus.Messages) Option {
	return func(m *Multiplexer) {
		if messages != nil {
			m.messages = messages
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Multiplexer) { m.now = now }
}

func WithNotificationTTL(d time.Duration) Option {
	return func(m *Multiplexer) { m.ttl = d }
}

// Multiplexer owns the realtime connection for the process.
type Multiplexer struct {
	transport Transport
	logger    apt.Logger
	messages  *orderstatus.Messages
	now       func() time.Time
	ttl       time.Duration

	// mu guards connection state and serialises join emission, so a replay
	// completes before any new join is sent.
	mu          sync.Mutex
	joins       []Join
	joined      map[Join]bool
	emitter     Emitter
	connected   bool
	lastStatus  map[string]string
	current     *Notification
	dismiss     *time.Timer
	lastChanged map[Scope]time.Time
	cancel      context.CancelFunc
	done        chan struct{}

	subMu       sync.RWMutex
	subscribers map[string]chan Event
}

func NewMultiplexer(transport Transport, opts ...Option) *Multiplexer {
	m := &Multiplexer{
		transport:   transport,
		logger:      apt.NewNoopLogger(),
		messages:    orderstatus.NewMessages(""),
		now:         time.Now,
		ttl:         NotificationTTL,
		joined:      make(map[Join]bool),
		lastStatus:  make(map[string]string),
		lastChanged: make(map[Scope]time.Time),
		subscribers: make(map[string]chan Event),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Start runs the transport in the background.
func (m *Multiplexer) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return ErrAlreadyStarted
	}
	runCtx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	done := m.done
	m.mu.Unlock()

	m.logger.Info("starting realtime multiplexer")

	go func() {
		defer close(done)
		if err := m.transport.Run(runCtx, handler{m}); err != nil && !errors.Is(err, context.Canceled) {
			m.logger.Error("realtime transport stopped", "error", err.Error())
		}
	}()
	return nil
}

// Stop closes the transport and every subscriber channel.
func (m *Multiplexer) Stop(ctx context.Context) error {
	m.logger.Info("stopping realtime multiplexer")

	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel = nil
	if m.dismiss != nil {
		m.dismiss.Stop()
	}
	m.mu.Unlock()

	var err error
	if cancel != nil {
		cancel()
		err = m.transport.Close()
		select {
		case <-done:
		case <-ctx.Done():
			err = ctx.Err()
		}
	}

	m.subMu.Lock()
	for id, ch := range m.subscribers {
		close(ch)
		delete(m.subscribers, id)
	}
	m.subMu.Unlock()

	return err
}

func (m *Multiplexer) JoinOrder(orderID string) error {
	return m.join(Join{Event: event.JoinOrder, ID: orderID})
}

func (m *Multiplexer) JoinTable(tableID string) error {
	return m.join(Join{Event: event.JoinTable, ID: tableID})
}

func (m *Multiplexer) JoinRestaurant(restaurantID string) error {
	return m.join(Join{Event: event.JoinRestaurant, ID: restaurantID})
}

// join records the request and emits it when connected. Requests made while
// disconnected are sent by the replay on the next connect.
func (m *Multiplexer) join(j Join) error {
	if j.ID == "" {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.joined[j] {
		return nil
	}
	m.joined[j] = true
	m.joins = append(m.joins, j)

	if !m.connected || m.emitter == nil {
		return nil
	}
	return m.emitter.Emit(j.Event, j.ID)
}

// Joins returns every requested membership in request order.
func (m *Multiplexer) Joins() []Join {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Join(nil), m.joins...)
}

func (m *Multiplexer) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// LastChanged returns the last invalidation time of scope.
func (m *Multiplexer) LastChanged(scope Scope) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastChanged[scope]
}

// Notification returns the active notification, if any.
func (m *Multiplexer) Notification() (Notification, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return Notification{}, false
	}
	return *m.current, true
}

// OnStatusChange turns an order status into a cue and the active
// notification. A repeat of the last status seen for the order is ignored.
func (m *Multiplexer) OnStatusChange(orderID, status string) (Notification, bool) {
	if orderID == "" || status == "" {
		return Notification{}, false
	}

	m.mu.Lock()
	if m.lastStatus[orderID] == status {
		m.mu.Unlock()
		return Notification{}, false
	}
	m.lastStatus[orderID] = status

	n := Notification{
		ID:        uuid.NewString(),
		OrderID:   orderID,
		Kind:      "order-status",
		Status:    status,
		Message:   m.messages.For(status),
		CreatedAt: m.now(),
	}
	m.showLocked(&n)
	m.mu.Unlock()

	m.logger.Info("order status changed", "order_id", orderID, "status", status)
	m.broadcast(Event{Kind: KindCue, Cue: CueStatusChange})
	m.broadcast(Event{Kind: KindNotification, Notification: &n})
	return n, true
}

// Notify shows a free-form notification, replacing the active one.
func (m *Multiplexer) Notify(kind, message string) Notification {
	n := Notification{
		ID:        uuid.NewString(),
		Kind:      kind,
		Message:   message,
		CreatedAt: m.now(),
	}
	m.mu.Lock()
	m.showLocked(&n)
	m.mu.Unlock()

	m.broadcast(Event{Kind: KindNotification, Notification: &n})
	return n
}

// Dismiss clears the active notification.
func (m *Multiplexer) Dismiss() {
	m.mu.Lock()
	if m.current == nil {
		m.mu.Unlock()
		return
	}
	m.current = nil
	if m.dismiss != nil {
		m.dismiss.Stop()
		m.dismiss = nil
	}
	m.mu.Unlock()

	m.broadcast(Event{Kind: KindNotification})
}

// PlayCue asks the presentation layer to play a sound.
func (m *Multiplexer) PlayCue(cue Cue) {
	m.broadcast(Event{Kind: KindCue, Cue: cue})
}

func (m *Multiplexer) showLocked(n *Notification) {
	m.current = n
	if m.dismiss != nil {
		m.dismiss.Stop()
	}
	id := n.ID
	m.dismiss = time.AfterFunc(m.ttl, func() { m.expire(id) })
}

func (m *Multiplexer) expire(id string) {
	m.mu.Lock()
	if m.current == nil || m.current.ID != id {
		m.mu.Unlock()
		return
	}
	m.current = nil
	m.dismiss = nil
	m.mu.Unlock()

	m.broadcast(Event{Kind: KindNotification})
}

// touch advances the last-changed time of scope. The value strictly
// increases even if the wall clock goes backwards.
func (m *Multiplexer) touch(scope Scope) {
	m.mu.Lock()
	t := m.now()
	if last := m.lastChanged[scope]; !t.After(last) {
		t = last.Add(time.Nanosecond)
	}
	m.lastChanged[scope] = t
	m.mu.Unlock()

	m.broadcast(Event{Kind: KindInvalidate, Scope: scope, ChangedAt: t})
}

// Subscribe adds a subscriber and returns its event channel.
func (m *Multiplexer) Subscribe(subscriberID string) <-chan Event {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	ch := make(chan Event, 100)
	m.subscribers[subscriberID] = ch

	m.logger.Debug("new realtime subscriber", "subscriber_id", subscriberID, "total_subscribers", len(m.subscribers))
	return ch
}

func (m *Multiplexer) Unsubscribe(subscriberID string) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	if ch, ok := m.subscribers[subscriberID]; ok {
		close(ch)
		delete(m.subscribers, subscriberID)
		m.logger.Debug("realtime subscriber removed", "subscriber_id", subscriberID, "total_subscribers", len(m.subscribers))
	}
}

// broadcast never blocks; a full subscriber misses the event.
func (m *Multiplexer) broadcast(evt Event) {
	m.subMu.RLock()
	defer m.subMu.RUnlock()

	for subscriberID, ch := range m.subscribers {
		select {
		case ch <- evt:
		default:
			m.logger.Info("subscriber channel full, dropping event", "subscriber_id", subscriberID, "kind", string(evt.Kind))
		}
	}
}

// handler adapts the multiplexer to the Handler interface without exposing
// Connected(Emitter) next to the Connected() query.
type handler struct{ m *Multiplexer }

// Connected re-emits every recorded join in request order while holding mu.
func (h handler) Connected(em Emitter) {
	m := h.m
	m.mu.Lock()
	m.emitter = em
	m.connected = true
	for _, j := range m.joins {
		if err := em.Emit(j.Event, j.ID); err != nil {
			m.logger.Error("cannot replay join", "event", j.Event, "id", j.ID, "error", err.Error())
		}
	}
	replayed := len(m.joins)
	m.mu.Unlock()

	m.logger.Info("realtime connected", "replayed_joins", replayed)
	m.broadcast(Event{Kind: KindConnectivity, Connected: true})
}

func (h handler) Disconnected(err error) {
	m := h.m
	m.mu.Lock()
	was := m.connected
	m.emitter = nil
	m.connected = false
	m.mu.Unlock()

	if !was {
		return
	}
	if err != nil {
		m.logger.Info("realtime disconnected", "error", err.Error())
	} else {
		m.logger.Info("realtime disconnected")
	}
	m.broadcast(Event{Kind: KindConnectivity, Connected: false})
}

func (h handler) Received(name string, data json.RawMessage) {
	m := h.m
	switch name {
	case event.OrderUpdated:
		id, status, ok := decodeOrderUpdate(data)
		if !ok {
			m.logger.Debug("ignoring malformed order update")
			return
		}
		m.OnStatusChange(id, status)
	case event.MenuUpdated:
		m.touch(ScopeMenu)
	case event.TableUpdated:
		m.touch(ScopeTable)
	default:
		m.logger.Debug("ignoring realtime event", "event", name)
	}
}

func decodeOrderUpdate(data json.RawMessage) (string, string, bool) {
	var evt event.OrderUpdatedEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		var minimal struct {
			ID       string `json:"id"`
			LegacyID string `json:"_id"`
			Status   string `json:"status"`
		}
		if err := json.Unmarshal(data, &minimal); err != nil {
			return "", "", false
		}
		evt = event.OrderUpdatedEvent{ID: minimal.ID, LegacyID: minimal.LegacyID, Status: minimal.Status}
	}
	if evt.OrderID() == "" || evt.Status == "" {
		return "", "", false
	}
	return evt.OrderID(), evt.Status, true
}
