package pkg

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// RoomSubjectPrefix roots every realtime room subject.
const RoomSubjectPrefix = "rooms"

// Room kinds.
const (
	RoomOrder      = "order"
	RoomTable      = "table"
	RoomRestaurant = "restaurant"
)

var ErrRoomsClosed = errors.New("nats rooms closed")

// RoomSubject returns the subject of a room, e.g. rooms.order.42.
func RoomSubject(kind, id string) string {
	return fmt.Sprintf("%s.%s.%s", RoomSubjectPrefix, kind, id)
}

// NATSRoomsConfig configures a NATSRooms connection.
type NATSRoomsConfig struct {
	URL           string
	Name          string
	ReconnectWait time.Duration

	// OnConnect runs once per established connection, including reconnects.
	OnConnect func(*NATSRooms)
	// OnDisconnect runs when an established connection is lost.
	OnDisconnect func(error)
	// OnMessage receives every message delivered on a joined room.
	OnMessage func(subject string, data []byte)
}

// NATSRooms keeps one NATS connection and a set of room subscriptions.
// Subscriptions are restored by the NATS client after a reconnect, so a
// room only has to be joined once.
type NATSRooms struct {
	cfg  NATSRoomsConfig
	conn *nats.Conn

	mu     sync.Mutex
	subs   map[string]*nats.Subscription
	online bool
	closed bool
}

// NewNATSRooms connects to cfg.URL. A server that is not reachable yet is
// retried in the background instead of failing the call.
func NewNATSRooms(cfg NATSRoomsConfig) (*NATSRooms, error) {
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = 2 * time.Second
	}
	r := &NATSRooms{cfg: cfg, subs: make(map[string]*nats.Subscription)}

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ConnectHandler(func(*nats.Conn) { r.markOnline() }),
		nats.ReconnectHandler(func(*nats.Conn) { r.markOnline() }),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) { r.markOffline(err) }),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	r.mu.Lock()
	r.conn = conn
	r.mu.Unlock()

	if conn.IsConnected() {
		r.markOnline()
	}
	return r, nil
}

// Join subscribes to the room once. Joining an already joined room is a no-op.
func (r *NATSRooms) Join(kind, id string) error {
	subject := RoomSubject(kind, id)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRoomsClosed
	}
	if _, ok := r.subs[subject]; ok {
		return nil
	}

	sub, err := r.conn.Subscribe(subject, func(msg *nats.Msg) {
		if r.cfg.OnMessage != nil {
			r.cfg.OnMessage(msg.Subject, msg.Data)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to join %s: %w", subject, err)
	}
	r.subs[subject] = sub
	return nil
}

// Publish sends data to a room.
func (r *NATSRooms) Publish(kind, id string, data []byte) error {
	r.mu.Lock()
	conn := r.conn
	closed := r.closed
	r.mu.Unlock()
	if closed || conn == nil {
		return ErrRoomsClosed
	}
	return conn.Publish(RoomSubject(kind, id), data)
}

// Joined lists the subjects currently subscribed.
func (r *NATSRooms) Joined() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	subjects := make([]string, 0, len(r.subs))
	for s := range r.subs {
		subjects = append(subjects, s)
	}
	return subjects
}

func (r *NATSRooms) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	conn := r.conn
	r.subs = make(map[string]*nats.Subscription)
	r.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	return nil
}

func (r *NATSRooms) markOnline() {
	r.mu.Lock()
	if r.online || r.closed || r.conn == nil {
		r.mu.Unlock()
		return
	}
	r.online = true
	r.mu.Unlock()

	if r.cfg.OnConnect != nil {
		r.cfg.OnConnect(r)
	}
}

func (r *NATSRooms) markOffline(err error) {
	r.mu.Lock()
	if !r.online {
		r.mu.Unlock()
		return
	}
	r.online = false
	r.mu.Unlock()

	if r.cfg.OnDisconnect != nil {
		r.cfg.OnDisconnect(err)
	}
}
