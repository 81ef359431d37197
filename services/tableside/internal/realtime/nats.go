package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/tableside/pkg"
	"github.com/appetiteclub/tableside/pkg/event"
)

// NATSTransport maps rooms onto NATS subjects. Joining a room subscribes to
// rooms.{kind}.{id}; messages on it carry the same JSON frames as the
// websocket transport.
type NATSTransport struct {
	url    string
	name   string
	logger apt.Logger

	mu    sync.Mutex
	rooms *pkg.NATSRooms
}

func NewNATSTransport(url, name string, logger apt.Logger) *NATSTransport {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	return &NATSTransport{url: url, name: name, logger: logger}
}

func (t *NATSTransport) Run(ctx context.Context, h Handler) error {
	rooms, err := pkg.NewNATSRooms(pkg.NATSRoomsConfig{
		URL:  t.url,
		Name: t.name,
		OnConnect: func(r *pkg.NATSRooms) {
			h.Connected(&natsEmitter{rooms: r})
		},
		OnDisconnect: func(err error) {
			h.Disconnected(err)
		},
		OnMessage: func(subject string, data []byte) {
			name, payload := decodeRoomMessage(subject, data)
			if name == "" {
				t.logger.Debug("skipping malformed room message", "subject", subject)
				return
			}
			h.Received(name, payload)
		},
	})
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.rooms = rooms
	t.mu.Unlock()

	<-ctx.Done()
	return rooms.Close()
}

func (t *NATSTransport) Close() error {
	t.mu.Lock()
	rooms := t.rooms
	t.mu.Unlock()
	if rooms == nil {
		return nil
	}
	return rooms.Close()
}

// decodeRoomMessage accepts a frame, or a bare order payload on an order
// room.
func decodeRoomMessage(subject string, data []byte) (string, json.RawMessage) {
	var frame event.Frame
	if err := json.Unmarshal(data, &frame); err == nil && frame.Event != "" {
		return frame.Event, frame.Data
	}
	if strings.HasPrefix(subject, pkg.RoomSubjectPrefix+"."+pkg.RoomOrder+".") && json.Valid(data) {
		return event.OrderUpdated, data
	}
	return "", nil
}

type natsEmitter struct {
	rooms *pkg.NATSRooms
}

func (e *natsEmitter) Emit(name string, payload any) error {
	id, ok := payload.(string)
	if !ok {
		return fmt.Errorf("%s: room id must be a string", name)
	}
	switch name {
	case event.JoinOrder:
		return e.rooms.Join(pkg.RoomOrder, id)
	case event.JoinTable:
		return e.rooms.Join(pkg.RoomTable, id)
	case event.JoinRestaurant:
		return e.rooms.Join(pkg.RoomRestaurant, id)
	default:
		return fmt.Errorf("unsupported event %s", name)
	}
}
