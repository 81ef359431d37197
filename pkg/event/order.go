package event

import (
	"encoding/json"
	"time"
)

// Client-emitted room joins.
const (
	JoinOrder      = "join-order"
	JoinTable      = "join-table"
	JoinRestaurant = "join-restaurant"
)

// Server-emitted events.
const (
	OrderUpdated = "order-updated"
	MenuUpdated  = "menu-updated"
	TableUpdated = "table-updated"
)

// Frame is the envelope carried over the realtime connection.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// OrderUpdatedEvent is the order snapshot pushed on every status change.
// Older backends send the identifier as _id.
type OrderUpdatedEvent struct {
	ID           string    `json:"id,omitempty"`
	LegacyID     string    `json:"_id,omitempty"`
	Status       string    `json:"status"`
	RestaurantID string    `json:"restaurant,omitempty"`
	TableID      string    `json:"table,omitempty"`
	UpdatedAt    time.Time `json:"updatedAt,omitempty"`
}

// OrderID returns whichever identifier the backend populated.
func (e OrderUpdatedEvent) OrderID() string {
	if e.ID != "" {
		return e.ID
	}
	return e.LegacyID
}
