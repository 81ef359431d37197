package backend

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"
)

// Ref is an identifier that the backend sends either as a plain id or as a
// populated document carrying "_id" (or "id").
type Ref string

func (r *Ref) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*r = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*r = Ref(s)
		return nil
	}
	var doc struct {
		ID      string `json:"id"`
		MongoID string `json:"_id"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	if doc.MongoID != "" {
		*r = Ref(doc.MongoID)
	} else {
		*r = Ref(doc.ID)
	}
	return nil
}

// TableNumber accepts numeric or string table numbers.
type TableNumber string

func (n *TableNumber) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*n = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*n = TableNumber(s)
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*n = TableNumber(strconv.FormatFloat(f, 'f', -1, 64))
	return nil
}

type Restaurant struct {
	ID     string `json:"_id"`
	Name   string `json:"name"`
	Logo   string `json:"logo,omitempty"`
	Active bool   `json:"active"`
}

type Table struct {
	ID     string      `json:"_id"`
	Number TableNumber `json:"number"`
	Name   string      `json:"name,omitempty"`
}

// Validation is the payload of a successful table check.
type Validation struct {
	Valid      bool       `json:"valid"`
	Restaurant Restaurant `json:"restaurant"`
	Table      Table      `json:"table"`
}

type Customization struct {
	ID            string  `json:"id,omitempty"`
	Name          string  `json:"name"`
	PriceModifier float64 `json:"priceModifier"`
}

type OrderItem struct {
	Item           string          `json:"item"`
	Qty            int             `json:"qty"`
	Customizations []Customization `json:"customizations"`
	ItemPrice      float64         `json:"itemPrice"`
}

// OrderRequest is the body of POST /orders.
type OrderRequest struct {
	Restaurant    string      `json:"restaurant"`
	Table         string      `json:"table,omitempty"`
	Token         string      `json:"token,omitempty"`
	Items         []OrderItem `json:"items"`
	Total         float64     `json:"total"`
	CustomerName  string      `json:"customerName"`
	Phone         string      `json:"phone"`
	PaymentMethod string      `json:"paymentMethod"`
	OrderType     string      `json:"orderType"`
}

type Order struct {
	ID                 string    `json:"id"`
	Restaurant         Ref       `json:"restaurant,omitempty"`
	Table              Ref       `json:"table,omitempty"`
	Status             string    `json:"status"`
	Total              float64   `json:"total"`
	CustomerName       string    `json:"customerName,omitempty"`
	Phone              string    `json:"phone,omitempty"`
	PaymentMethod      string    `json:"paymentMethod,omitempty"`
	EstimatedReadyTime string    `json:"estimatedReadyTime,omitempty"`
	CreatedAt          time.Time `json:"createdAt,omitempty"`
}

// UnmarshalJSON accepts both "id" and "_id".
func (o *Order) UnmarshalJSON(data []byte) error {
	type plain Order
	var aux struct {
		plain
		MongoID string `json:"_id"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*o = Order(aux.plain)
	if o.ID == "" {
		o.ID = aux.MongoID
	}
	return nil
}

// WaiterCall types understood by the backend.
const (
	WaiterCallTypeCall = "call"
	WaiterCallTypeBill = "bill"
)

type WaiterCallRequest struct {
	TableID string `json:"tableId"`
	Type    string `json:"type"`
}

type ReactionRequest struct {
	TableID      string `json:"tableId"`
	ReactionType string `json:"reactionType"`
	Comment      string `json:"comment,omitempty"`
}

// errorBody is the backend's error envelope.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
