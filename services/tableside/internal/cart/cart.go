// Package cart holds the customer's cart. A cart belongs to exactly one
// restaurant, never stores a quantity below one, and is persisted on every
// change.
package cart

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/tableside/services/tableside/internal/durable"
)

var (
	ErrInvalidQuantity = errors.New("quantity must be at least 1")
	ErrLineNotFound    = errors.New("cart line not found")
	ErrForeignItem     = errors.New("item belongs to another restaurant")
	ErrInvalidItem     = errors.New("item id is required")
	ErrNoRestaurant    = errors.New("item restaurant is required")
)

// Item is a menu item as offered to the cart.
type Item struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Price        float64 `json:"price"`
	RestaurantID string  `json:"restaurant_id"`
}

type Customization struct {
	ID            string  `json:"id,omitempty"`
	Name          string  `json:"name"`
	PriceModifier float64 `json:"priceModifier"`
}

func (c Customization) key() string {
	if c.ID != "" {
		return "id:" + c.ID
	}
	return "name:" + c.Name
}

// Line is one cart entry. Field names match the stored format.
type Line struct {
	ItemID         string          `json:"_id"`
	Name           string          `json:"name"`
	UnitPrice      float64         `json:"price"`
	Quantity       int             `json:"qty"`
	Customizations []Customization `json:"customizations"`
}

// UnitTotal is the unit price plus every customization modifier.
func (l Line) UnitTotal() float64 {
	total := l.UnitPrice
	for _, c := range l.Customizations {
		total += c.PriceModifier
	}
	return total
}

func (l Line) Subtotal() float64 {
	return l.UnitTotal() * float64(l.Quantity)
}

// mergeable reports whether two lines hold the same item with the same
// customizations, compared as unordered sets.
func (l Line) mergeable(itemID string, customizations []Customization) bool {
	if l.ItemID != itemID || len(l.Customizations) != len(customizations) {
		return false
	}
	seen := make(map[string]float64, len(l.Customizations))
	for _, c := range l.Customizations {
		seen[c.key()] = c.PriceModifier
	}
	for _, c := range customizations {
		mod, ok := seen[c.key()]
		if !ok || mod != c.PriceModifier {
			return false
		}
	}
	return true
}

type Snapshot struct {
	RestaurantID string  `json:"restaurant_id"`
	Lines        []Line  `json:"lines"`
	Total        float64 `json:"total"`
	Count        int     `json:"count"`
}

func (s Snapshot) Empty() bool {
	return len(s.Lines) == 0
}

// Listener is notified after every mutation.
type Listener func(Snapshot)

type Guard struct {
	store  durable.Store
	logger apt.Logger

	mu        sync.Mutex
	owner     string
	lines     []Line
	nextID    int
	listeners map[int]Listener
}

// NewGuard loads the persisted cart from store. Unreadable data yields an
// empty cart.
func NewGuard(store durable.Store, logger apt.Logger) *Guard {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	if store == nil {
		store = durable.NewMemoryStore()
	}
	g := &Guard{
		store:     store,
		logger:    logger,
		listeners: make(map[int]Listener),
	}
	g.load()
	return g
}

func (g *Guard) load() {
	g.owner = durable.Lookup(g.store, durable.RestaurantKey)

	raw := durable.Lookup(g.store, durable.CartKey)
	if raw == "" {
		return
	}

	var lines []Line
	if err := json.Unmarshal([]byte(raw), &lines); err != nil {
		g.logger.Info("discarding unreadable cart", "error", err.Error())
		return
	}
	for _, l := range lines {
		if l.ItemID == "" || l.Quantity < 1 {
			continue
		}
		g.lines = append(g.lines, l)
	}
}

// AddItem adds qty units of item. A line with the same item and the same
// customization set absorbs the quantity.
func (g *Guard) AddItem(item Item, qty int, customizations []Customization) error {
	if qty < 1 {
		return ErrInvalidQuantity
	}
	if item.ID == "" {
		return ErrInvalidItem
	}
	customizations = dedupe(customizations)

	g.mu.Lock()
	restaurantID := item.RestaurantID
	if restaurantID == "" {
		restaurantID = g.owner
	}
	if restaurantID == "" {
		g.mu.Unlock()
		return ErrNoRestaurant
	}
	if len(g.lines) > 0 && restaurantID != g.owner {
		g.mu.Unlock()
		return fmt.Errorf("%w: cart belongs to %s, item to %s", ErrForeignItem, g.owner, restaurantID)
	}
	g.owner = restaurantID

	merged := false
	for i := range g.lines {
		if g.lines[i].mergeable(item.ID, customizations) {
			g.lines[i].Quantity += qty
			merged = true
			break
		}
	}
	if !merged {
		g.lines = append(g.lines, Line{
			ItemID:         item.ID,
			Name:           item.Name,
			UnitPrice:      item.Price,
			Quantity:       qty,
			Customizations: customizations,
		})
	}
	snap, listeners := g.commitLocked()
	g.mu.Unlock()

	notify(listeners, snap)
	return nil
}

// UpdateQuantity changes the quantity of the line at index by delta. A
// result below one removes the line.
func (g *Guard) UpdateQuantity(index, delta int) error {
	g.mu.Lock()
	if index < 0 || index >= len(g.lines) {
		g.mu.Unlock()
		return ErrLineNotFound
	}
	next := g.lines[index].Quantity + delta
	if next < 1 {
		g.removeLocked(index)
	} else {
		g.lines[index].Quantity = next
	}
	snap, listeners := g.commitLocked()
	g.mu.Unlock()

	notify(listeners, snap)
	return nil
}

func (g *Guard) RemoveLine(index int) error {
	g.mu.Lock()
	if index < 0 || index >= len(g.lines) {
		g.mu.Unlock()
		return ErrLineNotFound
	}
	g.removeLocked(index)
	snap, listeners := g.commitLocked()
	g.mu.Unlock()

	notify(listeners, snap)
	return nil
}

// AddCustomization adds c to the line at index. When the line then matches
// an earlier line, the two are merged into the earlier one.
func (g *Guard) AddCustomization(index int, c Customization) error {
	g.mu.Lock()
	if index < 0 || index >= len(g.lines) {
		g.mu.Unlock()
		return ErrLineNotFound
	}
	line := g.lines[index]
	for _, existing := range line.Customizations {
		if existing.key() == c.key() {
			g.mu.Unlock()
			return nil
		}
	}
	line.Customizations = append(append([]Customization(nil), line.Customizations...), c)
	g.lines[index] = line

	for i := 0; i < index; i++ {
		if g.lines[i].mergeable(line.ItemID, line.Customizations) {
			g.lines[i].Quantity += line.Quantity
			g.removeLocked(index)
			break
		}
	}
	snap, listeners := g.commitLocked()
	g.mu.Unlock()

	notify(listeners, snap)
	return nil
}

// Clear empties the cart and keeps its owner.
func (g *Guard) Clear() {
	g.mu.Lock()
	g.lines = nil
	snap, listeners := g.commitLocked()
	g.mu.Unlock()

	notify(listeners, snap)
}

func (g *Guard) Total() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return total(g.lines)
}

// Count is the number of units in the cart.
func (g *Guard) Count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return count(g.lines)
}

func (g *Guard) RestaurantID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.owner
}

func (g *Guard) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.snapshotLocked()
}

// Subscribe registers fn and returns a function that removes it.
func (g *Guard) Subscribe(fn Listener) func() {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := g.nextID
	g.nextID++
	g.listeners[id] = fn
	return func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		delete(g.listeners, id)
	}
}

func (g *Guard) removeLocked(index int) {
	g.lines = append(g.lines[:index:index], g.lines[index+1:]...)
}

// commitLocked persists the cart and returns what listeners should see.
func (g *Guard) commitLocked() (Snapshot, []Listener) {
	g.persistLocked()
	listeners := make([]Listener, 0, len(g.listeners))
	for _, fn := range g.listeners {
		listeners = append(listeners, fn)
	}
	return g.snapshotLocked(), listeners
}

func (g *Guard) persistLocked() {
	lines := g.lines
	if lines == nil {
		lines = []Line{}
	}
	data, err := json.Marshal(lines)
	if err != nil {
		g.logger.Error("cannot encode cart", "error", err.Error())
		return
	}
	if err := g.store.Put(durable.CartKey, string(data)); err != nil {
		g.logger.Error("cannot persist cart", "error", err.Error())
	}
	if g.owner == "" {
		return
	}
	if err := g.store.Put(durable.RestaurantKey, g.owner); err != nil {
		g.logger.Error("cannot persist cart owner", "error", err.Error())
	}
}

func (g *Guard) snapshotLocked() Snapshot {
	lines := make([]Line, len(g.lines))
	for i, l := range g.lines {
		l.Customizations = append([]Customization(nil), l.Customizations...)
		lines[i] = l
	}
	return Snapshot{
		RestaurantID: g.owner,
		Lines:        lines,
		Total:        total(g.lines),
		Count:        count(g.lines),
	}
}

func total(lines []Line) float64 {
	var sum float64
	for _, l := range lines {
		sum += l.Subtotal()
	}
	return sum
}

func count(lines []Line) int {
	n := 0
	for _, l := range lines {
		n += l.Quantity
	}
	return n
}

func dedupe(customizations []Customization) []Customization {
	if len(customizations) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(customizations))
	out := make([]Customization, 0, len(customizations))
	for _, c := range customizations {
		if seen[c.key()] {
			continue
		}
		seen[c.key()] = true
		out = append(out, c)
	}
	return out
}

func notify(listeners []Listener, snap Snapshot) {
	for _, fn := range listeners {
		fn(snap)
	}
}
