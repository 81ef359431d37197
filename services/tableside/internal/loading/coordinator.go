package loading

import (
	"sync"
)

// Tier selects how a unit of work is surfaced to the customer.
type Tier string

const (
	// Idle means no work is tracked.
	Idle Tier = "idle"
	// Full work blocks the UI.
	Full Tier = "full"
	// Background work shows an ambient, non-blocking indicator.
	Background Tier = "background"
)

// State is the derived signal delivered to listeners.
type State struct {
	IsLoading bool   `json:"is_loading"`
	Tier      Tier   `json:"tier"`
	Message   string `json:"message,omitempty"`
}

// Listener receives every state change synchronously.
type Listener func(State)

// Coordinator is a reference-counted, two-tier work-in-progress signal.
// One instance is shared by every network call of the process.
type Coordinator struct {
	mu         sync.Mutex
	full       int
	background int
	message    string
	nextID     int
	listeners  map[int]Listener
	order      []int
}

func NewCoordinator() *Coordinator {
	return &Coordinator{
		listeners: make(map[int]Listener),
	}
}

// Start increments the counter for tier.
func (c *Coordinator) Start(tier Tier) {
	c.StartWithMessage(tier, "")
}

// StartWithMessage increments the counter for tier and, when msg is not
// empty, replaces the current message.
func (c *Coordinator) StartWithMessage(tier Tier, msg string) {
	c.mu.Lock()
	switch tier {
	case Background:
		c.background++
	default:
		c.full++
	}
	if msg != "" {
		c.message = msg
	}
	state, listeners := c.snapshot()
	c.mu.Unlock()

	notify(listeners, state)
}

// Stop decrements the counter for tier. Counters never go below zero, so a
// Stop without a matching Start is harmless.
func (c *Coordinator) Stop(tier Tier) {
	c.mu.Lock()
	switch tier {
	case Background:
		if c.background > 0 {
			c.background--
		}
	default:
		if c.full > 0 {
			c.full--
		}
	}
	state, listeners := c.snapshot()
	c.mu.Unlock()

	notify(listeners, state)
}

// Reset zeroes every counter. Used to recover from an inconsistent count.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	c.full = 0
	c.background = 0
	state, listeners := c.snapshot()
	c.mu.Unlock()

	notify(listeners, state)
}

// Track starts tier and returns the matching stop function.
func (c *Coordinator) Track(tier Tier) func() {
	c.Start(tier)
	var once sync.Once
	return func() {
		once.Do(func() { c.Stop(tier) })
	}
}

// State returns the current derived state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.derive()
}

// Counts returns the raw full and background counters.
func (c *Coordinator) Counts() (full, background int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.full, c.background
}

// Subscribe registers fn and returns a function that removes it.
func (c *Coordinator) Subscribe(fn Listener) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.order = append(c.order, id)

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners, id)
		for i, v := range c.order {
			if v == id {
				c.order = append(c.order[:i], c.order[i+1:]...)
				break
			}
		}
	}
}

// snapshot must be called with mu held.
func (c *Coordinator) snapshot() (State, []Listener) {
	state := c.derive()
	listeners := make([]Listener, 0, len(c.order))
	for _, id := range c.order {
		listeners = append(listeners, c.listeners[id])
	}
	return state, listeners
}

// derive must be called with mu held. The message is cleared when the
// signal becomes idle.
func (c *Coordinator) derive() State {
	switch {
	case c.full > 0:
		return State{IsLoading: true, Tier: Full, Message: c.message}
	case c.background > 0:
		return State{IsLoading: true, Tier: Background, Message: c.message}
	default:
		c.message = ""
		return State{IsLoading: false, Tier: Idle}
	}
}

func notify(listeners []Listener, state State) {
	for _, fn := range listeners {
		fn(state)
	}
}
