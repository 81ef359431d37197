package cart

// Outcome reports what SwitchRestaurant did.
type Outcome string

const (
	// SwitchAdopted: the cart was empty or already owned by the target.
	SwitchAdopted Outcome = "adopted"
	// SwitchCleared: the customer confirmed and the old cart was dropped.
	SwitchCleared Outcome = "cleared"
	// SwitchDeclined: nothing changed. The cart still belongs to the old
	// restaurant and the caller decides what to show.
	SwitchDeclined Outcome = "declined"
)

// Confirmer asks the customer whether the current cart may be dropped.
type Confirmer interface {
	ConfirmSwitch(from, to string) bool
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(from, to string) bool

func (f ConfirmFunc) ConfirmSwitch(from, to string) bool { return f(from, to) }

// Always is a Confirmer with a fixed answer.
type Always bool

func (a Always) ConfirmSwitch(string, string) bool { return bool(a) }

// SwitchRestaurant moves the cart to newID. A non-empty cart owned by
// another restaurant, or by no known restaurant, is only dropped if confirmer
// agrees. The confirmer is called without holding the cart lock.
func (g *Guard) SwitchRestaurant(newID string, confirmer Confirmer) Outcome {
	g.mu.Lock()
	from := g.owner
	if len(g.lines) == 0 || from == newID {
		changed := g.owner != newID
		g.owner = newID
		if !changed {
			g.mu.Unlock()
			return SwitchAdopted
		}
		snap, listeners := g.commitLocked()
		g.mu.Unlock()
		notify(listeners, snap)
		return SwitchAdopted
	}
	g.mu.Unlock()

	if confirmer == nil || !confirmer.ConfirmSwitch(from, newID) {
		g.logger.Info("restaurant switch declined", "from", from, "to", newID)
		return SwitchDeclined
	}

	g.mu.Lock()
	g.lines = nil
	g.owner = newID
	snap, listeners := g.commitLocked()
	g.mu.Unlock()

	notify(listeners, snap)
	g.logger.Info("cart cleared for restaurant switch", "from", from, "to", newID)
	return SwitchCleared
}
