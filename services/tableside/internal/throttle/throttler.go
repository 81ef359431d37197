// Package throttle gates customer-triggered service actions behind
// per-key cooldowns. Cooldowns live for the lifetime of the process.
package throttle

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/tableside/services/tableside/internal/backend"
)

// CooldownError is returned by Fire while key is cooling down.
type CooldownError struct {
	Key       string
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("%s is cooling down for %s", e.Key, e.Remaining.Round(time.Second))
}

// Seconds is the remaining time rounded up to whole seconds.
func (e *CooldownError) Seconds() int {
	return int(math.Ceil(e.Remaining.Seconds()))
}

// Minutes is the remaining time rounded up to whole minutes.
func (e *CooldownError) Minutes() int {
	return int(math.Ceil(e.Remaining.Minutes()))
}

type record struct {
	firedAt  time.Time
	duration time.Duration
}

type Throttler struct {
	logger apt.Logger
	now    func() time.Time

	mu      sync.Mutex
	records map[string]record
}

func New(logger apt.Logger) *Throttler {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	return &Throttler{
		logger:  logger,
		now:     time.Now,
		records: make(map[string]record),
	}
}

// SetClock replaces the time source.
func (t *Throttler) SetClock(now func() time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.now = now
}

// CanFire reports whether key has no record or its cooldown has elapsed.
func (t *Throttler) CanFire(key string) bool {
	return t.Remaining(key) == 0
}

// Remaining returns how long key still has to cool down.
func (t *Throttler) Remaining(key string) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remainingLocked(key)
}

func (t *Throttler) remainingLocked(key string) time.Duration {
	rec, ok := t.records[key]
	if !ok {
		return 0
	}
	left := rec.duration - t.now().Sub(rec.firedAt)
	if left <= 0 {
		return 0
	}
	return left
}

// Fire records the cooldown for key and then runs action. A key that is
// still cooling down yields a CooldownError and action is not run. A
// conflict answer keeps the cooldown; any other failure clears it.
func (t *Throttler) Fire(ctx context.Context, key string, cooldown time.Duration, action func(context.Context) error) error {
	t.mu.Lock()
	if left := t.remainingLocked(key); left > 0 {
		t.mu.Unlock()
		return &CooldownError{Key: key, Remaining: left}
	}
	rec := record{firedAt: t.now(), duration: cooldown}
	t.records[key] = rec
	t.mu.Unlock()

	err := action(ctx)
	if err == nil || backend.IsConflict(err) {
		return err
	}

	t.mu.Lock()
	if cur, ok := t.records[key]; ok && cur == rec {
		delete(t.records, key)
	}
	t.mu.Unlock()

	t.logger.Debug("action failed, cooldown released", "key", key, "error", err.Error())
	return err
}
