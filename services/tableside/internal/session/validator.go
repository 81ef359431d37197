// Package session turns a scanned (restaurant, table, token) triple into a
// verified Session and resolves table credentials from the places they may
// have been remembered.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/tableside/services/tableside/internal/backend"
	"github.com/appetiteclub/tableside/services/tableside/internal/durable"
)

// MaxAge bounds how long a cached validation is trusted.
const MaxAge = 24 * time.Hour

type State string

const (
	Unvalidated State = "unvalidated"
	Validating  State = "validating"
	Valid       State = "valid"
	Invalid     State = "invalid"
)

// Session is immutable once created. A new validation replaces it.
type Session struct {
	RestaurantID  string             `json:"restaurant_id"`
	TableID       string             `json:"table_id"`
	Token         string             `json:"token"`
	EstablishedAt time.Time          `json:"established_at"`
	Restaurant    backend.Restaurant `json:"restaurant"`
	Table         backend.Table      `json:"table"`
}

func (s Session) matches(restaurantID, tableID, token string) bool {
	return s.RestaurantID == restaurantID && s.TableID == tableID && s.Token == token
}

// Checker is the backend call used to verify a triple.
type Checker interface {
	Validate(ctx context.Context, restaurantID, tableID, token string) (*backend.Validation, error)
}

// cachedValidation is the session-scoped record under durable.QRValidationKey.
type cachedValidation struct {
	Restaurant     string             `json:"restaurant"`
	Table          string             `json:"table"`
	Token          string             `json:"token"`
	Timestamp      int64              `json:"timestamp"`
	RestaurantInfo backend.Restaurant `json:"restaurantInfo"`
	TableInfo      backend.Table      `json:"tableInfo"`
}

type Validator struct {
	checker Checker
	store   durable.Store
	cache   durable.Store
	logger  apt.Logger
	now     func() time.Time

	mu      sync.Mutex
	state   State
	current *Session
	gen     uint64
}

// NewValidator wires a validator. store is the durable store, cache the
// session-scoped one.
func NewValidator(checker Checker, store, cache durable.Store, logger apt.Logger) *Validator {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	if cache == nil {
		cache = durable.NewMemoryStore()
	}
	return &Validator{
		checker: checker,
		store:   store,
		cache:   cache,
		logger:  logger,
		now:     time.Now,
		state:   Unvalidated,
	}
}

// SetClock replaces the time source.
func (v *Validator) SetClock(now func() time.Time) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.now = now
}

func (v *Validator) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// Current returns the active session, if any.
func (v *Validator) Current() (Session, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.current == nil {
		return Session{}, false
	}
	return *v.current, true
}

// Validate verifies the triple. A cached session with exactly the same
// values is returned without contacting the backend.
func (v *Validator) Validate(ctx context.Context, restaurantID, tableID, token string) (Session, error) {
	if restaurantID == "" || tableID == "" || token == "" {
		return Session{}, &backend.ValidationError{Err: backend.ErrMissingParams}
	}

	v.mu.Lock()
	if s, ok := v.cachedLocked(restaurantID, tableID, token); ok {
		// Still counts as a newer validation for any call in flight.
		v.gen++
		v.current = &s
		v.state = Valid
		v.mu.Unlock()
		return s, nil
	}
	v.gen++
	gen := v.gen
	v.state = Validating
	v.mu.Unlock()

	result, err := v.checker.Validate(ctx, restaurantID, tableID, token)

	v.mu.Lock()
	defer v.mu.Unlock()
	superseded := gen != v.gen

	if err != nil {
		v.logger.Info("table validation failed", "restaurant_id", restaurantID, "table_id", tableID, "error", err.Error())
		if !superseded {
			v.state = Invalid
			var ve *backend.ValidationError
			if errors.As(err, &ve) {
				v.current = nil
				_ = v.cache.Delete(durable.QRValidationKey)
			}
		}
		return Session{}, err
	}

	s := Session{
		RestaurantID:  restaurantID,
		TableID:       tableID,
		Token:         token,
		EstablishedAt: v.now(),
		Restaurant:    result.Restaurant,
		Table:         result.Table,
	}
	if superseded {
		return s, nil
	}

	v.current = &s
	v.state = Valid
	v.persistLocked(s)
	return s, nil
}

// Restore loads the session-scoped record at startup. Corrupt or expired
// records are discarded.
func (v *Validator) Restore() (Session, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	s, ok := v.loadCacheLocked()
	if !ok {
		return Session{}, false
	}
	v.current = &s
	v.state = Valid
	return s, true
}

// cachedLocked looks at the in-memory session first, then the
// session-scoped record.
func (v *Validator) cachedLocked(restaurantID, tableID, token string) (Session, bool) {
	if v.current != nil && v.current.matches(restaurantID, tableID, token) && v.fresh(v.current.EstablishedAt) {
		return *v.current, true
	}
	s, ok := v.loadCacheLocked()
	if ok && s.matches(restaurantID, tableID, token) {
		return s, true
	}
	return Session{}, false
}

func (v *Validator) loadCacheLocked() (Session, bool) {
	raw, err := v.cache.Get(durable.QRValidationKey)
	if err != nil {
		return Session{}, false
	}

	var c cachedValidation
	if err := json.Unmarshal([]byte(raw), &c); err != nil || c.Restaurant == "" || c.Table == "" || c.Token == "" {
		v.logger.Info("discarding corrupt cached validation")
		_ = v.cache.Delete(durable.QRValidationKey)
		return Session{}, false
	}

	established := time.UnixMilli(c.Timestamp)
	if !v.fresh(established) {
		v.logger.Debug("discarding expired cached validation", "restaurant_id", c.Restaurant)
		_ = v.cache.Delete(durable.QRValidationKey)
		return Session{}, false
	}

	return Session{
		RestaurantID:  c.Restaurant,
		TableID:       c.Table,
		Token:         c.Token,
		EstablishedAt: established,
		Restaurant:    c.RestaurantInfo,
		Table:         c.TableInfo,
	}, true
}

func (v *Validator) fresh(at time.Time) bool {
	return v.now().Sub(at) < MaxAge
}

func (v *Validator) persistLocked(s Session) {
	data, err := json.Marshal(cachedValidation{
		Restaurant:     s.RestaurantID,
		Table:          s.TableID,
		Token:          s.Token,
		Timestamp:      s.EstablishedAt.UnixMilli(),
		RestaurantInfo: s.Restaurant,
		TableInfo:      s.Table,
	})
	if err == nil {
		if err := v.cache.Put(durable.QRValidationKey, string(data)); err != nil {
			v.logger.Error("cannot cache validation", "error", err.Error())
		}
	}

	if v.store == nil {
		return
	}
	if err := v.store.Put(durable.TableRefKey(s.RestaurantID), s.TableID); err != nil {
		v.logger.Error("cannot persist table reference", "restaurant_id", s.RestaurantID, "error", err.Error())
	}
	if err := v.store.Put(durable.TokenRefKey(s.RestaurantID), s.Token); err != nil {
		v.logger.Error("cannot persist token reference", "restaurant_id", s.RestaurantID, "error", err.Error())
	}
}
