// Package durable persists the client state that must survive a restart of
// the tableside runtime (cart, table references, customer details) and keeps
// the session-scoped cache that must not.
package durable

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	// ErrKeyNotFound is returned when a key has no value.
	ErrKeyNotFound = errors.New("key not found")
	// ErrInvalidKey is returned for empty keys.
	ErrInvalidKey = errors.New("invalid key")
	// ErrStoreClosed is returned after Close.
	ErrStoreClosed = errors.New("store closed")
)

// Persisted keys.
const (
	CartKey         = "client-cart"
	RestaurantKey   = "client-restaurant-id"
	QRValidationKey = "qr_validation"

	tableRefPrefix      = "table-ref-"
	tokenRefPrefix      = "token-ref-"
	customerNamePrefix  = "customer-name-"
	CustomerPhonePrefix = "customer-phone-"
)

func TableRefKey(restaurantID string) string      { return tableRefPrefix + restaurantID }
func TokenRefKey(restaurantID string) string      { return tokenRefPrefix + restaurantID }
func CustomerNameKey(restaurantID string) string  { return customerNamePrefix + restaurantID }
func CustomerPhoneKey(restaurantID string) string { return CustomerPhonePrefix + restaurantID }

// Store is a string key/value store. Writes are synchronous; concurrent
// writers on the same backing file follow last-write-wins.
type Store interface {
	Get(key string) (string, error)
	Put(key, value string) error
	Delete(key string) error
	Keys(prefix string) ([]string, error)
}

// Lookup returns the value for key, or "" when it is missing or unreadable.
func Lookup(s Store, key string) string {
	if s == nil {
		return ""
	}
	v, err := s.Get(key)
	if err != nil {
		return ""
	}
	return v
}

// MemoryStore keeps values for the lifetime of the process. It backs the
// session-scoped cache and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	data   map[string]string
	closed bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]string)}
}

func (m *MemoryStore) Get(key string) (string, error) {
	if key == "" {
		return "", ErrInvalidKey
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return "", ErrStoreClosed
	}
	v, ok := m.data[key]
	if !ok {
		return "", fmt.Errorf("%s: %w", key, ErrKeyNotFound)
	}
	return v, nil
}

func (m *MemoryStore) Put(key, value string) error {
	if key == "" {
		return ErrInvalidKey
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}
	m.data[key] = value
	return nil
}

func (m *MemoryStore) Delete(key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}
	delete(m.data, key)
	return nil
}

func (m *MemoryStore) Keys(prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrStoreClosed
	}
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Clear removes every entry.
func (m *MemoryStore) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = make(map[string]string)
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.data = nil
	return nil
}
