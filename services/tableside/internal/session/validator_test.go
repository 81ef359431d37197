package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/appetiteclub/tableside/services/tableside/internal/backend"
	"github.com/appetiteclub/tableside/services/tableside/internal/durable"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type MockChecker struct {
	ValidateFunc func(ctx context.Context, restaurantID, tableID, token string) (*backend.Validation, error)
	calls        int32
}

func (m *MockChecker) Validate(ctx context.Context, restaurantID, tableID, token string) (*backend.Validation, error) {
	atomic.AddInt32(&m.calls, 1)
	if m.ValidateFunc != nil {
		return m.ValidateFunc(ctx, restaurantID, tableID, token)
	}
	return &backend.Validation{
		Valid:      true,
		Restaurant: backend.Restaurant{ID: restaurantID, Name: "Cantina", Active: true},
		Table:      backend.Table{ID: tableID, Number: "7"},
	}, nil
}

func (m *MockChecker) Calls() int {
	return int(atomic.LoadInt32(&m.calls))
}

func newValidator(checker Checker) (*Validator, *durable.MemoryStore, *durable.MemoryStore) {
	store := durable.NewMemoryStore()
	cache := durable.NewMemoryStore()
	return NewValidator(checker, store, cache, nil), store, cache
}

func TestValidateReusesExactMatch(t *testing.T) {
	checker := &MockChecker{}
	v, _, _ := newValidator(checker)
	ctx := context.Background()

	s, err := v.Validate(ctx, "R1", "T1", "tok1")
	require.NoError(t, err)
	assert.Equal(t, "Cantina", s.Restaurant.Name)
	assert.Equal(t, Valid, v.State())

	again, err := v.Validate(ctx, "R1", "T1", "tok1")
	require.NoError(t, err)
	assert.Equal(t, s.EstablishedAt, again.EstablishedAt)
	assert.Equal(t, 1, checker.Calls(), "identical triple must not hit the backend")

	_, err = v.Validate(ctx, "R1", "T1", "tok2")
	require.NoError(t, err)
	assert.Equal(t, 2, checker.Calls(), "a different token must be revalidated")
}

func TestValidateMissingParams(t *testing.T) {
	tests := []struct {
		name       string
		restaurant string
		table      string
		token      string
	}{
		{name: "noRestaurant", table: "T1", token: "tok"},
		{name: "noTable", restaurant: "R1", token: "tok"},
		{name: "noToken", restaurant: "R1", table: "T1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := &MockChecker{}
			v, _, _ := newValidator(checker)

			_, err := v.Validate(context.Background(), tt.restaurant, tt.table, tt.token)
			assert.ErrorIs(t, err, backend.ErrMissingParams)
			assert.Zero(t, checker.Calls())
			assert.Equal(t, Unvalidated, v.State())
		})
	}
}

func TestValidateInvalidToken(t *testing.T) {
	checker := &MockChecker{}
	v, _, cache := newValidator(checker)
	ctx := context.Background()

	_, err := v.Validate(ctx, "R1", "T1", "tok1")
	require.NoError(t, err)

	checker.ValidateFunc = func(context.Context, string, string, string) (*backend.Validation, error) {
		return nil, &backend.ValidationError{Err: backend.ErrInvalidToken}
	}

	_, err = v.Validate(ctx, "R1", "T1", "expired")
	assert.ErrorIs(t, err, backend.ErrInvalidToken)
	assert.Equal(t, Invalid, v.State())

	_, ok := v.Current()
	assert.False(t, ok)
	_, err = cache.Get(durable.QRValidationKey)
	assert.ErrorIs(t, err, durable.ErrKeyNotFound)
}

func TestValidateNetworkErrorKeepsCache(t *testing.T) {
	checker := &MockChecker{}
	v, _, cache := newValidator(checker)
	ctx := context.Background()

	_, err := v.Validate(ctx, "R1", "T1", "tok1")
	require.NoError(t, err)

	checker.ValidateFunc = func(context.Context, string, string, string) (*backend.Validation, error) {
		return nil, &backend.NetworkError{Op: "validate table", Err: errors.New("offline")}
	}
	_, err = v.Validate(ctx, "R1", "T2", "tok1")
	assert.True(t, backend.IsNetwork(err))
	assert.Equal(t, Invalid, v.State())

	_, err = cache.Get(durable.QRValidationKey)
	assert.NoError(t, err)
}

func TestValidatePersistsReferences(t *testing.T) {
	v, store, cache := newValidator(&MockChecker{})

	_, err := v.Validate(context.Background(), "R1", "T1", "tok1")
	require.NoError(t, err)

	assert.Equal(t, "T1", durable.Lookup(store, durable.TableRefKey("R1")))
	assert.Equal(t, "tok1", durable.Lookup(store, durable.TokenRefKey("R1")))

	var cached cachedValidation
	require.NoError(t, json.Unmarshal([]byte(durable.Lookup(cache, durable.QRValidationKey)), &cached))
	assert.Equal(t, "R1", cached.Restaurant)
	assert.Equal(t, "T1", cached.Table)
	assert.Equal(t, "tok1", cached.Token)
}

func TestRestore(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		record string
		age    time.Duration
		want   bool
	}{
		{name: "fresh", record: `{"restaurant":"R1","table":"T1","token":"tok","timestamp":%d}`, age: time.Hour, want: true},
		{name: "expired", record: `{"restaurant":"R1","table":"T1","token":"tok","timestamp":%d}`, age: 25 * time.Hour},
		{name: "corrupt", record: `{not json`},
		{name: "incomplete", record: `{"restaurant":"R1","timestamp":%d}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, _, cache := newValidator(&MockChecker{})
			v.SetClock(func() time.Time { return base })

			record := tt.record
			if tt.name != "corrupt" {
				record = fmt.Sprintf(tt.record, base.Add(-tt.age).UnixMilli())
			}
			require.NoError(t, cache.Put(durable.QRValidationKey, record))

			s, ok := v.Restore()
			assert.Equal(t, tt.want, ok)
			if tt.want {
				assert.Equal(t, "R1", s.RestaurantID)
				assert.Equal(t, Valid, v.State())
				return
			}
			_, err := cache.Get(durable.QRValidationKey)
			assert.ErrorIs(t, err, durable.ErrKeyNotFound, "unusable record must be discarded")
		})
	}
}

func TestValidateExpiredCacheRevalidates(t *testing.T) {
	checker := &MockChecker{}
	v, _, _ := newValidator(checker)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	v.SetClock(func() time.Time { return now })

	_, err := v.Validate(context.Background(), "R1", "T1", "tok")
	require.NoError(t, err)

	now = now.Add(MaxAge + time.Minute)
	_, err = v.Validate(context.Background(), "R1", "T1", "tok")
	require.NoError(t, err)
	assert.Equal(t, 2, checker.Calls())
}

func TestResolveTableRef(t *testing.T) {
	v, store, _ := newValidator(&MockChecker{})

	t.Run("urlWins", func(t *testing.T) {
		require.NoError(t, store.Put(durable.TableRefKey("R1"), "stored-table"))
		ref := v.ResolveTableRef("R1", "url-table", "url-token")
		assert.Equal(t, TableRef{TableID: "url-table", Token: "url-token"}, ref)
		assert.Equal(t, "url-table", durable.Lookup(store, durable.TableRefKey("R1")), "URL values are remembered")
	})

	t.Run("durableFallback", func(t *testing.T) {
		ref := v.ResolveTableRef("R1", "", "")
		assert.Equal(t, TableRef{TableID: "url-table", Token: "url-token"}, ref)
	})

	t.Run("independentPerField", func(t *testing.T) {
		ref := v.ResolveTableRef("R1", "", "fresh-token")
		assert.Equal(t, "url-table", ref.TableID)
		assert.Equal(t, "fresh-token", ref.Token)
	})

	t.Run("sessionCacheFallback", func(t *testing.T) {
		_, err := v.Validate(context.Background(), "R2", "T9", "tok9")
		require.NoError(t, err)
		require.NoError(t, store.Delete(durable.TableRefKey("R2")))
		require.NoError(t, store.Delete(durable.TokenRefKey("R2")))

		ref := v.ResolveTableRef("R2", "", "")
		assert.Equal(t, TableRef{TableID: "T9", Token: "tok9"}, ref)
	})

	t.Run("unknownRestaurant", func(t *testing.T) {
		ref := v.ResolveTableRef("R3", "", "")
		assert.False(t, ref.Complete())
	})
}

func TestCacheHitSupersedesValidationInFlight(t *testing.T) {
	tests := []struct {
		name   string
		result error
	}{
		{name: "olderFails", result: &backend.ValidationError{Err: backend.ErrInvalidToken}},
		{name: "olderSucceeds"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := &MockChecker{}
			v, _, cache := newValidator(checker)
			ctx := context.Background()

			_, err := v.Validate(ctx, "R1", "T1", "tok1")
			require.NoError(t, err)

			started := make(chan struct{})
			release := make(chan struct{})
			checker.ValidateFunc = func(_ context.Context, restaurantID, tableID, _ string) (*backend.Validation, error) {
				close(started)
				<-release
				if tt.result != nil {
					return nil, tt.result
				}
				return &backend.Validation{Valid: true, Restaurant: backend.Restaurant{ID: restaurantID}, Table: backend.Table{ID: tableID}}, nil
			}

			done := make(chan error, 1)
			go func() {
				_, err := v.Validate(ctx, "R1", "T1", "other")
				done <- err
			}()
			<-started

			s, err := v.Validate(ctx, "R1", "T1", "tok1")
			require.NoError(t, err)
			assert.Equal(t, "tok1", s.Token)

			close(release)
			err = <-done
			if tt.result != nil {
				assert.ErrorIs(t, err, backend.ErrInvalidToken)
			} else {
				assert.NoError(t, err)
			}

			assert.Equal(t, Valid, v.State())
			current, ok := v.Current()
			require.True(t, ok)
			assert.Equal(t, "tok1", current.Token)
			_, err = cache.Get(durable.QRValidationKey)
			assert.NoError(t, err)
		})
	}
}
