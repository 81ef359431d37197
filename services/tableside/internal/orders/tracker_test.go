package orders

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/appetiteclub/tableside/services/tableside/internal/backend"
	"github.com/appetiteclub/tableside/services/tableside/internal/durable"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type MockReader struct {
	GetOrderFunc     func(ctx context.Context, orderID string) (*backend.Order, error)
	OrderHistoryFunc func(ctx context.Context, restaurantID, phone string) ([]backend.Order, error)

	mu      sync.Mutex
	history []string
}

func (m *MockReader) GetOrder(ctx context.Context, orderID string) (*backend.Order, error) {
	if m.GetOrderFunc != nil {
		return m.GetOrderFunc(ctx, orderID)
	}
	return &backend.Order{ID: orderID, Status: "pending"}, nil
}

func (m *MockReader) OrderHistory(ctx context.Context, restaurantID, phone string) ([]backend.Order, error) {
	m.mu.Lock()
	m.history = append(m.history, restaurantID+"/"+phone)
	m.mu.Unlock()
	if m.OrderHistoryFunc != nil {
		return m.OrderHistoryFunc(ctx, restaurantID, phone)
	}
	return nil, nil
}

type MockRooms struct {
	mu     sync.Mutex
	joined []string
}

func (m *MockRooms) JoinOrder(orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.joined = append(m.joined, orderID)
	return nil
}

func (m *MockRooms) Joined() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.joined...)
}

func TestStatusAppliesFocusedOrder(t *testing.T) {
	rooms := &MockRooms{}
	tracker := NewTracker(&MockReader{}, rooms, durable.NewMemoryStore(), nil)

	order, err := tracker.Status(context.Background(), "o-1")
	require.NoError(t, err)
	assert.Equal(t, "o-1", order.ID)

	current, ok := tracker.Current()
	require.True(t, ok)
	assert.Equal(t, "o-1", current.ID)
	assert.Equal(t, []string{"o-1"}, rooms.Joined())
}

func TestStatusDiscardsResponseAfterFocusMoved(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	reader := &MockReader{
		GetOrderFunc: func(ctx context.Context, orderID string) (*backend.Order, error) {
			if orderID == "old" {
				close(entered)
				<-release
			}
			return &backend.Order{ID: orderID, Status: "ready"}, nil
		},
	}
	tracker := NewTracker(reader, nil, nil, nil)

	errc := make(chan error, 1)
	go func() {
		_, err := tracker.Status(context.Background(), "old")
		errc <- err
	}()
	<-entered

	_, err := tracker.Status(context.Background(), "new")
	require.NoError(t, err)
	close(release)

	assert.ErrorIs(t, <-errc, ErrStale)
	current, ok := tracker.Current()
	require.True(t, ok)
	assert.Equal(t, "new", current.ID)
}

func TestStatusErrors(t *testing.T) {
	boom := errors.New("boom")
	tracker := NewTracker(&MockReader{
		GetOrderFunc: func(context.Context, string) (*backend.Order, error) { return nil, boom },
	}, nil, nil, nil)

	_, err := tracker.Status(context.Background(), "")
	assert.ErrorIs(t, err, ErrMissingOrder)

	_, err = tracker.Status(context.Background(), "o-1")
	assert.ErrorIs(t, err, boom)
	_, ok := tracker.Current()
	assert.False(t, ok)
}

func TestHistoryUsesRememberedPhone(t *testing.T) {
	store := durable.NewMemoryStore()
	require.NoError(t, store.Put(durable.CustomerPhoneKey("R1"), "841234567"))
	reader := &MockReader{
		OrderHistoryFunc: func(context.Context, string, string) ([]backend.Order, error) {
			return []backend.Order{{ID: "o-1", Status: "completed"}}, nil
		},
	}
	tracker := NewTracker(reader, nil, store, nil)

	orders, err := tracker.History(context.Background(), "R1")
	require.NoError(t, err)
	assert.Len(t, orders, 1)
	assert.Equal(t, []string{"R1/841234567"}, reader.history)
}

func TestHistoryWithoutPhone(t *testing.T) {
	reader := &MockReader{}
	tracker := NewTracker(reader, nil, durable.NewMemoryStore(), nil)

	orders, err := tracker.History(context.Background(), "R1")
	require.NoError(t, err)
	assert.Empty(t, orders)
	assert.NotNil(t, orders)
	assert.Empty(t, reader.history, "no lookup without a phone")
}

func TestRestoreJoinsOpenOrders(t *testing.T) {
	store := durable.NewMemoryStore()
	require.NoError(t, store.Put(durable.CustomerPhoneKey("R1"), "111"))
	require.NoError(t, store.Put(durable.CustomerPhoneKey("R2"), "222"))
	require.NoError(t, store.Put(durable.CustomerNameKey("R3"), "Ana"))

	reader := &MockReader{
		OrderHistoryFunc: func(_ context.Context, restaurantID, _ string) ([]backend.Order, error) {
			switch restaurantID {
			case "R1":
				return []backend.Order{
					{ID: "a", Status: "pending"},
					{ID: "b", Status: "completed"},
					{ID: "c", Status: "ready"},
					{ID: "d", Status: "cancelled"},
				}, nil
			default:
				return nil, &backend.NetworkError{Op: "order history", Err: errors.New("offline")}
			}
		},
	}
	rooms := &MockRooms{}
	tracker := NewTracker(reader, rooms, store, nil)

	joined := tracker.Restore(context.Background())

	assert.Equal(t, 2, joined)
	assert.Equal(t, []string{"a", "c"}, rooms.Joined())
	assert.ElementsMatch(t, []string{"R1/111", "R2/222"}, reader.history)
}
