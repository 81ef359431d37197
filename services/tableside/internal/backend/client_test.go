package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/appetiteclub/tableside/services/tableside/internal/loading"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *loading.Coordinator) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	coord := loading.NewCoordinator()
	return NewClient(srv.URL, coord, WithRetryDelay(10*time.Millisecond)), coord
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    any
		wantErr error
	}{
		{
			name:   "valid",
			status: http.StatusOK,
			body: map[string]any{
				"valid":      true,
				"restaurant": map[string]any{"_id": "r1", "name": "Cantina", "active": true},
				"table":      map[string]any{"_id": "t1", "number": 7},
			},
		},
		{name: "missingParams", status: http.StatusBadRequest, body: map[string]any{"error": "Missing parameters"}, wantErr: ErrMissingParams},
		{name: "forbidden", status: http.StatusForbidden, body: map[string]any{"error": "Invalid or expired QR code"}, wantErr: ErrInvalidToken},
		{name: "notFound", status: http.StatusNotFound, body: map[string]any{"error": "Restaurant not found"}, wantErr: ErrInvalidToken},
		{name: "notValid", status: http.StatusOK, body: map[string]any{"valid": false}, wantErr: ErrInvalidToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/public/menu/validate", r.URL.Path)
				assert.Equal(t, "r1", r.URL.Query().Get("r"))
				assert.Equal(t, "t1", r.URL.Query().Get("t"))
				assert.Equal(t, "tok", r.URL.Query().Get("token"))
				writeJSON(w, tt.status, tt.body)
			})

			v, err := client.Validate(context.Background(), "r1", "t1", "tok")
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				var ve *ValidationError
				assert.ErrorAs(t, err, &ve)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "Cantina", v.Restaurant.Name)
			assert.Equal(t, TableNumber("7"), v.Table.Number)
		})
	}
}

func TestValidateMissingParamsSkipsNetwork(t *testing.T) {
	var calls int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	})

	_, err := client.Validate(context.Background(), "r1", "", "tok")
	assert.ErrorIs(t, err, ErrMissingParams)
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestValidateServerError(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "Failed to validate QR code"})
	})

	_, err := client.Validate(context.Background(), "r1", "t1", "tok")
	var se *ServerError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusInternalServerError, se.Status)
	assert.Equal(t, "Failed to validate QR code", se.Message)
}

func TestCreateOrder(t *testing.T) {
	client, coord := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		var req OrderRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "dine-in", req.OrderType)
		assert.Len(t, req.Items, 1)

		writeJSON(w, http.StatusCreated, map[string]any{
			"message": "Order created successfully",
			"order":   map[string]any{"id": "o1", "total": 200, "status": "pending"},
		})
	})

	order, err := client.WithToken("tok").CreateOrder(context.Background(), OrderRequest{
		Restaurant: "r1",
		Items:      []OrderItem{{Item: "a", Qty: 2, ItemPrice: 100}},
		Total:      200,
		OrderType:  "dine-in",
	})
	require.NoError(t, err)
	assert.Equal(t, "o1", order.ID)
	assert.Equal(t, "pending", order.Status)

	full, background := coord.Counts()
	assert.Zero(t, full)
	assert.Zero(t, background)
}

func TestPostIsNeverRetried(t *testing.T) {
	var calls int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		hj, ok := w.(http.Hijacker)
		require.True(t, ok)
		conn, _, err := hj.Hijack()
		require.NoError(t, err)
		conn.Close()
	})

	_, err := client.CreateOrder(context.Background(), OrderRequest{Restaurant: "r1"})
	assert.True(t, IsNetwork(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestGetRetriedOnceOnNetworkError(t *testing.T) {
	var calls int32
	client, coord := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			hj := w.(http.Hijacker)
			conn, _, _ := hj.Hijack()
			conn.Close()
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"order": map[string]any{"_id": "o1", "status": "ready"}})
	})

	var tiers []loading.Tier
	coord.Subscribe(func(s loading.State) { tiers = append(tiers, s.Tier) })

	order, err := client.WithTier(loading.Background).GetOrder(context.Background(), "o1")
	require.NoError(t, err)
	assert.Equal(t, "o1", order.ID)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.Equal(t, []loading.Tier{loading.Background, loading.Idle, loading.Full, loading.Idle}, tiers)
}

func TestGetNotRetriedOnServerError(t *testing.T) {
	var calls int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "Order not found"})
	})

	_, err := client.GetOrder(context.Background(), "missing")
	var se *ServerError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "Order not found", MessageOr(err, "fallback"))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestWaiterCallConflict(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req WaiterCallRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, WaiterCallTypeCall, req.Type)
		writeJSON(w, http.StatusConflict, map[string]any{"error": "There is already an active call for this table"})
	})

	err := client.CreateWaiterCall(context.Background(), WaiterCallRequest{TableID: "t1"})
	assert.True(t, IsConflict(err))
}

func TestOrderHistory(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/public/orders/history", r.URL.Path)
		assert.Equal(t, "+25884", r.URL.Query().Get("phone"))
		writeJSON(w, http.StatusOK, map[string]any{"orders": []map[string]any{
			{"_id": "o1", "status": "preparing", "restaurant": map[string]any{"_id": "r1", "name": "Cantina"}},
			{"_id": "o2", "status": "completed", "restaurant": "r1"},
		}})
	})

	orders, err := client.OrderHistory(context.Background(), "r1", "+25884")
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, Ref("r1"), orders[0].Restaurant)
	assert.Equal(t, Ref("r1"), orders[1].Restaurant)
}

func TestMessageOr(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "serverMessage", err: &ServerError{Status: 400, Message: "Table not found"}, want: "Table not found"},
		{name: "serverWithoutMessage", err: &ServerError{Status: 500}, want: "Failed to place order"},
		{name: "network", err: &NetworkError{Op: "x", Err: errors.New("down")}, want: "Failed to place order"},
		{name: "conflict", err: &ConflictError{Message: "busy"}, want: "busy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MessageOr(tt.err, "Failed to place order"); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
