// Package backend is the HTTP client for the restaurant backend. Every call is
// tracked by the shared loading coordinator and failures are classified into
// ValidationError, NetworkError, ConflictError and ServerError.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/tableside/services/tableside/internal/loading"
)

const (
	DefaultTimeout    = 15 * time.Second
	DefaultRetryDelay = time.Second

	maxBodySize = 4 << 20
)

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

func WithRetryDelay(d time.Duration) Option {
	return func(c *Client) { c.retryDelay = d }
}

func WithLogger(logger apt.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Client calls the backend. The zero tier is Full; use WithTier for calls
// that must not block the UI.
type Client struct {
	baseURL    string
	httpClient *http.Client
	loading    *loading.Coordinator
	logger     apt.Logger
	tier       loading.Tier
	token      string
	retryDelay time.Duration
}

func NewClient(baseURL string, coordinator *loading.Coordinator, opts ...Option) *Client {
	if coordinator == nil {
		coordinator = loading.NewCoordinator()
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
		loading:    coordinator,
		logger:     apt.NewNoopLogger(),
		tier:       loading.Full,
		retryDelay: DefaultRetryDelay,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// WithTier returns a copy whose calls are tracked under tier.
func (c *Client) WithTier(tier loading.Tier) *Client {
	cp := *c
	cp.tier = tier
	return &cp
}

// WithToken returns a copy that sends token as a bearer credential.
func (c *Client) WithToken(token string) *Client {
	cp := *c
	cp.token = token
	return &cp
}

// Validate checks a scanned table code. It is never retried.
func (c *Client) Validate(ctx context.Context, restaurantID, tableID, token string) (*Validation, error) {
	if restaurantID == "" || tableID == "" || token == "" {
		return nil, &ValidationError{Err: ErrMissingParams}
	}

	q := url.Values{}
	q.Set("r", restaurantID)
	q.Set("t", tableID)
	q.Set("token", token)

	var v Validation
	err := c.do(ctx, "validate table", http.MethodGet, "/public/menu/validate", q, nil, &v, false)
	if err != nil {
		return nil, classifyValidation(err)
	}
	if !v.Valid {
		return nil, &ValidationError{Err: ErrInvalidToken}
	}
	return &v, nil
}

// CreateOrder submits an order. Writes are never retried.
func (c *Client) CreateOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	var resp struct {
		Message string `json:"message"`
		Order   Order  `json:"order"`
	}
	if err := c.do(ctx, "create order", http.MethodPost, "/orders", nil, req, &resp, false); err != nil {
		return nil, err
	}
	if resp.Order.ID == "" {
		return nil, &ServerError{Status: http.StatusCreated, Message: "order created without id"}
	}
	return &resp.Order, nil
}

func (c *Client) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	var resp struct {
		Order Order `json:"order"`
	}
	path := "/orders/" + url.PathEscape(orderID)
	if err := c.do(ctx, "get order", http.MethodGet, path, nil, nil, &resp, true); err != nil {
		return nil, err
	}
	return &resp.Order, nil
}

// OrderHistory lists the orders placed with phone at a restaurant.
func (c *Client) OrderHistory(ctx context.Context, restaurantID, phone string) ([]Order, error) {
	q := url.Values{}
	q.Set("restaurant", restaurantID)
	q.Set("phone", phone)

	var resp struct {
		Orders []Order `json:"orders"`
	}
	if err := c.do(ctx, "order history", http.MethodGet, "/public/orders/history", q, nil, &resp, true); err != nil {
		return nil, err
	}
	return resp.Orders, nil
}

func (c *Client) CreateWaiterCall(ctx context.Context, req WaiterCallRequest) error {
	if req.Type == "" {
		req.Type = WaiterCallTypeCall
	}
	return c.do(ctx, "call waiter", http.MethodPost, "/waiter-calls", nil, req, nil, false)
}

func (c *Client) CreateReaction(ctx context.Context, req ReactionRequest) error {
	return c.do(ctx, "send reaction", http.MethodPost, "/client-reactions", nil, req, nil, false)
}

// do tracks the call on the coordinator. A GET that fails at the network
// level is retried once after the retry delay, tracked as full work.
func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body, out any, retry bool) error {
	stop := c.loading.Track(c.tier)
	err := c.roundTrip(ctx, op, method, path, query, body, out)
	stop()

	if err == nil || !retry || method != http.MethodGet || !IsNetwork(err) || ctx.Err() != nil {
		return err
	}

	c.logger.Debug("retrying request", "op", op, "delay", c.retryDelay.String(), "error", err.Error())

	timer := time.NewTimer(c.retryDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return err
	case <-timer.C:
	}

	stop = c.loading.Track(loading.Full)
	defer stop()
	return c.roundTrip(ctx, op, method, path, query, body, out)
}

func (c *Client) roundTrip(ctx context.Context, op, method, path string, query url.Values, body, out any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("%s: create request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return &NetworkError{Op: op, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var eb errorBody
		_ = json.Unmarshal(data, &eb)
		msg := eb.Message
		if msg == "" {
			msg = eb.Error
		}
		c.logger.Debug("backend error", "op", op, "status", resp.StatusCode, "message", msg)
		if resp.StatusCode == http.StatusConflict {
			return &ConflictError{Message: msg}
		}
		return &ServerError{Status: resp.StatusCode, Message: msg}
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}
