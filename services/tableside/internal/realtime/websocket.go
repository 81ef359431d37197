package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/tableside/pkg/event"
	"github.com/gorilla/websocket"
)

const (
	wsWriteWait   = 10 * time.Second
	minBackoff    = 1 * time.Second
	maxBackoff    = 30 * time.Second
	wsReadLimit   = 1 << 20
	wsDialTimeout = 10 * time.Second
)

type WebSocketOption func(*WebSocketTransport)

// WithBackoff sets the reconnect delay bounds.
func WithBackoff(lo, hi time.Duration) WebSocketOption {
	return func(t *WebSocketTransport) {
		t.minBackoff = lo
		t.maxBackoff = hi
	}
}

func WithHeader(h http.Header) WebSocketOption {
	return func(t *WebSocketTransport) { t.header = h }
}

// WebSocketTransport speaks JSON frames {"event","data"} over a websocket
// and reconnects with capped exponential backoff.
type WebSocketTransport struct {
	url        string
	logger     apt.Logger
	dialer     *websocket.Dialer
	header     http.Header
	minBackoff time.Duration
	maxBackoff time.Duration

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

func NewWebSocketTransport(url string, logger apt.Logger, opts ...WebSocketOption) *WebSocketTransport {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	t := &WebSocketTransport{
		url:        url,
		logger:     logger,
		dialer:     &websocket.Dialer{HandshakeTimeout: wsDialTimeout, Proxy: http.ProxyFromEnvironment},
		minBackoff: minBackoff,
		maxBackoff: maxBackoff,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

func (t *WebSocketTransport) Run(ctx context.Context, h Handler) error {
	backoff := t.minBackoff

	for {
		if ctx.Err() != nil || t.isClosed() {
			return nil
		}

		t.logger.Debug("attempting realtime connection", "url", t.url)
		conn, _, err := t.dialer.DialContext(ctx, t.url, t.header)
		if err != nil {
			t.logger.Info("realtime connection failed", "error", err.Error(), "retry_in", backoff.String())
			if !sleep(ctx, backoff) {
				return nil
			}
			backoff = next(backoff, t.maxBackoff)
			continue
		}
		backoff = t.minBackoff

		if !t.setConn(conn) {
			conn.Close()
			return nil
		}

		conn.SetReadLimit(wsReadLimit)
		h.Connected(&wsEmitter{conn: conn})
		err = t.receive(ctx, conn, h)
		t.setConn(nil)
		conn.Close()
		h.Disconnected(err)

		if !sleep(ctx, backoff) {
			return nil
		}
	}
}

func (t *WebSocketTransport) receive(ctx context.Context, conn *websocket.Conn, h Handler) error {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		var frame event.Frame
		if err := conn.ReadJSON(&frame); err != nil {
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				t.logger.Debug("skipping malformed realtime frame", "error", err.Error())
				continue
			}
			return err
		}
		if frame.Event == "" {
			continue
		}
		h.Received(frame.Event, frame.Data)
	}
}

func (t *WebSocketTransport) setConn(conn *websocket.Conn) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed && conn != nil {
		return false
	}
	t.conn = conn
	return true
}

func (t *WebSocketTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *WebSocketTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	if t.conn == nil {
		return nil
	}
	return t.conn.Close()
}

// wsEmitter serialises writes; gorilla connections allow one writer.
type wsEmitter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (e *wsEmitter) Emit(name string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
		return err
	}
	return e.conn.WriteJSON(event.Frame{Event: name, Data: data})
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func next(backoff, limit time.Duration) time.Duration {
	backoff *= 2
	if backoff > limit {
		return limit
	}
	return backoff
}
