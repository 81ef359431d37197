package tableside

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/tableside/services/tableside/internal/loading"
	"github.com/appetiteclub/tableside/services/tableside/internal/realtime"
	"github.com/google/uuid"
)

const (
	sseKeepalive   = 30 * time.Second
	sseRetryMillis = 2000
	loadingBuffer  = 16
)

// EventSource is the realtime side of the stream.
type EventSource interface {
	Subscribe(subscriberID string) <-chan realtime.Event
	Unsubscribe(subscriberID string)
}

// SSEHandler streams loading state and realtime events to the browser.
type SSEHandler struct {
	events    EventSource
	loading   *loading.Coordinator
	logger    apt.Logger
	keepalive time.Duration
}

func NewSSEHandler(events EventSource, coordinator *loading.Coordinator, logger apt.Logger) *SSEHandler {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	return &SSEHandler{
		events:    events,
		loading:   coordinator,
		logger:    logger,
		keepalive: sseKeepalive,
	}
}

func (h *SSEHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	subscriberID := uuid.New().String()
	h.logger.Info("new SSE connection", "subscriber_id", subscriberID)

	var realtimeEvents <-chan realtime.Event
	if h.events != nil {
		realtimeEvents = h.events.Subscribe(subscriberID)
		defer h.events.Unsubscribe(subscriberID)
	}

	// Loading listeners run synchronously on the caller; never block them.
	var loadingStates chan loading.State
	if h.loading != nil {
		loadingStates = make(chan loading.State, loadingBuffer)
		unsubscribe := h.loading.Subscribe(func(s loading.State) {
			select {
			case loadingStates <- s:
			default:
				h.logger.Debug("loading channel full, dropping state", "subscriber_id", subscriberID)
			}
		})
		defer unsubscribe()
	}

	fmt.Fprintf(w, ": connected\n\n")
	fmt.Fprintf(w, "retry: %d\n\n", sseRetryMillis)
	flush(w)

	if h.loading != nil {
		sendSSEEvent(w, "loading", h.loading.State())
	}

	ticker := time.NewTicker(h.keepalive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			h.logger.Info("SSE client disconnected", "subscriber_id", subscriberID)
			return

		case <-ticker.C:
			fmt.Fprintf(w, ": keepalive\n\n")
			flush(w)

		case state := <-loadingStates:
			sendSSEEvent(w, "loading", state)

		case evt, ok := <-realtimeEvents:
			if !ok {
				h.logger.Info("realtime event channel closed", "subscriber_id", subscriberID)
				return
			}
			sendSSEEvent(w, string(evt.Kind), evt)
		}
	}
}

// sendSSEEvent writes one JSON encoded event.
func sendSSEEvent(w http.ResponseWriter, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\n", eventType)
	fmt.Fprintf(w, "data: %s\n\n", data)
	flush(w)
}

func flush(w http.ResponseWriter) {
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}
