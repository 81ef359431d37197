// Package tableside exposes the table client runtime over HTTP and SSE.
package tableside

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/apt/telemetry"
	"github.com/appetiteclub/tableside/services/tableside/internal/cart"
	"github.com/appetiteclub/tableside/services/tableside/internal/checkout"
	"github.com/appetiteclub/tableside/services/tableside/internal/loading"
	"github.com/appetiteclub/tableside/services/tableside/internal/orders"
	"github.com/appetiteclub/tableside/services/tableside/internal/realtime"
	"github.com/appetiteclub/tableside/services/tableside/internal/session"
	"github.com/appetiteclub/tableside/services/tableside/internal/throttle"
	"github.com/go-chi/chi/v5"
)

const MaxBodyBytes = 1 << 20

type Handler struct {
	logger   apt.Logger
	tlm      *telemetry.HTTP
	sessions *session.Validator
	cart     *cart.Guard
	checkout *checkout.Coordinator
	orders   *orders.Tracker
	actions  *throttle.TableActions
	rooms    *realtime.Multiplexer
	loading  *loading.Coordinator
	sse      *SSEHandler
}

type HandlerDeps struct {
	Sessions *session.Validator
	Cart     *cart.Guard
	Checkout *checkout.Coordinator
	Orders   *orders.Tracker
	Actions  *throttle.TableActions
	Rooms    *realtime.Multiplexer
	Loading  *loading.Coordinator
}

func NewHandler(hd HandlerDeps, logger apt.Logger) *Handler {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	var events EventSource
	if hd.Rooms != nil {
		events = hd.Rooms
	}
	return &Handler{
		logger:   logger,
		tlm:      telemetry.NewHTTP(),
		sessions: hd.Sessions,
		cart:     hd.Cart,
		checkout: hd.Checkout,
		orders:   hd.Orders,
		actions:  hd.Actions,
		rooms:    hd.Rooms,
		loading:  hd.Loading,
		sse:      NewSSEHandler(events, hd.Loading, logger),
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/session", func(r chi.Router) {
		r.Get("/", h.GetSession)
		r.Post("/validate", h.ValidateSession)
	})

	r.Route("/cart", func(r chi.Router) {
		r.Get("/", h.GetCart)
		r.Post("/items", h.AddItem)
		r.Post("/restaurant", h.SwitchRestaurant)
		r.Patch("/lines/{index}", h.UpdateQuantity)
		r.Delete("/lines/{index}", h.RemoveLine)
		r.Post("/lines/{index}/customizations", h.AddCustomization)
	})

	r.Route("/checkout", func(r chi.Router) {
		r.Get("/prefill", h.Prefill)
		r.Post("/", h.Submit)
	})

	r.Route("/orders", func(r chi.Router) {
		r.Get("/history", h.OrderHistory)
		r.Get("/{id}", h.OrderStatus)
	})

	r.Post("/waiter-calls", h.CallWaiter)
	r.Post("/reactions", h.React)
	r.Get("/status", h.Status)
	r.Method(http.MethodGet, "/events", h.sse)
}

// Session

type ValidateRequest struct {
	RestaurantID string `json:"restaurant_id"`
	TableID      string `json:"table_id"`
	Token        string `json:"token"`
}

type SessionResponse struct {
	State   session.State    `json:"state"`
	Session *session.Session `json:"session,omitempty"`
}

func (h *Handler) ValidateSession(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.ValidateSession")
	defer finish()

	log := h.log(r)

	req, ok := decode[ValidateRequest](w, r, log)
	if !ok {
		return
	}

	s, err := h.sessions.Validate(r.Context(), req.RestaurantID, req.TableID, req.Token)
	if err != nil {
		log.Info("session validation failed", "restaurant_id", req.RestaurantID, "table_id", req.TableID, "error", err.Error())
		h.respondErr(w, err, "Could not validate table")
		return
	}

	h.ensureRoom(log, h.rooms.JoinRestaurant, s.RestaurantID)
	h.ensureRoom(log, h.rooms.JoinTable, s.TableID)

	apt.RespondSuccess(w, SessionResponse{State: h.sessions.State(), Session: &s})
}

func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.GetSession")
	defer finish()

	resp := SessionResponse{State: h.sessions.State()}
	if s, ok := h.sessions.Current(); ok {
		resp.Session = &s
	}
	apt.RespondSuccess(w, resp)
}

// Cart

type AddItemRequest struct {
	Item           cart.Item            `json:"item"`
	Qty            int                  `json:"qty"`
	Customizations []cart.Customization `json:"customizations"`
}

type QuantityRequest struct {
	Delta int `json:"delta"`
}

type SwitchRequest struct {
	RestaurantID string `json:"restaurant_id"`
	Confirm      bool   `json:"confirm"`
}

type SwitchResponse struct {
	Outcome cart.Outcome  `json:"outcome"`
	Cart    cart.Snapshot `json:"cart"`
}

func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.GetCart")
	defer finish()

	apt.RespondSuccess(w, h.cart.Snapshot())
}

func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.AddItem")
	defer finish()

	log := h.log(r)

	req, ok := decode[AddItemRequest](w, r, log)
	if !ok {
		return
	}
	if req.Qty == 0 {
		req.Qty = 1
	}

	if err := h.cart.AddItem(req.Item, req.Qty, req.Customizations); err != nil {
		log.Debug("cannot add item", "item_id", req.Item.ID, "error", err.Error())
		h.respondErr(w, err, "Could not add item")
		return
	}

	w.WriteHeader(http.StatusCreated)
	apt.RespondSuccess(w, h.cart.Snapshot())
}

func (h *Handler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.UpdateQuantity")
	defer finish()

	log := h.log(r)

	index, ok := parseIndex(w, r, log)
	if !ok {
		return
	}
	req, ok := decode[QuantityRequest](w, r, log)
	if !ok {
		return
	}

	if err := h.cart.UpdateQuantity(index, req.Delta); err != nil {
		h.respondErr(w, err, "Could not update quantity")
		return
	}
	apt.RespondSuccess(w, h.cart.Snapshot())
}

func (h *Handler) RemoveLine(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.RemoveLine")
	defer finish()

	log := h.log(r)

	index, ok := parseIndex(w, r, log)
	if !ok {
		return
	}

	if err := h.cart.RemoveLine(index); err != nil {
		h.respondErr(w, err, "Could not remove line")
		return
	}
	apt.RespondSuccess(w, h.cart.Snapshot())
}

func (h *Handler) AddCustomization(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.AddCustomization")
	defer finish()

	log := h.log(r)

	index, ok := parseIndex(w, r, log)
	if !ok {
		return
	}
	req, ok := decode[cart.Customization](w, r, log)
	if !ok {
		return
	}

	if err := h.cart.AddCustomization(index, req); err != nil {
		h.respondErr(w, err, "Could not add customization")
		return
	}
	apt.RespondSuccess(w, h.cart.Snapshot())
}

// SwitchRestaurant moves the cart to another restaurant. A non-empty cart
// is cleared only when the request confirms it.
func (h *Handler) SwitchRestaurant(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.SwitchRestaurant")
	defer finish()

	log := h.log(r)

	req, ok := decode[SwitchRequest](w, r, log)
	if !ok {
		return
	}
	if req.RestaurantID == "" {
		apt.RespondError(w, http.StatusBadRequest, "restaurant_id is required")
		return
	}

	outcome := h.cart.SwitchRestaurant(req.RestaurantID, cart.Always(req.Confirm))
	log.Info("cart restaurant switch", "restaurant_id", req.RestaurantID, "outcome", string(outcome))

	apt.RespondSuccess(w, SwitchResponse{Outcome: outcome, Cart: h.cart.Snapshot()})
}

// Checkout

func (h *Handler) Prefill(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.Prefill")
	defer finish()

	restaurantID := r.URL.Query().Get("restaurant")
	if restaurantID == "" {
		restaurantID = h.cart.RestaurantID()
	}
	apt.RespondSuccess(w, h.checkout.Prefill(restaurantID))
}

func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.Submit")
	defer finish()

	log := h.log(r)

	req, ok := decode[checkout.SubmitRequest](w, r, log)
	if !ok {
		return
	}

	res, err := h.checkout.Submit(r.Context(), req)
	if err != nil {
		log.Info("checkout rejected", "restaurant_id", req.RestaurantID, "error", err.Error())
		h.respondErr(w, err, checkout.FailedMessage)
		return
	}

	w.WriteHeader(http.StatusCreated)
	apt.RespondSuccess(w, res)
}

// Orders

func (h *Handler) OrderHistory(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.OrderHistory")
	defer finish()

	log := h.log(r)

	restaurantID := r.URL.Query().Get("restaurant")
	if restaurantID == "" {
		apt.RespondError(w, http.StatusBadRequest, "restaurant is required")
		return
	}

	list, err := h.orders.History(r.Context(), restaurantID)
	if err != nil {
		log.Error("cannot load order history", "restaurant_id", restaurantID, "error", err.Error())
		h.respondErr(w, err, "Failed to load history")
		return
	}
	apt.RespondSuccess(w, list)
}

func (h *Handler) OrderStatus(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.OrderStatus")
	defer finish()

	log := h.log(r)
	id := chi.URLParam(r, "id")

	order, err := h.orders.Status(r.Context(), id)
	if err != nil {
		log.Info("cannot load order status", "order_id", id, "error", err.Error())
		h.respondErr(w, err, "Could not load order")
		return
	}
	apt.RespondSuccess(w, order)
}

// Table actions

type WaiterCallRequest struct {
	TableID string `json:"table_id"`
	Type    string `json:"type"`
}

type ReactionRequest struct {
	TableID      string `json:"table_id"`
	ReactionType string `json:"reaction_type"`
	Comment      string `json:"comment"`
}

func (h *Handler) CallWaiter(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.CallWaiter")
	defer finish()

	log := h.log(r)

	req, ok := decode[WaiterCallRequest](w, r, log)
	if !ok {
		return
	}
	tableID := h.tableOr(req.TableID)

	if err := h.actions.CallWaiter(r.Context(), tableID, req.Type); err != nil {
		h.respondErr(w, err, throttle.WaiterCallFailed)
		return
	}

	w.WriteHeader(http.StatusCreated)
	apt.RespondSuccess(w, map[string]any{
		"table_id":         tableID,
		"cooldown_seconds": int(h.actions.WaiterCallRemaining(tableID).Round(time.Second).Seconds()),
	})
}

func (h *Handler) React(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.React")
	defer finish()

	log := h.log(r)

	req, ok := decode[ReactionRequest](w, r, log)
	if !ok {
		return
	}
	tableID := h.tableOr(req.TableID)

	if err := h.actions.React(r.Context(), tableID, req.ReactionType, req.Comment); err != nil {
		h.respondErr(w, err, throttle.ReactionSendFailed)
		return
	}

	w.WriteHeader(http.StatusCreated)
	apt.RespondSuccess(w, map[string]any{
		"table_id":         tableID,
		"cooldown_seconds": int(h.actions.ReactionRemaining(tableID).Round(time.Second).Seconds()),
	})
}

// Status

type StatusResponse struct {
	Connected      bool                   `json:"connected"`
	Loading        loading.State          `json:"loading"`
	Session        session.State          `json:"session"`
	Notification   *realtime.Notification `json:"notification,omitempty"`
	MenuChangedAt  *time.Time             `json:"menu_changed_at,omitempty"`
	TableChangedAt *time.Time             `json:"table_changed_at,omitempty"`
}

func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.Status")
	defer finish()

	resp := StatusResponse{
		Connected:      h.rooms.Connected(),
		Loading:        h.loading.State(),
		Session:        h.sessions.State(),
		MenuChangedAt:  timePtr(h.rooms.LastChanged(realtime.ScopeMenu)),
		TableChangedAt: timePtr(h.rooms.LastChanged(realtime.ScopeTable)),
	}
	if n, ok := h.rooms.Notification(); ok {
		resp.Notification = &n
	}
	apt.RespondSuccess(w, resp)
}

// Helpers

func (h *Handler) log(r *http.Request) apt.Logger {
	return h.logger.With("request_id", r.Context().Value("request_id"))
}

// tableOr falls back to the table of the validated session.
func (h *Handler) tableOr(tableID string) string {
	if tableID != "" {
		return tableID
	}
	if s, ok := h.sessions.Current(); ok {
		return s.TableID
	}
	return ""
}

func (h *Handler) ensureRoom(log apt.Logger, join func(string) error, id string) {
	if err := join(id); err != nil {
		log.Error("cannot join room", "id", id, "error", err.Error())
	}
}

func parseIndex(w http.ResponseWriter, r *http.Request, log apt.Logger) (int, bool) {
	raw := chi.URLParam(r, "index")
	index, err := strconv.Atoi(raw)
	if err != nil {
		log.Debug("invalid line index", "index", raw)
		apt.RespondError(w, http.StatusBadRequest, "Invalid line index")
		return 0, false
	}
	return index, true
}

func decode[T any](w http.ResponseWriter, r *http.Request, log apt.Logger) (T, bool) {
	var req T

	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	defer r.Body.Close()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		log.Debug("failed to read request body", "error", err)
		apt.RespondError(w, http.StatusBadRequest, "Failed to read request body")
		return req, false
	}
	if len(body) == 0 {
		return req, true
	}

	if err := json.Unmarshal(body, &req); err != nil {
		log.Debug("failed to decode request body", "error", err)
		apt.RespondError(w, http.StatusBadRequest, "Invalid JSON in request body")
		return req, false
	}
	return req, true
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
