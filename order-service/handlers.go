package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/FaydArshan94/Prodexa-sub000/shared/contracts"
	"github.com/FaydArshan94/Prodexa-sub000/shared/database"
	"github.com/FaydArshan94/Prodexa-sub000/shared/events"
	"github.com/FaydArshan94/Prodexa-sub000/shared/httputil"
)

const defaultCurrency = "INR"

// Handlers serves the order write path. Every mutation is committed to the
// order store first and published afterwards; a failed publish is logged and
// never fails the request.
type Handlers struct {
	orders    database.DocumentStore
	publisher *events.Publisher
	logger    *log.Logger
	now       func() time.Time
}

func NewHandlers(orders database.DocumentStore, publisher *events.Publisher, logger *log.Logger) *Handlers {
	return &Handlers{
		orders:    orders,
		publisher: publisher,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (h *Handlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/orders", h.CreateOrder).Methods(http.MethodPost)
	r.HandleFunc("/api/orders/{id}", h.GetOrder).Methods(http.MethodGet)
	r.HandleFunc("/api/orders/{id}/address", h.UpdateAddress).Methods(http.MethodPatch)
	r.HandleFunc("/api/orders/{id}/cancel", h.CancelOrder).Methods(http.MethodPost)
}

type createOrderRequest struct {
	User            string                `json:"user"`
	Items           []contracts.OrderItem `json:"items"`
	ShippingAddress contracts.Address     `json:"shippingAddress"`
	PaymentMethod   string                `json:"paymentMethod"`
}

func (req createOrderRequest) validate() string {
	if req.User == "" {
		return "user is required"
	}
	if len(req.Items) == 0 {
		return "at least one item is required"
	}
	for _, item := range req.Items {
		if item.Product == "" || item.Quantity <= 0 {
			return "every item needs a product and a positive quantity"
		}
		if item.Price.Amount < 0 {
			return "item price must not be negative"
		}
	}
	return validateAddress(req.ShippingAddress)
}

func validateAddress(a contracts.Address) string {
	if a.Street == "" || a.City == "" || a.Pincode == "" {
		return "shipping address needs street, city and pincode"
	}
	return ""
}

func totalPrice(items []contracts.OrderItem) contracts.Money {
	total := contracts.Money{Currency: defaultCurrency}
	for i, item := range items {
		if i == 0 && item.Price.Currency != "" {
			total.Currency = item.Price.Currency
		}
		total.Amount += item.Price.Amount * float64(item.Quantity)
	}
	return total
}

// CreateOrder handles POST /api/orders
func (h *Handlers) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if msg := req.validate(); msg != "" {
		httputil.WriteError(w, http.StatusBadRequest, msg)
		return
	}

	order := contracts.Order{
		ID:              uuid.NewString(),
		User:            req.User,
		Items:           req.Items,
		Status:          contracts.OrderStatusPending,
		TotalPrice:      totalPrice(req.Items),
		ShippingAddress: req.ShippingAddress,
		PaymentMethod:   req.PaymentMethod,
		CreatedAt:       h.now(),
	}
	if err := h.save(r, order); err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to create order")
		return
	}

	events.LogFailure(h.logger, h.publisher.OrderCreated(r.Context(), order), "order_id", order.ID)
	httputil.WriteJSON(w, http.StatusCreated, order)
}

// GetOrder handles GET /api/orders/{id}
func (h *Handlers) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, ok := h.load(w, r)
	if !ok {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, order)
}

// UpdateAddress handles PATCH /api/orders/{id}/address
func (h *Handlers) UpdateAddress(w http.ResponseWriter, r *http.Request) {
	var address contracts.Address
	if err := json.NewDecoder(r.Body).Decode(&address); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if msg := validateAddress(address); msg != "" {
		httputil.WriteError(w, http.StatusBadRequest, msg)
		return
	}

	order, ok := h.load(w, r)
	if !ok {
		return
	}
	if order.Status != contracts.OrderStatusPending {
		httputil.WriteError(w, http.StatusConflict, "address can only be changed while the order is pending")
		return
	}

	order.ShippingAddress = address
	order.UpdatedAt = h.now()
	if err := h.save(r, order); err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to update order")
		return
	}

	events.LogFailure(h.logger, h.publisher.OrderUpdated(r.Context(), order), "order_id", order.ID)
	httputil.WriteJSON(w, http.StatusOK, order)
}

// CancelOrder handles POST /api/orders/{id}/cancel
func (h *Handlers) CancelOrder(w http.ResponseWriter, r *http.Request) {
	order, ok := h.load(w, r)
	if !ok {
		return
	}
	switch order.Status {
	case contracts.OrderStatusPending, contracts.OrderStatusConfirmed:
	default:
		httputil.WriteError(w, http.StatusConflict, "order can no longer be cancelled")
		return
	}

	order.Status = contracts.OrderStatusCancelled
	order.UpdatedAt = h.now()
	if err := h.save(r, order); err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to cancel order")
		return
	}

	events.LogFailure(h.logger, h.publisher.OrderCancelled(r.Context(), order.ID), "order_id", order.ID)
	httputil.WriteJSON(w, http.StatusOK, order)
}

func (h *Handlers) load(w http.ResponseWriter, r *http.Request) (contracts.Order, bool) {
	id := mux.Vars(r)["id"]

	doc, err := h.orders.Get(r.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		httputil.WriteError(w, http.StatusNotFound, "order not found")
		return contracts.Order{}, false
	}
	if err != nil {
		h.logger.Error("Failed to load order", "order_id", id, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "failed to load order")
		return contracts.Order{}, false
	}

	var order contracts.Order
	if err := json.Unmarshal(doc, &order); err != nil {
		h.logger.Error("Stored order is corrupt", "order_id", id, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "failed to load order")
		return contracts.Order{}, false
	}
	return order, true
}

func (h *Handlers) save(r *http.Request, order contracts.Order) error {
	doc, err := json.Marshal(order)
	if err == nil {
		err = h.orders.Upsert(r.Context(), order.ID, doc)
	}
	if err != nil {
		h.logger.Error("Failed to save order", "order_id", order.ID, "error", err)
	}
	return err
}
