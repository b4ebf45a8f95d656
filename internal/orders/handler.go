package orders

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/joao-fontenele/cafe-pos/internal/domain"
	"github.com/joao-fontenele/cafe-pos/internal/messaging"
	"github.com/joao-fontenele/cafe-pos/internal/payment"
)

const (
	idempotencyKeyHeader = "Idempotency-Key"
	replayedHeader       = "X-Idempotency-Replayed"
)

type Store interface {
	Create(ctx context.Context, order *domain.Order) (*domain.Order, bool, error)
	GetByID(ctx context.Context, id string) (*domain.Order, error)
	List(ctx context.Context, limit int) ([]domain.Order, error)
}

type Authenticator interface {
	Authenticate(ctx context.Context, pin string) (Operator, error)
}

type Replayer interface {
	Get(ctx context.Context, idempotencyKey string) (*domain.Order, error)
	Put(ctx context.Context, order *domain.Order) error
}

type Publisher interface {
	Publish(ctx context.Context, key, eventType string, event any) error
}

type Handler struct {
	store     Store
	operators Authenticator
	replay    Replayer
	producer  Publisher
	allocator *payment.Allocator
	logger    *slog.Logger
}

// NewHandler wires the order endpoint. replay and producer may be nil.
func NewHandler(store Store, operators Authenticator, replay Replayer, producer Publisher, logger *slog.Logger) *Handler {
	return &Handler{
		store:     store,
		operators: operators,
		replay:    replay,
		producer:  producer,
		allocator: payment.NewAllocator(payment.DefaultTolerance),
		logger:    logger,
	}
}

// HandleCreate accepts an order exactly once per idempotency key. Repeats get
// the original order back with 200 and the replay header.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var payload domain.OrderPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if key := r.Header.Get(idempotencyKeyHeader); key != "" {
		if payload.IdempotencyKey == "" {
			payload.IdempotencyKey = key
		} else if payload.IdempotencyKey != key {
			h.writeValidation(w, domain.NewValidationError("idempotency_key", "header and body idempotency keys differ"))
			return
		}
	}

	if err := validatePayload(payload, h.allocator); err != nil {
		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			h.writeValidation(w, verr)
			return
		}
		h.logger.Error("failed to validate order", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if order := h.cached(ctx, payload.IdempotencyKey); order != nil {
		h.logger.Info("order replayed from cache", "order_id", order.ID, "idempotency_key", order.IdempotencyKey)
		w.Header().Set(replayedHeader, "true")
		h.writeJSON(w, http.StatusOK, order)
		return
	}

	operator, err := h.operators.Authenticate(ctx, payload.OperatorPIN)
	if errors.Is(err, ErrInvalidPIN) {
		h.logger.Warn("operator PIN rejected", "idempotency_key", payload.IdempotencyKey)
		h.writeError(w, http.StatusUnauthorized, ErrInvalidPIN.Error())
		return
	}
	if err != nil {
		h.logger.Error("failed to authenticate operator", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	order := newOrder(payload, operator.ID, time.Now().UTC())
	stored, created, err := h.store.Create(ctx, order)
	if err != nil {
		h.logger.Error("failed to create order", "error", err, "idempotency_key", payload.IdempotencyKey)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if h.replay != nil {
		if err := h.replay.Put(ctx, stored); err != nil {
			h.logger.Warn("failed to cache order for replay", "error", err, "order_id", stored.ID)
		}
	}

	if !created {
		h.logger.Info("duplicate order submission", "order_id", stored.ID, "idempotency_key", stored.IdempotencyKey)
		w.Header().Set(replayedHeader, "true")
		h.writeJSON(w, http.StatusOK, stored)
		return
	}

	h.publishCreated(ctx, stored)

	h.logger.Info("order created",
		"order_id", stored.ID,
		"operator_id", stored.OperatorID,
		"total", stored.Total.StringFixed(2),
	)
	h.writeJSON(w, http.StatusCreated, stored)
}

func (h *Handler) cached(ctx context.Context, key string) *domain.Order {
	if h.replay == nil {
		return nil
	}
	order, err := h.replay.Get(ctx, key)
	if err != nil {
		h.logger.Warn("replay cache unavailable", "error", err)
		return nil
	}
	return order
}

func (h *Handler) publishCreated(ctx context.Context, order *domain.Order) {
	if h.producer == nil {
		return
	}
	event := domain.OrderCreatedEvent{
		OrderID:        order.ID,
		IdempotencyKey: order.IdempotencyKey,
		CustomerID:     order.CustomerID,
		Items:          order.Items,
		Total:          order.Total,
		Timestamp:      order.CreatedAt,
	}
	if err := h.producer.Publish(ctx, order.ID, messaging.EventOrderCreated, event); err != nil {
		h.logger.Error("failed to publish order created event", "error", err, "order_id", order.ID)
	}
}

func newOrder(p domain.OrderPayload, operatorID string, now time.Time) *domain.Order {
	var customerID string
	if p.Customer != nil {
		customerID = p.Customer.ID
	}
	return &domain.Order{
		IdempotencyKey: p.IdempotencyKey,
		OperatorID:     operatorID,
		CustomerID:     customerID,
		Mode:           p.Mode,
		Items:          p.Items,
		Payments:       p.Payment.Parts,
		ItemPayments:   p.Payment.Items,
		Subtotal:       p.Subtotal,
		Discount:       p.TotalDiscount,
		Total:          p.FinalTotal,
		Status:         domain.OrderStatusCreated,
		CreatedAt:      now,
	}
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	order, err := h.store.GetByID(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to get order", "error", err, "id", id)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if order == nil {
		h.writeError(w, http.StatusNotFound, "order not found")
		return
	}

	h.writeJSON(w, http.StatusOK, order)
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			h.writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	orders, err := h.store.List(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list orders", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.logger.Info("orders listed", "count", len(orders))
	h.writeJSON(w, http.StatusOK, orders)
}

func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) writeValidation(w http.ResponseWriter, verr *domain.ValidationError) {
	h.writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": verr.Message, "field": verr.Field})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
