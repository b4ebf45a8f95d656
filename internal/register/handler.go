package register

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/joao-fontenele/cafe-pos/internal/cart"
	"github.com/joao-fontenele/cafe-pos/internal/catalog"
	"github.com/joao-fontenele/cafe-pos/internal/checkout"
	"github.com/joao-fontenele/cafe-pos/internal/domain"
	"github.com/joao-fontenele/cafe-pos/internal/payment"
	"github.com/joao-fontenele/cafe-pos/internal/reconcile"
)

type Catalog interface {
	Lookup(ctx context.Context, productID string) (catalog.Product, error)
	Customer(ctx context.Context, id string) (domain.Customer, error)
	Refresh(ctx context.Context) (int, error)
}

type Syncer interface {
	SyncNow(ctx context.Context) (reconcile.Summary, error)
	LastSummary() (reconcile.Summary, bool)
}

type PendingCounter interface {
	CountPending(ctx context.Context) (int, error)
}

type Dependencies struct {
	Cart      *cart.Cart
	Pipeline  *checkout.Pipeline
	Allocator *payment.Allocator
	Catalog   Catalog
	Syncer    Syncer
	Queue     PendingCounter
	Receipts  *ReceiptBox
	Logger    *slog.Logger
}

// Handler is the operator terminal's HTTP API.
type Handler struct {
	cart      *cart.Cart
	pipeline  *checkout.Pipeline
	allocator *payment.Allocator
	catalog   Catalog
	syncer    Syncer
	queue     PendingCounter
	receipts  *ReceiptBox
	logger    *slog.Logger
}

func NewHandler(deps Dependencies) *Handler {
	return &Handler{
		cart:      deps.Cart,
		pipeline:  deps.Pipeline,
		allocator: deps.Allocator,
		catalog:   deps.Catalog,
		syncer:    deps.Syncer,
		queue:     deps.Queue,
		receipts:  deps.Receipts,
		logger:    deps.Logger,
	}
}

// Routes registers every endpoint on mux. wrap is applied to each handler,
// e.g. to tag spans with the route.
func (h *Handler) Routes(mux *http.ServeMux, wrap func(http.HandlerFunc) http.HandlerFunc) {
	if wrap == nil {
		wrap = func(f http.HandlerFunc) http.HandlerFunc { return f }
	}

	mux.HandleFunc("GET /cart", wrap(h.HandleGetCart))
	mux.HandleFunc("POST /cart/items", wrap(h.HandleAddItem))
	mux.HandleFunc("PATCH /cart/items/{key}", wrap(h.HandleUpdateItem))
	mux.HandleFunc("DELETE /cart/items/{key}", wrap(h.HandleRemoveItem))
	mux.HandleFunc("PUT /cart/discount", wrap(h.HandleSetDiscount))
	mux.HandleFunc("PUT /cart/mode", wrap(h.HandleSetMode))
	mux.HandleFunc("PUT /cart/customer", wrap(h.HandleSetCustomer))
	mux.HandleFunc("GET /checkout", wrap(h.HandleGetCheckout))
	mux.HandleFunc("POST /checkout", wrap(h.HandleCheckout))
	mux.HandleFunc("POST /checkout/confirm", wrap(h.HandleConfirm))
	mux.HandleFunc("POST /checkout/credential", wrap(h.HandleCredential))
	mux.HandleFunc("POST /checkout/backspace", wrap(h.HandleBackspace))
	mux.HandleFunc("POST /checkout/cancel", wrap(h.HandleCancel))
	mux.HandleFunc("POST /checkout/dismiss", wrap(h.HandleDismiss))
	mux.HandleFunc("GET /sync", wrap(h.HandleSyncStatus))
	mux.HandleFunc("POST /sync", wrap(h.HandleSyncNow))
	mux.HandleFunc("POST /catalog/refresh", wrap(h.HandleRefreshCatalog))
	mux.HandleFunc("GET /receipts/last", wrap(h.HandleLastReceipt))
	mux.HandleFunc("GET /healthz", h.HandleHealth)
}

func (h *Handler) HandleGetCart(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.cart.Snapshot())
}

type addItemRequest struct {
	ProductID string `json:"product_id"`
	Size      string `json:"size"`
	Quantity  int    `json:"quantity"`
}

func (h *Handler) HandleAddItem(w http.ResponseWriter, r *http.Request) {
	var req addItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}

	product, err := h.catalog.Lookup(r.Context(), req.ProductID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	line, err := product.CartLine(req.Size, req.Quantity)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	snap, err := h.cart.Add(r.Context(), line)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	h.logger.Info("item added", "product_id", line.ProductID, "size", line.Size, "quantity", line.Quantity)
	h.writeJSON(w, http.StatusOK, snap)
}

// updateItemRequest sets an absolute quantity or applies a delta of +1/-1.
type updateItemRequest struct {
	Quantity *int `json:"quantity"`
	Delta    int  `json:"delta"`
}

func (h *Handler) HandleUpdateItem(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")

	var req updateItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var (
		snap cart.Snapshot
		err  error
	)
	switch {
	case req.Quantity != nil:
		snap, err = h.cart.SetQuantity(r.Context(), key, *req.Quantity)
	case req.Delta > 0:
		snap, err = h.cart.Increment(r.Context(), key)
	case req.Delta < 0:
		snap, err = h.cart.Decrement(r.Context(), key)
	default:
		h.writeError(w, http.StatusBadRequest, "quantity or delta is required")
		return
	}
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) HandleRemoveItem(w http.ResponseWriter, r *http.Request) {
	snap, err := h.cart.Remove(r.Context(), r.PathValue("key"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) HandleSetDiscount(w http.ResponseWriter, r *http.Request) {
	var policy domain.DiscountPolicy
	if err := json.NewDecoder(r.Body).Decode(&policy); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	snap, err := h.cart.SetDiscount(r.Context(), policy)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, snap)
}

type setModeRequest struct {
	Mode domain.Mode `json:"mode"`
}

func (h *Handler) HandleSetMode(w http.ResponseWriter, r *http.Request) {
	var req setModeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	snap, err := h.cart.SetMode(r.Context(), req.Mode)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	h.logger.Info("pricing mode changed", "mode", req.Mode)
	h.writeJSON(w, http.StatusOK, snap)
}

type setCustomerRequest struct {
	CustomerID string `json:"customer_id"`
}

// HandleSetCustomer selects a loyalty customer; an empty id clears it.
func (h *Handler) HandleSetCustomer(w http.ResponseWriter, r *http.Request) {
	var req setCustomerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var customer *domain.Customer
	if req.CustomerID != "" {
		c, err := h.catalog.Customer(r.Context(), req.CustomerID)
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
		customer = &c
	}

	snap, err := h.cart.SetCustomer(r.Context(), customer)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) HandleGetCheckout(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.pipeline.State())
}

// checkoutRequest carries exactly one payment representation: a single
// method, explicit amounts per method, or a per-unit item assignment.
type checkoutRequest struct {
	Method     domain.PaymentMethod    `json:"method"`
	Parts      []domain.PaymentPart    `json:"parts"`
	Items      []domain.ItemAssignment `json:"items"`
	Credential string                  `json:"credential"`
}

func (h *Handler) HandleCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	alloc, err := h.allocation(req, h.cart.Snapshot())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	st, err := h.pipeline.Checkout(r.Context(), checkout.Request{Payment: alloc, Credential: req.Credential})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, st)
}

func (h *Handler) allocation(req checkoutRequest, snap cart.Snapshot) (domain.PaymentAllocation, error) {
	if snap.Empty() {
		return domain.PaymentAllocation{}, domain.ErrEmptyCart
	}
	final := snap.Totals.FinalTotal

	switch {
	case len(req.Items) > 0:
		split := h.allocator.NewItemSplit(snap.Totals)
		for _, item := range req.Items {
			if err := split.Assign(item.LineKey, item.Method, item.Quantity); err != nil {
				return domain.PaymentAllocation{}, err
			}
		}
		return split.Allocation()
	case len(req.Parts) > 0:
		return h.allocator.Split(req.Parts, final)
	default:
		return h.allocator.Single(req.Method, final)
	}
}

func (h *Handler) HandleConfirm(w http.ResponseWriter, r *http.Request) {
	h.writeTransition(w)(h.pipeline.Confirm(r.Context()))
}

type credentialRequest struct {
	Digits string `json:"digits"`
}

func (h *Handler) HandleCredential(w http.ResponseWriter, r *http.Request) {
	var req credentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	h.writeTransition(w)(h.pipeline.EnterCredential(r.Context(), req.Digits))
}

func (h *Handler) HandleBackspace(w http.ResponseWriter, r *http.Request) {
	h.writeTransition(w)(h.pipeline.Backspace())
}

func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	h.writeTransition(w)(h.pipeline.Cancel())
}

func (h *Handler) HandleDismiss(w http.ResponseWriter, r *http.Request) {
	h.writeTransition(w)(h.pipeline.Dismiss())
}

type syncStatusResponse struct {
	Pending     int                `json:"pending"`
	LastSummary *reconcile.Summary `json:"last_summary,omitempty"`
}

func (h *Handler) HandleSyncStatus(w http.ResponseWriter, r *http.Request) {
	pending, err := h.queue.CountPending(r.Context())
	if err != nil {
		h.logger.Error("failed to count pending orders", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := syncStatusResponse{Pending: pending}
	if s, ok := h.syncer.LastSummary(); ok {
		resp.LastSummary = &s
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// HandleSyncNow is the operator's manual retry of queued orders.
func (h *Handler) HandleSyncNow(w http.ResponseWriter, r *http.Request) {
	summary, err := h.syncer.SyncNow(r.Context())
	if err != nil {
		h.logger.Error("manual sync failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	h.writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) HandleRefreshCatalog(w http.ResponseWriter, r *http.Request) {
	n, err := h.catalog.Refresh(r.Context())
	if err != nil {
		h.logger.Error("failed to refresh catalog", "error", err)
		h.writeError(w, http.StatusBadGateway, "catalog service unavailable")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int{"products": n})
}

func (h *Handler) HandleLastReceipt(w http.ResponseWriter, r *http.Request) {
	receipt, ok := h.receipts.Last()
	if !ok {
		h.writeError(w, http.StatusNotFound, "no receipt issued yet")
		return
	}
	h.writeJSON(w, http.StatusOK, receipt)
}

func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) writeTransition(w http.ResponseWriter) func(checkout.State, error) {
	return func(st checkout.State, err error) {
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
		h.writeJSON(w, http.StatusOK, st)
	}
}

func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		h.writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": verr.Message, "field": verr.Field})
	case errors.Is(err, domain.ErrEmptyCart):
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, domain.ErrIllegalTransition):
		h.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "not found")
	case domain.IsTransient(err):
		h.logger.Warn("upstream unavailable", "error", err)
		h.writeError(w, http.StatusServiceUnavailable, "upstream service unavailable")
	default:
		h.logger.Error("request failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
	}
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
