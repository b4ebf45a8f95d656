package register

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-fontenele/cafe-pos/internal/cart"
	"github.com/joao-fontenele/cafe-pos/internal/catalog"
	"github.com/joao-fontenele/cafe-pos/internal/checkout"
	"github.com/joao-fontenele/cafe-pos/internal/domain"
	"github.com/joao-fontenele/cafe-pos/internal/payment"
	"github.com/joao-fontenele/cafe-pos/internal/pricing"
	"github.com/joao-fontenele/cafe-pos/internal/reconcile"
	"github.com/joao-fontenele/cafe-pos/internal/submission"
)

type fakeCatalog struct{}

func (fakeCatalog) Lookup(_ context.Context, id string) (catalog.Product, error) {
	switch id {
	case "latte":
		return catalog.Product{
			ID: "latte", Name: "Latte", Category: "coffee", BasePrice: decimal.NewFromInt(170),
			Sizes: map[string]decimal.Decimal{"large": decimal.NewFromInt(190)},
		}, nil
	case "cake":
		return catalog.Product{ID: "cake", Name: "Cake", Category: "dessert", BasePrice: decimal.NewFromInt(120)}, nil
	}
	return catalog.Product{}, domain.ErrNotFound
}

func (fakeCatalog) Customer(_ context.Context, id string) (domain.Customer, error) {
	return domain.Customer{ID: id, Name: "Mona"}, nil
}

func (fakeCatalog) Refresh(context.Context) (int, error) { return 2, nil }

type okSubmitter struct{}

func (okSubmitter) Submit(context.Context, domain.OrderPayload) (submission.Result, error) {
	return submission.Result{OrderID: "order-1"}, nil
}

type noopQueue struct{}

func (noopQueue) Enqueue(context.Context, domain.PendingOrder) error { return nil }
func (noopQueue) CountPending(context.Context) (int, error)         { return 3, nil }

type fakeSyncer struct{}

func (fakeSyncer) SyncNow(context.Context) (reconcile.Summary, error) {
	return reconcile.Summary{Trigger: reconcile.TriggerManual, Synced: 3}, nil
}

func (fakeSyncer) LastSummary() (reconcile.Summary, bool) { return reconcile.Summary{}, false }

func newTestMux(t *testing.T) *http.ServeMux {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := cart.New(pricing.NewEngine(pricing.DefaultConfig()), nil, logger)
	allocator := payment.NewAllocator(payment.DefaultTolerance)
	receipts := NewReceiptBox(logger)
	pipeline := checkout.NewPipeline(checkout.Config{PINLength: 4}, checkout.Dependencies{
		Cart:      c,
		Allocator: allocator,
		Submitter: okSubmitter{},
		Queue:     noopQueue{},
		Receipts:  receipts,
		Logger:    logger,
	})

	h := NewHandler(Dependencies{
		Cart:      c,
		Pipeline:  pipeline,
		Allocator: allocator,
		Catalog:   fakeCatalog{},
		Syncer:    fakeSyncer{},
		Queue:     noopQueue{},
		Receipts:  receipts,
		Logger:    logger,
	})
	mux := http.NewServeMux()
	h.Routes(mux, nil)
	return mux
}

func do(t *testing.T, mux *http.ServeMux, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func TestHandler_Cart(t *testing.T) {
	mux := newTestMux(t)

	rec := do(t, mux, http.MethodPost, "/cart/items", `{"product_id":"latte","size":"large","quantity":2}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	snap := decode[cart.Snapshot](t, rec)
	require.Len(t, snap.Lines, 1)
	assert.True(t, decimal.NewFromInt(380).Equal(snap.Totals.Subtotal))

	rec = do(t, mux, http.MethodPut, "/cart/discount", `{"rate":"20"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	snap = decode[cart.Snapshot](t, rec)
	assert.True(t, decimal.NewFromInt(304).Equal(snap.Totals.FinalTotal))

	rec = do(t, mux, http.MethodPatch, "/cart/items/latte:large", `{"delta":1}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3, decode[cart.Snapshot](t, rec).Lines[0].Quantity)

	rec = do(t, mux, http.MethodPatch, "/cart/items/latte:large", `{"quantity":-1}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(t, mux, http.MethodDelete, "/cart/items/espresso", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, mux, http.MethodPost, "/cart/items", `{"product_id":"espresso"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, mux, http.MethodPut, "/cart/discount", `{"rate":"150"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(t, mux, http.MethodPut, "/cart/customer", `{"customer_id":"c-1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Mona", decode[cart.Snapshot](t, rec).Customer.Name)
}

func TestHandler_CheckoutFlow(t *testing.T) {
	mux := newTestMux(t)
	require.Equal(t, http.StatusOK, do(t, mux, http.MethodPost, "/cart/items", `{"product_id":"latte","size":"large","quantity":2}`).Code)

	rec := do(t, mux, http.MethodPost, "/checkout", `{"parts":[{"method":"cash","amount":"200"},{"method":"card","amount":"100"}]}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(t, mux, http.MethodPost, "/checkout", `{"parts":[{"method":"cash","amount":"200"},{"method":"card","amount":"180"}]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	st := decode[checkout.State](t, rec)
	assert.Equal(t, checkout.StageAwaitingConfirmation, st.Stage)
	assert.Equal(t, domain.PaymentCash, st.PrimaryMethod)

	rec = do(t, mux, http.MethodPost, "/checkout/confirm", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, checkout.StageAwaitingAuth, decode[checkout.State](t, rec).Stage)

	rec = do(t, mux, http.MethodPost, "/checkout/credential", `{"digits":"1234"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	st = decode[checkout.State](t, rec)
	assert.Equal(t, checkout.StageSuccess, st.Stage)
	assert.Equal(t, "order-1", st.OrderID)

	rec = do(t, mux, http.MethodGet, "/receipts/last", "")
	require.Equal(t, http.StatusOK, rec.Code)
	receipt := decode[domain.Receipt](t, rec)
	assert.Equal(t, "order-1", receipt.OrderID)
	assert.Len(t, receipt.Payments, 2)

	rec = do(t, mux, http.MethodGet, "/cart", "")
	assert.True(t, decode[cart.Snapshot](t, rec).Empty())
}

func TestHandler_ItemSplitCheckout(t *testing.T) {
	mux := newTestMux(t)
	require.Equal(t, http.StatusOK, do(t, mux, http.MethodPost, "/cart/items", `{"product_id":"latte","size":"large","quantity":2}`).Code)
	require.Equal(t, http.StatusOK, do(t, mux, http.MethodPost, "/cart/items", `{"product_id":"cake"}`).Code)

	rec := do(t, mux, http.MethodPost, "/checkout", `{"items":[{"line_key":"latte:large","method":"card","quantity":2}]}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(t, mux, http.MethodPost, "/checkout", `{"items":[
		{"line_key":"latte:large","method":"card","quantity":2},
		{"line_key":"cake","method":"cash","quantity":1}
	]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	st := decode[checkout.State](t, rec)
	require.NotNil(t, st.Payment)
	assert.Len(t, st.Payment.Items, 2)
	assert.Equal(t, domain.PaymentCard, st.PrimaryMethod)
}

func TestHandler_CheckoutErrors(t *testing.T) {
	mux := newTestMux(t)

	rec := do(t, mux, http.MethodPost, "/checkout", `{"method":"cash"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(t, mux, http.MethodPost, "/checkout/cancel", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, mux, http.MethodPost, "/checkout", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_Sync(t *testing.T) {
	mux := newTestMux(t)

	rec := do(t, mux, http.MethodGet, "/sync", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3, decode[syncStatusResponse](t, rec).Pending)

	rec = do(t, mux, http.MethodPost, "/sync", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3, decode[reconcile.Summary](t, rec).Synced)

	rec = do(t, mux, http.MethodGet, "/receipts/last", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
