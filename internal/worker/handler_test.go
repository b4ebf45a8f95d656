package worker

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-fontenele/cafe-pos/internal/domain"
)

type deduction struct {
	productID string
	key       string
	body      deductRequest
}

type inventoryStub struct {
	mu         sync.Mutex
	deductions []deduction
	status     map[string]int
}

func (s *inventoryStub) handler(w http.ResponseWriter, r *http.Request) {
	var body deductRequest
	_ = json.NewDecoder(r.Body).Decode(&body)

	s.mu.Lock()
	defer s.mu.Unlock()
	id := r.PathValue("itemId")
	s.deductions = append(s.deductions, deduction{productID: id, key: r.Header.Get("Idempotency-Key"), body: body})
	if code, ok := s.status[id]; ok {
		w.WriteHeader(code)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func setup(t *testing.T, status map[string]int) (*StockHandler, *inventoryStub) {
	t.Helper()
	stub := &inventoryStub{status: status}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /stock/{itemId}/deduct", stub.handler)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	h := NewStockHandler(server.URL, &http.Client{Timeout: time.Second}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return h, stub
}

func event(t *testing.T) []byte {
	t.Helper()
	data, err := json.Marshal(domain.OrderCreatedEvent{
		OrderID: "order-1",
		Items: []domain.OrderItem{
			{ProductID: "latte", Size: "large", Quantity: 2},
			{ProductID: "cake", Quantity: 1},
		},
	})
	require.NoError(t, err)
	return data
}

func TestStockHandler_Handle(t *testing.T) {
	h, stub := setup(t, nil)

	require.NoError(t, h.Handle(context.Background(), event(t)))

	require.Len(t, stub.deductions, 2)
	assert.Equal(t, "latte", stub.deductions[0].productID)
	assert.Equal(t, "order-1:0", stub.deductions[0].key)
	assert.Equal(t, deductRequest{OrderID: "order-1", Size: "large", Quantity: 2}, stub.deductions[0].body)
	assert.Equal(t, "cake", stub.deductions[1].productID)
}

func TestStockHandler_ShortfallIsNotRetried(t *testing.T) {
	h, stub := setup(t, map[string]int{"latte": http.StatusConflict})

	require.NoError(t, h.Handle(context.Background(), event(t)))
	assert.Len(t, stub.deductions, 2)
}

func TestStockHandler_ServerErrorIsRetried(t *testing.T) {
	h, stub := setup(t, map[string]int{"latte": http.StatusServiceUnavailable})

	err := h.Handle(context.Background(), event(t))

	assert.ErrorContains(t, err, "status 503")
	assert.Len(t, stub.deductions, 1)
}

func TestStockHandler_UndecodableEventIsDropped(t *testing.T) {
	h, stub := setup(t, nil)

	assert.NoError(t, h.Handle(context.Background(), []byte("not json")))
	assert.Empty(t, stub.deductions)
}
