package submission

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-fontenele/cafe-pos/internal/domain"
)

func newTestClient(baseURL string, threshold uint32) *Client {
	return NewClient(
		Config{BaseURL: baseURL, FailureThreshold: threshold, OpenTimeout: time.Minute},
		&http.Client{Timeout: 2 * time.Second},
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
}

func testPayload() domain.OrderPayload {
	return domain.OrderPayload{
		IdempotencyKey: "1735689600000-abcdef012345",
		Mode:           domain.ModeRetail,
		Items: []domain.OrderItem{{
			ProductID: "latte", Name: "Latte", Category: "coffee", Quantity: 2,
			UnitPrice: decimal.NewFromInt(190), LineTotal: decimal.NewFromInt(380),
		}},
		Subtotal:    decimal.NewFromInt(380),
		FinalTotal:  decimal.NewFromInt(380),
		OperatorPIN: "1234",
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestClient_Submit(t *testing.T) {
	ctx := context.Background()

	t.Run("created order carries the idempotency key header", func(t *testing.T) {
		var gotKey string
		var gotPayload domain.OrderPayload
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/orders", r.URL.Path)
			gotKey = r.Header.Get(IdempotencyKeyHeader)
			_ = json.NewDecoder(r.Body).Decode(&gotPayload)
			writeJSON(w, http.StatusCreated, domain.Order{ID: "order-1"})
		}))
		defer server.Close()

		result, err := newTestClient(server.URL, 3).Submit(ctx, testPayload())

		require.NoError(t, err)
		assert.Equal(t, "order-1", result.OrderID)
		assert.False(t, result.Replayed)
		assert.Equal(t, "1735689600000-abcdef012345", gotKey)
		assert.Equal(t, "1234", gotPayload.OperatorPIN)
	})

	t.Run("replayed order", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set(ReplayedHeader, "true")
			writeJSON(w, http.StatusOK, domain.Order{ID: "order-1"})
		}))
		defer server.Close()

		result, err := newTestClient(server.URL, 3).Submit(ctx, testPayload())

		require.NoError(t, err)
		assert.True(t, result.Replayed)
	})

	t.Run("rejected credential", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid operator pin"})
		}))
		defer server.Close()

		_, err := newTestClient(server.URL, 3).Submit(ctx, testPayload())

		assert.True(t, domain.IsAuthorization(err))
	})

	t.Run("validation message is kept verbatim", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "Item latte is unavailable", "field": "items"})
		}))
		defer server.Close()

		_, err := newTestClient(server.URL, 3).Submit(ctx, testPayload())

		var verr *domain.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "Item latte is unavailable", verr.Message)
		assert.Equal(t, "items", verr.Field)
	})

	t.Run("server errors are transient", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer server.Close()

		_, err := newTestClient(server.URL, 3).Submit(ctx, testPayload())

		assert.True(t, domain.IsTransient(err))
	})

	t.Run("unreachable server is transient", func(t *testing.T) {
		server := httptest.NewServer(http.NotFoundHandler())
		url := server.URL
		server.Close()

		_, err := newTestClient(url, 3).Submit(ctx, testPayload())

		assert.True(t, domain.IsTransient(err))
	})
}

func TestClient_Breaker(t *testing.T) {
	ctx := context.Background()

	t.Run("opens after consecutive transient failures", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer server.Close()
		client := newTestClient(server.URL, 2)

		for i := 0; i < 2; i++ {
			_, err := client.Submit(ctx, testPayload())
			require.True(t, domain.IsTransient(err))
		}

		_, err := client.Submit(ctx, testPayload())

		assert.True(t, domain.IsTransient(err))
		assert.EqualValues(t, 2, calls.Load())
	})

	t.Run("validation responses do not trip it", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "bad order"})
		}))
		defer server.Close()
		client := newTestClient(server.URL, 2)

		for i := 0; i < 4; i++ {
			_, err := client.Submit(ctx, testPayload())
			require.True(t, domain.IsValidation(err))
		}

		assert.EqualValues(t, 4, calls.Load())
	})
}

func TestClient_Ping(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/healthz", r.URL.Path)
		if !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()
	client := newTestClient(server.URL, 3)

	assert.NoError(t, client.Ping(context.Background()))

	healthy.Store(false)
	assert.Error(t, client.Ping(context.Background()))
}
