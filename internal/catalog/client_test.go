package catalog

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-fontenele/cafe-pos/internal/domain"
	"github.com/joao-fontenele/cafe-pos/internal/localdb"
)

var latte = Product{
	ID:        "latte",
	Name:      "Latte",
	Category:  "coffee",
	BasePrice: decimal.NewFromInt(170),
	TaxRate:   decimal.NewNullDecimal(decimal.NewFromInt(14)),
	Sizes: map[string]decimal.Decimal{
		"medium": decimal.NewFromInt(170),
		"large":  decimal.NewFromInt(190),
	},
}

func catalogServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /products", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]Product{latte})
	})
	mux.HandleFunc("GET /products/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != latte.ID {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(latte)
	})
	mux.HandleFunc("GET /customers/{id}", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(domain.Customer{ID: r.PathValue("id"), Name: "Mona", Phone: "0100"})
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func setupReplica(t *testing.T) *Replica {
	t.Helper()
	db, err := localdb.Open(context.Background(), filepath.Join(t.TempDir(), "register.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewReplica(db)
}

func newTestClient(baseURL string, replica *Replica) *Client {
	return NewClient(baseURL, &http.Client{Timeout: time.Second}, replica, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestClient_Lookup(t *testing.T) {
	ctx := context.Background()
	server := catalogServer(t)
	client := newTestClient(server.URL, setupReplica(t))

	p, err := client.Lookup(ctx, "latte")
	require.NoError(t, err)
	assert.Equal(t, "Latte", p.Name)

	_, err = client.Lookup(ctx, "espresso")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestClient_LookupFallsBackToReplica(t *testing.T) {
	ctx := context.Background()
	server := catalogServer(t)
	replica := setupReplica(t)

	n, err := newTestClient(server.URL, replica).Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer down.Close()

	p, err := newTestClient(down.URL, replica).Lookup(ctx, "latte")
	require.NoError(t, err)

	assert.Equal(t, "coffee", p.Category)
	assert.True(t, decimal.NewFromInt(190).Equal(p.Sizes["large"]))
	require.True(t, p.TaxRate.Valid)
	assert.True(t, decimal.NewFromInt(14).Equal(p.TaxRate.Decimal))

	_, err = newTestClient(down.URL, replica).Lookup(ctx, "espresso")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestClient_Customer(t *testing.T) {
	server := catalogServer(t)

	customer, err := newTestClient(server.URL, nil).Customer(context.Background(), "c-7")

	require.NoError(t, err)
	assert.Equal(t, "c-7", customer.ID)
	assert.Equal(t, "Mona", customer.Name)
}

func TestProduct_CartLine(t *testing.T) {
	line, err := latte.CartLine("large", 2)
	require.NoError(t, err)

	assert.Equal(t, "latte:large", line.Key())
	assert.True(t, decimal.NewFromInt(190).Equal(line.UnitPrice))
	assert.True(t, line.TaxRate.Valid)

	_, err = latte.CartLine("huge", 1)
	assert.True(t, domain.IsValidation(err))
}
