package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/joao-fontenele/cafe-pos/internal/domain"
)

// Client looks products and customers up in the catalog service. Product
// lookups fall back to the local replica when the service cannot be reached.
type Client struct {
	baseURL    string
	httpClient *http.Client
	replica    *Replica
	logger     *slog.Logger
}

func NewClient(baseURL string, httpClient *http.Client, replica *Replica, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		replica:    replica,
		logger:     logger,
	}
}

func (c *Client) Lookup(ctx context.Context, productID string) (Product, error) {
	var p Product
	err := c.get(ctx, "/products/"+url.PathEscape(productID), &p)
	if err == nil {
		return p, nil
	}
	if errors.Is(err, domain.ErrNotFound) || c.replica == nil {
		return Product{}, err
	}

	c.logger.Warn("catalog unavailable, using local replica", "error", err, "product_id", productID)
	return c.replica.Get(ctx, productID)
}

// Refresh reloads the replica from the full remote catalog.
func (c *Client) Refresh(ctx context.Context) (int, error) {
	var products []Product
	if err := c.get(ctx, "/products", &products); err != nil {
		return 0, fmt.Errorf("fetch catalog: %w", err)
	}

	if err := c.replica.ReplaceAll(ctx, products); err != nil {
		return 0, err
	}

	c.logger.Info("catalog replica refreshed", "products", len(products))
	return len(products), nil
}

// Customer fetches a loyalty customer. There is no local copy of customers.
func (c *Client) Customer(ctx context.Context, id string) (domain.Customer, error) {
	var customer domain.Customer
	if err := c.get(ctx, "/customers/"+url.PathEscape(id), &customer); err != nil {
		return domain.Customer{}, err
	}
	return customer, nil
}

func (c *Client) get(ctx context.Context, path string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &domain.TransientError{Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return domain.ErrNotFound
	case resp.StatusCode != http.StatusOK:
		return &domain.TransientError{Err: fmt.Errorf("catalog service returned status %d", resp.StatusCode)}
	}

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode catalog response: %w", err)
	}
	return nil
}
