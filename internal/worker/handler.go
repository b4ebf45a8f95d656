package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/joao-fontenele/cafe-pos/internal/domain"
)

// StockHandler turns order.created events into stock deductions at the
// inventory service, one call per order line. How a product maps to
// ingredients is the inventory service's business.
type StockHandler struct {
	inventoryServiceURL string
	httpClient          *http.Client
	logger              *slog.Logger
}

func NewStockHandler(inventoryServiceURL string, client *http.Client, logger *slog.Logger) *StockHandler {
	return &StockHandler{
		inventoryServiceURL: strings.TrimRight(inventoryServiceURL, "/"),
		httpClient:          client,
		logger:              logger,
	}
}

type deductRequest struct {
	OrderID  string `json:"order_id"`
	Size     string `json:"size,omitempty"`
	Quantity int    `json:"quantity"`
}

// Handle returns an error only when the inventory service could not be
// reached or failed, so the event is redelivered. Each deduction carries an
// idempotency key derived from the order and line, which makes redelivery
// safe for lines that already went through.
func (h *StockHandler) Handle(ctx context.Context, payload []byte) error {
	var event domain.OrderCreatedEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		h.logger.Error("dropping undecodable order created event", "error", err)
		return nil
	}

	h.logger.Info("processing order created event", "order_id", event.OrderID, "items", len(event.Items))

	for i, item := range event.Items {
		if err := h.deduct(ctx, event.OrderID, i, item); err != nil {
			h.logger.Error("failed to deduct stock", "error", err, "order_id", event.OrderID, "product_id", item.ProductID)
			return err
		}
	}

	h.logger.Info("stock deducted", "order_id", event.OrderID)
	return nil
}

func (h *StockHandler) deduct(ctx context.Context, orderID string, line int, item domain.OrderItem) error {
	data, err := json.Marshal(deductRequest{OrderID: orderID, Size: item.Size, Quantity: item.Quantity})
	if err != nil {
		return fmt.Errorf("marshal deduct request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/stock/%s/deduct", h.inventoryServiceURL, url.PathEscape(item.ProductID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create deduct request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", fmt.Sprintf("%s:%d", orderID, line))

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("deduct stock for %s: %w", item.ProductID, err)
	}
	_ = resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusConflict, resp.StatusCode == http.StatusNotFound:
		// The sale already happened; a shortfall or unknown product is for
		// the inventory side to reconcile.
		h.logger.Warn("stock not deducted", "order_id", orderID, "product_id", item.ProductID, "status", resp.StatusCode)
		return nil
	case resp.StatusCode >= 300:
		return fmt.Errorf("inventory service returned status %d for %s", resp.StatusCode, item.ProductID)
	}
	return nil
}
