package submission

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/joao-fontenele/cafe-pos/internal/domain"
)

const (
	IdempotencyKeyHeader = "Idempotency-Key"
	ReplayedHeader       = "X-Idempotency-Replayed"

	maxErrorBody = 64 << 10
)

// Result is the server's acknowledgment of a submitted order.
type Result struct {
	OrderID  string `json:"order_id"`
	Replayed bool   `json:"replayed"`
}

type Config struct {
	BaseURL string
	// FailureThreshold consecutive transient failures open the breaker.
	FailureThreshold uint32
	// OpenTimeout is how long the breaker stays open before a trial request.
	OpenTimeout time.Duration
}

// Client submits orders to the remote order service. Failures are classified
// into the domain error taxonomy so callers can decide whether to queue.
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[Result]
	logger     *slog.Logger
}

func NewClient(cfg Config, httpClient *http.Client, logger *slog.Logger) *Client {
	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}

	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}

	c.breaker = gobreaker.NewCircuitBreaker[Result](gobreaker.Settings{
		Name:    "orders-service",
		Timeout: cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || domain.IsValidation(err) || domain.IsAuthorization(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	})

	return c
}

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field"`
}

// Submit posts payload with its idempotency key. The returned error is a
// *domain.AuthorizationError, a *domain.ValidationError or a
// *domain.TransientError.
func (c *Client) Submit(ctx context.Context, payload domain.OrderPayload) (Result, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Result{}, fmt.Errorf("marshal order payload: %w", err)
	}

	result, err := c.breaker.Execute(func() (Result, error) {
		return c.post(ctx, payload.IdempotencyKey, body)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return Result{}, &domain.TransientError{Err: err}
	}
	return result, err
}

func (c *Client) post(ctx context.Context, key string, body []byte) (Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/orders", bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("create submit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(IdempotencyKeyHeader, key)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, &domain.TransientError{Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusCreated || resp.StatusCode == http.StatusOK:
		var order domain.Order
		if err := json.NewDecoder(resp.Body).Decode(&order); err != nil {
			return Result{}, &domain.TransientError{Err: fmt.Errorf("decode order response: %w", err)}
		}
		return Result{
			OrderID:  order.ID,
			Replayed: resp.StatusCode == http.StatusOK || resp.Header.Get(ReplayedHeader) == "true",
		}, nil

	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		msg, _ := readError(resp.Body)
		return Result{}, &domain.AuthorizationError{Message: msg}

	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		msg, field := readError(resp.Body)
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return Result{}, domain.NewValidationError(field, msg)

	default:
		return Result{}, &domain.TransientError{Err: fmt.Errorf("orders service returned status %d", resp.StatusCode)}
	}
}

// Ping reports whether the order service is reachable. It bypasses the
// breaker so a probe can notice recovery while the breaker is open.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	_ = resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("orders service health returned status %d", resp.StatusCode)
	}
	return nil
}

func readError(r io.Reader) (message, field string) {
	data, err := io.ReadAll(io.LimitReader(r, maxErrorBody))
	if err != nil || len(data) == 0 {
		return "", ""
	}

	var resp errorResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return strings.TrimSpace(string(data)), ""
	}
	return resp.Error, resp.Field
}
