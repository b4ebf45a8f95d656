package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderCreatedEvent struct {
	OrderID        string          `json:"order_id"`
	IdempotencyKey string          `json:"idempotency_key"`
	CustomerID     string          `json:"customer_id,omitempty"`
	Items          []OrderItem     `json:"items"`
	Total          decimal.Decimal `json:"total"`
	Timestamp      time.Time       `json:"timestamp"`
}

type DisplayTotals struct {
	Subtotal decimal.Decimal `json:"subtotal"`
	Discount decimal.Decimal `json:"discount"`
	Total    decimal.Decimal `json:"total"`
}

// DisplayState is pushed to the customer-facing display after each cart change.
type DisplayState struct {
	Lines    []CartLine    `json:"cart"`
	Totals   DisplayTotals `json:"totals"`
	Customer *Customer     `json:"customer,omitempty"`
	Mode     Mode          `json:"mode"`
	At       time.Time     `json:"at"`
}
