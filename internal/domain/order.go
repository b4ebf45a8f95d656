package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderItem is a priced cart line as sent to the order service.
type OrderItem struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Size      string          `json:"size,omitempty"`
	Category  string          `json:"category"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	LineTotal decimal.Decimal `json:"line_total"`
}

// Key matches CartLine.Key, which item assignments refer to.
func (i OrderItem) Key() string {
	if i.Size == "" {
		return i.ProductID
	}
	return i.ProductID + ":" + i.Size
}

// OrderPayload is the full order submitted to the remote endpoint, either
// interactively or later from the offline queue.
type OrderPayload struct {
	IdempotencyKey     string            `json:"idempotency_key"`
	Mode               Mode              `json:"mode"`
	Items              []OrderItem       `json:"items"`
	Subtotal           decimal.Decimal   `json:"subtotal"`
	InclusiveTax       decimal.Decimal   `json:"inclusive_tax"`
	BOGODiscount       decimal.Decimal   `json:"bogo_discount"`
	PercentageDiscount decimal.Decimal   `json:"percentage_discount"`
	TotalDiscount      decimal.Decimal   `json:"total_discount"`
	FinalTotal         decimal.Decimal   `json:"final_total"`
	Discount           DiscountPolicy    `json:"discount"`
	Payment            PaymentAllocation `json:"payment"`
	Customer           *Customer         `json:"customer,omitempty"`
	OperatorPIN        string            `json:"operator_pin"`
	CreatedAt          time.Time         `json:"created_at"`
}

type OrderStatus string

const (
	OrderStatusCreated   OrderStatus = "created"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Order is the record kept by the order service.
type Order struct {
	ID             string           `json:"id"`
	IdempotencyKey string           `json:"idempotency_key"`
	OperatorID     string           `json:"operator_id"`
	CustomerID     string           `json:"customer_id,omitempty"`
	Mode           Mode             `json:"mode"`
	Items          []OrderItem      `json:"items"`
	Payments       []PaymentPart    `json:"payments"`
	ItemPayments   []ItemAssignment `json:"item_payments,omitempty"`
	Subtotal       decimal.Decimal  `json:"subtotal"`
	Discount       decimal.Decimal  `json:"discount"`
	Total          decimal.Decimal  `json:"total"`
	Status         OrderStatus      `json:"status"`
	CreatedAt      time.Time        `json:"created_at"`
}
