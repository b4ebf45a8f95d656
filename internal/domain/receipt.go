package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Receipt is handed to the presentation side after a completed sale. Amounts
// are rounded to cents here and nowhere earlier.
type Receipt struct {
	OrderID       string          `json:"order_id"`
	Offline       bool            `json:"offline"`
	Items         []OrderItem     `json:"items"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	InclusiveTax  decimal.Decimal `json:"inclusive_tax"`
	TotalDiscount decimal.Decimal `json:"total_discount"`
	FinalTotal    decimal.Decimal `json:"final_total"`
	Payments      []PaymentPart   `json:"payments"`
	Customer      *Customer       `json:"customer,omitempty"`
	IssuedAt      time.Time       `json:"issued_at"`
}

func NewReceipt(orderID string, offline bool, p OrderPayload, at time.Time) Receipt {
	items := make([]OrderItem, len(p.Items))
	for i, item := range p.Items {
		item.UnitPrice = RoundMoney(item.UnitPrice)
		item.LineTotal = RoundMoney(item.LineTotal)
		items[i] = item
	}
	payments := make([]PaymentPart, len(p.Payment.Parts))
	for i, part := range p.Payment.Parts {
		payments[i] = PaymentPart{Method: part.Method, Amount: RoundMoney(part.Amount)}
	}

	return Receipt{
		OrderID:       orderID,
		Offline:       offline,
		Items:         items,
		Subtotal:      RoundMoney(p.Subtotal),
		InclusiveTax:  RoundMoney(p.InclusiveTax),
		TotalDiscount: RoundMoney(p.TotalDiscount),
		FinalTotal:    RoundMoney(p.FinalTotal),
		Payments:      payments,
		Customer:      p.Customer,
		IssuedAt:      at,
	}
}

// RoundMoney rounds to two fraction digits for presentation.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}
