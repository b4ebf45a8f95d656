package domain

import "github.com/shopspring/decimal"

type PaymentMethod string

const (
	PaymentCash   PaymentMethod = "cash"
	PaymentCard   PaymentMethod = "card"
	PaymentWallet PaymentMethod = "wallet"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCash, PaymentCard, PaymentWallet:
		return true
	}
	return false
}

type PaymentPart struct {
	Method PaymentMethod   `json:"method"`
	Amount decimal.Decimal `json:"amount"`
}

// ItemAssignment records how many units of a cart line are paid with a method.
type ItemAssignment struct {
	LineKey  string        `json:"line_key"`
	Method   PaymentMethod `json:"method"`
	Quantity int           `json:"quantity"`
}

// PaymentAllocation splits a final total across methods. When Items is set the
// parts were derived from it.
type PaymentAllocation struct {
	Parts []PaymentPart    `json:"parts"`
	Items []ItemAssignment `json:"items,omitempty"`
}

func (a PaymentAllocation) Sum() decimal.Decimal {
	sum := decimal.Zero
	for _, p := range a.Parts {
		sum = sum.Add(p.Amount)
	}
	return sum
}

func (a PaymentAllocation) IsSplit() bool {
	return len(a.Parts) > 1
}

// PrimaryMethod is the method shown for confirmation: the one carrying the
// largest amount.
func (a PaymentAllocation) PrimaryMethod() PaymentMethod {
	var method PaymentMethod
	largest := decimal.NewFromInt(-1)
	for _, p := range a.Parts {
		if p.Amount.GreaterThan(largest) {
			largest = p.Amount
			method = p.Method
		}
	}
	return method
}
