package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

type Mode string

const (
	ModeRetail Mode = "retail"
	ModeStaff  Mode = "staff"
)

func (m Mode) Valid() bool {
	return m == ModeRetail || m == ModeStaff
}

// CartLine is one product/size entry of a cart. UnitPrice is the catalog price
// captured when the line was added and is never refreshed afterwards.
type CartLine struct {
	ProductID string              `json:"product_id"`
	Name      string              `json:"name"`
	Size      string              `json:"size,omitempty"`
	Category  string              `json:"category"`
	UnitPrice decimal.Decimal     `json:"unit_price"`
	Quantity  int                 `json:"quantity"`
	TaxRate   decimal.NullDecimal `json:"tax_rate"`
}

func NewCartLine(productID, name, size, category string, unitPrice decimal.Decimal, quantity int) (CartLine, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return CartLine{}, NewValidationError("product_id", "product reference is required")
	}
	if unitPrice.IsNegative() {
		return CartLine{}, NewValidationError("unit_price", "unit price cannot be negative")
	}
	if quantity <= 0 {
		return CartLine{}, NewValidationError("quantity", "quantity must be at least 1")
	}

	return CartLine{
		ProductID: productID,
		Name:      name,
		Size:      strings.TrimSpace(size),
		Category:  strings.TrimSpace(category),
		UnitPrice: unitPrice,
		Quantity:  quantity,
	}, nil
}

// Key identifies a line inside a cart: the same product in two sizes is two lines.
func (l CartLine) Key() string {
	if l.Size == "" {
		return l.ProductID
	}
	return l.ProductID + ":" + l.Size
}

func (l CartLine) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

type DiscountPolicy struct {
	Rate         decimal.Decimal `json:"rate"`
	BOGO         bool            `json:"bogo"`
	BOGOCategory string          `json:"bogo_category,omitempty"`
}

var hundred = decimal.NewFromInt(100)

func NewDiscountPolicy(rate decimal.Decimal, bogo bool, bogoCategory string) (DiscountPolicy, error) {
	if rate.IsNegative() || rate.GreaterThan(hundred) {
		return DiscountPolicy{}, NewValidationError("rate", "discount rate must be between 0 and 100")
	}
	bogoCategory = strings.TrimSpace(bogoCategory)
	if bogo && bogoCategory == "" {
		return DiscountPolicy{}, NewValidationError("bogo_category", "buy-one-get-one needs a target category")
	}
	return DiscountPolicy{Rate: rate, BOGO: bogo, BOGOCategory: bogoCategory}, nil
}

type Customer struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Phone string `json:"phone,omitempty"`
}
