package catalog

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/cafe-pos/internal/domain"
)

type Product struct {
	ID        string                     `json:"id"`
	Name      string                     `json:"name"`
	Category  string                     `json:"category"`
	BasePrice decimal.Decimal            `json:"base_price"`
	TaxRate   decimal.NullDecimal        `json:"tax_rate"`
	Sizes     map[string]decimal.Decimal `json:"sizes,omitempty"`
}

// Price returns the unit price for size. An empty size is the base price.
func (p Product) Price(size string) (decimal.Decimal, error) {
	if size == "" {
		return p.BasePrice, nil
	}
	price, ok := p.Sizes[size]
	if !ok {
		return decimal.Zero, domain.NewValidationError("size", fmt.Sprintf("%s is not sold in size %q", p.Name, size))
	}
	return price, nil
}

// CartLine snapshots the current price into a new line.
func (p Product) CartLine(size string, quantity int) (domain.CartLine, error) {
	price, err := p.Price(size)
	if err != nil {
		return domain.CartLine{}, err
	}

	line, err := domain.NewCartLine(p.ID, p.Name, size, p.Category, price, quantity)
	if err != nil {
		return domain.CartLine{}, err
	}
	line.TaxRate = p.TaxRate
	return line, nil
}
