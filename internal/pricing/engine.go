package pricing

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/cafe-pos/internal/domain"
)

var (
	hundred = decimal.NewFromInt(100)
	one     = decimal.NewFromInt(1)
)

type Config struct {
	// DefaultTaxRate is the inclusive tax percentage for lines without their own rate.
	DefaultTaxRate decimal.Decimal
	// StaffCategory is the only category staff pay for; everything else is free.
	StaffCategory string
	// StaffFraction is the share of the retail unit price charged for StaffCategory.
	StaffFraction decimal.Decimal
}

func DefaultConfig() Config {
	return Config{
		DefaultTaxRate: decimal.NewFromInt(14),
		StaffCategory:  "dessert",
		StaffFraction:  decimal.NewFromFloat(0.5),
	}
}

type PricedLine struct {
	Key                string          `json:"key"`
	Quantity           int             `json:"quantity"`
	EffectiveUnitPrice decimal.Decimal `json:"effective_unit_price"`
	Subtotal           decimal.Decimal `json:"subtotal"`
	InclusiveTax       decimal.Decimal `json:"inclusive_tax"`
}

type Totals struct {
	Lines              []PricedLine    `json:"lines"`
	Subtotal           decimal.Decimal `json:"subtotal"`
	InclusiveTax       decimal.Decimal `json:"inclusive_tax"`
	BOGODiscount       decimal.Decimal `json:"bogo_discount"`
	PercentageDiscount decimal.Decimal `json:"percentage_discount"`
	TotalDiscount      decimal.Decimal `json:"total_discount"`
	FinalTotal         decimal.Decimal `json:"final_total"`
}

// Engine computes cart totals. It is stateless and safe for concurrent use.
type Engine struct {
	cfg Config
}

func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Price computes the totals for lines. Nothing is rounded: callers round at
// presentation time.
func (e *Engine) Price(lines []domain.CartLine, policy domain.DiscountPolicy, mode domain.Mode) Totals {
	totals := Totals{
		Lines:              make([]PricedLine, 0, len(lines)),
		Subtotal:           decimal.Zero,
		InclusiveTax:       decimal.Zero,
		BOGODiscount:       decimal.Zero,
		PercentageDiscount: decimal.Zero,
		TotalDiscount:      decimal.Zero,
	}

	for _, line := range lines {
		unit := line.UnitPrice
		if mode == domain.ModeStaff {
			unit = e.StaffUnitPrice(line)
		}
		subtotal := unit.Mul(decimal.NewFromInt(int64(line.Quantity)))
		tax := e.inclusiveTax(subtotal, line.TaxRate)

		totals.Lines = append(totals.Lines, PricedLine{
			Key:                line.Key(),
			Quantity:           line.Quantity,
			EffectiveUnitPrice: unit,
			Subtotal:           subtotal,
			InclusiveTax:       tax,
		})
		totals.Subtotal = totals.Subtotal.Add(subtotal)
		totals.InclusiveTax = totals.InclusiveTax.Add(tax)
	}

	if mode != domain.ModeStaff {
		if policy.BOGO {
			totals.BOGODiscount = BOGODiscount(lines, policy.BOGOCategory)
		}
		if policy.Rate.IsPositive() {
			base := totals.Subtotal.Sub(totals.BOGODiscount)
			totals.PercentageDiscount = base.Mul(policy.Rate).Div(hundred)
		}
	}

	totals.TotalDiscount = totals.BOGODiscount.Add(totals.PercentageDiscount)
	totals.FinalTotal = decimal.Max(decimal.Zero, totals.Subtotal.Sub(totals.TotalDiscount))
	return totals
}

// StaffUnitPrice is the unit price of line while staff mode is active.
func (e *Engine) StaffUnitPrice(line domain.CartLine) decimal.Decimal {
	if e.cfg.StaffCategory != "" && strings.EqualFold(line.Category, e.cfg.StaffCategory) {
		return line.UnitPrice.Mul(e.cfg.StaffFraction)
	}
	return decimal.Zero
}

func (e *Engine) inclusiveTax(subtotal decimal.Decimal, rate decimal.NullDecimal) decimal.Decimal {
	r := e.cfg.DefaultTaxRate
	if rate.Valid {
		r = rate.Decimal
	}
	if r.IsZero() || subtotal.IsZero() {
		return decimal.Zero
	}
	net := subtotal.Div(one.Add(r.Div(hundred)))
	return subtotal.Sub(net)
}

// BOGODiscount expands every unit of the lines in category, sorts the unit
// prices from highest to lowest and frees every second one. A trailing
// unpaired unit earns nothing.
func BOGODiscount(lines []domain.CartLine, category string) decimal.Decimal {
	var prices []decimal.Decimal
	for _, line := range lines {
		if !strings.EqualFold(line.Category, category) {
			continue
		}
		for i := 0; i < line.Quantity; i++ {
			prices = append(prices, line.UnitPrice)
		}
	}

	sort.SliceStable(prices, func(i, j int) bool {
		return prices[i].GreaterThan(prices[j])
	})

	discount := decimal.Zero
	for i := 1; i < len(prices); i += 2 {
		discount = discount.Add(prices[i])
	}
	return discount
}
