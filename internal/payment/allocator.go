package payment

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/cafe-pos/internal/domain"
	"github.com/joao-fontenele/cafe-pos/internal/pricing"
)

// DefaultTolerance is the largest accepted gap between an allocation and the
// final total.
var DefaultTolerance = decimal.RequireFromString("0.01")

var methodOrder = []domain.PaymentMethod{domain.PaymentCash, domain.PaymentCard, domain.PaymentWallet}

// Allocator builds and validates payment allocations. It holds no order state.
type Allocator struct {
	tolerance decimal.Decimal
}

func NewAllocator(tolerance decimal.Decimal) *Allocator {
	return &Allocator{tolerance: tolerance}
}

// Single pays the whole final total with one method.
func (a *Allocator) Single(method domain.PaymentMethod, finalTotal decimal.Decimal) (domain.PaymentAllocation, error) {
	alloc := domain.PaymentAllocation{
		Parts: []domain.PaymentPart{{Method: method, Amount: finalTotal}},
	}
	if err := a.Validate(alloc, finalTotal); err != nil {
		return domain.PaymentAllocation{}, err
	}
	return alloc, nil
}

// Split accepts operator-entered amounts per method.
func (a *Allocator) Split(parts []domain.PaymentPart, finalTotal decimal.Decimal) (domain.PaymentAllocation, error) {
	alloc := domain.PaymentAllocation{Parts: append([]domain.PaymentPart(nil), parts...)}
	if err := a.Validate(alloc, finalTotal); err != nil {
		return domain.PaymentAllocation{}, err
	}
	return alloc, nil
}

func (a *Allocator) Validate(alloc domain.PaymentAllocation, finalTotal decimal.Decimal) error {
	if len(alloc.Parts) == 0 {
		return domain.NewValidationError("payment", "select a payment method")
	}

	seen := make(map[domain.PaymentMethod]bool, len(alloc.Parts))
	for _, part := range alloc.Parts {
		if !part.Method.Valid() {
			return domain.NewValidationError("payment", fmt.Sprintf("unknown payment method %q", part.Method))
		}
		if seen[part.Method] {
			return domain.NewValidationError("payment", fmt.Sprintf("payment method %q entered twice", part.Method))
		}
		seen[part.Method] = true
		if part.Amount.IsNegative() {
			return domain.NewValidationError("payment", "payment amounts cannot be negative")
		}
	}

	sum := alloc.Sum()
	if sum.Sub(finalTotal).Abs().GreaterThan(a.tolerance) {
		return domain.NewValidationError("payment", fmt.Sprintf(
			"payments add up to %s but the total is %s",
			domain.RoundMoney(sum).StringFixed(2), domain.RoundMoney(finalTotal).StringFixed(2),
		))
	}
	return nil
}

type splitLine struct {
	quantity  int
	unitPrice decimal.Decimal
	assigned  map[domain.PaymentMethod]int
}

// ItemSplit assigns units of each cart line to payment methods. It is owned by
// the caller; the coarse per-method amounts are derived from it on demand.
type ItemSplit struct {
	allocator  *Allocator
	finalTotal decimal.Decimal
	keys       []string
	lines      map[string]*splitLine
}

// NewItemSplit starts an empty assignment for totals. Unit prices are the
// mode-adjusted prices scaled by final/subtotal, which spreads the order
// discount pro rata so a full assignment adds up to the final total.
func (a *Allocator) NewItemSplit(totals pricing.Totals) *ItemSplit {
	factor := decimal.Zero
	if totals.Subtotal.IsPositive() {
		factor = totals.FinalTotal.Div(totals.Subtotal)
	}

	s := &ItemSplit{
		allocator:  a,
		finalTotal: totals.FinalTotal,
		lines:      make(map[string]*splitLine, len(totals.Lines)),
	}
	for _, l := range totals.Lines {
		s.keys = append(s.keys, l.Key)
		s.lines[l.Key] = &splitLine{
			quantity:  l.Quantity,
			unitPrice: l.EffectiveUnitPrice.Mul(factor),
			assigned:  make(map[domain.PaymentMethod]int),
		}
	}
	return s
}

// Assign sets how many units of the line are paid with method.
func (s *ItemSplit) Assign(lineKey string, method domain.PaymentMethod, quantity int) error {
	line, ok := s.lines[lineKey]
	if !ok {
		return domain.NewValidationError("line_key", fmt.Sprintf("no cart line %q", lineKey))
	}
	if !method.Valid() {
		return domain.NewValidationError("method", fmt.Sprintf("unknown payment method %q", method))
	}
	if quantity < 0 {
		return domain.NewValidationError("quantity", "quantity cannot be negative")
	}

	others := 0
	for m, q := range line.assigned {
		if m != method {
			others += q
		}
	}
	if others+quantity > line.quantity {
		return domain.NewValidationError("quantity", fmt.Sprintf(
			"line %q has %d units, %d already assigned elsewhere", lineKey, line.quantity, others,
		))
	}

	if quantity == 0 {
		delete(line.assigned, method)
	} else {
		line.assigned[method] = quantity
	}
	return nil
}

// PayAll assigns every unit of every line to method and clears the others.
func (s *ItemSplit) PayAll(method domain.PaymentMethod) error {
	if !method.Valid() {
		return domain.NewValidationError("method", fmt.Sprintf("unknown payment method %q", method))
	}
	for _, line := range s.lines {
		line.assigned = map[domain.PaymentMethod]int{method: line.quantity}
	}
	return nil
}

// Unassigned counts the units not yet paid by any method.
func (s *ItemSplit) Unassigned() int {
	n := 0
	for _, line := range s.lines {
		n += line.quantity
		for _, q := range line.assigned {
			n -= q
		}
	}
	return n
}

// Amounts returns the per-method totals derived from the unit assignment.
func (s *ItemSplit) Amounts() []domain.PaymentPart {
	sums := make(map[domain.PaymentMethod]decimal.Decimal)
	for _, key := range s.keys {
		line := s.lines[key]
		for method, q := range line.assigned {
			sums[method] = sums[method].Add(line.unitPrice.Mul(decimal.NewFromInt(int64(q))))
		}
	}

	parts := make([]domain.PaymentPart, 0, len(sums))
	for _, method := range methodOrder {
		if amount, ok := sums[method]; ok {
			parts = append(parts, domain.PaymentPart{Method: method, Amount: amount})
		}
	}
	return parts
}

// Allocation returns the allocation with both representations filled in.
// Every unit must be assigned.
func (s *ItemSplit) Allocation() (domain.PaymentAllocation, error) {
	if n := s.Unassigned(); n > 0 {
		return domain.PaymentAllocation{}, domain.NewValidationError("payment", fmt.Sprintf("%d units still need a payment method", n))
	}

	var items []domain.ItemAssignment
	for _, key := range s.keys {
		for _, method := range methodOrder {
			if q := s.lines[key].assigned[method]; q > 0 {
				items = append(items, domain.ItemAssignment{LineKey: key, Method: method, Quantity: q})
			}
		}
	}

	alloc := domain.PaymentAllocation{Parts: s.Amounts(), Items: items}
	if err := s.allocator.Validate(alloc, s.finalTotal); err != nil {
		return domain.PaymentAllocation{}, err
	}
	return alloc, nil
}
