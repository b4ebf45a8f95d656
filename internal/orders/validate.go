package orders

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/cafe-pos/internal/domain"
	"github.com/joao-fontenele/cafe-pos/internal/payment"
)

// validatePayload rechecks a submitted order. Registers price orders
// themselves, so the service only verifies that the numbers agree with each
// other within one cent.
func validatePayload(p domain.OrderPayload, allocator *payment.Allocator) error {
	if p.IdempotencyKey == "" {
		return domain.NewValidationError("idempotency_key", "idempotency key is required")
	}
	if !p.Mode.Valid() {
		return domain.NewValidationError("mode", "mode must be retail or staff")
	}
	if len(p.Items) == 0 {
		return domain.NewValidationError("items", "order has no items")
	}

	sum := decimal.Zero
	for i, item := range p.Items {
		field := fmt.Sprintf("items[%d]", i)
		switch {
		case item.ProductID == "":
			return domain.NewValidationError(field, "product reference is required")
		case item.Quantity <= 0:
			return domain.NewValidationError(field, "quantity must be at least 1")
		case item.UnitPrice.IsNegative():
			return domain.NewValidationError(field, "unit price cannot be negative")
		case !within(item.LineTotal, item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))):
			return domain.NewValidationError(field, "line total does not match unit price times quantity")
		}
		sum = sum.Add(item.LineTotal)
	}

	if !within(sum, p.Subtotal) {
		return domain.NewValidationError("subtotal", "subtotal does not match the items")
	}
	if p.TotalDiscount.IsNegative() || !within(p.TotalDiscount, p.BOGODiscount.Add(p.PercentageDiscount)) {
		return domain.NewValidationError("total_discount", "discounts do not add up")
	}
	if !within(p.FinalTotal, decimal.Max(decimal.Zero, p.Subtotal.Sub(p.TotalDiscount))) {
		return domain.NewValidationError("final_total", "final total does not match subtotal minus discount")
	}

	if err := allocator.Validate(p.Payment, p.FinalTotal); err != nil {
		return err
	}
	return validateItemPayments(p)
}

// validateItemPayments checks an item split against the order lines. Every
// unit must be assigned exactly once and the per-method amounts, with the
// discount spread by final/subtotal, must match the submitted parts.
func validateItemPayments(p domain.OrderPayload) error {
	if len(p.Payment.Items) == 0 {
		return nil
	}

	factor := decimal.Zero
	if p.Subtotal.IsPositive() {
		factor = p.FinalTotal.Div(p.Subtotal)
	}

	lines := make(map[string]domain.OrderItem, len(p.Items))
	for _, item := range p.Items {
		lines[item.Key()] = item
	}

	assigned := make(map[string]int, len(lines))
	derived := make(map[domain.PaymentMethod]decimal.Decimal)
	for i, a := range p.Payment.Items {
		field := fmt.Sprintf("payment.items[%d]", i)
		item, ok := lines[a.LineKey]
		switch {
		case !ok:
			return domain.NewValidationError(field, fmt.Sprintf("no order line %q", a.LineKey))
		case !a.Method.Valid():
			return domain.NewValidationError(field, fmt.Sprintf("unknown payment method %q", a.Method))
		case a.Quantity <= 0:
			return domain.NewValidationError(field, "quantity must be at least 1")
		}
		assigned[a.LineKey] += a.Quantity
		amount := item.UnitPrice.Mul(factor).Mul(decimal.NewFromInt(int64(a.Quantity)))
		derived[a.Method] = derived[a.Method].Add(amount)
	}

	for _, item := range p.Items {
		if n := assigned[item.Key()]; n != item.Quantity {
			return domain.NewValidationError("payment.items", fmt.Sprintf(
				"line %q has %d units, %d assigned", item.Key(), item.Quantity, n,
			))
		}
	}

	if len(derived) != len(p.Payment.Parts) {
		return domain.NewValidationError("payment", "parts do not match the item assignment")
	}
	for _, part := range p.Payment.Parts {
		amount, ok := derived[part.Method]
		if !ok || !within(amount, part.Amount) {
			return domain.NewValidationError("payment", "parts do not match the item assignment")
		}
	}
	return nil
}

func within(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(payment.DefaultTolerance)
}
