package cart

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/joao-fontenele/cafe-pos/internal/domain"
	"github.com/joao-fontenele/cafe-pos/internal/pricing"
)

// Broadcaster receives the display state after every cart mutation. Delivery
// is fire-and-forget; errors are only logged.
type Broadcaster interface {
	Broadcast(ctx context.Context, state domain.DisplayState) error
}

// Snapshot is an immutable copy of the cart together with its totals.
type Snapshot struct {
	Lines    []domain.CartLine     `json:"lines"`
	Discount domain.DiscountPolicy `json:"discount"`
	Mode     domain.Mode           `json:"mode"`
	Customer *domain.Customer      `json:"customer,omitempty"`
	Totals   pricing.Totals        `json:"totals"`
}

func (s Snapshot) Empty() bool {
	return len(s.Lines) == 0
}

// Cart is the operator session's mutable cart. Totals are never stored; every
// read reprices the current lines.
type Cart struct {
	mu          sync.Mutex
	engine      *pricing.Engine
	broadcaster Broadcaster
	logger      *slog.Logger

	lines    []domain.CartLine
	discount domain.DiscountPolicy
	mode     domain.Mode
	customer *domain.Customer
}

func New(engine *pricing.Engine, broadcaster Broadcaster, logger *slog.Logger) *Cart {
	return &Cart{
		engine:      engine,
		broadcaster: broadcaster,
		logger:      logger,
		mode:        domain.ModeRetail,
	}
}

// Add puts line into the cart. Adding a product/size that is already present
// increases its quantity and keeps the price captured first.
func (c *Cart) Add(ctx context.Context, line domain.CartLine) (Snapshot, error) {
	if line.Quantity <= 0 {
		return Snapshot{}, domain.NewValidationError("quantity", "quantity must be at least 1")
	}

	c.mu.Lock()
	if i := c.indexOf(line.Key()); i >= 0 {
		c.lines[i].Quantity += line.Quantity
	} else {
		c.lines = append(c.lines, line)
	}
	return c.commit(ctx)
}

// SetQuantity sets the quantity of the line identified by key. Zero removes it.
func (c *Cart) SetQuantity(ctx context.Context, key string, quantity int) (Snapshot, error) {
	if quantity < 0 {
		return Snapshot{}, domain.NewValidationError("quantity", "quantity cannot be negative")
	}

	c.mu.Lock()
	i := c.indexOf(key)
	if i < 0 {
		c.mu.Unlock()
		return Snapshot{}, domain.ErrNotFound
	}
	return c.setLocked(ctx, i, quantity)
}

func (c *Cart) Increment(ctx context.Context, key string) (Snapshot, error) {
	return c.adjust(ctx, key, 1)
}

func (c *Cart) Decrement(ctx context.Context, key string) (Snapshot, error) {
	return c.adjust(ctx, key, -1)
}

func (c *Cart) Remove(ctx context.Context, key string) (Snapshot, error) {
	return c.SetQuantity(ctx, key, 0)
}

func (c *Cart) adjust(ctx context.Context, key string, delta int) (Snapshot, error) {
	c.mu.Lock()
	i := c.indexOf(key)
	if i < 0 {
		c.mu.Unlock()
		return Snapshot{}, domain.ErrNotFound
	}
	return c.setLocked(ctx, i, max(0, c.lines[i].Quantity+delta))
}

// setLocked must be called with c.mu held; it releases the lock via commit.
func (c *Cart) setLocked(ctx context.Context, i, quantity int) (Snapshot, error) {
	if quantity == 0 {
		c.lines = append(c.lines[:i], c.lines[i+1:]...)
	} else {
		c.lines[i].Quantity = quantity
	}
	return c.commit(ctx)
}

func (c *Cart) SetDiscount(ctx context.Context, policy domain.DiscountPolicy) (Snapshot, error) {
	checked, err := domain.NewDiscountPolicy(policy.Rate, policy.BOGO, policy.BOGOCategory)
	if err != nil {
		return Snapshot{}, err
	}

	c.mu.Lock()
	c.discount = checked
	return c.commit(ctx)
}

func (c *Cart) SetMode(ctx context.Context, mode domain.Mode) (Snapshot, error) {
	if !mode.Valid() {
		return Snapshot{}, domain.NewValidationError("mode", "mode must be retail or staff")
	}

	c.mu.Lock()
	c.mode = mode
	return c.commit(ctx)
}

// SetCustomer selects the customer for the order; nil clears the selection.
func (c *Cart) SetCustomer(ctx context.Context, customer *domain.Customer) (Snapshot, error) {
	c.mu.Lock()
	if customer != nil {
		cp := *customer
		customer = &cp
	}
	c.customer = customer
	return c.commit(ctx)
}

// Reset clears lines, discount and customer after a finished sale. The pricing
// mode is kept.
func (c *Cart) Reset(ctx context.Context) Snapshot {
	c.mu.Lock()
	c.lines = nil
	c.discount = domain.DiscountPolicy{}
	c.customer = nil
	snap, _ := c.commit(ctx)
	return snap
}

func (c *Cart) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// commit must be called with c.mu held; it releases the lock before
// broadcasting.
func (c *Cart) commit(ctx context.Context) (Snapshot, error) {
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.broadcast(ctx, snap)
	return snap, nil
}

func (c *Cart) snapshotLocked() Snapshot {
	lines := make([]domain.CartLine, len(c.lines))
	copy(lines, c.lines)

	var customer *domain.Customer
	if c.customer != nil {
		cp := *c.customer
		customer = &cp
	}

	return Snapshot{
		Lines:    lines,
		Discount: c.discount,
		Mode:     c.mode,
		Customer: customer,
		Totals:   c.engine.Price(lines, c.discount, c.mode),
	}
}

func (c *Cart) indexOf(key string) int {
	for i, l := range c.lines {
		if l.Key() == key {
			return i
		}
	}
	return -1
}

func (c *Cart) broadcast(ctx context.Context, snap Snapshot) {
	if c.broadcaster == nil {
		return
	}

	state := domain.DisplayState{
		Lines: snap.Lines,
		Totals: domain.DisplayTotals{
			Subtotal: domain.RoundMoney(snap.Totals.Subtotal),
			Discount: domain.RoundMoney(snap.Totals.TotalDiscount),
			Total:    domain.RoundMoney(snap.Totals.FinalTotal),
		},
		Customer: snap.Customer,
		Mode:     snap.Mode,
		At:       time.Now().UTC(),
	}

	if err := c.broadcaster.Broadcast(ctx, state); err != nil {
		c.logger.Warn("failed to broadcast cart state", "error", err)
	}
}
