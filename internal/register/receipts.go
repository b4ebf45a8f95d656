package register

import (
	"context"
	"log/slog"
	"sync"

	"github.com/joao-fontenele/cafe-pos/internal/domain"
)

// ReceiptBox keeps the most recent receipt for the printing side to pick up.
type ReceiptBox struct {
	mu     sync.Mutex
	last   *domain.Receipt
	logger *slog.Logger
}

func NewReceiptBox(logger *slog.Logger) *ReceiptBox {
	return &ReceiptBox{logger: logger}
}

func (b *ReceiptBox) Deliver(_ context.Context, receipt domain.Receipt) {
	b.mu.Lock()
	b.last = &receipt
	b.mu.Unlock()

	b.logger.Info("receipt issued",
		"order_id", receipt.OrderID,
		"offline", receipt.Offline,
		"final_total", receipt.FinalTotal.StringFixed(2),
	)
}

func (b *ReceiptBox) Last() (domain.Receipt, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.last == nil {
		return domain.Receipt{}, false
	}
	return *b.last, true
}
