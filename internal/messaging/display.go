package messaging

import (
	"context"

	"github.com/joao-fontenele/cafe-pos/internal/domain"
)

type Publisher interface {
	Publish(ctx context.Context, key, eventType string, event any) error
}

// DisplayBroadcaster pushes cart state to the customer-facing display. The
// register id is the message key so one register's updates stay ordered.
type DisplayBroadcaster struct {
	publisher  Publisher
	registerID string
}

func NewDisplayBroadcaster(publisher Publisher, registerID string) *DisplayBroadcaster {
	return &DisplayBroadcaster{publisher: publisher, registerID: registerID}
}

func (b *DisplayBroadcaster) Broadcast(ctx context.Context, state domain.DisplayState) error {
	return b.publisher.Publish(ctx, b.registerID, EventCartState, state)
}
