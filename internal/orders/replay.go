package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/joao-fontenele/cafe-pos/internal/domain"
)

// ReplayCache answers retried submissions from Redis without touching
// Postgres. The database unique key stays the source of truth; the cache only
// short-circuits the common retry.
type ReplayCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewReplayCache(client *redis.Client, ttl time.Duration) *ReplayCache {
	return &ReplayCache{client: client, ttl: ttl}
}

// Get returns nil, nil on a miss.
func (c *ReplayCache) Get(ctx context.Context, idempotencyKey string) (*domain.Order, error) {
	data, err := c.client.Get(ctx, replayKey(idempotencyKey)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var order domain.Order
	if err := json.Unmarshal(data, &order); err != nil {
		return nil, fmt.Errorf("unmarshal order failed: %w", err)
	}
	return &order, nil
}

func (c *ReplayCache) Put(ctx context.Context, order *domain.Order) error {
	data, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("marshal order failed: %w", err)
	}
	if err := c.client.Set(ctx, replayKey(order.IdempotencyKey), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func replayKey(idempotencyKey string) string {
	return "orders:idempotency:" + idempotencyKey
}
