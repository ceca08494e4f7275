package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/ariefcatur/go-checkout-core/internal/checkout"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// IdempotencyCache is the Redis fast path for confirm retries. Postgres stays
// the source of truth; entries only exist for committed records.
type IdempotencyCache struct {
	Redis *redis.Client
}

func (c *IdempotencyCache) Get(ctx context.Context, userID uuid.UUID, key string) (*checkout.IdempotencyRecord, error) {
	b, err := c.Redis.Get(ctx, fmt.Sprintf(KeyIdemCheckout, userID, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec checkout.IdempotencyRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, fmt.Errorf("decode cached idempotency record: %w", err)
	}
	return &rec, nil
}

func (c *IdempotencyCache) Put(ctx context.Context, rec *checkout.IdempotencyRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return c.Redis.Set(ctx, fmt.Sprintf(KeyIdemCheckout, rec.UserID, rec.Key), b, TTLIdempotency).Err()
}
