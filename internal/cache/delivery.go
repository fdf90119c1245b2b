package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	deliveryPrefix     = "webhook:delivery:v1:"
	DefaultDeliveryTTL = 24 * time.Hour
)

// DeliveryCache remembers provider webhook deliveries that were already
// accepted so redeliveries can be answered without touching Postgres. The
// webhook_events unique key remains the source of truth; the cache only
// short-circuits the common case.
//
// A nil *DeliveryCache claims every delivery.
type DeliveryCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewDeliveryCache(client *redis.Client, ttl time.Duration) *DeliveryCache {
	if ttl <= 0 {
		ttl = DefaultDeliveryTTL
	}
	return &DeliveryCache{client: client, ttl: ttl}
}

// Claim reports whether key is seen for the first time.
func (c *DeliveryCache) Claim(ctx context.Context, key string) (bool, error) {
	if c == nil {
		return true, nil
	}
	ok, err := c.client.SetNX(ctx, deliveryPrefix+key, time.Now().UTC().Format(time.RFC3339), c.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("DeliveryCache.Claim: %w", err)
	}
	return ok, nil
}

// Release drops a claim whose delivery could not be stored, letting the
// provider's retry through.
func (c *DeliveryCache) Release(ctx context.Context, key string) error {
	if c == nil {
		return nil
	}
	if err := c.client.Del(ctx, deliveryPrefix+key).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("DeliveryCache.Release: %w", err)
	}
	return nil
}
