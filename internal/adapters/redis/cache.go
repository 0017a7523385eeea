package redis

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type Cache struct {
	client *redis.Client
}

func NewCache(client *redis.Client) *Cache {
	return &Cache{client: client}
}

func (c *Cache) Client() *redis.Client {
	return c.client
}

// GetAvailability returns the cached display availability for a tier.
// The cache is display-only; reserve decisions never read it.
func (c *Cache) GetAvailability(ctx context.Context, tierID uuid.UUID) (int, bool, error) {
	val, err := c.client.Get(ctx, "avail:"+tierID.String()).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, false, nil
	}
	return n, true, nil
}

func (c *Cache) SetAvailability(ctx context.Context, tierID uuid.UUID, available int, ttl time.Duration) error {
	return c.client.Set(ctx, "avail:"+tierID.String(), strconv.Itoa(available), ttl).Err()
}

// InvalidateAvailability drops the cached value after a mutation so the
// next read reflects the ledger sooner than the TTL would.
func (c *Cache) InvalidateAvailability(ctx context.Context, tierID uuid.UUID) error {
	return c.client.Del(ctx, "avail:"+tierID.String()).Err()
}
