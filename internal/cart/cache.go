package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrCacheMiss = errors.New("cache miss")

// fillScript stores a cart only while the user's generation still matches the
// one read before the cart was loaded from the table.
var fillScript = redis.NewScript(`
if (redis.call("GET", KEYS[2]) or "0") ~= ARGV[3] then
	return 0
end
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
return 1
`)

// Cache is a read-through copy of carts in Redis. Every invalidation bumps a
// per-user generation so a fill that raced a write is dropped.
type Cache struct {
	client  redis.Cmdable
	baseTTL time.Duration
}

func NewCache(client redis.Cmdable, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Cache{client: client, baseTTL: ttl}
}

func (c *Cache) Get(ctx context.Context, userID string) (*Cart, error) {
	data, err := c.client.Get(ctx, cacheKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var cart Cart
	if err := json.Unmarshal(data, &cart); err != nil {
		return nil, fmt.Errorf("unmarshal cached cart: %w", err)
	}
	return &cart, nil
}

// Generation returns the user's invalidation counter. Read it before loading
// the cart that is passed to Fill.
func (c *Cache) Generation(ctx context.Context, userID string) (int64, error) {
	gen, err := c.client.Get(ctx, generationKey(userID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get generation: %w", err)
	}
	return gen, nil
}

// Fill caches cart unless the user's cart was invalidated after gen was read.
// It reports whether the cart was stored.
func (c *Cache) Fill(ctx context.Context, cart *Cart, gen int64) (bool, error) {
	data, err := json.Marshal(cart)
	if err != nil {
		return false, fmt.Errorf("marshal cart: %w", err)
	}
	// jitter spreads expiry of carts cached at the same time
	ttl := c.baseTTL + time.Duration(rand.Intn(5))*time.Minute
	keys := []string{cacheKey(cart.UserID), generationKey(cart.UserID)}
	stored, err := fillScript.Run(ctx, c.client, keys, data, ttl.Milliseconds(), gen).Int()
	if err != nil {
		return false, fmt.Errorf("redis fill: %w", err)
	}
	return stored == 1, nil
}

// Delete drops the cached cart and bumps the generation.
func (c *Cache) Delete(ctx context.Context, userID string) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, generationKey(userID))
		pipe.Expire(ctx, generationKey(userID), 2*c.baseTTL)
		pipe.Del(ctx, cacheKey(userID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis invalidate: %w", err)
	}
	return nil
}

func cacheKey(userID string) string {
	return fmt.Sprintf("cart:%s", userID)
}

func generationKey(userID string) string {
	return fmt.Sprintf("cart-gen:%s", userID)
}
