package redisclient

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"order-saga-service/internal/models"
)

// availabilityCacheTTL bounds staleness if an invalidation is lost.
const availabilityCacheTTL = time.Minute

type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// CacheAvailability stores a product's availability snapshot
func (c *Client) CacheAvailability(ctx context.Context, avail *models.StockAvailability) error {
	key := fmt.Sprintf("stock:%d", avail.ProductID)

	pipe := c.rdb.Pipeline()
	pipe.HSet(ctx, key,
		"total", avail.Total,
		"reserved", avail.Reserved,
		"available", avail.Available)
	pipe.Expire(ctx, key, availabilityCacheTTL)

	_, err := pipe.Exec(ctx)
	return err
}

// GetAvailability retrieves a cached availability snapshot. A cache miss
// returns (nil, nil).
func (c *Client) GetAvailability(ctx context.Context, productID int64) (*models.StockAvailability, error) {
	key := fmt.Sprintf("stock:%d", productID)

	result, err := c.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	if len(result) == 0 {
		return nil, nil
	}

	total, err := strconv.Atoi(result["total"])
	if err != nil {
		return nil, fmt.Errorf("corrupt availability cache for product %d: %w", productID, err)
	}
	reserved, _ := strconv.Atoi(result["reserved"])
	available, _ := strconv.Atoi(result["available"])

	return &models.StockAvailability{
		ProductID: productID,
		Total:     total,
		Reserved:  reserved,
		Available: available,
	}, nil
}

// InvalidateAvailability drops a product's cached snapshot after a write
func (c *Client) InvalidateAvailability(ctx context.Context, productID int64) error {
	return c.rdb.Del(ctx, fmt.Sprintf("stock:%d", productID)).Err()
}

// SetIdempotencyKey maps an idempotency key to an order id with TTL
func (c *Client) SetIdempotencyKey(ctx context.Context, key, orderID string, ttl time.Duration) error {
	return c.rdb.Set(ctx, fmt.Sprintf("idempotency:%s", key), orderID, ttl).Err()
}

// GetIdempotencyKey returns the order id for an idempotency key, or ""
func (c *Client) GetIdempotencyKey(ctx context.Context, key string) (string, error) {
	orderID, err := c.rdb.Get(ctx, fmt.Sprintf("idempotency:%s", key)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return orderID, nil
}

// AcquireLock acquires a distributed lock, used to elect a single sweeper
func (c *Client) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf("lock:%s", lockKey), "1", ttl).Result()
}

// ReleaseLock releases a distributed lock
func (c *Client) ReleaseLock(ctx context.Context, lockKey string) error {
	return c.rdb.Del(ctx, fmt.Sprintf("lock:%s", lockKey)).Err()
}
