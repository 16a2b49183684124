package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// DeliveryTracker remembers webhook deliveries that were fully processed so
// redeliveries can be acknowledged without touching the store.
type DeliveryTracker struct {
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
}

// NewDeliveryTracker connects to redisURL and verifies the connection.
func NewDeliveryTracker(ctx context.Context, redisURL string, ttl time.Duration) (*DeliveryTracker, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	return NewDeliveryTrackerFromClient(client, ttl), nil
}

func NewDeliveryTrackerFromClient(client *redis.Client, ttl time.Duration) *DeliveryTracker {
	return &DeliveryTracker{rdb: client, ttl: ttl, prefix: "paystack:webhook:"}
}

func (d *DeliveryTracker) key(signature string) string {
	return d.prefix + signature
}

// Seen reports whether the delivery with this signature was already processed.
func (d *DeliveryTracker) Seen(ctx context.Context, signature string) (bool, error) {
	n, err := d.rdb.Exists(ctx, d.key(signature)).Result()
	return n > 0, err
}

// Mark records a processed delivery. It returns false when it was already marked.
func (d *DeliveryTracker) Mark(ctx context.Context, signature string) (bool, error) {
	return d.rdb.SetNX(ctx, d.key(signature), "1", d.ttl).Result()
}

// Close closes the Redis connection
func (d *DeliveryTracker) Close() error {
	return d.rdb.Close()
}
