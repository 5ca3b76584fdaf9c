package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ImageCache keeps resolved product-image URLs in redis for a bounded TTL.
// A nil cache is a valid no-op, so the catalog works without redis.
type ImageCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewImageCache wraps a redis client. TTLs at or below zero fall back to an
// hour.
func NewImageCache(client *redis.Client, ttl time.Duration) *ImageCache {
	if client == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &ImageCache{client: client, ttl: ttl}
}

func imageKey(productID string) string {
	return fmt.Sprintf("catalog:image:%s", productID)
}

// Get returns the cached URL and whether it was present.
func (c *ImageCache) Get(ctx context.Context, productID string) (string, bool) {
	if c == nil {
		return "", false
	}
	value, err := c.client.Get(ctx, imageKey(productID)).Result()
	if err != nil {
		return "", false
	}
	return value, true
}

// Set stores the URL. Cache write failures are invisible to callers.
func (c *ImageCache) Set(ctx context.Context, productID, imageURL string) {
	if c == nil || imageURL == "" {
		return
	}
	c.client.Set(ctx, imageKey(productID), imageURL, c.ttl)
}
