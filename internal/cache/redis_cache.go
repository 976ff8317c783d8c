package cache

import (
	"context"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const barcodeKeyPrefix = "kasastok:barcode:"

type RedisBarcodeCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisBarcodeCache(addr string, password string, db int, ttl time.Duration) *RedisBarcodeCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisBarcodeCache{client: client, ttl: ttl}
}

func (c *RedisBarcodeCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisBarcodeCache) Close() error {
	return c.client.Close()
}

func (c *RedisBarcodeCache) Get(ctx context.Context, barcode string) (string, bool, error) {
	val, err := c.client.Get(ctx, barcodeKeyPrefix+barcode).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (c *RedisBarcodeCache) Set(ctx context.Context, barcode string, productID string) error {
	if barcode == "" || productID == "" {
		return nil
	}
	return c.client.Set(ctx, barcodeKeyPrefix+barcode, productID, c.ttl).Err()
}

func (c *RedisBarcodeCache) Delete(ctx context.Context, barcode string) error {
	if barcode == "" {
		return nil
	}
	return c.client.Del(ctx, barcodeKeyPrefix+barcode).Err()
}
