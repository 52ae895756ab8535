package valuesource

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	backend "github.com/redis/go-redis/v9"

	"github.com/xkilldash9x/formpilot/api/schemas"
)

// Cache remembers generated mappings for a given field list.
type Cache interface {
	Get(ctx context.Context, key string) (schemas.ValueMapping, bool, error)
	Set(ctx context.Context, key string, mapping schemas.ValueMapping) error
}

// RedisCache implements Cache on redis.
type RedisCache struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

type CacheOption func(*RedisCache)

// WithTTL sets the expiration of cached mappings. Zero keeps them forever.
func WithTTL(ttl time.Duration) CacheOption {
	return func(c *RedisCache) { c.ttl = ttl }
}

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) CacheOption {
	return func(c *RedisCache) { c.prefix = prefix }
}

// NewRedisCache connects a cache to the redis server at address.
func NewRedisCache(address, password string, db int, opts ...CacheOption) *RedisCache {
	return NewRedisCacheFromClient(backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	}), opts...)
}

// NewRedisCacheFromClient wraps an existing client.
func NewRedisCacheFromClient(client *backend.Client, opts ...CacheOption) *RedisCache {
	c := &RedisCache{client: client, prefix: "formpilot:values:"}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *RedisCache) Get(ctx context.Context, key string) (schemas.ValueMapping, bool, error) {
	raw, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return schemas.ValueMapping{}, false, nil
		}
		return schemas.ValueMapping{}, false, fmt.Errorf("failed to read cached values: %w", err)
	}
	var m schemas.ValueMapping
	if err := m.UnmarshalJSON(raw); err != nil {
		return schemas.ValueMapping{}, false, fmt.Errorf("failed to decode cached values: %w", err)
	}
	return m, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, mapping schemas.ValueMapping) error {
	data, err := mapping.MarshalJSON()
	if err != nil {
		return fmt.Errorf("failed to encode values: %w", err)
	}
	if err := c.client.Set(ctx, c.prefix+key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache values: %w", err)
	}
	return nil
}

// Close releases the redis connection pool.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// FieldsKey derives a stable cache key from the generator-visible part of
// the field list.
func FieldsKey(fields []schemas.FieldDescriptor) (string, error) {
	data, err := json.Marshal(fields)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
