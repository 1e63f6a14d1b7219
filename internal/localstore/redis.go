package localstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisPrefix     = "addressvault:"
	defaultRedisMaxRetries = 8
)

// RedisBackend stores values as plain redis strings under a key prefix.
// Update uses WATCH/MULTI so concurrent writers from several processes never
// lose each other's changes.
type RedisBackend struct {
	client     *redis.Client
	prefix     string
	maxRetries int
	ownsClient bool
}

// NewRedisBackend wraps an existing client. The caller keeps ownership of it.
func NewRedisBackend(client *redis.Client, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisBackend{
		client:     client,
		prefix:     prefix,
		maxRetries: defaultRedisMaxRetries,
	}
}

func (b *RedisBackend) key(k string) string { return b.prefix + k }

func (b *RedisBackend) Load(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := b.client.Get(ctx, b.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, backendErr("redis get "+key, err)
	}
	return data, true, nil
}

func (b *RedisBackend) Save(ctx context.Context, key string, data []byte) error {
	if err := b.client.Set(ctx, b.key(key), data, 0).Err(); err != nil {
		return backendErr("redis set "+key, err)
	}
	return nil
}

func (b *RedisBackend) Update(ctx context.Context, key string, fn UpdateFunc) error {
	k := b.key(key)

	for attempt := 0; attempt < b.maxRetries; attempt++ {
		var fnErr error
		err := b.client.Watch(ctx, func(tx *redis.Tx) error {
			cur, err := tx.Get(ctx, k).Bytes()
			ok := true
			if errors.Is(err, redis.Nil) {
				ok = false
			} else if err != nil {
				return err
			}

			next, err := fn(cur, ok)
			if err != nil {
				fnErr = err
				return err
			}
			if next == nil {
				return nil
			}
			_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
				p.Set(ctx, k, next, 0)
				return nil
			})
			return err
		}, k)

		switch {
		case err == nil:
			return nil
		case fnErr != nil:
			return fnErr
		case errors.Is(err, redis.TxFailedErr):
			continue
		default:
			return backendErr("redis update "+key, err)
		}
	}
	return backendErr("redis update "+key, fmt.Errorf("gave up after %d conflicting transactions", b.maxRetries))
}

func (b *RedisBackend) Close() error {
	if b.ownsClient {
		return b.client.Close()
	}
	return nil
}
