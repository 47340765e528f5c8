package meta

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisPrefix = "runnerpilot:meta:"

// RedisBackend stores each entry as a hash at runnerpilot:meta:<key> and
// tracks known keys in the set runnerpilot:meta:keys.
type RedisBackend struct {
	client *redis.Client
}

// NewRedis connects to addr.
func NewRedis(addr string) *RedisBackend {
	return &RedisBackend{client: redis.NewClient(&redis.Options{Addr: addr})}
}

// Ping checks connectivity.
func (b *RedisBackend) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Close releases the connection pool.
func (b *RedisBackend) Close() error {
	return b.client.Close()
}

func (b *RedisBackend) Get(ctx context.Context, key string) (Entry, error) {
	fields, err := b.client.HGetAll(ctx, redisPrefix+key).Result()
	if errors.Is(err, redis.Nil) || (err == nil && len(fields) == 0) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("meta: redis get %q: %w", key, err)
	}
	e := Entry{Key: key, Raw: fields["value"], Type: Type(fields["type"])}
	e.UpdatedAt, _ = time.Parse(time.RFC3339Nano, fields["updated_at"])
	return e, nil
}

func (b *RedisBackend) Put(ctx context.Context, e Entry) error {
	_, err := b.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, redisPrefix+e.Key,
			"value", e.Raw,
			"type", string(e.Type),
			"updated_at", e.UpdatedAt.UTC().Format(time.RFC3339Nano),
		)
		p.SAdd(ctx, redisPrefix+"keys", e.Key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("meta: redis set %q: %w", e.Key, err)
	}
	return nil
}

func (b *RedisBackend) Delete(ctx context.Context, key string) error {
	_, err := b.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, redisPrefix+key)
		p.SRem(ctx, redisPrefix+"keys", key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("meta: redis delete %q: %w", key, err)
	}
	return nil
}

func (b *RedisBackend) List(ctx context.Context) ([]Entry, error) {
	keys, err := b.client.SMembers(ctx, redisPrefix+"keys").Result()
	if err != nil {
		return nil, fmt.Errorf("meta: redis list: %w", err)
	}
	sort.Strings(keys)
	out := make([]Entry, 0, len(keys))
	for _, k := range keys {
		e, err := b.Get(ctx, k)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}
