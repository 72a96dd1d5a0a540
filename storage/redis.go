// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore persists through a Redis server. All keys are namespaced with
// a prefix so several deployments can share one database.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to the server at url (redis://...) and verifies
// the connection with a PING
func NewRedisStore(ctx context.Context, url, prefix string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return NewRedisStoreFromClient(client, prefix), nil
}

// NewRedisStoreFromClient wraps an existing client
func NewRedisStoreFromClient(client *redis.Client, prefix string) *RedisStore {
	if prefix != "" && !strings.HasSuffix(prefix, ":") {
		prefix += ":"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (r *RedisStore) key(k string) string {
	return r.prefix + k
}

// wrap maps transport failures onto ErrUnavailable
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "not an integer") || strings.Contains(err.Error(), "not a valid float") {
		return fmt.Errorf("%w: %s: %v", ErrNotNumeric, op, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
}

func (r *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.client.Get(ctx, r.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrap("get", err)
	}
	return v, true, nil
}

func (r *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	return wrap("set", r.client.Set(ctx, r.key(key), value, ttl).Err())
}

func (r *RedisStore) Delete(ctx context.Context, key string) error {
	return wrap("del", r.client.Del(ctx, r.key(key)).Err())
}

func (r *RedisStore) Increment(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	k := r.key(key)
	var incr *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.IncrBy(ctx, k, delta)
		if ttl > 0 {
			pipe.Expire(ctx, k, ttl)
		}
		return nil
	})
	if err != nil {
		return 0, wrap("incrby", err)
	}
	return incr.Val(), nil
}

func (r *RedisStore) IncrementFloat(ctx context.Context, key string, delta float64) (float64, error) {
	v, err := r.client.IncrByFloat(ctx, r.key(key), delta).Result()
	if err != nil {
		return 0, wrap("incrbyfloat", err)
	}
	return v, nil
}

func (r *RedisStore) AddToSet(ctx context.Context, set, member string) (bool, error) {
	n, err := r.client.SAdd(ctx, r.key(set), member).Result()
	if err != nil {
		return false, wrap("sadd", err)
	}
	return n == 1, nil
}

func (r *RedisStore) RemoveFromSet(ctx context.Context, set, member string) error {
	return wrap("srem", r.client.SRem(ctx, r.key(set), member).Err())
}

func (r *RedisStore) SetSize(ctx context.Context, set string) (int64, error) {
	n, err := r.client.SCard(ctx, r.key(set)).Result()
	if err != nil {
		return 0, wrap("scard", err)
	}
	return n, nil
}

func (r *RedisStore) PushCapped(ctx context.Context, list, value string, maxLen int) error {
	k := r.key(list)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, k, value)
		if maxLen > 0 {
			pipe.LTrim(ctx, k, 0, int64(maxLen-1))
		}
		return nil
	})
	return wrap("lpush", err)
}

func (r *RedisStore) Range(ctx context.Context, list string, n int) ([]string, error) {
	stop := int64(-1)
	if n > 0 {
		stop = int64(n - 1)
	}
	items, err := r.client.LRange(ctx, r.key(list), 0, stop).Result()
	if err != nil {
		return nil, wrap("lrange", err)
	}
	return items, nil
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return wrap("ping", r.client.Ping(ctx).Err())
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
