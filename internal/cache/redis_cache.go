package cache

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisCache struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisCache namespaces every key under prefix, ex: "thinkprobe:".
func NewRedisCache(rdb *redis.Client, prefix string) *RedisCache {
	return &RedisCache{rdb: rdb, prefix: prefix}
}

func (c *RedisCache) key(k string) string { return c.prefix + k }

func (c *RedisCache) GetJSON(ctx context.Context, key string, dst any) (bool, error) {
	b, err := c.rdb.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(b, dst); err != nil {
		_ = c.rdb.Del(ctx, c.key(key)).Err()
		return false, nil
	}
	return true, nil
}

const maxUpdateAttempts = 5

// UpdateJSON is an optimistic WATCH/MULTI transaction; a concurrent writer
// forces a reload and another apply.
func (c *RedisCache) UpdateJSON(ctx context.Context, key string, ttl time.Duration, dst any, apply func(hit bool) error) error {
	full := c.key(key)
	if ttl <= 0 {
		ttl = redis.KeepTTL
	}

	txf := func(tx *redis.Tx) error {
		reflect.ValueOf(dst).Elem().SetZero()

		hit := true
		b, err := tx.Get(ctx, full).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
			hit = false
		case err != nil:
			return err
		default:
			if json.Unmarshal(b, dst) != nil {
				reflect.ValueOf(dst).Elem().SetZero()
				hit = false
			}
		}

		if err := apply(hit); err != nil {
			return err
		}
		out, err := json.Marshal(dst)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, full, out, ttl)
			return nil
		})
		return err
	}

	var err error
	for i := 0; i < maxUpdateAttempts; i++ {
		err = c.rdb.Watch(ctx, txf, full)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return err
}

func (c *RedisCache) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.key(k)
	}
	return c.rdb.Del(ctx, full...).Err()
}
