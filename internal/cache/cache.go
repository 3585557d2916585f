// Package cache holds short-lived session state that other processes on the
// device read, such as the live band power and observer config.
package cache

import (
	"context"
	"time"
)

type Cache interface {
	// GetJSON reports a miss rather than an error for absent or corrupt keys.
	GetJSON(ctx context.Context, key string, dst any) (hit bool, err error)
	// UpdateJSON loads key into dst (zeroed on a miss), lets apply modify
	// it and writes it back as one atomic step. apply may run more than once.
	// ttl <= 0 keeps whatever expiry the key already had.
	UpdateJSON(ctx context.Context, key string, ttl time.Duration, dst any, apply func(hit bool) error) error
	Del(ctx context.Context, keys ...string) error
}
