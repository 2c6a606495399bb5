// Package cache opens the Redis client shared by the idempotency store and
// the distributed loan lock.
package cache

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	pkgerrors "github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const pingTimeout = 2 * time.Second

// OpenRedis connects and pings until the server answers or wait runs out.
// wait <= 0 means a single attempt.
func OpenRedis(addr string, db int, wait time.Duration) (*redis.Client, error) {
	r := redis.NewClient(&redis.Options{Addr: addr, DB: db})

	var bo backoff.BackOff = &backoff.StopBackOff{}
	if wait > 0 {
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = 100 * time.Millisecond
		eb.MaxInterval = 2 * time.Second
		eb.MaxElapsedTime = wait
		bo = eb
	}

	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
		defer cancel()
		return r.Ping(ctx).Err()
	}, bo)
	if err != nil {
		_ = r.Close()
		return nil, pkgerrors.Wrapf(err, "connect redis %s after %d attempt(s)", addr, attempts)
	}
	return r, nil
}
