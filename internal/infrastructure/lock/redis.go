package lock

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"p2plend/internal/domain/uow"
	"p2plend/pkg/id"
)

const (
	defaultLockTTL   = 2 * time.Minute
	defaultLockRetry = 50 * time.Millisecond
	releaseTimeout   = 2 * time.Second
	lockKeyPrefix    = "lock:loan:"
)

// release deletes the key only if it still holds our token, so an expired
// holder cannot drop a lock that someone else acquired since.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Redis is a per-loan lock shared by every coordinator instance using the same
// Redis. The TTL must exceed the ledger confirmation timeout.
type Redis struct {
	rdb   *redis.Client
	ttl   time.Duration
	retry time.Duration
	local *Keyed
	log   *slog.Logger
}

var _ uow.UnitOfWork = (*Redis)(nil)

type RedisOption func(*Redis)

// WithLogger sets where failed releases are reported.
func WithLogger(l *slog.Logger) RedisOption { return func(r *Redis) { r.log = l } }

func NewRedis(rdb *redis.Client, ttl time.Duration, opts ...RedisOption) *Redis {
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	r := &Redis{rdb: rdb, ttl: ttl, retry: defaultLockRetry, local: NewKeyed(), log: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Redis) WithinLoan(ctx context.Context, loanID uint64, fn func(ctx context.Context) error) error {
	// Local waiters queue in-process instead of polling Redis.
	return r.local.WithinLoan(ctx, loanID, func(ctx context.Context) error {
		key := lockKeyPrefix + strconv.FormatUint(loanID, 10)
		token := id.NewID32()
		if err := r.acquire(ctx, key, token); err != nil {
			return err
		}
		defer r.release(loanID, key, token)
		return fn(ctx)
	})
}

// release never fails the caller's work. A key left behind expires after the
// lock TTL, so failures are only reported.
func (r *Redis) release(loanID uint64, key, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	n, err := releaseScript.Run(ctx, r.rdb, []string{key}, token).Int64()
	switch {
	case err != nil:
		r.log.Warn("loan lock release failed", "loan_id", loanID, "key", key, "ttl", r.ttl, "err", err)
	case n == 0:
		r.log.Warn("loan lock expired before release", "loan_id", loanID, "key", key, "ttl", r.ttl)
	}
}

func (r *Redis) acquire(ctx context.Context, key, token string) error {
	t := time.NewTicker(r.retry)
	defer t.Stop()
	for {
		ok, err := r.rdb.SetNX(ctx, key, token, r.ttl).Result()
		if err != nil {
			return pkgerrors.Wrapf(err, "acquire %s", key)
		}
		if ok {
			return nil
		}
		select {
		case <-t.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
