package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const (
	headerRequestID = "Ax-Request-Id"
	headerRequestAt = "Ax-Request-At"

	idempKeyPrefix = "idemp:ax:"
	// epoch values above this are milliseconds
	epochMillisFloor = 1e12
)

var errEntryGone = errors.New("idempotency entry expired")

func bodyHash(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func nowUTC() time.Time { return time.Now().UTC() }

// buildKey scopes a request id to one wallet and one concrete route.
func buildKey(method, path, wallet, requestID string) string {
	return idempKeyPrefix + strings.Join([]string{
		strings.ToLower(method), path, strings.ToLower(wallet), requestID,
	}, ":")
}

// retryable reports whether a response means nothing reached the ledger, so
// the same request id may be tried again.
func retryable(code int) bool {
	return code == http.StatusBadGateway || code == http.StatusServiceUnavailable
}

// parseAxRequestAt takes epoch seconds, epoch milliseconds, or RFC3339 with a
// zone. Timestamps without a zone are rejected.
func parseAxRequestAt(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, errors.New("missing " + headerRequestAt)
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if n > epochMillisFloor {
			return time.UnixMilli(n).UTC(), nil
		}
		return time.Unix(n, 0).UTC(), nil
	}
	// RFC3339Nano also accepts values without fractional seconds
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, errors.New(headerRequestAt + " must be epoch (s/ms) or RFC3339 with timezone")
}

// provisionalSet reserves key for an in-flight request. false means someone
// holds it already.
func provisionalSet(ctx context.Context, rdb *redis.Client, key string, entry idempEntry, ttl time.Duration) (bool, error) {
	payload, err := json.Marshal(entry)
	if err != nil {
		return false, pkgerrors.Wrap(err, "encode idempotency entry")
	}
	return rdb.SetNX(ctx, key, payload, ttl).Result()
}

func loadEntry(ctx context.Context, rdb *redis.Client, key string) (idempEntry, error) {
	var e idempEntry
	v, err := rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return e, errEntryGone
	}
	if err != nil {
		return e, pkgerrors.Wrapf(err, "load %s", key)
	}
	if err := json.Unmarshal(v, &e); err != nil {
		return idempEntry{}, pkgerrors.Wrapf(err, "decode %s", key)
	}
	return e, nil
}

func saveFinal(ctx context.Context, rdb *redis.Client, key string, entry idempEntry, ttl time.Duration) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return pkgerrors.Wrap(err, "encode idempotency entry")
	}
	return rdb.Set(ctx, key, payload, ttl).Err()
}

func releaseEntry(ctx context.Context, rdb *redis.Client, key string) error {
	return rdb.Del(ctx, key).Err()
}
