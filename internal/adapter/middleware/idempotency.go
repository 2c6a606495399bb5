package middleware

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"p2plend/pkg/id"
)

const (
	// Default in-progress reservation. A handler may wait for a ledger
	// confirmation, so keep it above that timeout.
	provisionalLockTTL = 2 * time.Minute
	// Allowed client/server clock skew for Ax-Request-At.
	maxClockSkew = 10 * time.Minute

	storeTimeout = 2 * time.Second
)

type idempOptions struct {
	inProgressTTL time.Duration
}

type IdempotencyOption func(*idempOptions)

// WithInProgressTTL bounds how long an unfinished request keeps its id reserved.
func WithInProgressTTL(d time.Duration) IdempotencyOption {
	return func(o *idempOptions) {
		if d > 0 {
			o.inProgressTTL = d
		}
	}
}

type idempEntry struct {
	InProgress  bool      `json:"in_progress"`
	Code        int       `json:"code"`
	Body        []byte    `json:"body"`
	BodySHA256  string    `json:"body_sha256"`
	RequestID   string    `json:"request_id"`
	RequestAtMS int64     `json:"request_at_ms"`
	CreatedAt   time.Time `json:"created_at"`
}

func (e idempEntry) replayable() bool { return !e.InProgress && e.Code != 0 && len(e.Body) > 0 }

// respRecorder tees the response so it can be stored for replay.
type respRecorder struct {
	w    http.ResponseWriter
	buf  *bytes.Buffer
	code int
}

func (r *respRecorder) Header() http.Header { return r.w.Header() }
func (r *respRecorder) Write(b []byte) (int, error) {
	if r.buf != nil {
		r.buf.Write(b)
	}
	return r.w.Write(b)
}
func (r *respRecorder) WriteHeader(statusCode int) { r.code = statusCode; r.w.WriteHeader(statusCode) }

// idempRequest is what a mutating request must carry.
type idempRequest struct {
	id     string
	at     time.Time
	wallet string
	body   []byte
}

type idempGuard struct {
	rdb  *redis.Client
	ttl  time.Duration
	opts idempOptions
}

// IdempotencyMiddleware guards mutations with key = method + path + wallet + Ax-Request-Id.
// Ax-Request-At must be epoch (seconds or ms) or RFC3339 with a zone.
//
// A finished response is replayed for the same key, including 202 pending
// outcomes, so a retried request never submits a second ledger transaction.
// 502 and 503 release the key instead: nothing was submitted.
func IdempotencyMiddleware(rdb *redis.Client, ttl time.Duration, opts ...IdempotencyOption) echo.MiddlewareFunc {
	g := &idempGuard{rdb: rdb, ttl: ttl, opts: idempOptions{inProgressTTL: provisionalLockTTL}}
	for _, fn := range opts {
		fn(&g.opts)
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			switch c.Request().Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				return next(c)
			}
			in, msg := readIdempRequest(c)
			if msg != "" {
				return c.JSON(http.StatusBadRequest, map[string]string{"error": msg})
			}
			return g.serve(c, next, in)
		}
	}
}

// readIdempRequest validates the headers and buffers the body. A non-empty
// message is the 400 reason.
func readIdempRequest(c echo.Context) (idempRequest, string) {
	req := c.Request()
	var in idempRequest

	in.id = strings.TrimSpace(req.Header.Get(headerRequestID))
	if in.id == "" {
		return in, "missing " + headerRequestID
	}
	if !id.Valid(in.id) {
		return in, "invalid " + headerRequestID + " format"
	}

	at, err := parseAxRequestAt(req.Header.Get(headerRequestAt))
	if err != nil {
		return in, err.Error()
	}
	now := nowUTC()
	if at.Before(now.Add(-maxClockSkew)) || at.After(now.Add(maxClockSkew)) {
		return in, headerRequestAt + " too skewed"
	}
	in.at = at

	wallet, err := CallerWallet(c)
	switch {
	case errors.Is(err, ErrMissingWallet):
		return in, err.Error()
	case err != nil:
		return in, "invalid " + HeaderWalletAddress
	}
	in.wallet = wallet

	if req.Body != nil {
		in.body, _ = io.ReadAll(req.Body)
	}
	req.Body = io.NopCloser(bytes.NewReader(in.body))
	return in, ""
}

func (g *idempGuard) serve(c echo.Context, next echo.HandlerFunc, in idempRequest) error {
	req := c.Request()
	// The concrete path keeps a reused request id on another loan from
	// replaying this loan's response.
	key := buildKey(req.Method, req.URL.Path, in.wallet, in.id)
	hash := bodyHash(in.body)

	ctx, cancel := context.WithTimeout(req.Context(), storeTimeout)
	defer cancel()

	ok, err := provisionalSet(ctx, g.rdb, key, g.entry(in, hash, true), g.opts.inProgressTTL)
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "idempotency store unavailable"})
	}
	if !ok {
		return g.replay(ctx, c, key, hash)
	}

	rec := &respRecorder{w: c.Response().Writer, buf: &bytes.Buffer{}, code: http.StatusOK}
	c.Response().Writer = rec
	if err := next(c); err != nil {
		c.Error(err)
	}

	// the request context may be gone by now
	if retryable(rec.code) {
		if err := releaseEntry(context.Background(), g.rdb, key); err != nil {
			slog.Warn("idempotency entry release failed", "key", key, "err", err)
		}
		return nil
	}
	final := g.entry(in, hash, false)
	final.Code = rec.code
	final.Body = rec.buf.Bytes()
	if err := saveFinal(context.Background(), g.rdb, key, final, g.ttl); err != nil {
		slog.Warn("idempotency entry save failed", "key", key, "err", err)
	}
	return nil
}

// replay answers a request whose key is already taken.
func (g *idempGuard) replay(ctx context.Context, c echo.Context, key, hash string) error {
	cur, err := loadEntry(ctx, g.rdb, key)
	if err != nil && !errors.Is(err, errEntryGone) {
		slog.Warn("idempotency entry load failed", "key", key, "err", err)
	}
	if cur.BodySHA256 != "" && cur.BodySHA256 != hash {
		return c.JSON(http.StatusConflict, map[string]string{"error": headerRequestID + " reused with different body"})
	}
	if cur.replayable() {
		return c.Blob(cur.Code, echo.MIMEApplicationJSON, cur.Body)
	}
	return c.JSON(http.StatusConflict, map[string]string{"error": "request is already in progress"})
}

func (g *idempGuard) entry(in idempRequest, hash string, inProgress bool) idempEntry {
	return idempEntry{
		InProgress:  inProgress,
		BodySHA256:  hash,
		RequestID:   in.id,
		RequestAtMS: in.at.UnixMilli(),
		CreatedAt:   nowUTC(),
	}
}
