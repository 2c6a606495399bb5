package lock

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"p2plend/internal/logging"
)

func newRedisLock(t *testing.T) (*Redis, *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	s := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	l := NewRedis(rdb, time.Minute)
	l.retry = 5 * time.Millisecond
	return l, s, rdb
}

func TestRedis_HoldsKeyDuringFnAndReleases(t *testing.T) {
	l, s, _ := newRedisLock(t)

	err := l.WithinLoan(context.Background(), 42, func(ctx context.Context) error {
		if !s.Exists("lock:loan:42") {
			t.Fatal("lock key missing while held")
		}
		if ttl := s.TTL("lock:loan:42"); ttl <= 0 {
			t.Fatalf("lock key has no TTL: %v", ttl)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if s.Exists("lock:loan:42") {
		t.Fatal("lock key not released")
	}
}

func TestRedis_WaitsForForeignHolder(t *testing.T) {
	l, s, _ := newRedisLock(t)
	// another instance holds the lock
	_ = s.Set("lock:loan:5", "someone-else")

	go func() {
		time.Sleep(30 * time.Millisecond)
		s.Del("lock:loan:5")
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ran := false
	if err := l.WithinLoan(ctx, 5, func(ctx context.Context) error { ran = true; return nil }); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if !ran {
		t.Fatal("fn was not called")
	}
}

func TestRedis_TimesOutOnForeignHolder(t *testing.T) {
	l, s, _ := newRedisLock(t)
	_ = s.Set("lock:loan:6", "someone-else")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := l.WithinLoan(ctx, 6, func(ctx context.Context) error { return nil })
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("want deadline exceeded, got %v", err)
	}
	// foreign lock untouched
	if v, _ := s.Get("lock:loan:6"); v != "someone-else" {
		t.Fatalf("foreign lock value = %q", v)
	}
}

func TestRedis_DoesNotReleaseForeignToken(t *testing.T) {
	l, s, _ := newRedisLock(t)
	err := l.WithinLoan(context.Background(), 9, func(ctx context.Context) error {
		// our lock expired and someone else took it
		_ = s.Set("lock:loan:9", "other")
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if v, _ := s.Get("lock:loan:9"); v != "other" {
		t.Fatalf("foreign lock was released, value=%q", v)
	}
}

func TestRedis_SerializesAcrossInstances(t *testing.T) {
	_, s, _ := newRedisLock(t)
	mk := func() *Redis {
		rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
		t.Cleanup(func() { _ = rdb.Close() })
		l := NewRedis(rdb, time.Minute)
		l.retry = 2 * time.Millisecond
		return l
	}
	a, b := mk(), mk()

	var inside, overlap int32
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		for _, l := range []*Redis{a, b} {
			wg.Add(1)
			go func(l *Redis) {
				defer wg.Done()
				_ = l.WithinLoan(context.Background(), 1, func(ctx context.Context) error {
					if atomic.AddInt32(&inside, 1) > 1 {
						atomic.StoreInt32(&overlap, 1)
					}
					time.Sleep(time.Millisecond)
					atomic.AddInt32(&inside, -1)
					return nil
				})
			}(l)
		}
	}
	wg.Wait()
	if overlap != 0 {
		t.Fatal("two instances held the same loan lock at once")
	}
}

func TestRedis_ConnectionError(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	defer rdb.Close()
	l := NewRedis(rdb, 0)
	if err := l.WithinLoan(context.Background(), 1, func(ctx context.Context) error { return nil }); err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestRedis_ReleaseFailureIsLogged(t *testing.T) {
	cases := []struct {
		name string
		mid  func(s *miniredis.Miniredis)
		want string
	}{
		{"server gone", func(s *miniredis.Miniredis) { s.Close() }, "loan lock release failed"},
		{"key expired", func(s *miniredis.Miniredis) { s.Del("lock:loan:7") }, "loan lock expired before release"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := miniredis.RunT(t)
			rdb := redis.NewClient(&redis.Options{Addr: s.Addr(), MaxRetries: -1})
			t.Cleanup(func() { _ = rdb.Close() })

			var buf bytes.Buffer
			l := NewRedis(rdb, time.Minute, WithLogger(logging.NewWithWriter(&buf, "debug", "text")))

			sentinel := errors.New("work failed")
			err := l.WithinLoan(context.Background(), 7, func(ctx context.Context) error {
				tc.mid(s)
				return sentinel
			})
			if !errors.Is(err, sentinel) {
				t.Fatalf("err = %v, want the work error", err)
			}
			out := buf.String()
			if !strings.Contains(out, tc.want) || !strings.Contains(out, "loan_id=7") {
				t.Fatalf("log = %q", out)
			}
		})
	}
}
