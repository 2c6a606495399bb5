package cache

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func TestOpenRedis_Success(t *testing.T) {
	s := miniredis.RunT(t)

	c, err := OpenRedis(s.Addr(), 2, 0)
	if err != nil {
		t.Fatalf("OpenRedis returned error: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })

	if got := c.Options().DB; got != 2 {
		t.Fatalf("client DB = %d, want 2", got)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.Set(ctx, "k", "v", 0).Err(); err != nil {
		t.Fatalf("SET err: %v", err)
	}
	if v, err := c.Get(ctx, "k").Result(); err != nil || v != "v" {
		t.Fatalf("GET = %q, %v", v, err)
	}
}

func TestOpenRedis_SingleAttemptFailure(t *testing.T) {
	_, err := OpenRedis("127.0.0.1:1", 0, 0)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "after 1 attempt(s)") {
		t.Fatalf("err = %v", err)
	}
}

func TestOpenRedis_WaitsForLateServer(t *testing.T) {
	// reserve a port, then start the server on it a little later
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := l.Addr().String()
	_ = l.Close()

	s := miniredis.NewMiniRedis()
	t.Cleanup(s.Close)
	go func() {
		time.Sleep(300 * time.Millisecond)
		if err := s.StartAddr(addr); err != nil {
			t.Errorf("start miniredis: %v", err)
		}
	}()

	c, err := OpenRedis(addr, 0, 5*time.Second)
	if err != nil {
		t.Fatalf("OpenRedis: %v", err)
	}
	_ = c.Close()
}

func TestOpenRedis_GivesUpAfterWait(t *testing.T) {
	start := time.Now()
	if _, err := OpenRedis("127.0.0.1:1", 0, 300*time.Millisecond); err == nil {
		t.Fatal("expected error, got nil")
	}
	if d := time.Since(start); d > 5*time.Second {
		t.Fatalf("gave up after %v", d)
	}
}
