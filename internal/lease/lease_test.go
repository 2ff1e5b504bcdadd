package lease

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func testLease(t *testing.T, ttl time.Duration) (*Lease, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return New(client, "vnrelay:feed:stock:lease", ttl, nil), mr
}

func TestLease_AcquireReleaseAlive(t *testing.T) {
	l, _ := testLease(t, time.Minute)
	ctx := context.Background()

	alive, err := l.Alive(ctx)
	if err != nil {
		t.Fatalf("Alive failed: %v", err)
	}
	if alive {
		t.Error("expected lease to start absent")
	}

	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	alive, err = l.Alive(ctx)
	if err != nil {
		t.Fatalf("Alive failed: %v", err)
	}
	if !alive {
		t.Error("expected lease to exist after Acquire")
	}

	if err := l.Release(ctx); err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	alive, err = l.Alive(ctx)
	if err != nil {
		t.Fatalf("Alive failed: %v", err)
	}
	if alive {
		t.Error("expected lease to be absent after Release")
	}
}

func TestLease_AcquireIdempotent(t *testing.T) {
	l, _ := testLease(t, time.Minute)
	ctx := context.Background()

	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("first Acquire failed: %v", err)
	}
	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("second Acquire failed: %v", err)
	}

	alive, err := l.Alive(ctx)
	if err != nil {
		t.Fatalf("Alive failed: %v", err)
	}
	if !alive {
		t.Error("expected lease to exist")
	}
}

func TestLease_ExpiresWithoutRenewal(t *testing.T) {
	l, mr := testLease(t, 10*time.Second)
	ctx := context.Background()

	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	mr.FastForward(11 * time.Second)

	alive, err := l.Alive(ctx)
	if err != nil {
		t.Fatalf("Alive failed: %v", err)
	}
	if alive {
		t.Error("expected lease to expire after TTL")
	}
}

func TestLease_RenewExtendsTTL(t *testing.T) {
	l, mr := testLease(t, 10*time.Second)
	ctx := context.Background()

	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	mr.FastForward(8 * time.Second)
	if err := l.Renew(ctx); err != nil {
		t.Fatalf("Renew failed: %v", err)
	}
	mr.FastForward(8 * time.Second)

	alive, err := l.Alive(ctx)
	if err != nil {
		t.Fatalf("Alive failed: %v", err)
	}
	if !alive {
		t.Error("expected renewed lease to still exist")
	}
}

func TestLease_RenewAfterRelease(t *testing.T) {
	l, _ := testLease(t, time.Minute)
	ctx := context.Background()

	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if err := l.Release(ctx); err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	// Renew on an absent key must not resurrect it.
	if err := l.Renew(ctx); err != nil {
		t.Fatalf("Renew failed: %v", err)
	}

	alive, err := l.Alive(ctx)
	if err != nil {
		t.Fatalf("Alive failed: %v", err)
	}
	if alive {
		t.Error("Renew resurrected a released lease")
	}
}
