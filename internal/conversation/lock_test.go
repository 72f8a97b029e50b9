package conversation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLocker(t *testing.T, wait time.Duration) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisLocker(client, time.Minute, wait), mr
}

func TestRedisLockerExclusive(t *testing.T) {
	locker, mr := newTestLocker(t, 100*time.Millisecond)
	ctx := context.Background()

	release, err := locker.Acquire(ctx, "tenant-1:5511999")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if !mr.Exists(lockKey("tenant-1:5511999")) {
		t.Fatalf("expected lock key to exist")
	}

	if _, err := locker.Acquire(ctx, "tenant-1:5511999"); !errors.Is(err, ErrConversationBusy) {
		t.Fatalf("expected ErrConversationBusy, got %v", err)
	}

	other, err := locker.Acquire(ctx, "tenant-1:5511888")
	if err != nil {
		t.Fatalf("different conversation should not block: %v", err)
	}
	other()

	release()
	release()
	if mr.Exists(lockKey("tenant-1:5511999")) {
		t.Fatalf("expected lock key to be released")
	}

	again, err := locker.Acquire(ctx, "tenant-1:5511999")
	if err != nil {
		t.Fatalf("re-acquire after release: %v", err)
	}
	again()
}

func TestRedisLockerReleaseKeepsForeignOwner(t *testing.T) {
	locker, mr := newTestLocker(t, 50*time.Millisecond)

	release, err := locker.Acquire(context.Background(), "k")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	// Simulate the TTL lapsing and another worker taking the lock.
	if err := mr.Set(lockKey("k"), "someone-else"); err != nil {
		t.Fatalf("set: %v", err)
	}
	release()

	got, err := mr.Get(lockKey("k"))
	if err != nil || got != "someone-else" {
		t.Fatalf("expected foreign owner to keep the lock, got %q err=%v", got, err)
	}
}

func TestRedisLockerWaitsForRelease(t *testing.T) {
	locker, _ := newTestLocker(t, 2*time.Second)
	ctx := context.Background()

	release, err := locker.Acquire(ctx, "k")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	go func() {
		time.Sleep(100 * time.Millisecond)
		release()
	}()

	second, err := locker.Acquire(ctx, "k")
	if err != nil {
		t.Fatalf("expected second acquire after release, got %v", err)
	}
	second()
}
