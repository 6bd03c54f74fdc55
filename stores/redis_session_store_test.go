package stores

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestRedisSessionStoreSlidingWindow(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	store := NewRedisSessionStore(client)
	ctx := context.Background()
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	_ = store.TouchSession(ctx, "u1", "s1", now.Add(-45*time.Minute))
	_ = store.TouchSession(ctx, "u1", "s2", now.Add(-10*time.Minute))
	_ = store.TouchSession(ctx, "u1", "s3", now)
	_ = store.TouchSession(ctx, "u2", "s9", now)

	n, err := store.CountActiveSessions(ctx, "u1", now.Add(-30*time.Minute))
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 sessions in window, got %d", n)
	}

	// touching again moves s1 into the window rather than adding a member
	_ = store.TouchSession(ctx, "u1", "s1", now)
	if n, _ := store.CountActiveSessions(ctx, "u1", now.Add(-30*time.Minute)); n != 3 {
		t.Fatalf("expected 3 sessions after touch, got %d", n)
	}
	_ = store.EndSession(ctx, "u1", "s3")
	if n, _ := store.CountActiveSessions(ctx, "u1", now.Add(-30*time.Minute)); n != 2 {
		t.Fatalf("expected 2 sessions after end, got %d", n)
	}
}

func TestRedisSessionStoreUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })
	mr.Close()
	store := NewRedisSessionStore(client)
	if _, err := store.CountActiveSessions(context.Background(), "u1", time.Now()); err == nil {
		t.Fatalf("expected error when redis is down")
	}
}
