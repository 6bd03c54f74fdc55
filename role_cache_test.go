package roleguard

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestCachedRoleRepositoryReadThrough(t *testing.T) {
	backend := newFakeRoles(NewRoleBuilder("r").Grant("orders", "read").Build())
	cache, err := NewCachedRoleRepository(backend, RoleCacheConfig{TTL: time.Hour})
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	defer cache.Close()
	ctx := context.Background()

	if r, err := cache.Get(ctx, "r"); err != nil || r == nil {
		t.Fatalf("first get: %v %v", r, err)
	}
	cache.Wait()
	if r, err := cache.Get(ctx, "r"); err != nil || r == nil {
		t.Fatalf("second get: %v %v", r, err)
	}
	if backend.gets != 1 {
		t.Fatalf("expected one backend read, got %d", backend.gets)
	}

	// absences are not cached
	_, _ = cache.Get(ctx, "missing")
	_, _ = cache.Get(ctx, "missing")
	if backend.gets != 3 {
		t.Fatalf("expected absences to reach the backend, got %d reads", backend.gets)
	}

	cache.Clear()
	backend.err = errors.New("down")
	if _, err := cache.Get(ctx, "r"); err == nil {
		t.Fatalf("expected backend error after clear")
	}
}

func TestCachedRoleRepositorySharedLoadIgnoresCallerDeadline(t *testing.T) {
	backend := newFakeRoles(NewRoleBuilder("r").Grant("*", "*").Build())
	backend.delay = 50 * time.Millisecond
	cache, err := NewCachedRoleRepository(backend, RoleCacheConfig{TTL: time.Hour, LoadTimeout: time.Second})
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	defer cache.Close()

	type result struct {
		role *RoleDefinition
		err  error
	}
	hasty := make(chan result, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
		defer cancel()
		r, err := cache.Get(ctx, "r")
		hasty <- result{r, err}
	}()
	time.Sleep(time.Millisecond)

	role, err := cache.Get(context.Background(), "r")
	if err != nil || role == nil {
		t.Fatalf("caller without deadline should get the role, got %v %v", role, err)
	}
	got := <-hasty
	if !errors.Is(got.err, context.DeadlineExceeded) {
		t.Fatalf("caller with short deadline should time out, got %v %v", got.role, got.err)
	}
}

func TestCachedRoleRepositoryRequiresBackend(t *testing.T) {
	if _, err := NewCachedRoleRepository(nil, RoleCacheConfig{}); err == nil {
		t.Fatalf("expected error for nil backend")
	}
}

func TestCachedRoleRepositoryConcurrentMisses(t *testing.T) {
	backend := newFakeRoles(NewRoleBuilder("r").Grant("*", "*").Build())
	cache, err := NewCachedRoleRepository(backend, RoleCacheConfig{TTL: time.Hour})
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	defer cache.Close()

	const callers = 16
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := cache.Get(context.Background(), "r")
			if err == nil && r == nil {
				err = errors.New("role missing")
			}
			if err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent get: %v", err)
	}
	backend.mu.Lock()
	defer backend.mu.Unlock()
	if backend.gets < 1 || backend.gets > callers {
		t.Fatalf("unexpected backend reads: %d", backend.gets)
	}
}
