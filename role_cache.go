package roleguard

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
	"golang.org/x/sync/singleflight"
)

// Role cache defaults.
const (
	DefaultRoleCacheTTL         = 30 * time.Second
	DefaultRistrettoNumCounters = 10_000
	DefaultRistrettoMaxCost     = 1_000
	DefaultRistrettoBufferItems = 64
)

// RoleCacheConfig sizes the role cache. Zero values take the defaults.
// LoadTimeout bounds a shared miss; the engine sets it to its lookup timeout.
type RoleCacheConfig struct {
	TTL         time.Duration
	LoadTimeout time.Duration
	NumCounters int64
	MaxCost     int64
	BufferItems int64
}

// CachedRoleRepository is a process-wide, time-boxed read-through cache in
// front of a RoleRepository. Only found roles are cached; absences and
// errors always go to the underlying repository. Concurrent misses for the
// same code share one load, which runs detached from any single caller's
// cancellation; each caller still returns when its own ctx is done.
// Administrative edits must
// call Invalidate (or Clear); otherwise changes appear within TTL.
type CachedRoleRepository struct {
	next        RoleRepository
	cache       *ristretto.Cache
	ttl         time.Duration
	loadTimeout time.Duration
	group       singleflight.Group
}

func NewCachedRoleRepository(next RoleRepository, cfg RoleCacheConfig) (*CachedRoleRepository, error) {
	if next == nil {
		return nil, fmt.Errorf("role repository is required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultRoleCacheTTL
	}
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = DefaultLookupTimeout
	}
	if cfg.NumCounters <= 0 {
		cfg.NumCounters = DefaultRistrettoNumCounters
	}
	if cfg.MaxCost <= 0 {
		cfg.MaxCost = DefaultRistrettoMaxCost
	}
	if cfg.BufferItems <= 0 {
		cfg.BufferItems = DefaultRistrettoBufferItems
	}
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
	})
	if err != nil {
		return nil, fmt.Errorf("role cache: %w", err)
	}
	return &CachedRoleRepository{next: next, cache: c, ttl: cfg.TTL, loadTimeout: cfg.LoadTimeout}, nil
}

func (r *CachedRoleRepository) Get(ctx context.Context, roleCode string) (*RoleDefinition, error) {
	if v, ok := r.cache.Get(roleCode); ok {
		if role, ok := v.(*RoleDefinition); ok {
			return role, nil
		}
	}
	ch := r.group.DoChan(roleCode, func() (any, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.loadTimeout)
		defer cancel()
		role, err := r.next.Get(lctx, roleCode)
		if err != nil || role == nil {
			return role, err
		}
		r.cache.SetWithTTL(roleCode, role, 1, r.ttl)
		return role, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		role, _ := res.Val.(*RoleDefinition)
		return role, nil
	}
}

// Invalidate drops a single role from the cache.
func (r *CachedRoleRepository) Invalidate(roleCode string) {
	r.cache.Del(roleCode)
}

// Clear drops every cached role.
func (r *CachedRoleRepository) Clear() {
	r.cache.Clear()
}

// Wait blocks until pending cache writes are applied.
func (r *CachedRoleRepository) Wait() {
	r.cache.Wait()
}

func (r *CachedRoleRepository) Close() {
	r.cache.Close()
}
