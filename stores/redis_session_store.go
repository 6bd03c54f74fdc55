package stores

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultSessionRetention bounds how long idle session entries stay in Redis.
const DefaultSessionRetention = 24 * time.Hour

// RedisSessionStore tracks session activity in one sorted set per actor
// (key: roleguard:sessions:{actor}), member = session id, score = last
// activity in unix milliseconds.
type RedisSessionStore struct {
	client    redis.UniversalClient
	keyFmt    string
	retention time.Duration
}

func NewRedisSessionStore(client redis.UniversalClient) *RedisSessionStore {
	return &RedisSessionStore{client: client, keyFmt: "roleguard:sessions:%s", retention: DefaultSessionRetention}
}

// WithRetention changes how long entries are kept after their last touch.
func (r *RedisSessionStore) WithRetention(d time.Duration) *RedisSessionStore {
	if d > 0 {
		r.retention = d
	}
	return r
}

func (r *RedisSessionStore) key(actor string) string {
	return fmt.Sprintf(r.keyFmt, actor)
}

// TouchSession records activity and prunes entries older than the retention.
func (r *RedisSessionStore) TouchSession(ctx context.Context, actor, sessionID string, at time.Time) error {
	key := r.key(actor)
	cutoff := at.Add(-r.retention).UnixMilli()
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZAdd(ctx, key, redis.Z{Score: float64(at.UnixMilli()), Member: sessionID})
		p.ZRemRangeByScore(ctx, key, "-inf", "("+strconv.FormatInt(cutoff, 10))
		p.Expire(ctx, key, r.retention)
		return nil
	})
	if err != nil {
		return fmt.Errorf("touch session %s for %s: %w", sessionID, actor, err)
	}
	return nil
}

func (r *RedisSessionStore) EndSession(ctx context.Context, actor, sessionID string) error {
	if err := r.client.ZRem(ctx, r.key(actor), sessionID).Err(); err != nil {
		return fmt.Errorf("end session %s for %s: %w", sessionID, actor, err)
	}
	return nil
}

func (r *RedisSessionStore) CountActiveSessions(ctx context.Context, actor string, since time.Time) (int, error) {
	n, err := r.client.ZCount(ctx, r.key(actor), strconv.FormatInt(since.UnixMilli(), 10), "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("count sessions for %s: %w", actor, err)
	}
	return int(n), nil
}
