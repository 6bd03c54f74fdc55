package roleguard

import (
	"context"
	"time"

	"github.com/oarkflow/roleguard/logger"
	"github.com/oarkflow/roleguard/utils"
)

// DefaultSessionWindow is the sliding window for counting active sessions.
const DefaultSessionWindow = 30 * time.Minute

// RestrictionEvaluator applies role-level restrictions.
//
// The session ceiling is a soft limit: the count is read here and the new
// session is recorded later by the caller, so concurrent requests near the
// ceiling may both pass.
type RestrictionEvaluator struct {
	sessions SessionCounter
	window   time.Duration
	timeout  time.Duration
	location *time.Location
	logger   logger.Logger
}

func NewRestrictionEvaluator(sessions SessionCounter, window, timeout time.Duration, loc *time.Location, l logger.Logger) *RestrictionEvaluator {
	if window <= 0 {
		window = DefaultSessionWindow
	}
	if l == nil {
		l = logger.NewNullLogger()
	}
	return &RestrictionEvaluator{sessions: sessions, window: window, timeout: timeout, location: loc, logger: l}
}

// Evaluate returns "" when every restriction passes, otherwise the name of
// the first failing restriction.
func (r *RestrictionEvaluator) Evaluate(ctx context.Context, res *Restrictions, actor string, rc RequestContext) string {
	if res == nil {
		return ""
	}
	if len(res.AllowedHours) == 2 {
		h := localHour(rc.Now, r.location)
		if h < res.AllowedHours[0] || h > res.AllowedHours[1] {
			return "allowed_hours"
		}
	}
	if len(res.AllowedDays) > 0 {
		day := isoWeekday(rc.Now, r.location)
		found := false
		for _, d := range res.AllowedDays {
			if d == day {
				found = true
				break
			}
		}
		if !found {
			return "allowed_days"
		}
	}
	if len(res.AllowedIPRanges) > 0 {
		if rc.SourceIP == "" || !utils.MatchAnyIP(res.AllowedIPRanges, rc.SourceIP) {
			return "allowed_ip_ranges"
		}
	}
	if res.MaxConcurrentSessions != nil {
		if !r.underSessionCeiling(ctx, actor, *res.MaxConcurrentSessions, rc.Now) {
			return "max_concurrent_sessions"
		}
	}
	return ""
}

func (r *RestrictionEvaluator) underSessionCeiling(ctx context.Context, actor string, ceiling int, now time.Time) bool {
	if r.sessions == nil {
		r.logger.Warn("session ceiling configured without a session counter", "actor", actor)
		return false
	}
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()
	count, err := r.sessions.CountActiveSessions(ctx, actor, now.Add(-r.window))
	if err != nil {
		r.logger.Error("session count failed", "actor", actor, "error", err)
		return false
	}
	return count < ceiling
}
