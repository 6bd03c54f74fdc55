package roleguard

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/oarkflow/roleguard/logger"
	"github.com/oarkflow/roleguard/utils"
)

type resultCtxKey struct{}

// ContextWithResult attaches a decision to ctx.
func ContextWithResult(ctx context.Context, res *CheckResult) context.Context {
	return context.WithValue(ctx, resultCtxKey{}, res)
}

// ResultFromContext returns the decision RequirePermission attached, if any.
func ResultFromContext(ctx context.Context) (*CheckResult, bool) {
	res, ok := ctx.Value(resultCtxKey{}).(*CheckResult)
	return res, ok
}

// MiddlewareOptions configures RequirePermission. Extractors are supplied by
// the application; Actor is required.
type MiddlewareOptions struct {
	Actor      func(r *http.Request) string
	ResourceID func(r *http.Request) string
	SessionID  func(r *http.Request) string

	// Sessions, when set, records the session after a grant so that the
	// max_concurrent_sessions restriction sees it on later checks.
	Sessions SessionRecorder

	// TrustedProxies lists peers (exact IPs or a.b.c.d/n ranges) whose
	// X-Forwarded-For header is believed. Requests from any other peer are
	// checked against their RemoteAddr.
	TrustedProxies []string

	OnDenied func(w http.ResponseWriter, r *http.Request, res *CheckResult)
	OnError  func(w http.ResponseWriter, r *http.Request, err error)
	Logger   logger.Logger
}

// RequirePermission returns middleware that lets the request through only
// when the engine grants module/action to the request's actor. Denials get
// 403, an unavailable repository 503, missing actor 401.
func RequirePermission(engine *Engine, module, action string, opts MiddlewareOptions) func(next http.Handler) http.Handler {
	if opts.Logger == nil {
		opts.Logger = logger.NewNullLogger()
	}
	if opts.OnDenied == nil {
		opts.OnDenied = func(w http.ResponseWriter, r *http.Request, res *CheckResult) {
			writeError(w, http.StatusForbidden, "forbidden")
		}
	}
	if opts.OnError == nil {
		opts.OnError = func(w http.ResponseWriter, r *http.Request, err error) {
			if errors.Is(err, ErrRepositoryUnavailable) {
				writeError(w, http.StatusServiceUnavailable, "authorization data unavailable")
				return
			}
			writeError(w, http.StatusInternalServerError, "internal error")
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var actor string
			if opts.Actor != nil {
				actor = opts.Actor(r)
			}
			if actor == "" {
				writeError(w, http.StatusUnauthorized, "unauthenticated")
				return
			}
			req := &CheckRequest{
				Actor:  actor,
				Module: module,
				Action: action,
				Context: RequestContext{
					SourceIP:  forwardedClientIP(r, opts.TrustedProxies),
					UserAgent: r.UserAgent(),
					RequestID: requestID(r),
				},
			}
			if opts.ResourceID != nil {
				req.ResourceID = opts.ResourceID(r)
			}
			res, err := engine.Check(r.Context(), req)
			if err != nil {
				opts.Logger.Error("permission middleware", "actor", actor, "module", module, "action", action, "error", err)
				opts.OnError(w, r, err)
				return
			}
			if !res.Granted {
				opts.OnDenied(w, r, res)
				return
			}
			if opts.Sessions != nil && opts.SessionID != nil {
				if sid := opts.SessionID(r); sid != "" {
					if err := opts.Sessions.TouchSession(r.Context(), actor, sid, engine.clock()); err != nil {
						opts.Logger.Warn("session touch failed", "actor", actor, "session", sid, "error", err)
					}
				}
			}
			next.ServeHTTP(w, r.WithContext(ContextWithResult(r.Context(), res)))
		})
	}
}

// ClientIP returns the host part of r.RemoteAddr. Forwarding headers are
// ignored; install middleware.RealIP only behind a proxy that sets them.
// RemoteAddr.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// forwardedClientIP returns the first X-Forwarded-For hop when the peer is a
// trusted proxy, else ClientIP.
func forwardedClientIP(r *http.Request, trusted []string) string {
	peer := ClientIP(r)
	if len(trusted) == 0 || !utils.MatchAnyIP(trusted, peer) {
		return peer
	}
	xff := r.Header.Get("X-Forwarded-For")
	if xff == "" {
		return peer
	}
	first, _, _ := strings.Cut(xff, ",")
	if ip := strings.TrimSpace(first); ip != "" {
		return ip
	}
	return peer
}
