package roleguard

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/oarkflow/roleguard/logger"
)

// maxBatchSize caps POST /v1/check/batch.
const maxBatchSize = 256

// Handler exposes an Engine over HTTP for trusted callers. The request body
// may set now and source_ip, and the role cache endpoint is unauthenticated,
// so it belongs on an internal network or behind an authenticating gateway.
// End-user traffic should go through RequirePermission instead.
type Handler struct {
	engine *Engine
	logger logger.Logger
}

func NewHandler(engine *Engine, l logger.Logger) *Handler {
	if l == nil {
		l = logger.NewNullLogger()
	}
	return &Handler{engine: engine, logger: l}
}

// checkPayload is the wire form of a CheckRequest. Request context fields
// missing from the body are taken from the HTTP request.
type checkPayload struct {
	Actor      string    `json:"actor"`
	Module     string    `json:"module"`
	Action     string    `json:"action"`
	ResourceID string    `json:"resource_id,omitempty"`
	Now        time.Time `json:"now,omitempty"`
	SourceIP   string    `json:"source_ip,omitempty"`
	UserAgent  string    `json:"user_agent,omitempty"`
	RequestID  string    `json:"request_id,omitempty"`
}

func (p checkPayload) request(r *http.Request) *CheckRequest {
	rc := RequestContext{Now: p.Now, SourceIP: p.SourceIP, UserAgent: p.UserAgent, RequestID: p.RequestID}
	if rc.SourceIP == "" {
		rc.SourceIP = ClientIP(r)
	}
	if rc.UserAgent == "" {
		rc.UserAgent = r.UserAgent()
	}
	if rc.RequestID == "" {
		rc.RequestID = requestID(r)
	}
	return &CheckRequest{Actor: p.Actor, Module: p.Module, Action: p.Action, ResourceID: p.ResourceID, Context: rc}
}

// MountRoutes registers the decision API on r.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/healthz", h.Health)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/check", h.Check)
		r.Post("/explain", h.Explain)
		r.Post("/check/batch", h.BatchCheck)
		r.Delete("/roles/{roleCode}/cache", h.InvalidateRole)
	})
}

// Routes returns a router with only the decision API mounted.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	h.MountRoutes(r)
	return r
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) Check(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.engine.Check)
}

func (h *Handler) Explain(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.engine.Explain)
}

func (h *Handler) decide(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, req *CheckRequest) (*CheckResult, error)) {
	var p checkPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	res, err := fn(r.Context(), p.request(r))
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) BatchCheck(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Requests []checkPayload `json:"requests"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(body.Requests) > maxBatchSize {
		writeError(w, http.StatusRequestEntityTooLarge, "too many requests in batch")
		return
	}
	reqs := make([]*CheckRequest, len(body.Requests))
	for i, p := range body.Requests {
		reqs[i] = p.request(r)
	}
	results, err := h.engine.BatchCheck(r.Context(), reqs)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (h *Handler) InvalidateRole(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "roleCode")
	if code == "" {
		writeError(w, http.StatusBadRequest, "role code required")
		return
	}
	h.engine.InvalidateRole(code)
	h.logger.Info("role cache invalidated", "role", code)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrRepositoryUnavailable):
		h.logger.Error("decision unavailable", "error", err)
		writeError(w, http.StatusServiceUnavailable, "authorization data unavailable")
	default:
		h.logger.Error("decision failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// requestID prefers the caller's X-Request-ID over the one chi's RequestID
// middleware generated.
func requestID(r *http.Request) string {
	if id := r.Header.Get("X-Request-ID"); id != "" {
		return id
	}
	return middleware.GetReqID(r.Context())
}
