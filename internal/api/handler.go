package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/opensource-finance/riskguard/internal/domain"
	"github.com/opensource-finance/riskguard/internal/engine"
	"github.com/opensource-finance/riskguard/internal/rules"
	"github.com/opensource-finance/riskguard/internal/velocity"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo       domain.Repository
	cache      domain.Cache
	bus        domain.EventBus
	engine     *engine.Engine
	velocity   *velocity.Service
	profileTTL time.Duration
	async      bool
	version    string
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithCache serves risk profiles through c before falling back to the repository.
func WithCache(c domain.Cache, ttl time.Duration) HandlerOption {
	return func(h *Handler) {
		h.cache = c
		h.profileTTL = ttl
	}
}

// WithAsyncIngest makes POST /events store the event, publish it on the bus
// and answer 202 instead of evaluating inline.
func WithAsyncIngest(b domain.EventBus) HandlerOption {
	return func(h *Handler) {
		h.bus = b
		h.async = b != nil
	}
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, eng *engine.Engine, version string, opts ...HandlerOption) *Handler {
	h := &Handler{
		repo:     repo,
		engine:   eng,
		velocity: velocity.NewService(repo),
		version:  version,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// EventResponse is the response for POST /events.
type EventResponse struct {
	EventID      string               `json:"eventId"`
	Status       string               `json:"status"`
	Decision     *domain.Decision     `json:"decision,omitempty"`
	RiskProfile  *domain.RiskProfile  `json:"riskProfile,omitempty"`
	Notification *domain.Notification `json:"notification,omitempty"`
	FraudCase    *domain.FraudCase    `json:"fraudCase,omitempty"`
	RuleFailures []rules.Failure      `json:"ruleFailures,omitempty"`
	Metadata     struct {
		TraceID string `json:"traceId"`
		TotalMs int64  `json:"totalMs"`
		Version string `json:"version"`
	} `json:"metadata"`
}

// Event response statuses.
const (
	StatusAccepted = "ACCEPTED"
	StatusDecided  = "DECIDED"
	StatusQueued   = "QUEUED"
)

// IngestEvent handles POST /events: the event is stored and evaluated.
func (h *Handler) IngestEvent(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	var req domain.EventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}

	ev, err := req.ToEvent(uuid.New().String(), time.Now().UTC())
	if err != nil {
		writeErr(w, err)
		return
	}

	resp := EventResponse{EventID: ev.ID}
	resp.Metadata.TraceID = GetTraceID(ctx)
	resp.Metadata.Version = h.version

	if h.async {
		payload, _ := json.Marshal(pinned(req, ev))
		if err := h.bus.Publish(ctx, domain.TopicEventIngested, payload); err != nil {
			slog.Error("failed to publish event", "event_id", ev.ID, "error", err)
			writeError(w, http.StatusServiceUnavailable, "event bus unavailable")
			return
		}
		resp.Status = StatusQueued
		resp.Metadata.TotalMs = time.Since(start).Milliseconds()
		writeJSON(w, http.StatusAccepted, resp)
		return
	}

	if err := h.repo.SaveEvent(ctx, ev); err != nil {
		slog.Error("failed to save event", "event_id", ev.ID, "error", err)
		writeErr(w, err)
		return
	}

	rep, err := h.engine.EvaluateWithReport(ctx, ev)
	if err != nil {
		writeErr(w, err)
		return
	}

	resp.Status = StatusAccepted
	resp.RuleFailures = rep.Failures
	if o := rep.Outcome; o != nil {
		resp.Status = StatusDecided
		resp.Decision = o.Decision
		resp.RiskProfile = o.Profile
		resp.Notification = o.Notification
		resp.FraudCase = o.Case
	}
	resp.Metadata.TotalMs = time.Since(start).Milliseconds()

	writeJSON(w, http.StatusOK, resp)
}

// GetEvent retrieves an event by ID.
func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := h.repo.GetEvent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

// ListDecisions handles GET /decisions?action=&subscriberId=&limit=&offset=.
func (h *Handler) ListDecisions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, offset := page(r)
	decisions, err := h.repo.ListDecisions(r.Context(), domain.DecisionFilter{
		Action:       q.Get("action"),
		SubscriberID: q.Get("subscriberId"),
		Limit:        limit,
		Offset:       offset,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"decisions": decisions,
		"count":     len(decisions),
	})
}

// GetTrace returns the audit trail entry for an event.
func (h *Handler) GetTrace(w http.ResponseWriter, r *http.Request) {
	t, err := h.repo.GetTrace(r.Context(), chi.URLParam(r, "eventId"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// GetRiskProfile serves a subscriber's profile, cache first.
func (h *Handler) GetRiskProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	subscriberID := chi.URLParam(r, "id")

	if h.cache != nil {
		p, err := h.cache.GetProfile(ctx, subscriberID)
		if err != nil {
			slog.Warn("profile cache read failed", "subscriber_id", subscriberID, "error", err)
		}
		if p != nil {
			writeJSON(w, http.StatusOK, p)
			return
		}
	}

	p, err := h.repo.GetRiskProfile(ctx, subscriberID)
	if err != nil {
		writeErr(w, err)
		return
	}
	if h.cache != nil {
		if err := h.cache.SetProfile(ctx, p, h.profileTTL); err != nil {
			slog.Warn("profile cache write failed", "subscriber_id", subscriberID, "error", err)
		}
	}
	writeJSON(w, http.StatusOK, p)
}

// ListRiskProfiles handles GET /risk-profiles?level=&limit=.
func (h *Handler) ListRiskProfiles(w http.ResponseWriter, r *http.Request) {
	level := domain.RiskLevel(r.URL.Query().Get("level"))
	limit, _ := page(r)
	profiles, err := h.repo.ListRiskProfiles(r.Context(), level, limit)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"profiles": profiles,
		"count":    len(profiles),
	})
}

// ListNotifications returns the notifications sent to a subscriber.
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	limit, _ := page(r)
	notifications, err := h.repo.ListNotifications(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"notifications": notifications,
		"count":         len(notifications),
	})
}

// GetActivity summarizes a subscriber's events within ?window= (default 1h).
func (h *Handler) GetActivity(w http.ResponseWriter, r *http.Request) {
	window := time.Hour
	if raw := r.URL.Query().Get("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid window: "+err.Error())
			return
		}
		window = d
	}

	sum, err := h.velocity.Summarize(r.Context(), chi.URLParam(r, "id"), window)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	checks := map[string]string{}

	if err := h.repo.Ping(r.Context()); err != nil {
		status = "degraded"
		checks["repository"] = err.Error()
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
			checks["cache"] = err.Error()
		}
	}
	if h.bus != nil {
		if err := h.bus.Ping(r.Context()); err != nil {
			status = "degraded"
			checks["bus"] = err.Error()
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  status,
		"version": h.version,
		"checks":  checks,
	})
}

// Ready reports whether the repository is reachable.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"ready": "false"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ready": "true"})
}

// pinned returns req with its event id and timestamp fixed so the worker
// stores the same event the client was told about.
func pinned(req domain.EventRequest, ev *domain.Event) domain.EventRequest {
	req.EventID = ev.ID
	ts := ev.Timestamp
	req.Timestamp = &ts
	return req
}

func page(r *http.Request) (limit, offset int) {
	q := r.URL.Query()
	limit, _ = strconv.Atoi(q.Get("limit"))
	offset, _ = strconv.Atoi(q.Get("offset"))
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeErr maps domain errors onto HTTP statuses.
func writeErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	default:
		slog.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
