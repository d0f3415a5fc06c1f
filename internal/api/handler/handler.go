// Package handler provides HTTP handlers for all API endpoints.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/catatduit/reminder-dispatch/internal/api/respond"
	"github.com/catatduit/reminder-dispatch/internal/config"
)

// Pinger checks database connectivity.
type Pinger interface {
	HealthCheck(ctx context.Context) error
}

// StatsProvider exposes in-memory guard statistics.
type StatsProvider interface {
	Stats() map[string]interface{}
}

// Handler holds shared dependencies for all endpoint handlers.
type Handler struct {
	db     Pinger
	runner Runner
	guard  StatsProvider
	cfg    *config.Config
	now    func() time.Time
	logger *slog.Logger
}

// New creates a Handler with shared dependencies. guard may be nil.
func New(db Pinger, runner Runner, guard StatsProvider, cfg *config.Config, logger *slog.Logger) *Handler {
	return &Handler{
		db:     db,
		runner: runner,
		guard:  guard,
		cfg:    cfg,
		now:    time.Now,
		logger: logger,
	}
}

// Root serves API info at /.
// @Summary API root info
// @Description Returns service name, version, status and configured reminder zone.
// @Tags meta
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router / [get]
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"name":    "Reminder Dispatch API",
		"version": "1.0.0",
		"status":  "running",
		"docs":    "/docs",
		"reminder": map[string]interface{}{
			"zone":             h.cfg.Reminder.ZoneLabel,
			"utc_offset_hours": h.cfg.Reminder.UTCOffsetHours,
			"schedule_enabled": h.cfg.Reminder.ScheduleEnabled,
			"dedup_enabled":    h.cfg.Reminder.DedupEnabled,
		},
	})
}

// HealthCheck returns basic health status.
// @Summary Health check
// @Description Returns basic health status and timestamp.
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /health [get]
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": h.now().UTC().Format(time.RFC3339),
	})
}

// HealthCheckDB verifies database connectivity.
// @Summary Database health check
// @Description Verifies Postgres connectivity.
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 503 {object} map[string]interface{}
// @Router /health/db [get]
func (h *Handler) HealthCheckDB(w http.ResponseWriter, r *http.Request) {
	if err := h.db.HealthCheck(r.Context()); err != nil {
		h.logger.Warn("Database health check failed", "error", err)
		respond.WriteJSONObject(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":    "unhealthy",
			"database":  "disconnected",
			"error":     "Database connection check failed",
			"timestamp": h.now().UTC().Format(time.RFC3339),
		})
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"database":  "connected",
		"timestamp": h.now().UTC().Format(time.RFC3339),
	})
}

// HealthCheckGuard returns minute guard statistics.
// @Summary Minute guard health check
// @Description Returns in-memory minute guard statistics when deduplication is enabled.
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /health/guard [get]
func (h *Handler) HealthCheckGuard(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{
		"status":    "healthy",
		"enabled":   h.guard != nil,
		"timestamp": h.now().UTC().Format(time.RFC3339),
	}
	if h.guard != nil {
		body["guard"] = h.guard.Stats()
	}
	respond.WriteJSONObject(w, http.StatusOK, body)
}
