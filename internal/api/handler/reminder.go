package handler

import (
	"context"
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/catatduit/reminder-dispatch/internal/api/respond"
	"github.com/catatduit/reminder-dispatch/internal/reminder"
)

// Runner executes one reminder run for the instant now.
type Runner interface {
	Run(ctx context.Context, now time.Time) reminder.Result
}

// RunDailyReminders is the scheduler entry point. Every outcome, including
// an aborted run, is reported with status 200; callers inspect the body.
// @Summary Run daily reminders
// @Description Resolves the current local minute, selects users scheduled for it who have not transacted today, records one notification per user and pushes to every device. Always returns 200; failures are reported as {"error","stack"}.
// @Tags reminders
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string]interface{}
// @Failure 401 {object} respond.ErrorResponse
// @Router /api/v1/reminders/daily [post]
func (h *Handler) RunDailyReminders(w http.ResponseWriter, r *http.Request) {
	now := h.now()

	// Run converts its own panics; this covers anything around it.
	defer func() {
		if p := recover(); p != nil {
			h.logger.Error("CRITICAL ERROR", "error", p)
			respond.WriteJSONObject(w, http.StatusOK, map[string]string{
				"error": fmt.Sprint(p),
				"stack": string(debug.Stack()),
			})
		}
	}()

	// Detach from the request so a scheduler that hangs up does not cancel
	// a run halfway through the fan-out.
	ctx := context.WithoutCancel(r.Context())
	res := h.runner.Run(ctx, now)
	respond.WriteJSONObject(w, http.StatusOK, res)
}
