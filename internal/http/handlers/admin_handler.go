// Admin HTTP handlers.
//
// This file exposes operational endpoints:
//   - GET  /admin/cleanup/preview   (what a retention sweep would purge)
//   - POST /admin/cleanup/run       (run a retention sweep now)
//   - POST /sessions/{id}/reprocess (stubbed, 501)
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/handmotion/capture-backend/internal/services"
)

// AdminService defines the operational actions consumed by HTTP handlers.
type AdminService interface {
	// Preview counts the rows a sweep at `now` would purge.
	Preview(ctx context.Context, now time.Time) (*services.CleanupPreview, error)
	// Run executes one retention sweep at `now`.
	Run(ctx context.Context, now time.Time) (*services.CleanupResult, error)
}

// CleanupPreview godoc
// @ID          cleanupPreview
// @Summary     Preview the retention sweep
// @Description Reports the soft-deleted rows past the retention window that a sweep would purge, without purging.
// @Tags        Admin
// @Produce     json
//
// @Success     200  {object}  services.CleanupPreview
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /admin/cleanup/preview [get]
func (h *Handlers) CleanupPreview(c *gin.Context) {
	preview, err := h.admin.Preview(c.Request.Context(), time.Now())
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, preview)
}

// CleanupRun godoc
// @ID          cleanupRun
// @Summary     Run the retention sweep
// @Description Permanently purges soft-deleted rows past the retention window, together with purged sessions' object-store payloads.
// @Tags        Admin
// @Produce     json
//
// @Success     200  {object}  services.CleanupResult
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /admin/cleanup/run [post]
func (h *Handlers) CleanupRun(c *gin.Context) {
	result, err := h.admin.Run(c.Request.Context(), time.Now())
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, result)
}

// ReprocessSession godoc
// @ID          reprocessSession
// @Summary     Re-run analysis for a session
// @Description Not implemented yet; reserved for re-running the analysis pipeline against stored payloads.
// @Tags        Admin
// @Produce     json
//
// @Param       id  path  string  true  "Session ID (UUID)"  format(uuid)
//
// @Failure     501  {object}  handlers.ErrorResponse "Not implemented"
// @Router      /sessions/{id}/reprocess [post]
func (h *Handlers) ReprocessSession(c *gin.Context) {
	fail(c, http.StatusNotImplemented, ErrCodeNotImplemented, "session reprocessing is not implemented")
}
