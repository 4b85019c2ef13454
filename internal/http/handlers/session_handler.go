// Session HTTP handlers.
//
// This file exposes REST endpoints for recording sessions:
//   - POST   /sessions/keypoints        (priority ingestion channel, creates the session)
//   - POST   /sessions/video            (bulk ingestion channel, session must exist)
//   - GET    /sessions/{correlationId}  (composite status view)
//   - DELETE /sessions/{id}             (soft delete + job cancellation)
//   - GET    /patients/{id}/sessions    (list, paginated, ETag support)
//
// Handlers are transport-thin: they validate input, call application services,
// and translate service errors into the stable error taxonomy.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/handmotion/capture-backend/internal/domain"
	"github.com/handmotion/capture-backend/internal/repo"
	"github.com/handmotion/capture-backend/internal/services"
	"github.com/handmotion/capture-backend/internal/utils"
)

//
// Service contracts (context-aware)
//

// SessionService defines the session lifecycle operations consumed by HTTP
// handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type SessionService interface {
	// IngestKeypoints creates the session and persists the keypoint payload.
	IngestKeypoints(ctx context.Context, in services.KeypointsIngest) (*domain.Session, error)
	// IngestVideo persists the video payload for an existing session and
	// returns the status it converged to.
	IngestVideo(ctx context.Context, correlationID string, payload io.Reader) (domain.Status, error)
	// Status builds the composite read view for a correlation id.
	Status(ctx context.Context, correlationID string) (*services.StatusView, error)
	// Delete soft-deletes a session and cancels its jobs.
	Delete(ctx context.Context, id string) error
	// ListForPatient returns a page of a patient's sessions and the total.
	ListForPatient(ctx context.Context, patientID string, page, pageSize int) ([]domain.Session, int64, error)
}

//
// Handler wiring
//

// Handlers groups the session and admin HTTP endpoints. It depends on
// abstract service interfaces to keep transport concerns separate from
// business logic.
type Handlers struct {
	sessions SessionService
	admin    AdminService
}

// New constructs a Handlers instance bound to the given services.
func New(sessions SessionService, admin AdminService) *Handlers {
	return &Handlers{sessions: sessions, admin: admin}
}

//
// DTOs
//

// IngestConfig is the optional `config` multipart field of the keypoints
// channel: session metadata plus the analysis configuration.
type IngestConfig struct {
	ProtocolID  string  `json:"protocol_id,omitempty"`
	ClinicianID string  `json:"clinician_id,omitempty"`
	DeviceMeta  string  `json:"device_meta,omitempty"`
	Notes       string  `json:"notes,omitempty"`
	FrameRate   float64 `json:"frame_rate,omitempty"`

	Analysis domain.AnalysisConfig `json:"analysis,omitempty"`
}

// IngestResponse is returned by both ingestion channels.
type IngestResponse struct {
	SessionID     string        `json:"session_id"`
	CorrelationID string        `json:"correlation_id"`
	Status        domain.Status `json:"status"`
	// AnalysisError is set when the upload persisted but the analysis job
	// could not be scheduled.
	AnalysisError *string `json:"analysis_error,omitempty"`
}

// ConflictResponse extends the error envelope with the identity of the
// session that already owns the correlation id.
type ConflictResponse struct {
	ErrorResponse
	SessionID string        `json:"session_id,omitempty"`
	Status    domain.Status `json:"status,omitempty"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListSessionsResponse wraps a page of sessions and pagination information.
type ListSessionsResponse struct {
	Sessions   []domain.Session `json:"sessions"`
	Pagination Pagination       `json:"pagination"`
}

//
// Helpers
//

// clampPagination parses and bounds page and page_size query params to sane
// defaults and limits, returning (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.AtoiDefault(c.Query("page_size"), defaultPageSize)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return
}

// conflict writes the duplicate-session conflict envelope.
func conflict(c *gin.Context, sessionID string, status domain.Status, msg string) {
	c.AbortWithStatusJSON(http.StatusConflict, ConflictResponse{
		ErrorResponse: ErrorResponse{
			RequestID: c.Writer.Header().Get("X-Request-ID"),
			Code:      ErrCodeConflict,
			Message:   msg,
		},
		SessionID: sessionID,
		Status:    status,
	})
}

//
// Handlers
//

// IngestKeypoints godoc
// @ID          ingestKeypoints
// @Summary     Upload keypoints and create the session
// @Description Priority ingestion channel. Creates the session for the given correlation id, persists the keypoint payload, and schedules analysis. A duplicate correlation id returns 409 with the original session's identity.
// @Tags        Sessions
// @Accept      multipart/form-data
// @Produce     json
//
// @Param       correlation_id  formData  string  true   "Client-generated correlation id"
// @Param       patient_id      formData  string  true   "Patient ID (UUID)"
// @Param       keypoints       formData  file    true   "Keypoints JSON payload"
// @Param       config          formData  string  false  "Session metadata + analysis config (JSON)"
//
// @Success     201  {object}  handlers.IngestResponse
// @Failure     400  {object}  handlers.ErrorResponse    "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse    "Patient or protocol not found"
// @Failure     409  {object}  handlers.ConflictResponse "Correlation id already taken"
// @Failure     502  {object}  handlers.ErrorResponse    "Object store unavailable"
// @Router      /sessions/keypoints [post]
func (h *Handlers) IngestKeypoints(c *gin.Context) {
	correlationID := strings.TrimSpace(c.PostForm("correlation_id"))
	patientID := strings.TrimSpace(c.PostForm("patient_id"))
	if correlationID == "" || patientID == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "correlation_id and patient_id are required")
		return
	}

	fh, err := c.FormFile("keypoints")
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "keypoints file is required")
		return
	}

	var cfg IngestConfig
	if raw := c.PostForm("config"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "config must be valid JSON")
			return
		}
	}

	f, err := fh.Open()
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "keypoints file unreadable")
		return
	}
	defer f.Close()

	sess, err := h.sessions.IngestKeypoints(c.Request.Context(), services.KeypointsIngest{
		CorrelationID: correlationID,
		PatientID:     patientID,
		ClinicianID:   cfg.ClinicianID,
		ProtocolID:    cfg.ProtocolID,
		Payload:       f,
		DeviceMeta:    cfg.DeviceMeta,
		Notes:         cfg.Notes,
		FrameRate:     cfg.FrameRate,
		Config:        cfg.Analysis,
	})
	if err != nil {
		var dup *services.DuplicateSessionError
		switch {
		case errors.As(err, &dup):
			conflict(c, dup.SessionID, dup.Status, "session already exists for correlation id")
		case errors.Is(err, services.ErrPatientNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "patient not found")
		case errors.Is(err, services.ErrProtocolNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "protocol not found")
		case errors.Is(err, services.ErrMissingField):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		case errors.Is(err, services.ErrStorageUnavailable):
			fail(c, http.StatusBadGateway, ErrCodeStorageUnavailable, "payload could not be persisted")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeIngestFailed, err.Error())
		}
		return
	}

	ok(c, http.StatusCreated, IngestResponse{
		SessionID:     sess.ID,
		CorrelationID: sess.CorrelationID,
		Status:        sess.Status,
		AnalysisError: sess.AnalysisError,
	})
}

// IngestVideo godoc
// @ID          ingestVideo
// @Summary     Upload the video payload
// @Description Bulk ingestion channel. The session must already exist (keypoints first); video for an unknown correlation id is 404, for a cancelled or re-uploaded completed session 409.
// @Tags        Sessions
// @Accept      multipart/form-data
// @Produce     json
//
// @Param       correlation_id  formData  string  true  "Correlation id of the session"
// @Param       video           formData  file    true  "Video payload"
//
// @Success     200  {object}  handlers.IngestResponse
// @Failure     400  {object}  handlers.ErrorResponse "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse "No session for correlation id"
// @Failure     409  {object}  handlers.ErrorResponse "Session cancelled or completed"
// @Failure     502  {object}  handlers.ErrorResponse "Object store unavailable"
// @Router      /sessions/video [post]
func (h *Handlers) IngestVideo(c *gin.Context) {
	correlationID := strings.TrimSpace(c.PostForm("correlation_id"))
	if correlationID == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "correlation_id is required")
		return
	}
	fh, err := c.FormFile("video")
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "video file is required")
		return
	}
	f, err := fh.Open()
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "video file unreadable")
		return
	}
	defer f.Close()

	status, err := h.sessions.IngestVideo(c.Request.Context(), correlationID, f)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrSessionNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "no session for correlation id; upload keypoints first")
		case errors.Is(err, services.ErrSessionCancelled):
			fail(c, http.StatusConflict, ErrCodeSessionCancelled, "session was cancelled")
		case errors.Is(err, services.ErrSessionCompleted):
			fail(c, http.StatusConflict, ErrCodeConflict, "session already completed with video present")
		case errors.Is(err, services.ErrStorageUnavailable):
			fail(c, http.StatusBadGateway, ErrCodeStorageUnavailable, "payload could not be persisted")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeIngestFailed, err.Error())
		}
		return
	}

	ok(c, http.StatusOK, IngestResponse{CorrelationID: correlationID, Status: status})
}

// SessionStatus godoc
// @ID          sessionStatus
// @Summary     Composite session status
// @Description Returns the session's lifecycle state, analysis progress, live payload presence, and resolved patient/protocol summaries.
// @Tags        Sessions
// @Produce     json
//
// @Param       id  path  string  true  "Correlation id"
//
// @Success     200  {object}  services.StatusView
// @Failure     404  {object}  handlers.ErrorResponse "Session not found"
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /sessions/{id} [get]
func (h *Handlers) SessionStatus(c *gin.Context) {
	view, err := h.sessions.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, services.ErrSessionNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "session not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, view)
}

// DeleteSession godoc
// @ID          deleteSession
// @Summary     Cancel and soft-delete a session
// @Description Soft-deletes the session and best-effort cancels its in-flight jobs. Payloads stay in the object store for the retention window.
// @Tags        Sessions
// @Produce     json
//
// @Param       id  path  string  true  "Session ID (UUID)"  format(uuid)
//
// @Success     204  {string} string "No Content"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Session not found"
// @Router      /sessions/{id} [delete]
func (h *Handlers) DeleteSession(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "session id must be a UUID")
		return
	}
	if err := h.sessions.Delete(c.Request.Context(), id); err != nil {
		if errors.Is(err, services.ErrSessionNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "session not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	noContent(c)
}

// ListPatientSessions godoc
// @ID          listPatientSessions
// @Summary     List a patient's sessions (paginated)
// @Description Returns a page of the patient's live sessions, newest first. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Sessions
// @Produce     json
//
// @Param       id             path    string  true  "Patient ID (UUID)"
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"
// @Param       page           query   int     false "Page number"     minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"  minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListSessionsResponse
// @Header      200  {string} ETag "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     404  {object} handlers.ErrorResponse "Patient not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /patients/{id}/sessions [get]
func (h *Handlers) ListPatientSessions(c *gin.Context) {
	ctx := c.Request.Context()
	patientID := c.Param("id")
	page, pageSize := clampPagination(c)

	// ETag pre-check (best effort).
	var db *gorm.DB
	if svc, okType := h.sessions.(*services.SessionService); okType {
		db = svc.DB
	}
	if db != nil {
		count, maxTS, err := repo.SessionsStats(ctx, db, patientID)
		if err == nil {
			var ts int64
			if maxTS != nil {
				ts = maxTS.Unix()
			}
			etag := fmt.Sprintf(`W/"sessions:%s:%d:%d"`, patientID, count, ts)
			c.Header("ETag", etag)
			if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	items, total, err := h.sessions.ListForPatient(ctx, patientID, page, pageSize)
	if err != nil {
		if errors.Is(err, services.ErrPatientNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "patient not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	resp := ListSessionsResponse{
		Sessions: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	}
	ok(c, http.StatusOK, resp)
}
