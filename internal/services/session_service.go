// Package services – SessionService
//
// This file implements SessionService, the application-level component that
// owns the lifecycle of recording sessions. It validates references, persists
// payloads through the object-store gateway, enqueues analysis work, and
// applies status transitions through the repo layer's compare-and-swap
// primitives so that the two ingestion channels and the analysis worker can
// interleave in any order.
//
// Observability: public methods are OpenTelemetry-instrumented; spans carry
// session/correlation identifiers.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"time"

	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/handmotion/capture-backend/internal/dispatch"
	"github.com/handmotion/capture-backend/internal/domain"
	"github.com/handmotion/capture-backend/internal/repo"
	"github.com/handmotion/capture-backend/internal/storage"
)

// JobQueue is the dispatcher contract the session service depends on.
// Implementations must be safe for concurrent use.
type JobQueue interface {
	// Enqueue hands a job to the dispatcher and returns immediately.
	Enqueue(ctx context.Context, job dispatch.Job) error
	// CancelAll best-effort cancels every job type for the session.
	CancelAll(sessionID string)
}

// SessionService coordinates the dual-channel ingestion pipeline.
type SessionService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Store is the object-store gateway holding payloads and artifacts.
	Store storage.Store
	// Jobs is the dispatcher used to enqueue and cancel background work.
	Jobs JobQueue

	// OpTimeout bounds each object-store and dispatcher call made from a
	// request path. Zero means a 30s default.
	OpTimeout time.Duration
}

// NewSessionService constructs a SessionService with a sane default timeout.
func NewSessionService(db *gorm.DB, store storage.Store, jobs JobQueue) *SessionService {
	return &SessionService{DB: db, Store: store, Jobs: jobs, OpTimeout: 30 * time.Second}
}

func (s *SessionService) opTimeout() time.Duration {
	if s.OpTimeout > 0 {
		return s.OpTimeout
	}
	return 30 * time.Second
}

// KeypointsIngest is the validated input of the priority ingestion channel.
type KeypointsIngest struct {
	CorrelationID string
	PatientID     string
	ClinicianID   string
	ProtocolID    string
	Payload       io.Reader

	DeviceMeta string
	Notes      string
	FrameRate  float64
	Config     domain.AnalysisConfig
}

// IngestKeypoints creates the session and persists the keypoint payload.
//
// Semantics:
//   - The correlation id is the idempotency boundary: the row insert wins or
//     loses atomically on the unique index, and a loser gets
//     DuplicateSessionError carrying the original session — never a merge.
//   - All three storage paths are pre-computed here; their presence in the
//     row is optimistic until the bytes land.
//   - Enqueue failure after a successful upload does NOT fail the request:
//     the session stays at keypoints_uploaded with the failure recorded in
//     analysis_error, because the payload is durable and must not be
//     reported as lost.
func (s *SessionService) IngestKeypoints(ctx context.Context, in KeypointsIngest) (*domain.Session, error) {
	tr := otel.Tracer("services/SessionService")
	ctx, span := tr.Start(ctx, "IngestKeypoints",
		trace.WithAttributes(attribute.String("correlation.id", in.CorrelationID)),
	)
	defer span.End()

	if strings.TrimSpace(in.CorrelationID) == "" {
		return nil, errors.Join(ErrMissingField, errors.New("correlation_id"))
	}
	if strings.TrimSpace(in.PatientID) == "" {
		return nil, errors.Join(ErrMissingField, errors.New("patient_id"))
	}
	if in.Payload == nil {
		return nil, errors.Join(ErrMissingField, errors.New("keypoints payload"))
	}

	// Resolve references before any side effect. Soft-deleted rows do not
	// resolve, so a deleted patient rejects the ingest.
	if _, err := repo.GetPatient(ctx, s.DB, in.PatientID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}
	if in.ProtocolID != "" {
		if _, err := repo.GetProtocol(ctx, s.DB, in.ProtocolID); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return nil, ErrProtocolNotFound
			}
			return nil, err
		}
	}

	sess := &domain.Session{
		CorrelationID: in.CorrelationID,
		ClinicianID:   in.ClinicianID,
		PatientID:     in.PatientID,
		ProtocolID:    in.ProtocolID,
		VideoPath:     storage.VideoKey(in.CorrelationID),
		KeypointsPath: storage.KeypointsKey(in.CorrelationID),
		ReportPath:    storage.ReportKey(in.CorrelationID),
		Status:        domain.StatusKeypointsUploaded,
		DeviceMeta:    in.DeviceMeta,
		Notes:         in.Notes,
		FrameRate:     in.FrameRate,
	}

	// First write wins on the unique correlation index.
	if err := repo.CreateSession(ctx, s.DB, sess); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			existing, lerr := repo.GetSessionByCorrelationID(ctx, s.DB, in.CorrelationID)
			if lerr != nil {
				return nil, lerr
			}
			return nil, &DuplicateSessionError{SessionID: existing.ID, Status: existing.Status}
		}
		return nil, err
	}

	// Persist the payload. On failure the row is removed again so a retry
	// with the same correlation id does not trip the conflict path for a
	// session that never held bytes.
	upCtx, cancel := context.WithTimeout(ctx, s.opTimeout())
	err := s.Store.Upload(upCtx, sess.KeypointsPath, in.Payload)
	cancel()
	if err != nil {
		_ = s.DB.WithContext(ctx).Unscoped().Delete(&domain.Session{}, "id = ?", sess.ID).Error
		return nil, errors.Join(ErrStorageUnavailable, err)
	}

	// Secondary step: enqueue analysis. A failure here degrades into
	// recorded session state instead of failing the request.
	job := dispatch.Job{
		Type:          dispatch.JobTypeAnalysis,
		SessionID:     sess.ID,
		CorrelationID: sess.CorrelationID,
		OwnerID:       sess.ClinicianID,
		Inputs:        []string{sess.KeypointsPath},
		Config:        in.Config.Normalize(),
		Priority:      true,
	}
	qCtx, qcancel := context.WithTimeout(ctx, s.opTimeout())
	qerr := s.Jobs.Enqueue(qCtx, job)
	qcancel()
	if qerr != nil {
		msg := "analysis enqueue failed: " + qerr.Error()
		_ = repo.SetAnalysisError(ctx, s.DB, sess.ID, msg)
		sess.AnalysisError = &msg
		return sess, nil
	}

	// Guarded advance: a fast worker or an early video arrival may already
	// have moved the row past keypoints_uploaded.
	status, err := repo.AdvanceStatus(ctx, s.DB, sess.ID, domain.StatusKeypointsUploaded, domain.StatusAnalyzing)
	if err != nil {
		return nil, err
	}
	sess.Status = status
	return sess, nil
}

// IngestVideo persists the video payload for an existing session and applies
// the commutative status merge. "Upload keypoints first" is a hard
// precondition; the video channel never creates a session.
func (s *SessionService) IngestVideo(ctx context.Context, correlationID string, payload io.Reader) (domain.Status, error) {
	tr := otel.Tracer("services/SessionService")
	ctx, span := tr.Start(ctx, "IngestVideo",
		trace.WithAttributes(attribute.String("correlation.id", correlationID)),
	)
	defer span.End()

	if strings.TrimSpace(correlationID) == "" {
		return "", errors.Join(ErrMissingField, errors.New("correlation_id"))
	}
	if payload == nil {
		return "", errors.Join(ErrMissingField, errors.New("video payload"))
	}

	sess, err := repo.GetSessionByCorrelationID(ctx, s.DB, correlationID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			// Distinguish "never existed" from "cancelled": a video for a
			// soft-deleted session is rejected as a conflict without
			// touching any state.
			if s.cancelledSessionExists(ctx, correlationID) {
				return "", ErrSessionCancelled
			}
			return "", ErrSessionNotFound
		}
		return "", err
	}

	// No re-upload of a finished session whose video is already present.
	if sess.Status == domain.StatusCompleted {
		exCtx, cancel := context.WithTimeout(ctx, s.opTimeout())
		present, exErr := s.Store.Exists(exCtx, sess.VideoPath)
		cancel()
		if exErr == nil && present {
			return "", ErrSessionCompleted
		}
	}

	upCtx, cancel := context.WithTimeout(ctx, s.opTimeout())
	err = s.Store.Upload(upCtx, sess.VideoPath, payload)
	cancel()
	if err != nil {
		return "", errors.Join(ErrStorageUnavailable, err)
	}

	status, err := repo.TransitionOnVideo(ctx, s.DB, sess.ID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			// Deleted between lookup and transition; the payload stays in
			// the store until the cleanup worker sweeps it.
			return "", ErrSessionCancelled
		}
		return "", err
	}

	// Secondary step: queue the transcode. Failures are not the caller's
	// problem — the raw payload is durable.
	job := dispatch.Job{
		Type:          dispatch.JobTypeTranscode,
		SessionID:     sess.ID,
		CorrelationID: sess.CorrelationID,
		OwnerID:       sess.ClinicianID,
		Inputs:        []string{sess.VideoPath},
	}
	qCtx, qcancel := context.WithTimeout(ctx, s.opTimeout())
	_ = s.Jobs.Enqueue(qCtx, job)
	qcancel()

	return status, nil
}

// cancelledSessionExists reports whether a soft-deleted session holds the
// correlation id.
func (s *SessionService) cancelledSessionExists(ctx context.Context, correlationID string) bool {
	var n int64
	err := s.DB.WithContext(ctx).Unscoped().
		Model(&domain.Session{}).
		Where("correlation_id = ? AND deleted_at IS NOT NULL", correlationID).
		Count(&n).Error
	return err == nil && n > 0
}

// PayloadState reports the live presence of one payload alongside the
// optimistic path stored on the row.
type PayloadState struct {
	Path    string `json:"path"`
	Present bool   `json:"present"`
}

// RefSummary is the resolved identity of a referenced entity.
type RefSummary struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// StatusView is the composite read-only projection returned by the status
// endpoint. Payload presence is re-verified against the object store on
// every call; the stored paths alone prove nothing.
type StatusView struct {
	SessionID     string        `json:"session_id"`
	CorrelationID string        `json:"correlation_id"`
	Status        domain.Status `json:"status"`

	AnalysisProgress int     `json:"analysis_progress"`
	AnalysisError    *string `json:"analysis_error,omitempty"`

	Keypoints PayloadState `json:"keypoints"`
	Video     PayloadState `json:"video"`
	Report    PayloadState `json:"report"`

	Patient  RefSummary  `json:"patient"`
	Protocol *RefSummary `json:"protocol,omitempty"`

	FrameRate    float64              `json:"frame_rate,omitempty"`
	Measurements []domain.Measurement `json:"measurements,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Status builds the composite view for a correlation id.
func (s *SessionService) Status(ctx context.Context, correlationID string) (*StatusView, error) {
	tr := otel.Tracer("services/SessionService")
	ctx, span := tr.Start(ctx, "Status",
		trace.WithAttributes(attribute.String("correlation.id", correlationID)),
	)
	defer span.End()

	sess, err := repo.GetSessionByCorrelationID(ctx, s.DB, correlationID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	view := &StatusView{
		SessionID:        sess.ID,
		CorrelationID:    sess.CorrelationID,
		Status:           sess.Status,
		AnalysisProgress: sess.AnalysisProgress,
		AnalysisError:    sess.AnalysisError,
		Keypoints:        PayloadState{Path: sess.KeypointsPath},
		Video:            PayloadState{Path: sess.VideoPath},
		Report:           PayloadState{Path: sess.ReportPath},
		FrameRate:        sess.FrameRate,
		CreatedAt:        sess.CreatedAt,
	}

	if sess.Measurements != "" {
		// Tolerate a malformed blob; the view simply omits readings.
		_ = json.Unmarshal([]byte(sess.Measurements), &view.Measurements)
	}

	exCtx, cancel := context.WithTimeout(ctx, s.opTimeout())
	defer cancel()
	view.Keypoints.Present, _ = s.Store.Exists(exCtx, sess.KeypointsPath)
	view.Video.Present, _ = s.Store.Exists(exCtx, sess.VideoPath)
	view.Report.Present, _ = s.Store.Exists(exCtx, sess.ReportPath)

	if p, perr := repo.GetPatient(ctx, s.DB, sess.PatientID); perr == nil {
		view.Patient = RefSummary{ID: p.ID, Name: p.Name}
	} else {
		view.Patient = RefSummary{ID: sess.PatientID}
	}
	if sess.ProtocolID != "" {
		if pr, perr := repo.GetProtocol(ctx, s.DB, sess.ProtocolID); perr == nil {
			view.Protocol = &RefSummary{ID: pr.ID, Name: pr.Name}
		} else {
			view.Protocol = &RefSummary{ID: sess.ProtocolID}
		}
	}
	return view, nil
}

// Delete soft-deletes a session by internal id and best-effort cancels its
// in-flight jobs. Object-store payloads are intentionally left in place for
// the retention window.
func (s *SessionService) Delete(ctx context.Context, id string) error {
	tr := otel.Tracer("services/SessionService")
	ctx, span := tr.Start(ctx, "Delete",
		trace.WithAttributes(attribute.String("session.id", id)),
	)
	defer span.End()

	if err := repo.SoftDeleteSession(ctx, s.DB, id); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrSessionNotFound
		}
		return err
	}
	s.Jobs.CancelAll(id)
	return nil
}

// ListForPatient returns a page of a patient's live sessions and the total
// count. It applies defaults for invalid page/pageSize.
func (s *SessionService) ListForPatient(ctx context.Context, patientID string, page, pageSize int) ([]domain.Session, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	if _, err := repo.GetPatient(ctx, s.DB, patientID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, 0, ErrPatientNotFound
		}
		return nil, 0, err
	}

	total, err := repo.CountSessionsByPatient(ctx, s.DB, patientID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Session{}, 0, nil
	}
	items, err := repo.ListSessionsByPatientPage(ctx, s.DB, patientID, offset, pageSize)
	return items, total, err
}
