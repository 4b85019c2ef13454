// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Session
// aggregate.
//
// Concurrency model: the Session row is the only shared mutable resource of
// the ingestion pipeline. Three independent actors (keypoints handler, video
// handler, analysis worker) may write the same row at any interleaving, so
// every status transition here is a retried compare-and-swap — read the
// current (status, progress) pair, compute the next state with the pure
// functions in the domain package, and apply it with a conditional UPDATE
// that only succeeds if the row is still in the observed state. Writers to
// different sessions never contend.
//
// Error semantics:
//   - ErrNotFound (alias of gorm.ErrRecordNotFound) when a session is missing
//     or soft-deleted. GORM's soft-delete scope keeps deleted rows invisible
//     to every function in this file except the cleanup queries.
//   - ErrDuplicate when a correlation id already exists.
//   - ErrContention when a compare-and-swap did not settle within the retry
//     budget.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/handmotion/capture-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// ErrDuplicate indicates a session already exists for the correlation id.
var ErrDuplicate = errors.New("duplicate correlation id")

// ErrContention indicates a conditional update kept losing races and gave up.
var ErrContention = errors.New("session transition contention")

// casRetries bounds how often a compare-and-swap is retried before giving up.
// Contention on one session row is rare (three writers at most), so a small
// budget is enough.
const casRetries = 5

// CreateSession inserts a new session row. The caller provides all fields
// except ID and CreatedAt. A unique-constraint violation on the correlation
// id is mapped to ErrDuplicate; the caller is expected to re-read the
// existing row and surface a conflict, never to merge.
func CreateSession(ctx context.Context, db *gorm.DB, s *domain.Session) error {
	s.ID = uuid.NewString()
	s.CreatedAt = time.Now().UTC()
	if err := db.WithContext(ctx).Create(s).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) || isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// GetSessionByCorrelationID fetches a live (non-deleted) session by its
// client-assigned correlation id, or ErrNotFound.
func GetSessionByCorrelationID(ctx context.Context, db *gorm.DB, correlationID string) (*domain.Session, error) {
	var s domain.Session
	err := db.WithContext(ctx).
		Where("correlation_id = ?", correlationID).
		First(&s).Error
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// GetSession fetches a live session by its internal id, or ErrNotFound.
func GetSession(ctx context.Context, db *gorm.DB, id string) (*domain.Session, error) {
	var s domain.Session
	if err := db.WithContext(ctx).Where("id = ?", id).First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// CountSessionsByPatient returns the number of live sessions for a patient.
func CountSessionsByPatient(ctx context.Context, db *gorm.DB, patientID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Session{}).
		Where("patient_id = ?", patientID).
		Count(&total).Error
	return total, err
}

// ListSessionsByPatientPage returns a page of a patient's sessions ordered by
// creation time descending. Use CountSessionsByPatient for pagination totals.
func ListSessionsByPatientPage(ctx context.Context, db *gorm.DB, patientID string, offset, limit int) ([]domain.Session, error) {
	var out []domain.Session
	err := db.WithContext(ctx).
		Where("patient_id = ?", patientID).
		Order("created_at desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// AdvanceStatus moves a live session from an expected status to the next one
// with a conditional update. The session is visible to the video handler and
// the analysis worker from the moment it is created, so even the
// keypoints_uploaded -> analyzing step must not overwrite a transition that
// already happened. When another actor advanced the row first the write is
// skipped and the row's current status is returned.
func AdvanceStatus(ctx context.Context, db *gorm.DB, id string, expected, next domain.Status) (domain.Status, error) {
	res := db.WithContext(ctx).
		Model(&domain.Session{}).
		Where("id = ? AND status = ?", id, expected).
		Update("status", next)
	if res.Error != nil {
		return "", res.Error
	}
	if res.RowsAffected == 1 {
		return next, nil
	}
	cur, err := GetSession(ctx, db, id)
	if err != nil {
		return "", err
	}
	return cur.Status, nil
}

// TransitionOnVideo applies the video-arrival transition as a retried CAS.
// It returns the status the session ended up in. The next status is computed
// from the row's state at write time, so video arriving before, during, or
// after analysis all converge per the state machine.
func TransitionOnVideo(ctx context.Context, db *gorm.DB, id string) (domain.Status, error) {
	for i := 0; i < casRetries; i++ {
		cur, err := GetSession(ctx, db, id)
		if err != nil {
			return "", err
		}
		next := domain.NextOnVideo(cur.Status, cur.AnalysisProgress)
		if next == cur.Status {
			return cur.Status, nil
		}
		res := db.WithContext(ctx).
			Model(&domain.Session{}).
			Where("id = ? AND status = ? AND analysis_progress = ?", id, cur.Status, cur.AnalysisProgress).
			Update("status", next)
		if res.Error != nil {
			return "", res.Error
		}
		if res.RowsAffected == 1 {
			return next, nil
		}
		// Lost the race; re-read and recompute.
	}
	return "", ErrContention
}

// ApplyProgress records an analysis progress report as a retried CAS. The
// stored progress never decreases (duplicate and out-of-order delivery are
// tolerated) and the status flips to completed only when the report reaches
// 100 and the caller has verified the video payload is present. It returns
// the resulting (status, progress) pair.
//
// Soft-deleted sessions are invisible here: a worker racing a deletion loses
// the write and gets ErrNotFound, which it treats as a cancellation.
func ApplyProgress(ctx context.Context, db *gorm.DB, id string, reported int, videoPresent bool) (domain.Status, int, error) {
	for i := 0; i < casRetries; i++ {
		cur, err := GetSession(ctx, db, id)
		if err != nil {
			return "", 0, err
		}
		next := domain.ClampProgress(cur.AnalysisProgress, reported)
		nextStatus := domain.NextOnProgress(cur.Status, next, videoPresent)
		if next == cur.AnalysisProgress && nextStatus == cur.Status {
			return cur.Status, cur.AnalysisProgress, nil
		}
		res := db.WithContext(ctx).
			Model(&domain.Session{}).
			Where("id = ? AND status = ? AND analysis_progress = ?", id, cur.Status, cur.AnalysisProgress).
			Updates(map[string]any{
				"analysis_progress": next,
				"status":            nextStatus,
			})
		if res.Error != nil {
			return "", 0, res.Error
		}
		if res.RowsAffected == 1 {
			return nextStatus, next, nil
		}
	}
	return "", 0, ErrContention
}

// SetAnalysisError records a worker failure. Status is left untouched: a
// failed analysis does not un-persist an upload, and the caller observes the
// degraded state through the status endpoint.
func SetAnalysisError(ctx context.Context, db *gorm.DB, id, msg string) error {
	res := db.WithContext(ctx).
		Model(&domain.Session{}).
		Where("id = ?", id).
		Update("analysis_error", msg)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ClearAnalysisError resets the recorded failure, used when a re-enqueued
// job starts over.
func ClearAnalysisError(ctx context.Context, db *gorm.DB, id string) error {
	return db.WithContext(ctx).
		Model(&domain.Session{}).
		Where("id = ?", id).
		Update("analysis_error", nil).Error
}

// SetMeasurements stores the scalar readings computed by the analysis job.
// The soft-delete scope makes this the worker's final-commit guard: if the
// session was deleted after the job started, no row matches and ErrNotFound
// is returned instead of committing results.
func SetMeasurements(ctx context.Context, db *gorm.DB, id, measurementsJSON string, frameRate float64) error {
	updates := map[string]any{"measurements": measurementsJSON}
	if frameRate > 0 {
		updates["frame_rate"] = frameRate
	}
	res := db.WithContext(ctx).
		Model(&domain.Session{}).
		Where("id = ?", id).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SoftDeleteSession marks a session cancelled and sets its deleted_at marker
// in one statement. The payloads stay in the object store for the retention
// window; only the cleanup worker removes them.
func SoftDeleteSession(ctx context.Context, db *gorm.DB, id string) error {
	now := time.Now().UTC()
	res := db.WithContext(ctx).
		Model(&domain.Session{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":     domain.StatusCancelled,
			"deleted_at": now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// isUniqueViolation detects unique-constraint violations across drivers that
// may not map to gorm.ErrDuplicatedKey.
func isUniqueViolation(err error) bool {
	// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique") ||
		strings.Contains(low, "duplicate key")
}
