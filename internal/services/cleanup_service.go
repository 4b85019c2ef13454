// Package services – CleanupService
//
// This file implements the retention sweep: soft-deleted rows older than the
// retention window are permanently purged, together with the object-store
// payloads of purged sessions. The sweep is idempotent and safe to run
// concurrently — every hard delete re-checks the retention guard inside the
// DELETE statement.
package services

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/handmotion/capture-backend/internal/domain"
	"github.com/handmotion/capture-backend/internal/repo"
	"github.com/handmotion/capture-backend/internal/storage"
)

// RetentionWindow is how long a soft-deleted row stays recoverable before the
// sweep may purge it. A row deleted at T becomes eligible at T+RetentionWindow;
// a row exactly at the boundary is eligible.
const RetentionWindow = 15 * 24 * time.Hour

// CleanupService purges expired soft-deleted rows and their payloads.
type CleanupService struct {
	DB    *gorm.DB
	Store storage.Store

	// Window overrides RetentionWindow, for tests. Zero means the default.
	Window time.Duration
}

// NewCleanupService constructs the retention sweeper.
func NewCleanupService(db *gorm.DB, store storage.Store) *CleanupService {
	return &CleanupService{DB: db, Store: store}
}

func (s *CleanupService) window() time.Duration {
	if s.Window > 0 {
		return s.Window
	}
	return RetentionWindow
}

func (s *CleanupService) cutoff(now time.Time) time.Time {
	return now.UTC().Add(-s.window())
}

// CleanupPreview reports what a sweep would purge, without purging.
type CleanupPreview struct {
	Cutoff     time.Time `json:"cutoff"`
	Sessions   int64     `json:"sessions"`
	Patients   int64     `json:"patients"`
	Protocols  int64     `json:"protocols"`
	Clinicians int64     `json:"clinicians"`

	SessionIDs []string `json:"session_ids,omitempty"`
}

// CleanupResult reports what a sweep actually removed.
type CleanupResult struct {
	Cutoff     time.Time `json:"cutoff"`
	Sessions   int64     `json:"sessions"`
	Patients   int64     `json:"patients"`
	Protocols  int64     `json:"protocols"`
	Clinicians int64     `json:"clinicians"`

	// ObjectsDeleted counts payload objects removed from the store.
	ObjectsDeleted int64 `json:"objects_deleted"`
	// ObjectErrors counts payload deletions that failed; the rows are
	// purged regardless and the orphans logged for manual attention.
	ObjectErrors int64 `json:"object_errors"`
}

// Preview counts the rows a sweep at `now` would purge, per entity kind.
func (s *CleanupService) Preview(ctx context.Context, now time.Time) (*CleanupPreview, error) {
	cutoff := s.cutoff(now)
	out := &CleanupPreview{Cutoff: cutoff}

	var err error
	if out.Sessions, err = repo.CountExpired(ctx, s.DB, &domain.Session{}, cutoff); err != nil {
		return nil, err
	}
	if out.SessionIDs, err = repo.ExpiredIDs(ctx, s.DB, &domain.Session{}, cutoff); err != nil {
		return nil, err
	}
	if out.Patients, err = repo.CountExpired(ctx, s.DB, &domain.Patient{}, cutoff); err != nil {
		return nil, err
	}
	if out.Protocols, err = repo.CountExpired(ctx, s.DB, &domain.Protocol{}, cutoff); err != nil {
		return nil, err
	}
	if out.Clinicians, err = repo.CountExpired(ctx, s.DB, &domain.Clinician{}, cutoff); err != nil {
		return nil, err
	}
	return out, nil
}

// Run executes one retention sweep at `now`.
//
// Sessions are purged row by row: the payload objects are deleted first on a
// best-effort basis (a missing object is fine, an errored delete is counted
// and logged), then the row is removed through the guarded hard delete. The
// payload-less entity kinds are bulk-purged.
func (s *CleanupService) Run(ctx context.Context, now time.Time) (*CleanupResult, error) {
	cutoff := s.cutoff(now)
	res := &CleanupResult{Cutoff: cutoff}
	lg := log.With().Str("component", "cleanup").Time("cutoff", cutoff).Logger()

	expired, err := repo.ExpiredSessions(ctx, s.DB, cutoff)
	if err != nil {
		return nil, err
	}
	for _, sess := range expired {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		for _, key := range storage.SessionKeys(sess.CorrelationID) {
			err := s.Store.Delete(ctx, key)
			switch {
			case err == nil:
				res.ObjectsDeleted++
			case errors.Is(err, storage.ErrNotFound):
				// Never uploaded or already gone.
			default:
				res.ObjectErrors++
				lg.Error().Err(err).
					Str("session_id", sess.ID).
					Str("key", key).
					Msg("payload delete failed, row purged anyway")
			}
		}
		purged, err := repo.HardDeleteSession(ctx, s.DB, sess.ID, cutoff)
		if err != nil {
			return res, err
		}
		if purged {
			res.Sessions++
		}
	}

	if res.Patients, err = repo.HardDeleteExpired(ctx, s.DB, &domain.Patient{}, cutoff); err != nil {
		return res, err
	}
	if res.Protocols, err = repo.HardDeleteExpired(ctx, s.DB, &domain.Protocol{}, cutoff); err != nil {
		return res, err
	}
	if res.Clinicians, err = repo.HardDeleteExpired(ctx, s.DB, &domain.Clinician{}, cutoff); err != nil {
		return res, err
	}

	lg.Info().
		Int64("sessions", res.Sessions).
		Int64("objects", res.ObjectsDeleted).
		Int64("object_errors", res.ObjectErrors).
		Msg("retention sweep finished")
	return res, nil
}

// RunEvery runs a sweep on a fixed interval until ctx is cancelled. Intended
// to be launched as a goroutine from main. Errors are logged, never fatal.
func (s *CleanupService) RunEvery(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if _, err := s.Run(ctx, now); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("retention sweep failed")
			}
		}
	}
}
