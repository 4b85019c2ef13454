// Package services – AnalysisService
//
// This file implements the background job handlers the dispatcher runs:
// movement analysis over the keypoint series, video transcode, and report
// rendering. Handlers are idempotent; re-running one recomputes from the
// stored payload and commits through compare-and-swap progress updates, so
// at-least-once delivery is safe.
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/handmotion/capture-backend/internal/dispatch"
	"github.com/handmotion/capture-backend/internal/domain"
	"github.com/handmotion/capture-backend/internal/repo"
	"github.com/handmotion/capture-backend/internal/storage"
)

// AnalysisService executes the analysis, transcode, and report jobs.
type AnalysisService struct {
	DB    *gorm.DB
	Store storage.Store
	Jobs  JobQueue
}

// NewAnalysisService wires the worker-side service.
func NewAnalysisService(db *gorm.DB, store storage.Store, jobs JobQueue) *AnalysisService {
	return &AnalysisService{DB: db, Store: store, Jobs: jobs}
}

// keypointFrame is one sampled frame of the uploaded series.
type keypointFrame struct {
	T         float64     `json:"t"`
	Landmarks [][]float64 `json:"landmarks"`
	Hand      string      `json:"hand,omitempty"`
}

// keypointSeries is the wire shape of the keypoints payload.
type keypointSeries struct {
	FPS    float64         `json:"fps"`
	Frames []keypointFrame `json:"frames"`
}

// progress milestones reported during analysis. The values only ever move
// forward; duplicates collapse in ApplyProgress.
const (
	progressLoaded   = 10
	progressFiltered = 40
	progressAnalyzed = 70
	progressDone     = 100
)

// HandleAnalysis runs the movement analysis for one session.
//
// The handler reports progress at fixed milestones through the CAS progress
// path, computes the configured sub-analyses from the keypoint series, and
// commits the readings through the soft-delete-guarded measurement write. A
// session deleted mid-flight surfaces as repo.ErrNotFound at the next
// database touch, which the handler treats as a cancellation and not an
// error. Any other failure is recorded in analysis_error and returned.
func (s *AnalysisService) HandleAnalysis(ctx context.Context, job dispatch.Job) error {
	lg := log.With().
		Str("component", "analysis").
		Str("session_id", job.SessionID).
		Str("correlation_id", job.CorrelationID).
		Logger()

	fail := func(stage string, err error) error {
		wrapped := fmt.Errorf("%s: %w", stage, err)
		if serr := repo.SetAnalysisError(ctx, s.DB, job.SessionID, wrapped.Error()); serr != nil && !errors.Is(serr, repo.ErrNotFound) {
			lg.Error().Err(serr).Msg("could not record analysis error")
		}
		return wrapped
	}

	series, err := s.loadSeries(ctx, job)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return fail("load keypoints", err)
	}
	if err := s.report(ctx, job.SessionID, progressLoaded); err != nil {
		return cancelOrErr(err, &lg)
	}

	cfg := job.Config.Normalize()
	filtered := applyFilters(series, cfg.Filters)
	if err := s.report(ctx, job.SessionID, progressFiltered); err != nil {
		return cancelOrErr(err, &lg)
	}

	measurements := runAnalyses(filtered, cfg.AnalysisKinds)
	if err := s.report(ctx, job.SessionID, progressAnalyzed); err != nil {
		return cancelOrErr(err, &lg)
	}

	blob, err := json.Marshal(measurements)
	if err != nil {
		return fail("encode measurements", err)
	}

	// Final commit. The soft-delete scope is the cancellation guard: a
	// deleted session matches no row and the results are discarded.
	if err := repo.SetMeasurements(ctx, s.DB, job.SessionID, string(blob), series.FPS); err != nil {
		return cancelOrErr(err, &lg)
	}
	if err := repo.ClearAnalysisError(ctx, s.DB, job.SessionID); err != nil {
		lg.Warn().Err(err).Msg("could not clear analysis error")
	}

	// Completion is conditional on the video channel having delivered. The
	// presence sample races the video handler: an upload landing between the
	// sample and the commit would leave the session at video_uploaded with a
	// finished analysis and no later event to promote it. So when the final
	// milestone settles short of completed, re-check presence and re-apply
	// the video transition, which completes on progress 100.
	videoPresent, _ := s.Store.Exists(ctx, storage.VideoKey(job.CorrelationID))
	status, err := s.reportWithVideo(ctx, job.SessionID, progressDone, videoPresent)
	if err != nil {
		return cancelOrErr(err, &lg)
	}
	if status != domain.StatusCompleted {
		if present, _ := s.Store.Exists(ctx, storage.VideoKey(job.CorrelationID)); present {
			if _, err := repo.TransitionOnVideo(ctx, s.DB, job.SessionID); err != nil {
				return cancelOrErr(err, &lg)
			}
		}
	}

	// Chain the report render if the config asks for any output artifact.
	if len(cfg.OutputFormats) > 0 {
		reportJob := dispatch.Job{
			Type:          dispatch.JobTypeReport,
			SessionID:     job.SessionID,
			CorrelationID: job.CorrelationID,
			OwnerID:       job.OwnerID,
			Config:        cfg,
		}
		if qerr := s.Jobs.Enqueue(ctx, reportJob); qerr != nil {
			lg.Warn().Err(qerr).Msg("report job not enqueued")
		}
	}

	lg.Info().Int("measurements", len(measurements)).Msg("analysis committed")
	return nil
}

// HandleTranscode derives the processed video artifact from the raw upload.
// The real pipeline renders an overlay; here the artifact is produced as a
// server-side copy so downstream consumers have a stable key to read.
func (s *AnalysisService) HandleTranscode(ctx context.Context, job dispatch.Job) error {
	src := storage.VideoKey(job.CorrelationID)
	dst := storage.ProcessedVideoKey(job.CorrelationID)
	if err := s.Store.Copy(ctx, src, dst); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// Raw payload gone (cleaned up or never landed); nothing to do.
			return nil
		}
		return fmt.Errorf("transcode %s: %w", job.CorrelationID, err)
	}
	return nil
}

// sessionReport is the rendered report artifact.
type sessionReport struct {
	SessionID     string               `json:"session_id"`
	CorrelationID string               `json:"correlation_id"`
	PatientID     string               `json:"patient_id"`
	ProtocolID    string               `json:"protocol_id,omitempty"`
	GeneratedAt   time.Time            `json:"generated_at"`
	FrameRate     float64              `json:"frame_rate,omitempty"`
	Measurements  []domain.Measurement `json:"measurements"`
}

// HandleReport renders the JSON report artifact from the committed
// measurements. A session deleted before the render is a silent no-op.
func (s *AnalysisService) HandleReport(ctx context.Context, job dispatch.Job) error {
	sess, err := repo.GetSession(ctx, s.DB, job.SessionID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil
		}
		return err
	}

	var measurements []domain.Measurement
	if sess.Measurements != "" {
		if err := json.Unmarshal([]byte(sess.Measurements), &measurements); err != nil {
			return fmt.Errorf("decode measurements: %w", err)
		}
	}

	rep := sessionReport{
		SessionID:     sess.ID,
		CorrelationID: sess.CorrelationID,
		PatientID:     sess.PatientID,
		ProtocolID:    sess.ProtocolID,
		GeneratedAt:   time.Now().UTC(),
		FrameRate:     sess.FrameRate,
		Measurements:  measurements,
	}
	blob, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return err
	}
	if err := s.Store.Upload(ctx, sess.ReportPath, bytes.NewReader(blob)); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// loadSeries reads and decodes the keypoints payload.
func (s *AnalysisService) loadSeries(ctx context.Context, job dispatch.Job) (*keypointSeries, error) {
	rc, err := s.Store.Read(ctx, storage.KeypointsKey(job.CorrelationID))
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	raw, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}
	var series keypointSeries
	if err := json.Unmarshal(raw, &series); err != nil {
		return nil, fmt.Errorf("malformed keypoints payload: %w", err)
	}
	if len(series.Frames) == 0 {
		return nil, errors.New("keypoints payload holds no frames")
	}
	return &series, nil
}

// report applies a progress milestone without touching completion.
func (s *AnalysisService) report(ctx context.Context, sessionID string, progress int) error {
	_, _, err := repo.ApplyProgress(ctx, s.DB, sessionID, progress, false)
	return err
}

// reportWithVideo applies the final milestone with the video-presence check
// the completion rule requires, returning the status the session settled in.
func (s *AnalysisService) reportWithVideo(ctx context.Context, sessionID string, progress int, videoPresent bool) (domain.Status, error) {
	status, _, err := repo.ApplyProgress(ctx, s.DB, sessionID, progress, videoPresent)
	return status, err
}

// cancelOrErr maps a mid-flight ErrNotFound to a clean cancellation: the
// session was deleted while the job ran, so the work is discarded.
func cancelOrErr(err error, lg *zerolog.Logger) error {
	if errors.Is(err, repo.ErrNotFound) {
		lg.Info().Msg("session deleted mid-analysis, discarding results")
		return context.Canceled
	}
	return err
}
