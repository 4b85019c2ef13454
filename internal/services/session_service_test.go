package services

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/handmotion/capture-backend/internal/dispatch"
	"github.com/handmotion/capture-backend/internal/domain"
	"github.com/handmotion/capture-backend/internal/repo"
	"github.com/handmotion/capture-backend/internal/storage"
)

// --- stub queue recording enqueues, optionally failing ---

type stubQueue struct {
	mu        sync.Mutex
	jobs      []dispatch.Job
	cancelled []string
	fail      error
}

func (q *stubQueue) Enqueue(_ context.Context, job dispatch.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.fail != nil {
		return q.fail
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *stubQueue) CancelAll(sessionID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cancelled = append(q.cancelled, sessionID)
}

func (q *stubQueue) jobTypes() []dispatch.JobType {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]dispatch.JobType, 0, len(q.jobs))
	for _, j := range q.jobs {
		out = append(out, j.Type)
	}
	return out
}

// --- fixtures ---

func newServiceDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("svc_test_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := db.AutoMigrate(&domain.Session{}, &domain.Patient{}, &domain.Protocol{}, &domain.Clinician{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	if err := db.Create(&domain.Patient{ID: "p1", Name: "Pat One"}).Error; err != nil {
		t.Fatalf("seed patient: %v", err)
	}
	if err := db.Create(&domain.Protocol{ID: "proto1", Name: "Finger Tap"}).Error; err != nil {
		t.Fatalf("seed protocol: %v", err)
	}
	return db
}

func newService(t *testing.T) (*SessionService, *stubQueue) {
	t.Helper()
	db := newServiceDB(t)
	st, err := storage.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("fs store: %v", err)
	}
	q := &stubQueue{}
	return NewSessionService(db, st, q), q
}

func ingest(t *testing.T, svc *SessionService, cid string) *domain.Session {
	t.Helper()
	sess, err := svc.IngestKeypoints(context.Background(), KeypointsIngest{
		CorrelationID: cid,
		PatientID:     "p1",
		ProtocolID:    "proto1",
		Payload:       strings.NewReader(`{"fps":30,"frames":[{"t":0,"landmarks":[[0,0]]}]}`),
	})
	if err != nil {
		t.Fatalf("IngestKeypoints(%s): %v", cid, err)
	}
	return sess
}

// --- keypoints channel ---

func TestIngestKeypoints_CreatesSessionAndSchedulesAnalysis(t *testing.T) {
	svc, q := newService(t)
	ctx := context.Background()

	sess := ingest(t, svc, "cid-a")
	if sess.Status != domain.StatusAnalyzing {
		t.Fatalf("status = %s, want analyzing", sess.Status)
	}
	if sess.KeypointsPath != storage.KeypointsKey("cid-a") {
		t.Fatalf("keypoints path = %s", sess.KeypointsPath)
	}

	// Payload persisted.
	present, err := svc.Store.Exists(ctx, sess.KeypointsPath)
	if err != nil || !present {
		t.Fatalf("keypoints not persisted: %v %v", present, err)
	}

	// Priority analysis job enqueued.
	types := q.jobTypes()
	if len(types) != 1 || types[0] != dispatch.JobTypeAnalysis {
		t.Fatalf("jobs = %v", types)
	}
	if !q.jobs[0].Priority {
		t.Fatal("analysis job not marked priority")
	}
}

func TestIngestKeypoints_DuplicateCorrelationID(t *testing.T) {
	svc, _ := newService(t)
	first := ingest(t, svc, "cid-dup")

	_, err := svc.IngestKeypoints(context.Background(), KeypointsIngest{
		CorrelationID: "cid-dup",
		PatientID:     "p1",
		Payload:       strings.NewReader(`{}`),
	})
	var dup *DuplicateSessionError
	if !errors.As(err, &dup) {
		t.Fatalf("expected DuplicateSessionError, got %v", err)
	}
	if dup.SessionID != first.ID {
		t.Fatalf("conflict points at %s, want %s", dup.SessionID, first.ID)
	}
	if !errors.Is(err, ErrDuplicateSession) {
		t.Fatal("DuplicateSessionError must unwrap to ErrDuplicateSession")
	}
}

func TestIngestKeypoints_ValidatesReferences(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, err := svc.IngestKeypoints(ctx, KeypointsIngest{
		CorrelationID: "cid-no-pat",
		PatientID:     "ghost",
		Payload:       strings.NewReader(`{}`),
	})
	if !errors.Is(err, ErrPatientNotFound) {
		t.Fatalf("expected ErrPatientNotFound, got %v", err)
	}

	_, err = svc.IngestKeypoints(ctx, KeypointsIngest{
		CorrelationID: "cid-no-proto",
		PatientID:     "p1",
		ProtocolID:    "ghost",
		Payload:       strings.NewReader(`{}`),
	})
	if !errors.Is(err, ErrProtocolNotFound) {
		t.Fatalf("expected ErrProtocolNotFound, got %v", err)
	}

	_, err = svc.IngestKeypoints(ctx, KeypointsIngest{PatientID: "p1", Payload: strings.NewReader(`{}`)})
	if !errors.Is(err, ErrMissingField) {
		t.Fatalf("expected ErrMissingField, got %v", err)
	}
}

func TestIngestKeypoints_EnqueueFailureDegrades(t *testing.T) {
	svc, q := newService(t)
	q.fail = dispatch.ErrQueueFull

	sess, err := svc.IngestKeypoints(context.Background(), KeypointsIngest{
		CorrelationID: "cid-degraded",
		PatientID:     "p1",
		Payload:       strings.NewReader(`{}`),
	})
	// The upload persisted, so the request succeeds.
	if err != nil {
		t.Fatalf("expected success despite enqueue failure, got %v", err)
	}
	if sess.Status != domain.StatusKeypointsUploaded {
		t.Fatalf("status = %s, want keypoints_uploaded", sess.Status)
	}
	if sess.AnalysisError == nil || !strings.Contains(*sess.AnalysisError, "enqueue") {
		t.Fatalf("analysis error not recorded: %v", sess.AnalysisError)
	}

	// The degraded state is persisted, not just returned.
	stored, err := repo.GetSession(context.Background(), svc.DB, sess.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if stored.AnalysisError == nil {
		t.Fatal("analysis error not persisted")
	}
}

// --- video channel, all arrival orders ---

func TestIngestVideo_BeforeKeypointsIsNotFound(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.IngestVideo(context.Background(), "cid-never", strings.NewReader("vid"))
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestIngestVideo_DuringAnalysis(t *testing.T) {
	svc, q := newService(t)
	ctx := context.Background()
	sess := ingest(t, svc, "cid-b")

	status, err := svc.IngestVideo(ctx, "cid-b", strings.NewReader("vid"))
	if err != nil {
		t.Fatalf("IngestVideo: %v", err)
	}
	if status != domain.StatusVideoUploaded {
		t.Fatalf("status = %s, want video_uploaded", status)
	}
	present, _ := svc.Store.Exists(ctx, sess.VideoPath)
	if !present {
		t.Fatal("video payload not persisted")
	}

	// Transcode queued in the background class.
	types := q.jobTypes()
	if len(types) != 2 || types[1] != dispatch.JobTypeTranscode {
		t.Fatalf("jobs = %v", types)
	}
}

func TestIngestVideo_AfterAnalysisFinishedCompletes(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	sess := ingest(t, svc, "cid-c")

	// Analysis finished while the video was still on the device.
	if _, _, err := repo.ApplyProgress(ctx, svc.DB, sess.ID, 100, false); err != nil {
		t.Fatalf("ApplyProgress: %v", err)
	}

	status, err := svc.IngestVideo(ctx, "cid-c", strings.NewReader("vid"))
	if err != nil {
		t.Fatalf("IngestVideo: %v", err)
	}
	if status != domain.StatusCompleted {
		t.Fatalf("status = %s, want completed", status)
	}
}

func TestIngestVideo_CancelledSessionConflicts(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	sess := ingest(t, svc, "cid-d")

	if err := svc.Delete(ctx, sess.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	_, err := svc.IngestVideo(ctx, "cid-d", strings.NewReader("vid"))
	if !errors.Is(err, ErrSessionCancelled) {
		t.Fatalf("expected ErrSessionCancelled, got %v", err)
	}
}

func TestIngestVideo_CompletedWithVideoConflicts(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	sess := ingest(t, svc, "cid-e")

	if _, err := svc.IngestVideo(ctx, "cid-e", strings.NewReader("vid")); err != nil {
		t.Fatalf("first video: %v", err)
	}
	if _, _, err := repo.ApplyProgress(ctx, svc.DB, sess.ID, 100, true); err != nil {
		t.Fatalf("ApplyProgress: %v", err)
	}

	_, err := svc.IngestVideo(ctx, "cid-e", strings.NewReader("vid2"))
	if !errors.Is(err, ErrSessionCompleted) {
		t.Fatalf("expected ErrSessionCompleted, got %v", err)
	}
}

// --- status view ---

func TestStatus_CompositeView(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	sess := ingest(t, svc, "cid-view")

	measurements := `[{"kind":"tremor","metric":"frequency","value":4.5,"unit":"hz"}]`
	if err := repo.SetMeasurements(ctx, svc.DB, sess.ID, measurements, 30); err != nil {
		t.Fatalf("SetMeasurements: %v", err)
	}

	view, err := svc.Status(ctx, "cid-view")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if view.SessionID != sess.ID || view.Status != domain.StatusAnalyzing {
		t.Fatalf("view identity: %+v", view)
	}
	// Keypoints landed, video and report did not.
	if !view.Keypoints.Present || view.Video.Present || view.Report.Present {
		t.Fatalf("presence flags: kp=%v video=%v report=%v",
			view.Keypoints.Present, view.Video.Present, view.Report.Present)
	}
	if view.Patient.Name != "Pat One" {
		t.Fatalf("patient summary: %+v", view.Patient)
	}
	if view.Protocol == nil || view.Protocol.Name != "Finger Tap" {
		t.Fatalf("protocol summary: %+v", view.Protocol)
	}
	if len(view.Measurements) != 1 || view.Measurements[0].Kind != "tremor" {
		t.Fatalf("measurements: %+v", view.Measurements)
	}

	if _, err := svc.Status(ctx, "cid-unknown"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("unknown cid: %v", err)
	}
}

// --- delete + cancellation ---

func TestDelete_SoftDeletesAndCancelsJobs(t *testing.T) {
	svc, q := newService(t)
	ctx := context.Background()
	sess := ingest(t, svc, "cid-del")

	if err := svc.Delete(ctx, sess.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(q.cancelled) != 1 || q.cancelled[0] != sess.ID {
		t.Fatalf("cancelled = %v", q.cancelled)
	}

	// Payloads are retained for the cleanup window.
	present, _ := svc.Store.Exists(ctx, sess.KeypointsPath)
	if !present {
		t.Fatal("payload deleted on soft delete")
	}

	// Status no longer resolves.
	if _, err := svc.Status(ctx, "cid-del"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("deleted session still visible: %v", err)
	}

	if err := svc.Delete(ctx, sess.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("repeat delete: %v", err)
	}
}

// --- listing ---

func TestListForPatient_PaginationAndMissingPatient(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ingest(t, svc, fmt.Sprintf("cid-list-%d", i))
	}

	items, total, err := svc.ListForPatient(ctx, "p1", 1, 2)
	if err != nil {
		t.Fatalf("ListForPatient: %v", err)
	}
	if total != 3 || len(items) != 2 {
		t.Fatalf("total=%d len=%d", total, len(items))
	}

	// Defaults applied to invalid paging values.
	items, total, err = svc.ListForPatient(ctx, "p1", 0, -1)
	if err != nil || total != 3 || len(items) != 3 {
		t.Fatalf("defaults: total=%d len=%d err=%v", total, len(items), err)
	}

	if _, _, err := svc.ListForPatient(ctx, "ghost", 1, 10); !errors.Is(err, ErrPatientNotFound) {
		t.Fatalf("missing patient: %v", err)
	}
}
