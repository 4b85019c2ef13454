// Package dispatch provides the asynchronous job dispatcher for the
// ingestion pipeline. Jobs are typed units of background work keyed by a
// deterministic id derived from (type, session id); that key is also the
// cancellation and de-duplication handle. Delivery is at-least-once from the
// caller's perspective, so every handler must be idempotent — the session's
// own stored progress and status act as the de-duplication guard.
//
// Enqueue returns immediately (fire-and-forget); a bounded worker pool drains
// the queue. Cancellation is best-effort: a queued job is dropped before it
// starts, a running job has its context cancelled, and a job that already
// raced past cancellation must no-op at its final commit by observing the
// session's deletion marker.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/handmotion/capture-backend/internal/domain"
)

// JobType identifies a kind of background work. Each type is keyed
// independently, so cancelling one type for a session does not implicitly
// cancel another.
type JobType string

const (
	// JobTypeAnalysis runs the movement analysis over the keypoint series.
	JobTypeAnalysis JobType = "analysis"
	// JobTypeTranscode produces the processed/overlay video artifact.
	JobTypeTranscode JobType = "transcode"
	// JobTypeReport renders the analysis report artifact.
	JobTypeReport JobType = "report"
)

// Job describes one unit of asynchronous work against a session.
type Job struct {
	Type          JobType
	SessionID     string
	CorrelationID string
	OwnerID       string
	// Inputs lists the object-store keys the job reads.
	Inputs []string
	// Config names which sub-analyses to run and which outputs to produce.
	Config domain.AnalysisConfig
	// Priority marks jobs that should be picked up ahead of background work.
	Priority bool
}

// Key returns the deterministic job id: "{type}-{sessionID}".
func (j Job) Key() string { return fmt.Sprintf("%s-%s", j.Type, j.SessionID) }

// Handler executes one job. The context is cancelled on dispatcher shutdown
// and on Cancel for the job's key.
type Handler func(ctx context.Context, job Job) error

// Dispatcher errors.
var (
	ErrQueueFull = errors.New("job queue full")
	ErrNoHandler = errors.New("no handler registered for job type")
	ErrStopped   = errors.New("dispatcher stopped")
)

// Dispatcher owns the queue, the worker pool, and the cancellation registry.
type Dispatcher struct {
	workers int

	prioQ chan Job
	bgQ   chan Job

	mu       sync.Mutex
	handlers map[JobType]Handler
	pending  map[string]struct{}          // keys queued or running
	dropped  map[string]struct{}          // keys cancelled while still queued
	running  map[string]context.CancelFunc

	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup
	started    bool
	stopped    bool

	log zerolog.Logger
}

// New constructs a Dispatcher with the given queue capacity and worker count.
func New(queueSize, workers int) *Dispatcher {
	if queueSize < 1 {
		queueSize = 64
	}
	if workers < 1 {
		workers = 2
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		workers:    workers,
		prioQ:      make(chan Job, queueSize),
		bgQ:        make(chan Job, queueSize),
		handlers:   make(map[JobType]Handler),
		pending:    make(map[string]struct{}),
		dropped:    make(map[string]struct{}),
		running:    make(map[string]context.CancelFunc),
		baseCtx:    ctx,
		baseCancel: cancel,
		log:        log.With().Str("component", "dispatch").Logger(),
	}
}

// Register binds a handler to a job type. Must be called before Start.
func (d *Dispatcher) Register(t JobType, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[t] = h
}

// Start launches the worker pool.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	if d.started || d.stopped {
		d.mu.Unlock()
		return
	}
	d.started = true
	d.mu.Unlock()

	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}
}

// Enqueue places a job on the queue and returns immediately. Enqueueing a key
// that is already pending is an idempotent no-op. Returns ErrQueueFull when
// the buffer is exhausted rather than blocking the caller — ingestion
// handlers degrade that into recorded session state, not a failed upload.
func (d *Dispatcher) Enqueue(ctx context.Context, job Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return ErrStopped
	}
	if _, ok := d.handlers[job.Type]; !ok {
		d.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNoHandler, job.Type)
	}
	key := job.Key()
	if _, ok := d.pending[key]; ok {
		d.mu.Unlock()
		return nil
	}
	d.pending[key] = struct{}{}
	delete(d.dropped, key)
	d.mu.Unlock()

	q := d.bgQ
	if job.Priority {
		q = d.prioQ
	}
	select {
	case q <- job:
		jobsQueued.WithLabelValues(string(job.Type)).Inc()
		return nil
	default:
		d.mu.Lock()
		delete(d.pending, key)
		d.mu.Unlock()
		return ErrQueueFull
	}
}

// Cancel requests best-effort cancellation of the job keyed by (t, sessionID):
// a queued job is dropped before it starts, a running job has its context
// cancelled. A job that already committed is unaffected.
func (d *Dispatcher) Cancel(t JobType, sessionID string) {
	key := Job{Type: t, SessionID: sessionID}.Key()
	d.mu.Lock()
	defer d.mu.Unlock()
	if cancel, ok := d.running[key]; ok {
		cancel()
		return
	}
	if _, ok := d.pending[key]; ok {
		d.dropped[key] = struct{}{}
	}
}

// CancelAll cancels every job type for the session.
func (d *Dispatcher) CancelAll(sessionID string) {
	for _, t := range []JobType{JobTypeAnalysis, JobTypeTranscode, JobTypeReport} {
		d.Cancel(t, sessionID)
	}
}

// Shutdown stops accepting work, cancels running jobs, and waits for the
// workers to exit or for ctx to expire. The queue channels are never closed:
// an Enqueue that passed the stopped check may still be sending, and a send
// on a closed channel would panic the caller. Workers observe shutdown
// through the base context instead; jobs still sitting in the queue at that
// point are abandoned.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return nil
	}
	d.stopped = true
	d.mu.Unlock()

	d.baseCancel()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// worker drains the priority queue first, then background work, until the
// base context is cancelled on shutdown.
func (d *Dispatcher) worker(n int) {
	defer d.wg.Done()
	for {
		// Priority jobs first, without starving the background queue.
		select {
		case <-d.baseCtx.Done():
			return
		case job := <-d.prioQ:
			d.run(n, job)
			continue
		default:
		}
		select {
		case <-d.baseCtx.Done():
			return
		case job := <-d.prioQ:
			d.run(n, job)
		case job := <-d.bgQ:
			d.run(n, job)
		}
	}
}

// run executes one job with per-job cancellation, panic recovery, and
// metrics. A handler error is logged and counted; the handler itself is
// responsible for recording failures into session state.
func (d *Dispatcher) run(n int, job Job) {
	key := job.Key()

	d.mu.Lock()
	if _, cancelled := d.dropped[key]; cancelled {
		delete(d.dropped, key)
		delete(d.pending, key)
		d.mu.Unlock()
		jobsDone.WithLabelValues(string(job.Type), "cancelled").Inc()
		return
	}
	handler := d.handlers[job.Type]
	ctx, cancel := context.WithCancel(d.baseCtx)
	d.running[key] = cancel
	d.mu.Unlock()

	defer func() {
		cancel()
		d.mu.Lock()
		delete(d.running, key)
		delete(d.pending, key)
		d.mu.Unlock()
	}()

	lg := d.log.With().
		Int("worker", n).
		Str("job", key).
		Str("session_id", job.SessionID).
		Logger()

	start := time.Now()
	jobsInflight.Inc()
	defer jobsInflight.Dec()

	err := d.safeRun(ctx, handler, job, &lg)
	dur := time.Since(start)
	jobDuration.WithLabelValues(string(job.Type)).Observe(dur.Seconds())

	switch {
	case err == nil:
		jobsDone.WithLabelValues(string(job.Type), "ok").Inc()
		lg.Info().Dur("elapsed", dur).Msg("job finished")
	case errors.Is(err, context.Canceled):
		jobsDone.WithLabelValues(string(job.Type), "cancelled").Inc()
		lg.Warn().Dur("elapsed", dur).Msg("job cancelled")
	default:
		jobsDone.WithLabelValues(string(job.Type), "error").Inc()
		lg.Error().Err(err).Dur("elapsed", dur).Msg("job failed")
	}
}

// safeRun converts a handler panic into an error so one bad job cannot take
// down the worker pool.
func (d *Dispatcher) safeRun(ctx context.Context, h Handler, job Job, lg *zerolog.Logger) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			lg.Error().
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Msg("job panic recovered")
			err = fmt.Errorf("job panic: %v", rec)
		}
	}()
	return h(ctx, job)
}
