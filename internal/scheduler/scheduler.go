// Package scheduler drives media items through the processing pipeline. It
// owns an in-memory priority queue of pending stage jobs and an active set
// bounded by a concurrency cap; stage executors run concurrently while all
// queue state is mutated under one mutex.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"media-pipeline-orchestrator/internal/models"
	"media-pipeline-orchestrator/internal/pipeline"
	"media-pipeline-orchestrator/internal/telemetry"
)

// MediaResolver answers whether a submitted media id exists.
type MediaResolver interface {
	MediaExists(ctx context.Context, mediaID string) (bool, error)
}

// StatusSink records the media item's lifecycle: processing at first
// submission, a terminal error when attempts are exhausted, completed at
// pipeline end. It is the only channel for permanent failure.
type StatusSink interface {
	MarkProcessing(ctx context.Context, mediaID string) error
	MarkCompleted(ctx context.Context, mediaID string) error
	MarkFailed(ctx context.Context, mediaID string, message string) error
}

// ProgressFunc reports advisory stage progress in percent.
type ProgressFunc func(percent int)

// Executor performs the work of one pipeline stage. Execution errors feed
// the retry state machine and are never surfaced to scheduler callers.
type Executor interface {
	Execute(ctx context.Context, job models.Job, report ProgressFunc) error
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, job models.Job, report ProgressFunc) error

func (f ExecutorFunc) Execute(ctx context.Context, job models.Job, report ProgressFunc) error {
	return f(ctx, job, report)
}

// Config tunes the scheduler. Zero values fall back to the documented
// defaults.
type Config struct {
	ConcurrencyCap     int           // default 2
	DispatchInterval   time.Duration // default 1s
	DefaultPriority    int           // default 5
	DefaultMaxAttempts int           // default 3
}

func (c *Config) normalize() {
	if c.ConcurrencyCap <= 0 {
		c.ConcurrencyCap = 2
	}
	if c.DispatchInterval <= 0 {
		c.DispatchInterval = time.Second
	}
	if c.DefaultPriority <= 0 {
		c.DefaultPriority = 5
	}
	if c.DefaultMaxAttempts <= 0 {
		c.DefaultMaxAttempts = 3
	}
}

// Scheduler coordinates pending and active stage jobs.
type Scheduler struct {
	cfg       Config
	resolver  MediaResolver
	sink      StatusSink
	logger    *slog.Logger
	executors map[models.Stage]Executor
	events    broadcaster

	mu      sync.Mutex
	pending pendingQueue
	active  map[string]*models.Job
	running bool
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New constructs a stopped scheduler. Executors must be registered before
// Start.
func New(cfg Config, resolver MediaResolver, sink StatusSink, logger *slog.Logger) *Scheduler {
	cfg.normalize()
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cfg:       cfg,
		resolver:  resolver,
		sink:      sink,
		logger:    logger,
		executors: make(map[models.Stage]Executor),
		active:    make(map[string]*models.Job),
		baseCtx:   context.Background(),
	}
}

// RegisterExecutor binds an executor to a pipeline stage.
func (s *Scheduler) RegisterExecutor(stage models.Stage, exec Executor) {
	if stage == "" || exec == nil {
		return
	}
	s.executors[stage] = exec
}

// Subscribe returns a channel of lifecycle events. Slow subscribers miss
// events once their buffer fills; they are never able to stall the queue.
func (s *Scheduler) Subscribe(buffer int) <-chan Event {
	return s.events.subscribe(buffer)
}

// Submit enqueues the first enabled stage for a media item. It fails with
// ErrMediaNotFound when the resolver does not know the id and enqueues
// nothing in that case.
func (s *Scheduler) Submit(ctx context.Context, mediaID string, opts models.SubmitOptions) (models.Job, error) {
	exists, err := s.resolver.MediaExists(ctx, mediaID)
	if err != nil {
		return models.Job{}, fmt.Errorf("resolve media %s: %w", mediaID, err)
	}
	if !exists {
		return models.Job{}, fmt.Errorf("%w: %s", ErrMediaNotFound, mediaID)
	}

	opts.Normalize(s.cfg.DefaultPriority, s.cfg.DefaultMaxAttempts)
	first, ok := pipeline.First(opts.Stages)
	if !ok {
		return models.Job{}, ErrNoStagesEnabled
	}

	job := &models.Job{
		ID:          uuid.NewString(),
		MediaID:     mediaID,
		Stage:       first,
		Status:      models.StatusPending,
		Priority:    opts.Priority,
		MaxAttempts: opts.MaxAttempts,
		CreatedAt:   time.Now().UTC(),
		Options:     opts,
	}

	s.mu.Lock()
	s.pending.insert(job)
	snapshot := *job
	s.updateGaugesLocked()
	s.mu.Unlock()

	if err := s.sink.MarkProcessing(ctx, mediaID); err != nil {
		s.logger.Warn("status sink rejected processing update", "media_id", mediaID, "error", err)
	}
	telemetry.JobsSubmitted.Inc()
	s.events.publish(JobSubmitted{Job: snapshot})
	s.logger.Info("job submitted",
		"job_id", snapshot.ID, "media_id", mediaID,
		"stage", snapshot.Stage, "priority", snapshot.Priority)
	return snapshot, nil
}

// Start launches the dispatch coordinator. Calling Start while running is a
// no-op. The context bounds in-flight executors for process shutdown;
// Stop alone never preempts them.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	if ctx == nil {
		ctx = context.Background()
	}
	s.baseCtx = ctx
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)
	s.mu.Unlock()

	go s.run(runCtx)
	s.events.publish(QueueStarted{})
	s.logger.Info("queue started",
		"concurrency_cap", s.cfg.ConcurrencyCap,
		"dispatch_interval", s.cfg.DispatchInterval)
}

// Stop halts the dispatch coordinator. Active executors keep running; only
// new dispatches cease. Calling Stop while stopped is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	s.events.publish(QueueStopped{})
	s.logger.Info("queue stopped")
}

// Running reports whether the coordinator is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.DispatchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.dispatch()
		}
	}
}

// dispatch fills every free concurrency slot from the head of the pending
// queue. Executors run on their own goroutines; the coordinator is notified
// through handleResult when they finish.
func (s *Scheduler) dispatch() {
	s.mu.Lock()
	var started []models.Job
	for len(s.active) < s.cfg.ConcurrencyCap {
		job := s.pending.pop()
		if job == nil {
			break
		}
		job.Status = models.StatusProcessing
		job.StartedAt = time.Now().UTC()
		s.active[job.ID] = job
		started = append(started, *job)
	}
	s.updateGaugesLocked()
	s.mu.Unlock()

	for _, snapshot := range started {
		s.events.publish(JobStarted{Job: snapshot})
		s.logger.Info("job started",
			"job_id", snapshot.ID, "media_id", snapshot.MediaID,
			"stage", snapshot.Stage, "attempt", snapshot.Attempts+1)
		go s.runExecutor(snapshot)
	}
}

func (s *Scheduler) runExecutor(job models.Job) {
	exec, ok := s.executors[job.Stage]
	var err error
	if !ok {
		err = fmt.Errorf("no executor registered for stage %q", job.Stage)
	} else {
		err = s.execute(exec, job)
	}
	s.handleResult(job.ID, err)
}

// execute invokes the stage executor, converting a panic into an ordinary
// stage failure so one bad executor cannot take down the coordinator.
func (s *Scheduler) execute(exec Executor, job models.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("stage executor panic: %v", r)
		}
	}()
	report := func(percent int) { s.reportProgress(job.ID, percent) }
	return exec.Execute(s.execContext(), job, report)
}

// execContext is the lifetime context executors and sink updates run under.
// It is the context given to Start, so Stop alone never cancels in-flight
// work but process shutdown does.
func (s *Scheduler) execContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.baseCtx
}

func (s *Scheduler) reportProgress(jobID string, percent int) {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	s.mu.Lock()
	job, ok := s.active[jobID]
	if !ok {
		s.mu.Unlock()
		return
	}
	job.Progress = percent
	snapshot := *job
	s.mu.Unlock()
	s.events.publish(JobProgress{Job: snapshot})
}

// handleResult applies the stage outcome to the state machine:
// processing -> completed (spawning the next stage or finalizing),
// processing -> pending (bounded retry), or processing -> failed (terminal).
func (s *Scheduler) handleResult(jobID string, execErr error) {
	s.mu.Lock()
	job, ok := s.active[jobID]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.active, jobID)

	if execErr == nil {
		job.Status = models.StatusCompleted
		job.CompletedAt = time.Now().UTC()
		job.Progress = 100
		done := *job

		var spawned *models.Job
		next := pipeline.Next(job.Stage, job.Options.Stages)
		if next != models.StageComplete {
			spawned = &models.Job{
				ID:          uuid.NewString(),
				MediaID:     job.MediaID,
				Stage:       next,
				Status:      models.StatusPending,
				Priority:    job.Priority,
				MaxAttempts: job.MaxAttempts,
				CreatedAt:   time.Now().UTC(),
				Options:     job.Options,
			}
			s.pending.insert(spawned)
		}
		s.updateGaugesLocked()
		var spawnedSnapshot models.Job
		if spawned != nil {
			spawnedSnapshot = *spawned
		}
		s.mu.Unlock()

		telemetry.JobsCompleted.Inc()
		s.events.publish(JobCompleted{Job: done})
		s.logger.Info("job completed",
			"job_id", done.ID, "media_id", done.MediaID, "stage", done.Stage)
		if spawned != nil {
			telemetry.JobsSubmitted.Inc()
			s.events.publish(JobSubmitted{Job: spawnedSnapshot})
		} else {
			if err := s.sink.MarkCompleted(s.execContext(), done.MediaID); err != nil {
				s.logger.Warn("status sink rejected completion update",
					"media_id", done.MediaID, "error", err)
			}
			s.logger.Info("pipeline finished", "media_id", done.MediaID)
		}
		return
	}

	job.Attempts++
	job.LastError = execErr.Error()

	if job.Attempts < job.MaxAttempts {
		job.Status = models.StatusPending
		job.StartedAt = time.Time{}
		s.pending.insert(job)
		snapshot := *job
		s.updateGaugesLocked()
		s.mu.Unlock()

		telemetry.JobsRetried.Inc()
		s.events.publish(JobRetried{Job: snapshot})
		s.logger.Warn("job retrying",
			"job_id", snapshot.ID, "media_id", snapshot.MediaID,
			"stage", snapshot.Stage, "attempts", snapshot.Attempts,
			"max_attempts", snapshot.MaxAttempts, "error", execErr)
		return
	}

	job.Status = models.StatusFailed
	job.CompletedAt = time.Now().UTC()
	snapshot := *job
	s.updateGaugesLocked()
	s.mu.Unlock()

	telemetry.JobsFailed.Inc()
	s.events.publish(JobFailed{Job: snapshot})
	if err := s.sink.MarkFailed(s.execContext(), snapshot.MediaID, snapshot.LastError); err != nil {
		s.logger.Warn("status sink rejected failure update",
			"media_id", snapshot.MediaID, "error", err)
	}
	s.logger.Error("job failed permanently",
		"job_id", snapshot.ID, "media_id", snapshot.MediaID,
		"stage", snapshot.Stage, "attempts", snapshot.Attempts,
		"error", execErr)
}

// Cancel removes a job if and only if it is still pending. Active jobs are
// never preempted and unknown ids report false.
func (s *Scheduler) Cancel(jobID string) bool {
	s.mu.Lock()
	job := s.pending.remove(jobID)
	if job == nil {
		s.mu.Unlock()
		return false
	}
	snapshot := *job
	s.updateGaugesLocked()
	s.mu.Unlock()

	telemetry.JobsCancelled.Inc()
	s.events.publish(JobCancelled{Job: snapshot})
	s.logger.Info("job cancelled", "job_id", snapshot.ID, "media_id", snapshot.MediaID)
	return true
}

// Clear drops every pending job, leaving active ones untouched. It returns
// how many jobs were removed.
func (s *Scheduler) Clear() int {
	s.mu.Lock()
	removed := s.pending.clear()
	s.updateGaugesLocked()
	s.mu.Unlock()

	s.events.publish(QueueCleared{Removed: removed})
	s.logger.Info("queue cleared", "removed", removed)
	return removed
}

// PendingCount returns how many jobs wait in the queue.
func (s *Scheduler) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending.len()
}

// ActiveCount returns how many jobs are executing.
func (s *Scheduler) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Job looks a job up across the pending queue and the active set.
func (s *Scheduler) Job(jobID string) (models.Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.active[jobID]; ok {
		return *job, true
	}
	if job := s.pending.find(jobID); job != nil {
		return *job, true
	}
	return models.Job{}, false
}

// Jobs returns a snapshot of every tracked job, active first, then pending
// in dispatch order.
func (s *Scheduler) Jobs() []models.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Job, 0, len(s.active)+s.pending.len())
	for _, job := range s.active {
		out = append(out, *job)
	}
	for _, job := range s.pending.jobs {
		out = append(out, *job)
	}
	return out
}

// Stats is an aggregate queue snapshot for the API surface.
type Stats struct {
	Pending int  `json:"pending"`
	Active  int  `json:"active"`
	Running bool `json:"running"`
}

func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{Pending: s.pending.len(), Active: len(s.active), Running: s.running}
}

func (s *Scheduler) updateGaugesLocked() {
	telemetry.PendingGauge.Set(float64(s.pending.len()))
	telemetry.ActiveGauge.Set(float64(len(s.active)))
}
