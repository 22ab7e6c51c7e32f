// Package jobs runs document analysis asynchronously. Each job owns its
// session: the worker runs every detector, resolves overlaps and ingests
// the winners, publishing progress along the way. Jobs share nothing, so a
// slow document never blocks another.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/caligo-app/caligo/internal/detect"
	"github.com/caligo-app/caligo/internal/session"
	"github.com/caligo-app/caligo/pkg/types"
)

// Status is a job's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

const (
	// DefaultWorkers is the analysis worker pool size.
	DefaultWorkers = 4

	// DefaultZombieTimeout marks a running job failed when it has not
	// reported progress for this long.
	DefaultZombieTimeout = 5 * time.Minute

	queueCapacity = 64
)

// ErrQueueFull is returned when the job queue cannot accept more work.
var ErrQueueFull = errors.New("jobs: queue is full")

// Job is the observable state of one analysis run.
type Job struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Status    Status    `json:"status"`
	Progress  int       `json:"progress"`
	Stage     string    `json:"stage"`
	Error     string    `json:"error,omitempty"`
	Found     int       `json:"found"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// ETASeconds extrapolates remaining time from progress so far; zero
	// until the job has made measurable progress.
	ETASeconds int `json:"eta_seconds"`
}

// ProgressFunc receives a snapshot after every job state change.
type ProgressFunc func(Job)

// Runner owns the worker pool and the job table.
type Runner struct {
	detectors []detect.Detector
	sessions  *session.Manager

	mu   sync.RWMutex
	jobs map[string]*Job

	queue    chan string
	pending  map[string]string // job id -> session id
	onChange ProgressFunc

	zombieTimeout time.Duration

	stopOnce sync.Once
	stop     chan struct{}
	wg       sync.WaitGroup
}

// Option configures a Runner.
type Option func(*Runner)

// WithProgressFunc registers a callback invoked on every job update, used
// by the websocket hub to push progress to clients.
func WithProgressFunc(fn ProgressFunc) Option {
	return func(r *Runner) { r.onChange = fn }
}

// WithZombieTimeout overrides the stalled-job timeout.
func WithZombieTimeout(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.zombieTimeout = d
		}
	}
}

// NewRunner creates a runner with the given worker count and starts the
// pool immediately.
func NewRunner(sessions *session.Manager, detectors []detect.Detector, workers int, opts ...Option) *Runner {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	r := &Runner{
		detectors:     detectors,
		sessions:      sessions,
		jobs:          make(map[string]*Job),
		queue:         make(chan string, queueCapacity),
		pending:       make(map[string]string),
		zombieTimeout: DefaultZombieTimeout,
		stop:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}

	for i := 0; i < workers; i++ {
		r.wg.Add(1)
		go r.worker()
	}
	r.wg.Add(1)
	go r.sweepZombies()

	return r
}

// Stop drains the pool. Queued jobs that never ran stay pending.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
	r.wg.Wait()
}

// Submit queues an analysis job for a session and returns its id.
func (r *Runner) Submit(sessionID string) (*Job, error) {
	if _, err := r.sessions.Get(sessionID); err != nil {
		return nil, err
	}

	job := &Job{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Status:    StatusPending,
		Stage:     "queued",
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	r.mu.Lock()
	r.jobs[job.ID] = job
	r.pending[job.ID] = sessionID
	r.mu.Unlock()

	select {
	case r.queue <- job.ID:
	default:
		r.mu.Lock()
		delete(r.jobs, job.ID)
		delete(r.pending, job.ID)
		r.mu.Unlock()
		return nil, ErrQueueFull
	}

	r.notify(job.ID)
	return r.Get(job.ID)
}

// Get returns a snapshot of one job.
func (r *Runner) Get(id string) (*Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := r.jobs[id]
	if !ok {
		return nil, fmt.Errorf("jobs: %s: %w", id, types.ErrNotFound)
	}
	cp := *job
	return &cp, nil
}

// List returns snapshots of all known jobs.
func (r *Runner) List() []*Job {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		cp := *job
		out = append(out, &cp)
	}
	return out
}

func (r *Runner) worker() {
	defer r.wg.Done()
	for {
		select {
		case <-r.stop:
			return
		case id := <-r.queue:
			r.run(id)
		}
	}
}

func (r *Runner) run(jobID string) {
	r.mu.Lock()
	sessionID, ok := r.pending[jobID]
	delete(r.pending, jobID)
	r.mu.Unlock()
	if !ok {
		return
	}

	sess, err := r.sessions.Get(sessionID)
	if err != nil {
		r.fail(jobID, err)
		return
	}

	r.update(jobID, StatusRunning, 0, "starting", 0)

	ctx, cancel := context.WithTimeout(context.Background(), r.zombieTimeout)
	defer cancel()

	var candidates []*types.Entity
	step := 80 / max(len(r.detectors), 1)
	for i, d := range r.detectors {
		r.update(jobID, StatusRunning, i*step, "detect:"+d.Name(), 0)

		found, err := d.Detect(ctx, sess.Text)
		if err != nil {
			// A dead model service degrades the run, it does not kill it.
			if errors.Is(err, detect.ErrModelUnavailable) {
				log.Printf("jobs: %s: detector %s skipped: %v", jobID, d.Name(), err)
				continue
			}
			r.fail(jobID, err)
			return
		}
		candidates = append(candidates, found...)
	}

	r.update(jobID, StatusRunning, 85, "resolve", 0)
	res, err := sess.IngestCandidates(candidates)
	if err != nil {
		r.fail(jobID, err)
		return
	}

	r.update(jobID, StatusCompleted, 100, "done", len(res.Accepted))
	log.Printf("jobs: %s completed: %d accepted, %d rejected", jobID, len(res.Accepted), len(res.Rejected))
}

func (r *Runner) update(jobID string, status Status, progress int, stage string, found int) {
	r.mu.Lock()
	job, ok := r.jobs[jobID]
	if ok {
		now := time.Now()
		job.Status = status
		job.Progress = progress
		job.Stage = stage
		job.UpdatedAt = now
		if found > 0 {
			job.Found = found
		}
		if status == StatusRunning && progress > 0 && progress < 100 {
			elapsed := now.Sub(job.CreatedAt).Seconds()
			job.ETASeconds = int(elapsed / float64(progress) * float64(100-progress))
		} else {
			job.ETASeconds = 0
		}
	}
	r.mu.Unlock()
	if ok {
		r.notify(jobID)
	}
}

func (r *Runner) fail(jobID string, err error) {
	r.mu.Lock()
	if job, ok := r.jobs[jobID]; ok {
		job.Status = StatusFailed
		job.Error = err.Error()
		job.UpdatedAt = time.Now()
		job.ETASeconds = 0
	}
	r.mu.Unlock()
	r.notify(jobID)
	log.Printf("jobs: %s failed: %v", jobID, err)
}

func (r *Runner) notify(jobID string) {
	if r.onChange == nil {
		return
	}
	if job, err := r.Get(jobID); err == nil {
		r.onChange(*job)
	}
}

// sweepZombies fails running jobs whose worker stopped reporting, so a hung
// detector call cannot leave a job running forever in the UI.
func (r *Runner) sweepZombies() {
	defer r.wg.Done()
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-r.zombieTimeout)
			var stale []string
			r.mu.Lock()
			for id, job := range r.jobs {
				if job.Status == StatusRunning && job.UpdatedAt.Before(cutoff) {
					job.Status = StatusFailed
					job.Error = "job timed out without progress"
					job.UpdatedAt = time.Now()
					stale = append(stale, id)
				}
			}
			r.mu.Unlock()
			for _, id := range stale {
				log.Printf("jobs: %s marked failed by zombie sweep", id)
				r.notify(id)
			}
		}
	}
}
