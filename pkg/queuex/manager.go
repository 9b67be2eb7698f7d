package queuex

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Manager is the producer-facing façade over one Backend. Producers
// dispatch jobs through it; operators inspect and prune through it.
type Manager struct {
	backend        Backend
	defaultQueue   string
	defaultTimeout time.Duration
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithDispatchQueue sets the queue used when a dispatched job names none.
func WithDispatchQueue(name string) ManagerOption {
	return func(m *Manager) {
		if name != "" {
			m.defaultQueue = name
		}
	}
}

// WithDispatchTimeout sets the timeout applied to jobs that carry none.
func WithDispatchTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.defaultTimeout = d
		}
	}
}

// NewManager creates a Manager over the given backend.
func NewManager(backend Backend, opts ...ManagerOption) (*Manager, error) {
	if backend == nil {
		return nil, queuexErrors.NewWithMessage(ErrConfig, "queue manager requires a backend")
	}
	m := &Manager{
		backend:        backend,
		defaultQueue:   DefaultQueue,
		defaultTimeout: DefaultTimeout,
	}
	for _, o := range opts {
		o(m)
	}
	return m, nil
}

// Backend exposes the underlying backend, mainly for wiring the worker
// client against the same storage.
func (m *Manager) Backend() Backend {
	return m.backend
}

// Dispatch validates the job, applies defaults, and pushes it. Returns
// the job ID.
func (m *Manager) Dispatch(ctx context.Context, job *Job) (string, error) {
	if job == nil {
		return "", queuexErrors.NewWithMessage(ErrInvalidJob, "job is nil")
	}
	if job.Type == "" {
		return "", queuexErrors.NewWithMessage(ErrInvalidJob, "job type is empty")
	}

	m.applyDefaults(job)

	if err := m.backend.Push(ctx, job); err != nil {
		return "", err
	}
	return job.ID, nil
}

// DispatchMany pushes jobs in order and returns their IDs. It stops on
// the first error; jobs already pushed stay pushed.
func (m *Manager) DispatchMany(ctx context.Context, jobs []*Job) ([]string, error) {
	ids := make([]string, 0, len(jobs))
	for _, job := range jobs {
		id, err := m.Dispatch(ctx, job)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// GetJob returns the current state of a job.
func (m *Manager) GetJob(ctx context.Context, jobID string) (*Job, error) {
	return m.backend.Get(ctx, jobID)
}

// DeleteJob removes a job from the backend entirely.
func (m *Manager) DeleteJob(ctx context.Context, jobID string) error {
	return m.backend.Delete(ctx, jobID)
}

// CancelJob terminally withdraws a job that has not finished yet. The
// record stays readable; the job is no longer reservable.
func (m *Manager) CancelJob(ctx context.Context, jobID string) error {
	return m.backend.Cancel(ctx, jobID)
}

// Size counts jobs awaiting execution across all queues.
func (m *Manager) Size(ctx context.Context) (int, error) {
	return m.backend.Size(ctx)
}

// SizeOf counts jobs awaiting execution on one queue.
func (m *Manager) SizeOf(ctx context.Context, queue string) (int, error) {
	return m.backend.SizeOf(ctx, queue)
}

// Clear wipes the backend.
func (m *Manager) Clear(ctx context.Context) error {
	return m.backend.Clear(ctx)
}

// ClearQueue drops the pending and delayed jobs of one queue.
func (m *Manager) ClearQueue(ctx context.Context, queue string) error {
	return m.backend.ClearQueue(ctx, queue)
}

// FailedJobs returns the dead-letter store for operator inspection.
func (m *Manager) FailedJobs(ctx context.Context) ([]*Job, error) {
	return m.backend.ListFailed(ctx)
}

// ReleaseDelayed promotes due delayed jobs. Exposed for external
// schedulers; the worker client calls it on its own.
func (m *Manager) ReleaseDelayed(ctx context.Context) ([]*Job, error) {
	return m.backend.ReleaseDelayed(ctx)
}

func (m *Manager) applyDefaults(job *Job) {
	now := time.Now().UTC()
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.Queue == "" {
		job.Queue = m.defaultQueue
	}
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = DefaultMaxAttempts
	}
	if job.Timeout <= 0 {
		job.Timeout = m.defaultTimeout
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	if job.Status == "" || job.Status == StatusPending || job.Status == StatusDelayed {
		if job.ShouldExecute() {
			job.Status = StatusPending
		} else {
			job.Status = StatusDelayed
		}
	}
}
