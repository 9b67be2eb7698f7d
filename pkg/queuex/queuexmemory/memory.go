// Package queuexmemory provides the in-process queue backend: a single
// map guarded by one mutex, ordered at reservation time. Suitable for a
// single OS process only — use queuexredis or queuexpg to share a queue
// across processes.
package queuexmemory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Abraxas-365/conveyor/pkg/queuex"
)

var _ queuex.Backend = (*Store)(nil)

// Store keeps every job record in one map; ready/delayed/dead-letter
// membership is derived from the job status. The global mutex serializes
// all transitions, which is what makes Reserve atomic.
type Store struct {
	mu   sync.Mutex
	jobs map[string]*queuex.Job
}

// New returns an empty in-process backend.
func New() *Store {
	return &Store{jobs: make(map[string]*queuex.Job)}
}

// Push stores the job. Re-pushing an existing ID overwrites the record.
func (s *Store) Push(_ context.Context, job *queuex.Job) error {
	if job == nil || job.ID == "" {
		return queuex.NewNotFound("")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := job.Clone()
	if cp.Status != queuex.StatusDelayed && cp.Status != queuex.StatusPending {
		if cp.ShouldExecute() {
			cp.Status = queuex.StatusPending
		} else {
			cp.Status = queuex.StatusDelayed
		}
	}
	s.jobs[cp.ID] = cp
	return nil
}

// Reserve removes and returns the best eligible job from the named
// queue: highest priority first, creation time breaking ties. The job
// comes back marked Processing with Attempts incremented.
func (s *Store) Reserve(_ context.Context, queue string) (*queuex.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *queuex.Job
	for _, j := range s.jobs {
		if j.Status != queuex.StatusPending || j.Queue != queue || !j.ShouldExecute() {
			continue
		}
		if best == nil || readyBefore(j, best) {
			best = j
		}
	}
	if best == nil {
		return nil, nil
	}

	best.Status = queuex.StatusProcessing
	best.Attempts++
	best.UpdatedAt = time.Now().UTC()
	return best.Clone(), nil
}

// readyBefore reports whether a should be reserved before b.
func readyBefore(a, b *queuex.Job) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// Complete acknowledges terminal success and removes the job from
// storage; completed jobs leave no record behind.
func (s *Store) Complete(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok {
		return queuex.NewNotFound(jobID)
	}
	if j.Status.Terminal() {
		return queuex.NewTerminal(jobID, j.Status)
	}
	delete(s.jobs, jobID)
	return nil
}

// Fail moves the job into the dead-letter set with LastError recorded.
func (s *Store) Fail(_ context.Context, jobID string, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok {
		return queuex.NewNotFound(jobID)
	}
	if j.Status.Terminal() {
		return queuex.NewTerminal(jobID, j.Status)
	}
	j.Status = queuex.StatusFailed
	j.LastError = reason
	j.UpdatedAt = time.Now().UTC()
	return nil
}

// Retry re-inserts the caller's copy into the ready set (or delayed set
// when ExecuteAt lies in the future).
func (s *Store) Retry(_ context.Context, job *queuex.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.jobs[job.ID]
	if !ok {
		return queuex.NewNotFound(job.ID)
	}
	if stored.Status.Terminal() {
		return queuex.NewTerminal(job.ID, stored.Status)
	}

	cp := job.Clone()
	if cp.ShouldExecute() {
		cp.Status = queuex.StatusPending
	} else {
		cp.Status = queuex.StatusDelayed
	}
	cp.UpdatedAt = time.Now().UTC()
	s.jobs[cp.ID] = cp
	return nil
}

// Update persists the caller's copy of a job it holds a lease on.
func (s *Store) Update(_ context.Context, job *queuex.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[job.ID]; !ok {
		return queuex.NewNotFound(job.ID)
	}
	cp := job.Clone()
	cp.UpdatedAt = time.Now().UTC()
	s.jobs[cp.ID] = cp
	return nil
}

// ReleaseDelayed promotes every delayed job whose ExecuteAt has passed.
func (s *Store) ReleaseDelayed(_ context.Context) ([]*queuex.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	var released []*queuex.Job
	for _, j := range s.jobs {
		if j.Status != queuex.StatusDelayed {
			continue
		}
		if j.ExecuteAt != nil && j.ExecuteAt.After(now) {
			continue
		}
		j.Status = queuex.StatusPending
		j.UpdatedAt = now
		released = append(released, j.Clone())
	}

	sort.Slice(released, func(i, k int) bool {
		return readyBefore(released[i], released[k])
	})
	return released, nil
}

// Get retrieves a job by ID.
func (s *Store) Get(_ context.Context, jobID string) (*queuex.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok {
		return nil, queuex.NewNotFound(jobID)
	}
	return j.Clone(), nil
}

// Delete removes a job record entirely.
func (s *Store) Delete(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[jobID]; !ok {
		return queuex.NewNotFound(jobID)
	}
	delete(s.jobs, jobID)
	return nil
}

// Cancel terminally withdraws a non-terminal job. The record stays
// readable but the job is never reserved again.
func (s *Store) Cancel(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok {
		return queuex.NewNotFound(jobID)
	}
	if j.Status.Terminal() {
		return queuex.NewTerminal(jobID, j.Status)
	}
	j.Status = queuex.StatusCancelled
	j.UpdatedAt = time.Now().UTC()
	return nil
}

// Size counts jobs awaiting execution across all queues.
func (s *Store) Size(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, j := range s.jobs {
		if j.Status == queuex.StatusPending || j.Status == queuex.StatusDelayed {
			n++
		}
	}
	return n, nil
}

// SizeOf counts jobs awaiting execution on one queue.
func (s *Store) SizeOf(_ context.Context, queue string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, j := range s.jobs {
		if j.Queue != queue {
			continue
		}
		if j.Status == queuex.StatusPending || j.Status == queuex.StatusDelayed {
			n++
		}
	}
	return n, nil
}

// Clear wipes everything, dead-letter store included.
func (s *Store) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.jobs = make(map[string]*queuex.Job)
	return nil
}

// ClearQueue drops the pending and delayed jobs of one queue. Jobs being
// processed and dead-lettered jobs are left alone.
func (s *Store) ClearQueue(_ context.Context, queue string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, j := range s.jobs {
		if j.Queue != queue {
			continue
		}
		if j.Status == queuex.StatusPending || j.Status == queuex.StatusDelayed {
			delete(s.jobs, id)
		}
	}
	return nil
}

// ListFailed returns dead-lettered jobs, most recently failed first.
func (s *Store) ListFailed(_ context.Context) ([]*queuex.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var failed []*queuex.Job
	for _, j := range s.jobs {
		if j.Status == queuex.StatusFailed {
			failed = append(failed, j.Clone())
		}
	}
	sort.Slice(failed, func(i, k int) bool {
		return failed[i].UpdatedAt.After(failed[k].UpdatedAt)
	})
	return failed, nil
}

// Ping always succeeds for the in-process backend.
func (s *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the in-process backend.
func (s *Store) Close() error { return nil }
