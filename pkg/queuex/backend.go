package queuex

import "context"

// Enqueuer inserts jobs into a queue's ready or delayed set.
type Enqueuer interface {
	// Push stores the job and makes it visible in its queue's ready set,
	// or in the delayed set when ExecuteAt lies in the future.
	Push(ctx context.Context, job *Job) error
}

// Processor provides the operations the worker loop drives jobs through.
// The backend is the sole authority for queue membership; workers only
// hold the transient lease implied by a successful Reserve.
type Processor interface {
	// Reserve atomically removes and returns the highest-priority,
	// earliest-created eligible job from the named queue, marks it
	// Processing, and increments Attempts. Under N concurrent callers a
	// given job is returned to at most one of them. Returns (nil, nil)
	// when the queue is empty.
	Reserve(ctx context.Context, queue string) (*Job, error)

	// Complete acknowledges terminal success and removes the job from
	// storage.
	Complete(ctx context.Context, jobID string) error

	// Fail marks terminal failure and moves the job into the dead-letter
	// store with LastError set.
	Fail(ctx context.Context, jobID string, reason string) error

	// Retry re-inserts the caller's job copy (Attempts already counted by
	// the reservation) into the ready set, or the delayed set when
	// ExecuteAt lies in the future.
	Retry(ctx context.Context, job *Job) error

	// Update persists the caller's copy of a job it holds a lease on.
	Update(ctx context.Context, job *Job) error

	// ReleaseDelayed moves every delayed job whose ExecuteAt has passed
	// into its queue's ready set and returns the promoted jobs.
	// Idempotent; safe to call from any number of processes.
	ReleaseDelayed(ctx context.Context) ([]*Job, error)
}

// Inspector exposes lookup, deletion, and sizing for producers and
// operators.
type Inspector interface {
	Get(ctx context.Context, jobID string) (*Job, error)
	Delete(ctx context.Context, jobID string) error

	// Cancel terminally withdraws a non-terminal job, removing it from
	// the ready/delayed sets while keeping the record for inspection.
	Cancel(ctx context.Context, jobID string) error

	// Size counts jobs awaiting execution (ready + delayed) across all
	// queues; SizeOf restricts the count to one queue.
	Size(ctx context.Context) (int, error)
	SizeOf(ctx context.Context, queue string) (int, error)

	// Clear wipes the backend; ClearQueue drops the pending and delayed
	// jobs of one queue, leaving the dead-letter store untouched.
	Clear(ctx context.Context) error
	ClearQueue(ctx context.Context, queue string) error

	// ListFailed returns the dead-letter store, most recent first.
	ListFailed(ctx context.Context) ([]*Job, error)
}

// Backend combines all storage operations plus lifecycle.
type Backend interface {
	Enqueuer
	Processor
	Inspector

	Ping(ctx context.Context) error
	Close() error
}
