package queuex

import "time"

// JobOption configures a job at construction time.
type JobOption func(*Job)

// OnQueue places the job on a named queue instead of the default.
func OnQueue(name string) JobOption {
	return func(j *Job) {
		if name != "" {
			j.Queue = name
		}
	}
}

// WithPriority sets the job priority. Higher values are dequeued first
// within a queue.
func WithPriority(p int) JobOption {
	return func(j *Job) {
		j.Priority = p
	}
}

// WithMaxAttempts sets the ceiling on processing attempts.
func WithMaxAttempts(n int) JobOption {
	return func(j *Job) {
		if n > 0 {
			j.MaxAttempts = n
		}
	}
}

// WithTimeout bounds a single handler invocation for this job.
func WithTimeout(d time.Duration) JobOption {
	return func(j *Job) {
		if d > 0 {
			j.Timeout = d
		}
	}
}

// WithDelay makes the job invisible to reservation until now+delay.
func WithDelay(delay time.Duration) JobOption {
	return func(j *Job) {
		if delay <= 0 {
			return
		}
		at := j.CreatedAt.Add(delay)
		j.ExecuteAt = &at
		j.Status = StatusDelayed
	}
}

// WithExecuteAt makes the job invisible to reservation before at.
// Times before the job's creation are ignored.
func WithExecuteAt(at time.Time) JobOption {
	return func(j *Job) {
		at = at.UTC()
		if at.Before(j.CreatedAt) {
			return
		}
		j.ExecuteAt = &at
		j.Status = StatusDelayed
	}
}

// WorkerOptions configures the worker client.
type WorkerOptions struct {
	Queues          []string
	Concurrency     int
	PollInterval    time.Duration
	ShutdownTimeout time.Duration
	RetryDelay      time.Duration
	DefaultTimeout  time.Duration
}

func defaultWorkerOptions() WorkerOptions {
	return WorkerOptions{
		Queues:          []string{DefaultQueue},
		Concurrency:     4,
		PollInterval:    time.Second,
		ShutdownTimeout: 30 * time.Second,
		RetryDelay:      0,
		DefaultTimeout:  DefaultTimeout,
	}
}

// WorkerOption is a functional option for configuring the client.
type WorkerOption func(*WorkerOptions)

// WithQueues sets the queues to sweep, in descending priority order.
// Queues earlier in the list are always drained first.
func WithQueues(queues ...string) WorkerOption {
	return func(o *WorkerOptions) {
		if len(queues) > 0 {
			o.Queues = queues
		}
	}
}

// WithConcurrency sets the number of polling loops.
func WithConcurrency(n int) WorkerOption {
	return func(o *WorkerOptions) {
		if n > 0 {
			o.Concurrency = n
		}
	}
}

// WithPollInterval sets how long an idle loop sleeps after an empty sweep.
func WithPollInterval(d time.Duration) WorkerOption {
	return func(o *WorkerOptions) {
		if d > 0 {
			o.PollInterval = d
		}
	}
}

// WithShutdownTimeout caps the graceful drain on shutdown.
func WithShutdownTimeout(d time.Duration) WorkerOption {
	return func(o *WorkerOptions) {
		if d > 0 {
			o.ShutdownTimeout = d
		}
	}
}

// WithRetryDelay postpones retried jobs by d instead of retrying
// immediately. The baseline behavior (zero) retries at once.
func WithRetryDelay(d time.Duration) WorkerOption {
	return func(o *WorkerOptions) {
		if d >= 0 {
			o.RetryDelay = d
		}
	}
}

// WithDefaultTimeout bounds handlers for jobs that carry no timeout of
// their own.
func WithDefaultTimeout(d time.Duration) WorkerOption {
	return func(o *WorkerOptions) {
		if d > 0 {
			o.DefaultTimeout = d
		}
	}
}
