package queuex

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Abraxas-365/conveyor/pkg/asyncx"
	"github.com/Abraxas-365/conveyor/pkg/logx"
)

// HandlerFunc processes a job's payload. Return nil on success, an error
// to trigger the retry/dead-letter policy.
type HandlerFunc func(ctx context.Context, job *Job) error

// Client is the worker engine: it registers handlers by job type and runs
// polling loops that reserve and process jobs.
type Client struct {
	backend  Backend
	opts     WorkerOptions
	handlers map[string]HandlerFunc
	mu       sync.RWMutex
	running  bool
}

// NewClient creates a worker client over the given backend.
func NewClient(backend Backend, options ...WorkerOption) *Client {
	opts := defaultWorkerOptions()
	for _, o := range options {
		o(&opts)
	}
	return &Client{
		backend:  backend,
		opts:     opts,
		handlers: make(map[string]HandlerFunc),
	}
}

// Register adds a handler for a given job type.
func (c *Client) Register(jobType string, handler HandlerFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[jobType] = handler
}

// Start begins processing jobs. It blocks until ctx is cancelled, then
// drains: loops finish the job they are processing and exit between
// sweeps.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return queuexErrors.New(ErrAlreadyRunning)
	}
	c.running = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	logx.Infof("queuex: starting %d workers on queues %v", c.opts.Concurrency, c.opts.Queues)

	var wg sync.WaitGroup
	for i := 0; i < c.opts.Concurrency; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			c.workerLoop(ctx, id)
		}(i)
	}

	<-ctx.Done()
	logx.Info("queuex: shutting down workers...")

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logx.Info("queuex: all workers stopped")
	case <-time.After(c.opts.ShutdownTimeout):
		logx.Warn("queuex: shutdown timed out, some jobs may not have completed")
	}

	return nil
}

// workerLoop is one concurrency slot: sweep the configured queues in
// order, process the first job found, restart the sweep. An empty sweep
// promotes due delayed jobs and sleeps for the poll interval — the
// engine's backpressure when no work is available.
func (c *Client) workerLoop(ctx context.Context, id int) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := c.reserveNext(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// Backend connectivity trouble aborts the sweep; back off
			// before trying again.
			logx.WithError(err).Warnf("queuex: worker %d reserve error", id)
			c.sleep(ctx, c.opts.PollInterval)
			continue
		}

		if job == nil {
			if _, relErr := c.backend.ReleaseDelayed(ctx); relErr != nil && ctx.Err() == nil {
				logx.WithError(relErr).Warn("queuex: failed to release delayed jobs")
			}
			c.sleep(ctx, c.opts.PollInterval)
			continue
		}

		c.processJob(ctx, job)
	}
}

// reserveNext sweeps the configured queues in descending priority order
// and returns the first reservation, or nil when every queue is empty.
func (c *Client) reserveNext(ctx context.Context) (*Job, error) {
	for _, queue := range c.opts.Queues {
		job, err := c.backend.Reserve(ctx, queue)
		if err != nil {
			return nil, err
		}
		if job != nil {
			return job, nil
		}
	}
	return nil, nil
}

func (c *Client) processJob(ctx context.Context, job *Job) {
	// The in-flight job must finish and record its outcome even while
	// Start's context is being cancelled for shutdown.
	detached := context.WithoutCancel(ctx)

	c.mu.RLock()
	handler, ok := c.handlers[job.Type]
	c.mu.RUnlock()

	if !ok {
		c.failUnhandled(detached, job)
		return
	}

	timeout := job.Timeout
	if timeout <= 0 {
		timeout = c.opts.DefaultTimeout
	}

	// Race the handler against the job timeout. A handler that loses the
	// race keeps running unobserved; its eventual result is discarded.
	// If it later succeeds after the job was retried, the work runs
	// twice — at-least-once delivery, not exactly-once.
	_, err := asyncx.WithTimeout(detached, timeout, func(hctx context.Context) (struct{}, error) {
		return struct{}{}, handler(hctx, job)
	})
	if err == nil {
		if cErr := c.backend.Complete(detached, job.ID); cErr != nil {
			logx.WithError(cErr).Errorf("queuex: failed to complete job %s", job.ID)
		}
		return
	}

	reason := err.Error()
	if errors.Is(err, context.DeadlineExceeded) {
		reason = queuexErrors.NewWithMessage(ErrTimeout,
			fmt.Sprintf("handler did not finish within %s", timeout)).Error()
	}
	logx.WithField("job_id", job.ID).WithField("type", job.Type).
		Warnf("queuex: job failed: %s", reason)

	if job.CanRetry() {
		c.retry(detached, job, reason)
		return
	}

	if fErr := c.backend.Fail(detached, job.ID, reason); fErr != nil {
		logx.WithError(fErr).Errorf("queuex: failed to dead-letter job %s", job.ID)
	}
}

// failUnhandled dead-letters a job whose type has no handler. This is a
// configuration defect, not a transient failure: the reservation's
// attempt is rolled back so none is consumed, and the job is never
// retried.
func (c *Client) failUnhandled(ctx context.Context, job *Job) {
	logx.Warnf("queuex: no handler for job type %q (id=%s)", job.Type, job.ID)

	job.Attempts--
	job.UpdatedAt = time.Now().UTC()
	if err := c.backend.Update(ctx, job); err != nil {
		logx.WithError(err).Errorf("queuex: failed to restore attempts for job %s", job.ID)
	}
	reason := queuexErrors.NewWithMessage(ErrNoHandler,
		fmt.Sprintf("no handler registered for job type %q", job.Type)).Error()
	if err := c.backend.Fail(ctx, job.ID, reason); err != nil {
		logx.WithError(err).Errorf("queuex: failed to dead-letter job %s", job.ID)
	}
}

func (c *Client) retry(ctx context.Context, job *Job, reason string) {
	job.LastError = reason
	job.UpdatedAt = time.Now().UTC()

	if c.opts.RetryDelay > 0 {
		at := time.Now().UTC().Add(c.opts.RetryDelay)
		job.ExecuteAt = &at
		job.Status = StatusDelayed
	} else {
		job.ExecuteAt = nil
		job.Status = StatusPending
	}

	if err := c.backend.Retry(ctx, job); err != nil {
		logx.WithError(err).Errorf("queuex: failed to retry job %s", job.ID)
	}
}

// sleep waits for d or until ctx is done, whichever comes first.
func (c *Client) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
