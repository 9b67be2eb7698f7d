package queuex_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Abraxas-365/conveyor/pkg/errx"
	"github.com/Abraxas-365/conveyor/pkg/queuex"
	"github.com/Abraxas-365/conveyor/pkg/queuex/queuexmemory"
)

// startClient runs the client until the test ends and returns a cancel
// to stop it early.
func startClient(t *testing.T, c *queuex.Client) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.Start(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return cancel
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func jobStatus(t *testing.T, b queuex.Backend, id string) queuex.Status {
	t.Helper()
	job, err := b.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get job %s: %v", id, err)
	}
	return job.Status
}

// jobGone reports whether the job no longer exists; completed jobs are
// removed from storage.
func jobGone(b queuex.Backend, id string) func() bool {
	return func() bool {
		_, err := b.Get(context.Background(), id)
		return queuex.IsNotFound(err)
	}
}

func TestClientProcessesJob(t *testing.T) {
	store := queuexmemory.New()
	m, _ := queuex.NewManager(store)

	var mu sync.Mutex
	var got json.RawMessage
	attempts := 0

	c := queuex.NewClient(store,
		queuex.WithConcurrency(1),
		queuex.WithPollInterval(10*time.Millisecond),
	)
	c.Register("email.send", func(_ context.Context, job *queuex.Job) error {
		mu.Lock()
		got = job.Payload
		attempts = job.Attempts
		mu.Unlock()
		return nil
	})
	startClient(t, c)

	id, err := m.Dispatch(context.Background(), queuex.NewJob("email.send", json.RawMessage(`{"to":"x"}`)))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	// Completion removes the job from storage.
	waitFor(t, jobGone(store, id))

	mu.Lock()
	defer mu.Unlock()
	if string(got) != `{"to":"x"}` {
		t.Errorf("handler saw payload %s", got)
	}
	if attempts != 1 {
		t.Errorf("expected the handler to see attempt 1, got %d", attempts)
	}
}

func TestClientPriorityOrder(t *testing.T) {
	store := queuexmemory.New()
	m, _ := queuex.NewManager(store)

	// All three pushed before the worker starts so a single loop drains
	// them strictly by priority.
	ctx := context.Background()
	for _, p := range []int{1, 5, 3} {
		job := queuex.NewJob("ranked", nil, queuex.WithPriority(p))
		if _, err := m.Dispatch(ctx, job); err != nil {
			t.Fatalf("dispatch: %v", err)
		}
	}

	var mu sync.Mutex
	var order []int

	c := queuex.NewClient(store,
		queuex.WithConcurrency(1),
		queuex.WithPollInterval(10*time.Millisecond),
	)
	c.Register("ranked", func(_ context.Context, job *queuex.Job) error {
		mu.Lock()
		order = append(order, job.Priority)
		mu.Unlock()
		return nil
	})
	startClient(t, c)

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 3
	})

	mu.Lock()
	defer mu.Unlock()
	want := []int{5, 3, 1}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expected priority order %v, got %v", want, order)
		}
	}
}

func TestClientQueueSweepOrder(t *testing.T) {
	store := queuexmemory.New()
	m, _ := queuex.NewManager(store)

	ctx := context.Background()
	if _, err := m.Dispatch(ctx, queuex.NewJob("task", nil, queuex.OnQueue("low"))); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if _, err := m.Dispatch(ctx, queuex.NewJob("task", nil, queuex.OnQueue("high"))); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	var mu sync.Mutex
	var order []string

	c := queuex.NewClient(store,
		queuex.WithQueues("high", "low"),
		queuex.WithConcurrency(1),
		queuex.WithPollInterval(10*time.Millisecond),
	)
	c.Register("task", func(_ context.Context, job *queuex.Job) error {
		mu.Lock()
		order = append(order, job.Queue)
		mu.Unlock()
		return nil
	})
	startClient(t, c)

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 2
	})

	mu.Lock()
	defer mu.Unlock()
	if order[0] != "high" || order[1] != "low" {
		t.Errorf("expected high before low, got %v", order)
	}
}

func TestClientRetriesThenDeadLetters(t *testing.T) {
	store := queuexmemory.New()
	m, _ := queuex.NewManager(store)

	var mu sync.Mutex
	calls := 0

	c := queuex.NewClient(store,
		queuex.WithConcurrency(1),
		queuex.WithPollInterval(10*time.Millisecond),
	)
	c.Register("flaky", func(_ context.Context, _ *queuex.Job) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return errors.New("downstream unavailable")
	})
	startClient(t, c)

	job := queuex.NewJob("flaky", nil, queuex.WithMaxAttempts(2))
	id, err := m.Dispatch(context.Background(), job)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	waitFor(t, func() bool { return jobStatus(t, store, id) == queuex.StatusFailed })

	mu.Lock()
	if calls != 2 {
		t.Errorf("expected 2 handler calls, got %d", calls)
	}
	mu.Unlock()

	stored, err := store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if stored.Attempts != 2 {
		t.Errorf("expected 2 attempts recorded, got %d", stored.Attempts)
	}
	if stored.LastError != "downstream unavailable" {
		t.Errorf("expected last error recorded, got %q", stored.LastError)
	}

	failed, err := store.ListFailed(context.Background())
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(failed) != 1 || failed[0].ID != id {
		t.Errorf("expected the job in the dead-letter store, got %v", failed)
	}
}

func TestClientUnhandledTypeConsumesNoAttempt(t *testing.T) {
	store := queuexmemory.New()
	m, _ := queuex.NewManager(store)

	c := queuex.NewClient(store,
		queuex.WithConcurrency(1),
		queuex.WithPollInterval(10*time.Millisecond),
	)
	// No handler registered for "orphan".
	startClient(t, c)

	id, err := m.Dispatch(context.Background(), queuex.NewJob("orphan", nil))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	waitFor(t, func() bool { return jobStatus(t, store, id) == queuex.StatusFailed })

	stored, err := store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if stored.Attempts != 0 {
		t.Errorf("missing handler must not consume an attempt, got %d", stored.Attempts)
	}
	if !strings.Contains(stored.LastError, "QUEUEX_NO_HANDLER") {
		t.Errorf("expected the no-handler error code in the reason, got %q", stored.LastError)
	}
}

func TestClientTimesOutSlowHandler(t *testing.T) {
	store := queuexmemory.New()
	m, _ := queuex.NewManager(store)

	c := queuex.NewClient(store,
		queuex.WithConcurrency(1),
		queuex.WithPollInterval(10*time.Millisecond),
	)
	c.Register("slow", func(ctx context.Context, _ *queuex.Job) error {
		<-ctx.Done()
		return ctx.Err()
	})
	startClient(t, c)

	job := queuex.NewJob("slow", nil,
		queuex.WithTimeout(50*time.Millisecond),
		queuex.WithMaxAttempts(1),
	)
	id, err := m.Dispatch(context.Background(), job)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	waitFor(t, func() bool { return jobStatus(t, store, id) == queuex.StatusFailed })

	stored, err := store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if !strings.Contains(stored.LastError, "QUEUEX_TIMEOUT") {
		t.Errorf("expected the timeout error code in the reason, got %q", stored.LastError)
	}
}

func TestClientRunsDelayedJob(t *testing.T) {
	store := queuexmemory.New()
	m, _ := queuex.NewManager(store)

	var mu sync.Mutex
	ran := false

	c := queuex.NewClient(store,
		queuex.WithConcurrency(1),
		queuex.WithPollInterval(10*time.Millisecond),
	)
	c.Register("later", func(_ context.Context, _ *queuex.Job) error {
		mu.Lock()
		ran = true
		mu.Unlock()
		return nil
	})
	startClient(t, c)

	job := queuex.NewJob("later", nil, queuex.WithDelay(60*time.Millisecond))
	id, err := m.Dispatch(context.Background(), job)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	// Still delayed right after dispatch.
	if s := jobStatus(t, store, id); s != queuex.StatusDelayed {
		t.Fatalf("expected delayed, got %q", s)
	}

	waitFor(t, jobGone(store, id))

	mu.Lock()
	defer mu.Unlock()
	if !ran {
		t.Error("expected the delayed job to run after its delay")
	}
}

func TestClientRetryDelayPostponesRetry(t *testing.T) {
	store := queuexmemory.New()
	m, _ := queuex.NewManager(store)

	var mu sync.Mutex
	calls := 0

	c := queuex.NewClient(store,
		queuex.WithConcurrency(1),
		queuex.WithPollInterval(10*time.Millisecond),
		queuex.WithRetryDelay(80*time.Millisecond),
	)
	c.Register("flaky", func(_ context.Context, _ *queuex.Job) error {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			return errors.New("first try fails")
		}
		return nil
	})
	startClient(t, c)

	job := queuex.NewJob("flaky", nil, queuex.WithMaxAttempts(2))
	id, err := m.Dispatch(context.Background(), job)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	// After the first failure the job must sit in the delayed set.
	waitFor(t, func() bool {
		job, err := store.Get(context.Background(), id)
		return err == nil && job.Status == queuex.StatusDelayed
	})
	waitFor(t, jobGone(store, id))

	mu.Lock()
	defer mu.Unlock()
	if calls != 2 {
		t.Errorf("expected 2 handler calls, got %d", calls)
	}
}

func TestClientStartTwiceFails(t *testing.T) {
	store := queuexmemory.New()
	c := queuex.NewClient(store,
		queuex.WithConcurrency(1),
		queuex.WithPollInterval(10*time.Millisecond),
	)
	startClient(t, c)

	// Give the first Start a moment to mark itself running.
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	err := c.Start(ctx)
	if err == nil {
		t.Fatal("expected an error starting a running client")
	}
	if !errx.IsCode(err, queuex.ErrAlreadyRunning) {
		t.Errorf("expected ALREADY_RUNNING, got %v", err)
	}
}
