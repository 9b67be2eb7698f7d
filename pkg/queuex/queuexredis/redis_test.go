package queuexredis_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/Abraxas-365/conveyor/pkg/queuex"
	"github.com/Abraxas-365/conveyor/pkg/queuex/queuexredis"
)

func newTestQueue(t *testing.T) *queuexredis.Queue {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return queuexredis.New(rdb)
}

// pushDue stores a delayed job whose execute time already passed.
func pushDue(t *testing.T, q *queuexredis.Queue) *queuex.Job {
	t.Helper()
	at := time.Now().UTC().Add(-time.Minute)
	job := queuex.NewJob("work", nil)
	job.ExecuteAt = &at
	job.Status = queuex.StatusDelayed
	if err := q.Push(context.Background(), job); err != nil {
		t.Fatalf("push: %v", err)
	}
	return job
}

func TestPushReserveRoundTrip(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	job := queuex.NewJob("work", nil)
	if err := q.Push(ctx, job); err != nil {
		t.Fatalf("push: %v", err)
	}

	got, err := q.Reserve(ctx, queuex.DefaultQueue)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if got == nil || got.ID != job.ID {
		t.Fatalf("expected job %s, got %v", job.ID, got)
	}
	if got.Status != queuex.StatusProcessing || got.Attempts != 1 {
		t.Errorf("expected processing with 1 attempt, got %q/%d", got.Status, got.Attempts)
	}

	again, err := q.Reserve(ctx, queuex.DefaultQueue)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if again != nil {
		t.Errorf("expected nil from an empty queue, got %v", again)
	}
}

func TestReleaseDelayedPromotesDueJob(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)
	job := pushDue(t, q)

	released, err := q.ReleaseDelayed(ctx)
	if err != nil {
		t.Fatalf("release delayed: %v", err)
	}
	if len(released) != 1 || released[0].ID != job.ID {
		t.Fatalf("expected the due job released, got %v", released)
	}
	if released[0].Status != queuex.StatusPending {
		t.Errorf("expected released job pending, got %q", released[0].Status)
	}

	got, err := q.Reserve(ctx, queuex.DefaultQueue)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if got == nil || got.ID != job.ID {
		t.Fatalf("expected to reserve the released job, got %v", got)
	}
}

// TestReleaseDelayedConcurrentSingleDelivery races two releasers against
// a reserving worker. The promotion claim must guarantee the job is
// handed out exactly once no matter how the scans interleave.
func TestReleaseDelayedConcurrentSingleDelivery(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	for i := 0; i < 25; i++ {
		job := pushDue(t, q)

		var wg sync.WaitGroup
		start := make(chan struct{})
		for n := 0; n < 2; n++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				if _, err := q.ReleaseDelayed(ctx); err != nil {
					t.Errorf("release delayed: %v", err)
				}
			}()
		}

		delivered := make(chan int, 1)
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			n := 0
			for attempt := 0; attempt < 30; attempt++ {
				j, err := q.Reserve(ctx, queuex.DefaultQueue)
				if err != nil {
					t.Errorf("reserve: %v", err)
					break
				}
				if j != nil {
					n++
				}
				time.Sleep(time.Millisecond)
			}
			delivered <- n
		}()

		close(start)
		wg.Wait()

		// Drain whatever is left after all racers settled.
		n := <-delivered
		for {
			j, err := q.Reserve(ctx, queuex.DefaultQueue)
			if err != nil {
				t.Fatalf("reserve: %v", err)
			}
			if j == nil {
				break
			}
			n++
		}
		if n != 1 {
			t.Fatalf("iteration %d: job delivered %d times", i, n)
		}

		if err := q.Delete(ctx, job.ID); err != nil {
			t.Fatalf("delete: %v", err)
		}
	}
}

func TestReleaseDelayedLeavesFutureJobs(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	job := queuex.NewJob("work", nil, queuex.WithDelay(time.Hour))
	if err := q.Push(ctx, job); err != nil {
		t.Fatalf("push: %v", err)
	}

	released, err := q.ReleaseDelayed(ctx)
	if err != nil {
		t.Fatalf("release delayed: %v", err)
	}
	if len(released) != 0 {
		t.Errorf("expected nothing released, got %v", released)
	}

	n, err := q.SizeOf(ctx, queuex.DefaultQueue)
	if err != nil {
		t.Fatalf("size of: %v", err)
	}
	if n != 1 {
		t.Errorf("expected the job still delayed, size = %d", n)
	}
}

func TestCompleteRemovesRecord(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	job := queuex.NewJob("work", nil)
	if err := q.Push(ctx, job); err != nil {
		t.Fatalf("push: %v", err)
	}
	if _, err := q.Reserve(ctx, queuex.DefaultQueue); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := q.Complete(ctx, job.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}

	if _, err := q.Get(ctx, job.ID); !queuex.IsNotFound(err) {
		t.Errorf("expected not-found after completion, got %v", err)
	}
	n, err := q.Size(ctx)
	if err != nil {
		t.Fatalf("size: %v", err)
	}
	if n != 0 {
		t.Errorf("expected nothing awaiting execution, got %d", n)
	}
}

func TestFailMovesToDeadLetter(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	job := queuex.NewJob("work", nil)
	if err := q.Push(ctx, job); err != nil {
		t.Fatalf("push: %v", err)
	}
	if _, err := q.Reserve(ctx, queuex.DefaultQueue); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := q.Fail(ctx, job.ID, "exploded"); err != nil {
		t.Fatalf("fail: %v", err)
	}

	failed, err := q.ListFailed(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(failed) != 1 || failed[0].ID != job.ID {
		t.Fatalf("expected the job dead-lettered, got %v", failed)
	}
	if failed[0].LastError != "exploded" {
		t.Errorf("expected reason recorded, got %q", failed[0].LastError)
	}

	// Failed jobs stay readable but are never handed out again.
	if j, err := q.Reserve(ctx, queuex.DefaultQueue); err != nil || j != nil {
		t.Errorf("expected empty reserve, got (%v, %v)", j, err)
	}
}

func TestReserveSkipsStaleEntries(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	job := queuex.NewJob("work", nil)
	if err := q.Push(ctx, job); err != nil {
		t.Fatalf("push: %v", err)
	}

	// Rewrite the record as processing while its ready-set entry lingers.
	job.Status = queuex.StatusProcessing
	if err := q.Update(ctx, job); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := q.Reserve(ctx, queuex.DefaultQueue)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if got != nil {
		t.Errorf("expected the stale entry skipped, got %v", got)
	}
}
