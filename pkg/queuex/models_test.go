package queuex_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/Abraxas-365/conveyor/pkg/queuex"
)

func TestNewJobDefaults(t *testing.T) {
	job := queuex.NewJob("email.send", json.RawMessage(`{"to":"a@b.c"}`))

	if job.ID == "" {
		t.Fatal("expected a generated ID")
	}
	if job.Queue != queuex.DefaultQueue {
		t.Errorf("expected queue %q, got %q", queuex.DefaultQueue, job.Queue)
	}
	if job.MaxAttempts != queuex.DefaultMaxAttempts {
		t.Errorf("expected max attempts %d, got %d", queuex.DefaultMaxAttempts, job.MaxAttempts)
	}
	if job.Timeout != queuex.DefaultTimeout {
		t.Errorf("expected timeout %s, got %s", queuex.DefaultTimeout, job.Timeout)
	}
	if job.Status != queuex.StatusPending {
		t.Errorf("expected status %q, got %q", queuex.StatusPending, job.Status)
	}
	if job.Attempts != 0 {
		t.Errorf("expected zero attempts, got %d", job.Attempts)
	}
}

func TestNewJobOptions(t *testing.T) {
	job := queuex.NewJob("report.build", nil,
		queuex.OnQueue("reports"),
		queuex.WithPriority(7),
		queuex.WithMaxAttempts(5),
		queuex.WithTimeout(10*time.Second),
	)

	if job.Queue != "reports" {
		t.Errorf("expected queue reports, got %q", job.Queue)
	}
	if job.Priority != 7 {
		t.Errorf("expected priority 7, got %d", job.Priority)
	}
	if job.MaxAttempts != 5 {
		t.Errorf("expected max attempts 5, got %d", job.MaxAttempts)
	}
	if job.Timeout != 10*time.Second {
		t.Errorf("expected timeout 10s, got %s", job.Timeout)
	}
}

func TestNewJobWithDelay(t *testing.T) {
	job := queuex.NewJob("cleanup", nil, queuex.WithDelay(time.Hour))

	if job.Status != queuex.StatusDelayed {
		t.Fatalf("expected status delayed, got %q", job.Status)
	}
	if job.ExecuteAt == nil {
		t.Fatal("expected ExecuteAt to be set")
	}
	if got, want := *job.ExecuteAt, job.CreatedAt.Add(time.Hour); !got.Equal(want) {
		t.Errorf("expected ExecuteAt %s, got %s", want, got)
	}
	if job.ShouldExecute() {
		t.Error("delayed job should not be eligible yet")
	}
}

func TestNewJobWithDelayZeroIsNoop(t *testing.T) {
	job := queuex.NewJob("cleanup", nil, queuex.WithDelay(0))

	if job.Status != queuex.StatusPending {
		t.Errorf("expected status pending, got %q", job.Status)
	}
	if job.ExecuteAt != nil {
		t.Error("expected nil ExecuteAt for zero delay")
	}
}

func TestShouldExecute(t *testing.T) {
	past := time.Now().UTC().Add(-time.Minute)
	future := time.Now().UTC().Add(time.Minute)

	cases := []struct {
		name string
		at   *time.Time
		want bool
	}{
		{"no execute time", nil, true},
		{"past execute time", &past, true},
		{"future execute time", &future, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			j := &queuex.Job{ExecuteAt: tc.at}
			if got := j.ShouldExecute(); got != tc.want {
				t.Errorf("ShouldExecute() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestCanRetry(t *testing.T) {
	j := &queuex.Job{Attempts: 2, MaxAttempts: 3}
	if !j.CanRetry() {
		t.Error("expected job with attempts remaining to be retryable")
	}
	j.Attempts = 3
	if j.CanRetry() {
		t.Error("expected exhausted job not to be retryable")
	}
}

func TestCloneIsDeep(t *testing.T) {
	at := time.Now().UTC().Add(time.Minute)
	j := queuex.NewJob("x", json.RawMessage(`{"n":1}`))
	j.ExecuteAt = &at

	cp := j.Clone()
	cp.Payload[0] = '!'
	*cp.ExecuteAt = cp.ExecuteAt.Add(time.Hour)

	if j.Payload[0] == '!' {
		t.Error("clone shares payload memory with the original")
	}
	if !j.ExecuteAt.Equal(at) {
		t.Error("clone shares ExecuteAt memory with the original")
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	at := time.Now().UTC().Truncate(time.Second).Add(time.Minute)
	job := queuex.NewJob("invoice.generate", json.RawMessage(`{"id":42}`),
		queuex.OnQueue("billing"),
		queuex.WithPriority(3),
	)
	job.ExecuteAt = &at
	job.LastError = "boom"

	data, err := queuex.Encode(job)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := queuex.Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if got.ID != job.ID || got.Type != job.Type || got.Queue != job.Queue {
		t.Errorf("identity fields did not round-trip: %+v", got)
	}
	if got.Priority != 3 || got.LastError != "boom" {
		t.Errorf("metadata did not round-trip: %+v", got)
	}
	if got.ExecuteAt == nil || !got.ExecuteAt.Equal(at) {
		t.Errorf("ExecuteAt did not round-trip: %v", got.ExecuteAt)
	}
	if string(got.Payload) != `{"id":42}` {
		t.Errorf("payload did not round-trip: %s", got.Payload)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, err := queuex.Decode([]byte("not json")); err == nil {
		t.Fatal("expected an error decoding garbage")
	}
}

func TestStatusTerminal(t *testing.T) {
	terminal := []queuex.Status{queuex.StatusCompleted, queuex.StatusFailed, queuex.StatusCancelled}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("expected %q to be terminal", s)
		}
	}
	live := []queuex.Status{queuex.StatusPending, queuex.StatusDelayed, queuex.StatusProcessing}
	for _, s := range live {
		if s.Terminal() {
			t.Errorf("expected %q not to be terminal", s)
		}
	}
}
