package queuex

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Status represents the current state of a job.
type Status string

const (
	// StatusPending means the job sits in its queue's ready set.
	StatusPending Status = "pending"
	// StatusDelayed means the job waits in the delayed set until ExecuteAt.
	StatusDelayed Status = "delayed"
	// StatusProcessing means a worker holds a lease on the job.
	StatusProcessing Status = "processing"
	// StatusCompleted is terminal success; completed jobs are removed
	// from storage rather than kept in this state.
	StatusCompleted Status = "completed"
	// StatusFailed is terminal failure; the job lives in the dead-letter store.
	StatusFailed Status = "failed"
	// StatusCancelled is terminal; the job was withdrawn before completion.
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status can never be left again.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Defaults applied by NewJob and the Manager.
const (
	DefaultQueue       = "default"
	DefaultMaxAttempts = 3
	DefaultTimeout     = time.Minute
)

// Job is a unit of asynchronous work plus its execution metadata.
// The engine never inspects Payload — handlers interpret it.
type Job struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Queue       string          `json:"queue"`
	Payload     json.RawMessage `json:"payload"`
	Priority    int             `json:"priority"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	Timeout     time.Duration   `json:"timeout"`
	Status      Status          `json:"status"`
	LastError   string          `json:"last_error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	ExecuteAt   *time.Time      `json:"execute_at,omitempty"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// NewJob builds a job of the given type with defaults applied. The ID is
// assigned here and never reused.
func NewJob(jobType string, payload json.RawMessage, opts ...JobOption) *Job {
	now := time.Now().UTC()
	j := &Job{
		ID:          uuid.New().String(),
		Type:        jobType,
		Queue:       DefaultQueue,
		Payload:     payload,
		MaxAttempts: DefaultMaxAttempts,
		Timeout:     DefaultTimeout,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	for _, o := range opts {
		o(j)
	}
	return j
}

// ShouldExecute reports whether the job is eligible for reservation now.
func (j *Job) ShouldExecute() bool {
	return j.ExecuteAt == nil || !j.ExecuteAt.After(time.Now().UTC())
}

// CanRetry reports whether the job has attempts remaining.
func (j *Job) CanRetry() bool {
	return j.Attempts < j.MaxAttempts
}

// Clone returns a deep copy; backends hand out clones so callers never
// share memory with stored state.
func (j *Job) Clone() *Job {
	cp := *j
	if j.Payload != nil {
		cp.Payload = append(json.RawMessage(nil), j.Payload...)
	}
	if j.ExecuteAt != nil {
		t := *j.ExecuteAt
		cp.ExecuteAt = &t
	}
	return &cp
}

// Encode serializes a job for storage.
func Encode(j *Job) ([]byte, error) {
	data, err := json.Marshal(j)
	if err != nil {
		return nil, queuexErrors.NewWithCause(ErrMarshal, err).WithDetail("job_id", j.ID)
	}
	return data, nil
}

// Decode deserializes a stored job. Encode then Decode round-trips.
func Decode(data []byte) (*Job, error) {
	var j Job
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, queuexErrors.NewWithCause(ErrUnmarshal, err)
	}
	return &j, nil
}
