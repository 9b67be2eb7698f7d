package queuex

import "github.com/Abraxas-365/conveyor/pkg/errx"

var queuexErrors = errx.NewRegistry("QUEUEX")

var (
	ErrConfig         = queuexErrors.Register("CONFIG", errx.TypeValidation, "Invalid queue configuration")
	ErrNotFound       = queuexErrors.Register("NOT_FOUND", errx.TypeNotFound, "Job not found")
	ErrInvalidJob     = queuexErrors.Register("INVALID_JOB", errx.TypeValidation, "Invalid job definition")
	ErrMarshal        = queuexErrors.Register("MARSHAL", errx.TypeInternal, "Failed to encode job")
	ErrUnmarshal      = queuexErrors.Register("UNMARSHAL", errx.TypeInternal, "Failed to decode job")
	ErrNoHandler      = queuexErrors.Register("NO_HANDLER", errx.TypeValidation, "No handler registered for job type")
	ErrTimeout        = queuexErrors.Register("TIMEOUT", errx.TypeBusiness, "Handler did not finish within the job timeout")
	ErrTerminalJob    = queuexErrors.Register("TERMINAL_JOB", errx.TypeConflict, "Job is already in a terminal state")
	ErrAlreadyRunning = queuexErrors.Register("ALREADY_RUNNING", errx.TypeConflict, "Worker is already running")
)

// IsNotFound reports whether err is the engine's not-found error.
func IsNotFound(err error) bool {
	return errx.IsCode(err, ErrNotFound)
}

// NewNotFound builds the canonical not-found error for a job ID. Every
// backend returns this for unknown IDs so callers get one error shape
// regardless of storage.
func NewNotFound(jobID string) *errx.Error {
	return queuexErrors.New(ErrNotFound).WithDetail("job_id", jobID)
}

// NewTerminal builds the canonical error for an operation on a job that
// already reached a terminal state.
func NewTerminal(jobID string, status Status) *errx.Error {
	return queuexErrors.New(ErrTerminalJob).
		WithDetail("job_id", jobID).
		WithDetail("status", string(status))
}
