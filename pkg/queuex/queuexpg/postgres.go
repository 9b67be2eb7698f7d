// Package queuexpg provides the networked queue backend on Postgres.
// Reservation is a single UPDATE over a FOR UPDATE SKIP LOCKED subselect,
// so concurrent workers on independent connections never claim the same
// row.
package queuexpg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/Abraxas-365/conveyor/pkg/queuex"
)

var _ queuex.Backend = (*Queue)(nil)

// Queue implements queuex.Backend backed by Postgres.
type Queue struct {
	db *sqlx.DB
}

// New creates a Postgres-backed queue over an open connection pool.
func New(db *sqlx.DB) *Queue {
	return &Queue{db: db}
}

// Migrate creates the jobs table and its indexes if they do not exist.
func (q *Queue) Migrate(ctx context.Context) error {
	if _, err := q.db.ExecContext(ctx, schema); err != nil {
		return pgErrors.NewWithCause(ErrMigrate, err)
	}
	return nil
}

// jobRow is the table representation of a queuex.Job.
type jobRow struct {
	ID          string     `db:"id"`
	JobType     string     `db:"job_type"`
	Queue       string     `db:"queue"`
	Payload     []byte     `db:"payload"`
	Priority    int        `db:"priority"`
	Attempts    int        `db:"attempts"`
	MaxAttempts int        `db:"max_attempts"`
	TimeoutNS   int64      `db:"timeout_ns"`
	Status      string     `db:"status"`
	LastError   string     `db:"last_error"`
	CreatedAt   time.Time  `db:"created_at"`
	ExecuteAt   *time.Time `db:"execute_at"`
	UpdatedAt   time.Time  `db:"updated_at"`
}

func toRow(j *queuex.Job) jobRow {
	return jobRow{
		ID:          j.ID,
		JobType:     j.Type,
		Queue:       j.Queue,
		Payload:     j.Payload,
		Priority:    j.Priority,
		Attempts:    j.Attempts,
		MaxAttempts: j.MaxAttempts,
		TimeoutNS:   int64(j.Timeout),
		Status:      string(j.Status),
		LastError:   j.LastError,
		CreatedAt:   j.CreatedAt,
		ExecuteAt:   j.ExecuteAt,
		UpdatedAt:   j.UpdatedAt,
	}
}

func (r jobRow) toJob() *queuex.Job {
	return &queuex.Job{
		ID:          r.ID,
		Type:        r.JobType,
		Queue:       r.Queue,
		Payload:     json.RawMessage(r.Payload),
		Priority:    r.Priority,
		Attempts:    r.Attempts,
		MaxAttempts: r.MaxAttempts,
		Timeout:     time.Duration(r.TimeoutNS),
		Status:      queuex.Status(r.Status),
		LastError:   r.LastError,
		CreatedAt:   r.CreatedAt,
		ExecuteAt:   r.ExecuteAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

const allColumns = `id, job_type, queue, payload, priority, attempts, max_attempts,
	timeout_ns, status, last_error, created_at, execute_at, updated_at`

// Push inserts the job row; re-pushing an existing ID overwrites it.
func (q *Queue) Push(ctx context.Context, job *queuex.Job) error {
	row := toRow(job)
	_, err := q.db.NamedExecContext(ctx, `
		INSERT INTO conveyor_jobs (`+allColumns+`)
		VALUES (:id, :job_type, :queue, :payload, :priority, :attempts, :max_attempts,
			:timeout_ns, :status, :last_error, :created_at, :execute_at, :updated_at)
		ON CONFLICT (id) DO UPDATE SET
			job_type = EXCLUDED.job_type, queue = EXCLUDED.queue,
			payload = EXCLUDED.payload, priority = EXCLUDED.priority,
			attempts = EXCLUDED.attempts, max_attempts = EXCLUDED.max_attempts,
			timeout_ns = EXCLUDED.timeout_ns, status = EXCLUDED.status,
			last_error = EXCLUDED.last_error, execute_at = EXCLUDED.execute_at,
			updated_at = EXCLUDED.updated_at`, row)
	if err != nil {
		return pgErrors.NewWithCause(ErrPush, err).WithDetail("queue", job.Queue)
	}
	return nil
}

// Reserve claims the best pending row in one statement. SKIP LOCKED makes
// concurrently racing workers skip each other's candidate instead of
// blocking or double-claiming.
func (q *Queue) Reserve(ctx context.Context, queue string) (*queuex.Job, error) {
	var row jobRow
	err := q.db.GetContext(ctx, &row, `
		UPDATE conveyor_jobs
		SET status = 'processing', attempts = attempts + 1, updated_at = now()
		WHERE id = (
			SELECT id FROM conveyor_jobs
			WHERE queue = $1
			  AND status = 'pending'
			  AND (execute_at IS NULL OR execute_at <= now())
			ORDER BY priority DESC, created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+allColumns, queue)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, pgErrors.NewWithCause(ErrReserve, err).WithDetail("queue", queue)
	}
	return row.toJob(), nil
}

// Complete acknowledges terminal success and deletes the row; completed
// jobs leave no record behind.
func (q *Queue) Complete(ctx context.Context, jobID string) error {
	res, err := q.db.ExecContext(ctx, `
		DELETE FROM conveyor_jobs
		WHERE id = $1
		  AND status NOT IN ('completed', 'failed', 'cancelled')`, jobID)
	if err != nil {
		return pgErrors.NewWithCause(ErrWrite, err).WithDetail("job_id", jobID)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return pgErrors.NewWithCause(ErrWrite, err).WithDetail("job_id", jobID)
	}
	if affected == 0 {
		job, getErr := q.Get(ctx, jobID)
		if getErr != nil {
			return getErr
		}
		return queuex.NewTerminal(jobID, job.Status)
	}
	return nil
}

// Fail marks terminal failure with LastError recorded; the row stays in
// the table as the dead-letter store.
func (q *Queue) Fail(ctx context.Context, jobID string, reason string) error {
	return q.transition(ctx, jobID, queuex.StatusFailed, reason)
}

// Cancel terminally withdraws a non-terminal job.
func (q *Queue) Cancel(ctx context.Context, jobID string) error {
	return q.transition(ctx, jobID, queuex.StatusCancelled, "")
}

// transition applies a terminal status. The status guard in the WHERE
// clause makes terminal states sticky.
func (q *Queue) transition(ctx context.Context, jobID string, to queuex.Status, reason string) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE conveyor_jobs
		SET status = $2,
		    last_error = CASE WHEN $3 <> '' THEN $3 ELSE last_error END,
		    updated_at = now()
		WHERE id = $1
		  AND status NOT IN ('completed', 'failed', 'cancelled')`,
		jobID, string(to), reason)
	if err != nil {
		return pgErrors.NewWithCause(ErrWrite, err).WithDetail("job_id", jobID)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return pgErrors.NewWithCause(ErrWrite, err).WithDetail("job_id", jobID)
	}
	if affected == 0 {
		job, getErr := q.Get(ctx, jobID)
		if getErr != nil {
			return getErr
		}
		return queuex.NewTerminal(jobID, job.Status)
	}
	return nil
}

// Retry re-inserts the caller's job copy into pending or delayed state.
func (q *Queue) Retry(ctx context.Context, job *queuex.Job) error {
	row := toRow(job)
	row.UpdatedAt = time.Now().UTC()
	res, err := q.db.NamedExecContext(ctx, `
		UPDATE conveyor_jobs
		SET status = :status, attempts = :attempts, last_error = :last_error,
		    execute_at = :execute_at, updated_at = :updated_at
		WHERE id = :id
		  AND status NOT IN ('completed', 'failed', 'cancelled')`, row)
	if err != nil {
		return pgErrors.NewWithCause(ErrWrite, err).WithDetail("job_id", job.ID)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return pgErrors.NewWithCause(ErrWrite, err).WithDetail("job_id", job.ID)
	}
	if affected == 0 {
		stored, getErr := q.Get(ctx, job.ID)
		if getErr != nil {
			return getErr
		}
		return queuex.NewTerminal(job.ID, stored.Status)
	}
	return nil
}

// Update persists the caller's copy of a job it holds a lease on.
func (q *Queue) Update(ctx context.Context, job *queuex.Job) error {
	row := toRow(job)
	row.UpdatedAt = time.Now().UTC()
	res, err := q.db.NamedExecContext(ctx, `
		UPDATE conveyor_jobs
		SET job_type = :job_type, queue = :queue, payload = :payload,
		    priority = :priority, attempts = :attempts, max_attempts = :max_attempts,
		    timeout_ns = :timeout_ns, status = :status, last_error = :last_error,
		    execute_at = :execute_at, updated_at = :updated_at
		WHERE id = :id`, row)
	if err != nil {
		return pgErrors.NewWithCause(ErrWrite, err).WithDetail("job_id", job.ID)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return pgErrors.NewWithCause(ErrWrite, err).WithDetail("job_id", job.ID)
	}
	if affected == 0 {
		return queuex.NewNotFound(job.ID)
	}
	return nil
}

// ReleaseDelayed promotes every due delayed row in one statement.
func (q *Queue) ReleaseDelayed(ctx context.Context) ([]*queuex.Job, error) {
	var rows []jobRow
	err := q.db.SelectContext(ctx, &rows, `
		UPDATE conveyor_jobs
		SET status = 'pending', updated_at = now()
		WHERE status = 'delayed'
		  AND execute_at <= now()
		RETURNING `+allColumns)
	if err != nil {
		return nil, pgErrors.NewWithCause(ErrRelease, err)
	}

	jobs := make([]*queuex.Job, len(rows))
	for i, r := range rows {
		jobs[i] = r.toJob()
	}
	return jobs, nil
}

// Get retrieves a job row by ID.
func (q *Queue) Get(ctx context.Context, jobID string) (*queuex.Job, error) {
	var row jobRow
	err := q.db.GetContext(ctx, &row, `
		SELECT `+allColumns+` FROM conveyor_jobs WHERE id = $1`, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, queuex.NewNotFound(jobID)
		}
		return nil, pgErrors.NewWithCause(ErrGet, err).WithDetail("job_id", jobID)
	}
	return row.toJob(), nil
}

// Delete removes a job row entirely.
func (q *Queue) Delete(ctx context.Context, jobID string) error {
	res, err := q.db.ExecContext(ctx, `DELETE FROM conveyor_jobs WHERE id = $1`, jobID)
	if err != nil {
		return pgErrors.NewWithCause(ErrWrite, err).WithDetail("job_id", jobID)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return pgErrors.NewWithCause(ErrWrite, err).WithDetail("job_id", jobID)
	}
	if affected == 0 {
		return queuex.NewNotFound(jobID)
	}
	return nil
}

// Size counts jobs awaiting execution across all queues.
func (q *Queue) Size(ctx context.Context) (int, error) {
	var n int
	err := q.db.GetContext(ctx, &n, `
		SELECT count(*) FROM conveyor_jobs WHERE status IN ('pending', 'delayed')`)
	if err != nil {
		return 0, pgErrors.NewWithCause(ErrInspect, err)
	}
	return n, nil
}

// SizeOf counts jobs awaiting execution on one queue.
func (q *Queue) SizeOf(ctx context.Context, queue string) (int, error) {
	var n int
	err := q.db.GetContext(ctx, &n, `
		SELECT count(*) FROM conveyor_jobs
		WHERE queue = $1 AND status IN ('pending', 'delayed')`, queue)
	if err != nil {
		return 0, pgErrors.NewWithCause(ErrInspect, err).WithDetail("queue", queue)
	}
	return n, nil
}

// Clear wipes the whole table, dead-letter rows included.
func (q *Queue) Clear(ctx context.Context) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM conveyor_jobs`); err != nil {
		return pgErrors.NewWithCause(ErrWrite, err)
	}
	return nil
}

// ClearQueue drops the pending and delayed rows of one queue.
func (q *Queue) ClearQueue(ctx context.Context, queue string) error {
	_, err := q.db.ExecContext(ctx, `
		DELETE FROM conveyor_jobs
		WHERE queue = $1 AND status IN ('pending', 'delayed')`, queue)
	if err != nil {
		return pgErrors.NewWithCause(ErrWrite, err).WithDetail("queue", queue)
	}
	return nil
}

// ListFailed returns dead-lettered jobs, most recently failed first.
func (q *Queue) ListFailed(ctx context.Context) ([]*queuex.Job, error) {
	var rows []jobRow
	err := q.db.SelectContext(ctx, &rows, `
		SELECT `+allColumns+` FROM conveyor_jobs
		WHERE status = 'failed'
		ORDER BY updated_at DESC`)
	if err != nil {
		return nil, pgErrors.NewWithCause(ErrInspect, err)
	}

	jobs := make([]*queuex.Job, len(rows))
	for i, r := range rows {
		jobs[i] = r.toJob()
	}
	return jobs, nil
}

// Ping verifies connectivity.
func (q *Queue) Ping(ctx context.Context) error {
	if err := q.db.PingContext(ctx); err != nil {
		return pgErrors.NewWithCause(ErrPing, err)
	}
	return nil
}

// Close closes the connection pool.
func (q *Queue) Close() error {
	return q.db.Close()
}
