package queuexpg

// schema bootstraps the jobs table. The partial index covers exactly the
// reservation query: pending rows ordered by priority then age.
const schema = `
CREATE TABLE IF NOT EXISTS conveyor_jobs (
    id           TEXT PRIMARY KEY,
    job_type     TEXT        NOT NULL,
    queue        TEXT        NOT NULL,
    payload      BYTEA,
    priority     INTEGER     NOT NULL DEFAULT 0,
    attempts     INTEGER     NOT NULL DEFAULT 0,
    max_attempts INTEGER     NOT NULL DEFAULT 3,
    timeout_ns   BIGINT      NOT NULL DEFAULT 0,
    status       TEXT        NOT NULL,
    last_error   TEXT        NOT NULL DEFAULT '',
    created_at   TIMESTAMPTZ NOT NULL,
    execute_at   TIMESTAMPTZ,
    updated_at   TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS conveyor_jobs_ready_idx
    ON conveyor_jobs (queue, priority DESC, created_at ASC)
    WHERE status = 'pending';

CREATE INDEX IF NOT EXISTS conveyor_jobs_delayed_idx
    ON conveyor_jobs (execute_at)
    WHERE status = 'delayed';
`
