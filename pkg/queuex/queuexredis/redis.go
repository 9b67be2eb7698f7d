// Package queuexredis provides the networked queue backend on Redis.
// Multiple worker processes and machines share one logical queue; the
// atomic-reservation guarantee maps onto ZPOPMIN, Redis's native atomic
// pop of the best-scored member.
package queuexredis

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Abraxas-365/conveyor/pkg/queuex"
)

var _ queuex.Backend = (*Queue)(nil)

// Queue implements queuex.Backend backed by Redis.
type Queue struct {
	rdb    *redis.Client
	prefix string
}

// Option configures the backend.
type Option func(*Queue)

// WithKeyPrefix namespaces all keys for this deployment.
func WithKeyPrefix(prefix string) Option {
	return func(q *Queue) {
		if prefix != "" {
			q.prefix = prefix
		}
	}
}

// New creates a Redis-backed queue. The caller keeps ownership of rdb
// unless the backend was opened through queuexdriver, which closes it
// via Close.
func New(rdb *redis.Client, opts ...Option) *Queue {
	q := &Queue{rdb: rdb, prefix: DefaultKeyPrefix}
	for _, o := range opts {
		o(q)
	}
	return q
}

// Push stores the job record and adds its ID to the ready or delayed set.
func (q *Queue) Push(ctx context.Context, job *queuex.Job) error {
	data, err := queuex.Encode(job)
	if err != nil {
		return err
	}

	pipe := q.rdb.TxPipeline()
	pipe.Set(ctx, q.jobKey(job.ID), data, 0)
	pipe.SAdd(ctx, q.queuesKey(), job.Queue)
	pipe.SAdd(ctx, q.jobIDsKey(), job.ID)
	if job.Status == queuex.StatusDelayed && job.ExecuteAt != nil {
		pipe.ZAdd(ctx, q.delayedKey(job.Queue), redis.Z{
			Score:  delayedScore(*job.ExecuteAt),
			Member: job.ID,
		})
	} else {
		pipe.ZAdd(ctx, q.readyKey(job.Queue), redis.Z{
			Score:  readyScore(job),
			Member: job.ID,
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return redisErrors.NewWithCause(ErrPush, err).WithDetail("queue", job.Queue)
	}
	return nil
}

// Reserve pops the best-scored ID off the ready set and loads its
// record. ZPOPMIN removes the member atomically, so no two callers ever
// receive the same job. Records that no longer decode are dead-lettered
// on the spot and reservation moves on to the next candidate.
func (q *Queue) Reserve(ctx context.Context, queue string) (*queuex.Job, error) {
	for {
		members, err := q.rdb.ZPopMin(ctx, q.readyKey(queue), 1).Result()
		if err != nil {
			return nil, redisErrors.NewWithCause(ErrReserve, err).WithDetail("queue", queue)
		}
		if len(members) == 0 {
			return nil, nil
		}

		jobID, ok := members[0].Member.(string)
		if !ok {
			continue
		}

		data, err := q.rdb.Get(ctx, q.jobKey(jobID)).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				// Record vanished under the set entry; skip it.
				continue
			}
			return nil, redisErrors.NewWithCause(ErrReserve, err).WithDetail("job_id", jobID)
		}

		job, err := queuex.Decode(data)
		if err != nil {
			// Retrying a decode failure would reproduce it; straight to
			// the dead-letter list without consuming an attempt.
			if dlErr := q.rdb.LPush(ctx, q.failedKey(), jobID).Err(); dlErr != nil {
				return nil, redisErrors.NewWithCause(ErrReserve, dlErr).WithDetail("job_id", jobID)
			}
			continue
		}
		if job.Status != queuex.StatusPending && job.Status != queuex.StatusDelayed {
			// Stale set entry; the record moved on. The pop already
			// discarded it, move to the next candidate.
			continue
		}

		job.Status = queuex.StatusProcessing
		job.Attempts++
		job.UpdatedAt = time.Now().UTC()
		if err := q.writeRecord(ctx, job); err != nil {
			return nil, err
		}
		return job, nil
	}
}

// Complete acknowledges terminal success and removes the job from
// storage; completed jobs leave no record behind.
func (q *Queue) Complete(ctx context.Context, jobID string) error {
	job, err := q.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return queuex.NewTerminal(jobID, job.Status)
	}

	pipe := q.rdb.TxPipeline()
	pipe.Del(ctx, q.jobKey(jobID))
	pipe.SRem(ctx, q.jobIDsKey(), jobID)
	pipe.ZRem(ctx, q.readyKey(job.Queue), jobID)
	pipe.ZRem(ctx, q.delayedKey(job.Queue), jobID)
	if _, err := pipe.Exec(ctx); err != nil {
		return redisErrors.NewWithCause(ErrWrite, err).WithDetail("job_id", jobID)
	}
	return nil
}

// Fail marks terminal failure and pushes the job onto the dead-letter
// list for operator inspection.
func (q *Queue) Fail(ctx context.Context, jobID string, reason string) error {
	job, err := q.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return queuex.NewTerminal(jobID, job.Status)
	}
	job.Status = queuex.StatusFailed
	job.LastError = reason
	job.UpdatedAt = time.Now().UTC()

	data, err := queuex.Encode(job)
	if err != nil {
		return err
	}

	pipe := q.rdb.TxPipeline()
	pipe.Set(ctx, q.jobKey(jobID), data, 0)
	pipe.LPush(ctx, q.failedKey(), jobID)
	pipe.ZRem(ctx, q.readyKey(job.Queue), jobID)
	pipe.ZRem(ctx, q.delayedKey(job.Queue), jobID)
	if _, err := pipe.Exec(ctx); err != nil {
		return redisErrors.NewWithCause(ErrWrite, err).WithDetail("job_id", jobID)
	}
	return nil
}

// Retry re-inserts the caller's job copy into the ready set, or the
// delayed set when ExecuteAt lies in the future.
func (q *Queue) Retry(ctx context.Context, job *queuex.Job) error {
	stored, err := q.Get(ctx, job.ID)
	if err != nil {
		return err
	}
	if stored.Status.Terminal() {
		return queuex.NewTerminal(job.ID, stored.Status)
	}

	job.UpdatedAt = time.Now().UTC()
	data, err := queuex.Encode(job)
	if err != nil {
		return err
	}

	pipe := q.rdb.TxPipeline()
	pipe.Set(ctx, q.jobKey(job.ID), data, 0)
	if job.Status == queuex.StatusDelayed && job.ExecuteAt != nil {
		pipe.ZAdd(ctx, q.delayedKey(job.Queue), redis.Z{
			Score:  delayedScore(*job.ExecuteAt),
			Member: job.ID,
		})
	} else {
		pipe.ZAdd(ctx, q.readyKey(job.Queue), redis.Z{
			Score:  readyScore(job),
			Member: job.ID,
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return redisErrors.NewWithCause(ErrWrite, err).WithDetail("job_id", job.ID)
	}
	return nil
}

// Update persists the caller's copy of a job it holds a lease on.
func (q *Queue) Update(ctx context.Context, job *queuex.Job) error {
	if _, err := q.Get(ctx, job.ID); err != nil {
		return err
	}
	job.UpdatedAt = time.Now().UTC()
	return q.writeRecord(ctx, job)
}

// promoteScript atomically claims one due member of the delayed set and
// moves it into the ready set, rewriting the job record in the same
// step. The ZREM is the claim: of any number of concurrent releasers
// racing over the same scan, exactly one sees 1 and performs the move,
// so a job a worker already popped off the ready set can never be
// resurrected by a stale record read.
var promoteScript = redis.NewScript(`
local delayed_key = KEYS[1]
local job_key = KEYS[2]
local ready_key = KEYS[3]
if redis.call('ZREM', delayed_key, ARGV[1]) == 1 then
    redis.call('SET', job_key, ARGV[3])
    redis.call('ZADD', ready_key, ARGV[2], ARGV[1])
    return 1
end
return 0
`)

// ReleaseDelayed scans every queue's delayed set and moves due members
// into the ready set. Safe to run from any number of processes: the
// per-job move is a single Lua script keyed on removal from the delayed
// set.
func (q *Queue) ReleaseDelayed(ctx context.Context) ([]*queuex.Job, error) {
	queues, err := q.rdb.SMembers(ctx, q.queuesKey()).Result()
	if err != nil {
		return nil, redisErrors.NewWithCause(ErrRelease, err)
	}

	now := strconv.FormatInt(time.Now().UTC().Unix(), 10)
	var released []*queuex.Job

	for _, queue := range queues {
		ids, err := q.rdb.ZRangeByScore(ctx, q.delayedKey(queue), &redis.ZRangeBy{
			Min: "-inf",
			Max: now,
		}).Result()
		if err != nil {
			return nil, redisErrors.NewWithCause(ErrRelease, err).WithDetail("queue", queue)
		}

		for _, jobID := range ids {
			job, err := q.Get(ctx, jobID)
			if err != nil {
				if queuex.IsNotFound(err) {
					q.rdb.ZRem(ctx, q.delayedKey(queue), jobID)
					continue
				}
				return nil, err
			}
			if job.Status != queuex.StatusDelayed {
				// Already promoted, cancelled, or reserved since the scan.
				continue
			}

			job.Status = queuex.StatusPending
			job.UpdatedAt = time.Now().UTC()
			data, encErr := queuex.Encode(job)
			if encErr != nil {
				return nil, encErr
			}

			moved, err := promoteScript.Run(ctx, q.rdb,
				[]string{q.delayedKey(queue), q.jobKey(jobID), q.readyKey(queue)},
				jobID, readyScore(job), data,
			).Int()
			if err != nil {
				return nil, redisErrors.NewWithCause(ErrRelease, err).WithDetail("job_id", jobID)
			}
			if moved == 0 {
				// Lost the claim to a concurrent releaser.
				continue
			}
			released = append(released, job)
		}
	}
	return released, nil
}

// Get retrieves a job record by ID.
func (q *Queue) Get(ctx context.Context, jobID string) (*queuex.Job, error) {
	data, err := q.rdb.Get(ctx, q.jobKey(jobID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, queuex.NewNotFound(jobID)
		}
		return nil, redisErrors.NewWithCause(ErrGet, err).WithDetail("job_id", jobID)
	}
	return queuex.Decode(data)
}

// Delete removes the job record and every set entry referencing it.
func (q *Queue) Delete(ctx context.Context, jobID string) error {
	job, err := q.Get(ctx, jobID)
	if err != nil {
		return err
	}

	pipe := q.rdb.TxPipeline()
	pipe.Del(ctx, q.jobKey(jobID))
	pipe.SRem(ctx, q.jobIDsKey(), jobID)
	pipe.ZRem(ctx, q.readyKey(job.Queue), jobID)
	pipe.ZRem(ctx, q.delayedKey(job.Queue), jobID)
	pipe.LRem(ctx, q.failedKey(), 0, jobID)
	if _, err := pipe.Exec(ctx); err != nil {
		return redisErrors.NewWithCause(ErrWrite, err).WithDetail("job_id", jobID)
	}
	return nil
}

// Cancel terminally withdraws a non-terminal job, keeping the record.
func (q *Queue) Cancel(ctx context.Context, jobID string) error {
	job, err := q.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return queuex.NewTerminal(jobID, job.Status)
	}
	job.Status = queuex.StatusCancelled
	job.UpdatedAt = time.Now().UTC()

	data, err := queuex.Encode(job)
	if err != nil {
		return err
	}

	pipe := q.rdb.TxPipeline()
	pipe.Set(ctx, q.jobKey(jobID), data, 0)
	pipe.ZRem(ctx, q.readyKey(job.Queue), jobID)
	pipe.ZRem(ctx, q.delayedKey(job.Queue), jobID)
	if _, err := pipe.Exec(ctx); err != nil {
		return redisErrors.NewWithCause(ErrWrite, err).WithDetail("job_id", jobID)
	}
	return nil
}

// Size counts jobs awaiting execution across all queues.
func (q *Queue) Size(ctx context.Context) (int, error) {
	queues, err := q.rdb.SMembers(ctx, q.queuesKey()).Result()
	if err != nil {
		return 0, redisErrors.NewWithCause(ErrInspect, err)
	}
	total := 0
	for _, queue := range queues {
		n, err := q.SizeOf(ctx, queue)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// SizeOf counts jobs awaiting execution on one queue.
func (q *Queue) SizeOf(ctx context.Context, queue string) (int, error) {
	ready, err := q.rdb.ZCard(ctx, q.readyKey(queue)).Result()
	if err != nil {
		return 0, redisErrors.NewWithCause(ErrInspect, err).WithDetail("queue", queue)
	}
	delayed, err := q.rdb.ZCard(ctx, q.delayedKey(queue)).Result()
	if err != nil {
		return 0, redisErrors.NewWithCause(ErrInspect, err).WithDetail("queue", queue)
	}
	return int(ready + delayed), nil
}

// Clear wipes every key this backend owns, dead-letter store included.
func (q *Queue) Clear(ctx context.Context) error {
	ids, err := q.rdb.SMembers(ctx, q.jobIDsKey()).Result()
	if err != nil {
		return redisErrors.NewWithCause(ErrWrite, err)
	}
	queues, err := q.rdb.SMembers(ctx, q.queuesKey()).Result()
	if err != nil {
		return redisErrors.NewWithCause(ErrWrite, err)
	}

	pipe := q.rdb.TxPipeline()
	for _, id := range ids {
		pipe.Del(ctx, q.jobKey(id))
	}
	for _, queue := range queues {
		pipe.Del(ctx, q.readyKey(queue), q.delayedKey(queue))
	}
	pipe.Del(ctx, q.failedKey(), q.queuesKey(), q.jobIDsKey())
	if _, err := pipe.Exec(ctx); err != nil {
		return redisErrors.NewWithCause(ErrWrite, err)
	}
	return nil
}

// ClearQueue drops the pending and delayed jobs of one queue. The
// dead-letter list is left untouched.
func (q *Queue) ClearQueue(ctx context.Context, queue string) error {
	ready, err := q.rdb.ZRange(ctx, q.readyKey(queue), 0, -1).Result()
	if err != nil {
		return redisErrors.NewWithCause(ErrWrite, err).WithDetail("queue", queue)
	}
	delayed, err := q.rdb.ZRange(ctx, q.delayedKey(queue), 0, -1).Result()
	if err != nil {
		return redisErrors.NewWithCause(ErrWrite, err).WithDetail("queue", queue)
	}

	pipe := q.rdb.TxPipeline()
	for _, id := range append(ready, delayed...) {
		pipe.Del(ctx, q.jobKey(id))
		pipe.SRem(ctx, q.jobIDsKey(), id)
	}
	pipe.Del(ctx, q.readyKey(queue), q.delayedKey(queue))
	if _, err := pipe.Exec(ctx); err != nil {
		return redisErrors.NewWithCause(ErrWrite, err).WithDetail("queue", queue)
	}
	return nil
}

// ListFailed returns dead-lettered jobs, most recently failed first.
// IDs whose record no longer decodes are skipped rather than breaking
// the whole listing.
func (q *Queue) ListFailed(ctx context.Context) ([]*queuex.Job, error) {
	ids, err := q.rdb.LRange(ctx, q.failedKey(), 0, -1).Result()
	if err != nil {
		return nil, redisErrors.NewWithCause(ErrInspect, err)
	}

	jobs := make([]*queuex.Job, 0, len(ids))
	for _, id := range ids {
		job, err := q.Get(ctx, id)
		if err != nil {
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// Ping verifies connectivity.
func (q *Queue) Ping(ctx context.Context) error {
	if err := q.rdb.Ping(ctx).Err(); err != nil {
		return redisErrors.NewWithCause(ErrPing, err)
	}
	return nil
}

// Close closes the underlying client.
func (q *Queue) Close() error {
	return q.rdb.Close()
}

func (q *Queue) writeRecord(ctx context.Context, job *queuex.Job) error {
	data, err := queuex.Encode(job)
	if err != nil {
		return err
	}
	if err := q.rdb.Set(ctx, q.jobKey(job.ID), data, 0).Err(); err != nil {
		return redisErrors.NewWithCause(ErrWrite, err).WithDetail("job_id", job.ID)
	}
	return nil
}
