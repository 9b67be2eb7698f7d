package queuexredis

import (
	"time"

	"github.com/Abraxas-365/conveyor/pkg/queuex"
)

// DefaultKeyPrefix namespaces every key this backend writes. Override
// it with WithKeyPrefix when several deployments share one Redis.
const DefaultKeyPrefix = "conveyor:"

// Key layout:
//
//	{prefix}job:{id}        string  JSON-encoded job record
//	{prefix}ready:{queue}   zset    ready set, scored by (priority, created_at)
//	{prefix}delayed:{queue} zset    delayed set, scored by execute_at
//	{prefix}failed          list    dead-letter job IDs, newest first
//	{prefix}queues          set     every queue name ever pushed to
//	{prefix}jobs            set     every live job ID (for Clear)
func (q *Queue) jobKey(id string) string       { return q.prefix + "job:" + id }
func (q *Queue) readyKey(queue string) string  { return q.prefix + "ready:" + queue }
func (q *Queue) delayedKey(queue string) string { return q.prefix + "delayed:" + queue }
func (q *Queue) failedKey() string             { return q.prefix + "failed" }
func (q *Queue) queuesKey() string             { return q.prefix + "queues" }
func (q *Queue) jobIDsKey() string             { return q.prefix + "jobs" }

// readyScore folds priority and creation time into one sortable score.
// Priority is negated so ZPOPMIN hands out the highest priority first;
// the creation-time fraction breaks ties FIFO so low-priority jobs are
// never starved by same-priority newcomers.
func readyScore(j *queuex.Job) float64 {
	return float64(-j.Priority) + float64(j.CreatedAt.UnixMilli())/1e15
}

// delayedScore orders the delayed set by eligibility time.
func delayedScore(at time.Time) float64 {
	return float64(at.UTC().Unix())
}
