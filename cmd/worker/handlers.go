package main

import (
	"context"
	"encoding/json"

	"github.com/Abraxas-365/conveyor/pkg/logx"
	"github.com/Abraxas-365/conveyor/pkg/queuex"
)

// registerHandlers wires every job type this worker processes. Add new
// handlers here.
func registerHandlers(c *queuex.Client) {
	c.Register("echo", handleEcho)
}

// handleEcho logs its payload. Kept as a smoke-test job type for new
// deployments.
func handleEcho(_ context.Context, job *queuex.Job) error {
	var payload map[string]any
	if len(job.Payload) > 0 {
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return err
		}
	}
	logx.WithField("job_id", job.ID).WithField("payload", payload).Info("echo")
	return nil
}
