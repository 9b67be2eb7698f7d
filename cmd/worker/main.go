// cmd/worker
//
// Worker composition root. Loads configuration, opens the queue backend,
// registers handlers, and runs the worker engine until a shutdown signal
// arrives. This is the only place that knows about every backend driver.
package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/Abraxas-365/conveyor/pkg/config"
	"github.com/Abraxas-365/conveyor/pkg/logx"
	"github.com/Abraxas-365/conveyor/pkg/queuex"
	"github.com/Abraxas-365/conveyor/pkg/queuex/queuexdriver"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logx.WithError(err).Fatal("Failed to load configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logx.Infof("🔧 Opening %s queue backend...", cfg.Queue.Driver)
	backend, err := queuexdriver.Open(ctx, cfg.Queue)
	if err != nil {
		logx.WithError(err).Fatal("Failed to open queue backend")
	}
	defer func() {
		if err := backend.Close(); err != nil {
			logx.WithError(err).Warn("Failed to close queue backend")
		}
	}()

	client := queuex.NewClient(backend,
		queuex.WithQueues(cfg.Worker.Queues...),
		queuex.WithConcurrency(cfg.Worker.Concurrency),
		queuex.WithPollInterval(cfg.Worker.PollInterval),
		queuex.WithShutdownTimeout(cfg.Worker.ShutdownTimeout),
		queuex.WithRetryDelay(cfg.Worker.RetryDelay),
		queuex.WithDefaultTimeout(cfg.Queue.DefaultTimeout),
	)
	registerHandlers(client)

	logx.Info("✅ Worker started")
	if err := client.Start(ctx); err != nil {
		logx.WithError(err).Fatal("Worker stopped with an error")
	}
	logx.Info("Worker stopped")
}
