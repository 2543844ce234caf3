package main

import (
	"context"
	"errors"

	"qms/qalert/internal/config"
	"qms/qalert/internal/notify"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func workerCommand(app *qalertApp) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Deliver queued call notifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(cmd.Context(), app.cfg)
		},
	}
}

func runWorker(ctx context.Context, cfg config.Config) error {
	if cfg.RedisAddr == "" {
		return errors.New("worker needs QALERT_REDIS_ADDR")
	}

	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	srv := asynq.NewServer(asynqRedisOpt(cfg), asynq.Config{
		Concurrency: cfg.WorkerConcurrency,
		Queues:      map[string]int{cfg.NotifyQueue: 1},
	})
	mux := asynq.NewServeMux()
	mux.HandleFunc(notify.TaskCalled, newDeliverer(cfg, st).ProcessTask)

	logrus.WithFields(logrus.Fields{
		"queue":       cfg.NotifyQueue,
		"concurrency": cfg.WorkerConcurrency,
	}).Info("worker: delivering notifications")
	// Run blocks until SIGINT or SIGTERM.
	return srv.Run(mux)
}
