package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"qms/qalert/internal/config"
	"qms/qalert/internal/models"
	"qms/qalert/internal/observer"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const defaultDisplayPoll = 3 * time.Second

func displayCommand(app *qalertApp) *cobra.Command {
	return &cobra.Command{
		Use:   "display",
		Short: "Follow today's queue and print the public board on every change",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runDisplay(ctx, app.cfg)
		},
	}
}

func runDisplay(ctx context.Context, cfg config.Config) error {
	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	interval := cfg.DisplayPollInterval()
	if interval <= 0 {
		interval = defaultDisplayPoll
	}
	loc := cfg.Location()
	display := observer.New(st, observer.Options{
		Kind:     observer.KindDisplay,
		Interval: interval,
		Day:      func() models.Date { return models.DateOf(time.Now(), loc) },
	})
	display.Subscribe(observer.SubscriberFunc(func(revision uint64, snapshot observer.Snapshot) {
		logBoard(revision, observer.BuildBoard(snapshot))
	}))

	logrus.WithField("interval", interval.String()).Info("display: following the queue")
	display.Run(ctx)
	return nil
}

func logBoard(revision uint64, board observer.Board) {
	fields := logrus.Fields{
		"revision": revision,
		"day":      board.Day.String(),
		"waiting":  board.Waiting,
	}
	if board.NowCalling > 0 {
		fields["now_calling"] = board.NowCalling
		fields["status"] = board.Status
	}
	logrus.WithFields(fields).Info("display: board")
}
