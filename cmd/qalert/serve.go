package main

import (
	"context"
	"errors"
	"expvar"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"qms/qalert/internal/admission"
	"qms/qalert/internal/config"
	"qms/qalert/internal/httpapi"
	"qms/qalert/internal/hub"
	"qms/qalert/internal/lifecycle"
	"qms/qalert/internal/notify"
	"qms/qalert/internal/observer"
	"qms/qalert/internal/session"
	"qms/qalert/internal/telemetry"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout = 10 * time.Second
	workerBuffer    = 64
)

func serveCommand(app *qalertApp) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the queue API, realtime feed and notification dispatch",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, app.cfg)
		},
	}
}

func runServe(ctx context.Context, cfg config.Config) error {
	shutdownTelemetry := telemetry.Setup("qalert")
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(flushCtx)
	}()

	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	var redisClient *redis.Client
	if cfg.NeedsRedis() {
		redisClient, err = openRedis(ctx, cfg)
		if err != nil {
			return err
		}
		defer redisClient.Close()
	}

	group, ctx := errgroup.WithContext(ctx)

	deliverer := newDeliverer(cfg, st)
	var dispatcher notify.Dispatcher
	switch cfg.NotifyDispatcher {
	case config.DispatchAsynq:
		client := asynq.NewClient(asynqRedisOpt(cfg))
		defer client.Close()
		dispatcher = notify.NewAsynqDispatcher(client, cfg.NotifyQueue)
	default:
		worker := notify.NewQueueWorker(deliverer, workerBuffer)
		group.Go(func() error {
			worker.Run(ctx)
			return nil
		})
		dispatcher = worker
	}

	controller := admission.NewController(admission.LogReporter{})
	machine := lifecycle.New(st, lifecycle.Options{
		IntervalMinutes: cfg.WaitIntervalMinutes,
		Location:        cfg.Location(),
		Admission:       controller,
		Notifier:        notify.NewOrchestrator(dispatcher, notify.LogSink{}, cfg.ExternalTimeout()),
	})

	var sessions session.Store = session.NewMemoryStore(cfg.SessionTTL())
	if cfg.SessionBackend == config.SessionRedis {
		sessions = session.NewRedisStore(redisClient, cfg.SessionTTL())
	}

	realtime := hub.New()
	console := observer.New(st, observer.Options{
		Kind:     observer.KindConsole,
		Interval: cfg.ConsolePollInterval(),
		Day:      machine.Today,
	})
	display := observer.New(st, observer.Options{
		Kind:     observer.KindDisplay,
		Interval: cfg.DisplayPollInterval(),
		Day:      machine.Today,
	})
	console.Subscribe(publishTo(realtime, hub.TopicConsole, func(s observer.Snapshot) any { return observer.BuildViewWith(s, controller) }))
	display.Subscribe(publishTo(realtime, hub.TopicDisplay, func(s observer.Snapshot) any { return observer.BuildBoard(s) }))
	group.Go(func() error {
		console.Run(ctx)
		return nil
	})
	group.Go(func() error {
		display.Run(ctx)
		return nil
	})

	patients := observer.NewPool(func(string) *observer.Observer {
		return observer.New(st, observer.Options{Kind: observer.KindPatient, Day: machine.Today})
	})
	defer patients.Close()
	group.Go(func() error {
		patients.RunSweeper(ctx, cfg.SessionTTL())
		return nil
	})

	handler := httpapi.NewHandler(machine, st, httpapi.Options{
		Sessions: sessions,
		Console:  console,
		Display:  display,
		Patients: patients,
		StaffKey: cfg.StaffKey,
	})
	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		IPPerMinute:      cfg.RateLimitPerMinute,
		IPBurst:          cfg.RateLimitBurst,
		SessionPerMinute: cfg.RateLimitPerMinute,
		SessionBurst:     cfg.RateLimitBurst,
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", expvar.Handler())
	mux.Handle("/realtime/", httpapi.RealtimeHandler(realtime, sessions))
	mux.Handle("/", handler.Routes())

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelhttp.NewHandler(httpapi.LoggingMiddleware(limiter.Middleware(httpapi.AuthMiddleware(sessions, mux, handler.ReleaseSession))), "qalert"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	group.Go(func() error {
		logrus.WithFields(logrus.Fields{
			"addr":       server.Addr,
			"store":      cfg.Store,
			"dispatcher": cfg.NotifyDispatcher,
			"sessions":   cfg.SessionBackend,
		}).Info("qalert listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logrus.WithError(err).Error("shutdown error")
		}
		return nil
	})

	return group.Wait()
}

// publishTo forwards every published snapshot to a realtime topic.
func publishTo(h *hub.Hub, topic string, render func(observer.Snapshot) any) observer.Subscriber {
	return observer.SubscriberFunc(func(revision uint64, snapshot observer.Snapshot) {
		if err := h.Publish(topic, revision, render(snapshot)); err != nil {
			logrus.WithError(err).WithField("topic", topic).Error("realtime: publish failed")
		}
	})
}
