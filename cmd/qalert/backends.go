package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"qms/qalert/internal/config"
	"qms/qalert/internal/models"
	"qms/qalert/internal/store"
	"qms/qalert/internal/store/memory"
	"qms/qalert/internal/store/postgres"
	"qms/qalert/internal/store/remote"

	"github.com/cenkalti/backoff/v4"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const (
	startupWait = 30 * time.Second
	pingTimeout = 5 * time.Second
)

type subjectRecord struct {
	ID          string `yaml:"id"`
	DisplayName string `yaml:"display_name"`
	Phone       string `yaml:"phone"`
	ExternalID  string `yaml:"external_id"`
}

// waitReady pings a dependency with exponential backoff until it answers
// or startupWait runs out.
func waitReady(ctx context.Context, name string, ping func(context.Context) error) error {
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = startupWait
	err := backoff.RetryNotify(func() error {
		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		defer cancel()
		return ping(pingCtx)
	}, backoff.WithContext(policy, ctx), func(err error, wait time.Duration) {
		logrus.WithError(err).WithFields(logrus.Fields{
			"dependency": name,
			"retry_in":   wait.String(),
		}).Warn("startup: dependency not ready")
	})
	if err != nil {
		return fmt.Errorf("%s not ready: %w", name, err)
	}
	return nil
}

// openStore connects the configured record store and wraps it with the
// uniform timeout. The returned function releases its resources.
func openStore(ctx context.Context, cfg config.Config) (store.RecordStore, func(), error) {
	subjects, err := loadSubjects(cfg.SubjectsFile)
	if err != nil {
		return nil, nil, err
	}

	switch cfg.Store {
	case config.StoreRemote:
		st := remote.New(remote.Config{BaseURL: cfg.RemoteURL, Token: cfg.RemoteToken, Timeout: cfg.ExternalTimeout()})
		ping := func(ctx context.Context) error {
			err := st.Ping(ctx)
			if err != nil && !errors.Is(err, store.ErrNetworkFailure) {
				return backoff.Permanent(err)
			}
			return err
		}
		if err := waitReady(ctx, "record store", ping); err != nil {
			return nil, nil, err
		}
		if len(subjects) > 0 {
			logrus.Warn("startup: subjects file ignored for the remote store")
		}
		return store.Instrument(st, cfg.ExternalTimeout()), func() {}, nil

	case config.StorePostgres:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("db connect: %w", err)
		}
		st := postgres.NewStore(pool)
		if err := waitReady(ctx, "postgres", st.Ping); err != nil {
			pool.Close()
			return nil, nil, err
		}
		if err := st.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		for _, subject := range subjects {
			if err := st.UpsertSubject(ctx, subject); err != nil {
				pool.Close()
				return nil, nil, fmt.Errorf("seed subject %s: %w", subject.ID, err)
			}
		}
		return store.Instrument(st, cfg.ExternalTimeout()), pool.Close, nil

	default:
		st := memory.New(memory.Options{Location: cfg.Location(), EnforceSingleActive: true})
		for _, subject := range subjects {
			st.PutSubject(subject)
		}
		return store.Instrument(st, cfg.ExternalTimeout()), func() {}, nil
	}
}

func loadSubjects(path string) ([]models.Subject, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read subjects file: %w", err)
	}
	var records []subjectRecord
	if err := yaml.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse subjects file: %w", err)
	}
	subjects := make([]models.Subject, 0, len(records))
	for i, record := range records {
		if record.ID == "" {
			return nil, fmt.Errorf("subjects file: entry %d has no id", i)
		}
		subjects = append(subjects, models.Subject{
			ID:          record.ID,
			DisplayName: record.DisplayName,
			Phone:       record.Phone,
			ExternalID:  record.ExternalID,
		})
	}
	return subjects, nil
}

func openRedis(ctx context.Context, cfg config.Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := waitReady(ctx, "redis", func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

func asynqRedisOpt(cfg config.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  cfg.ExternalTimeout(),
		ReadTimeout:  cfg.ExternalTimeout(),
		WriteTimeout: cfg.ExternalTimeout(),
	}
}
