package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "qalert:session"

type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl, now: time.Now}
}

func key(token string) string {
	return fmt.Sprintf("%s:%s", keyPrefix, token)
}

func (r *RedisStore) Init(ctx context.Context, session Session) (Session, error) {
	session, err := prepare(session, r.now())
	if err != nil {
		return Session{}, err
	}
	data, err := json.Marshal(session)
	if err != nil {
		return Session{}, fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := r.client.Set(ctx, key(session.Token), data, r.ttl).Err(); err != nil {
		return Session{}, fmt.Errorf("failed to store session: %w", err)
	}
	return session, nil
}

func (r *RedisStore) Current(ctx context.Context, token string) (Session, error) {
	data, err := r.client.Get(ctx, key(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Session{}, ErrNotFound
		}
		return Session{}, err
	}
	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		return Session{}, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return session, nil
}

func (r *RedisStore) Teardown(ctx context.Context, token string) error {
	deleted, err := r.client.Del(ctx, key(token)).Result()
	if err != nil {
		return err
	}
	if deleted == 0 {
		return ErrNotFound
	}
	return nil
}
