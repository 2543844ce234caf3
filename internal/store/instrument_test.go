package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"qms/qalert/internal/models"
)

type fakeStore struct {
	listFn func(ctx context.Context) ([]models.QueueEntry, error)
}

func (f fakeStore) ListEntries(ctx context.Context) ([]models.QueueEntry, error) {
	return f.listFn(ctx)
}

func (f fakeStore) ListSubjects(ctx context.Context) ([]models.Subject, error) {
	return nil, nil
}

func (f fakeStore) CreateEntry(ctx context.Context, input CreateEntryInput) (models.QueueEntry, error) {
	return models.QueueEntry{}, nil
}

func (f fakeStore) UpdateStatus(ctx context.Context, entryID, status string) (models.QueueEntry, error) {
	return models.QueueEntry{}, nil
}

func (f fakeStore) UpdateReason(ctx context.Context, entryID string, input UpdateReasonInput) (models.QueueEntry, error) {
	return models.QueueEntry{}, nil
}

func TestInstrumentDeadlineIsNetworkFailure(t *testing.T) {
	slow := fakeStore{listFn: func(ctx context.Context) ([]models.QueueEntry, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	st := Instrument(slow, 20*time.Millisecond)

	start := time.Now()
	_, err := st.ListEntries(context.Background())
	if !errors.Is(err, ErrNetworkFailure) {
		t.Fatalf("expected network failure, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("timeout was not applied")
	}
}

func TestInstrumentPassesErrorsThrough(t *testing.T) {
	st := Instrument(fakeStore{listFn: func(ctx context.Context) ([]models.QueueEntry, error) {
		return nil, ErrNotAuthenticated
	}}, time.Second)

	_, err := st.ListEntries(context.Background())
	if !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("expected not authenticated, got %v", err)
	}
	if errors.Is(err, ErrNetworkFailure) {
		t.Fatal("unexpected network failure")
	}
}
