package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"qms/qalert/internal/models"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type instrumentedStore struct {
	next    RecordStore
	timeout time.Duration
	tracer  trace.Tracer
}

// Instrument wraps a record store so every call gets the same deadline and
// a span. A deadline hit is reported as ErrNetworkFailure.
func Instrument(next RecordStore, timeout time.Duration) RecordStore {
	return &instrumentedStore{
		next:    next,
		timeout: timeout,
		tracer:  otel.Tracer("qms/qalert/store"),
	}
}

func (s *instrumentedStore) begin(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(error) error) {
	cancel := func() {}
	if s.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
	}
	ctx, span := s.tracer.Start(ctx, "store."+op, trace.WithAttributes(attrs...))
	return ctx, func(err error) error {
		defer cancel()
		defer span.End()
		if err == nil {
			return nil
		}
		if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrNetworkFailure) {
			err = fmt.Errorf("%w: %s: %v", ErrNetworkFailure, op, err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
}

func (s *instrumentedStore) ListEntries(ctx context.Context) ([]models.QueueEntry, error) {
	ctx, end := s.begin(ctx, "ListEntries")
	entries, err := s.next.ListEntries(ctx)
	return entries, end(err)
}

func (s *instrumentedStore) ListSubjects(ctx context.Context) ([]models.Subject, error) {
	ctx, end := s.begin(ctx, "ListSubjects")
	subjects, err := s.next.ListSubjects(ctx)
	return subjects, end(err)
}

func (s *instrumentedStore) CreateEntry(ctx context.Context, input CreateEntryInput) (models.QueueEntry, error) {
	ctx, end := s.begin(ctx, "CreateEntry",
		attribute.String("subject_id", input.SubjectID),
		attribute.String("service_date", input.ServiceDate.String()))
	entry, err := s.next.CreateEntry(ctx, input)
	return entry, end(err)
}

func (s *instrumentedStore) UpdateStatus(ctx context.Context, entryID, status string) (models.QueueEntry, error) {
	ctx, end := s.begin(ctx, "UpdateStatus",
		attribute.String("entry_id", entryID),
		attribute.String("status", status))
	entry, err := s.next.UpdateStatus(ctx, entryID, status)
	return entry, end(err)
}

func (s *instrumentedStore) UpdateReason(ctx context.Context, entryID string, input UpdateReasonInput) (models.QueueEntry, error) {
	ctx, end := s.begin(ctx, "UpdateReason", attribute.String("entry_id", entryID))
	entry, err := s.next.UpdateReason(ctx, entryID, input)
	return entry, end(err)
}
