package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"qms/qalert/internal/models"
	"qms/qalert/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

const uniqueViolation = "23505"

const entryColumns = `entry_id, subject_id, service_date, created_at, status, sequence_number,
	visit_reason, reason_category_id, frozen_wait_estimate, schedule_ref`

type Store struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, now: time.Now}
}

// Migrate creates the tables the store needs if they are missing.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schemaSQL)
	return err
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) ListEntries(ctx context.Context) ([]models.QueueEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+entryColumns+`
		FROM queue_entries
		ORDER BY service_date, created_at, entry_id
	`)
	if err != nil {
		return nil, networkError(err)
	}
	defer rows.Close()

	entries := []models.QueueEntry{}
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, networkError(err)
	}
	return entries, nil
}

func (s *Store) ListSubjects(ctx context.Context) ([]models.Subject, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT subject_id, display_name, phone, external_id
		FROM subjects
		ORDER BY subject_id
	`)
	if err != nil {
		return nil, networkError(err)
	}
	defer rows.Close()

	subjects := []models.Subject{}
	for rows.Next() {
		var subject models.Subject
		if err := rows.Scan(&subject.ID, &subject.DisplayName, &subject.Phone, &subject.ExternalID); err != nil {
			return nil, err
		}
		subjects = append(subjects, subject)
	}
	if err := rows.Err(); err != nil {
		return nil, networkError(err)
	}
	return subjects, nil
}

// UpsertSubject stores the contact details of a subject.
func (s *Store) UpsertSubject(ctx context.Context, subject models.Subject) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO subjects (subject_id, display_name, phone, external_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (subject_id) DO UPDATE
		SET display_name = EXCLUDED.display_name, phone = EXCLUDED.phone, external_id = EXCLUDED.external_id
	`, subject.ID, subject.DisplayName, subject.Phone, subject.ExternalID)
	return err
}

func (s *Store) CreateEntry(ctx context.Context, input store.CreateEntryInput) (entry models.QueueEntry, err error) {
	if strings.TrimSpace(input.SubjectID) == "" {
		return models.QueueEntry{}, store.ValidationRejected("subject_id", "subject_id is required")
	}
	if input.ServiceDate.IsZero() {
		return models.QueueEntry{}, store.ValidationRejected("service_date", "service_date is required")
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.QueueEntry{}, networkError(err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	seq, err := nextSequenceNumber(ctx, tx, input.ServiceDate)
	if err != nil {
		return models.QueueEntry{}, err
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO queue_entries (
			entry_id, subject_id, service_date, created_at, status, sequence_number,
			visit_reason, reason_category_id, frozen_wait_estimate, schedule_ref
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING `+entryColumns,
		uuid.NewString(), input.SubjectID, input.ServiceDate.Time(time.UTC), s.now().UTC(), models.StatusWaiting, seq,
		input.VisitReason, input.ReasonCategoryID, input.FrozenWaitEstimate, input.ScheduleRef)
	entry, err = scanEntry(row)
	if err != nil {
		if isUniqueViolation(err) {
			err = store.ValidationRejected("schedule_ref", "appointment already has an entry")
		}
		return models.QueueEntry{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.QueueEntry{}, networkError(err)
	}
	return entry, nil
}

// UpdateStatus writes the new status in one statement. A call only lands
// when no other entry of the same day is active, and the partial unique
// index catches writers racing past that check.
func (s *Store) UpdateStatus(ctx context.Context, entryID, status string) (models.QueueEntry, error) {
	if !models.IsKnownStatus(status) {
		return models.QueueEntry{}, store.ValidationRejected("status", "unknown status")
	}
	row := s.pool.QueryRow(ctx, `
		UPDATE queue_entries AS e
		SET status = $2::text
		WHERE e.entry_id = $1
			AND e.status NOT IN ('completed','cancelled')
			AND ($2::text <> 'called' OR NOT EXISTS (
				SELECT 1 FROM queue_entries o
				WHERE o.service_date = e.service_date
					AND o.entry_id <> e.entry_id
					AND o.status IN ('called','now_serving')
			))
		RETURNING `+entryColumns, entryID, status)
	entry, err := scanEntry(row)
	if err == nil {
		return entry, nil
	}
	if isUniqueViolation(err) {
		return models.QueueEntry{}, fmt.Errorf("%w: another entry became active", store.ErrAdmissionConflict)
	}
	if !errors.Is(err, store.ErrEntryNotFound) {
		return models.QueueEntry{}, err
	}

	current, err := s.getEntry(ctx, entryID)
	if err != nil {
		return models.QueueEntry{}, err
	}
	if current.IsTerminal() {
		return models.QueueEntry{}, store.ValidationRejected("status", "entry is closed")
	}
	return models.QueueEntry{}, fmt.Errorf("%w: another entry is active on %s", store.ErrAdmissionConflict, current.ServiceDate)
}

func (s *Store) UpdateReason(ctx context.Context, entryID string, input store.UpdateReasonInput) (models.QueueEntry, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE queue_entries
		SET visit_reason = $2, reason_category_id = $3
		WHERE entry_id = $1 AND status = 'waiting'
		RETURNING `+entryColumns, entryID, input.VisitReason, input.ReasonCategoryID)
	entry, err := scanEntry(row)
	if err == nil {
		return entry, nil
	}
	if !errors.Is(err, store.ErrEntryNotFound) {
		return models.QueueEntry{}, err
	}
	if _, err := s.getEntry(ctx, entryID); err != nil {
		return models.QueueEntry{}, err
	}
	return models.QueueEntry{}, store.ValidationRejected("visit_reason", "entry is no longer waiting")
}

func (s *Store) getEntry(ctx context.Context, entryID string) (models.QueueEntry, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+entryColumns+` FROM queue_entries WHERE entry_id = $1`, entryID)
	return scanEntry(row)
}

func nextSequenceNumber(ctx context.Context, tx pgx.Tx, day models.Date) (int, error) {
	var next int
	row := tx.QueryRow(ctx, `
		INSERT INTO entry_sequences (service_date, next_number)
		VALUES ($1, 1)
		ON CONFLICT (service_date)
		DO UPDATE SET next_number = entry_sequences.next_number + 1
		RETURNING next_number
	`, day.Time(time.UTC))
	if err := row.Scan(&next); err != nil {
		return 0, networkError(err)
	}
	return next, nil
}

func scanEntry(row pgx.Row) (models.QueueEntry, error) {
	var entry models.QueueEntry
	var serviceDate time.Time
	var scheduleRef sql.NullString
	err := row.Scan(&entry.ID, &entry.SubjectID, &serviceDate, &entry.CreatedAt, &entry.Status, &entry.SequenceNumber,
		&entry.VisitReason, &entry.ReasonCategoryID, &entry.FrozenWaitEstimate, &scheduleRef)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.QueueEntry{}, store.ErrEntryNotFound
		}
		return models.QueueEntry{}, err
	}
	entry.ServiceDate = models.DateOf(serviceDate, time.UTC)
	if scheduleRef.Valid {
		ref := scheduleRef.String
		entry.ScheduleRef = &ref
	}
	return entry, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// networkError marks connection level failures so callers treat them as
// transient. Errors reported by the server pass through.
func networkError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return err
	}
	return fmt.Errorf("%w: %v", store.ErrNetworkFailure, err)
}
