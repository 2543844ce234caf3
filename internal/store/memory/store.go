package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"qms/qalert/internal/models"
	"qms/qalert/internal/store"

	"github.com/google/uuid"
)

// Store is an in-process record store. It backs the demo mode of the
// binary and the package tests of the engine.
type Store struct {
	mu                  sync.Mutex
	entries             map[string]models.QueueEntry
	subjects            map[string]models.Subject
	sequence            map[models.Date]int
	now                 func() time.Time
	loc                 *time.Location
	enforceSingleActive bool
	failure             error
	writes              int
}

type Options struct {
	Now      func() time.Time
	Location *time.Location
	// EnforceSingleActive makes the store refuse a second active entry per
	// day, mirroring a conditional update on the real store.
	EnforceSingleActive bool
}

func New(options Options) *Store {
	now := options.Now
	if now == nil {
		now = time.Now
	}
	loc := options.Location
	if loc == nil {
		loc = time.UTC
	}
	return &Store{
		entries:             make(map[string]models.QueueEntry),
		subjects:            make(map[string]models.Subject),
		sequence:            make(map[models.Date]int),
		now:                 now,
		loc:                 loc,
		enforceSingleActive: options.EnforceSingleActive,
	}
}

// SetFailure makes every call fail with err until it is cleared with nil.
func (s *Store) SetFailure(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failure = err
}

// Writes counts accepted and rejected write calls alike.
func (s *Store) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

func (s *Store) PutSubject(subject models.Subject) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subjects[subject.ID] = subject
}

// Put stores an entry as-is, bypassing every check. Used for seeding.
func (s *Store) Put(entry models.QueueEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.SequenceNumber > s.sequence[entry.ServiceDate] {
		s.sequence[entry.ServiceDate] = entry.SequenceNumber
	}
	s.entries[entry.ID] = entry
}

func (s *Store) ListEntries(ctx context.Context) ([]models.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failure != nil {
		return nil, s.failure
	}
	entries := make([]models.QueueEntry, 0, len(s.entries))
	for _, entry := range s.entries {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool { return models.CreatedBefore(entries[i], entries[j]) })
	return entries, nil
}

func (s *Store) ListSubjects(ctx context.Context) ([]models.Subject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failure != nil {
		return nil, s.failure
	}
	subjects := make([]models.Subject, 0, len(s.subjects))
	for _, subject := range s.subjects {
		subjects = append(subjects, subject)
	}
	sort.Slice(subjects, func(i, j int) bool { return subjects[i].ID < subjects[j].ID })
	return subjects, nil
}

func (s *Store) CreateEntry(ctx context.Context, input store.CreateEntryInput) (models.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	if s.failure != nil {
		return models.QueueEntry{}, s.failure
	}
	if strings.TrimSpace(input.SubjectID) == "" {
		return models.QueueEntry{}, store.ValidationRejected("subject_id", "subject_id is required")
	}
	if input.ServiceDate.IsZero() {
		return models.QueueEntry{}, store.ValidationRejected("service_date", "service_date is required")
	}

	s.sequence[input.ServiceDate]++
	entry := models.QueueEntry{
		ID:                 uuid.NewString(),
		SubjectID:          input.SubjectID,
		ServiceDate:        input.ServiceDate,
		CreatedAt:          s.now().In(s.loc),
		Status:             models.StatusWaiting,
		SequenceNumber:     s.sequence[input.ServiceDate],
		VisitReason:        input.VisitReason,
		ReasonCategoryID:   input.ReasonCategoryID,
		FrozenWaitEstimate: input.FrozenWaitEstimate,
		ScheduleRef:        input.ScheduleRef,
	}
	s.entries[entry.ID] = entry
	return entry, nil
}

func (s *Store) UpdateStatus(ctx context.Context, entryID, status string) (models.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	if s.failure != nil {
		return models.QueueEntry{}, s.failure
	}
	entry, ok := s.entries[entryID]
	if !ok {
		return models.QueueEntry{}, store.ErrEntryNotFound
	}
	if !models.IsKnownStatus(status) {
		return models.QueueEntry{}, store.ValidationRejected("status", "unknown status")
	}
	if entry.IsTerminal() {
		return models.QueueEntry{}, store.ValidationRejected("status", "entry is closed")
	}
	if s.enforceSingleActive && status == models.StatusCalled {
		for _, other := range s.entries {
			if other.ID != entry.ID && other.ServiceDate == entry.ServiceDate && other.IsActive() {
				return models.QueueEntry{}, store.ErrAdmissionConflict
			}
		}
	}
	entry.Status = status
	s.entries[entryID] = entry
	return entry, nil
}

func (s *Store) UpdateReason(ctx context.Context, entryID string, input store.UpdateReasonInput) (models.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	if s.failure != nil {
		return models.QueueEntry{}, s.failure
	}
	entry, ok := s.entries[entryID]
	if !ok {
		return models.QueueEntry{}, store.ErrEntryNotFound
	}
	if entry.Status != models.StatusWaiting {
		return models.QueueEntry{}, store.ValidationRejected("visit_reason", "entry is no longer waiting")
	}
	entry.VisitReason = input.VisitReason
	entry.ReasonCategoryID = input.ReasonCategoryID
	s.entries[entryID] = entry
	return entry, nil
}
