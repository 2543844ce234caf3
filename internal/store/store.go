package store

import (
	"context"

	"qms/qalert/internal/models"
)

type CreateEntryInput struct {
	SubjectID          string      `json:"subject_id"`
	ServiceDate        models.Date `json:"service_date"`
	VisitReason        string      `json:"visit_reason"`
	ReasonCategoryID   string      `json:"reason_category_id,omitempty"`
	ScheduleRef        *string     `json:"schedule_ref,omitempty"`
	FrozenWaitEstimate string      `json:"frozen_wait_estimate"`
}

type UpdateReasonInput struct {
	VisitReason      string `json:"visit_reason"`
	ReasonCategoryID string `json:"reason_category_id,omitempty"`
}

// RecordStore is the external queue record store. ListEntries may return
// entries of any day; callers do their own day filtering. Implementations
// assign id, sequence number and created_at on create.
type RecordStore interface {
	ListEntries(ctx context.Context) ([]models.QueueEntry, error)
	ListSubjects(ctx context.Context) ([]models.Subject, error)
	CreateEntry(ctx context.Context, input CreateEntryInput) (models.QueueEntry, error)
	UpdateStatus(ctx context.Context, entryID, status string) (models.QueueEntry, error)
	UpdateReason(ctx context.Context, entryID string, input UpdateReasonInput) (models.QueueEntry, error)
}

// FindEntry returns the entry with the given id from a listing.
func FindEntry(entries []models.QueueEntry, entryID string) (models.QueueEntry, bool) {
	for _, entry := range entries {
		if entry.ID == entryID {
			return entry, true
		}
	}
	return models.QueueEntry{}, false
}

// FindSubject returns the subject with the given id from a listing.
func FindSubject(subjects []models.Subject, subjectID string) (models.Subject, bool) {
	for _, subject := range subjects {
		if subject.ID == subjectID {
			return subject, true
		}
	}
	return models.Subject{}, false
}

// EntriesOn keeps the entries whose service date equals day.
func EntriesOn(entries []models.QueueEntry, day models.Date) []models.QueueEntry {
	var out []models.QueueEntry
	for _, entry := range entries {
		if entry.ServiceDate == day {
			out = append(out, entry)
		}
	}
	return out
}
