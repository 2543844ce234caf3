package models

import "time"

// QueueEntry is one patient's visit request for a single service date.
type QueueEntry struct {
	ID                 string    `json:"id"`
	SubjectID          string    `json:"subject_id"`
	ServiceDate        Date      `json:"service_date"`
	CreatedAt          time.Time `json:"created_at"`
	Status             string    `json:"status"`
	SequenceNumber     int       `json:"sequence_number"`
	VisitReason        string    `json:"visit_reason"`
	ReasonCategoryID   string    `json:"reason_category_id,omitempty"`
	FrozenWaitEstimate string    `json:"frozen_wait_estimate"`
	ScheduleRef        *string   `json:"schedule_ref,omitempty"`
}

const (
	StatusWaiting    = "waiting"
	StatusCalled     = "called"
	StatusNowServing = "now_serving"
	StatusCompleted  = "completed"
	StatusCancelled  = "cancelled"
)

// IsActive reports whether the entry occupies the single service slot of its day.
func (e QueueEntry) IsActive() bool {
	return e.Status == StatusCalled || e.Status == StatusNowServing
}

func (e QueueEntry) IsTerminal() bool {
	return IsTerminalStatus(e.Status)
}

func IsTerminalStatus(status string) bool {
	return status == StatusCompleted || status == StatusCancelled
}

func IsKnownStatus(status string) bool {
	switch status {
	case StatusWaiting, StatusCalled, StatusNowServing, StatusCompleted, StatusCancelled:
		return true
	default:
		return false
	}
}

// CreatedBefore orders entries FIFO; ties on created_at fall back to the id.
func CreatedBefore(a, b QueueEntry) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}
