// Package lifecycle applies status transitions to queue entries. Every
// accepted request results in exactly one write to the record store, and
// the entry returned to the caller is the one the store acknowledged.
package lifecycle

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"qms/qalert/internal/admission"
	"qms/qalert/internal/estimate"
	"qms/qalert/internal/models"
	"qms/qalert/internal/store"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const maxReasonLength = 500

// CallNotifier is told about every successful waiting -> called transition.
// Implementations must return without waiting on delivery.
type CallNotifier interface {
	NotifyCalled(entry models.QueueEntry)
}

type Options struct {
	IntervalMinutes int
	Location        *time.Location
	Now             func() time.Time
	Admission       *admission.Controller
	Notifier        CallNotifier
}

type Machine struct {
	store     store.RecordStore
	interval  int
	loc       *time.Location
	now       func() time.Time
	admission *admission.Controller
	notifier  CallNotifier
	tracer    trace.Tracer
}

type CreateInput struct {
	SubjectID        string      `json:"subject_id"`
	ServiceDate      models.Date `json:"service_date"`
	VisitReason      string      `json:"visit_reason"`
	ReasonCategoryID string      `json:"reason_category_id"`
	ScheduleRef      *string     `json:"schedule_ref"`
}

func (in CreateInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.SubjectID, validation.Required),
		validation.Field(&in.VisitReason, validation.Required, validation.Length(1, maxReasonLength)),
	)
}

// AppointmentInput describes an external appointment that was confirmed.
type AppointmentInput struct {
	SubjectID        string      `json:"subject_id"`
	ScheduleRef      string      `json:"schedule_ref"`
	AppointmentDate  models.Date `json:"appointment_date"`
	VisitReason      string      `json:"visit_reason"`
	ReasonCategoryID string      `json:"reason_category_id"`
}

func (in AppointmentInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.SubjectID, validation.Required),
		validation.Field(&in.ScheduleRef, validation.Required),
		validation.Field(&in.VisitReason, validation.Length(0, maxReasonLength)),
	)
}

func New(st store.RecordStore, options Options) *Machine {
	loc := options.Location
	if loc == nil {
		loc = time.Local
	}
	now := options.Now
	if now == nil {
		now = time.Now
	}
	controller := options.Admission
	if controller == nil {
		controller = admission.NewController(nil)
	}
	interval := options.IntervalMinutes
	if interval <= 0 {
		interval = estimate.DefaultIntervalMinutes
	}
	return &Machine{
		store:     st,
		interval:  interval,
		loc:       loc,
		now:       now,
		admission: controller,
		notifier:  options.Notifier,
		tracer:    otel.Tracer("qms/qalert/lifecycle"),
	}
}

// Admission returns the controller that gates calls, so views can share
// its inconsistency reporting.
func (m *Machine) Admission() *admission.Controller {
	return m.admission
}

// Today is the clinic's current service date.
func (m *Machine) Today() models.Date {
	return models.DateOf(m.now(), m.loc)
}

// Create books a new waiting entry. The wait estimate is computed from the
// entries that exist right now and is never recomputed afterwards.
func (m *Machine) Create(ctx context.Context, input CreateInput) (models.QueueEntry, error) {
	input.SubjectID = strings.TrimSpace(input.SubjectID)
	input.VisitReason = strings.TrimSpace(input.VisitReason)
	if err := validationError(input.Validate()); err != nil {
		return models.QueueEntry{}, err
	}
	if input.ServiceDate.IsZero() {
		input.ServiceDate = m.Today()
	}
	if input.ServiceDate.Time(time.UTC).Before(m.Today().Time(time.UTC)) {
		return models.QueueEntry{}, store.ValidationRejected("service_date", "service_date is in the past")
	}

	ctx, span := m.tracer.Start(ctx, "lifecycle.Create", trace.WithAttributes(attribute.String("service_date", input.ServiceDate.String())))
	defer span.End()

	entries, err := m.store.ListEntries(ctx)
	if err != nil {
		return models.QueueEntry{}, fmt.Errorf("create entry: %w", err)
	}
	return m.create(ctx, entries, input)
}

func (m *Machine) create(ctx context.Context, entries []models.QueueEntry, input CreateInput) (models.QueueEntry, error) {
	estimateText := estimate.FrozenEstimate(entries, input.ServiceDate, m.interval)
	entry, err := m.store.CreateEntry(context.WithoutCancel(ctx), store.CreateEntryInput{
		SubjectID:          input.SubjectID,
		ServiceDate:        input.ServiceDate,
		VisitReason:        input.VisitReason,
		ReasonCategoryID:   input.ReasonCategoryID,
		ScheduleRef:        input.ScheduleRef,
		FrozenWaitEstimate: estimateText,
	})
	if err != nil {
		return models.QueueEntry{}, fmt.Errorf("create entry: %w", err)
	}
	logrus.WithFields(logrus.Fields{
		"entry_id":        entry.ID,
		"service_date":    entry.ServiceDate.String(),
		"sequence_number": entry.SequenceNumber,
		"estimate":        entry.FrozenWaitEstimate,
	}).Info("lifecycle: entry created")
	return entry, nil
}

// CreateFromAppointment turns a confirmed appointment for today into a
// waiting entry and reports whether it created one. Confirming the same
// appointment again returns the entry created the first time, whatever its
// status, and never creates a second one.
func (m *Machine) CreateFromAppointment(ctx context.Context, input AppointmentInput) (models.QueueEntry, bool, error) {
	input.SubjectID = strings.TrimSpace(input.SubjectID)
	input.ScheduleRef = strings.TrimSpace(input.ScheduleRef)
	if err := validationError(input.Validate()); err != nil {
		return models.QueueEntry{}, false, err
	}
	today := m.Today()
	if input.AppointmentDate.IsZero() {
		input.AppointmentDate = today
	}
	if input.AppointmentDate != today {
		return models.QueueEntry{}, false, store.ValidationRejected("service_date", "appointment is not for today")
	}

	ctx, span := m.tracer.Start(ctx, "lifecycle.CreateFromAppointment")
	defer span.End()

	entries, err := m.store.ListEntries(ctx)
	if err != nil {
		return models.QueueEntry{}, false, fmt.Errorf("create entry from appointment: %w", err)
	}
	for _, entry := range store.EntriesOn(entries, today) {
		if entry.ScheduleRef != nil && *entry.ScheduleRef == input.ScheduleRef {
			return entry, false, nil
		}
	}

	ref := input.ScheduleRef
	reason := strings.TrimSpace(input.VisitReason)
	if reason == "" {
		reason = "appointment"
	}
	entry, err := m.create(ctx, entries, CreateInput{
		SubjectID:        input.SubjectID,
		ServiceDate:      today,
		VisitReason:      reason,
		ReasonCategoryID: input.ReasonCategoryID,
		ScheduleRef:      &ref,
	})
	if err != nil {
		return models.QueueEntry{}, false, err
	}
	return entry, true, nil
}

func (m *Machine) Call(ctx context.Context, entryID string) (models.QueueEntry, error) {
	return m.Apply(ctx, entryID, ActionCall)
}

func (m *Machine) Serve(ctx context.Context, entryID string) (models.QueueEntry, error) {
	return m.Apply(ctx, entryID, ActionServe)
}

func (m *Machine) Complete(ctx context.Context, entryID string) (models.QueueEntry, error) {
	return m.Apply(ctx, entryID, ActionComplete)
}

func (m *Machine) Cancel(ctx context.Context, entryID string) (models.QueueEntry, error) {
	return m.Apply(ctx, entryID, ActionCancel)
}

// Apply validates a status action against a fresh read of the store and
// then issues the single write. Guards are evaluated before any write.
func (m *Machine) Apply(ctx context.Context, entryID, action string) (models.QueueEntry, error) {
	target, ok := TargetStatus(action)
	if !ok || action == ActionUpdateReason {
		return models.QueueEntry{}, fmt.Errorf("%w: unknown action %q", store.ErrInvalidTransition, action)
	}

	ctx, span := m.tracer.Start(ctx, "lifecycle."+action, trace.WithAttributes(attribute.String("entry_id", entryID)))
	defer span.End()

	entry, entries, err := m.load(ctx, entryID)
	if err != nil {
		return models.QueueEntry{}, err
	}
	if !ValidTransition(action, entry.Status) {
		return models.QueueEntry{}, fmt.Errorf("%w: cannot %s an entry that is %s", store.ErrInvalidTransition, action, entry.Status)
	}
	if action == ActionCall {
		decision := m.admission.Evaluate(entries, entry.ServiceDate)
		if err := decision.Check(entry.ID); err != nil {
			return models.QueueEntry{}, err
		}
	}

	// The write runs to completion even if the requesting view goes away.
	updated, err := m.store.UpdateStatus(context.WithoutCancel(ctx), entry.ID, target)
	if err != nil {
		return models.QueueEntry{}, fmt.Errorf("%s entry %s: %w", action, entry.ID, err)
	}

	logrus.WithFields(logrus.Fields{
		"entry_id": updated.ID,
		"action":   action,
		"from":     entry.Status,
		"to":       updated.Status,
	}).Info("lifecycle: transition applied")

	if action == ActionCall && m.notifier != nil {
		m.notifier.NotifyCalled(updated)
	}
	return updated, nil
}

// UpdateReason edits the visit reason of an entry that is still waiting.
func (m *Machine) UpdateReason(ctx context.Context, entryID string, input store.UpdateReasonInput) (models.QueueEntry, error) {
	input.VisitReason = strings.TrimSpace(input.VisitReason)
	err := validation.ValidateStruct(&input,
		validation.Field(&input.VisitReason, validation.Required, validation.Length(1, maxReasonLength)),
	)
	if err := validationError(err); err != nil {
		return models.QueueEntry{}, err
	}

	ctx, span := m.tracer.Start(ctx, "lifecycle.update_reason", trace.WithAttributes(attribute.String("entry_id", entryID)))
	defer span.End()

	entry, _, err := m.load(ctx, entryID)
	if err != nil {
		return models.QueueEntry{}, err
	}
	if !ValidTransition(ActionUpdateReason, entry.Status) {
		return models.QueueEntry{}, fmt.Errorf("%w: cannot update the reason of an entry that is %s", store.ErrInvalidTransition, entry.Status)
	}
	updated, err := m.store.UpdateReason(context.WithoutCancel(ctx), entry.ID, input)
	if err != nil {
		return models.QueueEntry{}, fmt.Errorf("update reason of entry %s: %w", entry.ID, err)
	}
	return updated, nil
}

func (m *Machine) load(ctx context.Context, entryID string) (models.QueueEntry, []models.QueueEntry, error) {
	entries, err := m.store.ListEntries(ctx)
	if err != nil {
		return models.QueueEntry{}, nil, fmt.Errorf("load entry %s: %w", entryID, err)
	}
	entry, ok := store.FindEntry(entries, entryID)
	if !ok {
		return models.QueueEntry{}, nil, fmt.Errorf("%w: %s", store.ErrEntryNotFound, entryID)
	}
	return entry, entries, nil
}

// validationError turns ozzo-validation field errors into the store's
// ValidationRejected form, reporting the first field alphabetically.
func validationError(err error) error {
	if err == nil {
		return nil
	}
	fieldErrs, ok := err.(validation.Errors)
	if !ok || len(fieldErrs) == 0 {
		return store.ValidationRejected("", err.Error())
	}
	fields := make([]string, 0, len(fieldErrs))
	for field := range fieldErrs {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return store.ValidationRejected(fields[0], fieldErrs[fields[0]].Error())
}
