// Package notify sends the "you are being called" message to a patient.
// Triggering is separate from delivery: the lifecycle only enqueues a Job,
// and a Deliverer later looks up the subject, builds the text and hands it
// to the Gateway.
package notify

import (
	"context"
	"fmt"
	"time"

	"qms/qalert/internal/models"
	"qms/qalert/internal/store"
)

// Job carries everything needed to notify one called entry.
type Job struct {
	EntryID        string      `json:"entry_id"`
	SubjectID      string      `json:"subject_id"`
	SequenceNumber int         `json:"sequence_number"`
	ServiceDate    models.Date `json:"service_date"`
}

func JobFor(entry models.QueueEntry) Job {
	return Job{
		EntryID:        entry.ID,
		SubjectID:      entry.SubjectID,
		SequenceNumber: entry.SequenceNumber,
		ServiceDate:    entry.ServiceDate,
	}
}

// SubjectLister is the part of the record store delivery needs.
type SubjectLister interface {
	ListSubjects(ctx context.Context) ([]models.Subject, error)
}

type DeliverOptions struct {
	From        string
	CountryCode string
	Language    string
	Template    string
	Timeout     time.Duration
}

type Deliverer struct {
	subjects    SubjectLister
	gateway     Gateway
	sink        Sink
	from        string
	countryCode string
	template    string
	timeout     time.Duration
}

func NewDeliverer(subjects SubjectLister, gateway Gateway, sink Sink, options DeliverOptions) *Deliverer {
	if sink == nil {
		sink = LogSink{}
	}
	template := options.Template
	if template == "" {
		template = defaultCalledTemplate(options.Language)
	}
	countryCode := options.CountryCode
	if countryCode == "" {
		countryCode = DefaultCountryCode
	}
	timeout := options.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Deliverer{
		subjects:    subjects,
		gateway:     gateway,
		sink:        sink,
		from:        options.From,
		countryCode: countryCode,
		template:    template,
		timeout:     timeout,
	}
}

// Deliver runs one job to completion and records the outcome in the sink.
// Failures are not retried.
func (d *Deliverer) Deliver(ctx context.Context, job Job) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	outcome := Outcome{Job: job}
	message, err := d.compose(ctx, job)
	if err == nil {
		outcome.To = message.To
		var result Result
		result, err = d.gateway.Send(ctx, message)
		outcome.Accepted = result.Accepted
		outcome.ProviderResult = result.ProviderResult
		if err == nil && !result.Accepted {
			err = fmt.Errorf("provider did not accept message: %s", result.ProviderResult)
		}
	}
	if err != nil {
		outcome.Err = fmt.Errorf("%w: entry %s: %v", ErrNotificationFailed, job.EntryID, err)
	}
	d.sink.Record(outcome)
	return outcome.Err
}

func (d *Deliverer) compose(ctx context.Context, job Job) (Message, error) {
	subjects, err := d.subjects.ListSubjects(ctx)
	if err != nil {
		return Message{}, fmt.Errorf("lookup subject: %w", err)
	}
	subject, ok := store.FindSubject(subjects, job.SubjectID)
	if !ok {
		return Message{}, fmt.Errorf("subject %s not found", job.SubjectID)
	}
	if subject.Phone == "" {
		return Message{}, fmt.Errorf("subject %s has no phone", job.SubjectID)
	}
	to, err := NormalizePhone(subject.Phone, d.countryCode)
	if err != nil {
		return Message{}, fmt.Errorf("subject %s: %w", job.SubjectID, err)
	}
	return Message{
		From: d.from,
		To:   to,
		Text: renderTemplate(d.template, job, subject),
	}, nil
}
