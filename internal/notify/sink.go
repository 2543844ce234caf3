package notify

import (
	"expvar"

	"github.com/sirupsen/logrus"
)

var (
	sentTotal    = expvar.NewInt("notifications_sent_total")
	failedTotal  = expvar.NewInt("notifications_failed_total")
	droppedTotal = expvar.NewInt("notifications_dropped_total")
)

// Outcome is what happened to one notification job.
type Outcome struct {
	Job            Job
	To             string
	Accepted       bool
	ProviderResult string
	Err            error
	Dropped        bool
}

// Sink receives delivery outcomes. Nothing is reported back to the
// request that called the entry.
type Sink interface {
	Record(outcome Outcome)
}

type LogSink struct{}

func (LogSink) Record(outcome Outcome) {
	fields := logrus.Fields{
		"entry_id":        outcome.Job.EntryID,
		"subject_id":      outcome.Job.SubjectID,
		"sequence_number": outcome.Job.SequenceNumber,
	}
	switch {
	case outcome.Dropped:
		droppedTotal.Add(1)
		logrus.WithFields(fields).Warn("notify dropped")
	case outcome.Err != nil:
		failedTotal.Add(1)
		logrus.WithFields(fields).WithError(outcome.Err).Warn("notify failed")
	default:
		sentTotal.Add(1)
		fields["to"] = outcome.To
		fields["provider_result"] = outcome.ProviderResult
		logrus.WithFields(fields).Info("notify sent")
	}
}

type SinkFunc func(outcome Outcome)

func (f SinkFunc) Record(outcome Outcome) {
	f(outcome)
}
