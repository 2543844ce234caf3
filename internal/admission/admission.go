// Package admission decides which waiting entry may be called. A day has a
// single service slot: only the earliest waiting entry may be called, and
// only while no other entry of that day is called or being served.
package admission

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"qms/qalert/internal/estimate"
	"qms/qalert/internal/models"
	"qms/qalert/internal/store"

	"github.com/sirupsen/logrus"
)

type Decision struct {
	Day      models.Date
	Earliest *models.QueueEntry
	Active   []models.QueueEntry
	// Inconsistent is set when the store shows more than one active entry
	// for the day. Calls stay disabled until someone resolves it remotely.
	Inconsistent bool
}

// Evaluate recomputes the admission state of day from a full entry listing.
func Evaluate(entries []models.QueueEntry, day models.Date) Decision {
	decision := Decision{Day: day}
	if waiting := estimate.Waiting(entries, day); len(waiting) > 0 {
		earliest := waiting[0]
		decision.Earliest = &earliest
	}
	for _, entry := range entries {
		if entry.ServiceDate == day && entry.IsActive() {
			decision.Active = append(decision.Active, entry)
		}
	}
	sort.SliceStable(decision.Active, func(i, j int) bool {
		return models.CreatedBefore(decision.Active[i], decision.Active[j])
	})
	decision.Inconsistent = len(decision.Active) > 1
	return decision
}

// Check returns nil when entryID may be called now.
func (d Decision) Check(entryID string) error {
	if d.Inconsistent {
		return fmt.Errorf("%w: %d entries active on %s", store.ErrAdmissionConflict, len(d.Active), d.Day)
	}
	if d.Earliest == nil || d.Earliest.ID != entryID {
		return fmt.Errorf("%w: entry %s is not the earliest waiting entry on %s", store.ErrInvalidTransition, entryID, d.Day)
	}
	if len(d.Active) > 0 {
		return fmt.Errorf("%w: entry %s is already active on %s", store.ErrAdmissionConflict, d.Active[0].ID, d.Day)
	}
	return nil
}

func (d Decision) CanCall(entryID string) bool {
	return d.Check(entryID) == nil
}

// Next returns the entry that may be called now, if any.
func (d Decision) Next() (models.QueueEntry, bool) {
	if d.Earliest == nil || d.Check(d.Earliest.ID) != nil {
		return models.QueueEntry{}, false
	}
	return *d.Earliest, true
}

// Reporter receives inconsistencies found in the store.
type Reporter interface {
	ReportInconsistency(day models.Date, active []models.QueueEntry)
}

type LogReporter struct{}

func (LogReporter) ReportInconsistency(day models.Date, active []models.QueueEntry) {
	ids := make([]string, 0, len(active))
	for _, entry := range active {
		ids = append(ids, entry.ID)
	}
	logrus.WithFields(logrus.Fields{
		"service_date": day.String(),
		"active":       strings.Join(ids, ","),
	}).Warn("admission: multiple active entries, calls disabled until resolved")
}

// Controller evaluates admission and reports each distinct inconsistency
// once per day.
type Controller struct {
	reporter Reporter
	mu       sync.Mutex
	reported map[models.Date]string
}

func NewController(reporter Reporter) *Controller {
	if reporter == nil {
		reporter = LogReporter{}
	}
	return &Controller{reporter: reporter, reported: make(map[models.Date]string)}
}

func (c *Controller) Evaluate(entries []models.QueueEntry, day models.Date) Decision {
	decision := Evaluate(entries, day)
	c.mu.Lock()
	defer c.mu.Unlock()
	if !decision.Inconsistent {
		delete(c.reported, day)
		return decision
	}
	key := activeKey(decision.Active)
	if c.reported[day] != key {
		c.reported[day] = key
		c.reporter.ReportInconsistency(day, decision.Active)
	}
	return decision
}

func activeKey(active []models.QueueEntry) string {
	ids := make([]string, 0, len(active))
	for _, entry := range active {
		ids = append(ids, entry.ID+":"+entry.Status)
	}
	sort.Strings(ids)
	return strings.Join(ids, ",")
}
