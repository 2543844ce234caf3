// Package observer keeps a local snapshot of one day's queue in step with
// the record store. Each Observer polls the store, normalizes what it gets,
// and publishes only when the snapshot actually changed.
package observer

import (
	"context"
	"reflect"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"qms/qalert/internal/models"
	"qms/qalert/internal/store"

	"github.com/sirupsen/logrus"
)

const (
	KindConsole = "console"
	KindPatient = "patient"
	KindDisplay = "display"
)

// Source is the read side of the record store.
type Source interface {
	ListEntries(ctx context.Context) ([]models.QueueEntry, error)
	ListSubjects(ctx context.Context) ([]models.Subject, error)
}

// Snapshot is the normalized state of one day.
type Snapshot struct {
	Day      models.Date
	Entries  []models.QueueEntry
	Subjects []models.Subject
}

// Comparator reports whether two snapshots are the same.
type Comparator func(a, b Snapshot) bool

func DeepEqual(a, b Snapshot) bool {
	return reflect.DeepEqual(a, b)
}

// Context is the per-observer memory of what was last published.
type Context struct {
	LastSnapshot *Snapshot
	Comparator   Comparator
}

type Subscriber interface {
	Publish(revision uint64, snapshot Snapshot)
}

type SubscriberFunc func(revision uint64, snapshot Snapshot)

func (f SubscriberFunc) Publish(revision uint64, snapshot Snapshot) {
	f(revision, snapshot)
}

type Options struct {
	Kind string
	// Interval of the poll loop. Zero means the observer only refreshes on
	// demand.
	Interval time.Duration
	// Day returns the day of interest for each poll.
	Day     func() models.Date
	Context *Context
}

type Observer struct {
	kind     string
	source   Source
	interval time.Duration
	day      func() models.Date

	pollMu sync.Mutex

	mu          sync.RWMutex
	state       *Context
	revision    uint64
	nextSubID   int
	subscribers map[int]Subscriber

	running int32
}

func New(source Source, options Options) *Observer {
	state := options.Context
	if state == nil {
		state = &Context{}
	}
	if state.Comparator == nil {
		state.Comparator = DeepEqual
	}
	day := options.Day
	if day == nil {
		day = func() models.Date { return models.DateOf(time.Now(), time.Local) }
	}
	return &Observer{
		kind:        options.Kind,
		source:      source,
		interval:    options.Interval,
		day:         day,
		state:       state,
		subscribers: make(map[int]Subscriber),
	}
}

func (o *Observer) Kind() string {
	return o.kind
}

func (o *Observer) Interval() time.Duration {
	return o.interval
}

// Subscribe registers s and returns a function that removes it again.
func (o *Observer) Subscribe(s Subscriber) func() {
	o.mu.Lock()
	defer o.mu.Unlock()
	id := o.nextSubID
	o.nextSubID++
	o.subscribers[id] = s
	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		delete(o.subscribers, id)
	}
}

// Snapshot returns the last published snapshot and its revision.
func (o *Observer) Snapshot() (Snapshot, uint64, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.state.LastSnapshot == nil {
		return Snapshot{}, 0, false
	}
	return *o.state.LastSnapshot, o.revision, true
}

func (o *Observer) Revision() uint64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.revision
}

// Refresh polls the store once. It reports whether a new snapshot was
// published.
func (o *Observer) Refresh(ctx context.Context) (bool, error) {
	o.pollMu.Lock()
	defer o.pollMu.Unlock()

	day := o.day()
	entries, err := o.source.ListEntries(ctx)
	if err != nil {
		return false, err
	}
	subjects, err := o.source.ListSubjects(ctx)
	if err != nil {
		return false, err
	}
	next := normalize(day, entries, subjects)

	o.mu.Lock()
	if o.state.LastSnapshot != nil && o.state.Comparator(*o.state.LastSnapshot, next) {
		o.mu.Unlock()
		return false, nil
	}
	o.state.LastSnapshot = &next
	o.revision++
	revision := o.revision
	subscribers := make([]Subscriber, 0, len(o.subscribers))
	for _, s := range o.subscribers {
		subscribers = append(subscribers, s)
	}
	o.mu.Unlock()

	for _, s := range subscribers {
		s.Publish(revision, next)
	}
	return true, nil
}

// Run polls on the observer's interval until ctx is cancelled. Poll errors
// are logged and the next tick tries again.
func (o *Observer) Run(ctx context.Context) {
	o.poll(ctx)
	if o.interval <= 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.poll(ctx)
		}
	}
}

func (o *Observer) poll(ctx context.Context) {
	if !atomic.CompareAndSwapInt32(&o.running, 0, 1) {
		return
	}
	defer atomic.StoreInt32(&o.running, 0)
	if _, err := o.Refresh(ctx); err != nil && ctx.Err() == nil {
		logrus.WithFields(logrus.Fields{
			"observer": o.kind,
		}).WithError(err).Warn("observer poll failed")
	}
}

func normalize(day models.Date, entries []models.QueueEntry, subjects []models.Subject) Snapshot {
	dayEntries := store.EntriesOn(entries, day)
	sort.Slice(dayEntries, func(i, j int) bool { return models.CreatedBefore(dayEntries[i], dayEntries[j]) })
	sorted := append([]models.Subject(nil), subjects...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	return Snapshot{Day: day, Entries: dayEntries, Subjects: sorted}
}
