package observer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"qms/qalert/internal/models"
	"qms/qalert/internal/store/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	today    = models.Date{Year: 2026, Month: time.March, Day: 10}
	tomorrow = models.Date{Year: 2026, Month: time.March, Day: 11}
)

func at(hour, minute int) time.Time {
	return time.Date(2026, 3, 10, hour, minute, 0, 0, time.UTC)
}

func seeded() *memory.Store {
	st := memory.New(memory.Options{})
	st.PutSubject(models.Subject{ID: "s2", DisplayName: "Budi"})
	st.PutSubject(models.Subject{ID: "s1", DisplayName: "Sari"})
	st.Put(models.QueueEntry{ID: "b", SubjectID: "s2", ServiceDate: today, CreatedAt: at(9, 5), Status: models.StatusWaiting, SequenceNumber: 2})
	st.Put(models.QueueEntry{ID: "a", SubjectID: "s1", ServiceDate: today, CreatedAt: at(9, 0), Status: models.StatusWaiting, SequenceNumber: 1})
	st.Put(models.QueueEntry{ID: "t", SubjectID: "s1", ServiceDate: tomorrow, CreatedAt: at(8, 0), Status: models.StatusWaiting, SequenceNumber: 1})
	return st
}

func newObserver(src Source) *Observer {
	return New(src, Options{Kind: KindConsole, Day: func() models.Date { return today }})
}

func TestRefreshUnchangedSnapshotDoesNotRepublish(t *testing.T) {
	o := newObserver(seeded())
	var published int32
	o.Subscribe(SubscriberFunc(func(revision uint64, snapshot Snapshot) {
		atomic.AddInt32(&published, 1)
	}))

	changed, err := o.Refresh(context.Background())
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = o.Refresh(context.Background())
	require.NoError(t, err)
	assert.False(t, changed)

	assert.Equal(t, int32(1), atomic.LoadInt32(&published))
	assert.Equal(t, uint64(1), o.Revision())
}

func TestRefreshFiltersAndNormalizes(t *testing.T) {
	o := newObserver(seeded())
	_, err := o.Refresh(context.Background())
	require.NoError(t, err)

	snapshot, revision, ok := o.Snapshot()
	require.True(t, ok)
	assert.Equal(t, uint64(1), revision)
	require.Len(t, snapshot.Entries, 2)
	assert.Equal(t, "a", snapshot.Entries[0].ID)
	assert.Equal(t, "b", snapshot.Entries[1].ID)
	assert.Equal(t, "s1", snapshot.Subjects[0].ID)
}

func TestRefreshPublishesChanges(t *testing.T) {
	st := seeded()
	o := newObserver(st)
	var revisions []uint64
	o.Subscribe(SubscriberFunc(func(revision uint64, snapshot Snapshot) {
		revisions = append(revisions, revision)
	}))

	_, err := o.Refresh(context.Background())
	require.NoError(t, err)
	_, err = st.UpdateStatus(context.Background(), "a", models.StatusCalled)
	require.NoError(t, err)
	changed, err := o.Refresh(context.Background())
	require.NoError(t, err)
	assert.True(t, changed)

	_, err = st.UpdateStatus(context.Background(), "t", models.StatusCancelled)
	require.NoError(t, err)
	changed, err = o.Refresh(context.Background())
	require.NoError(t, err)
	assert.False(t, changed, "changes on other days are ignored")

	assert.Equal(t, []uint64{1, 2}, revisions)
}

func TestRefreshKeepsSnapshotOnFailure(t *testing.T) {
	st := seeded()
	o := newObserver(st)
	_, err := o.Refresh(context.Background())
	require.NoError(t, err)

	failure := errors.New("network down")
	st.SetFailure(failure)
	_, err = o.Refresh(context.Background())
	assert.ErrorIs(t, err, failure)

	snapshot, revision, ok := o.Snapshot()
	require.True(t, ok)
	assert.Equal(t, uint64(1), revision)
	assert.Len(t, snapshot.Entries, 2)
}

func TestInjectedComparator(t *testing.T) {
	calls := 0
	o := New(seeded(), Options{
		Day: func() models.Date { return today },
		Context: &Context{Comparator: func(a, b Snapshot) bool {
			calls++
			return len(a.Entries) == len(b.Entries)
		}},
	})
	_, err := o.Refresh(context.Background())
	require.NoError(t, err)
	_, err = o.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, uint64(1), o.Revision())
}

func TestRunPollsUntilCancelled(t *testing.T) {
	st := seeded()
	o := New(st, Options{Kind: KindDisplay, Interval: 10 * time.Millisecond, Day: func() models.Date { return today }})

	var mu sync.Mutex
	var statuses []string
	done := make(chan struct{}, 4)
	o.Subscribe(SubscriberFunc(func(revision uint64, snapshot Snapshot) {
		mu.Lock()
		statuses = append(statuses, snapshot.Entries[0].Status)
		mu.Unlock()
		done <- struct{}{}
	}))

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		o.Run(ctx)
		close(stopped)
	}()

	waitFor(t, done)
	_, err := st.UpdateStatus(context.Background(), "a", models.StatusCalled)
	require.NoError(t, err)
	waitFor(t, done)

	cancel()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("observer did not stop")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{models.StatusWaiting, models.StatusCalled}, statuses)
}

func waitFor(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for publish")
	}
}

func TestPoolSweepsIdleViews(t *testing.T) {
	clock := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	pool := NewPool(func(key string) *Observer {
		return New(seeded(), Options{Kind: KindPatient, Day: func() models.Date { return today }})
	})
	pool.now = func() time.Time { return clock }

	pool.Acquire("a")
	pool.Acquire("b")
	clock = clock.Add(20 * time.Minute)
	pool.Acquire("b")
	clock = clock.Add(20 * time.Minute)

	assert.Equal(t, 1, pool.Sweep(30*time.Minute))
	assert.Equal(t, 1, pool.Len())
	assert.False(t, pool.Teardown("a"))
	assert.True(t, pool.Teardown("b"))
}

func TestPoolTeardown(t *testing.T) {
	created := 0
	pool := NewPool(func(key string) *Observer {
		created++
		return New(seeded(), Options{Kind: KindPatient, Day: func() models.Date { return today }})
	})

	first := pool.Acquire("a")
	second := pool.Acquire("a")
	assert.Same(t, first, second)
	pool.Acquire("b")
	assert.Equal(t, 2, pool.Len())

	assert.True(t, pool.Teardown("a"))
	assert.False(t, pool.Teardown("a"))
	assert.Equal(t, 1, pool.Len())
	pool.Close()
	assert.Zero(t, pool.Len())
	assert.Equal(t, 2, created)
}
