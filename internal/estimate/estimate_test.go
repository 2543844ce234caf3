package estimate

import (
	"testing"
	"time"

	"qms/qalert/internal/models"

	"github.com/stretchr/testify/assert"
)

var day = models.Date{Year: 2026, Month: time.January, Day: 12}

func at(hour, minute int) time.Time {
	return time.Date(2026, 1, 12, hour, minute, 0, 0, time.UTC)
}

func entry(id, status string, created time.Time) models.QueueEntry {
	return models.QueueEntry{ID: id, ServiceDate: day, Status: status, CreatedAt: created}
}

func TestPositionOrdersByCreatedAt(t *testing.T) {
	entries := []models.QueueEntry{
		entry("c", models.StatusWaiting, at(9, 10)),
		entry("a", models.StatusWaiting, at(9, 0)),
		entry("x", models.StatusCalled, at(8, 0)),
		entry("b", models.StatusWaiting, at(9, 5)),
		entry("y", models.StatusCancelled, at(8, 30)),
		{ID: "other-day", ServiceDate: models.Date{Year: 2026, Month: time.January, Day: 11}, Status: models.StatusWaiting, CreatedAt: at(7, 0)},
	}

	cases := []struct {
		id   string
		want int
		ok   bool
	}{
		{"a", 1, true},
		{"b", 2, true},
		{"c", 3, true},
		{"x", 0, false},
		{"y", 0, false},
		{"other-day", 0, false},
		{"missing", 0, false},
	}
	for _, tc := range cases {
		got, ok := Position(entries, tc.id, day)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("Position(%q)=(%d,%v), want (%d,%v)", tc.id, got, ok, tc.want, tc.ok)
		}
	}
}

func TestPositionMonotonicWithCreatedAt(t *testing.T) {
	var entries []models.QueueEntry
	for i := 0; i < 20; i++ {
		// insert in reverse so the input order disagrees with FIFO order
		entries = append(entries, entry(string(rune('a'+19-i)), models.StatusWaiting, at(9, 19-i)))
	}
	positions := Positions(entries, day)
	for _, a := range entries {
		for _, b := range entries {
			if a.CreatedAt.Before(b.CreatedAt) && positions[a.ID] >= positions[b.ID] {
				t.Fatalf("position(%s)=%d not before position(%s)=%d", a.ID, positions[a.ID], b.ID, positions[b.ID])
			}
		}
	}
}

func TestPositionTieBreaksOnID(t *testing.T) {
	entries := []models.QueueEntry{
		entry("b", models.StatusWaiting, at(9, 0)),
		entry("a", models.StatusWaiting, at(9, 0)),
	}
	pos, _ := Position(entries, "a", day)
	assert.Equal(t, 1, pos)
}

func TestPositionIsIdempotent(t *testing.T) {
	entries := []models.QueueEntry{
		entry("b", models.StatusWaiting, at(9, 5)),
		entry("a", models.StatusWaiting, at(9, 0)),
	}
	first := Positions(entries, day)
	second := Positions(entries, day)
	assert.Equal(t, first, second)
	assert.Equal(t, "b", entries[0].ID, "input must not be reordered")
}

func TestFrozenEstimate(t *testing.T) {
	assert.Equal(t, "10 mins", FrozenEstimate(nil, day, 10))

	entries := []models.QueueEntry{
		entry("a", models.StatusWaiting, at(9, 0)),
		entry("b", models.StatusWaiting, at(9, 5)),
		entry("c", models.StatusCalled, at(8, 55)),
		entry("d", models.StatusCompleted, at(8, 0)),
	}
	assert.Equal(t, "30 mins", FrozenEstimate(entries, day, 10))
	assert.Equal(t, "45 mins", FrozenEstimate(entries, day, 15))
	assert.Equal(t, "30 mins", FrozenEstimate(entries, day, 0), "non-positive interval falls back to default")
}

func TestWaitMinutes(t *testing.T) {
	assert.Equal(t, 10, WaitMinutes(0, 10))
	assert.Equal(t, 30, WaitMinutes(2, 10))
	assert.Equal(t, 10, WaitMinutes(-3, 10))
}
