// Package estimate derives a patient's live queue position and the wait
// estimate frozen onto an entry when it is created.
package estimate

import (
	"fmt"
	"sort"

	"qms/qalert/internal/models"
)

const DefaultIntervalMinutes = 10

// Waiting returns the waiting entries of day in FIFO order.
func Waiting(entries []models.QueueEntry, day models.Date) []models.QueueEntry {
	var waiting []models.QueueEntry
	for _, entry := range entries {
		if entry.ServiceDate == day && entry.Status == models.StatusWaiting {
			waiting = append(waiting, entry)
		}
	}
	sort.SliceStable(waiting, func(i, j int) bool {
		return models.CreatedBefore(waiting[i], waiting[j])
	})
	return waiting
}

// Position is the 1-based rank of the entry among the waiting entries of
// day. It is undefined (false) for an entry that is not waiting.
func Position(entries []models.QueueEntry, entryID string, day models.Date) (int, bool) {
	for i, entry := range Waiting(entries, day) {
		if entry.ID == entryID {
			return i + 1, true
		}
	}
	return 0, false
}

// Positions ranks every waiting entry of day at once.
func Positions(entries []models.QueueEntry, day models.Date) map[string]int {
	waiting := Waiting(entries, day)
	positions := make(map[string]int, len(waiting))
	for i, entry := range waiting {
		positions[entry.ID] = i + 1
	}
	return positions
}

// WaitMinutes is (ahead+1) * interval.
func WaitMinutes(ahead, intervalMinutes int) int {
	if intervalMinutes <= 0 {
		intervalMinutes = DefaultIntervalMinutes
	}
	if ahead < 0 {
		ahead = 0
	}
	return (ahead + 1) * intervalMinutes
}

// FrozenEstimate renders the wait estimate for an entry about to be created
// on day. Every waiting entry that already exists is ahead of it.
func FrozenEstimate(entries []models.QueueEntry, day models.Date, intervalMinutes int) string {
	ahead := len(Waiting(entries, day))
	return FormatMinutes(WaitMinutes(ahead, intervalMinutes))
}

func FormatMinutes(minutes int) string {
	return fmt.Sprintf("%d mins", minutes)
}
