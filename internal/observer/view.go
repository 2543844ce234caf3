package observer

import (
	"qms/qalert/internal/admission"
	"qms/qalert/internal/estimate"
	"qms/qalert/internal/models"
)

type WaitingItem struct {
	Entry       models.QueueEntry `json:"entry"`
	Position    int               `json:"position"`
	DisplayName string            `json:"display_name"`
}

type ActiveItem struct {
	Entry       models.QueueEntry `json:"entry"`
	DisplayName string            `json:"display_name"`
}

// View is what a console renders for one snapshot.
type View struct {
	Day          models.Date         `json:"day"`
	Waiting      []WaitingItem       `json:"waiting"`
	Active       *ActiveItem         `json:"active,omitempty"`
	Closed       []models.QueueEntry `json:"closed"`
	NextCallable string              `json:"next_callable,omitempty"`
	CanCall      bool                `json:"can_call"`
	Inconsistent bool                `json:"inconsistent"`
}

// Evaluator decides admission for a day. *admission.Controller reports
// inconsistent days as it evaluates them.
type Evaluator interface {
	Evaluate(entries []models.QueueEntry, day models.Date) admission.Decision
}

// BuildView renders a console view without reporting inconsistencies.
func BuildView(snapshot Snapshot) View {
	return BuildViewWith(snapshot, nil)
}

// BuildViewWith renders a console view, evaluating admission through
// evaluator when one is given.
func BuildViewWith(snapshot Snapshot, evaluator Evaluator) View {
	names := make(map[string]string, len(snapshot.Subjects))
	for _, subject := range snapshot.Subjects {
		names[subject.ID] = subject.DisplayName
	}
	positions := estimate.Positions(snapshot.Entries, snapshot.Day)
	var decision admission.Decision
	if evaluator != nil {
		decision = evaluator.Evaluate(snapshot.Entries, snapshot.Day)
	} else {
		decision = admission.Evaluate(snapshot.Entries, snapshot.Day)
	}

	view := View{
		Day:          snapshot.Day,
		Waiting:      []WaitingItem{},
		Closed:       []models.QueueEntry{},
		Inconsistent: decision.Inconsistent,
	}
	for _, entry := range estimate.Waiting(snapshot.Entries, snapshot.Day) {
		view.Waiting = append(view.Waiting, WaitingItem{
			Entry:       entry,
			Position:    positions[entry.ID],
			DisplayName: names[entry.SubjectID],
		})
	}
	for _, entry := range snapshot.Entries {
		if entry.IsTerminal() {
			view.Closed = append(view.Closed, entry)
		}
	}
	if len(decision.Active) > 0 {
		active := decision.Active[0]
		view.Active = &ActiveItem{Entry: active, DisplayName: names[active.SubjectID]}
	}
	if next, ok := decision.Next(); ok {
		view.NextCallable = next.ID
		view.CanCall = true
	}
	return view
}

// EntryStatus is what a patient sees about their own entry.
type EntryStatus struct {
	Entry    models.QueueEntry `json:"entry"`
	Position int               `json:"position,omitempty"`
	Ahead    int               `json:"ahead"`
}

func StatusOf(snapshot Snapshot, entryID string) (EntryStatus, bool) {
	for _, entry := range snapshot.Entries {
		if entry.ID != entryID {
			continue
		}
		status := EntryStatus{Entry: entry}
		if position, ok := estimate.Position(snapshot.Entries, entryID, snapshot.Day); ok {
			status.Position = position
			status.Ahead = position - 1
		}
		return status, true
	}
	return EntryStatus{}, false
}

// Board is the public display. It carries sequence numbers only.
type Board struct {
	Day        models.Date `json:"day"`
	NowCalling int         `json:"now_calling,omitempty"`
	Status     string      `json:"status,omitempty"`
	Waiting    []int       `json:"waiting"`
}

func BuildBoard(snapshot Snapshot) Board {
	view := BuildView(snapshot)
	board := Board{Day: view.Day, Waiting: make([]int, 0, len(view.Waiting))}
	if view.Active != nil {
		board.NowCalling = view.Active.Entry.SequenceNumber
		board.Status = view.Active.Entry.Status
	}
	for _, item := range view.Waiting {
		board.Waiting = append(board.Waiting, item.Entry.SequenceNumber)
	}
	return board
}
