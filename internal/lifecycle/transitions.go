package lifecycle

import "qms/qalert/internal/models"

const (
	ActionCall         = "call"
	ActionServe        = "serve"
	ActionComplete     = "complete"
	ActionCancel       = "cancel"
	ActionUpdateReason = "update_reason"
)

var transitionMap = map[string][]string{
	ActionCall:         {models.StatusWaiting},
	ActionServe:        {models.StatusCalled},
	ActionComplete:     {models.StatusCalled, models.StatusNowServing},
	ActionCancel:       {models.StatusWaiting},
	ActionUpdateReason: {models.StatusWaiting},
}

var targetStatus = map[string]string{
	ActionCall:         models.StatusCalled,
	ActionServe:        models.StatusNowServing,
	ActionComplete:     models.StatusCompleted,
	ActionCancel:       models.StatusCancelled,
	ActionUpdateReason: models.StatusWaiting,
}

func ValidTransition(action, fromStatus string) bool {
	allowed, ok := transitionMap[action]
	if !ok {
		return false
	}
	for _, status := range allowed {
		if status == fromStatus {
			return true
		}
	}
	return false
}

func TargetStatus(action string) (string, bool) {
	status, ok := targetStatus[action]
	return status, ok
}

// IsStaffAction reports whether only staff may request the action.
func IsStaffAction(action string) bool {
	switch action {
	case ActionCall, ActionServe, ActionComplete:
		return true
	default:
		return false
	}
}
