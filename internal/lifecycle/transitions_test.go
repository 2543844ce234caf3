package lifecycle

import "testing"

func TestValidTransition(t *testing.T) {
	cases := []struct {
		action string
		from   string
		valid  bool
	}{
		{"call", "waiting", true},
		{"call", "called", false},
		{"call", "now_serving", false},
		{"serve", "called", true},
		{"serve", "waiting", false},
		{"serve", "now_serving", false},
		{"complete", "called", true},
		{"complete", "now_serving", true},
		{"complete", "waiting", false},
		{"complete", "completed", false},
		{"cancel", "waiting", true},
		{"cancel", "called", false},
		{"cancel", "cancelled", false},
		{"update_reason", "waiting", true},
		{"update_reason", "called", false},
		{"update_reason", "completed", false},
		{"reopen", "completed", false},
	}

	for _, tt := range cases {
		if got := ValidTransition(tt.action, tt.from); got != tt.valid {
			t.Fatalf("ValidTransition(%q, %q)=%v, want %v", tt.action, tt.from, got, tt.valid)
		}
	}
}

func TestNoTransitionReturnsToWaiting(t *testing.T) {
	for action, target := range targetStatus {
		if target != "waiting" {
			continue
		}
		for _, from := range transitionMap[action] {
			if from != "waiting" {
				t.Fatalf("action %q moves %q back to waiting", action, from)
			}
		}
	}
}
