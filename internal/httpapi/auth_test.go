package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestSessionTokenFromRequest(t *testing.T) {
	tests := []struct {
		name   string
		target string
		header map[string]string
		want   string
	}{
		{"bearer", "/api/console", map[string]string{"Authorization": "Bearer abc"}, "abc"},
		{"session header", "/api/console", map[string]string{"X-Session-ID": " xyz "}, "xyz"},
		{"malformed bearer", "/api/console", map[string]string{"Authorization": "Bearer"}, ""},
		{"query ignored on api", "/api/console?session_id=q", nil, ""},
		{"query on realtime", "/realtime/info?session_id=q", nil, "q"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.target, nil)
			for k, v := range tc.header {
				req.Header.Set(k, v)
			}
			if got := sessionTokenFromRequest(req); got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestIsPublicEndpoint(t *testing.T) {
	tests := []struct {
		method string
		path   string
		want   bool
	}{
		{http.MethodGet, "/healthz", true},
		{http.MethodGet, "/api/display", true},
		{http.MethodPost, "/api/sessions", true},
		{http.MethodGet, "/realtime/info", true},
		{http.MethodGet, "/api/console", false},
		{http.MethodPost, "/api/entries", false},
		{http.MethodDelete, "/api/sessions/current", false},
	}
	for _, tc := range tests {
		req := httptest.NewRequest(tc.method, tc.path, nil)
		if got := isPublicEndpoint(req); got != tc.want {
			t.Fatalf("%s %s: expected %v, got %v", tc.method, tc.path, tc.want, got)
		}
	}
}

func TestRealtimeToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/realtime/123/abc/websocket?session_id=tok", nil)
	if got := realtimeToken(req); got != "tok" {
		t.Fatalf("expected tok, got %q", got)
	}
	req.Header.Set("Authorization", "Bearer other")
	if got := realtimeToken(req); got != "other" {
		t.Fatalf("expected bearer token to win, got %q", got)
	}
	if got := realtimeToken(nil); got != "" {
		t.Fatalf("expected empty token, got %q", got)
	}
}

func TestStaffKeyMatches(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("front-desk"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	tests := []struct {
		name       string
		configured string
		presented  string
		want       bool
	}{
		{"plain match", "front-desk", "front-desk", true},
		{"plain mismatch", "front-desk", "back-desk", false},
		{"hash match", string(hash), "front-desk", true},
		{"hash mismatch", string(hash), "back-desk", false},
		{"not configured", "", "", false},
		{"empty presented", "front-desk", "", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := staffKeyMatches(tc.configured, tc.presented); got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}
