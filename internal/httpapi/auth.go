package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"qms/qalert/internal/session"
)

type authContextKey struct{}

// AuthMiddleware resolves the session for protected endpoints. When a token
// is no longer known, onExpired (if set) releases what was held for it.
func AuthMiddleware(sessions session.Store, next http.Handler, onExpired func(token string)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicEndpoint(r) {
			next.ServeHTTP(w, r)
			return
		}
		token := sessionTokenFromRequest(r)
		if token == "" {
			writeError(w, requestIDFromRequest(r), http.StatusUnauthorized, "unauthorized", "missing session")
			return
		}
		current, err := sessions.Current(r.Context(), token)
		if err != nil {
			if errors.Is(err, session.ErrNotFound) {
				if onExpired != nil {
					onExpired(token)
				}
				writeError(w, requestIDFromRequest(r), http.StatusUnauthorized, "unauthorized", "invalid session")
				return
			}
			writeError(w, requestIDFromRequest(r), http.StatusServiceUnavailable, "network_failure", "session lookup failed")
			return
		}
		ctx := context.WithValue(r.Context(), authContextKey{}, current)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func sessionFromContext(ctx context.Context) (session.Session, bool) {
	value := ctx.Value(authContextKey{})
	if value == nil {
		return session.Session{}, false
	}
	current, ok := value.(session.Session)
	return current, ok
}

func requireSession(w http.ResponseWriter, r *http.Request) (session.Session, bool) {
	current, ok := sessionFromContext(r.Context())
	if !ok {
		writeError(w, requestIDFromRequest(r), http.StatusUnauthorized, "unauthorized", "missing session")
		return session.Session{}, false
	}
	return current, true
}

func requireStaff(w http.ResponseWriter, r *http.Request) (session.Session, bool) {
	current, ok := requireSession(w, r)
	if !ok {
		return session.Session{}, false
	}
	if !current.IsStaff() {
		writeError(w, requestIDFromRequest(r), http.StatusForbidden, "access_denied", "staff access required")
		return session.Session{}, false
	}
	return current, true
}

// canActOn reports whether the caller may touch an entry owned by subjectID.
func canActOn(current session.Session, subjectID string) bool {
	return current.IsStaff() || current.SubjectID == subjectID
}

func sessionTokenFromRequest(r *http.Request) string {
	if token := bearerToken(r.Header.Get("Authorization")); token != "" {
		return token
	}
	if token := strings.TrimSpace(r.Header.Get("X-Session-ID")); token != "" {
		return token
	}
	if strings.HasPrefix(r.URL.Path, "/realtime/") {
		return strings.TrimSpace(r.URL.Query().Get("session_id"))
	}
	return ""
}

func requestIDFromRequest(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-Request-ID"))
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.Fields(header)
	if len(parts) != 2 {
		return ""
	}
	if strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return parts[1]
}

func isPublicEndpoint(r *http.Request) bool {
	switch r.URL.Path {
	case "/healthz", "/metrics", "/api/display":
		return true
	case "/api/sessions":
		return r.Method == http.MethodPost
	default:
		// The realtime handler authenticates its own connections.
		if strings.HasPrefix(r.URL.Path, "/realtime/") {
			return true
		}
		return r.Method == http.MethodOptions
	}
}
