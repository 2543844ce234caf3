// Package session holds the per-caller state of the engine: who the caller
// is and whether they act as staff. A session is created when a view loads
// and torn down on logout.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	RoleStaff   = "staff"
	RolePatient = "patient"
)

var (
	ErrNotFound    = errors.New("session not found")
	ErrInvalidRole = errors.New("invalid role")
)

type Session struct {
	Token     string    `json:"token"`
	SubjectID string    `json:"subject_id"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

func (s Session) IsStaff() bool {
	return s.Role == RoleStaff
}

type Store interface {
	Init(ctx context.Context, session Session) (Session, error)
	Current(ctx context.Context, token string) (Session, error)
	Teardown(ctx context.Context, token string) error
}

// prepare fills the token and creation time of a new session.
func prepare(session Session, now time.Time) (Session, error) {
	if session.Role != RoleStaff && session.Role != RolePatient {
		return Session{}, ErrInvalidRole
	}
	if session.Token == "" {
		session.Token = uuid.NewString()
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now.UTC()
	}
	return session, nil
}

type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]Session
	ttl      time.Duration
	now      func() time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{sessions: make(map[string]Session), ttl: ttl, now: time.Now}
}

func (m *MemoryStore) Init(ctx context.Context, session Session) (Session, error) {
	session, err := prepare(session, m.now())
	if err != nil {
		return Session{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.Token] = session
	return session, nil
}

func (m *MemoryStore) Current(ctx context.Context, token string) (Session, error) {
	m.mu.RLock()
	session, ok := m.sessions[token]
	m.mu.RUnlock()
	if !ok {
		return Session{}, ErrNotFound
	}
	if m.ttl > 0 && m.now().After(session.CreatedAt.Add(m.ttl)) {
		_ = m.Teardown(ctx, token)
		return Session{}, ErrNotFound
	}
	return session, nil
}

func (m *MemoryStore) Teardown(ctx context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[token]; !ok {
		return ErrNotFound
	}
	delete(m.sessions, token)
	return nil
}
