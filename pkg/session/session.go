package session

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type Status string

const (
	StatusInitializing Status = "initializing"
	StatusAwaitingScan Status = "awaiting_scan"
	StatusConnected    Status = "connected"
	StatusReconnecting Status = "reconnecting"
	StatusLoggedOut    Status = "logged_out"
	StatusFailed       Status = "failed"
)

// Live reports whether a session in this status blocks a new login.
func (s Status) Live() bool {
	switch s {
	case StatusInitializing, StatusAwaitingScan, StatusConnected, StatusReconnecting:
		return true
	}
	return false
}

// Terminal statuses are never left.
func (s Status) Terminal() bool {
	return s == StatusLoggedOut || s == StatusFailed
}

type Session struct {
	UserID         string
	CredentialPath string
	CreatedAt      time.Time

	mu        sync.RWMutex
	status    Status
	client    Client
	attempts  int
	lastError string
	updatedAt time.Time
	closing   bool

	reconnecting     bool
	reconnectPending bool

	sendMu  sync.Mutex
	limiter *rate.Limiter
}

// Info is a point in time snapshot of a session.
type Info struct {
	UserID            string    `json:"user_id"`
	Status            Status    `json:"status"`
	CredentialPath    string    `json:"credential_path"`
	ReconnectAttempts int       `json:"reconnect_attempts"`
	LastError         string    `json:"last_error,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func newSession(userID string, credentialPath string, limit rate.Limit, burst int) *Session {
	now := time.Now()
	if burst <= 0 {
		burst = 1
	}
	return &Session{
		UserID:         userID,
		CredentialPath: credentialPath,
		CreatedAt:      now,
		status:         StatusInitializing,
		updatedAt:      now,
		limiter:        rate.NewLimiter(limit, burst),
	}
}

func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *Session) Client() Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.client
}

func (s *Session) Info() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Info{
		UserID:            s.UserID,
		Status:            s.status,
		CredentialPath:    s.CredentialPath,
		ReconnectAttempts: s.attempts,
		LastError:         s.lastError,
		CreatedAt:         s.CreatedAt,
		UpdatedAt:         s.updatedAt,
	}
}

func (s *Session) setClient(client Client) {
	s.mu.Lock()
	s.client = client
	s.mu.Unlock()
}

// setStatus returns the previous status and whether it changed.
func (s *Session) setStatus(to Status) (Status, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	from := s.status
	if from == to || from.Terminal() {
		return from, false
	}
	s.status = to
	s.updatedAt = time.Now()
	return from, true
}

func (s *Session) setLastError(err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	s.lastError = err.Error()
	s.mu.Unlock()
}

func (s *Session) markConnected() {
	s.mu.Lock()
	s.attempts = 0
	s.lastError = ""
	s.mu.Unlock()
}

func (s *Session) nextAttempt() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	return s.attempts
}

// beginClose reports false when another logout already owns the session.
func (s *Session) beginClose() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.closing = true
	return true
}

func (s *Session) isClosing() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closing
}

// beginReconnect reports whether the caller has to start a reconnect loop.
// A close reported while a loop already runs is recorded as pending.
func (s *Session) beginReconnect() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reconnecting {
		s.reconnectPending = true
		return false
	}
	s.reconnecting = true
	s.reconnectPending = false
	return true
}

func (s *Session) clearReconnectPending() {
	s.mu.Lock()
	s.reconnectPending = false
	s.mu.Unlock()
}

// finishReconnect ends the running loop unless a close arrived meanwhile.
func (s *Session) finishReconnect() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reconnectPending {
		s.reconnectPending = false
		return false
	}
	s.reconnecting = false
	return true
}

func (s *Session) reconnectRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reconnecting
}

func (s *Session) stopReconnect() {
	s.mu.Lock()
	s.reconnecting = false
	s.reconnectPending = false
	s.mu.Unlock()
}
