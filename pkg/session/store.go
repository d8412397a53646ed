package session

import (
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
)

// Store maps user ids to their in-memory session.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewStore() *Store {
	return &Store{sessions: make(map[string]*Session)}
}

func (s *Store) Get(userID string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[userID]
	return sess, ok
}

// Put inserts sess, replacing an entry only when that entry is no longer live.
func (s *Store) Put(sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.sessions[sess.UserID]; ok && existing.Status().Live() {
		return errors.Wrapf(ErrAlreadyExists, "user %s", sess.UserID)
	}
	s.sessions[sess.UserID] = sess
	return nil
}

func (s *Store) Remove(userID string) {
	s.mu.Lock()
	delete(s.sessions, userID)
	s.mu.Unlock()
}

// RemoveIf deletes the entry of userID only if it is still sess.
func (s *Store) RemoveIf(userID string, sess *Session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.sessions[userID]; ok && current == sess {
		delete(s.sessions, userID)
		return true
	}
	return false
}

func (s *Store) current(sess *Session) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[sess.UserID] == sess
}

// List returns the sessions ordered by user id.
func (s *Store) List() []*Session {
	s.mu.RLock()
	out := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
