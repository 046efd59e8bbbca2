// Package session keeps the bounded conversation history of each session in
// process memory and serialises queries within one session.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/54b3r/courserag-go/internal/course"
)

// DefaultMaxHistory is the number of exchanges kept per session.
const DefaultMaxHistory = 2

type session struct {
	history []course.Exchange
	// lock is a one-slot semaphore so waits can honour cancellation.
	lock chan struct{}
	// refs counts Acquire callers holding or waiting on lock.
	refs int
	// pinned sessions were issued by Create and outlive an empty history.
	pinned bool
}

// Store is a registry of sessions. It is safe for concurrent use.
type Store struct {
	maxHistory int

	mu       sync.Mutex
	seq      int
	sessions map[string]*session
}

// New returns an empty Store keeping at most maxHistory exchanges per
// session. maxHistory <= 0 means DefaultMaxHistory.
func New(maxHistory int) *Store {
	if maxHistory <= 0 {
		maxHistory = DefaultMaxHistory
	}
	return &Store{maxHistory: maxHistory, sessions: make(map[string]*session)}
}

// MaxHistory returns the per-session exchange bound.
func (s *Store) MaxHistory() int { return s.maxHistory }

// Create registers a new session and returns its ID. IDs are sequential
// within the process: session_1, session_2, ...
func (s *Store) Create() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	id := fmt.Sprintf("session_%d", s.seq)
	sess := newSession()
	sess.pinned = true
	s.sessions[id] = sess
	return id
}

func newSession() *session {
	return &session{lock: make(chan struct{}, 1)}
}

// ref returns the session and takes a reference on it, registering an
// unknown ID for as long as references are held.
func (s *Store) ref(id string) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		sess = newSession()
		s.sessions[id] = sess
	}
	sess.refs++
	return sess
}

// unref drops a reference. An unpinned session that never recorded an
// exchange is forgotten once the last reference goes.
func (s *Store) unref(id string, sess *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess.refs--
	if sess.refs == 0 && !sess.pinned && len(sess.history) == 0 && s.sessions[id] == sess {
		delete(s.sessions, id)
	}
}

// Append records an exchange and drops the oldest ones beyond the bound.
// An unknown ID starts a new session.
func (s *Store) Append(id, query, response string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		sess = newSession()
		s.sessions[id] = sess
	}
	sess.history = append(sess.history, course.Exchange{
		Query:     query,
		Response:  response,
		CreatedAt: time.Now(),
	})
	if over := len(sess.history) - s.maxHistory; over > 0 {
		sess.history = append([]course.Exchange(nil), sess.history[over:]...)
	}
}

// History returns a copy of the session's exchanges, oldest first. An
// unknown ID has no history.
func (s *Store) History(id string) []course.Exchange {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok || len(sess.history) == 0 {
		return nil
	}
	return append([]course.Exchange(nil), sess.history...)
}

// Exists reports whether id names a known session.
func (s *Store) Exists(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[id]
	return ok
}

// Len returns the number of sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Acquire waits for exclusive use of the session and returns the function
// that releases it. It returns ctx.Err() if ctx ends first. An unknown ID is
// only kept after release if an exchange was appended to it.
func (s *Store) Acquire(ctx context.Context, id string) (func(), error) {
	sess := s.ref(id)
	select {
	case sess.lock <- struct{}{}:
	case <-ctx.Done():
		s.unref(id, sess)
		return nil, ctx.Err()
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			<-sess.lock
			s.unref(id, sess)
		})
	}, nil
}
