// Package memory provides in-memory implementations of outbound ports.
package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/velro/authz-core/internal/domain/session"
	"github.com/velro/authz-core/internal/service/gate"
)

// DefaultCleanupInterval is the default interval for session expiration sweeps.
const DefaultCleanupInterval = 1 * time.Minute

// MemorySessionStore implements session.SessionStore with an in-memory
// map, and gate.AllowListChecker by treating "has an active session" as
// the fast-lane allow-list test (spec §4.1): a principal who already
// holds an unexpired session skips the full orchestrator.
// Thread-safe for concurrent access. Background cleanup goroutine
// removes expired sessions periodically.
type MemorySessionStore struct {
	sessions        map[string]*session.Session
	byPrincipal     map[string]string // principalID -> most recent session ID
	mu              sync.RWMutex
	stopChan        chan struct{}
	wg              sync.WaitGroup
	cleanupInterval time.Duration
	once            sync.Once // Prevent double-close panic on Stop()
}

// NewSessionStore creates a new in-memory session store with default cleanup interval.
func NewSessionStore() *MemorySessionStore {
	return NewSessionStoreWithConfig(DefaultCleanupInterval)
}

// NewSessionStoreWithConfig creates a new in-memory session store with custom cleanup interval.
func NewSessionStoreWithConfig(cleanupInterval time.Duration) *MemorySessionStore {
	return &MemorySessionStore{
		sessions:        make(map[string]*session.Session),
		byPrincipal:     make(map[string]string),
		stopChan:        make(chan struct{}),
		cleanupInterval: cleanupInterval,
	}
}

// StartCleanup starts the background cleanup goroutine.
// The goroutine will periodically remove expired sessions.
// Call Stop() to stop the cleanup goroutine gracefully.
func (s *MemorySessionStore) StartCleanup(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopChan:
				return
			case <-ticker.C:
				s.cleanup()
			}
		}
	}()
}

// cleanup removes all expired sessions from the store.
func (s *MemorySessionStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	cleaned := 0
	for id, sess := range s.sessions {
		if sess.IsExpired() {
			delete(s.sessions, id)
			if s.byPrincipal[sess.PrincipalID] == id {
				delete(s.byPrincipal, sess.PrincipalID)
			}
			cleaned++
		}
	}

	if cleaned > 0 {
		slog.Debug("cleaned expired sessions", "count", cleaned)
	}
}

// Stop stops the background cleanup goroutine and waits for it to exit.
// Safe to call multiple times.
func (s *MemorySessionStore) Stop() {
	s.once.Do(func() {
		close(s.stopChan)
	})
	s.wg.Wait()
}

// Create stores a new session.
func (s *MemorySessionStore) Create(ctx context.Context, sess *session.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessCopy := copySession(sess)
	s.sessions[sess.ID] = sessCopy
	s.byPrincipal[sess.PrincipalID] = sess.ID
	return nil
}

// Get retrieves a session by ID.
// Returns session.ErrSessionNotFound if session doesn't exist or is expired.
// Note: Expired sessions are NOT deleted here - background cleanup handles deletion.
func (s *MemorySessionStore) Get(ctx context.Context, id string) (*session.Session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()

	if !ok {
		return nil, session.ErrSessionNotFound
	}
	if sess.IsExpired() {
		return nil, session.ErrSessionNotFound
	}

	return copySession(sess), nil
}

// Update saves changes to an existing session.
func (s *MemorySessionStore) Update(ctx context.Context, sess *session.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sess.ID]; !ok {
		return session.ErrSessionNotFound
	}

	s.sessions[sess.ID] = copySession(sess)
	return nil
}

// Delete removes a session.
func (s *MemorySessionStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[id]; ok && s.byPrincipal[sess.PrincipalID] == id {
		delete(s.byPrincipal, sess.PrincipalID)
	}
	delete(s.sessions, id)
	return nil
}

// Allowed implements gate.AllowListChecker: a principal is fast-lane
// eligible exactly when its most recent session is present and not
// expired.
func (s *MemorySessionStore) Allowed(ctx context.Context, principalID string) (bool, error) {
	s.mu.RLock()
	id, ok := s.byPrincipal[principalID]
	if !ok {
		s.mu.RUnlock()
		return false, nil
	}
	sess, ok := s.sessions[id]
	s.mu.RUnlock()

	if !ok {
		return false, nil
	}
	return !sess.IsExpired(), nil
}

// Size returns the number of sessions currently stored.
// Useful for testing cleanup behavior.
func (s *MemorySessionStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// copySession creates a shallow copy of a session (all fields are values).
func copySession(sess *session.Session) *session.Session {
	sessCopy := *sess
	return &sessCopy
}

// Compile-time interface verification.
var _ session.SessionStore = (*MemorySessionStore)(nil)
var _ gate.AllowListChecker = (*MemorySessionStore)(nil)
