// Package session tracks short-lived, server-side session records for
// authenticated principals. An active session is the signal the Request
// Pipeline Gate's fast lane (spec §4.1) uses to skip the full ten-layer
// orchestrator for a principal it has already vetted recently.
package session

import "time"

// Session tracks an authenticated principal's continuity across
// requests, independent of the bearer credential used to establish it.
type Session struct {
	// ID is a cryptographically random identifier, 32 bytes hex-encoded.
	ID string
	// PrincipalID is the identity.Principal this session belongs to.
	PrincipalID string
	// CreatedAt is when the session was created (UTC).
	CreatedAt time.Time
	// ExpiresAt is when the session will expire (UTC).
	ExpiresAt time.Time
	// LastAccess is the last time the session was used (UTC).
	LastAccess time.Time
}

// IsExpired checks if the session has exceeded its timeout.
func (s *Session) IsExpired() bool {
	return time.Now().UTC().After(s.ExpiresAt)
}

// Refresh updates LastAccess and extends ExpiresAt by the given duration.
func (s *Session) Refresh(timeout time.Duration) {
	now := time.Now().UTC()
	s.LastAccess = now
	s.ExpiresAt = now.Add(timeout)
}
