package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrSessionExpired is returned by Session.Validate for a lapsed session.
var ErrSessionExpired = errors.New("session expired")

// SessionID is a value object for a session ID.
type SessionID string

// NewSessionID creates a new session ID.
func NewSessionID() SessionID { return SessionID(uuid.New().String()) }

func (id SessionID) String() string { return string(id) }

// Session is an opaque token bound to a Principal, with a sliding expiry:
// created on login, extended on each successful validation by the
// configured session duration, destroyed on logout or expiry.
type Session struct {
	ID        SessionID     `json:"id" gorm:"primaryKey"`
	UserID    PrincipalID   `json:"user_id" gorm:"column:user_id;index"`
	CreatedAt time.Time     `json:"created_at"`
	ExpiresAt time.Time     `json:"expires_at" gorm:"column:expires_at"`
}

// TableName specifies the table name for GORM.
func (Session) TableName() string { return "sessions" }

// NewSession creates a session for principal with the given sliding-window
// duration starting now.
func NewSession(principal PrincipalID, duration time.Duration) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:        NewSessionID(),
		UserID:    principal,
		CreatedAt: now,
		ExpiresAt: now.Add(duration),
	}
}

// Validate reports whether the session is still live at t. A session
// expiring exactly at or before t fails validation.
func (s *Session) Validate(t time.Time) error {
	if !t.Before(s.ExpiresAt) {
		return ErrSessionExpired
	}
	return nil
}

// Extend slides the expiry forward by duration from now, implementing the
// "extended on each validation" rule. Callers should call this only after
// Validate succeeds.
func (s *Session) Extend(duration time.Duration) {
	s.ExpiresAt = time.Now().UTC().Add(duration)
}
