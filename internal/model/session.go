package model

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus is where a session stands relative to now.
type SessionStatus string

const (
	SessionStatusUpcoming  SessionStatus = "upcoming"
	SessionStatusLive      SessionStatus = "live"
	SessionStatusCompleted SessionStatus = "completed"
)

// Session is a scheduled live training session. Its status is derived from
// the clock and never stored.
type Session struct {
	ID             uuid.UUID  `json:"id"`
	Title          string     `json:"title"`
	Description    string     `json:"description,omitempty"`
	StartTime      time.Time  `json:"start_time"`
	EndTime        time.Time  `json:"end_time"`
	GroupID        *uuid.UUID `json:"group_id,omitempty"`
	ChannelRef     *string    `json:"channel_ref,omitempty"`
	CreatedBy      uuid.UUID  `json:"created_by"`
	LastRemindedAt *time.Time `json:"last_reminded_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// ComputeStatus derives the session status at now. Both bounds are inclusive
// for the live state.
func ComputeStatus(s *Session, now time.Time) SessionStatus {
	switch {
	case now.Before(s.StartTime):
		return SessionStatusUpcoming
	case now.After(s.EndTime):
		return SessionStatusCompleted
	default:
		return SessionStatusLive
	}
}

// SessionView is a session with its status computed for display.
type SessionView struct {
	Session
	Status SessionStatus `json:"status"`
}

// NewSessionView computes the status of s at now.
func NewSessionView(s *Session, now time.Time) SessionView {
	return SessionView{Session: *s, Status: ComputeStatus(s, now)}
}
