package model

import (
	"time"

	"github.com/google/uuid"
)

// PairStatus is the lifecycle state of a buddy pair.
type PairStatus string

const (
	PairStatusPending   PairStatus = "pending"   // Invitation sent, no channel yet
	PairStatusConfirmed PairStatus = "confirmed" // Channel created
	PairStatusArchived  PairStatus = "archived"  // Dissolved or re-paired
)

// BuddyPair is a one-to-one accountability relationship between two learners.
type BuddyPair struct {
	ID                 uuid.UUID  `json:"id"`
	UserA              uuid.UUID  `json:"user_a"`
	UserB              uuid.UUID  `json:"user_b"`
	Status             PairStatus `json:"status"`
	ChannelRef         *string    `json:"channel_ref"`                    // set iff status is confirmed
	ArchivedChannelRef *string    `json:"archived_channel_ref,omitempty"` // channel of a dissolved pair, never reused
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// HasMember reports whether userID is one of the two sides of the pair.
func (p *BuddyPair) HasMember(userID uuid.UUID) bool {
	return p.UserA == userID || p.UserB == userID
}

// Partner returns the other side of the pair for userID.
func (p *BuddyPair) Partner(userID uuid.UUID) uuid.UUID {
	if p.UserA == userID {
		return p.UserB
	}
	return p.UserA
}

// IsPending reports whether the pair awaits confirmation.
func (p *BuddyPair) IsPending() bool {
	return p.Status == PairStatusPending
}

// IsConfirmed reports whether the pair has a live channel.
func (p *BuddyPair) IsConfirmed() bool {
	return p.Status == PairStatusConfirmed
}

// IsArchived reports whether the pair was dissolved.
func (p *BuddyPair) IsArchived() bool {
	return p.Status == PairStatusArchived
}
