package model

import (
	"time"

	"github.com/google/uuid"
)

type GroupType string

const (
	GroupTypeCohort   GroupType = "cohort"
	GroupTypeGraduate GroupType = "graduate"
	GroupTypeMentor   GroupType = "mentor"
	GroupTypeCustom   GroupType = "custom"
)

// Valid reports whether t is one of the known group types.
func (t GroupType) Valid() bool {
	switch t {
	case GroupTypeCohort, GroupTypeGraduate, GroupTypeMentor, GroupTypeCustom:
		return true
	}
	return false
}

// Group is a cohort or other collection of learners. Its channel is created
// lazily, so ChannelRef stays nil until the first EnsureChannel.
type Group struct {
	ID         uuid.UUID  `json:"id"`
	Name       string     `json:"name"`
	Type       GroupType  `json:"type"`
	StartDate  *time.Time `json:"start_date,omitempty"`
	EndDate    *time.Time `json:"end_date,omitempty"`
	ChannelRef *string    `json:"channel_ref"`
	Archived   bool       `json:"archived"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

type MemberRole string

const (
	MemberRoleMember MemberRole = "member"
	MemberRoleAdmin  MemberRole = "admin"
)

// Valid reports whether r is a known role.
func (r MemberRole) Valid() bool {
	return r == MemberRoleMember || r == MemberRoleAdmin
}

// GroupMembership is unique on (GroupID, UserID).
type GroupMembership struct {
	GroupID  uuid.UUID  `json:"group_id"`
	UserID   uuid.UUID  `json:"user_id"`
	Role     MemberRole `json:"role"`
	JoinedAt time.Time  `json:"joined_at"`
}

// MemberGroup is a group seen from one member's perspective.
type MemberGroup struct {
	Group
	Role     MemberRole `json:"role"`
	JoinedAt time.Time  `json:"joined_at"`
}

// GroupMember is a membership joined with the member's identity.
type GroupMember struct {
	Identity
	Role     MemberRole `json:"role"`
	JoinedAt time.Time  `json:"joined_at"`
}
