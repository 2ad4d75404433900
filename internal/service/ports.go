package service

import (
	"context"
	"time"

	"github.com/Freeeeeet/community_hub/internal/events"
	"github.com/Freeeeeet/community_hub/internal/model"
	"github.com/google/uuid"
)

// Identity resolves users. Profiles are owned elsewhere; the engines only
// read them.
type Identity interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.User, error)
	FindByEmail(ctx context.Context, email string) (*model.User, error)
	Search(ctx context.Context, query string, limit int) ([]*model.User, error)
}

// UserStore is the identity plus the few writes the bot needs.
type UserStore interface {
	Identity
	GetByTelegramID(ctx context.Context, telegramID int64) (*model.User, error)
	// SetTelegramID fails with base.ErrDuplicate when telegramID is taken
	// and returns false for an unknown user.
	SetTelegramID(ctx context.Context, userID uuid.UUID, telegramID int64) (bool, error)
}

// LinkCodeStore keeps one-time Telegram link codes.
type LinkCodeStore interface {
	// Create fails with base.ErrDuplicate when the code is taken.
	Create(ctx context.Context, code *model.TelegramLinkCode) error
	// Redeem spends an unused, unexpired code and returns nil otherwise.
	Redeem(ctx context.Context, code string, now time.Time) (*model.TelegramLinkCode, error)
	DeleteUnused(ctx context.Context, userID uuid.UUID) error
}

// PairStore persists buddy pairs.
type PairStore interface {
	// Create fails with base.ErrDuplicate when either user already has a
	// non-archived pair.
	Create(ctx context.Context, pair *model.BuddyPair) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.BuddyPair, error)
	GetActiveByUser(ctx context.Context, userID uuid.UUID) (*model.BuddyPair, error)
	List(ctx context.Context, status model.PairStatus) ([]*model.BuddyPair, error)
	// ClaimConfirmation takes the confirmation lease of a pending pair until
	// the given time. It fails when another holder's lease is still valid.
	ClaimConfirmation(ctx context.Context, id uuid.UUID, now, until time.Time) (bool, error)
	ReleaseConfirmation(ctx context.Context, id uuid.UUID) error
	// MarkConfirmed moves a pending pair to confirmed with its channel.
	MarkConfirmed(ctx context.Context, id uuid.UUID, channelRef string) (bool, error)
	// Archive moves a non-archived pair to archived and frees both users.
	Archive(ctx context.Context, id uuid.UUID) (bool, error)
}

// GroupStore persists groups.
type GroupStore interface {
	// Create and Update fail with base.ErrDuplicate on a name clash.
	Create(ctx context.Context, group *model.Group) error
	// Update returns false when the group no longer exists.
	Update(ctx context.Context, group *model.Group) (bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*model.Group, error)
	// GetByName matches case-insensitively.
	GetByName(ctx context.Context, name string) (*model.Group, error)
	List(ctx context.Context, includeArchived bool) ([]*model.Group, error)
	Archive(ctx context.Context, id uuid.UUID) (bool, error)
	ClaimChannel(ctx context.Context, id uuid.UUID, now, until time.Time) (bool, error)
	ReleaseChannelClaim(ctx context.Context, id uuid.UUID) error
	// SetChannel stores channelRef only if the group has none yet.
	SetChannel(ctx context.Context, id uuid.UUID, channelRef string) (bool, error)
}

type MembershipStore interface {
	// Add reports false when the user is already a member.
	Add(ctx context.Context, m *model.GroupMembership) (bool, error)
	Remove(ctx context.Context, groupID, userID uuid.UUID) (bool, error)
	Get(ctx context.Context, groupID, userID uuid.UUID) (*model.GroupMembership, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*model.MemberGroup, error)
	ListMembers(ctx context.Context, groupID uuid.UUID) ([]*model.GroupMember, error)
}

// SessionStore persists sessions.
type SessionStore interface {
	Create(ctx context.Context, s *model.Session) error
	// Update keeps the stored reminder watermark unless the start time
	// changes. Returns false when the session is gone.
	Update(ctx context.Context, s *model.Session) (bool, error)
	Delete(ctx context.Context, id uuid.UUID) (bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*model.Session, error)
	List(ctx context.Context) ([]*model.Session, error)
	// ListForUser returns sessions of the user's groups plus sessions with
	// no group, ordered by start time.
	ListForUser(ctx context.Context, userID uuid.UUID) ([]*model.Session, error)
	// ListDueReminders returns sessions starting in (from, to] that have a
	// channel and no reminder yet.
	ListDueReminders(ctx context.Context, from, to time.Time) ([]*model.Session, error)
	// ClaimReminder sets the reminder watermark if it is still empty.
	ClaimReminder(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, e events.Event) error
}

// SendLimiter counts chat sends per user.
type SendLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// IdempotencyGuard deduplicates client retries of the same send. Release
// gives a key back after the send it guarded failed.
type IdempotencyGuard interface {
	Claim(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}
