package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Freeeeeet/community_hub/internal/events"
	"github.com/Freeeeeet/community_hub/internal/metrics"
	"github.com/Freeeeeet/community_hub/internal/model"
	"github.com/Freeeeeet/community_hub/internal/provider"
	"github.com/Freeeeeet/community_hub/internal/repository/base"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const maxGroupNameLength = 200

// GroupInput carries the editable fields of a group.
type GroupInput struct {
	Name      string          `json:"name"`
	Type      model.GroupType `json:"type"`
	StartDate *time.Time      `json:"start_date,omitempty"`
	EndDate   *time.Time      `json:"end_date,omitempty"`
}

func (in *GroupInput) validate() error {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return fmt.Errorf("%w: group name is required", ErrValidation)
	}
	if len(in.Name) > maxGroupNameLength {
		return fmt.Errorf("%w: group name is too long", ErrValidation)
	}
	if !in.Type.Valid() {
		return fmt.Errorf("%w: unknown group type %q", ErrValidation, in.Type)
	}
	if in.StartDate != nil && in.EndDate != nil && in.EndDate.Before(*in.StartDate) {
		return fmt.Errorf("%w: group ends before it starts", ErrValidation)
	}
	return nil
}

// GroupService manages groups, their members and channels.
type GroupService struct {
	groups   GroupStore
	members  MembershipStore
	users    Identity
	channels provider.ChannelProvider
	events   EventPublisher
	logger   *zap.Logger

	now    func() time.Time
	flight singleflight.Group
}

// NewGroupService creates the group service.
func NewGroupService(
	groups GroupStore,
	members MembershipStore,
	users Identity,
	channels provider.ChannelProvider,
	publisher EventPublisher,
	logger *zap.Logger,
) *GroupService {
	return &GroupService{
		groups:   groups,
		members:  members,
		users:    users,
		channels: channels,
		events:   publisher,
		logger:   logger,
		now:      time.Now,
	}
}

// CreateGroup validates and stores a new group.
func (s *GroupService) CreateGroup(ctx context.Context, in GroupInput) (*model.Group, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	group := &model.Group{
		Name:      in.Name,
		Type:      in.Type,
		StartDate: in.StartDate,
		EndDate:   in.EndDate,
	}
	if err := s.groups.Create(ctx, group); err != nil {
		if errors.Is(err, base.ErrDuplicate) {
			return nil, fmt.Errorf("%w: group %q already exists", ErrConflict, in.Name)
		}
		return nil, fmt.Errorf("create group: %w", err)
	}

	s.logger.Info("Group created",
		zap.String("group_id", group.ID.String()),
		zap.String("name", group.Name),
		zap.String("type", string(group.Type)),
	)
	publish(ctx, s.events, s.logger, events.New(events.GroupCreated, group.ID, map[string]string{"name": group.Name}))

	return group, nil
}

// UpdateGroup changes a group's attributes. Archived groups are read-only.
func (s *GroupService) UpdateGroup(ctx context.Context, groupID uuid.UUID, in GroupInput) (*model.Group, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	group, err := s.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if group.Archived {
		return nil, fmt.Errorf("%w: group is archived", ErrConflict)
	}

	group.Name = in.Name
	group.Type = in.Type
	group.StartDate = in.StartDate
	group.EndDate = in.EndDate
	updated, err := s.groups.Update(ctx, group)
	if err != nil {
		if errors.Is(err, base.ErrDuplicate) {
			return nil, fmt.Errorf("%w: group %q already exists", ErrConflict, in.Name)
		}
		return nil, fmt.Errorf("update group: %w", err)
	}
	if !updated {
		return nil, fmt.Errorf("%w: group %s", ErrNotFound, groupID)
	}

	return group, nil
}

// GetGroup returns ErrNotFound for an unknown group.
func (s *GroupService) GetGroup(ctx context.Context, groupID uuid.UUID) (*model.Group, error) {
	group, err := s.groups.GetByID(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("get group: %w", err)
	}
	if group == nil {
		return nil, fmt.Errorf("%w: group %s", ErrNotFound, groupID)
	}
	return group, nil
}

// EnsureChannel returns the group's channel, creating it on first use.
// Concurrent callers observe the same channel.
func (s *GroupService) EnsureChannel(ctx context.Context, groupID uuid.UUID) (string, error) {
	group, err := s.GetGroup(ctx, groupID)
	if err != nil {
		return "", err
	}
	if group.ChannelRef != nil {
		return *group.ChannelRef, nil
	}
	if group.Archived {
		return "", fmt.Errorf("%w: group is archived", ErrConflict)
	}

	v, err, _ := s.flight.Do(groupID.String(), func() (interface{}, error) {
		return s.ensureChannel(ctx, group)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (s *GroupService) ensureChannel(ctx context.Context, group *model.Group) (string, error) {
	now := s.now()
	claimed, err := s.groups.ClaimChannel(ctx, group.ID, now, now.Add(channelLease))
	if err != nil {
		return "", fmt.Errorf("claim group channel: %w", err)
	}
	if !claimed {
		return s.currentChannel(ctx, group.ID)
	}
	defer func() {
		if err := s.groups.ReleaseChannelClaim(context.WithoutCancel(ctx), group.ID); err != nil {
			s.logger.Warn("Failed to release channel claim", zap.String("group_id", group.ID.String()), zap.Error(err))
		}
	}()

	channelRef, err := s.channels.CreateChannel(ctx, group.Name, true)
	if err != nil {
		s.logger.Error("Failed to create group channel", zap.String("group_id", group.ID.String()), zap.Error(err))
		return "", fmt.Errorf("%w: create channel: %w", ErrRemoteService, err)
	}

	ok, err := s.groups.SetChannel(ctx, group.ID, channelRef)
	if err != nil {
		metrics.OrphanedChannels.WithLabelValues("group").Inc()
		s.logger.Error("Created group channel was not recorded",
			zap.String("group_id", group.ID.String()),
			zap.String("channel_ref", channelRef),
			zap.Error(err),
		)
		return "", fmt.Errorf("set group channel: %w", err)
	}
	if !ok {
		// the provider has no delete call; the extra channel stays behind
		metrics.OrphanedChannels.WithLabelValues("group").Inc()
		s.logger.Warn("Group channel was set concurrently, orphaning new channel",
			zap.String("group_id", group.ID.String()),
			zap.String("channel_ref", channelRef),
		)
		return s.currentChannel(ctx, group.ID)
	}
	metrics.ChannelsCreated.WithLabelValues("group").Inc()

	members, err := s.members.ListMembers(ctx, group.ID)
	if err != nil {
		s.logger.Warn("Failed to list members for invites", zap.String("group_id", group.ID.String()), zap.Error(err))
	}
	for _, m := range members {
		s.inviteUser(ctx, channelRef, m.ID)
	}

	s.logger.Info("Group channel created",
		zap.String("group_id", group.ID.String()),
		zap.String("channel_ref", channelRef),
		zap.Int("members", len(members)),
	)
	publish(ctx, s.events, s.logger, events.New(events.GroupChannelReady, group.ID, map[string]string{"channel_ref": channelRef}))

	return channelRef, nil
}

// currentChannel re-reads a group whose channel another caller is creating.
func (s *GroupService) currentChannel(ctx context.Context, groupID uuid.UUID) (string, error) {
	group, err := s.GetGroup(ctx, groupID)
	if err != nil {
		return "", err
	}
	if group.ChannelRef == nil {
		return "", fmt.Errorf("%w: channel creation in progress", ErrConflict)
	}
	return *group.ChannelRef, nil
}

// AddMembersByEmail adds every resolvable email to the group. Rows in the
// report are 1-based positions in emails.
func (s *GroupService) AddMembersByEmail(ctx context.Context, groupID uuid.UUID, emails []string, role model.MemberRole) (*model.ImportReport, error) {
	if role == "" {
		role = model.MemberRoleMember
	}
	if !role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", ErrValidation, role)
	}

	group, err := s.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if group.Archived {
		return nil, fmt.Errorf("%w: group is archived", ErrConflict)
	}

	report := &model.ImportReport{}
	for i, email := range emails {
		row := i + 1
		email = strings.TrimSpace(email)
		if email == "" {
			report.AddError(row, reasonMissingEmail)
			continue
		}

		user, err := s.users.FindByEmail(ctx, email)
		if err != nil {
			return nil, fmt.Errorf("find user by email: %w", err)
		}
		if user == nil {
			report.AddError(row, reasonUnknownEmail)
			continue
		}

		added, err := s.addMember(ctx, group, user, role)
		if err != nil {
			return nil, err
		}
		if added {
			report.Added++
		} else {
			report.Skipped++
		}
	}

	s.logger.Info("Members added by email",
		zap.String("group_id", groupID.String()),
		zap.Int("added", report.Added),
		zap.Int("skipped", report.Skipped),
		zap.Int("errors", len(report.Errors)),
	)
	return report, nil
}

// addMember reports false when user already belongs to the group.
func (s *GroupService) addMember(ctx context.Context, group *model.Group, user *model.User, role model.MemberRole) (bool, error) {
	added, err := s.members.Add(ctx, &model.GroupMembership{
		GroupID: group.ID,
		UserID:  user.ID,
		Role:    role,
	})
	if err != nil {
		return false, fmt.Errorf("add membership: %w", err)
	}
	if !added {
		return false, nil
	}

	if group.ChannelRef != nil {
		inviteMember(ctx, s.channels, s.logger, *group.ChannelRef, user)
	}
	publish(ctx, s.events, s.logger, events.New(events.MembershipAdded, group.ID, map[string]string{
		"user_id": user.ID.String(),
		"role":    string(role),
	}))
	return true, nil
}

// ArchiveGroup hides the group from default listings. Memberships and the
// channel are kept.
func (s *GroupService) ArchiveGroup(ctx context.Context, groupID uuid.UUID) (*model.Group, error) {
	group, err := s.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if group.Archived {
		return group, nil
	}

	if _, err := s.groups.Archive(ctx, groupID); err != nil {
		return nil, fmt.Errorf("archive group: %w", err)
	}
	group.Archived = true

	s.logger.Info("Group archived", zap.String("group_id", groupID.String()))
	publish(ctx, s.events, s.logger, events.New(events.GroupArchived, groupID, nil))

	return group, nil
}

// RemoveMember drops a membership and revokes channel access.
func (s *GroupService) RemoveMember(ctx context.Context, groupID, userID uuid.UUID) error {
	group, err := s.GetGroup(ctx, groupID)
	if err != nil {
		return err
	}

	removed, err := s.members.Remove(ctx, groupID, userID)
	if err != nil {
		return fmt.Errorf("remove membership: %w", err)
	}
	if !removed {
		return fmt.Errorf("%w: user %s is not a member", ErrNotFound, userID)
	}

	if group.ChannelRef != nil {
		user, err := s.users.GetByID(ctx, userID)
		if err != nil {
			s.logger.Warn("Failed to load removed member", zap.String("user_id", userID.String()), zap.Error(err))
		} else if user != nil && user.ProviderUserID != nil {
			if err := s.channels.RemoveMember(ctx, *group.ChannelRef, *user.ProviderUserID); err != nil {
				s.logger.Warn("Failed to remove member from channel",
					zap.String("group_id", groupID.String()),
					zap.String("user_id", userID.String()),
					zap.Error(err),
				)
			}
		}
	}

	s.logger.Info("Member removed", zap.String("group_id", groupID.String()), zap.String("user_id", userID.String()))
	publish(ctx, s.events, s.logger, events.New(events.MembershipRemoved, groupID, map[string]string{"user_id": userID.String()}))

	return nil
}

// Authorize returns the group if userID is a member or a platform admin.
func (s *GroupService) Authorize(ctx context.Context, groupID, userID uuid.UUID) (*model.Group, error) {
	group, err := s.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}

	membership, err := s.members.Get(ctx, groupID, userID)
	if err != nil {
		return nil, fmt.Errorf("get membership: %w", err)
	}
	if membership != nil {
		return group, nil
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if user != nil && user.IsAdmin {
		return group, nil
	}
	return nil, fmt.Errorf("%w: not a member of group %s", ErrUnauthorized, groupID)
}

func (s *GroupService) inviteUser(ctx context.Context, channelRef string, userID uuid.UUID) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil || user == nil {
		s.logger.Warn("Failed to load member for invite", zap.String("user_id", userID.String()), zap.Error(err))
		return
	}
	inviteMember(ctx, s.channels, s.logger, channelRef, user)
}
