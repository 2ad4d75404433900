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

// channelLease bounds how long one process may hold the right to create a
// channel for an entity. It must outlive a provider call.
const channelLease = time.Minute

// PairingService runs the buddy pair lifecycle.
type PairingService struct {
	pairs    PairStore
	users    Identity
	channels provider.ChannelProvider
	events   EventPublisher
	logger   *zap.Logger

	now    func() time.Time
	flight singleflight.Group
}

// NewPairingService creates the buddy pairing service.
func NewPairingService(
	pairs PairStore,
	users Identity,
	channels provider.ChannelProvider,
	publisher EventPublisher,
	logger *zap.Logger,
) *PairingService {
	return &PairingService{
		pairs:    pairs,
		users:    users,
		channels: channels,
		events:   publisher,
		logger:   logger,
		now:      time.Now,
	}
}

// CreateInvitation creates a pending pair between two learners.
func (s *PairingService) CreateInvitation(ctx context.Context, fromUser, toUser uuid.UUID) (*model.BuddyPair, error) {
	if fromUser == toUser {
		return nil, fmt.Errorf("%w: cannot pair a user with themselves", ErrValidation)
	}

	for _, id := range []uuid.UUID{fromUser, toUser} {
		user, err := s.users.GetByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("get user: %w", err)
		}
		if user == nil {
			return nil, fmt.Errorf("%w: user %s", ErrNotFound, id)
		}

		active, err := s.pairs.GetActiveByUser(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("get active pair: %w", err)
		}
		if active != nil {
			return nil, fmt.Errorf("%w: user %s already has an active pair", ErrConflict, id)
		}
	}

	pair := &model.BuddyPair{
		UserA:  fromUser,
		UserB:  toUser,
		Status: model.PairStatusPending,
	}
	if err := s.pairs.Create(ctx, pair); err != nil {
		if errors.Is(err, base.ErrDuplicate) {
			return nil, fmt.Errorf("%w: one of the users already has an active pair", ErrConflict)
		}
		return nil, fmt.Errorf("create pair: %w", err)
	}

	s.logger.Info("Buddy invitation created",
		zap.String("pair_id", pair.ID.String()),
		zap.String("from", fromUser.String()),
		zap.String("to", toUser.String()),
	)
	s.publish(ctx, events.New(events.PairInvited, pair.ID, map[string]string{
		"user_a": fromUser.String(),
		"user_b": toUser.String(),
	}))

	return pair, nil
}

// Confirm creates the private channel of a pending pair and marks it
// confirmed. A pair only becomes confirmed together with its channel.
func (s *PairingService) Confirm(ctx context.Context, pairID, actingUser uuid.UUID) (*model.BuddyPair, error) {
	pair, err := s.Authorize(ctx, pairID, actingUser)
	if err != nil {
		return nil, err
	}

	switch pair.Status {
	case model.PairStatusConfirmed:
		return pair, nil
	case model.PairStatusArchived:
		return nil, fmt.Errorf("%w: pair is archived", ErrConflict)
	}

	v, err, _ := s.flight.Do(pairID.String(), func() (interface{}, error) {
		return s.confirm(ctx, pairID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.BuddyPair), nil
}

func (s *PairingService) confirm(ctx context.Context, pairID uuid.UUID) (*model.BuddyPair, error) {
	now := s.now()
	claimed, err := s.pairs.ClaimConfirmation(ctx, pairID, now, now.Add(channelLease))
	if err != nil {
		return nil, fmt.Errorf("claim confirmation: %w", err)
	}
	if !claimed {
		// Another process is confirming or already did.
		pair, err := s.getPair(ctx, pairID)
		if err != nil {
			return nil, err
		}
		switch pair.Status {
		case model.PairStatusConfirmed:
			return pair, nil
		case model.PairStatusArchived:
			return nil, fmt.Errorf("%w: pair is archived", ErrConflict)
		}
		return nil, fmt.Errorf("%w: confirmation in progress", ErrConflict)
	}
	defer func() {
		if err := s.pairs.ReleaseConfirmation(context.WithoutCancel(ctx), pairID); err != nil {
			s.logger.Warn("Failed to release confirmation lease", zap.String("pair_id", pairID.String()), zap.Error(err))
		}
	}()

	pair, err := s.getPair(ctx, pairID)
	if err != nil {
		return nil, err
	}
	userA, err := s.users.GetByID(ctx, pair.UserA)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	userB, err := s.users.GetByID(ctx, pair.UserB)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if userA == nil || userB == nil {
		return nil, fmt.Errorf("%w: pair member no longer exists", ErrNotFound)
	}

	name := provider.NormalizeChannelName("buddy " + userA.DisplayName + " " + userB.DisplayName)
	channelRef, err := s.channels.CreateChannel(ctx, name, true)
	if err != nil {
		s.logger.Error("Failed to create pair channel", zap.String("pair_id", pairID.String()), zap.Error(err))
		return nil, fmt.Errorf("%w: create channel: %w", ErrRemoteService, err)
	}
	metrics.ChannelsCreated.WithLabelValues("pair").Inc()

	for _, u := range []*model.User{userA, userB} {
		inviteMember(ctx, s.channels, s.logger, channelRef, u)
	}

	ok, err := s.pairs.MarkConfirmed(ctx, pairID, channelRef)
	if err != nil {
		metrics.OrphanedChannels.WithLabelValues("pair").Inc()
		return nil, fmt.Errorf("mark pair confirmed: %w", err)
	}
	if !ok {
		metrics.OrphanedChannels.WithLabelValues("pair").Inc()
		s.logger.Warn("Pair left pending state while its channel was created",
			zap.String("pair_id", pairID.String()),
			zap.String("channel_ref", channelRef),
		)
		return nil, fmt.Errorf("%w: pair is no longer pending", ErrConflict)
	}

	s.logger.Info("Buddy pair confirmed",
		zap.String("pair_id", pairID.String()),
		zap.String("channel_ref", channelRef),
	)
	s.publish(ctx, events.New(events.PairConfirmed, pairID, map[string]string{"channel_ref": channelRef}))

	return s.getPair(ctx, pairID)
}

// Archive dissolves a pair. Channel history stays with the provider.
func (s *PairingService) Archive(ctx context.Context, pairID, actingUser uuid.UUID) (*model.BuddyPair, error) {
	pair, err := s.Authorize(ctx, pairID, actingUser)
	if err != nil {
		return nil, err
	}
	if pair.IsArchived() {
		return pair, nil
	}

	if _, err := s.pairs.Archive(ctx, pairID); err != nil {
		return nil, fmt.Errorf("archive pair: %w", err)
	}

	s.logger.Info("Buddy pair archived",
		zap.String("pair_id", pairID.String()),
		zap.String("by", actingUser.String()),
	)
	s.publish(ctx, events.New(events.PairArchived, pairID, map[string]string{"by": actingUser.String()}))

	return s.getPair(ctx, pairID)
}

// Repair archives the acting user's pair and invites a new partner. The new
// partner is resolved before anything is written; if the new invitation
// fails after the archive, the archive stays.
func (s *PairingService) Repair(ctx context.Context, pairID, actingUser uuid.UUID, newUserEmail string) (*model.BuddyPair, error) {
	newUserEmail = strings.TrimSpace(newUserEmail)
	if newUserEmail == "" {
		return nil, fmt.Errorf("%w: new partner email is required", ErrValidation)
	}

	pair, err := s.Authorize(ctx, pairID, actingUser)
	if err != nil {
		return nil, err
	}

	partner, err := s.users.FindByEmail(ctx, newUserEmail)
	if err != nil {
		return nil, fmt.Errorf("find user by email: %w", err)
	}
	if partner == nil {
		return nil, fmt.Errorf("%w: no user with email %s", ErrNotFound, newUserEmail)
	}
	if partner.ID == actingUser {
		return nil, fmt.Errorf("%w: cannot pair a user with themselves", ErrValidation)
	}
	if !pair.HasMember(partner.ID) {
		active, err := s.pairs.GetActiveByUser(ctx, partner.ID)
		if err != nil {
			return nil, fmt.Errorf("get active pair: %w", err)
		}
		if active != nil {
			return nil, fmt.Errorf("%w: %s already has an active pair", ErrConflict, newUserEmail)
		}
	}

	if _, err := s.Archive(ctx, pairID, actingUser); err != nil {
		return nil, err
	}

	next, err := s.CreateInvitation(ctx, actingUser, partner.ID)
	if err != nil {
		return nil, fmt.Errorf("pair %s was archived but the new invitation failed: %w", pairID, err)
	}
	return next, nil
}

// Authorize returns the pair if userID is one of its members.
func (s *PairingService) Authorize(ctx context.Context, pairID, userID uuid.UUID) (*model.BuddyPair, error) {
	pair, err := s.getPair(ctx, pairID)
	if err != nil {
		return nil, err
	}
	if !pair.HasMember(userID) {
		return nil, fmt.Errorf("%w: not a member of pair %s", ErrUnauthorized, pairID)
	}
	return pair, nil
}

func (s *PairingService) getPair(ctx context.Context, pairID uuid.UUID) (*model.BuddyPair, error) {
	pair, err := s.pairs.GetByID(ctx, pairID)
	if err != nil {
		return nil, fmt.Errorf("get pair: %w", err)
	}
	if pair == nil {
		return nil, fmt.Errorf("%w: pair %s", ErrNotFound, pairID)
	}
	return pair, nil
}

func (s *PairingService) publish(ctx context.Context, e events.Event) {
	publish(ctx, s.events, s.logger, e)
}

// inviteMember adds u to the channel. Failures are only logged: the channel
// stays usable and the member can be invited again later.
func inviteMember(ctx context.Context, channels provider.ChannelProvider, logger *zap.Logger, channelRef string, u *model.User) {
	if u.ProviderUserID == nil || *u.ProviderUserID == "" {
		logger.Debug("User has no provider identity, skipping invite", zap.String("user_id", u.ID.String()))
		return
	}
	if err := channels.InviteMember(ctx, channelRef, *u.ProviderUserID); err != nil {
		logger.Warn("Failed to invite member",
			zap.String("channel_ref", channelRef),
			zap.String("user_id", u.ID.String()),
			zap.Error(err),
		)
	}
}

func publish(ctx context.Context, publisher EventPublisher, logger *zap.Logger, e events.Event) {
	if publisher == nil {
		return
	}
	if err := publisher.Publish(ctx, e); err != nil {
		logger.Warn("Failed to publish event", zap.String("type", string(e.Type)), zap.Error(err))
	}
}
