package service

import (
	"context"
	"fmt"
	"html"
	"strings"
	"unicode/utf8"

	"github.com/Freeeeeet/community_hub/internal/model"
	"github.com/Freeeeeet/community_hub/internal/provider"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"
)

// MaxMessageLength is the longest message, author prefix included, the
// provider accepts.
const MaxMessageLength = 2000

// ChatScope names what a conversation belongs to.
type ChatScope string

const (
	ChatScopePair  ChatScope = "pair"
	ChatScopeGroup ChatScope = "group"
)

type PairAuthorizer interface {
	Authorize(ctx context.Context, pairID, userID uuid.UUID) (*model.BuddyPair, error)
}

type GroupAuthorizer interface {
	Authorize(ctx context.Context, groupID, userID uuid.UUID) (*model.Group, error)
}

// ChatService relays plain-text chat between learners and the channel of
// their pair or group. Messages are posted by the service account and
// attributed with a "Name (email): " prefix. Emails are unique, so the
// prefix tells apart members who share a display name.
type ChatService struct {
	pairs      PairAuthorizer
	groups     GroupAuthorizer
	users      Identity
	channels   provider.ChannelProvider
	limiter    SendLimiter
	idem       IdempotencyGuard
	policy     *bluemonday.Policy
	fetchLimit int
	logger     *zap.Logger
}

// ChatOption configures a ChatService.
type ChatOption func(*ChatService)

// WithSendLimiter caps how often one user may send.
func WithSendLimiter(l SendLimiter) ChatOption {
	return func(s *ChatService) { s.limiter = l }
}

// WithIdempotency drops repeated sends carrying the same client key.
func WithIdempotency(g IdempotencyGuard) ChatOption {
	return func(s *ChatService) { s.idem = g }
}

// WithFetchLimit sets the page size read from the provider.
func WithFetchLimit(n int) ChatOption {
	return func(s *ChatService) { s.fetchLimit = provider.ClampLimit(n) }
}

// NewChatService creates the chat relay service.
func NewChatService(
	pairs PairAuthorizer,
	groups GroupAuthorizer,
	users Identity,
	channels provider.ChannelProvider,
	logger *zap.Logger,
	opts ...ChatOption,
) *ChatService {
	s := &ChatService{
		pairs:      pairs,
		groups:     groups,
		users:      users,
		channels:   channels,
		policy:     bluemonday.StrictPolicy(),
		fetchLimit: provider.DefaultFetchLimit,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ResolveChannel returns the channel of a pair or group after checking
// that userID may use it.
func (s *ChatService) ResolveChannel(ctx context.Context, scope ChatScope, id, userID uuid.UUID) (string, error) {
	switch scope {
	case ChatScopePair:
		pair, err := s.pairs.Authorize(ctx, id, userID)
		if err != nil {
			return "", err
		}
		if !pair.IsConfirmed() || pair.ChannelRef == nil {
			return "", fmt.Errorf("%w: pair has no channel", ErrConflict)
		}
		return *pair.ChannelRef, nil
	case ChatScopeGroup:
		group, err := s.groups.Authorize(ctx, id, userID)
		if err != nil {
			return "", err
		}
		if group.ChannelRef == nil {
			return "", fmt.Errorf("%w: group has no channel", ErrConflict)
		}
		return *group.ChannelRef, nil
	}
	return "", fmt.Errorf("%w: unknown chat scope %q", ErrValidation, scope)
}

// Fetch returns the latest page of a channel, oldest first.
func (s *ChatService) Fetch(ctx context.Context, channelRef string) ([]model.ChannelMessage, error) {
	msgs, err := s.channels.FetchMessages(ctx, channelRef, s.fetchLimit)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch messages: %w", ErrRemoteService, err)
	}
	return msgs, nil
}

// Messages returns the latest page of a pair or group channel.
func (s *ChatService) Messages(ctx context.Context, scope ChatScope, id, userID uuid.UUID) ([]model.ChannelMessage, error) {
	channelRef, err := s.ResolveChannel(ctx, scope, id, userID)
	if err != nil {
		return nil, err
	}
	return s.Fetch(ctx, channelRef)
}

// Send posts text on behalf of userID. A non-empty idempotencyKey that was
// already used by the same user makes the call a successful no-op.
func (s *ChatService) Send(ctx context.Context, scope ChatScope, id, userID uuid.UUID, text, idempotencyKey string) error {
	channelRef, err := s.ResolveChannel(ctx, scope, id, userID)
	if err != nil {
		return err
	}
	return s.SendTo(ctx, channelRef, userID, text, idempotencyKey)
}

// SendTo posts to an already resolved channel.
func (s *ChatService) SendTo(ctx context.Context, channelRef string, userID uuid.UUID, text, idempotencyKey string) error {
	prefix, err := s.authorPrefix(ctx, userID)
	if err != nil {
		return err
	}
	body, err := s.compose(prefix, text)
	if err != nil {
		return err
	}

	if s.limiter != nil {
		ok, err := s.limiter.Allow(ctx, userID.String())
		if err != nil {
			s.logger.Warn("Send limiter unavailable", zap.Error(err))
		} else if !ok {
			return fmt.Errorf("%w: too many messages, slow down", ErrRateLimited)
		}
	}
	claimed := ""
	if s.idem != nil && idempotencyKey != "" {
		key := userID.String() + ":" + idempotencyKey
		first, err := s.idem.Claim(ctx, key)
		if err != nil {
			s.logger.Warn("Idempotency store unavailable", zap.Error(err))
		} else if !first {
			return nil
		}
		if first {
			claimed = key
		}
	}

	if !s.channels.PostMessage(ctx, channelRef, body) {
		// nothing was posted, so a retry with the same key must go through
		if claimed != "" {
			if err := s.idem.Release(ctx, claimed); err != nil {
				s.logger.Warn("Failed to release idempotency key", zap.Error(err))
			}
		}
		return fmt.Errorf("%w: message was not delivered", ErrRemoteService)
	}
	return nil
}

// Edit replaces the text of one of the caller's recent messages.
func (s *ChatService) Edit(ctx context.Context, scope ChatScope, id, userID uuid.UUID, messageID, text string) error {
	channelRef, prefix, err := s.ownMessage(ctx, scope, id, userID, messageID)
	if err != nil {
		return err
	}
	body, err := s.compose(prefix, text)
	if err != nil {
		return err
	}

	if !s.channels.EditMessage(ctx, channelRef, messageID, body) {
		return fmt.Errorf("%w: message was not edited", ErrRemoteService)
	}
	return nil
}

// Delete removes one of the caller's recent messages.
func (s *ChatService) Delete(ctx context.Context, scope ChatScope, id, userID uuid.UUID, messageID string) error {
	channelRef, _, err := s.ownMessage(ctx, scope, id, userID, messageID)
	if err != nil {
		return err
	}

	if !s.channels.DeleteMessage(ctx, channelRef, messageID) {
		return fmt.Errorf("%w: message was not deleted", ErrRemoteService)
	}
	return nil
}

// ownMessage finds messageID in the latest page and checks it carries the
// caller's prefix. Older messages cannot be reached.
func (s *ChatService) ownMessage(ctx context.Context, scope ChatScope, id, userID uuid.UUID, messageID string) (string, string, error) {
	channelRef, err := s.ResolveChannel(ctx, scope, id, userID)
	if err != nil {
		return "", "", err
	}
	prefix, err := s.authorPrefix(ctx, userID)
	if err != nil {
		return "", "", err
	}

	msgs, err := s.Fetch(ctx, channelRef)
	if err != nil {
		return "", "", err
	}
	for _, m := range msgs {
		if m.ID != messageID {
			continue
		}
		if !strings.HasPrefix(m.Text, prefix) {
			return "", "", fmt.Errorf("%w: message belongs to someone else", ErrUnauthorized)
		}
		return channelRef, prefix, nil
	}
	return "", "", fmt.Errorf("%w: message %s not among recent messages", ErrNotFound, messageID)
}

// authorPrefix attributes a message to userID.
func (s *ChatService) authorPrefix(ctx context.Context, userID uuid.UUID) (string, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("get user: %w", err)
	}
	if user == nil {
		return "", fmt.Errorf("%w: user %s", ErrNotFound, userID)
	}
	name := strings.TrimSpace(user.DisplayName)
	if name == "" {
		return user.Email + ": ", nil
	}
	return name + " (" + user.Email + "): ", nil
}

// compose strips markup from text and prefixes it with the author.
func (s *ChatService) compose(prefix, text string) (string, error) {
	clean := strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(text)))
	if clean == "" {
		return "", fmt.Errorf("%w: message is empty", ErrValidation)
	}
	body := prefix + clean
	if utf8.RuneCountInString(body) > MaxMessageLength {
		return "", fmt.Errorf("%w: message is longer than %d characters", ErrValidation, MaxMessageLength)
	}
	return body, nil
}
