package service

import (
	"context"
	"crypto/rand"
	"encoding/base32"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Freeeeeet/community_hub/internal/model"
	"github.com/Freeeeeet/community_hub/internal/repository/base"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LinkCodeTTL is how long an issued Telegram link code stays valid.
const LinkCodeTTL = 15 * time.Minute

const (
	linkCodeLength      = 8
	linkCodeMaxAttempts = 10
)

// UserService links chat-app accounts to learner identities.
type UserService struct {
	users  UserStore
	codes  LinkCodeStore
	logger *zap.Logger
	now    func() time.Time
}

// NewUserService creates the service over the identity and link code stores.
func NewUserService(users UserStore, codes LinkCodeStore, logger *zap.Logger) *UserService {
	return &UserService{
		users:  users,
		codes:  codes,
		logger: logger,
		now:    time.Now,
	}
}

// IssueLinkCode creates a one-time code for userID to send to the bot.
// Earlier unused codes of the same user stop working.
func (s *UserService) IssueLinkCode(ctx context.Context, userID uuid.UUID) (*model.TelegramLinkCode, error) {
	if _, err := s.GetByID(ctx, userID); err != nil {
		return nil, err
	}
	if err := s.codes.DeleteUnused(ctx, userID); err != nil {
		return nil, fmt.Errorf("drop old link codes: %w", err)
	}

	for i := 0; i < linkCodeMaxAttempts; i++ {
		code, err := generateLinkCode()
		if err != nil {
			return nil, err
		}
		linkCode := &model.TelegramLinkCode{
			Code:      code,
			UserID:    userID,
			ExpiresAt: s.now().Add(LinkCodeTTL),
		}
		err = s.codes.Create(ctx, linkCode)
		if errors.Is(err, base.ErrDuplicate) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create link code: %w", err)
		}

		s.logger.Info("Telegram link code issued", zap.String("user_id", userID.String()))
		return linkCode, nil
	}
	return nil, fmt.Errorf("failed to generate unique link code after %d attempts", linkCodeMaxAttempts)
}

// LinkTelegram attaches a Telegram account to the learner who issued code.
// The code is spent even when the link is then refused. Relinking the same
// account is a no-op.
func (s *UserService) LinkTelegram(ctx context.Context, telegramID int64, code string) (*model.User, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, fmt.Errorf("%w: link code is required", ErrValidation)
	}

	linkCode, err := s.codes.Redeem(ctx, code, s.now())
	if err != nil {
		return nil, fmt.Errorf("redeem link code: %w", err)
	}
	if linkCode == nil {
		return nil, fmt.Errorf("%w: link code is unknown, used or expired", ErrNotFound)
	}

	user, err := s.GetByID(ctx, linkCode.UserID)
	if err != nil {
		return nil, err
	}

	if user.TelegramID != nil {
		if *user.TelegramID == telegramID {
			return user, nil
		}
		return nil, fmt.Errorf("%w: learner is linked to another account", ErrConflict)
	}

	existing, err := s.users.GetByTelegramID(ctx, telegramID)
	if err != nil {
		return nil, fmt.Errorf("check existing link: %w", err)
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: this account is already linked to %s", ErrConflict, existing.Email)
	}

	set, err := s.users.SetTelegramID(ctx, user.ID, telegramID)
	if err != nil {
		if errors.Is(err, base.ErrDuplicate) {
			return nil, fmt.Errorf("%w: this account was linked concurrently", ErrConflict)
		}
		return nil, fmt.Errorf("link telegram: %w", err)
	}
	if !set {
		return nil, fmt.Errorf("%w: user %s", ErrNotFound, user.ID)
	}
	user.TelegramID = &telegramID

	s.logger.Info("Telegram account linked",
		zap.String("user_id", user.ID.String()),
		zap.Int64("telegram_id", telegramID),
	)
	return user, nil
}

// GetByTelegramID returns nil when the account is not linked.
func (s *UserService) GetByTelegramID(ctx context.Context, telegramID int64) (*model.User, error) {
	return s.users.GetByTelegramID(ctx, telegramID)
}

// GetByID returns ErrNotFound for an unknown user.
func (s *UserService) GetByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if user == nil {
		return nil, fmt.Errorf("%w: user %s", ErrNotFound, id)
	}
	return user, nil
}

// generateLinkCode returns linkCodeLength base32 characters.
func generateLinkCode() (string, error) {
	b := make([]byte, 5)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate random bytes: %w", err)
	}
	return base32.StdEncoding.EncodeToString(b)[:linkCodeLength], nil
}
