package handlers

import (
	"context"
	"time"

	"github.com/Freeeeeet/community_hub/internal/model"
	"github.com/Freeeeeet/community_hub/internal/service"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Users interface {
	LinkTelegram(ctx context.Context, telegramID int64, code string) (*model.User, error)
	GetByTelegramID(ctx context.Context, telegramID int64) (*model.User, error)
}

type Pairing interface {
	Confirm(ctx context.Context, pairID, actingUser uuid.UUID) (*model.BuddyPair, error)
}

type Queries interface {
	MyPair(ctx context.Context, userID uuid.UUID) (*service.PairView, error)
	MyGroups(ctx context.Context, userID uuid.UUID) ([]*model.MemberGroup, error)
	MySessions(ctx context.Context, userID uuid.UUID, now time.Time) ([]model.SessionView, error)
}

// Handlers holds the dependencies of the learner bot commands.
type Handlers struct {
	users   Users
	pairing Pairing
	queries Queries
	logger  *zap.Logger
	now     func() time.Time
}

// NewHandlers creates the command handlers.
func NewHandlers(users Users, pairing Pairing, queries Queries, logger *zap.Logger) *Handlers {
	return &Handlers{
		users:   users,
		pairing: pairing,
		queries: queries,
		logger:  logger,
		now:     time.Now,
	}
}
