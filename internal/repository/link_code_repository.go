package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/Freeeeeet/community_hub/internal/model"
	"github.com/Freeeeeet/community_hub/internal/repository/base"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// LinkCodeRepository stores one-time Telegram link codes.
type LinkCodeRepository struct {
	*base.Repository
}

// NewLinkCodeRepository creates a repository over pool.
func NewLinkCodeRepository(pool *pgxpool.Pool) *LinkCodeRepository {
	return &LinkCodeRepository{Repository: base.NewRepository(pool)}
}

// Create inserts a code. A clash with an existing code returns
// base.ErrDuplicate.
func (r *LinkCodeRepository) Create(ctx context.Context, code *model.TelegramLinkCode) error {
	query := `
		INSERT INTO telegram_link_codes (code, user_id, expires_at)
		VALUES ($1, $2, $3)
		RETURNING created_at
	`

	err := r.QueryRow(ctx, query, code.Code, code.UserID, code.ExpiresAt).Scan(&code.CreatedAt)
	if err != nil {
		return base.Duplicate("create link code", err)
	}
	return nil
}

// Redeem marks code used if it is unused and not expired at now. It
// returns nil when the code cannot be redeemed.
func (r *LinkCodeRepository) Redeem(ctx context.Context, code string, now time.Time) (*model.TelegramLinkCode, error) {
	query := `
		UPDATE telegram_link_codes
		SET used_at = $2
		WHERE code = $1 AND used_at IS NULL AND expires_at > $2
		RETURNING code, user_id, expires_at, used_at, created_at
	`

	var c model.TelegramLinkCode
	err := r.QueryRow(ctx, query, code, now).Scan(&c.Code, &c.UserID, &c.ExpiresAt, &c.UsedAt, &c.CreatedAt)
	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("redeem link code: %w", err)
	}
	return &c, nil
}

// DeleteUnused drops the codes of userID that were never redeemed, so
// only the latest issued code works.
func (r *LinkCodeRepository) DeleteUnused(ctx context.Context, userID uuid.UUID) error {
	_, err := r.ExecAffected(ctx, `DELETE FROM telegram_link_codes WHERE user_id = $1 AND used_at IS NULL`, userID)
	if err != nil {
		return fmt.Errorf("delete unused link codes: %w", err)
	}
	return nil
}
