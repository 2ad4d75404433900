package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/Freeeeeet/community_hub/internal/model"
	"github.com/Freeeeeet/community_hub/internal/repository/base"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pairColumns = `id, user_a, user_b, status, channel_ref, archived_channel_ref, created_at, updated_at`

// PairRepository stores buddy pairs. The side table buddy_pair_members
// carries the "one active pair per user" unique index.
type PairRepository struct {
	*base.Repository
}

// NewPairRepository creates a repository over pool.
func NewPairRepository(pool *pgxpool.Pool) *PairRepository {
	return &PairRepository{Repository: base.NewRepository(pool)}
}

// Create inserts a pending pair and its member rows in one transaction.
func (r *PairRepository) Create(ctx context.Context, pair *model.BuddyPair) error {
	if pair.Status == "" {
		pair.Status = model.PairStatusPending
	}

	err := r.InTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO buddy_pairs (user_a, user_b, status, channel_ref)
			VALUES ($1, $2, $3, $4)
			RETURNING id, created_at, updated_at
		`, pair.UserA, pair.UserB, pair.Status, pair.ChannelRef).Scan(&pair.ID, &pair.CreatedAt, &pair.UpdatedAt)
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO buddy_pair_members (pair_id, user_id, active)
			VALUES ($1, $2, TRUE), ($1, $3, TRUE)
		`, pair.ID, pair.UserA, pair.UserB)
		return err
	})
	if err != nil {
		return base.Duplicate("create pair", err)
	}
	return nil
}

// GetByID returns nil when the pair does not exist.
func (r *PairRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.BuddyPair, error) {
	query := `SELECT ` + pairColumns + ` FROM buddy_pairs WHERE id = $1`

	pair, err := scanPair(r.QueryRow(ctx, query, id))
	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get pair: %w", err)
	}
	return pair, nil
}

// GetActiveByUser returns the user's pending or confirmed pair, or nil.
func (r *PairRepository) GetActiveByUser(ctx context.Context, userID uuid.UUID) (*model.BuddyPair, error) {
	query := `
		SELECT p.id, p.user_a, p.user_b, p.status, p.channel_ref, p.archived_channel_ref, p.created_at, p.updated_at
		FROM buddy_pairs p
		JOIN buddy_pair_members m ON m.pair_id = p.id
		WHERE m.user_id = $1 AND m.active
	`

	pair, err := scanPair(r.QueryRow(ctx, query, userID))
	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get active pair: %w", err)
	}
	return pair, nil
}

// List returns pairs newest first. An empty status lists every pair.
func (r *PairRepository) List(ctx context.Context, status model.PairStatus) ([]*model.BuddyPair, error) {
	query := `
		SELECT ` + pairColumns + `
		FROM buddy_pairs
		WHERE $1 = '' OR status = $1
		ORDER BY created_at DESC
	`

	rows, err := r.Query(ctx, query, string(status))
	if err != nil {
		return nil, fmt.Errorf("list pairs: %w", err)
	}
	defer rows.Close()

	var pairs []*model.BuddyPair
	for rows.Next() {
		pair, err := scanPair(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pair: %w", err)
		}
		pairs = append(pairs, pair)
	}
	return pairs, rows.Err()
}

// ClaimConfirmation takes the confirmation lease of a pending pair.
func (r *PairRepository) ClaimConfirmation(ctx context.Context, id uuid.UUID, now, until time.Time) (bool, error) {
	affected, err := r.ExecAffected(ctx, `
		UPDATE buddy_pairs
		SET confirming_until = $3
		WHERE id = $1
		  AND status = 'pending'
		  AND (confirming_until IS NULL OR confirming_until < $2)
	`, id, now, until)
	if err != nil {
		return false, fmt.Errorf("claim confirmation: %w", err)
	}
	return affected == 1, nil
}

// ReleaseConfirmation ends the confirmation lease.
func (r *PairRepository) ReleaseConfirmation(ctx context.Context, id uuid.UUID) error {
	_, err := r.ExecAffected(ctx, `UPDATE buddy_pairs SET confirming_until = NULL WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("release confirmation: %w", err)
	}
	return nil
}

// MarkConfirmed moves a pending pair to confirmed with its channel.
func (r *PairRepository) MarkConfirmed(ctx context.Context, id uuid.UUID, channelRef string) (bool, error) {
	affected, err := r.ExecAffected(ctx, `
		UPDATE buddy_pairs
		SET status = 'confirmed', channel_ref = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`, id, channelRef)
	if err != nil {
		return false, fmt.Errorf("mark pair confirmed: %w", err)
	}
	return affected == 1, nil
}

// Archive moves the channel to archived_channel_ref and frees both users.
func (r *PairRepository) Archive(ctx context.Context, id uuid.UUID) (bool, error) {
	var archived bool
	err := r.InTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE buddy_pairs
			SET status = 'archived',
			    archived_channel_ref = COALESCE(channel_ref, archived_channel_ref),
			    channel_ref = NULL,
			    confirming_until = NULL,
			    updated_at = NOW()
			WHERE id = $1 AND status <> 'archived'
		`, id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		archived = true

		_, err = tx.Exec(ctx, `UPDATE buddy_pair_members SET active = FALSE WHERE pair_id = $1`, id)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("archive pair: %w", err)
	}
	return archived, nil
}

func scanPair(row pgx.Row) (*model.BuddyPair, error) {
	var pair model.BuddyPair
	err := row.Scan(
		&pair.ID,
		&pair.UserA,
		&pair.UserB,
		&pair.Status,
		&pair.ChannelRef,
		&pair.ArchivedChannelRef,
		&pair.CreatedAt,
		&pair.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &pair, nil
}
