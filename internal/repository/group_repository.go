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

const groupColumns = `id, name, type, start_date, end_date, channel_ref, archived, created_at, updated_at`

// GroupRepository stores community groups and their channel lease.
type GroupRepository struct {
	*base.Repository
}

// NewGroupRepository creates a repository over pool.
func NewGroupRepository(pool *pgxpool.Pool) *GroupRepository {
	return &GroupRepository{Repository: base.NewRepository(pool)}
}

// Create inserts a group. A clash on name returns base.ErrDuplicate.
func (r *GroupRepository) Create(ctx context.Context, group *model.Group) error {
	query := `
		INSERT INTO community_groups (name, type, start_date, end_date)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at
	`

	err := r.QueryRow(ctx, query, group.Name, group.Type, group.StartDate, group.EndDate).
		Scan(&group.ID, &group.CreatedAt, &group.UpdatedAt)
	if err != nil {
		return base.Duplicate("create group", err)
	}
	return nil
}

// Update saves name, type and dates of a group. False when it no longer
// exists.
func (r *GroupRepository) Update(ctx context.Context, group *model.Group) (bool, error) {
	query := `
		UPDATE community_groups
		SET name = $2, type = $3, start_date = $4, end_date = $5, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`

	err := r.QueryRow(ctx, query, group.ID, group.Name, group.Type, group.StartDate, group.EndDate).
		Scan(&group.UpdatedAt)
	if err != nil {
		if base.IsNotFound(err) {
			return false, nil
		}
		return false, base.Duplicate("update group", err)
	}
	return true, nil
}

// GetByID returns nil when the group does not exist.
func (r *GroupRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Group, error) {
	query := `SELECT ` + groupColumns + ` FROM community_groups WHERE id = $1`

	group, err := scanGroup(r.QueryRow(ctx, query, id))
	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get group: %w", err)
	}
	return group, nil
}

// GetByName matches the name case-insensitively.
func (r *GroupRepository) GetByName(ctx context.Context, name string) (*model.Group, error) {
	query := `SELECT ` + groupColumns + ` FROM community_groups WHERE LOWER(name) = LOWER($1)`

	group, err := scanGroup(r.QueryRow(ctx, query, name))
	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get group by name: %w", err)
	}
	return group, nil
}

// List returns groups by name, archived ones only when asked.
func (r *GroupRepository) List(ctx context.Context, includeArchived bool) ([]*model.Group, error) {
	query := `
		SELECT ` + groupColumns + `
		FROM community_groups
		WHERE $1 OR NOT archived
		ORDER BY name
	`

	rows, err := r.Query(ctx, query, includeArchived)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	defer rows.Close()

	var groups []*model.Group
	for rows.Next() {
		group, err := scanGroup(rows)
		if err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		groups = append(groups, group)
	}
	return groups, rows.Err()
}

// Archive marks the group archived. False when it was not found.
func (r *GroupRepository) Archive(ctx context.Context, id uuid.UUID) (bool, error) {
	affected, err := r.ExecAffected(ctx, `
		UPDATE community_groups SET archived = TRUE, updated_at = NOW()
		WHERE id = $1 AND NOT archived
	`, id)
	if err != nil {
		return false, fmt.Errorf("archive group: %w", err)
	}
	return affected == 1, nil
}

// ClaimChannel takes the channel creation lease of a group without a
// channel.
func (r *GroupRepository) ClaimChannel(ctx context.Context, id uuid.UUID, now, until time.Time) (bool, error) {
	affected, err := r.ExecAffected(ctx, `
		UPDATE community_groups
		SET channel_claimed_until = $3
		WHERE id = $1
		  AND channel_ref IS NULL
		  AND (channel_claimed_until IS NULL OR channel_claimed_until < $2)
	`, id, now, until)
	if err != nil {
		return false, fmt.Errorf("claim group channel: %w", err)
	}
	return affected == 1, nil
}

// ReleaseChannelClaim ends the channel creation lease early.
func (r *GroupRepository) ReleaseChannelClaim(ctx context.Context, id uuid.UUID) error {
	_, err := r.ExecAffected(ctx, `UPDATE community_groups SET channel_claimed_until = NULL WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("release channel claim: %w", err)
	}
	return nil
}

// SetChannel records channelRef only when the group has no channel yet.
func (r *GroupRepository) SetChannel(ctx context.Context, id uuid.UUID, channelRef string) (bool, error) {
	affected, err := r.ExecAffected(ctx, `
		UPDATE community_groups
		SET channel_ref = $2, updated_at = NOW()
		WHERE id = $1 AND channel_ref IS NULL
	`, id, channelRef)
	if err != nil {
		return false, fmt.Errorf("set group channel: %w", err)
	}
	return affected == 1, nil
}

func scanGroup(row pgx.Row) (*model.Group, error) {
	var group model.Group
	err := row.Scan(
		&group.ID,
		&group.Name,
		&group.Type,
		&group.StartDate,
		&group.EndDate,
		&group.ChannelRef,
		&group.Archived,
		&group.CreatedAt,
		&group.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &group, nil
}
