package repository

import (
	"context"
	"fmt"

	"github.com/Freeeeeet/community_hub/internal/model"
	"github.com/Freeeeeet/community_hub/internal/repository/base"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// MembershipRepository stores group memberships.
type MembershipRepository struct {
	*base.Repository
}

// NewMembershipRepository creates a repository over pool.
func NewMembershipRepository(pool *pgxpool.Pool) *MembershipRepository {
	return &MembershipRepository{Repository: base.NewRepository(pool)}
}

// Add inserts the membership unless it exists. It reports whether a row
// was inserted.
func (r *MembershipRepository) Add(ctx context.Context, m *model.GroupMembership) (bool, error) {
	query := `
		INSERT INTO group_memberships (group_id, user_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (group_id, user_id) DO NOTHING
		RETURNING joined_at
	`

	err := r.QueryRow(ctx, query, m.GroupID, m.UserID, m.Role).Scan(&m.JoinedAt)
	if err != nil {
		if base.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("add membership: %w", err)
	}
	return true, nil
}

// Remove deletes a membership. False when there was none.
func (r *MembershipRepository) Remove(ctx context.Context, groupID, userID uuid.UUID) (bool, error) {
	affected, err := r.ExecAffected(ctx, `DELETE FROM group_memberships WHERE group_id = $1 AND user_id = $2`, groupID, userID)
	if err != nil {
		return false, fmt.Errorf("remove membership: %w", err)
	}
	return affected == 1, nil
}

// Get returns nil when the user is not a member.
func (r *MembershipRepository) Get(ctx context.Context, groupID, userID uuid.UUID) (*model.GroupMembership, error) {
	query := `
		SELECT group_id, user_id, role, joined_at
		FROM group_memberships
		WHERE group_id = $1 AND user_id = $2
	`

	var m model.GroupMembership
	err := r.QueryRow(ctx, query, groupID, userID).Scan(&m.GroupID, &m.UserID, &m.Role, &m.JoinedAt)
	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get membership: %w", err)
	}
	return &m, nil
}

// ListByUser returns the user's groups with their role.
func (r *MembershipRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]*model.MemberGroup, error) {
	query := `
		SELECT g.id, g.name, g.type, g.start_date, g.end_date, g.channel_ref, g.archived, g.created_at, g.updated_at,
		       m.role, m.joined_at
		FROM group_memberships m
		JOIN community_groups g ON g.id = m.group_id
		WHERE m.user_id = $1
		ORDER BY g.archived, g.name
	`

	rows, err := r.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list groups of user: %w", err)
	}
	defer rows.Close()

	var groups []*model.MemberGroup
	for rows.Next() {
		var mg model.MemberGroup
		err := rows.Scan(
			&mg.ID,
			&mg.Name,
			&mg.Type,
			&mg.StartDate,
			&mg.EndDate,
			&mg.ChannelRef,
			&mg.Archived,
			&mg.CreatedAt,
			&mg.UpdatedAt,
			&mg.Role,
			&mg.JoinedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan member group: %w", err)
		}
		groups = append(groups, &mg)
	}
	return groups, rows.Err()
}

// ListMembers returns the members of a group ordered by email.
func (r *MembershipRepository) ListMembers(ctx context.Context, groupID uuid.UUID) ([]*model.GroupMember, error) {
	query := `
		SELECT u.id, u.email, u.display_name, m.role, m.joined_at
		FROM group_memberships m
		JOIN users u ON u.id = m.user_id
		WHERE m.group_id = $1
		ORDER BY u.email
	`

	rows, err := r.Query(ctx, query, groupID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	var members []*model.GroupMember
	for rows.Next() {
		var gm model.GroupMember
		if err := rows.Scan(&gm.ID, &gm.Email, &gm.DisplayName, &gm.Role, &gm.JoinedAt); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, &gm)
	}
	return members, rows.Err()
}
