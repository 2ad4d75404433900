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

const sessionColumns = `id, title, description, start_time, end_time, group_id, channel_ref, created_by, last_reminded_at, created_at, updated_at`

// SessionRepository stores live sessions and their reminder watermark.
type SessionRepository struct {
	*base.Repository
}

// NewSessionRepository creates a repository over pool.
func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{Repository: base.NewRepository(pool)}
}

// Create inserts a session.
func (r *SessionRepository) Create(ctx context.Context, s *model.Session) error {
	query := `
		INSERT INTO sessions (title, description, start_time, end_time, group_id, channel_ref, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`

	err := r.QueryRow(
		ctx, query,
		s.Title,
		s.Description,
		s.StartTime,
		s.EndTime,
		s.GroupID,
		s.ChannelRef,
		s.CreatedBy,
	).Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// Update writes the editable columns. The reminder watermark is never taken
// from s: it is kept unless the start time moves, in which case it is
// cleared. Returns false when the session no longer exists.
func (r *SessionRepository) Update(ctx context.Context, s *model.Session) (bool, error) {
	query := `
		UPDATE sessions
		SET title = $2, description = $3, start_time = $4, end_time = $5,
		    group_id = $6, channel_ref = $7,
		    last_reminded_at = CASE WHEN start_time <> $4 THEN NULL ELSE last_reminded_at END,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING last_reminded_at, updated_at
	`

	err := r.QueryRow(
		ctx, query,
		s.ID,
		s.Title,
		s.Description,
		s.StartTime,
		s.EndTime,
		s.GroupID,
		s.ChannelRef,
	).Scan(&s.LastRemindedAt, &s.UpdatedAt)
	if err != nil {
		if base.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("update session: %w", err)
	}
	return true, nil
}

// Delete removes a session. False when it was not found.
func (r *SessionRepository) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	affected, err := r.ExecAffected(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete session: %w", err)
	}
	return affected == 1, nil
}

// GetByID returns nil when the session does not exist.
func (r *SessionRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`

	s, err := scanSession(r.QueryRow(ctx, query, id))
	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return s, nil
}

// List returns every session by start time.
func (r *SessionRepository) List(ctx context.Context) ([]*model.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions ORDER BY start_time`
	return r.list(ctx, query)
}

// ListForUser returns sessions of the groups the user belongs to.
func (r *SessionRepository) ListForUser(ctx context.Context, userID uuid.UUID) ([]*model.Session, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM sessions
		WHERE group_id IS NULL
		   OR group_id IN (SELECT group_id FROM group_memberships WHERE user_id = $1)
		ORDER BY start_time
	`
	return r.list(ctx, query, userID)
}

// ListDueReminders returns sessions starting in (from, to] that were not reminded.
func (r *SessionRepository) ListDueReminders(ctx context.Context, from, to time.Time) ([]*model.Session, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM sessions
		WHERE start_time > $1 AND start_time <= $2
		  AND channel_ref IS NOT NULL
		  AND last_reminded_at IS NULL
		ORDER BY start_time
	`
	return r.list(ctx, query, from, to)
}

// ClaimReminder sets the watermark only if no reminder was sent yet.
func (r *SessionRepository) ClaimReminder(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	affected, err := r.ExecAffected(ctx, `
		UPDATE sessions SET last_reminded_at = $2
		WHERE id = $1 AND last_reminded_at IS NULL
	`, id, at)
	if err != nil {
		return false, fmt.Errorf("claim reminder: %w", err)
	}
	return affected == 1, nil
}

func (r *SessionRepository) list(ctx context.Context, query string, args ...interface{}) ([]*model.Session, error) {
	rows, err := r.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*model.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

func scanSession(row pgx.Row) (*model.Session, error) {
	var s model.Session
	err := row.Scan(
		&s.ID,
		&s.Title,
		&s.Description,
		&s.StartTime,
		&s.EndTime,
		&s.GroupID,
		&s.ChannelRef,
		&s.CreatedBy,
		&s.LastRemindedAt,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
