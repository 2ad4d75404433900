package service

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/Freeeeeet/community_hub/internal/events"
	"github.com/Freeeeeet/community_hub/internal/metrics"
	"github.com/Freeeeeet/community_hub/internal/model"
	"github.com/Freeeeeet/community_hub/internal/provider"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ReminderWindow is how far ahead of a session its reminder goes out.
const ReminderWindow = time.Hour

const maxSessionTitleLength = 200

// SessionInput carries the editable fields of a session.
type SessionInput struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	StartTime   time.Time  `json:"start_time"`
	EndTime     time.Time  `json:"end_time"`
	GroupID     *uuid.UUID `json:"group_id,omitempty"`
}

func (in *SessionInput) validate() error {
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	if in.Title == "" {
		return fmt.Errorf("%w: title is required", ErrValidation)
	}
	if len(in.Title) > maxSessionTitleLength {
		return fmt.Errorf("%w: title is too long", ErrValidation)
	}
	if in.StartTime.IsZero() || in.EndTime.IsZero() {
		return fmt.Errorf("%w: start and end time are required", ErrValidation)
	}
	if !in.StartTime.Before(in.EndTime) {
		return fmt.Errorf("%w: session must start before it ends", ErrValidation)
	}
	return nil
}

// ChannelEnsurer hands out a group's channel, creating it if needed.
type ChannelEnsurer interface {
	EnsureChannel(ctx context.Context, groupID uuid.UUID) (string, error)
}

// SessionService schedules live sessions and sends their reminders.
type SessionService struct {
	sessions SessionStore
	groups   ChannelEnsurer
	channels provider.ChannelProvider
	events   EventPublisher
	logger   *zap.Logger
}

// NewSessionService creates the session service.
func NewSessionService(
	sessions SessionStore,
	groups ChannelEnsurer,
	channels provider.ChannelProvider,
	publisher EventPublisher,
	logger *zap.Logger,
) *SessionService {
	return &SessionService{
		sessions: sessions,
		groups:   groups,
		channels: channels,
		events:   publisher,
		logger:   logger,
	}
}

// Create schedules a session. A group session borrows the group's channel.
func (s *SessionService) Create(ctx context.Context, createdBy uuid.UUID, in SessionInput) (*model.Session, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	session := &model.Session{
		Title:       in.Title,
		Description: in.Description,
		StartTime:   in.StartTime.UTC(),
		EndTime:     in.EndTime.UTC(),
		GroupID:     in.GroupID,
		CreatedBy:   createdBy,
	}
	if in.GroupID != nil {
		ref, err := s.groups.EnsureChannel(ctx, *in.GroupID)
		if err != nil {
			return nil, err
		}
		session.ChannelRef = &ref
	}

	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	s.logger.Info("Session scheduled",
		zap.String("session_id", session.ID.String()),
		zap.String("title", session.Title),
		zap.Time("start", session.StartTime),
	)
	publish(ctx, s.events, s.logger, events.New(events.SessionScheduled, session.ID, map[string]string{
		"start_time": session.StartTime.Format(time.RFC3339),
	}))

	return session, nil
}

// Update edits a session. Moving the start time re-arms its reminder.
func (s *SessionService) Update(ctx context.Context, sessionID uuid.UUID, in SessionInput) (*model.Session, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	session, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if !sameGroup(session.GroupID, in.GroupID) {
		session.ChannelRef = nil
		if in.GroupID != nil {
			ref, err := s.groups.EnsureChannel(ctx, *in.GroupID)
			if err != nil {
				return nil, err
			}
			session.ChannelRef = &ref
		}
	}

	session.Title = in.Title
	session.Description = in.Description
	session.StartTime = in.StartTime.UTC()
	session.EndTime = in.EndTime.UTC()
	session.GroupID = in.GroupID

	updated, err := s.sessions.Update(ctx, session)
	if err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}
	if !updated {
		return nil, fmt.Errorf("%w: session %s", ErrNotFound, session.ID)
	}

	publish(ctx, s.events, s.logger, events.New(events.SessionRescheduled, session.ID, map[string]string{
		"start_time": session.StartTime.Format(time.RFC3339),
	}))
	return session, nil
}

// Delete removes a session.
func (s *SessionService) Delete(ctx context.Context, sessionID uuid.UUID) error {
	deleted, err := s.sessions.Delete(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if !deleted {
		return fmt.Errorf("%w: session %s", ErrNotFound, sessionID)
	}

	s.logger.Info("Session deleted", zap.String("session_id", sessionID.String()))
	publish(ctx, s.events, s.logger, events.New(events.SessionCancelled, sessionID, nil))
	return nil
}

// Get returns ErrNotFound for an unknown session.
func (s *SessionService) Get(ctx context.Context, sessionID uuid.UUID) (*model.Session, error) {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if session == nil {
		return nil, fmt.Errorf("%w: session %s", ErrNotFound, sessionID)
	}
	return session, nil
}

// DispatchReminders posts one reminder per session starting within the
// next ReminderWindow. The watermark is claimed before posting, so
// overlapping sweeps never post twice. A failed post is not retried.
func (s *SessionService) DispatchReminders(ctx context.Context, now time.Time) (int, error) {
	due, err := s.sessions.ListDueReminders(ctx, now, now.Add(ReminderWindow))
	if err != nil {
		return 0, fmt.Errorf("list due reminders: %w", err)
	}

	sent := 0
	for _, session := range due {
		if session.ChannelRef == nil {
			continue
		}

		claimed, err := s.sessions.ClaimReminder(ctx, session.ID, now)
		if err != nil {
			s.logger.Error("Failed to claim reminder", zap.String("session_id", session.ID.String()), zap.Error(err))
			metrics.Reminders.WithLabelValues("error").Inc()
			continue
		}
		if !claimed {
			metrics.Reminders.WithLabelValues("skipped").Inc()
			continue
		}

		if !s.channels.PostMessage(ctx, *session.ChannelRef, reminderText(session, now)) {
			s.logger.Warn("Failed to post session reminder",
				zap.String("session_id", session.ID.String()),
				zap.String("channel_ref", *session.ChannelRef),
			)
			metrics.Reminders.WithLabelValues("failed").Inc()
			continue
		}

		sent++
		metrics.Reminders.WithLabelValues("sent").Inc()
		publish(ctx, s.events, s.logger, events.New(events.SessionReminded, session.ID, nil))
	}

	if sent > 0 {
		s.logger.Info("Session reminders sent", zap.Int("count", sent))
	}
	return sent, nil
}

func reminderText(session *model.Session, now time.Time) string {
	minutes := int(math.Ceil(session.StartTime.Sub(now).Minutes()))
	return fmt.Sprintf("⏰ Reminder: %q starts at %s UTC (in %d min)",
		session.Title, session.StartTime.UTC().Format("15:04"), minutes)
}

func sameGroup(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
