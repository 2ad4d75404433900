package api

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/Freeeeeet/community_hub/internal/model"
	"github.com/Freeeeeet/community_hub/internal/service"
	"github.com/google/uuid"
)

type stubPairing struct {
	err      error
	lastFrom uuid.UUID
	lastTo   uuid.UUID
}

func (p *stubPairing) CreateInvitation(_ context.Context, from, to uuid.UUID) (*model.BuddyPair, error) {
	p.lastFrom, p.lastTo = from, to
	if p.err != nil {
		return nil, p.err
	}
	return &model.BuddyPair{ID: uuid.New(), UserA: from, UserB: to, Status: model.PairStatusPending}, nil
}

func (p *stubPairing) Confirm(_ context.Context, pairID, acting uuid.UUID) (*model.BuddyPair, error) {
	if p.err != nil {
		return nil, p.err
	}
	ref := "mem-1"
	return &model.BuddyPair{ID: pairID, UserA: acting, Status: model.PairStatusConfirmed, ChannelRef: &ref}, nil
}

func (p *stubPairing) Archive(_ context.Context, pairID, acting uuid.UUID) (*model.BuddyPair, error) {
	if p.err != nil {
		return nil, p.err
	}
	return &model.BuddyPair{ID: pairID, UserA: acting, Status: model.PairStatusArchived}, nil
}

func (p *stubPairing) Repair(_ context.Context, _, acting uuid.UUID, email string) (*model.BuddyPair, error) {
	if p.err != nil {
		return nil, p.err
	}
	if email == "" {
		return nil, fmt.Errorf("%w: new partner email is required", service.ErrValidation)
	}
	return &model.BuddyPair{ID: uuid.New(), UserA: acting, Status: model.PairStatusPending}, nil
}

type stubGroups struct {
	imported string
	created  service.GroupInput
}

func (g *stubGroups) CreateGroup(_ context.Context, in service.GroupInput) (*model.Group, error) {
	g.created = in
	return &model.Group{ID: uuid.New(), Name: in.Name, Type: in.Type, StartDate: in.StartDate, EndDate: in.EndDate}, nil
}

func (g *stubGroups) UpdateGroup(_ context.Context, id uuid.UUID, in service.GroupInput) (*model.Group, error) {
	return &model.Group{ID: id, Name: in.Name, Type: in.Type}, nil
}

func (g *stubGroups) ArchiveGroup(_ context.Context, id uuid.UUID) (*model.Group, error) {
	return &model.Group{ID: id, Archived: true}, nil
}

func (g *stubGroups) EnsureChannel(context.Context, uuid.UUID) (string, error) {
	return "mem-7", nil
}

func (g *stubGroups) AddMembersByEmail(_ context.Context, _ uuid.UUID, emails []string, _ model.MemberRole) (*model.ImportReport, error) {
	return &model.ImportReport{Added: len(emails)}, nil
}

func (g *stubGroups) RemoveMember(context.Context, uuid.UUID, uuid.UUID) error {
	return fmt.Errorf("%w: user is not a member", service.ErrNotFound)
}

func (g *stubGroups) ImportCSV(_ context.Context, r io.Reader) (*model.ImportReport, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	g.imported = string(data)
	return &model.ImportReport{Added: 1, Skipped: 1, Errors: []model.RowError{{Row: 2, Reason: "malformed row"}}}, nil
}

type stubSessions struct {
	createdBy uuid.UUID
}

func (s *stubSessions) Create(_ context.Context, createdBy uuid.UUID, in service.SessionInput) (*model.Session, error) {
	if !in.StartTime.Before(in.EndTime) {
		return nil, fmt.Errorf("%w: session must start before it ends", service.ErrValidation)
	}
	s.createdBy = createdBy
	return &model.Session{ID: uuid.New(), Title: in.Title, StartTime: in.StartTime, EndTime: in.EndTime, CreatedBy: createdBy}, nil
}

func (s *stubSessions) Update(_ context.Context, id uuid.UUID, in service.SessionInput) (*model.Session, error) {
	return &model.Session{ID: id, Title: in.Title, StartTime: in.StartTime, EndTime: in.EndTime}, nil
}

func (s *stubSessions) Delete(context.Context, uuid.UUID) error { return nil }

func (s *stubSessions) DispatchReminders(context.Context, time.Time) (int, error) { return 2, nil }

type stubUsers struct {
	issuedFor uuid.UUID
}

func (u *stubUsers) IssueLinkCode(_ context.Context, userID uuid.UUID) (*model.TelegramLinkCode, error) {
	u.issuedFor = userID
	return &model.TelegramLinkCode{
		Code:      "K7QX2MPA",
		UserID:    userID,
		ExpiresAt: time.Date(2025, 3, 1, 10, 15, 0, 0, time.UTC),
	}, nil
}

type stubQueries struct {
	pair *service.PairView
}

func (q *stubQueries) MyPair(context.Context, uuid.UUID) (*service.PairView, error) {
	return q.pair, nil
}

func (q *stubQueries) MyGroups(context.Context, uuid.UUID) ([]*model.MemberGroup, error) {
	return []*model.MemberGroup{}, nil
}

func (q *stubQueries) MySessions(context.Context, uuid.UUID, time.Time) ([]model.SessionView, error) {
	return []model.SessionView{}, nil
}

func (q *stubQueries) ListPairs(_ context.Context, status model.PairStatus) ([]*service.PairView, error) {
	if status != "" && status != model.PairStatusPending {
		return nil, fmt.Errorf("%w: unknown status", service.ErrValidation)
	}
	return []*service.PairView{}, nil
}

func (q *stubQueries) ListGroups(context.Context, bool) ([]*model.Group, error) {
	return []*model.Group{}, nil
}

func (q *stubQueries) ListSessions(context.Context, time.Time) ([]model.SessionView, error) {
	return []model.SessionView{}, nil
}

func (q *stubQueries) GroupMembers(context.Context, uuid.UUID) ([]*model.GroupMember, error) {
	return []*model.GroupMember{}, nil
}

func (q *stubQueries) SearchUsers(context.Context, string, int) ([]model.Identity, error) {
	return []model.Identity{}, nil
}

// stubChat keeps one in-memory channel. Sends append to it.
type stubChat struct {
	mu       sync.Mutex
	messages []model.ChannelMessage
	fetches  int
	lastKey  string
	sendErr  error
	noAccess bool
}

func (c *stubChat) ResolveChannel(_ context.Context, _ service.ChatScope, _, _ uuid.UUID) (string, error) {
	if c.noAccess {
		return "", fmt.Errorf("%w: not a member", service.ErrUnauthorized)
	}
	return "mem-1", nil
}

func (c *stubChat) Fetch(context.Context, string) ([]model.ChannelMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fetches++
	out := make([]model.ChannelMessage, len(c.messages))
	copy(out, c.messages)
	return out, nil
}

func (c *stubChat) Messages(ctx context.Context, scope service.ChatScope, id, userID uuid.UUID) ([]model.ChannelMessage, error) {
	ref, err := c.ResolveChannel(ctx, scope, id, userID)
	if err != nil {
		return nil, err
	}
	return c.Fetch(ctx, ref)
}

func (c *stubChat) Send(ctx context.Context, _ service.ChatScope, _, userID uuid.UUID, text, key string) error {
	return c.SendTo(ctx, "mem-1", userID, text, key)
}

func (c *stubChat) SendTo(_ context.Context, _ string, _ uuid.UUID, text, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.lastKey = key
	c.messages = append(c.messages, model.ChannelMessage{
		ID:            fmt.Sprintf("m%d", len(c.messages)+1),
		AuthorDisplay: "community",
		Text:          "Ann (ann@example.com): " + text,
		Timestamp:     time.Now(),
	})
	return nil
}

func (c *stubChat) Edit(context.Context, service.ChatScope, uuid.UUID, uuid.UUID, string, string) error {
	return fmt.Errorf("%w: message belongs to someone else", service.ErrUnauthorized)
}

func (c *stubChat) Delete(context.Context, service.ChatScope, uuid.UUID, uuid.UUID, string) error {
	return nil
}
