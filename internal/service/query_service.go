package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/Freeeeeet/community_hub/internal/model"
	"github.com/google/uuid"
)

// PairView is a pair together with the identities of both sides.
type PairView struct {
	*model.BuddyPair
	Members []model.Identity `json:"members"`
}

// PartnerIdentity returns the identity opposite to userID.
func (v *PairView) PartnerIdentity(userID uuid.UUID) *model.Identity {
	for i := range v.Members {
		if v.Members[i].ID != userID {
			return &v.Members[i]
		}
	}
	return nil
}

// QueryService serves read-only views for learners and admins.
type QueryService struct {
	users    Identity
	pairs    PairStore
	groups   GroupStore
	members  MembershipStore
	sessions SessionStore
}

// NewQueryService creates the read-side service.
func NewQueryService(users Identity, pairs PairStore, groups GroupStore, members MembershipStore, sessions SessionStore) *QueryService {
	return &QueryService{
		users:    users,
		pairs:    pairs,
		groups:   groups,
		members:  members,
		sessions: sessions,
	}
}

// MyPair returns the user's non-archived pair, or nil when there is none.
func (s *QueryService) MyPair(ctx context.Context, userID uuid.UUID) (*PairView, error) {
	pair, err := s.pairs.GetActiveByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get active pair: %w", err)
	}
	if pair == nil {
		return nil, nil
	}

	views, err := s.withMembers(ctx, []*model.BuddyPair{pair})
	if err != nil {
		return nil, err
	}
	return views[0], nil
}

// MyGroups returns the caller's groups with their role.
func (s *QueryService) MyGroups(ctx context.Context, userID uuid.UUID) ([]*model.MemberGroup, error) {
	groups, err := s.members.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list groups of user: %w", err)
	}
	return groups, nil
}

// MySessions lists sessions of the user's groups and platform-wide sessions.
func (s *QueryService) MySessions(ctx context.Context, userID uuid.UUID, now time.Time) ([]model.SessionView, error) {
	sessions, err := s.sessions.ListForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list sessions of user: %w", err)
	}
	return sessionViews(sessions, now), nil
}

// ListPairs lists pairs, optionally filtered by status.
func (s *QueryService) ListPairs(ctx context.Context, status model.PairStatus) ([]*PairView, error) {
	switch status {
	case "", model.PairStatusPending, model.PairStatusConfirmed, model.PairStatusArchived:
	default:
		return nil, fmt.Errorf("%w: unknown pair status %q", ErrValidation, status)
	}

	pairs, err := s.pairs.List(ctx, status)
	if err != nil {
		return nil, fmt.Errorf("list pairs: %w", err)
	}
	return s.withMembers(ctx, pairs)
}

// ListGroups returns all groups for admins.
func (s *QueryService) ListGroups(ctx context.Context, includeArchived bool) ([]*model.Group, error) {
	groups, err := s.groups.List(ctx, includeArchived)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	return groups, nil
}

// ListSessions returns every session with its status at now.
func (s *QueryService) ListSessions(ctx context.Context, now time.Time) ([]model.SessionView, error) {
	sessions, err := s.sessions.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessionViews(sessions, now), nil
}

// GroupMembers lists the members of an existing group.
func (s *QueryService) GroupMembers(ctx context.Context, groupID uuid.UUID) ([]*model.GroupMember, error) {
	group, err := s.groups.GetByID(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("get group: %w", err)
	}
	if group == nil {
		return nil, fmt.Errorf("%w: group %s", ErrNotFound, groupID)
	}

	members, err := s.members.ListMembers(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	return members, nil
}

// SearchUsers finds identities by email or name fragment.
func (s *QueryService) SearchUsers(ctx context.Context, query string, limit int) ([]model.Identity, error) {
	users, err := s.users.Search(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}
	out := make([]model.Identity, 0, len(users))
	for _, u := range users {
		out = append(out, u.Identity())
	}
	return out, nil
}

func (s *QueryService) withMembers(ctx context.Context, pairs []*model.BuddyPair) ([]*PairView, error) {
	seen := make(map[uuid.UUID]model.Identity)
	identity := func(id uuid.UUID) (model.Identity, error) {
		if ident, ok := seen[id]; ok {
			return ident, nil
		}
		user, err := s.users.GetByID(ctx, id)
		if err != nil {
			return model.Identity{}, fmt.Errorf("get user: %w", err)
		}
		ident := model.Identity{ID: id}
		if user != nil {
			ident = user.Identity()
		}
		seen[id] = ident
		return ident, nil
	}

	views := make([]*PairView, 0, len(pairs))
	for _, p := range pairs {
		a, err := identity(p.UserA)
		if err != nil {
			return nil, err
		}
		b, err := identity(p.UserB)
		if err != nil {
			return nil, err
		}
		views = append(views, &PairView{BuddyPair: p, Members: []model.Identity{a, b}})
	}
	return views, nil
}

func sessionViews(sessions []*model.Session, now time.Time) []model.SessionView {
	views := make([]model.SessionView, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, model.NewSessionView(s, now))
	}
	sort.SliceStable(views, func(i, j int) bool {
		return views[i].StartTime.Before(views[j].StartTime)
	})
	return views
}
