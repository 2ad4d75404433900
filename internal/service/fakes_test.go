package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Freeeeeet/community_hub/internal/events"
	"github.com/Freeeeeet/community_hub/internal/model"
	"github.com/Freeeeeet/community_hub/internal/provider"
	"github.com/Freeeeeet/community_hub/internal/repository/base"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// In-memory stores mirroring the constraints the database enforces.

type fakeUsers struct {
	mu   sync.Mutex
	byID map[uuid.UUID]*model.User
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{byID: make(map[uuid.UUID]*model.User)}
}

func (f *fakeUsers) add(email, name string) *model.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	ext := "ext-" + strings.ToLower(name)
	u := &model.User{
		ID:             uuid.New(),
		Email:          email,
		DisplayName:    name,
		ProviderUserID: &ext,
		CreatedAt:      time.Now(),
	}
	f.byID[u.ID] = u
	return u
}

func (f *fakeUsers) GetByID(_ context.Context, id uuid.UUID) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.byID[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeUsers) FindByEmail(_ context.Context, email string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.byID {
		if strings.EqualFold(u.Email, email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeUsers) Search(_ context.Context, query string, limit int) ([]*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.User
	q := strings.ToLower(query)
	for _, u := range f.byID {
		if strings.Contains(strings.ToLower(u.Email), q) || strings.Contains(strings.ToLower(u.DisplayName), q) {
			cp := *u
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeUsers) GetByTelegramID(_ context.Context, telegramID int64) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.byID {
		if u.TelegramID != nil && *u.TelegramID == telegramID {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeUsers) SetTelegramID(_ context.Context, userID uuid.UUID, telegramID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[userID]
	if !ok {
		return false, nil
	}
	for _, other := range f.byID {
		if other.ID != userID && other.TelegramID != nil && *other.TelegramID == telegramID {
			return false, base.ErrDuplicate
		}
	}
	u.TelegramID = &telegramID
	return true, nil
}

type fakePairs struct {
	mu      sync.Mutex
	pairs   map[uuid.UUID]*model.BuddyPair
	leases  map[uuid.UUID]time.Time
	ordered []uuid.UUID
}

func newFakePairs() *fakePairs {
	return &fakePairs{
		pairs:  make(map[uuid.UUID]*model.BuddyPair),
		leases: make(map[uuid.UUID]time.Time),
	}
}

func (f *fakePairs) activeFor(userID uuid.UUID) *model.BuddyPair {
	for _, id := range f.ordered {
		p := f.pairs[id]
		if !p.IsArchived() && p.HasMember(userID) {
			return p
		}
	}
	return nil
}

func (f *fakePairs) Create(_ context.Context, pair *model.BuddyPair) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.activeFor(pair.UserA) != nil || f.activeFor(pair.UserB) != nil {
		return base.ErrDuplicate
	}
	pair.ID = uuid.New()
	pair.CreatedAt = time.Now()
	pair.UpdatedAt = pair.CreatedAt
	cp := *pair
	f.pairs[pair.ID] = &cp
	f.ordered = append(f.ordered, pair.ID)
	return nil
}

func (f *fakePairs) GetByID(_ context.Context, id uuid.UUID) (*model.BuddyPair, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.pairs[id]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, nil
}

func (f *fakePairs) GetActiveByUser(_ context.Context, userID uuid.UUID) (*model.BuddyPair, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p := f.activeFor(userID); p != nil {
		cp := *p
		return &cp, nil
	}
	return nil, nil
}

func (f *fakePairs) List(_ context.Context, status model.PairStatus) ([]*model.BuddyPair, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.BuddyPair
	for _, id := range f.ordered {
		p := f.pairs[id]
		if status == "" || p.Status == status {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakePairs) ClaimConfirmation(_ context.Context, id uuid.UUID, now, until time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.pairs[id]
	if !ok || !p.IsPending() {
		return false, nil
	}
	if lease, held := f.leases[id]; held && lease.After(now) {
		return false, nil
	}
	f.leases[id] = until
	return true, nil
}

func (f *fakePairs) ReleaseConfirmation(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.leases, id)
	return nil
}

func (f *fakePairs) MarkConfirmed(_ context.Context, id uuid.UUID, channelRef string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.pairs[id]
	if !ok || !p.IsPending() {
		return false, nil
	}
	p.Status = model.PairStatusConfirmed
	p.ChannelRef = &channelRef
	return true, nil
}

func (f *fakePairs) Archive(_ context.Context, id uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.pairs[id]
	if !ok || p.IsArchived() {
		return false, nil
	}
	p.Status = model.PairStatusArchived
	p.ArchivedChannelRef = p.ChannelRef
	p.ChannelRef = nil
	return true, nil
}

type fakeLinkCodes struct {
	mu    sync.Mutex
	codes map[string]*model.TelegramLinkCode
}

func newFakeLinkCodes() *fakeLinkCodes {
	return &fakeLinkCodes{codes: make(map[string]*model.TelegramLinkCode)}
}

func (f *fakeLinkCodes) Create(_ context.Context, code *model.TelegramLinkCode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.codes[code.Code]; ok {
		return base.ErrDuplicate
	}
	code.CreatedAt = time.Now()
	c := *code
	f.codes[code.Code] = &c
	return nil
}

func (f *fakeLinkCodes) Redeem(_ context.Context, code string, now time.Time) (*model.TelegramLinkCode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.codes[code]
	if !ok || !c.IsValid(now) {
		return nil, nil
	}
	c.UsedAt = &now
	out := *c
	return &out, nil
}

func (f *fakeLinkCodes) DeleteUnused(_ context.Context, userID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for k, c := range f.codes {
		if c.UserID == userID && c.UsedAt == nil {
			delete(f.codes, k)
		}
	}
	return nil
}

type fakeGroups struct {
	mu     sync.Mutex
	groups map[uuid.UUID]*model.Group
	claims map[uuid.UUID]time.Time

	beforeSetChannel func(id uuid.UUID)
}

func newFakeGroups() *fakeGroups {
	return &fakeGroups{
		groups: make(map[uuid.UUID]*model.Group),
		claims: make(map[uuid.UUID]time.Time),
	}
}

func (f *fakeGroups) nameTaken(name string, except uuid.UUID) bool {
	for id, g := range f.groups {
		if id != except && strings.EqualFold(g.Name, name) {
			return true
		}
	}
	return false
}

func (f *fakeGroups) Create(_ context.Context, group *model.Group) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.nameTaken(group.Name, uuid.Nil) {
		return base.ErrDuplicate
	}
	group.ID = uuid.New()
	group.CreatedAt = time.Now()
	group.UpdatedAt = group.CreatedAt
	cp := *group
	f.groups[group.ID] = &cp
	return nil
}

func (f *fakeGroups) Update(_ context.Context, group *model.Group) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.groups[group.ID]
	if !ok {
		return false, nil
	}
	if f.nameTaken(group.Name, group.ID) {
		return false, base.ErrDuplicate
	}
	stored.Name = group.Name
	stored.Type = group.Type
	stored.StartDate = group.StartDate
	stored.EndDate = group.EndDate
	return true, nil
}

func (f *fakeGroups) GetByID(_ context.Context, id uuid.UUID) (*model.Group, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if g, ok := f.groups[id]; ok {
		cp := *g
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeGroups) GetByName(_ context.Context, name string) (*model.Group, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, g := range f.groups {
		if strings.EqualFold(g.Name, name) {
			cp := *g
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeGroups) List(_ context.Context, includeArchived bool) ([]*model.Group, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Group
	for _, g := range f.groups {
		if includeArchived || !g.Archived {
			cp := *g
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (f *fakeGroups) Archive(_ context.Context, id uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.groups[id]
	if !ok || g.Archived {
		return false, nil
	}
	g.Archived = true
	return true, nil
}

func (f *fakeGroups) ClaimChannel(_ context.Context, id uuid.UUID, now, until time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.groups[id]
	if !ok || g.ChannelRef != nil {
		return false, nil
	}
	if claim, held := f.claims[id]; held && claim.After(now) {
		return false, nil
	}
	f.claims[id] = until
	return true, nil
}

func (f *fakeGroups) ReleaseChannelClaim(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.claims, id)
	return nil
}

func (f *fakeGroups) SetChannel(_ context.Context, id uuid.UUID, channelRef string) (bool, error) {
	if f.beforeSetChannel != nil {
		f.beforeSetChannel(id)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.groups[id]
	if !ok || g.ChannelRef != nil {
		return false, nil
	}
	g.ChannelRef = &channelRef
	return true, nil
}

type membershipKey struct{ group, user uuid.UUID }

type fakeMembers struct {
	mu      sync.Mutex
	users   *fakeUsers
	groups  *fakeGroups
	members map[membershipKey]*model.GroupMembership
}

func newFakeMembers(users *fakeUsers, groups *fakeGroups) *fakeMembers {
	return &fakeMembers{
		users:   users,
		groups:  groups,
		members: make(map[membershipKey]*model.GroupMembership),
	}
}

func (f *fakeMembers) Add(_ context.Context, m *model.GroupMembership) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := membershipKey{m.GroupID, m.UserID}
	if _, ok := f.members[key]; ok {
		return false, nil
	}
	m.JoinedAt = time.Now()
	cp := *m
	f.members[key] = &cp
	return true, nil
}

func (f *fakeMembers) Remove(_ context.Context, groupID, userID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := membershipKey{groupID, userID}
	if _, ok := f.members[key]; !ok {
		return false, nil
	}
	delete(f.members, key)
	return true, nil
}

func (f *fakeMembers) Get(_ context.Context, groupID, userID uuid.UUID) (*model.GroupMembership, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.members[membershipKey{groupID, userID}]; ok {
		cp := *m
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeMembers) ListByUser(ctx context.Context, userID uuid.UUID) ([]*model.MemberGroup, error) {
	f.mu.Lock()
	var ms []*model.GroupMembership
	for k, m := range f.members {
		if k.user == userID {
			ms = append(ms, m)
		}
	}
	f.mu.Unlock()

	var out []*model.MemberGroup
	for _, m := range ms {
		g, _ := f.groups.GetByID(ctx, m.GroupID)
		if g == nil {
			continue
		}
		out = append(out, &model.MemberGroup{Group: *g, Role: m.Role, JoinedAt: m.JoinedAt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (f *fakeMembers) ListMembers(ctx context.Context, groupID uuid.UUID) ([]*model.GroupMember, error) {
	f.mu.Lock()
	var ms []*model.GroupMembership
	for k, m := range f.members {
		if k.group == groupID {
			ms = append(ms, m)
		}
	}
	f.mu.Unlock()

	var out []*model.GroupMember
	for _, m := range ms {
		u, _ := f.users.GetByID(ctx, m.UserID)
		if u == nil {
			continue
		}
		out = append(out, &model.GroupMember{Identity: u.Identity(), Role: m.Role, JoinedAt: m.JoinedAt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

type fakeSessions struct {
	mu       sync.Mutex
	members  *fakeMembers
	sessions map[uuid.UUID]*model.Session
	// beforeUpdate runs inside Update ahead of the write, outside the lock.
	beforeUpdate func()
}

func newFakeSessions(members *fakeMembers) *fakeSessions {
	return &fakeSessions{members: members, sessions: make(map[uuid.UUID]*model.Session)}
}

func (f *fakeSessions) Create(_ context.Context, s *model.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s.ID = uuid.New()
	s.CreatedAt = time.Now()
	s.UpdatedAt = s.CreatedAt
	cp := *s
	f.sessions[s.ID] = &cp
	return nil
}

func (f *fakeSessions) Update(_ context.Context, s *model.Session) (bool, error) {
	if f.beforeUpdate != nil {
		f.beforeUpdate()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.sessions[s.ID]
	if !ok {
		return false, nil
	}
	s.LastRemindedAt = stored.LastRemindedAt
	if !stored.StartTime.Equal(s.StartTime) {
		s.LastRemindedAt = nil
	}
	s.UpdatedAt = time.Now()
	cp := *s
	f.sessions[s.ID] = &cp
	return true, nil
}

func (f *fakeSessions) Delete(_ context.Context, id uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sessions[id]; !ok {
		return false, nil
	}
	delete(f.sessions, id)
	return true, nil
}

func (f *fakeSessions) GetByID(_ context.Context, id uuid.UUID) (*model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[id]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeSessions) all(keep func(*model.Session) bool) []*model.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Session
	for _, s := range f.sessions {
		if keep(s) {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out
}

func (f *fakeSessions) List(context.Context) ([]*model.Session, error) {
	return f.all(func(*model.Session) bool { return true }), nil
}

func (f *fakeSessions) ListForUser(ctx context.Context, userID uuid.UUID) ([]*model.Session, error) {
	groups, _ := f.members.ListByUser(ctx, userID)
	mine := make(map[uuid.UUID]bool)
	for _, g := range groups {
		mine[g.ID] = true
	}
	return f.all(func(s *model.Session) bool {
		return s.GroupID == nil || mine[*s.GroupID]
	}), nil
}

func (f *fakeSessions) ListDueReminders(_ context.Context, from, to time.Time) ([]*model.Session, error) {
	return f.all(func(s *model.Session) bool {
		return s.StartTime.After(from) && !s.StartTime.After(to) && s.ChannelRef != nil && s.LastRemindedAt == nil
	}), nil
}

func (f *fakeSessions) ClaimReminder(_ context.Context, id uuid.UUID, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok || s.LastRemindedAt != nil {
		return false, nil
	}
	s.LastRemindedAt = &at
	return true, nil
}

// flakyProvider wraps the memory provider with switchable failures and a
// create delay that widens race windows.
type flakyProvider struct {
	*provider.Memory
	failCreate  atomic.Bool
	failPost    atomic.Bool
	failFetch   atomic.Bool
	createDelay time.Duration
	creates     atomic.Int32
}

func newFlakyProvider() *flakyProvider {
	return &flakyProvider{Memory: provider.NewMemory()}
}

func (p *flakyProvider) CreateChannel(ctx context.Context, name string, private bool) (string, error) {
	p.creates.Add(1)
	if p.createDelay > 0 {
		time.Sleep(p.createDelay)
	}
	if p.failCreate.Load() {
		return "", errors.New("provider unavailable")
	}
	return p.Memory.CreateChannel(ctx, name, private)
}

func (p *flakyProvider) PostMessage(ctx context.Context, channelID, text string) bool {
	if p.failPost.Load() {
		return false
	}
	return p.Memory.PostMessage(ctx, channelID, text)
}

func (p *flakyProvider) FetchMessages(ctx context.Context, channelID string, limit int) ([]model.ChannelMessage, error) {
	if p.failFetch.Load() {
		return nil, errors.New("provider unavailable")
	}
	return p.Memory.FetchMessages(ctx, channelID, limit)
}

// env wires every service over the fakes.
type env struct {
	users    *fakeUsers
	pairs    *fakePairs
	groups   *fakeGroups
	members  *fakeMembers
	sessions *fakeSessions
	provider *flakyProvider
	events   *events.Recorder

	pairing *PairingService
	group   *GroupService
	session *SessionService
	chat    *ChatService
	query   *QueryService
}

func newEnv(t *testing.T) *env {
	t.Helper()
	logger := zaptest.NewLogger(t)

	e := &env{
		users:    newFakeUsers(),
		pairs:    newFakePairs(),
		groups:   newFakeGroups(),
		provider: newFlakyProvider(),
		events:   &events.Recorder{},
	}
	e.members = newFakeMembers(e.users, e.groups)
	e.sessions = newFakeSessions(e.members)

	e.pairing = NewPairingService(e.pairs, e.users, e.provider, e.events, logger)
	e.group = NewGroupService(e.groups, e.members, e.users, e.provider, e.events, logger)
	e.session = NewSessionService(e.sessions, e.group, e.provider, e.events, logger)
	e.chat = NewChatService(e.pairing, e.group, e.users, e.provider, logger)
	e.query = NewQueryService(e.users, e.pairs, e.groups, e.members, e.sessions)
	return e
}

// confirmedPair returns a confirmed pair of two fresh learners.
func (e *env) confirmedPair(t *testing.T) (*model.BuddyPair, *model.User, *model.User) {
	t.Helper()
	ctx := context.Background()
	a := e.users.add(uuid.NewString()[:8]+"@example.com", "Ann")
	b := e.users.add(uuid.NewString()[:8]+"@example.com", "Bob")

	pair, err := e.pairing.CreateInvitation(ctx, a.ID, b.ID)
	require.NoError(t, err)
	pair, err = e.pairing.Confirm(ctx, pair.ID, b.ID)
	require.NoError(t, err)
	return pair, a, b
}

func (e *env) cohort(t *testing.T, name string) *model.Group {
	t.Helper()
	g, err := e.group.CreateGroup(context.Background(), GroupInput{Name: name, Type: model.GroupTypeCohort})
	require.NoError(t, err)
	return g
}

func (e *env) mustFind(t *testing.T, email string) uuid.UUID {
	t.Helper()
	u, err := e.users.FindByEmail(context.Background(), email)
	require.NoError(t, err)
	require.NotNil(t, u)
	return u.ID
}
