package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Freeeeeet/community_hub/internal/metrics"
	"github.com/Freeeeeet/community_hub/internal/model"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestGroup_CreateValidation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	start := time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 3, 0)

	tests := []struct {
		name string
		in   GroupInput
	}{
		{"blank name", GroupInput{Name: "  ", Type: model.GroupTypeCohort}},
		{"unknown type", GroupInput{Name: "Spring", Type: "club"}},
		{"ends before start", GroupInput{Name: "Spring", Type: model.GroupTypeCohort, StartDate: &end, EndDate: &start}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.group.CreateGroup(ctx, tt.in)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}

	g, err := e.group.CreateGroup(ctx, GroupInput{Name: " Spring 2025 ", Type: model.GroupTypeCohort, StartDate: &start, EndDate: &end})
	require.NoError(t, err)
	assert.Equal(t, "Spring 2025", g.Name)
	assert.Nil(t, g.ChannelRef)

	_, err = e.group.CreateGroup(ctx, GroupInput{Name: "spring 2025", Type: model.GroupTypeMentor})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestGroup_UpdateArchived(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	g := e.cohort(t, "Spring")

	updated, err := e.group.UpdateGroup(ctx, g.ID, GroupInput{Name: "Spring A", Type: model.GroupTypeGraduate})
	require.NoError(t, err)
	assert.Equal(t, model.GroupTypeGraduate, updated.Type)

	_, err = e.group.ArchiveGroup(ctx, g.ID)
	require.NoError(t, err)

	_, err = e.group.UpdateGroup(ctx, g.ID, GroupInput{Name: "Spring B", Type: model.GroupTypeCohort})
	assert.ErrorIs(t, err, ErrConflict)

	_, err = e.group.UpdateGroup(ctx, uuid.New(), GroupInput{Name: "X", Type: model.GroupTypeCohort})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGroup_EnsureChannelIdempotent(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	g := e.cohort(t, "Spring Cohort")
	ann := e.users.add("ann@example.com", "Ann")
	_, err := e.group.AddMembersByEmail(ctx, g.ID, []string{ann.Email}, model.MemberRoleMember)
	require.NoError(t, err)

	first, err := e.group.EnsureChannel(ctx, g.ID)
	require.NoError(t, err)
	second, err := e.group.EnsureChannel(ctx, g.ID)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, e.provider.ChannelCount())
	assert.True(t, e.provider.IsMember(first, *ann.ProviderUserID), "existing members are invited")

	name, _ := e.provider.ChannelName(first)
	assert.Equal(t, "spring-cohort", name)
}

func TestGroup_ConcurrentEnsureChannel(t *testing.T) {
	e := newEnv(t)
	e.provider.createDelay = 20 * time.Millisecond
	g := e.cohort(t, "Spring")

	var wg sync.WaitGroup
	refs := make([]string, 10)
	for i := range refs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ref, err := e.group.EnsureChannel(context.Background(), g.ID)
			if err == nil {
				refs[i] = ref
			}
		}(i)
	}
	wg.Wait()

	stored, _ := e.groups.GetByID(context.Background(), g.ID)
	require.NotNil(t, stored.ChannelRef)
	assert.Equal(t, 1, e.provider.ChannelCount())
	for _, ref := range refs {
		assert.Equal(t, *stored.ChannelRef, ref)
	}
}

func TestGroup_EnsureChannelAcrossProcesses(t *testing.T) {
	e := newEnv(t)
	e.provider.createDelay = 20 * time.Millisecond
	g := e.cohort(t, "Spring")

	// a second service instance over the same stores stands in for another process
	other := NewGroupService(e.groups, e.members, e.users, e.provider, e.events, zaptest.NewLogger(t))

	var wg sync.WaitGroup
	results := make([]string, 2)
	errs := make([]error, 2)
	for i, svc := range []*GroupService{e.group, other} {
		wg.Add(1)
		go func(i int, svc *GroupService) {
			defer wg.Done()
			results[i], errs[i] = svc.EnsureChannel(context.Background(), g.ID)
		}(i, svc)
	}
	wg.Wait()

	stored, _ := e.groups.GetByID(context.Background(), g.ID)
	require.NotNil(t, stored.ChannelRef)
	assert.Equal(t, 1, e.provider.ChannelCount())
	for i := range results {
		if errs[i] != nil {
			assert.ErrorIs(t, errs[i], ErrConflict)
			continue
		}
		assert.Equal(t, *stored.ChannelRef, results[i])
	}

	// once settled every caller sees the same channel
	ref, err := other.EnsureChannel(context.Background(), g.ID)
	require.NoError(t, err)
	assert.Equal(t, *stored.ChannelRef, ref)
}

func TestGroup_EnsureChannelFailure(t *testing.T) {
	e := newEnv(t)
	g := e.cohort(t, "Spring")

	e.provider.failCreate.Store(true)
	_, err := e.group.EnsureChannel(context.Background(), g.ID)
	assert.ErrorIs(t, err, ErrRemoteService)

	stored, _ := e.groups.GetByID(context.Background(), g.ID)
	assert.Nil(t, stored.ChannelRef)

	e.provider.failCreate.Store(false)
	ref, err := e.group.EnsureChannel(context.Background(), g.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, ref)
}

func TestGroup_EnsureChannelLosesRecordRace(t *testing.T) {
	e := newEnv(t)
	g := e.cohort(t, "Spring")
	orphaned := metrics.OrphanedChannels.WithLabelValues("group")
	before := testutil.ToFloat64(orphaned)

	e.groups.beforeSetChannel = func(id uuid.UUID) {
		e.groups.beforeSetChannel = nil
		_, _ = e.groups.SetChannel(context.Background(), id, "chan-winner")
	}

	ref, err := e.group.EnsureChannel(context.Background(), g.ID)
	require.NoError(t, err)
	assert.Equal(t, "chan-winner", ref)
	assert.Equal(t, before+1, testutil.ToFloat64(orphaned))
	assert.Equal(t, int32(1), e.provider.creates.Load())
}

func TestGroup_AddMembersByEmail(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	g := e.cohort(t, "Spring")
	ref, err := e.group.EnsureChannel(ctx, g.ID)
	require.NoError(t, err)

	ann := e.users.add("ann@example.com", "Ann")
	e.users.add("bob@example.com", "Bob")

	report, err := e.group.AddMembersByEmail(ctx, g.ID,
		[]string{"ann@example.com", "", "ghost@example.com", "BOB@example.com", "ann@example.com"},
		"")
	require.NoError(t, err)

	assert.Equal(t, 2, report.Added)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, []model.RowError{
		{Row: 2, Reason: "missing email"},
		{Row: 3, Reason: "unknown email"},
	}, report.Errors)
	assert.True(t, e.provider.IsMember(ref, *ann.ProviderUserID))

	_, err = e.group.AddMembersByEmail(ctx, g.ID, []string{"ann@example.com"}, "owner")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestGroup_AuthorizeAndRemove(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	g := e.cohort(t, "Spring")
	ref, err := e.group.EnsureChannel(ctx, g.ID)
	require.NoError(t, err)

	ann := e.users.add("ann@example.com", "Ann")
	outsider := e.users.add("out@example.com", "Out")
	admin := e.users.add("admin@example.com", "Root")
	e.users.byID[admin.ID].IsAdmin = true

	_, err = e.group.AddMembersByEmail(ctx, g.ID, []string{ann.Email}, model.MemberRoleMember)
	require.NoError(t, err)

	_, err = e.group.Authorize(ctx, g.ID, ann.ID)
	assert.NoError(t, err)
	_, err = e.group.Authorize(ctx, g.ID, admin.ID)
	assert.NoError(t, err)
	_, err = e.group.Authorize(ctx, g.ID, outsider.ID)
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = e.group.Authorize(ctx, uuid.New(), ann.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, e.group.RemoveMember(ctx, g.ID, ann.ID))
	assert.False(t, e.provider.IsMember(ref, *ann.ProviderUserID))
	assert.ErrorIs(t, e.group.RemoveMember(ctx, g.ID, ann.ID), ErrNotFound)

	_, err = e.group.Authorize(ctx, g.ID, ann.ID)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestGroup_ArchiveKeepsMembersAndChannel(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	g := e.cohort(t, "Spring")
	ref, err := e.group.EnsureChannel(ctx, g.ID)
	require.NoError(t, err)
	ann := e.users.add("ann@example.com", "Ann")
	_, err = e.group.AddMembersByEmail(ctx, g.ID, []string{ann.Email}, "")
	require.NoError(t, err)

	archived, err := e.group.ArchiveGroup(ctx, g.ID)
	require.NoError(t, err)
	assert.True(t, archived.Archived)
	assert.Equal(t, ref, *archived.ChannelRef)

	members, err := e.query.GroupMembers(ctx, g.ID)
	require.NoError(t, err)
	assert.Len(t, members, 1)

	_, err = e.group.AddMembersByEmail(ctx, g.ID, []string{ann.Email}, "")
	assert.ErrorIs(t, err, ErrConflict)
}
