package service

import (
	"context"
	"testing"
	"time"

	"github.com/Freeeeeet/community_hub/internal/model"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuery_MyPair(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	none, err := e.query.MyPair(ctx, uuid.New())
	require.NoError(t, err)
	assert.Nil(t, none)

	pair, a, b := e.confirmedPair(t)
	view, err := e.query.MyPair(ctx, a.ID)
	require.NoError(t, err)
	require.NotNil(t, view)
	assert.Equal(t, pair.ID, view.ID)
	assert.Equal(t, b.Email, view.PartnerIdentity(a.ID).Email)

	_, err = e.pairing.Archive(ctx, pair.ID, b.ID)
	require.NoError(t, err)
	view, err = e.query.MyPair(ctx, a.ID)
	require.NoError(t, err)
	assert.Nil(t, view, "archived pairs are not current")
}

func TestQuery_MySessions(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	mine := e.cohort(t, "Spring")
	other := e.cohort(t, "Autumn")
	ann := e.users.add("ann@example.com", "Ann")
	_, err := e.group.AddMembersByEmail(ctx, mine.ID, []string{ann.Email}, "")
	require.NoError(t, err)

	create := func(title string, start time.Time, group *uuid.UUID) {
		_, err := e.session.Create(ctx, uuid.New(), SessionInput{Title: title, StartTime: start, EndTime: start.Add(time.Hour), GroupID: group})
		require.NoError(t, err)
	}
	create("Later", now.Add(24*time.Hour), &mine.ID)
	create("Past", now.Add(-3*time.Hour), nil)
	create("Live", now.Add(-30*time.Minute), &mine.ID)
	create("Hidden", now.Add(time.Hour), &other.ID)

	views, err := e.query.MySessions(ctx, ann.ID, now)
	require.NoError(t, err)
	require.Len(t, views, 3)
	assert.Equal(t, "Past", views[0].Title)
	assert.Equal(t, model.SessionStatusCompleted, views[0].Status)
	assert.Equal(t, "Live", views[1].Title)
	assert.Equal(t, model.SessionStatusLive, views[1].Status)
	assert.Equal(t, "Later", views[2].Title)
	assert.Equal(t, model.SessionStatusUpcoming, views[2].Status)

	all, err := e.query.ListSessions(ctx, now)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestQuery_AdminLists(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.confirmedPair(t)
	a := e.users.add("p@example.com", "Pat")
	b := e.users.add("q@example.com", "Quinn")
	_, err := e.pairing.CreateInvitation(ctx, a.ID, b.ID)
	require.NoError(t, err)

	all, err := e.query.ListPairs(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	pending, err := e.query.ListPairs(ctx, model.PairStatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, []string{"p@example.com", "q@example.com"},
		[]string{pending[0].Members[0].Email, pending[0].Members[1].Email})

	_, err = e.query.ListPairs(ctx, "dissolved")
	assert.ErrorIs(t, err, ErrValidation)

	g := e.cohort(t, "Spring")
	e.cohort(t, "Winter")
	_, err = e.group.ArchiveGroup(ctx, g.ID)
	require.NoError(t, err)

	active, err := e.query.ListGroups(ctx, false)
	require.NoError(t, err)
	assert.Len(t, active, 1)
	everything, err := e.query.ListGroups(ctx, true)
	require.NoError(t, err)
	assert.Len(t, everything, 2)

	_, err = e.query.GroupMembers(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)

	found, err := e.query.SearchUsers(ctx, "quinn", 10)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, b.ID, found[0].ID)
}
