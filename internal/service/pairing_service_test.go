package service

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/Freeeeeet/community_hub/internal/events"
	"github.com/Freeeeeet/community_hub/internal/model"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPairing_InviteConfirmConflict(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := e.users.add("a@example.com", "Ann")
	b := e.users.add("b@example.com", "Bob")
	c := e.users.add("c@example.com", "Cid")

	pair, err := e.pairing.CreateInvitation(ctx, a.ID, b.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PairStatusPending, pair.Status)
	assert.Nil(t, pair.ChannelRef)

	pair, err = e.pairing.Confirm(ctx, pair.ID, a.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PairStatusConfirmed, pair.Status)
	require.NotNil(t, pair.ChannelRef)

	name, ok := e.provider.ChannelName(*pair.ChannelRef)
	require.True(t, ok)
	assert.Equal(t, "buddy-ann-bob", name)
	assert.True(t, e.provider.IsMember(*pair.ChannelRef, *a.ProviderUserID))
	assert.True(t, e.provider.IsMember(*pair.ChannelRef, *b.ProviderUserID))

	_, err = e.pairing.CreateInvitation(ctx, a.ID, c.ID)
	assert.ErrorIs(t, err, ErrConflict)

	assert.Equal(t, []events.Type{events.PairInvited, events.PairConfirmed}, e.events.Types())
}

func TestPairing_CreateInvitationValidation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := e.users.add("a@example.com", "Ann")

	_, err := e.pairing.CreateInvitation(ctx, a.ID, a.ID)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = e.pairing.CreateInvitation(ctx, a.ID, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPairing_ConfirmTwiceIsNoop(t *testing.T) {
	e := newEnv(t)
	pair, a, _ := e.confirmedPair(t)

	again, err := e.pairing.Confirm(context.Background(), pair.ID, a.ID)
	require.NoError(t, err)
	assert.Equal(t, *pair.ChannelRef, *again.ChannelRef)
	assert.Equal(t, 1, e.provider.ChannelCount())
}

func TestPairing_ConfirmAuthorization(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := e.users.add("a@example.com", "Ann")
	b := e.users.add("b@example.com", "Bob")
	outsider := e.users.add("x@example.com", "Xena")

	pair, err := e.pairing.CreateInvitation(ctx, a.ID, b.ID)
	require.NoError(t, err)

	_, err = e.pairing.Confirm(ctx, pair.ID, outsider.ID)
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = e.pairing.Confirm(ctx, uuid.New(), a.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Equal(t, 0, e.provider.ChannelCount())
}

func TestPairing_ConfirmProviderFailureKeepsPending(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := e.users.add("a@example.com", "Ann")
	b := e.users.add("b@example.com", "Bob")

	pair, err := e.pairing.CreateInvitation(ctx, a.ID, b.ID)
	require.NoError(t, err)

	e.provider.failCreate.Store(true)
	_, err = e.pairing.Confirm(ctx, pair.ID, a.ID)
	assert.ErrorIs(t, err, ErrRemoteService)

	stored, err := e.pairs.GetByID(ctx, pair.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PairStatusPending, stored.Status)
	assert.Nil(t, stored.ChannelRef)

	// the lease was released, so a later confirm goes through
	e.provider.failCreate.Store(false)
	confirmed, err := e.pairing.Confirm(ctx, pair.ID, b.ID)
	require.NoError(t, err)
	assert.True(t, confirmed.IsConfirmed())
	assert.NotNil(t, confirmed.ChannelRef)
}

func TestPairing_ConcurrentConfirmCreatesOneChannel(t *testing.T) {
	e := newEnv(t)
	e.provider.createDelay = 20 * time.Millisecond
	ctx := context.Background()
	a := e.users.add("a@example.com", "Ann")
	b := e.users.add("b@example.com", "Bob")

	pair, err := e.pairing.CreateInvitation(ctx, a.ID, b.ID)
	require.NoError(t, err)

	var wg sync.WaitGroup
	refs := make([]string, 8)
	for i := range refs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			actor := a.ID
			if i%2 == 1 {
				actor = b.ID
			}
			p, err := e.pairing.Confirm(ctx, pair.ID, actor)
			if err == nil {
				refs[i] = *p.ChannelRef
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, e.provider.ChannelCount())
	stored, _ := e.pairs.GetByID(ctx, pair.ID)
	for _, ref := range refs {
		if ref != "" {
			assert.Equal(t, *stored.ChannelRef, ref)
		}
	}
}

func TestPairing_SecondProcessDoesNotCreateChannel(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := e.users.add("a@example.com", "Ann")
	b := e.users.add("b@example.com", "Bob")

	pair, err := e.pairing.CreateInvitation(ctx, a.ID, b.ID)
	require.NoError(t, err)

	// another process holds the confirmation lease
	now := time.Now()
	claimed, err := e.pairs.ClaimConfirmation(ctx, pair.ID, now, now.Add(time.Minute))
	require.NoError(t, err)
	require.True(t, claimed)

	_, err = e.pairing.Confirm(ctx, pair.ID, a.ID)
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, 0, e.provider.ChannelCount())
}

func TestPairing_ArchiveKeepsChannelHistory(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	pair, a, _ := e.confirmedPair(t)
	channelRef := *pair.ChannelRef

	archived, err := e.pairing.Archive(ctx, pair.ID, a.ID)
	require.NoError(t, err)
	assert.True(t, archived.IsArchived())
	assert.Nil(t, archived.ChannelRef)
	require.NotNil(t, archived.ArchivedChannelRef)
	assert.Equal(t, channelRef, *archived.ArchivedChannelRef)

	again, err := e.pairing.Archive(ctx, pair.ID, a.ID)
	require.NoError(t, err)
	assert.True(t, again.IsArchived())

	_, err = e.pairing.Confirm(ctx, pair.ID, a.ID)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestPairing_Repair(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	pair, a, _ := e.confirmedPair(t)
	c := e.users.add("c@example.com", "Cid")

	_, err := e.pairing.Repair(ctx, pair.ID, a.ID, "nobody@example.com")
	assert.ErrorIs(t, err, ErrNotFound)
	stored, _ := e.pairs.GetByID(ctx, pair.ID)
	assert.True(t, stored.IsConfirmed(), "failed repair must not archive")

	_, err = e.pairing.Repair(ctx, pair.ID, a.ID, a.Email)
	assert.ErrorIs(t, err, ErrValidation)

	next, err := e.pairing.Repair(ctx, pair.ID, a.ID, "C@example.com")
	require.NoError(t, err)
	assert.True(t, next.IsPending())
	assert.True(t, next.HasMember(a.ID))
	assert.True(t, next.HasMember(c.ID))

	stored, _ = e.pairs.GetByID(ctx, pair.ID)
	assert.True(t, stored.IsArchived())
}

func TestPairing_RepairPartnerAlreadyPaired(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	pair, a, _ := e.confirmedPair(t)
	_, other, _ := e.confirmedPair(t)

	_, err := e.pairing.Repair(ctx, pair.ID, a.ID, other.Email)
	assert.ErrorIs(t, err, ErrConflict)

	stored, _ := e.pairs.GetByID(ctx, pair.ID)
	assert.True(t, stored.IsConfirmed())
}

func TestPairing_AtMostOneActivePairPerUser(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(7))

	users := make([]*model.User, 5)
	for i := range users {
		users[i] = e.users.add(uuid.NewString()+"@example.com", "L"+uuid.NewString()[:4])
	}

	for step := 0; step < 300; step++ {
		u := users[rng.Intn(len(users))]
		v := users[rng.Intn(len(users))]

		switch rng.Intn(3) {
		case 0:
			_, _ = e.pairing.CreateInvitation(ctx, u.ID, v.ID)
		case 1:
			if p, _ := e.pairs.GetActiveByUser(ctx, u.ID); p != nil {
				_, _ = e.pairing.Confirm(ctx, p.ID, u.ID)
			}
		case 2:
			if p, _ := e.pairs.GetActiveByUser(ctx, u.ID); p != nil {
				_, _ = e.pairing.Archive(ctx, p.ID, u.ID)
			}
		}

		all, err := e.pairs.List(ctx, "")
		require.NoError(t, err)
		active := make(map[uuid.UUID]int)
		for _, p := range all {
			if p.IsConfirmed() {
				require.NotNil(t, p.ChannelRef)
			} else {
				require.Nil(t, p.ChannelRef)
			}
			if !p.IsArchived() {
				active[p.UserA]++
				active[p.UserB]++
			}
		}
		for id, n := range active {
			require.LessOrEqual(t, n, 1, "user %s has %d active pairs", id, n)
		}
	}
}
