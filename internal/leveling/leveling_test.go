package leveling

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NotiFansly/starboard/internal/database"
	"github.com/NotiFansly/starboard/internal/database/dbtest"
	"github.com/NotiFansly/starboard/internal/models"
	"github.com/NotiFansly/starboard/internal/platform/platformtest"
	"github.com/NotiFansly/starboard/internal/starboard"
)

type queue struct {
	mu    sync.Mutex
	users []string
}

func (q *queue) Enqueue(guildID, userID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.users = append(q.users, guildID+"/"+userID)
}

func vote(giver string, delta int) starboard.Vote {
	return starboard.Vote{GuildID: "G", ChannelID: "C", GiverID: giver, ReceiverID: "R", Delta: delta, XP: true}
}

func TestLevelUp(t *testing.T) {
	ctx := context.Background()
	store := dbtest.New(t)
	fake := platformtest.New()
	xpq, posq := &queue{}, &queue{}
	e := New(store, fake, xpq, posq)

	levels := "L"
	_, err := store.Guilds.Edit(ctx, "G", database.GuildUpdate{LevelChannelID: database.Some(&levels), PingUser: database.Some(true)})
	require.NoError(t, err)
	m, err := store.Members.SetXP(ctx, "R", "G", 8)
	require.NoError(t, err)
	require.Equal(t, 2, m.Level)

	require.NoError(t, e.HandleVote(ctx, vote("U", 1)))

	m, err = store.Members.Get(ctx, "R", "G")
	require.NoError(t, err)
	assert.Equal(t, 9, m.XP)
	assert.Equal(t, 3, m.Level)
	assert.Equal(t, 1, m.StarsReceived)

	giver, err := store.Members.Get(ctx, "U", "G")
	require.NoError(t, err)
	assert.Equal(t, 1, giver.StarsGiven)

	sends := fake.WritesOf("send")
	require.Len(t, sends, 1)
	assert.Equal(t, "L", sends[0].ChannelID)
	assert.Equal(t, "<@R> reached level **3**!", sends[0].Content)

	assert.Equal(t, []string{"G/R"}, xpq.users)
	assert.Equal(t, []string{"G/R"}, posq.users)
}

func TestXPCooldown(t *testing.T) {
	ctx := context.Background()
	store := dbtest.New(t)
	e := New(store, platformtest.New())

	for range 5 {
		require.NoError(t, e.HandleVote(ctx, vote("U", 1)))
	}
	m, err := store.Members.Get(ctx, "R", "G")
	require.NoError(t, err)
	assert.Equal(t, 3, m.XP, "default cooldown is 3 per 60s")
	assert.Equal(t, 5, m.StarsReceived, "stars are counted regardless")

	require.NoError(t, e.HandleVote(ctx, vote("V", 1)), "another giver has its own bucket")
	require.NoError(t, e.HandleVote(ctx, vote("U", -1)))
	m, err = store.Members.Get(ctx, "R", "G")
	require.NoError(t, err)
	assert.Equal(t, 3, m.XP)
	assert.Equal(t, 5, m.StarsReceived)
}

func TestNoXP(t *testing.T) {
	ctx := context.Background()
	store := dbtest.New(t)
	e := New(store, platformtest.New())

	require.NoError(t, e.HandleVote(ctx, vote("R", 1)), "self votes are ignored")
	m, err := store.Members.Get(ctx, "R", "G")
	require.NoError(t, err)
	assert.Nil(t, m)

	v := vote("U", 1)
	v.XP = false
	require.NoError(t, e.HandleVote(ctx, v))
	m, err = store.Members.Get(ctx, "R", "G")
	require.NoError(t, err)
	assert.Equal(t, 0, m.XP)
	assert.Equal(t, 1, m.StarsReceived)

	g, err := store.PermGroups.Create(ctx, "G", "noxp")
	require.NoError(t, err)
	_, err = store.PermRoles.Create(ctx, g.ID, "G")
	require.NoError(t, err)
	_, err = store.PermRoles.Edit(ctx, g.ID, "G", database.PermRoleUpdate{GainXP: database.Some(models.Deny)})
	require.NoError(t, err)

	require.NoError(t, e.HandleVote(ctx, vote("U", 1)))
	m, err = store.Members.Get(ctx, "R", "G")
	require.NoError(t, err)
	assert.Equal(t, 0, m.XP)
}

func TestCooldownReadsFreshRate(t *testing.T) {
	now := time.Unix(1000, 0)
	c := NewCooldown()
	c.now = func() time.Time { return now }

	assert.True(t, c.Allow("G", "a", "b", 1, 60))
	assert.False(t, c.Allow("G", "a", "b", 1, 60))

	now = now.Add(61 * time.Second)
	assert.True(t, c.Allow("G", "a", "b", 1, 60))

	// Raising the rate applies to the existing bucket once it refills.
	now = now.Add(120 * time.Second)
	assert.True(t, c.Allow("G", "a", "b", 2, 60))
	assert.False(t, c.Allow("G", "a", "b", 2, 60))
	now = now.Add(61 * time.Second)
	assert.True(t, c.Allow("G", "a", "b", 2, 60))
	assert.True(t, c.Allow("G", "a", "b", 2, 60))
	assert.False(t, c.Allow("G", "a", "b", 2, 60))

	assert.True(t, c.Allow("G", "a", "b", 2, 0), "per 0 disables the limit")
	assert.False(t, c.Allow("G", "a", "b", 0, 60))
}

func TestCooldownDropsRefilledBuckets(t *testing.T) {
	now := time.Unix(1000, 0)
	c := NewCooldown()
	c.now = func() time.Time { return now }

	assert.True(t, c.Allow("G", "a", "b", 1, 60))
	assert.True(t, c.Allow("G", "a", "c", 1, 3600))
	assert.Len(t, c.buckets, 2)

	now = now.Add(11 * time.Minute)
	assert.True(t, c.Allow("G", "x", "y", 1, 60))
	assert.Len(t, c.buckets, 2, "the refilled a->b bucket is dropped")
	assert.NotContains(t, c.buckets, pair{"G", "a", "b"})
	assert.False(t, c.Allow("G", "a", "c", 1, 3600), "a draining bucket survives the sweep")
}
