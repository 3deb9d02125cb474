package database_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NotiFansly/starboard/internal/apperr"
	"github.com/NotiFansly/starboard/internal/database"
	"github.com/NotiFansly/starboard/internal/database/dbtest"
	"github.com/NotiFansly/starboard/internal/models"
)

func TestGuildEnsureAndEdit(t *testing.T) {
	ctx := context.Background()
	store := dbtest.New(t)

	g, err := store.Guilds.Get(ctx, "g1")
	require.NoError(t, err)
	assert.Nil(t, g)

	g, err = store.Guilds.Ensure(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, 3, g.XPCooldown)
	assert.Equal(t, 60, g.XPCooldownPer)
	assert.True(t, g.QAEnabled)

	existed, err := store.Guilds.Create(ctx, "g1")
	require.NoError(t, err)
	assert.True(t, existed)

	logChannel := "c9"
	g, err = store.Guilds.Edit(ctx, "g1", database.GuildUpdate{
		LogChannelID: database.Some(&logChannel),
		XPCooldown:   database.Some(5),
		QAEnabled:    database.Some(false),
	})
	require.NoError(t, err)
	require.NotNil(t, g.LogChannelID)
	assert.Equal(t, "c9", *g.LogChannelID)
	assert.Equal(t, 5, g.XPCooldown)
	assert.False(t, g.QAEnabled)

	// The cached copy must reflect the edit.
	g, err = store.Guilds.Get(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, 5, g.XPCooldown)

	_, err = store.Guilds.Edit(ctx, "g1", database.GuildUpdate{XPCooldownPer: database.Some(601)})
	assert.Equal(t, apperr.ConfigurationViolation, apperr.KindOf(err))
}

func TestStarboardThresholds(t *testing.T) {
	ctx := context.Background()
	store := dbtest.New(t)

	_, err := store.Starboards.Create(ctx, "sb", "g")
	require.NoError(t, err)

	tests := []struct {
		name           string
		required       int
		requiredRemove int
		ok             bool
	}{
		{"defaults shape", 3, 0, true},
		{"adjacent", 5, 4, true},
		{"never remove", 1, -1, true},
		{"equal", 4, 4, false},
		{"required too low", 0, -1, false},
		{"required too high", 501, 0, false},
		{"remove too high", 500, 496, false},
		{"remove too low", 3, -2, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.Starboards.Edit(ctx, "sb", database.StarboardUpdate{
				Required:       database.Some(tt.required),
				RequiredRemove: database.Some(tt.requiredRemove),
			})
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Equal(t, apperr.ConfigurationViolation, apperr.KindOf(err))
			}
		})
	}

	// Lowering required below the stored required_remove is rejected.
	_, err = store.Starboards.Edit(ctx, "sb", database.StarboardUpdate{
		Required: database.Some(10), RequiredRemove: database.Some(5),
	})
	require.NoError(t, err)
	_, err = store.Starboards.Edit(ctx, "sb", database.StarboardUpdate{Required: database.Some(5)})
	assert.Equal(t, apperr.ConfigurationViolation, apperr.KindOf(err))

	_, err = store.Starboards.Edit(ctx, "sb", database.StarboardUpdate{Regex: database.Some("(")})
	assert.Equal(t, apperr.ConfigurationViolation, apperr.KindOf(err))
}

func TestStarEmojiRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := dbtest.New(t)
	_, err := store.Starboards.Create(ctx, "sb", "g")
	require.NoError(t, err)

	before, err := store.Starboards.Get(ctx, "sb")
	require.NoError(t, err)

	_, err = store.Starboards.AddStarEmoji(ctx, "sb", "🔥")
	require.NoError(t, err)
	mid, err := store.Starboards.Get(ctx, "sb")
	require.NoError(t, err)
	assert.Equal(t, []string{"⭐", "🔥"}, []string(mid.StarEmojis))

	_, err = store.Starboards.RemoveStarEmoji(ctx, "sb", "🔥")
	require.NoError(t, err)
	after, err := store.Starboards.Get(ctx, "sb")
	require.NoError(t, err)
	assert.Equal(t, before, after)

	_, err = store.Starboards.RemoveStarEmoji(ctx, "sb", "🔥")
	assert.Equal(t, apperr.Input, apperr.KindOf(err))
}

func TestChannelCannotBeStarboardAndAutostar(t *testing.T) {
	ctx := context.Background()
	store := dbtest.New(t)

	_, err := store.Starboards.Create(ctx, "c1", "g")
	require.NoError(t, err)
	_, err = store.ASChannels.Create(ctx, "c1", "g")
	assert.Equal(t, apperr.ConfigurationViolation, apperr.KindOf(err))

	_, err = store.ASChannels.Create(ctx, "c2", "g")
	require.NoError(t, err)
	_, err = store.Starboards.Create(ctx, "c2", "g")
	assert.Equal(t, apperr.ConfigurationViolation, apperr.KindOf(err))
}

func TestAutostarCharBounds(t *testing.T) {
	ctx := context.Background()
	store := dbtest.New(t)
	_, err := store.ASChannels.Create(ctx, "asc", "g")
	require.NoError(t, err)

	_, err = store.ASChannels.Edit(ctx, "asc", database.ASChannelUpdate{MinChars: database.Some(4001)})
	assert.Equal(t, apperr.ConfigurationViolation, apperr.KindOf(err))

	ten, five := 10, 5
	_, err = store.ASChannels.Edit(ctx, "asc", database.ASChannelUpdate{MinChars: database.Some(10), MaxChars: database.Some(&ten)})
	require.NoError(t, err)
	_, err = store.ASChannels.Edit(ctx, "asc", database.ASChannelUpdate{MaxChars: database.Some(&five)})
	assert.Equal(t, apperr.ConfigurationViolation, apperr.KindOf(err))

	asc, err := store.ASChannels.AddEmoji(ctx, "asc", "🔥")
	require.NoError(t, err)
	assert.Equal(t, []string{"⭐", "🔥"}, []string(asc.Emojis))
}

func TestMessageAndStarboardMessageIDsAreDisjoint(t *testing.T) {
	ctx := context.Background()
	store := dbtest.New(t)

	_, err := store.Messages.Create(ctx, &models.Message{ID: "m1", GuildID: "g", ChannelID: "c", AuthorID: "a"})
	require.NoError(t, err)

	_, err = store.SBMessages.Create(ctx, &models.StarboardMessage{ID: "m1", OrigID: "m1", StarboardID: "sb"})
	assert.Equal(t, apperr.ConfigurationViolation, apperr.KindOf(err))

	existed, err := store.SBMessages.Create(ctx, &models.StarboardMessage{ID: "s1", OrigID: "m1", StarboardID: "sb"})
	require.NoError(t, err)
	assert.False(t, existed)

	_, err = store.Messages.Create(ctx, &models.Message{ID: "s1", GuildID: "g", ChannelID: "c"})
	assert.Equal(t, apperr.ConfigurationViolation, apperr.KindOf(err))

	// A second mirror for the same pair is "already existed", not a new row.
	existed, err = store.SBMessages.Create(ctx, &models.StarboardMessage{ID: "s2", OrigID: "m1", StarboardID: "sb"})
	require.NoError(t, err)
	assert.True(t, existed)
	rows, err := store.SBMessages.ForOrig(ctx, "m1")
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestReactionsHaveSetSemantics(t *testing.T) {
	ctx := context.Background()
	store := dbtest.New(t)
	_, err := store.Messages.Create(ctx, &models.Message{ID: "m", GuildID: "g", ChannelID: "c", AuthorID: "a"})
	require.NoError(t, err)

	added, err := store.Reactions.Add(ctx, "m", "⭐", "u1")
	require.NoError(t, err)
	assert.True(t, added)
	added, err = store.Reactions.Add(ctx, "m", "⭐", "u1")
	require.NoError(t, err)
	assert.False(t, added)
	_, err = store.Reactions.Add(ctx, "m", "🔥", "u1")
	require.NoError(t, err)
	_, err = store.Reactions.Add(ctx, "m", "⭐", "u2")
	require.NoError(t, err)

	voters, err := store.Reactions.Voters(ctx, "m")
	require.NoError(t, err)
	assert.Equal(t, []models.Voter{
		{Emoji: "⭐", UserID: "u1"},
		{Emoji: "⭐", UserID: "u2"},
		{Emoji: "🔥", UserID: "u1"},
	}, voters)

	removed, err := store.Reactions.Remove(ctx, "m", "⭐", "u1")
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = store.Reactions.Remove(ctx, "m", "⭐", "u1")
	require.NoError(t, err)
	assert.False(t, removed)

	require.NoError(t, store.Reactions.SetUsers(ctx, "m", "⭐", []string{"u3", "u4"}))
	voters, err = store.Reactions.Voters(ctx, "m")
	require.NoError(t, err)
	assert.Len(t, voters, 3)
}

func TestMessageDeleteCascades(t *testing.T) {
	ctx := context.Background()
	store := dbtest.New(t)
	_, err := store.Messages.Create(ctx, &models.Message{ID: "m", GuildID: "g", ChannelID: "c", AuthorID: "a"})
	require.NoError(t, err)
	_, err = store.Reactions.Add(ctx, "m", "⭐", "u1")
	require.NoError(t, err)
	_, err = store.SBMessages.Create(ctx, &models.StarboardMessage{ID: "s", OrigID: "m", StarboardID: "sb"})
	require.NoError(t, err)

	require.NoError(t, store.Messages.Delete(ctx, "m"))

	voters, err := store.Reactions.Voters(ctx, "m")
	require.NoError(t, err)
	assert.Empty(t, voters)
	sbm, err := store.SBMessages.Get(ctx, "s")
	require.NoError(t, err)
	assert.Nil(t, sbm)
}

func groupIndexes(t *testing.T, store *database.Store, guildID string) map[string]int {
	t.Helper()
	groups, err := store.PermGroups.List(context.Background(), guildID)
	require.NoError(t, err)
	out := map[string]int{}
	for _, g := range groups {
		out[g.Name] = g.Index
	}
	return out
}

func TestPermGroupIndexesStayDense(t *testing.T) {
	ctx := context.Background()
	store := dbtest.New(t)

	ids := map[string]uint{}
	for _, name := range []string{"a", "b", "c", "d"} {
		g, err := store.PermGroups.Create(ctx, "g", name)
		require.NoError(t, err)
		ids[name] = g.ID
	}
	assert.Equal(t, map[string]int{"a": 1, "b": 2, "c": 3, "d": 4}, groupIndexes(t, store, "g"))

	_, err := store.PermGroups.Create(ctx, "g", "A")
	assert.Equal(t, apperr.ConfigurationViolation, apperr.KindOf(err))

	_, err = store.PermGroups.Move(ctx, ids["d"], 1)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"d": 1, "a": 2, "b": 3, "c": 4}, groupIndexes(t, store, "g"))

	_, err = store.PermGroups.Move(ctx, ids["a"], 99)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"d": 1, "b": 2, "c": 3, "a": 4}, groupIndexes(t, store, "g"))

	require.NoError(t, store.PermGroups.Delete(ctx, ids["b"]))
	assert.Equal(t, map[string]int{"d": 1, "c": 2, "a": 3}, groupIndexes(t, store, "g"))

	g, err := store.PermGroups.Create(ctx, "g", "e")
	require.NoError(t, err)
	assert.Equal(t, 4, g.Index)
}

func TestPermRoleIndexesStayDense(t *testing.T) {
	ctx := context.Background()
	store := dbtest.New(t)
	g, err := store.PermGroups.Create(ctx, "g", "mods")
	require.NoError(t, err)

	for _, r := range []string{"r1", "r2", "r3"} {
		_, err := store.PermRoles.Create(ctx, g.ID, r)
		require.NoError(t, err)
	}
	existed, err := store.PermRoles.Create(ctx, g.ID, "r1")
	require.NoError(t, err)
	assert.True(t, existed)

	_, err = store.PermRoles.Move(ctx, g.ID, "r3", 1)
	require.NoError(t, err)
	require.NoError(t, store.PermRoles.Delete(ctx, g.ID, "r1"))

	roles, err := store.PermRoles.List(ctx, g.ID)
	require.NoError(t, err)
	require.Len(t, roles, 2)
	assert.Equal(t, "r3", roles[0].RoleID)
	assert.Equal(t, 1, roles[0].Index)
	assert.Equal(t, "r2", roles[1].RoleID)
	assert.Equal(t, 2, roles[1].Index)

	p, err := store.PermRoles.Edit(ctx, g.ID, "r2", database.PermRoleUpdate{GiveStars: database.Some(models.Deny)})
	require.NoError(t, err)
	assert.Equal(t, models.Deny, p.GiveStars)
	assert.Equal(t, models.Inherit, p.RecvStars)
}

func TestRoleCannotBeXPAndPosRole(t *testing.T) {
	ctx := context.Background()
	store := dbtest.New(t)

	_, err := store.XPRoles.Create(ctx, "r", "g", 10)
	require.NoError(t, err)
	_, err = store.PosRoles.Create(ctx, "r", "g", 1)
	assert.Equal(t, apperr.ConfigurationViolation, apperr.KindOf(err))

	_, err = store.PosRoles.Create(ctx, "p", "g", 2)
	require.NoError(t, err)
	_, err = store.XPRoles.Create(ctx, "p", "g", 5)
	assert.Equal(t, apperr.ConfigurationViolation, apperr.KindOf(err))

	_, err = store.XPRoles.Create(ctx, "z", "g", 0)
	assert.Equal(t, apperr.ConfigurationViolation, apperr.KindOf(err))
}

func TestAddXPKeepsLevelInSync(t *testing.T) {
	ctx := context.Background()
	store := dbtest.New(t)

	_, err := store.Members.SetXP(ctx, "u", "g", 8)
	require.NoError(t, err)

	old, m, err := store.Members.AddXP(ctx, "u", "g", 1)
	require.NoError(t, err)
	assert.Equal(t, 2, old)
	assert.Equal(t, 9, m.XP)
	assert.Equal(t, 3, m.Level)

	_, m, err = store.Members.AddXP(ctx, "u", "g", -20)
	require.NoError(t, err)
	assert.Equal(t, 0, m.XP)
	assert.Equal(t, 0, m.Level)
}

func TestConcurrentAddXPIsNotLost(t *testing.T) {
	ctx := context.Background()
	store := dbtest.New(t)
	_, err := store.Members.Ensure(ctx, "u", "g")
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := store.Members.AddXP(ctx, "u", "g", 1)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	m, err := store.Members.Get(ctx, "u", "g")
	require.NoError(t, err)
	assert.Equal(t, 16, m.XP)
	assert.Equal(t, 4, m.Level)
}

func TestEditForced(t *testing.T) {
	ctx := context.Background()
	store := dbtest.New(t)
	_, err := store.Messages.Create(ctx, &models.Message{ID: "m1", GuildID: "g", ChannelID: "c", AuthorID: "a"})
	require.NoError(t, err)

	add := func(id string) func([]string) []string {
		return func(forced []string) []string { return append(forced, id) }
	}
	_, err = store.Messages.EditForced(ctx, "m1", add("s1"))
	require.NoError(t, err)
	m, err := store.Messages.EditForced(ctx, "m1", add("s2"))
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "s2"}, []string(m.Forced))

	m, err = store.Messages.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "s2"}, []string(m.Forced))

	_, err = store.Messages.EditForced(ctx, "missing", add("s1"))
	assert.True(t, apperr.IsNotFound(err))
}

func TestGuildDeleteCascades(t *testing.T) {
	ctx := context.Background()
	store := dbtest.New(t)

	_, err := store.Starboards.Create(ctx, "sb", "g")
	require.NoError(t, err)
	_, err = store.ASChannels.Create(ctx, "asc", "g")
	require.NoError(t, err)
	_, err = store.Messages.Create(ctx, &models.Message{ID: "m", GuildID: "g", ChannelID: "c", AuthorID: "a"})
	require.NoError(t, err)
	_, err = store.Reactions.Add(ctx, "m", "⭐", "u")
	require.NoError(t, err)
	pg, err := store.PermGroups.Create(ctx, "g", "group")
	require.NoError(t, err)
	_, err = store.PermRoles.Create(ctx, pg.ID, "r")
	require.NoError(t, err)
	_, err = store.Members.Ensure(ctx, "u", "g")
	require.NoError(t, err)

	require.NoError(t, store.Guilds.Delete(ctx, "g"))

	sb, err := store.Starboards.Get(ctx, "sb")
	require.NoError(t, err)
	assert.Nil(t, sb)
	asc, err := store.ASChannels.Get(ctx, "asc")
	require.NoError(t, err)
	assert.Nil(t, asc)
	msg, err := store.Messages.Get(ctx, "m")
	require.NoError(t, err)
	assert.Nil(t, msg)
	groups, err := store.PermGroups.List(ctx, "g")
	require.NoError(t, err)
	assert.Empty(t, groups)
	roles, err := store.PermRoles.List(ctx, pg.ID)
	require.NoError(t, err)
	assert.Empty(t, roles)
	member, err := store.Members.Get(ctx, "u", "g")
	require.NoError(t, err)
	assert.Nil(t, member)
}

func TestLimits(t *testing.T) {
	ctx := context.Background()
	store := dbtest.NewWithLimits(t, database.Limits{
		Default: map[string]int{database.LimitStarboards: 1},
		Premium: map[string]int{database.LimitStarboards: 3},
	})

	_, err := store.Starboards.Create(ctx, "sb1", "g")
	require.NoError(t, err)
	_, err = store.Starboards.Create(ctx, "sb2", "g")
	assert.Equal(t, apperr.ConfigurationViolation, apperr.KindOf(err))
}

func TestDeleteChannelAndRole(t *testing.T) {
	ctx := context.Background()
	store := dbtest.New(t)

	_, err := store.Starboards.Create(ctx, "sb", "g")
	require.NoError(t, err)
	pg, err := store.PermGroups.Create(ctx, "g", "group")
	require.NoError(t, err)
	_, err = store.PermGroups.SetScope(ctx, pg.ID, []string{"c1", "c2"}, []string{"sb"})
	require.NoError(t, err)
	_, err = store.PermRoles.Create(ctx, pg.ID, "r")
	require.NoError(t, err)

	wasSB, wasASC, err := store.DeleteChannel(ctx, "g", "sb")
	require.NoError(t, err)
	assert.True(t, wasSB)
	assert.False(t, wasASC)
	_, _, err = store.DeleteChannel(ctx, "g", "c1")
	require.NoError(t, err)

	pg, err = store.PermGroups.Get(ctx, pg.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"c2"}, []string(pg.Channels))
	assert.Empty(t, pg.Starboards)

	require.NoError(t, store.DeleteRole(ctx, "r"))
	roles, err := store.PermRoles.List(ctx, pg.ID)
	require.NoError(t, err)
	assert.Empty(t, roles)
}

func TestSystemStats(t *testing.T) {
	ctx := context.Background()
	store := dbtest.New(t)

	require.NoError(t, store.SystemStats.Add(ctx, "reactions_processed", 3))
	require.NoError(t, store.SystemStats.Add(ctx, "reactions_processed", 4))
	v, err := store.SystemStats.Get(ctx, "reactions_processed")
	require.NoError(t, err)
	assert.Equal(t, int64(7), v)
}
