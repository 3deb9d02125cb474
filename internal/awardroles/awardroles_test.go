package awardroles

import (
	"context"
	"sync"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/NotiFansly/starboard/internal/database"
	"github.com/NotiFansly/starboard/internal/database/dbtest"
	"github.com/NotiFansly/starboard/internal/models"
	"github.com/NotiFansly/starboard/internal/platform/platformtest"
)

func TestLoopIsLIFOAndCollapsesBursts(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []string
	)
	l := NewLoop("test", 0, func(_ context.Context, guildID, userID string) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, guildID+"/"+userID)
		return nil
	}, zap.NewNop().Sugar())

	l.Enqueue("G", "a")
	l.Enqueue("G", "b")
	l.Enqueue("G", "a")
	l.Enqueue("H", "c")
	assert.Equal(t, []string{"b", "a"}, l.Pending("G"))

	l.Tick(context.Background())
	assert.ElementsMatch(t, []string{"G/a", "H/c"}, seen)

	seen = nil
	l.Tick(context.Background())
	assert.Equal(t, []string{"G/b"}, seen)

	seen = nil
	l.Tick(context.Background())
	assert.Empty(t, seen)
}

func TestXPTargets(t *testing.T) {
	roles := []models.XPRole{{RoleID: "x5", Required: 5}, {RoleID: "x10", Required: 10}, {RoleID: "x20", Required: 20}}
	assert.Equal(t, []string{"x10"}, XPTargets(roles, 12, false, true))
	assert.Equal(t, []string{"x5", "x10"}, XPTargets(roles, 12, true, true))
	assert.Empty(t, XPTargets(roles, 4, true, true))
	assert.Empty(t, XPTargets(roles, 50, true, false))
}

type fixture struct {
	ctx   context.Context
	store *database.Store
	fake  *platformtest.Fake
	r     *Reconciler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{ctx: context.Background(), store: dbtest.New(t), fake: platformtest.New()}
	f.r = NewReconciler(f.store, f.fake)
	_, err := f.store.Guilds.Ensure(f.ctx, "G")
	require.NoError(t, err)
	return f
}

func (f *fixture) member(t *testing.T, id string, xp int) {
	t.Helper()
	f.fake.PutMember("G", &discordgo.Member{User: &discordgo.User{ID: id}})
	_, err := f.store.Members.SetXP(f.ctx, id, "G", xp)
	require.NoError(t, err)
}

func TestReconcileXP(t *testing.T) {
	f := newFixture(t)
	for id, req := range map[string]int{"x5": 5, "x10": 10} {
		_, err := f.store.XPRoles.Create(f.ctx, id, "G", req)
		require.NoError(t, err)
	}
	f.member(t, "u", 12)

	require.NoError(t, f.r.ReconcileXP(f.ctx, "G", "u"))
	assert.Equal(t, []string{"x10"}, f.fake.MemberRoles("G", "u"))

	f.fake.ResetWrites()
	require.NoError(t, f.r.ReconcileXP(f.ctx, "G", "u"))
	assert.Empty(t, f.fake.Writes(), "second reconcile writes nothing")

	_, err := f.store.Guilds.Edit(f.ctx, "G", database.GuildUpdate{StackXPRoles: database.Some(true)})
	require.NoError(t, err)
	require.NoError(t, f.r.ReconcileXP(f.ctx, "G", "u"))
	assert.ElementsMatch(t, []string{"x5", "x10"}, f.fake.MemberRoles("G", "u"))

	_, err = f.store.Members.SetXP(f.ctx, "u", "G", 0)
	require.NoError(t, err)
	require.NoError(t, f.r.ReconcileXP(f.ctx, "G", "u"))
	assert.Empty(t, f.fake.MemberRoles("G", "u"))
}

func TestReconcileXPWithoutPermission(t *testing.T) {
	f := newFixture(t)
	_, err := f.store.XPRoles.Create(f.ctx, "x5", "G", 5)
	require.NoError(t, err)
	f.member(t, "u", 12)
	require.NoError(t, f.r.ReconcileXP(f.ctx, "G", "u"))
	require.Equal(t, []string{"x5"}, f.fake.MemberRoles("G", "u"))

	g, err := f.store.PermGroups.Create(f.ctx, "G", "noxp")
	require.NoError(t, err)
	_, err = f.store.PermRoles.Create(f.ctx, g.ID, "G")
	require.NoError(t, err)
	_, err = f.store.PermRoles.Edit(f.ctx, g.ID, "G", database.PermRoleUpdate{GainXP: database.Some(models.Deny)})
	require.NoError(t, err)

	require.NoError(t, f.r.ReconcileXP(f.ctx, "G", "u"))
	assert.Empty(t, f.fake.MemberRoles("G", "u"))
}

func TestReconcilePosDisplacement(t *testing.T) {
	f := newFixture(t)
	xpLoop, posLoop := NewLoops(f.r, 0, zap.NewNop().Sugar())
	_ = xpLoop

	f.fake.PutRoles("G",
		&discordgo.Role{ID: "top", Position: 5},
		&discordgo.Role{ID: "second", Position: 3},
	)
	for _, id := range []string{"top", "second"} {
		_, err := f.store.PosRoles.Create(f.ctx, id, "G", 1)
		require.NoError(t, err)
	}
	f.member(t, "low", 10)
	f.member(t, "high", 20)

	require.NoError(t, f.r.ReconcilePos(f.ctx, "G", "low"))
	assert.Equal(t, []string{"top"}, f.fake.MemberRoles("G", "low"))

	require.NoError(t, f.r.ReconcilePos(f.ctx, "G", "high"))
	assert.Equal(t, []string{"top"}, f.fake.MemberRoles("G", "high"))
	assert.Equal(t, []string{"low"}, posLoop.Pending("G"), "displaced member is requeued")

	posLoop.Tick(f.ctx)
	assert.Equal(t, []string{"second"}, f.fake.MemberRoles("G", "low"))

	occupants, err := f.store.PosRoles.Occupants(f.ctx, "top")
	require.NoError(t, err)
	require.Len(t, occupants, 1)
	assert.Equal(t, "high", occupants[0].UserID)

	f.fake.ResetWrites()
	require.NoError(t, f.r.ReconcilePos(f.ctx, "G", "low"))
	require.NoError(t, f.r.ReconcilePos(f.ctx, "G", "high"))
	assert.Empty(t, f.fake.Writes(), "second reconcile writes nothing")
	assert.Empty(t, posLoop.Pending("G"))
}

func TestReconcilePosStacking(t *testing.T) {
	f := newFixture(t)
	_, err := f.store.Guilds.Edit(f.ctx, "G", database.GuildUpdate{StackPosRoles: database.Some(true)})
	require.NoError(t, err)
	f.fake.PutRoles("G",
		&discordgo.Role{ID: "top", Position: 5},
		&discordgo.Role{ID: "second", Position: 3},
	)
	for _, id := range []string{"second", "top"} {
		_, err := f.store.PosRoles.Create(f.ctx, id, "G", 1)
		require.NoError(t, err)
	}
	f.member(t, "u", 10)

	require.NoError(t, f.r.ReconcilePos(f.ctx, "G", "u"))
	assert.ElementsMatch(t, []string{"top", "second"}, f.fake.MemberRoles("G", "u"))
}

func TestStackedRolesDoNotTakeLowerSlots(t *testing.T) {
	f := newFixture(t)
	_, err := f.store.Guilds.Edit(f.ctx, "G", database.GuildUpdate{StackPosRoles: database.Some(true)})
	require.NoError(t, err)
	f.fake.PutRoles("G",
		&discordgo.Role{ID: "top", Position: 5},
		&discordgo.Role{ID: "second", Position: 3},
	)
	for _, id := range []string{"top", "second"} {
		_, err := f.store.PosRoles.Create(f.ctx, id, "G", 1)
		require.NoError(t, err)
	}
	f.member(t, "first", 30)
	f.member(t, "runnerup", 20)

	require.NoError(t, f.r.ReconcilePos(f.ctx, "G", "first"))
	require.NoError(t, f.r.ReconcilePos(f.ctx, "G", "runnerup"))

	assert.ElementsMatch(t, []string{"top", "second"}, f.fake.MemberRoles("G", "first"))
	assert.Equal(t, []string{"second"}, f.fake.MemberRoles("G", "runnerup"))

	occupants, err := f.store.PosRoles.Occupants(f.ctx, "second")
	require.NoError(t, err)
	require.Len(t, occupants, 1)
	assert.Equal(t, "runnerup", occupants[0].UserID)
}

func TestReconcilePosEqualXPKeepsOccupant(t *testing.T) {
	f := newFixture(t)
	f.fake.PutRoles("G", &discordgo.Role{ID: "top", Position: 5})
	_, err := f.store.PosRoles.Create(f.ctx, "top", "G", 1)
	require.NoError(t, err)
	f.member(t, "a", 10)
	f.member(t, "b", 10)

	require.NoError(t, f.r.ReconcilePos(f.ctx, "G", "a"))
	require.NoError(t, f.r.ReconcilePos(f.ctx, "G", "b"))
	assert.Equal(t, []string{"top"}, f.fake.MemberRoles("G", "a"))
	assert.Empty(t, f.fake.MemberRoles("G", "b"))
}
