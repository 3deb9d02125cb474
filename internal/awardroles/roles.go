package awardroles

import (
	"context"
	"slices"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/NotiFansly/starboard/internal/apperr"
	"github.com/NotiFansly/starboard/internal/ctxzap"
	"github.com/NotiFansly/starboard/internal/database"
	"github.com/NotiFansly/starboard/internal/models"
	"github.com/NotiFansly/starboard/internal/permissions"
	"github.com/NotiFansly/starboard/internal/platform"
)

var roleWrites = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "starboard",
	Name:      "award_role_writes_total",
	Help:      "Roles added or removed by the award role loops.",
}, []string{"kind", "op"})

func init() {
	prometheus.MustRegister(roleWrites)
}

type Reconciler struct {
	store  *database.Store
	client platform.Client
	perms  *permissions.Engine
	// Displaced receives members bumped out of a position role.
	Displaced func(guildID, userID string)
}

func NewReconciler(store *database.Store, client platform.Client) *Reconciler {
	return &Reconciler{store: store, client: client, perms: permissions.New(store)}
}

// member returns the roles the member holds and the role ids used for
// permission checks, which add the guild id as the everyone role. A member
// that left the guild yields nil for both.
func (r *Reconciler) member(ctx context.Context, guildID, userID string) ([]string, []string, error) {
	m, err := r.client.Member(ctx, guildID, userID)
	switch {
	case apperr.IsNotFound(err):
		return nil, nil, nil
	case err != nil:
		return nil, nil, err
	}
	held := slices.Clone(m.Roles)
	return held, append(slices.Clone(m.Roles), guildID), nil
}

func (r *Reconciler) xp(ctx context.Context, userID, guildID string) (int, error) {
	m, err := r.store.Members.Get(ctx, userID, guildID)
	if err != nil || m == nil {
		return 0, err
	}
	return m.XP, nil
}

// ReconcileXP grants the xp roles the member has reached and revokes the
// rest. Without stack_xp_roles only the highest reached role is kept.
func (r *Reconciler) ReconcileXP(ctx context.Context, guildID, userID string) error {
	roles, err := r.store.XPRoles.ForGuild(ctx, guildID)
	if err != nil || len(roles) == 0 {
		return err
	}
	held, permRoles, err := r.member(ctx, guildID, userID)
	if err != nil || permRoles == nil {
		return err
	}
	guild, err := r.store.Guilds.Ensure(ctx, guildID)
	if err != nil {
		return err
	}
	perms, err := r.perms.GetPerms(ctx, permRoles, guildID, "", "")
	if err != nil {
		return err
	}
	xp, err := r.xp(ctx, userID, guildID)
	if err != nil {
		return err
	}

	want := XPTargets(roles, xp, guild.StackXPRoles, perms.GainXP && perms.XPRoles)
	all := make([]string, 0, len(roles))
	for _, x := range roles {
		all = append(all, x.RoleID)
	}
	return r.apply(ctx, "xp", guildID, userID, held, all, want)
}

// XPTargets returns the xp roles a member with xp should hold. roles must be
// sorted by ascending requirement.
func XPTargets(roles []models.XPRole, xp int, stack, allowed bool) []string {
	if !allowed {
		return nil
	}
	var out []string
	for _, x := range roles {
		if x.Required <= xp {
			out = append(out, x.RoleID)
		}
	}
	if !stack && len(out) > 1 {
		out = out[len(out)-1:]
	}
	return out
}

// ReconcilePos finds the highest position role the member qualifies for,
// displacing its lowest-xp occupant when the role is full.
func (r *Reconciler) ReconcilePos(ctx context.Context, guildID, userID string) error {
	posRoles, err := r.store.PosRoles.ForGuild(ctx, guildID)
	if err != nil || len(posRoles) == 0 {
		return err
	}
	held, permRoles, err := r.member(ctx, guildID, userID)
	if err != nil {
		return err
	}
	if permRoles == nil {
		// Gone from the guild: free the slots.
		for _, p := range posRoles {
			if err := r.store.PosRoles.RemoveMember(ctx, p.RoleID, userID); err != nil {
				return err
			}
		}
		return nil
	}
	guild, err := r.store.Guilds.Ensure(ctx, guildID)
	if err != nil {
		return err
	}
	perms, err := r.perms.GetPerms(ctx, permRoles, guildID, "", "")
	if err != nil {
		return err
	}
	ordered, err := r.byPosition(ctx, guildID, posRoles)
	if err != nil {
		return err
	}

	var (
		want      []string
		claimed   string
		displaced string
	)
	if perms.PosRoles {
		xp, err := r.xp(ctx, userID, guildID)
		if err != nil {
			return err
		}
		for i, p := range ordered {
			occupants, err := r.store.PosRoles.Occupants(ctx, p.RoleID)
			if err != nil {
				return err
			}
			took, bumped := claim(p, occupants, userID, xp)
			if !took {
				continue
			}
			displaced = bumped
			claimed = p.RoleID
			want = []string{p.RoleID}
			if guild.StackPosRoles {
				for _, lower := range ordered[i+1:] {
					want = append(want, lower.RoleID)
				}
			}
			break
		}
	}

	all := make([]string, 0, len(ordered))
	for _, p := range ordered {
		all = append(all, p.RoleID)
	}
	// Only the claimed role takes a slot; stacked lower roles are granted on
	// the platform without occupying theirs.
	for _, id := range all {
		if id == claimed {
			err = r.store.PosRoles.AddMember(ctx, id, userID, guildID)
		} else {
			err = r.store.PosRoles.RemoveMember(ctx, id, userID)
		}
		if err != nil {
			return err
		}
	}
	if displaced != "" {
		if err := r.store.PosRoles.RemoveMember(ctx, claimed, displaced); err != nil {
			return err
		}
	}

	if err := r.apply(ctx, "pos", guildID, userID, held, all, want); err != nil {
		return err
	}
	if displaced != "" && r.Displaced != nil {
		r.Displaced(guildID, displaced)
	}
	return nil
}

// claim decides whether userID with xp gets p given its current occupants,
// lowest xp first. bumped is the occupant that has to make room.
func claim(p models.PosRole, occupants []models.Member, userID string, xp int) (took bool, bumped string) {
	current := slices.ContainsFunc(occupants, func(m models.Member) bool { return m.UserID == userID })
	capacity := p.MaxUsers
	if current {
		capacity++
	}
	if len(occupants) < capacity {
		return true, ""
	}
	lowest := occupants[0]
	if lowest.UserID != userID && xp > lowest.XP {
		return true, lowest.UserID
	}
	return false, ""
}

// byPosition orders the position roles by their platform position, highest
// first. Roles that no longer exist on the platform are dropped.
func (r *Reconciler) byPosition(ctx context.Context, guildID string, roles []models.PosRole) ([]models.PosRole, error) {
	platformRoles, err := r.client.GuildRoles(ctx, guildID)
	if err != nil {
		return nil, err
	}
	pos := make(map[string]int, len(platformRoles))
	for _, pr := range platformRoles {
		pos[pr.ID] = pr.Position
	}
	out := slices.DeleteFunc(slices.Clone(roles), func(p models.PosRole) bool {
		_, ok := pos[p.RoleID]
		return !ok
	})
	slices.SortStableFunc(out, func(a, b models.PosRole) int { return pos[b.RoleID] - pos[a.RoleID] })
	return out, nil
}

// apply adds the wanted roles the member lacks and removes the managed roles
// it holds but should not. Nothing is written when the member already
// matches.
func (r *Reconciler) apply(ctx context.Context, kind, guildID, userID string, held, managed, want []string) error {
	log := ctxzap.Extract(ctx)
	for _, id := range managed {
		has := slices.Contains(held, id)
		wanted := slices.Contains(want, id)
		var (
			err error
			op  string
		)
		switch {
		case wanted && !has:
			op = "add"
			err = r.client.AddRole(ctx, guildID, userID, id)
		case !wanted && has:
			op = "remove"
			err = r.client.RemoveRole(ctx, guildID, userID, id)
		default:
			continue
		}
		switch {
		case err == nil:
			roleWrites.WithLabelValues(kind, op).Inc()
		case apperr.IsForbidden(err), apperr.IsNotFound(err):
			log.Debugw("role change refused", "kind", kind, "op", op, "role_id", id, "user_id", userID, "error", err)
		default:
			return err
		}
	}
	return nil
}

// NewLoops returns the xp and position role loops driven by r. Members
// displaced from a position role are queued on the position loop again.
func NewLoops(r *Reconciler, interval time.Duration, log *zap.SugaredLogger) (xp, pos *Loop) {
	xp = NewLoop("xp_roles", interval, r.ReconcileXP, log)
	pos = NewLoop("pos_roles", interval, r.ReconcilePos, log)
	r.Displaced = pos.Enqueue
	return xp, pos
}
