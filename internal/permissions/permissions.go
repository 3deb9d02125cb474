// Package permissions resolves a member's effective permissions from the
// guild's ordered permission groups.
package permissions

import (
	"context"
	"slices"

	"github.com/NotiFansly/starboard/internal/database"
	"github.com/NotiFansly/starboard/internal/models"
)

type Perms struct {
	AllowCommands bool
	OnStarboard   bool
	GiveStars     bool
	RecvStars     bool
	GainXP        bool
	PosRoles      bool
	XPRoles       bool
}

// Defaults allows everything, so a guild without groups is fully permissive.
func Defaults() Perms {
	return Perms{
		AllowCommands: true,
		OnStarboard:   true,
		GiveStars:     true,
		RecvStars:     true,
		GainXP:        true,
		PosRoles:      true,
		XPRoles:       true,
	}
}

func (p *Perms) apply(r *models.PermRole) {
	p.AllowCommands = r.AllowCommands.Over(p.AllowCommands)
	p.OnStarboard = r.OnStarboard.Over(p.OnStarboard)
	p.GiveStars = r.GiveStars.Over(p.GiveStars)
	p.RecvStars = r.RecvStars.Over(p.RecvStars)
	p.GainXP = r.GainXP.Over(p.GainXP)
	p.PosRoles = r.PosRoles.Over(p.PosRoles)
	p.XPRoles = r.XPRoles.Over(p.XPRoles)
}

// Applies reports whether group g is in scope for the channel and starboard.
// An empty id means the caller has no channel or starboard in mind.
func Applies(g *models.PermGroup, channelID, starboardID string) bool {
	if channelID != "" && len(g.Channels) > 0 && !slices.Contains(g.Channels, channelID) {
		return false
	}
	if starboardID != "" && len(g.Starboards) > 0 && !slices.Contains(g.Starboards, starboardID) {
		return false
	}
	return true
}

// Resolve walks groups in index order and, within each applicable group,
// its roles in index order; every non-inherit value overwrites the current
// one. roles maps a group id to its roles sorted by index.
func Resolve(groups []models.PermGroup, roles map[uint][]models.PermRole, roleIDs []string, channelID, starboardID string) Perms {
	perms := Defaults()
	ordered := slices.Clone(groups)
	slices.SortStableFunc(ordered, func(a, b models.PermGroup) int { return a.Index - b.Index })

	for i := range ordered {
		g := &ordered[i]
		if !Applies(g, channelID, starboardID) {
			continue
		}
		grs := slices.Clone(roles[g.ID])
		slices.SortStableFunc(grs, func(a, b models.PermRole) int { return a.Index - b.Index })
		for j := range grs {
			if slices.Contains(roleIDs, grs[j].RoleID) {
				perms.apply(&grs[j])
			}
		}
	}
	return perms
}

type Engine struct {
	store *database.Store
}

func New(store *database.Store) *Engine {
	return &Engine{store: store}
}

// GetPerms resolves the permissions of a member holding roleIDs. Either of
// channelID and starboardID may be empty.
func (e *Engine) GetPerms(ctx context.Context, roleIDs []string, guildID, channelID, starboardID string) (Perms, error) {
	groups, err := e.store.PermGroups.List(ctx, guildID)
	if err != nil {
		return Perms{}, err
	}
	if len(groups) == 0 || len(roleIDs) == 0 {
		return Defaults(), nil
	}

	ids := make([]uint, 0, len(groups))
	for i := range groups {
		if Applies(&groups[i], channelID, starboardID) {
			ids = append(ids, groups[i].ID)
		}
	}
	rows, err := e.store.PermRoles.ForRoles(ctx, ids, roleIDs)
	if err != nil {
		return Perms{}, err
	}
	byGroup := make(map[uint][]models.PermRole, len(ids))
	for _, r := range rows {
		byGroup[r.PermGroupID] = append(byGroup[r.PermGroupID], r)
	}
	return Resolve(groups, byGroup, roleIDs, channelID, starboardID), nil
}
