package database

import (
	"context"
	"errors"
	"slices"

	"golang.org/x/text/cases"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/NotiFansly/starboard/internal/apperr"
	"github.com/NotiFansly/starboard/internal/models"
)

const maxPermGroupName = 32

var folder = cases.Fold()

// FoldName normalises a permission group name for case-insensitive lookups.
func FoldName(name string) string {
	return folder.String(name)
}

type PermGroupRepo struct{ s *Store }

// List returns the guild's groups ordered by index.
func (r *PermGroupRepo) List(ctx context.Context, guildID string) ([]models.PermGroup, error) {
	var out []models.PermGroup
	err := r.s.run(ctx, func() error {
		return r.s.conn(ctx).Where("guild_id = ?", guildID).Order("position").Find(&out).Error
	})
	return out, err
}

// Get returns (nil, nil) if the group does not exist.
func (r *PermGroupRepo) Get(ctx context.Context, id uint) (*models.PermGroup, error) {
	var g models.PermGroup
	err := r.s.run(ctx, func() error {
		return r.s.conn(ctx).Where("id = ?", id).First(&g).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func (r *PermGroupRepo) GetByName(ctx context.Context, guildID, name string) (*models.PermGroup, error) {
	var g models.PermGroup
	err := r.s.run(ctx, func() error {
		return r.s.conn(ctx).Where("guild_id = ? AND name = ?", guildID, FoldName(name)).First(&g).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// Create appends a group named name at the end of the guild's order.
func (r *PermGroupRepo) Create(ctx context.Context, guildID, name string) (*models.PermGroup, error) {
	name = FoldName(name)
	if name == "" || len([]rune(name)) > maxPermGroupName {
		return nil, apperr.Newf(apperr.Input, "group names must be 1 to %d characters", maxPermGroupName)
	}

	var out *models.PermGroup
	err := r.s.write(ctx, func(tx *Store) error {
		if _, err := tx.Guilds.Ensure(ctx, guildID); err != nil {
			return err
		}
		if cur, err := tx.PermGroups.GetByName(ctx, guildID, name); err != nil {
			return err
		} else if cur != nil {
			return apperr.Newf(apperr.ConfigurationViolation, "a group named %s already exists", name)
		}
		if err := tx.checkCount(ctx, guildID, LimitPermGroups, &models.PermGroup{}); err != nil {
			return err
		}

		var last int
		if err := tx.conn(ctx).Model(&models.PermGroup{}).Where("guild_id = ?", guildID).
			Select("COALESCE(MAX(position), 0)").Scan(&last).Error; err != nil {
			return err
		}
		g := &models.PermGroup{
			GuildID:    guildID,
			Name:       name,
			Index:      last + 1,
			Channels:   datatypes.JSONSlice[string]{},
			Starboards: datatypes.JSONSlice[string]{},
		}
		if err := tx.conn(ctx).Create(g).Error; err != nil {
			return err
		}
		out = g
		return nil
	})
	return out, err
}

// Delete removes the group and its roles, then closes the gap in the order.
func (r *PermGroupRepo) Delete(ctx context.Context, id uint) error {
	return r.s.write(ctx, func(tx *Store) error {
		g, err := tx.PermGroups.Get(ctx, id)
		if err != nil {
			return err
		}
		if g == nil {
			return apperr.Newf(apperr.NotFound, "permission group %d not found", id)
		}
		db := tx.conn(ctx)
		if err := db.Where("permgroup_id = ?", id).Delete(&models.PermRole{}).Error; err != nil {
			return err
		}
		if err := db.Where("id = ?", id).Delete(&models.PermGroup{}).Error; err != nil {
			return err
		}
		return db.Model(&models.PermGroup{}).
			Where("guild_id = ? AND position > ?", g.GuildID, g.Index).
			Update("position", gorm.Expr("position - 1")).Error
	})
}

// Move places the group at index to, shifting the groups in between.
// to is clamped to 1..N.
func (r *PermGroupRepo) Move(ctx context.Context, id uint, to int) (*models.PermGroup, error) {
	var out *models.PermGroup
	err := r.s.write(ctx, func(tx *Store) error {
		g, err := tx.PermGroups.Get(ctx, id)
		if err != nil {
			return err
		}
		if g == nil {
			return apperr.Newf(apperr.NotFound, "permission group %d not found", id)
		}
		var n int64
		if err := tx.conn(ctx).Model(&models.PermGroup{}).Where("guild_id = ?", g.GuildID).Count(&n).Error; err != nil {
			return err
		}
		to = clampIndex(to, int(n))
		if err := shiftRange(tx.conn(ctx).Model(&models.PermGroup{}).Where("guild_id = ? AND id <> ?", g.GuildID, id), g.Index, to); err != nil {
			return err
		}
		if err := tx.conn(ctx).Model(&models.PermGroup{}).Where("id = ?", id).Update("position", to).Error; err != nil {
			return err
		}
		g.Index = to
		out = g
		return nil
	})
	return out, err
}

// SetScope replaces the group's channel and starboard scopes. A nil slice
// leaves that scope unchanged.
func (r *PermGroupRepo) SetScope(ctx context.Context, id uint, channels, starboards []string) (*models.PermGroup, error) {
	cols := map[string]any{}
	if channels != nil {
		setSlice(cols, "channels", Some(channels))
	}
	if starboards != nil {
		setSlice(cols, "starboards", Some(starboards))
	}
	if len(cols) > 0 {
		var affected int64
		err := r.s.run(ctx, func() error {
			res := r.s.conn(ctx).Model(&models.PermGroup{}).Where("id = ?", id).Updates(cols)
			affected = res.RowsAffected
			return res.Error
		})
		if err != nil {
			return nil, err
		}
		if affected == 0 {
			return nil, apperr.Newf(apperr.NotFound, "permission group %d not found", id)
		}
	}
	return r.Get(ctx, id)
}

// dropScope removes a deleted channel or starboard from every group scope.
func (r *PermGroupRepo) dropScope(ctx context.Context, guildID, channelID, starboardID string) error {
	groups, err := r.List(ctx, guildID)
	if err != nil {
		return err
	}
	for _, g := range groups {
		channels := slices.DeleteFunc(slices.Clone([]string(g.Channels)), func(c string) bool { return channelID != "" && c == channelID })
		starboards := slices.DeleteFunc(slices.Clone([]string(g.Starboards)), func(s string) bool { return starboardID != "" && s == starboardID })
		if len(channels) == len(g.Channels) && len(starboards) == len(g.Starboards) {
			continue
		}
		if _, err := r.SetScope(ctx, g.ID, channels, starboards); err != nil {
			return err
		}
	}
	return nil
}

type PermRoleRepo struct{ s *Store }

// List returns the group's roles ordered by index.
func (r *PermRoleRepo) List(ctx context.Context, groupID uint) ([]models.PermRole, error) {
	var out []models.PermRole
	err := r.s.run(ctx, func() error {
		return r.s.conn(ctx).Where("permgroup_id = ?", groupID).Order("position").Find(&out).Error
	})
	return out, err
}

// ForRoles returns the roles of groupIDs whose role id is in roleIDs.
func (r *PermRoleRepo) ForRoles(ctx context.Context, groupIDs []uint, roleIDs []string) ([]models.PermRole, error) {
	if len(groupIDs) == 0 || len(roleIDs) == 0 {
		return nil, nil
	}
	var out []models.PermRole
	err := r.s.run(ctx, func() error {
		return r.s.conn(ctx).Where("permgroup_id IN ? AND role_id IN ?", groupIDs, roleIDs).
			Order("permgroup_id, position").Find(&out).Error
	})
	return out, err
}

func (r *PermRoleRepo) Get(ctx context.Context, groupID uint, roleID string) (*models.PermRole, error) {
	var p models.PermRole
	err := r.s.run(ctx, func() error {
		return r.s.conn(ctx).Where("permgroup_id = ? AND role_id = ?", groupID, roleID).First(&p).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Create appends roleID to the group with every permission inherited.
func (r *PermRoleRepo) Create(ctx context.Context, groupID uint, roleID string) (existed bool, err error) {
	err = r.s.write(ctx, func(tx *Store) error {
		g, err := tx.PermGroups.Get(ctx, groupID)
		if err != nil {
			return err
		}
		if g == nil {
			return apperr.Newf(apperr.NotFound, "permission group %d not found", groupID)
		}
		if cur, err := tx.PermRoles.Get(ctx, groupID, roleID); err != nil {
			return err
		} else if cur != nil {
			existed = true
			return nil
		}

		var count int64
		if err := tx.conn(ctx).Model(&models.PermRole{}).Where("permgroup_id = ?", groupID).Count(&count).Error; err != nil {
			return err
		}
		if n, ok, err := tx.limit(ctx, g.GuildID, LimitPermRoles); err != nil {
			return err
		} else if ok && count >= int64(n) {
			return apperr.Newf(apperr.ConfigurationViolation, "you can only have up to %d roles per group", n)
		}

		var last int
		if err := tx.conn(ctx).Model(&models.PermRole{}).Where("permgroup_id = ?", groupID).
			Select("COALESCE(MAX(position), 0)").Scan(&last).Error; err != nil {
			return err
		}
		return tx.conn(ctx).Create(&models.PermRole{PermGroupID: groupID, RoleID: roleID, Index: last + 1}).Error
	})
	return existed, err
}

type PermRoleUpdate struct {
	AllowCommands Option[models.Tri]
	OnStarboard   Option[models.Tri]
	GiveStars     Option[models.Tri]
	RecvStars     Option[models.Tri]
	GainXP        Option[models.Tri]
	PosRoles      Option[models.Tri]
	XPRoles       Option[models.Tri]
}

func (r *PermRoleRepo) Edit(ctx context.Context, groupID uint, roleID string, u PermRoleUpdate) (*models.PermRole, error) {
	cols := map[string]any{}
	setOpt(cols, "allow_commands", u.AllowCommands)
	setOpt(cols, "on_starboard", u.OnStarboard)
	setOpt(cols, "give_stars", u.GiveStars)
	setOpt(cols, "recv_stars", u.RecvStars)
	setOpt(cols, "gain_xp", u.GainXP)
	setOpt(cols, "pos_roles", u.PosRoles)
	setOpt(cols, "xp_roles", u.XPRoles)

	if len(cols) > 0 {
		var affected int64
		err := r.s.run(ctx, func() error {
			res := r.s.conn(ctx).Model(&models.PermRole{}).
				Where("permgroup_id = ? AND role_id = ?", groupID, roleID).Updates(cols)
			affected = res.RowsAffected
			return res.Error
		})
		if err != nil {
			return nil, err
		}
		if affected == 0 {
			return nil, apperr.Newf(apperr.NotFound, "role %s is not in group %d", roleID, groupID)
		}
	}
	return r.Get(ctx, groupID, roleID)
}

// Delete removes roleID from the group and closes the gap in the order.
func (r *PermRoleRepo) Delete(ctx context.Context, groupID uint, roleID string) error {
	return r.s.write(ctx, func(tx *Store) error {
		p, err := tx.PermRoles.Get(ctx, groupID, roleID)
		if err != nil {
			return err
		}
		if p == nil {
			return apperr.Newf(apperr.NotFound, "role %s is not in group %d", roleID, groupID)
		}
		return tx.PermRoles.deleteRow(ctx, p)
	})
}

func (r *PermRoleRepo) deleteRow(ctx context.Context, p *models.PermRole) error {
	db := r.s.conn(ctx)
	if err := db.Where("permgroup_id = ? AND role_id = ?", p.PermGroupID, p.RoleID).Delete(&models.PermRole{}).Error; err != nil {
		return err
	}
	return db.Model(&models.PermRole{}).
		Where("permgroup_id = ? AND position > ?", p.PermGroupID, p.Index).
		Update("position", gorm.Expr("position - 1")).Error
}

// DeleteRole removes roleID from every group; used when the role is deleted
// on the platform.
func (r *PermRoleRepo) DeleteRole(ctx context.Context, roleID string) error {
	return r.s.write(ctx, func(tx *Store) error {
		var rows []models.PermRole
		if err := tx.conn(ctx).Where("role_id = ?", roleID).Find(&rows).Error; err != nil {
			return err
		}
		for i := range rows {
			if err := tx.PermRoles.deleteRow(ctx, &rows[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// Move places roleID at index to within its group.
func (r *PermRoleRepo) Move(ctx context.Context, groupID uint, roleID string, to int) (*models.PermRole, error) {
	var out *models.PermRole
	err := r.s.write(ctx, func(tx *Store) error {
		p, err := tx.PermRoles.Get(ctx, groupID, roleID)
		if err != nil {
			return err
		}
		if p == nil {
			return apperr.Newf(apperr.NotFound, "role %s is not in group %d", roleID, groupID)
		}
		var n int64
		if err := tx.conn(ctx).Model(&models.PermRole{}).Where("permgroup_id = ?", groupID).Count(&n).Error; err != nil {
			return err
		}
		to = clampIndex(to, int(n))
		q := tx.conn(ctx).Model(&models.PermRole{}).Where("permgroup_id = ? AND role_id <> ?", groupID, roleID)
		if err := shiftRange(q, p.Index, to); err != nil {
			return err
		}
		if err := tx.conn(ctx).Model(&models.PermRole{}).
			Where("permgroup_id = ? AND role_id = ?", groupID, roleID).Update("position", to).Error; err != nil {
			return err
		}
		p.Index = to
		out = p
		return nil
	})
	return out, err
}

func clampIndex(to, n int) int {
	return max(1, min(to, n))
}

// shiftRange moves the rows between from and to one step toward from, so
// that the row leaving from can take to.
func shiftRange(q *gorm.DB, from, to int) error {
	switch {
	case to < from:
		return q.Where("position >= ? AND position < ?", to, from).
			Update("position", gorm.Expr("position + 1")).Error
	case to > from:
		return q.Where("position > ? AND position <= ?", from, to).
			Update("position", gorm.Expr("position - 1")).Error
	}
	return nil
}
