package database

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/NotiFansly/starboard/internal/apperr"
	"github.com/NotiFansly/starboard/internal/models"
)

type XPRoleRepo struct{ s *Store }

// ForGuild lists the guild's xp roles by ascending requirement.
func (r *XPRoleRepo) ForGuild(ctx context.Context, guildID string) ([]models.XPRole, error) {
	var out []models.XPRole
	err := r.s.run(ctx, func() error {
		return r.s.conn(ctx).Where("guild_id = ?", guildID).Order("required, role_id").Find(&out).Error
	})
	return out, err
}

func (r *XPRoleRepo) Get(ctx context.Context, roleID string) (*models.XPRole, error) {
	var x models.XPRole
	err := r.s.run(ctx, func() error {
		return r.s.conn(ctx).Where("role_id = ?", roleID).First(&x).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &x, nil
}

func (r *XPRoleRepo) Create(ctx context.Context, roleID, guildID string, required int) (existed bool, err error) {
	if required <= 0 {
		return false, apperr.New(apperr.ConfigurationViolation, "required xp must be greater than 0")
	}
	err = r.s.write(ctx, func(tx *Store) error {
		if cur, err := tx.XPRoles.Get(ctx, roleID); err != nil {
			return err
		} else if cur != nil {
			existed = true
			return nil
		}
		if pr, err := tx.PosRoles.Get(ctx, roleID); err != nil {
			return err
		} else if pr != nil {
			return apperr.New(apperr.ConfigurationViolation, "that role is already a position role")
		}
		if _, err := tx.Guilds.Ensure(ctx, guildID); err != nil {
			return err
		}
		if err := tx.checkCount(ctx, guildID, LimitXPRoles, &models.XPRole{}); err != nil {
			return err
		}
		return tx.conn(ctx).Create(&models.XPRole{RoleID: roleID, GuildID: guildID, Required: required}).Error
	})
	return existed, err
}

func (r *XPRoleRepo) SetRequired(ctx context.Context, roleID string, required int) error {
	if required <= 0 {
		return apperr.New(apperr.ConfigurationViolation, "required xp must be greater than 0")
	}
	var affected int64
	err := r.s.run(ctx, func() error {
		res := r.s.conn(ctx).Model(&models.XPRole{}).Where("role_id = ?", roleID).Update("required", required)
		affected = res.RowsAffected
		return res.Error
	})
	if err == nil && affected == 0 {
		return apperr.Newf(apperr.NotFound, "xp role %s not found", roleID)
	}
	return err
}

func (r *XPRoleRepo) Delete(ctx context.Context, roleID string) error {
	return r.s.run(ctx, func() error {
		return r.s.conn(ctx).Where("role_id = ?", roleID).Delete(&models.XPRole{}).Error
	})
}

type PosRoleRepo struct{ s *Store }

func (r *PosRoleRepo) ForGuild(ctx context.Context, guildID string) ([]models.PosRole, error) {
	var out []models.PosRole
	err := r.s.run(ctx, func() error {
		return r.s.conn(ctx).Where("guild_id = ?", guildID).Order("role_id").Find(&out).Error
	})
	return out, err
}

func (r *PosRoleRepo) Get(ctx context.Context, roleID string) (*models.PosRole, error) {
	var p models.PosRole
	err := r.s.run(ctx, func() error {
		return r.s.conn(ctx).Where("role_id = ?", roleID).First(&p).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PosRoleRepo) Create(ctx context.Context, roleID, guildID string, maxUsers int) (existed bool, err error) {
	if maxUsers <= 0 {
		return false, apperr.New(apperr.ConfigurationViolation, "max users must be greater than 0")
	}
	err = r.s.write(ctx, func(tx *Store) error {
		if cur, err := tx.PosRoles.Get(ctx, roleID); err != nil {
			return err
		} else if cur != nil {
			existed = true
			return nil
		}
		if xr, err := tx.XPRoles.Get(ctx, roleID); err != nil {
			return err
		} else if xr != nil {
			return apperr.New(apperr.ConfigurationViolation, "that role is already an xp role")
		}
		if _, err := tx.Guilds.Ensure(ctx, guildID); err != nil {
			return err
		}
		if err := tx.checkCount(ctx, guildID, LimitPosRoles, &models.PosRole{}); err != nil {
			return err
		}
		return tx.conn(ctx).Create(&models.PosRole{RoleID: roleID, GuildID: guildID, MaxUsers: maxUsers}).Error
	})
	return existed, err
}

func (r *PosRoleRepo) SetMaxUsers(ctx context.Context, roleID string, maxUsers int) error {
	if maxUsers <= 0 {
		return apperr.New(apperr.ConfigurationViolation, "max users must be greater than 0")
	}
	var affected int64
	err := r.s.run(ctx, func() error {
		res := r.s.conn(ctx).Model(&models.PosRole{}).Where("role_id = ?", roleID).Update("max_users", maxUsers)
		affected = res.RowsAffected
		return res.Error
	})
	if err == nil && affected == 0 {
		return apperr.Newf(apperr.NotFound, "position role %s not found", roleID)
	}
	return err
}

func (r *PosRoleRepo) Delete(ctx context.Context, roleID string) error {
	return r.s.write(ctx, func(tx *Store) error {
		db := tx.conn(ctx)
		if err := db.Where("role_id = ?", roleID).Delete(&models.PosRoleMember{}).Error; err != nil {
			return err
		}
		return db.Where("role_id = ?", roleID).Delete(&models.PosRole{}).Error
	})
}

// Occupants returns the members holding roleID, lowest xp first.
func (r *PosRoleRepo) Occupants(ctx context.Context, roleID string) ([]models.Member, error) {
	var out []models.Member
	err := r.s.run(ctx, func() error {
		return r.s.conn(ctx).Table("posrole_members").
			Select("members.*").
			Joins("JOIN members ON members.user_id = posrole_members.user_id AND members.guild_id = posrole_members.guild_id").
			Where("posrole_members.role_id = ?", roleID).
			Order("members.xp, members.user_id").
			Scan(&out).Error
	})
	return out, err
}

// RolesOf lists the position roles userID holds in guildID.
func (r *PosRoleRepo) RolesOf(ctx context.Context, userID, guildID string) ([]string, error) {
	var out []string
	err := r.s.run(ctx, func() error {
		return r.s.conn(ctx).Model(&models.PosRoleMember{}).
			Where("user_id = ? AND guild_id = ?", userID, guildID).
			Order("role_id").Pluck("role_id", &out).Error
	})
	return out, err
}

func (r *PosRoleRepo) AddMember(ctx context.Context, roleID, userID, guildID string) error {
	return r.s.run(ctx, func() error {
		return r.s.conn(ctx).Clauses(clause.OnConflict{DoNothing: true}).
			Create(&models.PosRoleMember{RoleID: roleID, UserID: userID, GuildID: guildID}).Error
	})
}

func (r *PosRoleRepo) RemoveMember(ctx context.Context, roleID, userID string) error {
	return r.s.run(ctx, func() error {
		return r.s.conn(ctx).Where("role_id = ? AND user_id = ?", roleID, userID).Delete(&models.PosRoleMember{}).Error
	})
}

// DeleteRole forgets every configuration row that references roleID.
func (s *Store) DeleteRole(ctx context.Context, roleID string) error {
	return s.write(ctx, func(tx *Store) error {
		if err := tx.XPRoles.Delete(ctx, roleID); err != nil {
			return err
		}
		if err := tx.PosRoles.Delete(ctx, roleID); err != nil {
			return err
		}
		return tx.PermRoles.DeleteRole(ctx, roleID)
	})
}

// DeleteChannel forgets every configuration row that references channelID.
// It reports whether the channel was a starboard or an autostar channel.
func (s *Store) DeleteChannel(ctx context.Context, guildID, channelID string) (wasStarboard, wasASC bool, err error) {
	err = s.write(ctx, func(tx *Store) error {
		sb, err := tx.Starboards.Get(ctx, channelID)
		if err != nil {
			return err
		}
		if sb != nil {
			wasStarboard = true
			if err := tx.Starboards.Delete(ctx, channelID); err != nil {
				return err
			}
		}
		asc, err := tx.ASChannels.Get(ctx, channelID)
		if err != nil {
			return err
		}
		if asc != nil {
			wasASC = true
			if err := tx.ASChannels.Delete(ctx, channelID); err != nil {
				return err
			}
		}
		return tx.PermGroups.dropScope(ctx, guildID, channelID, "")
	})
	return wasStarboard, wasASC, err
}

type SystemStatRepo struct{ s *Store }

// Add increments the counter stored under key.
func (r *SystemStatRepo) Add(ctx context.Context, key string, delta int64) error {
	if delta == 0 {
		return nil
	}
	now := time.Now()
	return r.s.run(ctx, func() error {
		return r.s.conn(ctx).Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "stat_key"}},
			DoUpdates: clause.Assignments(map[string]any{
				"stat_value": gorm.Expr("system_stats.stat_value + ?", delta),
				"updated_at": now,
			}),
		}).Create(&models.SystemStat{StatKey: key, StatValue: delta, UpdatedAt: now}).Error
	})
}

func (r *SystemStatRepo) Get(ctx context.Context, key string) (int64, error) {
	var st models.SystemStat
	err := r.s.run(ctx, func() error {
		return r.s.conn(ctx).Where("stat_key = ?", key).First(&st).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	return st.StatValue, err
}

// Heartbeat upserts the service status row.
func (r *SystemStatRepo) Heartbeat(ctx context.Context, status *models.ServiceStatus) error {
	return r.s.run(ctx, func() error {
		// GORM's Save works as an upsert for records with a primary key.
		return r.s.conn(ctx).Save(status).Error
	})
}
