package database

import (
	"context"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/NotiFansly/starboard/internal/apperr"
	"github.com/NotiFansly/starboard/internal/models"
)

type GuildRepo struct{ s *Store }

// Get returns (nil, nil) if the guild has no row yet.
func (r *GuildRepo) Get(ctx context.Context, id string) (*models.Guild, error) {
	return cachedOne(r.s, guildKey(id), func() (*models.Guild, error) {
		var g models.Guild
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
	})
}

// Create inserts a guild with default settings. existed is true when the
// row was already there.
func (r *GuildRepo) Create(ctx context.Context, id string) (existed bool, err error) {
	err = r.s.run(ctx, func() error {
		res := r.s.conn(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(models.NewGuild(id))
		existed = res.RowsAffected == 0
		return res.Error
	})
	r.s.invalidate(guildKey(id))
	return existed, err
}

// Ensure returns the guild, creating it first if needed.
func (r *GuildRepo) Ensure(ctx context.Context, id string) (*models.Guild, error) {
	g, err := r.Get(ctx, id)
	if err != nil || g != nil {
		return g, err
	}
	if _, err := r.Create(ctx, id); err != nil {
		return nil, err
	}
	return r.Get(ctx, id)
}

type GuildUpdate struct {
	LogChannelID     Option[*string]
	LevelChannelID   Option[*string]
	PingUser         Option[bool]
	PremiumEnd       Option[*time.Time]
	Prefixes         Option[[]string]
	DisabledCommands Option[[]string]
	XPCooldown       Option[int]
	XPCooldownPer    Option[int]
	XPCooldownOn     Option[bool]
	StackXPRoles     Option[bool]
	StackPosRoles    Option[bool]
	Locale           Option[string]
	QAEnabled        Option[bool]
	QAForce          Option[string]
	QAUnforce        Option[string]
	QAFreeze         Option[string]
	QATrash          Option[string]
	QARecount        Option[string]
	QASave           Option[string]
}

func (u GuildUpdate) validate() error {
	if u.XPCooldown.Set && u.XPCooldown.Val < 1 {
		return apperr.New(apperr.ConfigurationViolation, "xp_cooldown must be at least 1")
	}
	if u.XPCooldownPer.Set && (u.XPCooldownPer.Val < 0 || u.XPCooldownPer.Val > 600) {
		return apperr.New(apperr.ConfigurationViolation, "xp_cooldown_per must be between 0 and 600")
	}
	return nil
}

func (u GuildUpdate) columns() map[string]any {
	cols := map[string]any{}
	setOpt(cols, "log_channel_id", u.LogChannelID)
	setOpt(cols, "level_channel_id", u.LevelChannelID)
	setOpt(cols, "ping_user", u.PingUser)
	setOpt(cols, "premium_end", u.PremiumEnd)
	setSlice(cols, "prefixes", u.Prefixes)
	setSlice(cols, "disabled_commands", u.DisabledCommands)
	setOpt(cols, "xp_cooldown", u.XPCooldown)
	setOpt(cols, "xp_cooldown_per", u.XPCooldownPer)
	setOpt(cols, "xp_cooldown_on", u.XPCooldownOn)
	setOpt(cols, "stack_xp_roles", u.StackXPRoles)
	setOpt(cols, "stack_pos_roles", u.StackPosRoles)
	setOpt(cols, "locale", u.Locale)
	setOpt(cols, "qa_enabled", u.QAEnabled)
	setOpt(cols, "qa_force", u.QAForce)
	setOpt(cols, "qa_unforce", u.QAUnforce)
	setOpt(cols, "qa_freeze", u.QAFreeze)
	setOpt(cols, "qa_trash", u.QATrash)
	setOpt(cols, "qa_recount", u.QARecount)
	setOpt(cols, "qa_save", u.QASave)
	return cols
}

// Edit applies the set fields of u, creating the guild first if needed.
func (r *GuildRepo) Edit(ctx context.Context, id string, u GuildUpdate) (*models.Guild, error) {
	if err := u.validate(); err != nil {
		return nil, err
	}
	var out *models.Guild
	err := r.s.write(ctx, func(tx *Store) error {
		if _, err := tx.Guilds.Ensure(ctx, id); err != nil {
			return err
		}
		if cols := u.columns(); len(cols) > 0 {
			if err := tx.conn(ctx).Model(&models.Guild{}).Where("id = ?", id).Updates(cols).Error; err != nil {
				return err
			}
		}
		tx.invalidate(guildKey(id))
		var err error
		out, err = tx.Guilds.Get(ctx, id)
		return err
	})
	return out, err
}

// Delete removes the guild and every row that belongs to it.
func (r *GuildRepo) Delete(ctx context.Context, id string) error {
	return r.s.write(ctx, func(tx *Store) error {
		db := tx.conn(ctx)

		var sbIDs, ascIDs, msgIDs []string
		var groupIDs []uint
		if err := db.Model(&models.Starboard{}).Where("guild_id = ?", id).Pluck("id", &sbIDs).Error; err != nil {
			return err
		}
		if err := db.Model(&models.AutoStarChannel{}).Where("guild_id = ?", id).Pluck("id", &ascIDs).Error; err != nil {
			return err
		}
		if err := db.Model(&models.Message{}).Where("guild_id = ?", id).Pluck("id", &msgIDs).Error; err != nil {
			return err
		}
		if err := db.Model(&models.PermGroup{}).Where("guild_id = ?", id).Pluck("id", &groupIDs).Error; err != nil {
			return err
		}

		if err := tx.Messages.deleteRows(ctx, msgIDs); err != nil {
			return err
		}
		if len(sbIDs) > 0 {
			if err := db.Where("starboard_id IN ?", sbIDs).Delete(&models.StarboardMessage{}).Error; err != nil {
				return err
			}
		}
		if len(groupIDs) > 0 {
			if err := db.Where("permgroup_id IN ?", groupIDs).Delete(&models.PermRole{}).Error; err != nil {
				return err
			}
		}
		for _, m := range []any{
			&models.Starboard{}, &models.AutoStarChannel{}, &models.PermGroup{},
			&models.XPRole{}, &models.PosRole{}, &models.PosRoleMember{}, &models.Member{},
		} {
			if err := db.Where("guild_id = ?", id).Delete(m).Error; err != nil {
				return err
			}
		}
		if err := db.Where("id = ?", id).Delete(&models.Guild{}).Error; err != nil {
			return err
		}

		keys := []string{guildKey(id), starboardsKey(id), ascsKey(id)}
		for _, sb := range sbIDs {
			keys = append(keys, starboardKey(sb))
		}
		for _, a := range ascIDs {
			keys = append(keys, ascKey(a))
		}
		tx.invalidate(keys...)
		return nil
	})
}

type UserRepo struct{ s *Store }

// Get returns (nil, nil) for unknown users.
func (r *UserRepo) Get(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	err := r.s.run(ctx, func() error {
		return r.s.conn(ctx).Where("id = ?", id).First(&u).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *UserRepo) Create(ctx context.Context, id string, isBot bool) (existed bool, err error) {
	err = r.s.run(ctx, func() error {
		res := r.s.conn(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(models.NewUser(id, isBot))
		existed = res.RowsAffected == 0
		return res.Error
	})
	return existed, err
}

func (r *UserRepo) Ensure(ctx context.Context, id string, isBot bool) (*models.User, error) {
	if _, err := r.Create(ctx, id, isBot); err != nil {
		return nil, err
	}
	return r.Get(ctx, id)
}

type UserUpdate struct {
	Locale       Option[string]
	Public       Option[bool]
	Credits      Option[int]
	Votes        Option[int]
	PatronStatus Option[models.PatronStatus]
}

func (r *UserRepo) Edit(ctx context.Context, id string, u UserUpdate) (*models.User, error) {
	if (u.Credits.Set && u.Credits.Val < 0) || (u.Votes.Set && u.Votes.Val < 0) {
		return nil, apperr.New(apperr.ConfigurationViolation, "credits and votes cannot be negative")
	}
	cols := map[string]any{}
	setOpt(cols, "locale", u.Locale)
	setOpt(cols, "public", u.Public)
	setOpt(cols, "credits", u.Credits)
	setOpt(cols, "votes", u.Votes)
	setOpt(cols, "patron_status", u.PatronStatus)

	if len(cols) > 0 {
		var affected int64
		err := r.s.run(ctx, func() error {
			res := r.s.conn(ctx).Model(&models.User{}).Where("id = ?", id).Updates(cols)
			affected = res.RowsAffected
			return res.Error
		})
		if err != nil {
			return nil, err
		}
		if affected == 0 {
			return nil, apperr.Newf(apperr.NotFound, "user %s not found", id)
		}
	}
	return r.Get(ctx, id)
}

type MemberRepo struct{ s *Store }

// Get returns (nil, nil) when the member has no row yet.
func (r *MemberRepo) Get(ctx context.Context, userID, guildID string) (*models.Member, error) {
	var m models.Member
	err := r.s.run(ctx, func() error {
		return r.s.conn(ctx).Where("user_id = ? AND guild_id = ?", userID, guildID).First(&m).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *MemberRepo) Ensure(ctx context.Context, userID, guildID string) (*models.Member, error) {
	err := r.s.run(ctx, func() error {
		return r.s.conn(ctx).Clauses(clause.OnConflict{DoNothing: true}).
			Create(&models.Member{UserID: userID, GuildID: guildID}).Error
	})
	if err != nil {
		return nil, err
	}
	return r.Get(ctx, userID, guildID)
}

// IncrementStars bumps stars_given for the giver and stars_received for the receiver.
func (r *MemberRepo) IncrementStars(ctx context.Context, guildID, giverID, receiverID string, delta int) error {
	return r.s.write(ctx, func(tx *Store) error {
		if _, err := tx.Members.Ensure(ctx, giverID, guildID); err != nil {
			return err
		}
		if _, err := tx.Members.Ensure(ctx, receiverID, guildID); err != nil {
			return err
		}
		db := tx.conn(ctx)
		if err := db.Model(&models.Member{}).Where("user_id = ? AND guild_id = ?", giverID, guildID).
			Update("stars_given", gorm.Expr("stars_given + ?", delta)).Error; err != nil {
			return err
		}
		return db.Model(&models.Member{}).Where("user_id = ? AND guild_id = ?", receiverID, guildID).
			Update("stars_received", gorm.Expr("stars_received + ?", delta)).Error
	})
}

// AddXP adds delta to the member's xp, floored at zero, and recomputes the
// level. It returns the level before the change and the updated row.
func (r *MemberRepo) AddXP(ctx context.Context, userID, guildID string, delta int) (oldLevel int, m *models.Member, err error) {
	err = r.s.write(ctx, func(tx *Store) error {
		if _, err := tx.Members.Ensure(ctx, userID, guildID); err != nil {
			return err
		}
		db := tx.conn(ctx)
		row := db.Model(&models.Member{}).Where("user_id = ? AND guild_id = ?", userID, guildID).Session(&gorm.Session{})
		// The relative update locks the row until commit, so the level read
		// below is the one that went with the old xp.
		if err := row.Update("xp", gorm.Expr("CASE WHEN xp + ? < 0 THEN 0 ELSE xp + ? END", delta, delta)).Error; err != nil {
			return err
		}
		var cur models.Member
		if err := db.Where("user_id = ? AND guild_id = ?", userID, guildID).Take(&cur).Error; err != nil {
			return err
		}
		oldLevel = cur.Level
		cur.Level = models.LevelForXP(cur.XP)
		if cur.Level != oldLevel {
			if err := row.Update("level", cur.Level).Error; err != nil {
				return err
			}
		}
		m = &cur
		return nil
	})
	return oldLevel, m, err
}

// SetXP overwrites the member's xp and level.
func (r *MemberRepo) SetXP(ctx context.Context, userID, guildID string, xp int) (*models.Member, error) {
	var out *models.Member
	err := r.s.write(ctx, func(tx *Store) error {
		cur, err := tx.Members.Ensure(ctx, userID, guildID)
		if err != nil {
			return err
		}
		cur.XP = max(0, xp)
		cur.Level = models.LevelForXP(cur.XP)
		out = cur
		return tx.conn(ctx).Model(&models.Member{}).Where("user_id = ? AND guild_id = ?", userID, guildID).
			Updates(map[string]any{"xp": cur.XP, "level": cur.Level}).Error
	})
	return out, err
}

func (r *MemberRepo) Delete(ctx context.Context, userID, guildID string) error {
	return r.s.write(ctx, func(tx *Store) error {
		db := tx.conn(ctx)
		if err := db.Where("user_id = ? AND guild_id = ?", userID, guildID).Delete(&models.PosRoleMember{}).Error; err != nil {
			return err
		}
		return db.Where("user_id = ? AND guild_id = ?", userID, guildID).Delete(&models.Member{}).Error
	})
}

func setOpt[T any](cols map[string]any, col string, o Option[T]) {
	if o.Set {
		cols[col] = o.Val
	}
}

func setSlice(cols map[string]any, col string, o Option[[]string]) {
	if o.Set {
		v := o.Val
		if v == nil {
			v = []string{}
		}
		cols[col] = datatypes.JSONSlice[string](v)
	}
}
