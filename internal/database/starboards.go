package database

import (
	"context"
	"errors"
	"slices"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/NotiFansly/starboard/internal/apperr"
	"github.com/NotiFansly/starboard/internal/models"
	"github.com/NotiFansly/starboard/internal/textmatch"
)

type StarboardRepo struct{ s *Store }

// Get returns (nil, nil) if id is not a starboard.
func (r *StarboardRepo) Get(ctx context.Context, id string) (*models.Starboard, error) {
	return cachedOne(r.s, starboardKey(id), func() (*models.Starboard, error) {
		var sb models.Starboard
		err := r.s.run(ctx, func() error {
			return r.s.conn(ctx).Where("id = ?", id).First(&sb).Error
		})
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return &sb, nil
	})
}

// ForGuild lists the guild's starboards ordered by id.
func (r *StarboardRepo) ForGuild(ctx context.Context, guildID string) ([]models.Starboard, error) {
	return cachedMany(r.s, starboardsKey(guildID), func() ([]models.Starboard, error) {
		var out []models.Starboard
		err := r.s.run(ctx, func() error {
			return r.s.conn(ctx).Where("guild_id = ?", guildID).Order("id").Find(&out).Error
		})
		return out, err
	})
}

// Create configures channel id as a starboard with default settings.
func (r *StarboardRepo) Create(ctx context.Context, id, guildID string) (existed bool, err error) {
	err = r.s.write(ctx, func(tx *Store) error {
		if _, err := tx.Guilds.Ensure(ctx, guildID); err != nil {
			return err
		}
		if cur, err := tx.Starboards.Get(ctx, id); err != nil {
			return err
		} else if cur != nil {
			existed = true
			return nil
		}
		if asc, err := tx.ASChannels.Get(ctx, id); err != nil {
			return err
		} else if asc != nil {
			return apperr.New(apperr.ConfigurationViolation, "that channel is already an autostar channel")
		}
		if err := tx.checkCount(ctx, guildID, LimitStarboards, &models.Starboard{}); err != nil {
			return err
		}

		res := tx.conn(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(models.NewStarboard(id, guildID))
		existed = res.RowsAffected == 0
		tx.invalidate(starboardKey(id), starboardsKey(guildID))
		return res.Error
	})
	return existed, err
}

type StarboardUpdate struct {
	Required       Option[int]
	RequiredRemove Option[int]
	SelfStar       Option[bool]
	AllowBots      Option[bool]
	LinkEdits      Option[bool]
	LinkDeletes    Option[bool]
	ImagesOnly     Option[bool]
	Explore        Option[bool]
	NoXP           Option[bool]
	Autoreact      Option[bool]
	Ping           Option[bool]
	StarEmojis     Option[[]string]
	DisplayEmoji   Option[string]
	Color          Option[*int]
	Regex          Option[string]
	ExcludeRegex   Option[string]
	ChannelBL      Option[[]string]
	ChannelWL      Option[[]string]
}

func (u StarboardUpdate) columns() map[string]any {
	cols := map[string]any{}
	setOpt(cols, "required", u.Required)
	setOpt(cols, "required_remove", u.RequiredRemove)
	setOpt(cols, "self_star", u.SelfStar)
	setOpt(cols, "allow_bots", u.AllowBots)
	setOpt(cols, "link_edits", u.LinkEdits)
	setOpt(cols, "link_deletes", u.LinkDeletes)
	setOpt(cols, "images_only", u.ImagesOnly)
	setOpt(cols, "explore", u.Explore)
	setOpt(cols, "no_xp", u.NoXP)
	setOpt(cols, "autoreact", u.Autoreact)
	setOpt(cols, "ping", u.Ping)
	setSlice(cols, "star_emojis", u.StarEmojis)
	setOpt(cols, "display_emoji", u.DisplayEmoji)
	setOpt(cols, "color", u.Color)
	setOpt(cols, "regex", u.Regex)
	setOpt(cols, "exclude_regex", u.ExcludeRegex)
	setSlice(cols, "channel_bl", u.ChannelBL)
	setSlice(cols, "channel_wl", u.ChannelWL)
	return cols
}

// ValidateThresholds checks required and required_remove against their
// ranges and against each other.
func ValidateThresholds(required, requiredRemove int) error {
	if required < models.MinRequired || required > models.MaxRequired {
		return apperr.Newf(apperr.ConfigurationViolation, "required must be between %d and %d", models.MinRequired, models.MaxRequired)
	}
	if requiredRemove < models.MinRequiredRemove || requiredRemove > models.MaxRequiredRemove {
		return apperr.Newf(apperr.ConfigurationViolation, "requiredRemove must be between %d and %d", models.MinRequiredRemove, models.MaxRequiredRemove)
	}
	if required <= requiredRemove {
		return apperr.New(apperr.ConfigurationViolation, "required must be greater than requiredRemove")
	}
	return nil
}

func validateRegex(pattern string) error {
	if pattern == "" {
		return nil
	}
	if err := textmatch.Validate(pattern); err != nil {
		return apperr.Wrap(apperr.ConfigurationViolation, "regex", err)
	}
	return nil
}

// Edit applies the set fields of u to the starboard.
func (r *StarboardRepo) Edit(ctx context.Context, id string, u StarboardUpdate) (*models.Starboard, error) {
	var out *models.Starboard
	err := r.s.write(ctx, func(tx *Store) error {
		cur, err := tx.Starboards.Get(ctx, id)
		if err != nil {
			return err
		}
		if cur == nil {
			return apperr.Newf(apperr.NotFound, "starboard %s not found", id)
		}

		required, remove := cur.Required, cur.RequiredRemove
		if u.Required.Set {
			required = u.Required.Val
		}
		if u.RequiredRemove.Set {
			remove = u.RequiredRemove.Val
		}
		if err := ValidateThresholds(required, remove); err != nil {
			return err
		}
		if u.Regex.Set {
			if err := validateRegex(u.Regex.Val); err != nil {
				return err
			}
		}
		if u.ExcludeRegex.Set {
			if err := validateRegex(u.ExcludeRegex.Val); err != nil {
				return err
			}
		}
		if u.StarEmojis.Set {
			if err := tx.checkLen(ctx, cur.GuildID, LimitStarEmojis, len(u.StarEmojis.Val)); err != nil {
				return err
			}
		}

		if cols := u.columns(); len(cols) > 0 {
			if err := tx.conn(ctx).Model(&models.Starboard{}).Where("id = ?", id).Updates(cols).Error; err != nil {
				return err
			}
		}
		tx.invalidate(starboardKey(id), starboardsKey(cur.GuildID))
		out, err = tx.Starboards.Get(ctx, id)
		return err
	})
	return out, err
}

// AddStarEmoji appends emoji to the starboard's star emojis.
func (r *StarboardRepo) AddStarEmoji(ctx context.Context, id, emoji string) (*models.Starboard, error) {
	return r.editEmojis(ctx, id, func(cur []string) ([]string, error) {
		if slices.Contains(cur, emoji) {
			return nil, apperr.Newf(apperr.Input, "%s is already a star emoji", emoji)
		}
		return append(slices.Clone(cur), emoji), nil
	})
}

// RemoveStarEmoji removes emoji from the starboard's star emojis.
func (r *StarboardRepo) RemoveStarEmoji(ctx context.Context, id, emoji string) (*models.Starboard, error) {
	return r.editEmojis(ctx, id, func(cur []string) ([]string, error) {
		i := slices.Index(cur, emoji)
		if i < 0 {
			return nil, apperr.Newf(apperr.Input, "%s is not a star emoji", emoji)
		}
		return slices.Delete(slices.Clone(cur), i, i+1), nil
	})
}

func (r *StarboardRepo) editEmojis(ctx context.Context, id string, fn func([]string) ([]string, error)) (*models.Starboard, error) {
	var out *models.Starboard
	err := r.s.write(ctx, func(tx *Store) error {
		cur, err := tx.Starboards.Get(ctx, id)
		if err != nil {
			return err
		}
		if cur == nil {
			return apperr.Newf(apperr.NotFound, "starboard %s not found", id)
		}
		next, err := fn(cur.StarEmojis)
		if err != nil {
			return err
		}
		out, err = tx.Starboards.Edit(ctx, id, StarboardUpdate{StarEmojis: Some(next)})
		return err
	})
	return out, err
}

// Delete removes the starboard, its mirrored message rows and any
// permission group scope referencing it.
func (r *StarboardRepo) Delete(ctx context.Context, id string) error {
	return r.s.write(ctx, func(tx *Store) error {
		cur, err := tx.Starboards.Get(ctx, id)
		if err != nil || cur == nil {
			return err
		}
		db := tx.conn(ctx)
		if err := db.Where("starboard_id = ?", id).Delete(&models.StarboardMessage{}).Error; err != nil {
			return err
		}
		if err := db.Where("id = ?", id).Delete(&models.Starboard{}).Error; err != nil {
			return err
		}
		if err := tx.PermGroups.dropScope(ctx, cur.GuildID, "", id); err != nil {
			return err
		}
		tx.invalidate(starboardKey(id), starboardsKey(cur.GuildID))
		return nil
	})
}

type ASChannelRepo struct{ s *Store }

// Get returns (nil, nil) if id is not an autostar channel.
func (r *ASChannelRepo) Get(ctx context.Context, id string) (*models.AutoStarChannel, error) {
	return cachedOne(r.s, ascKey(id), func() (*models.AutoStarChannel, error) {
		var asc models.AutoStarChannel
		err := r.s.run(ctx, func() error {
			return r.s.conn(ctx).Where("id = ?", id).First(&asc).Error
		})
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return &asc, nil
	})
}

func (r *ASChannelRepo) ForGuild(ctx context.Context, guildID string) ([]models.AutoStarChannel, error) {
	return cachedMany(r.s, ascsKey(guildID), func() ([]models.AutoStarChannel, error) {
		var out []models.AutoStarChannel
		err := r.s.run(ctx, func() error {
			return r.s.conn(ctx).Where("guild_id = ?", guildID).Order("id").Find(&out).Error
		})
		return out, err
	})
}

func (r *ASChannelRepo) Create(ctx context.Context, id, guildID string) (existed bool, err error) {
	err = r.s.write(ctx, func(tx *Store) error {
		if _, err := tx.Guilds.Ensure(ctx, guildID); err != nil {
			return err
		}
		if cur, err := tx.ASChannels.Get(ctx, id); err != nil {
			return err
		} else if cur != nil {
			existed = true
			return nil
		}
		if sb, err := tx.Starboards.Get(ctx, id); err != nil {
			return err
		} else if sb != nil {
			return apperr.New(apperr.ConfigurationViolation, "that channel is already a starboard")
		}
		if err := tx.checkCount(ctx, guildID, LimitASChannels, &models.AutoStarChannel{}); err != nil {
			return err
		}

		res := tx.conn(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(models.NewAutoStarChannel(id, guildID))
		existed = res.RowsAffected == 0
		tx.invalidate(ascKey(id), ascsKey(guildID))
		return res.Error
	})
	return existed, err
}

type ASChannelUpdate struct {
	Emojis        Option[[]string]
	MinChars      Option[int]
	MaxChars      Option[*int]
	RequireImage  Option[bool]
	DeleteInvalid Option[bool]
	Regex         Option[string]
	ExcludeRegex  Option[string]
}

func (r *ASChannelRepo) Edit(ctx context.Context, id string, u ASChannelUpdate) (*models.AutoStarChannel, error) {
	var out *models.AutoStarChannel
	err := r.s.write(ctx, func(tx *Store) error {
		cur, err := tx.ASChannels.Get(ctx, id)
		if err != nil {
			return err
		}
		if cur == nil {
			return apperr.Newf(apperr.NotFound, "autostar channel %s not found", id)
		}

		minChars, maxChars := cur.MinChars, cur.MaxChars
		if u.MinChars.Set {
			minChars = u.MinChars.Val
		}
		if u.MaxChars.Set {
			maxChars = u.MaxChars.Val
		}
		if minChars < 0 || minChars > models.MaxASCChars {
			return apperr.Newf(apperr.ConfigurationViolation, "minChars must be between 0 and %d", models.MaxASCChars)
		}
		if maxChars != nil {
			if *maxChars < 0 || *maxChars > models.MaxASCChars {
				return apperr.Newf(apperr.ConfigurationViolation, "maxChars must be between 0 and %d", models.MaxASCChars)
			}
			if *maxChars < minChars {
				return apperr.New(apperr.ConfigurationViolation, "maxChars cannot be less than minChars")
			}
		}
		if u.Regex.Set {
			if err := validateRegex(u.Regex.Val); err != nil {
				return err
			}
		}
		if u.ExcludeRegex.Set {
			if err := validateRegex(u.ExcludeRegex.Val); err != nil {
				return err
			}
		}
		if u.Emojis.Set {
			if err := tx.checkLen(ctx, cur.GuildID, LimitASEmojis, len(u.Emojis.Val)); err != nil {
				return err
			}
		}

		cols := map[string]any{}
		setSlice(cols, "emojis", u.Emojis)
		setOpt(cols, "min_chars", u.MinChars)
		setOpt(cols, "max_chars", u.MaxChars)
		setOpt(cols, "require_image", u.RequireImage)
		setOpt(cols, "delete_invalid", u.DeleteInvalid)
		setOpt(cols, "regex", u.Regex)
		setOpt(cols, "exclude_regex", u.ExcludeRegex)
		if len(cols) > 0 {
			if err := tx.conn(ctx).Model(&models.AutoStarChannel{}).Where("id = ?", id).Updates(cols).Error; err != nil {
				return err
			}
		}
		tx.invalidate(ascKey(id), ascsKey(cur.GuildID))
		out, err = tx.ASChannels.Get(ctx, id)
		return err
	})
	return out, err
}

func (r *ASChannelRepo) AddEmoji(ctx context.Context, id, emoji string) (*models.AutoStarChannel, error) {
	cur, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if cur == nil {
		return nil, apperr.Newf(apperr.NotFound, "autostar channel %s not found", id)
	}
	if slices.Contains(cur.Emojis, emoji) {
		return nil, apperr.Newf(apperr.Input, "%s is already an autostar emoji", emoji)
	}
	return r.Edit(ctx, id, ASChannelUpdate{Emojis: Some(append(slices.Clone([]string(cur.Emojis)), emoji))})
}

func (r *ASChannelRepo) RemoveEmoji(ctx context.Context, id, emoji string) (*models.AutoStarChannel, error) {
	cur, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if cur == nil {
		return nil, apperr.Newf(apperr.NotFound, "autostar channel %s not found", id)
	}
	i := slices.Index(cur.Emojis, emoji)
	if i < 0 {
		return nil, apperr.Newf(apperr.Input, "%s is not an autostar emoji", emoji)
	}
	return r.Edit(ctx, id, ASChannelUpdate{Emojis: Some(slices.Delete(slices.Clone([]string(cur.Emojis)), i, i+1))})
}

func (r *ASChannelRepo) Delete(ctx context.Context, id string) error {
	return r.s.write(ctx, func(tx *Store) error {
		cur, err := tx.ASChannels.Get(ctx, id)
		if err != nil || cur == nil {
			return err
		}
		if err := tx.conn(ctx).Where("id = ?", id).Delete(&models.AutoStarChannel{}).Error; err != nil {
			return err
		}
		tx.invalidate(ascKey(id), ascsKey(cur.GuildID))
		return nil
	})
}

// checkCount rejects a new row of model when the guild is at its limit.
func (s *Store) checkCount(ctx context.Context, guildID, key string, model any) error {
	n, ok, err := s.limit(ctx, guildID, key)
	if err != nil || !ok {
		return err
	}
	var count int64
	if err := s.conn(ctx).Model(model).Where("guild_id = ?", guildID).Count(&count).Error; err != nil {
		return err
	}
	if count >= int64(n) {
		return apperr.Newf(apperr.ConfigurationViolation, "you can only have up to %d %s", n, key)
	}
	return nil
}

func (s *Store) checkLen(ctx context.Context, guildID, key string, length int) error {
	n, ok, err := s.limit(ctx, guildID, key)
	if err != nil || !ok {
		return err
	}
	if length > n {
		return apperr.Newf(apperr.ConfigurationViolation, "you can only have up to %d %s", n, key)
	}
	return nil
}
