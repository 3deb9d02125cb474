package database

import (
	"context"
	"errors"
	"slices"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/NotiFansly/starboard/internal/apperr"
	"github.com/NotiFansly/starboard/internal/models"
)

const deleteChunk = 500

type MessageRepo struct{ s *Store }

// Get returns (nil, nil) for messages without a row.
func (r *MessageRepo) Get(ctx context.Context, id string) (*models.Message, error) {
	var m models.Message
	err := r.s.run(ctx, func() error {
		return r.s.conn(ctx).Where("id = ?", id).First(&m).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// Create inserts m unless a row already exists. An id that belongs to a
// starboard message is rejected.
func (r *MessageRepo) Create(ctx context.Context, m *models.Message) (existed bool, err error) {
	err = r.s.write(ctx, func(tx *Store) error {
		if sbm, err := tx.SBMessages.Get(ctx, m.ID); err != nil {
			return err
		} else if sbm != nil {
			return apperr.Newf(apperr.ConfigurationViolation, "message %s is a starboard message", m.ID)
		}
		if _, err := tx.Guilds.Ensure(ctx, m.GuildID); err != nil {
			return err
		}
		row := *m
		if row.Forced == nil {
			row.Forced = datatypes.JSONSlice[string]{}
		}
		res := tx.conn(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
		existed = res.RowsAffected == 0
		return res.Error
	})
	return existed, err
}

// Ensure returns the stored message, creating it from m first if needed.
func (r *MessageRepo) Ensure(ctx context.Context, m *models.Message) (*models.Message, error) {
	cur, err := r.Get(ctx, m.ID)
	if err != nil || cur != nil {
		return cur, err
	}
	if _, err := r.Create(ctx, m); err != nil {
		return nil, err
	}
	return r.Get(ctx, m.ID)
}

type MessageUpdate struct {
	Points      Option[int]
	Forced      Option[[]string]
	Trashed     Option[bool]
	TrashReason Option[*string]
	Frozen      Option[bool]
	IsNSFW      Option[bool]
}

func (r *MessageRepo) Edit(ctx context.Context, id string, u MessageUpdate) (*models.Message, error) {
	cols := map[string]any{}
	setOpt(cols, "points", u.Points)
	setSlice(cols, "forced", u.Forced)
	setOpt(cols, "trashed", u.Trashed)
	setOpt(cols, "trash_reason", u.TrashReason)
	setOpt(cols, "frozen", u.Frozen)
	setOpt(cols, "is_nsfw", u.IsNSFW)

	if len(cols) > 0 {
		var affected int64
		err := r.s.run(ctx, func() error {
			res := r.s.conn(ctx).Model(&models.Message{}).Where("id = ?", id).Updates(cols)
			affected = res.RowsAffected
			return res.Error
		})
		if err != nil {
			return nil, err
		}
		if affected == 0 {
			return nil, apperr.Newf(apperr.NotFound, "message %s not found", id)
		}
	}
	return r.Get(ctx, id)
}

// EditForced rewrites the message's forced starboards with fn. The row is
// locked between the read and the write.
func (r *MessageRepo) EditForced(ctx context.Context, id string, fn func(forced []string) []string) (*models.Message, error) {
	var out *models.Message
	err := r.s.write(ctx, func(tx *Store) error {
		var cur models.Message
		err := tx.conn(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).Take(&cur).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.Newf(apperr.NotFound, "message %s not found", id)
		}
		if err != nil {
			return err
		}
		forced := fn(slices.Clone([]string(cur.Forced)))
		if forced == nil {
			forced = []string{}
		}
		cur.Forced = datatypes.JSONSlice[string](forced)
		if err := tx.conn(ctx).Model(&models.Message{}).Where("id = ?", id).
			Update("forced", cur.Forced).Error; err != nil {
			return err
		}
		out = &cur
		return nil
	})
	return out, err
}

// Delete removes the message with its reactions and starboard message rows.
func (r *MessageRepo) Delete(ctx context.Context, id string) error {
	return r.s.write(ctx, func(tx *Store) error {
		return tx.Messages.deleteRows(ctx, []string{id})
	})
}

func (r *MessageRepo) deleteRows(ctx context.Context, ids []string) error {
	db := r.s.conn(ctx)
	for start := 0; start < len(ids); start += deleteChunk {
		chunk := ids[start:min(start+deleteChunk, len(ids))]

		var reactionIDs []uint
		if err := db.Model(&models.Reaction{}).Where("message_id IN ?", chunk).Pluck("id", &reactionIDs).Error; err != nil {
			return err
		}
		if len(reactionIDs) > 0 {
			if err := db.Where("reaction_id IN ?", reactionIDs).Delete(&models.ReactionUser{}).Error; err != nil {
				return err
			}
		}
		if err := db.Where("message_id IN ?", chunk).Delete(&models.Reaction{}).Error; err != nil {
			return err
		}
		if err := db.Where("orig_id IN ?", chunk).Delete(&models.StarboardMessage{}).Error; err != nil {
			return err
		}
		if err := db.Where("id IN ?", chunk).Delete(&models.Message{}).Error; err != nil {
			return err
		}
	}
	return nil
}

type SBMessageRepo struct{ s *Store }

// Get returns (nil, nil) if id is not a starboard message.
func (r *SBMessageRepo) Get(ctx context.Context, id string) (*models.StarboardMessage, error) {
	var m models.StarboardMessage
	err := r.s.run(ctx, func() error {
		return r.s.conn(ctx).Where("id = ?", id).First(&m).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// Lookup finds the mirror of origID on starboardID.
func (r *SBMessageRepo) Lookup(ctx context.Context, origID, starboardID string) (*models.StarboardMessage, error) {
	var m models.StarboardMessage
	err := r.s.run(ctx, func() error {
		return r.s.conn(ctx).Where("orig_id = ? AND starboard_id = ?", origID, starboardID).First(&m).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *SBMessageRepo) ForOrig(ctx context.Context, origID string) ([]models.StarboardMessage, error) {
	var out []models.StarboardMessage
	err := r.s.run(ctx, func() error {
		return r.s.conn(ctx).Where("orig_id = ?", origID).Order("starboard_id").Find(&out).Error
	})
	return out, err
}

// Create records a posted mirror. A second mirror for the same original and
// starboard is reported as existed.
func (r *SBMessageRepo) Create(ctx context.Context, m *models.StarboardMessage) (existed bool, err error) {
	err = r.s.write(ctx, func(tx *Store) error {
		if orig, err := tx.Messages.Get(ctx, m.ID); err != nil {
			return err
		} else if orig != nil {
			return apperr.Newf(apperr.ConfigurationViolation, "message %s is an original message", m.ID)
		}
		res := tx.conn(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(m)
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			existed = true
			return nil
		}
		existed = res.RowsAffected == 0
		return res.Error
	})
	return existed, err
}

func (r *SBMessageRepo) Update(ctx context.Context, id string, points int, trashed bool) error {
	return r.s.run(ctx, func() error {
		return r.s.conn(ctx).Model(&models.StarboardMessage{}).Where("id = ?", id).
			Updates(map[string]any{"points": points, "trashed": trashed}).Error
	})
}

func (r *SBMessageRepo) Delete(ctx context.Context, id string) error {
	return r.s.run(ctx, func() error {
		return r.s.conn(ctx).Where("id = ?", id).Delete(&models.StarboardMessage{}).Error
	})
}

type ReactionRepo struct{ s *Store }

func (r *ReactionRepo) ensure(ctx context.Context, messageID, emoji string) (uint, error) {
	db := r.s.conn(ctx)
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.Reaction{MessageID: messageID, Emoji: emoji}).Error; err != nil {
		return 0, err
	}
	var re models.Reaction
	if err := db.Where("message_id = ? AND emoji = ?", messageID, emoji).First(&re).Error; err != nil {
		return 0, err
	}
	return re.ID, nil
}

// Add records userID reacting with emoji. added is false when the vote was
// already recorded.
func (r *ReactionRepo) Add(ctx context.Context, messageID, emoji, userID string) (added bool, err error) {
	err = r.s.write(ctx, func(tx *Store) error {
		id, err := tx.Reactions.ensure(ctx, messageID, emoji)
		if err != nil {
			return err
		}
		res := tx.conn(ctx).Clauses(clause.OnConflict{DoNothing: true}).
			Create(&models.ReactionUser{ReactionID: id, UserID: userID})
		added = res.RowsAffected > 0
		return res.Error
	})
	return added, err
}

// Remove deletes userID's emoji vote. removed is false when none existed.
func (r *ReactionRepo) Remove(ctx context.Context, messageID, emoji, userID string) (removed bool, err error) {
	err = r.s.write(ctx, func(tx *Store) error {
		var re models.Reaction
		err := tx.conn(ctx).Where("message_id = ? AND emoji = ?", messageID, emoji).First(&re).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		res := tx.conn(ctx).Where("reaction_id = ? AND user_id = ?", re.ID, userID).Delete(&models.ReactionUser{})
		removed = res.RowsAffected > 0
		return res.Error
	})
	return removed, err
}

// SetUsers replaces every recorded voter of emoji on messageID.
func (r *ReactionRepo) SetUsers(ctx context.Context, messageID, emoji string, userIDs []string) error {
	return r.s.write(ctx, func(tx *Store) error {
		id, err := tx.Reactions.ensure(ctx, messageID, emoji)
		if err != nil {
			return err
		}
		db := tx.conn(ctx)
		if err := db.Where("reaction_id = ?", id).Delete(&models.ReactionUser{}).Error; err != nil {
			return err
		}
		if len(userIDs) == 0 {
			return nil
		}
		rows := make([]models.ReactionUser, 0, len(userIDs))
		for _, u := range userIDs {
			rows = append(rows, models.ReactionUser{ReactionID: id, UserID: u})
		}
		return db.Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(rows, 100).Error
	})
}

// ClearEmoji forgets every vote with emoji on messageID.
func (r *ReactionRepo) ClearEmoji(ctx context.Context, messageID, emoji string) error {
	return r.s.write(ctx, func(tx *Store) error {
		var re models.Reaction
		err := tx.conn(ctx).Where("message_id = ? AND emoji = ?", messageID, emoji).First(&re).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := tx.conn(ctx).Where("reaction_id = ?", re.ID).Delete(&models.ReactionUser{}).Error; err != nil {
			return err
		}
		return tx.conn(ctx).Delete(&re).Error
	})
}

// Voters lists every (emoji, user) vote recorded on messageID.
func (r *ReactionRepo) Voters(ctx context.Context, messageID string) ([]models.Voter, error) {
	var out []models.Voter
	err := r.s.run(ctx, func() error {
		return r.s.conn(ctx).Table("reaction_users").
			Select("reactions.emoji AS emoji, reaction_users.user_id AS user_id").
			Joins("JOIN reactions ON reactions.id = reaction_users.reaction_id").
			Where("reactions.message_id = ?", messageID).
			Order("reactions.emoji, reaction_users.user_id").
			Scan(&out).Error
	})
	return out, err
}
