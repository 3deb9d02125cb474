package models

import (
	"slices"

	"gorm.io/datatypes"
)

const (
	MinRequired       = 1
	MaxRequired       = 500
	MinRequiredRemove = -1
	MaxRequiredRemove = 495
	MaxASCChars       = 4000
)

// Starboard is a channel configured as the destination for mirrored messages.
type Starboard struct {
	ID      string `gorm:"primaryKey;column:id"`
	GuildID string `gorm:"column:guild_id;index;not null"`

	Required       int  `gorm:"column:required"`
	RequiredRemove int  `gorm:"column:required_remove"`
	SelfStar       bool `gorm:"column:self_star"`
	AllowBots      bool `gorm:"column:allow_bots"`
	LinkEdits      bool `gorm:"column:link_edits"`
	LinkDeletes    bool `gorm:"column:link_deletes"`
	ImagesOnly     bool `gorm:"column:images_only"`
	Explore        bool `gorm:"column:explore"`
	NoXP           bool `gorm:"column:no_xp"`
	Autoreact      bool `gorm:"column:autoreact"`
	Ping           bool `gorm:"column:ping"`

	StarEmojis   datatypes.JSONSlice[string] `gorm:"column:star_emojis"`
	DisplayEmoji string                      `gorm:"column:display_emoji"`
	Color        *int                        `gorm:"column:color"`

	Regex        string `gorm:"column:regex"`
	ExcludeRegex string `gorm:"column:exclude_regex"`

	ChannelBL datatypes.JSONSlice[string] `gorm:"column:channel_bl"`
	ChannelWL datatypes.JSONSlice[string] `gorm:"column:channel_wl"`
}

func (Starboard) TableName() string {
	return "starboards"
}

// NewStarboard returns a starboard row carrying the default settings.
func NewStarboard(id, guildID string) *Starboard {
	return &Starboard{
		ID:             id,
		GuildID:        guildID,
		Required:       3,
		RequiredRemove: 0,
		AllowBots:      true,
		LinkEdits:      true,
		Explore:        true,
		Autoreact:      true,
		StarEmojis:     datatypes.JSONSlice[string]{"⭐"},
		DisplayEmoji:   "⭐",
		ChannelBL:      datatypes.JSONSlice[string]{},
		ChannelWL:      datatypes.JSONSlice[string]{},
	}
}

func (s *Starboard) IsStarEmoji(emoji string) bool {
	return slices.Contains(s.StarEmojis, emoji)
}

// AllowsChannel applies the whitelist when it is set, the blacklist otherwise.
func (s *Starboard) AllowsChannel(channelID string) bool {
	if len(s.ChannelWL) > 0 {
		return slices.Contains(s.ChannelWL, channelID)
	}
	return !slices.Contains(s.ChannelBL, channelID)
}

// AutoStarChannel is a source channel whose posts are validated and seeded with reactions.
type AutoStarChannel struct {
	ID            string                      `gorm:"primaryKey;column:id"`
	GuildID       string                      `gorm:"column:guild_id;index;not null"`
	Emojis        datatypes.JSONSlice[string] `gorm:"column:emojis"`
	MinChars      int                         `gorm:"column:min_chars"`
	MaxChars      *int                        `gorm:"column:max_chars"`
	RequireImage  bool                        `gorm:"column:require_image"`
	DeleteInvalid bool                        `gorm:"column:delete_invalid"`
	Regex         string                      `gorm:"column:regex"`
	ExcludeRegex  string                      `gorm:"column:exclude_regex"`
}

func (AutoStarChannel) TableName() string {
	return "aschannels"
}

func NewAutoStarChannel(id, guildID string) *AutoStarChannel {
	return &AutoStarChannel{
		ID:      id,
		GuildID: guildID,
		Emojis:  datatypes.JSONSlice[string]{"⭐"},
	}
}
