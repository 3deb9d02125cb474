package models

import (
	"slices"

	"gorm.io/datatypes"
)

// Message is an original author message that has been reacted to or
// posted in an autostar channel.
type Message struct {
	ID          string                      `gorm:"primaryKey;column:id"`
	GuildID     string                      `gorm:"column:guild_id;index;not null"`
	ChannelID   string                      `gorm:"column:channel_id;not null"`
	AuthorID    string                      `gorm:"column:author_id;index"`
	IsNSFW      bool                        `gorm:"column:is_nsfw"`
	Points      int                         `gorm:"column:points"`
	Forced      datatypes.JSONSlice[string] `gorm:"column:forced"`
	Trashed     bool                        `gorm:"column:trashed"`
	TrashReason *string                     `gorm:"column:trash_reason"`
	Frozen      bool                        `gorm:"column:frozen"`
}

func (Message) TableName() string {
	return "messages"
}

func (m *Message) IsForced(starboardID string) bool {
	return slices.Contains(m.Forced, starboardID)
}

// StarboardMessage is the mirrored copy of a Message in a starboard channel.
type StarboardMessage struct {
	ID          string `gorm:"primaryKey;column:id"`
	OrigID      string `gorm:"column:orig_id;not null;uniqueIndex:idx_sbmsg_orig_starboard"`
	StarboardID string `gorm:"column:starboard_id;not null;uniqueIndex:idx_sbmsg_orig_starboard;index"`
	Points      int    `gorm:"column:points"`
	Trashed     bool   `gorm:"column:trashed"`
}

func (StarboardMessage) TableName() string {
	return "starboard_messages"
}

type Reaction struct {
	ID        uint   `gorm:"primaryKey;autoIncrement;column:id"`
	MessageID string `gorm:"column:message_id;not null;uniqueIndex:idx_reaction_message_emoji"`
	Emoji     string `gorm:"column:emoji;not null;uniqueIndex:idx_reaction_message_emoji"`
}

func (Reaction) TableName() string {
	return "reactions"
}

type ReactionUser struct {
	ReactionID uint   `gorm:"primaryKey;autoIncrement:false;column:reaction_id"`
	UserID     string `gorm:"primaryKey;column:user_id;index"`
}

func (ReactionUser) TableName() string {
	return "reaction_users"
}

// Voter is one (emoji, user) pair recorded on a message.
type Voter struct {
	Emoji  string
	UserID string
}
