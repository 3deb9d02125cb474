package models

import (
	"time"

	"gorm.io/datatypes"
)

// Guild holds per-server settings. Rows are created lazily on first reference.
type Guild struct {
	ID               string                      `gorm:"primaryKey;column:id"`
	Prefixes         datatypes.JSONSlice[string] `gorm:"column:prefixes"`
	DisabledCommands datatypes.JSONSlice[string] `gorm:"column:disabled_commands"`
	LogChannelID     *string                     `gorm:"column:log_channel_id"`
	LevelChannelID   *string                     `gorm:"column:level_channel_id"`
	PingUser         bool                        `gorm:"column:ping_user"`
	PremiumEnd       *time.Time                  `gorm:"column:premium_end"`

	XPCooldown    int  `gorm:"column:xp_cooldown"`
	XPCooldownPer int  `gorm:"column:xp_cooldown_per"`
	XPCooldownOn  bool `gorm:"column:xp_cooldown_on"`
	StackXPRoles  bool `gorm:"column:stack_xp_roles"`
	StackPosRoles bool `gorm:"column:stack_pos_roles"`

	Locale string `gorm:"column:locale"`

	QAEnabled bool   `gorm:"column:qa_enabled"`
	QAForce   string `gorm:"column:qa_force"`
	QAUnforce string `gorm:"column:qa_unforce"`
	QAFreeze  string `gorm:"column:qa_freeze"`
	QATrash   string `gorm:"column:qa_trash"`
	QARecount string `gorm:"column:qa_recount"`
	QASave    string `gorm:"column:qa_save"`
}

func (Guild) TableName() string {
	return "guilds"
}

// NewGuild returns a guild row carrying the default settings.
func NewGuild(id string) *Guild {
	return &Guild{
		ID:               id,
		Prefixes:         datatypes.JSONSlice[string]{"sb!"},
		DisabledCommands: datatypes.JSONSlice[string]{},
		XPCooldown:       3,
		XPCooldownPer:    60,
		XPCooldownOn:     true,
		StackXPRoles:     false,
		StackPosRoles:    false,
		Locale:           "en_US",
		QAEnabled:        true,
		QAFreeze:         "❄️",
		QAForce:          "🔒",
		QAUnforce:        "🔓",
		QATrash:          "🗑️",
		QARecount:        "🔃",
		QASave:           "📥",
	}
}

// QuickAction names a moderator shortcut bound to an emoji.
type QuickAction string

const (
	QAActionForce   QuickAction = "force"
	QAActionUnforce QuickAction = "unforce"
	QAActionFreeze  QuickAction = "freeze"
	QAActionTrash   QuickAction = "trash"
	QAActionRecount QuickAction = "recount"
	QAActionSave    QuickAction = "save"
)

// QuickActionFor returns the action bound to emoji, if any.
func (g *Guild) QuickActionFor(emoji string) (QuickAction, bool) {
	switch emoji {
	case "":
		return "", false
	case g.QAForce:
		return QAActionForce, true
	case g.QAUnforce:
		return QAActionUnforce, true
	case g.QAFreeze:
		return QAActionFreeze, true
	case g.QATrash:
		return QAActionTrash, true
	case g.QARecount:
		return QAActionRecount, true
	case g.QASave:
		return QAActionSave, true
	}
	return "", false
}

func (g *Guild) IsPremium(now time.Time) bool {
	return g.PremiumEnd != nil && g.PremiumEnd.After(now)
}

type PatronStatus string

const (
	PatronNo       PatronStatus = "no"
	PatronDeclined PatronStatus = "declined"
	PatronYes      PatronStatus = "yes"
)

type User struct {
	ID               string       `gorm:"primaryKey;column:id"`
	IsBot            bool         `gorm:"column:is_bot"`
	Locale           string       `gorm:"column:locale"`
	Public           bool         `gorm:"column:public"`
	Credits          int          `gorm:"column:credits"`
	Votes            int          `gorm:"column:votes"`
	PatronStatus     PatronStatus `gorm:"column:patron_status"`
	LastPatreonTotal float64      `gorm:"column:last_patreon_total"`
	LastKnownMonthly float64      `gorm:"column:last_known_monthly"`
	DonationTotal    float64      `gorm:"column:donation_total"`
}

func (User) TableName() string {
	return "users"
}

func NewUser(id string, isBot bool) *User {
	return &User{
		ID:           id,
		IsBot:        isBot,
		Locale:       "en_US",
		Public:       true,
		PatronStatus: PatronNo,
	}
}

// Member is a user's standing within one guild.
type Member struct {
	UserID        string `gorm:"primaryKey;column:user_id"`
	GuildID       string `gorm:"primaryKey;column:guild_id;index"`
	StarsGiven    int    `gorm:"column:stars_given"`
	StarsReceived int    `gorm:"column:stars_received"`
	XP            int    `gorm:"column:xp;index"`
	Level         int    `gorm:"column:level"`
}

func (Member) TableName() string {
	return "members"
}
