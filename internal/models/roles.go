package models

// XPRole is granted once a member's xp reaches Required.
type XPRole struct {
	RoleID   string `gorm:"primaryKey;column:role_id"`
	GuildID  string `gorm:"column:guild_id;not null;index"`
	Required int    `gorm:"column:required"`
}

func (XPRole) TableName() string {
	return "xproles"
}

// PosRole is a leaderboard slot role held by at most MaxUsers members.
type PosRole struct {
	RoleID   string `gorm:"primaryKey;column:role_id"`
	GuildID  string `gorm:"column:guild_id;not null;index"`
	MaxUsers int    `gorm:"column:max_users"`
}

func (PosRole) TableName() string {
	return "posroles"
}

type PosRoleMember struct {
	RoleID  string `gorm:"primaryKey;column:role_id"`
	UserID  string `gorm:"primaryKey;column:user_id"`
	GuildID string `gorm:"column:guild_id;not null;index"`
}

func (PosRoleMember) TableName() string {
	return "posrole_members"
}
