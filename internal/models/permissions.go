package models

import (
	"gorm.io/datatypes"
)

// Tri is a tri-valued permission override.
type Tri int8

const (
	Inherit Tri = iota
	Allow
	Deny
)

// Over returns the value after applying the override to cur.
func (t Tri) Over(cur bool) bool {
	switch t {
	case Allow:
		return true
	case Deny:
		return false
	default:
		return cur
	}
}

func TriOf(b bool) Tri {
	if b {
		return Allow
	}
	return Deny
}

func (t Tri) String() string {
	switch t {
	case Allow:
		return "allow"
	case Deny:
		return "deny"
	default:
		return "inherit"
	}
}

// PermGroup is an ordered bundle of role overrides scoped to channels and starboards.
// An empty scope means every channel or starboard.
type PermGroup struct {
	ID         uint                        `gorm:"primaryKey;autoIncrement;column:id"`
	GuildID    string                      `gorm:"column:guild_id;not null;index"`
	Name       string                      `gorm:"column:name;not null"`
	Index      int                         `gorm:"column:position;not null"`
	Channels   datatypes.JSONSlice[string] `gorm:"column:channels"`
	Starboards datatypes.JSONSlice[string] `gorm:"column:starboards"`
}

func (PermGroup) TableName() string {
	return "permgroups"
}

type PermRole struct {
	PermGroupID uint   `gorm:"primaryKey;autoIncrement:false;column:permgroup_id"`
	RoleID      string `gorm:"primaryKey;column:role_id;index"`
	Index       int    `gorm:"column:position;not null"`

	AllowCommands Tri `gorm:"column:allow_commands"`
	OnStarboard   Tri `gorm:"column:on_starboard"`
	GiveStars     Tri `gorm:"column:give_stars"`
	RecvStars     Tri `gorm:"column:recv_stars"`
	GainXP        Tri `gorm:"column:gain_xp"`
	PosRoles      Tri `gorm:"column:pos_roles"`
	XPRoles       Tri `gorm:"column:xp_roles"`
}

func (PermRole) TableName() string {
	return "permroles"
}
