package models

import (
	"time"
)

// ServiceStatus is the heartbeat row a cluster keeps fresh while running.
type ServiceStatus struct {
	ServiceName   string    `gorm:"primaryKey;column:service_name"`
	Status        string    `gorm:"column:status"`
	LastHeartbeat time.Time `gorm:"column:last_heartbeat"`
	Details       string    `gorm:"column:details"`
}

func (ServiceStatus) TableName() string {
	return "service_status"
}

// SystemStat holds key-value pairs for system-wide statistics.
type SystemStat struct {
	StatKey   string    `gorm:"primaryKey;column:stat_key"`
	StatValue int64     `gorm:"column:stat_value"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (SystemStat) TableName() string {
	return "system_stats"
}

// All lists every table for migration.
func All() []any {
	return []any{
		&Guild{}, &User{}, &Member{},
		&Starboard{}, &AutoStarChannel{},
		&Message{}, &StarboardMessage{}, &Reaction{}, &ReactionUser{},
		&PermGroup{}, &PermRole{},
		&XPRole{}, &PosRole{}, &PosRoleMember{},
		&ServiceStatus{}, &SystemStat{},
	}
}
