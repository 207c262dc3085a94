package model

import (
	"time"

	"gorm.io/datatypes"
)

// SessionState is one session cell. Version 0 with an empty payload means the row only
// carries the turn counter or a lease and the session has no committed state yet.
type SessionState struct {
	SessionId     string         `gorm:"type:varchar(128);primaryKey"`
	Version       int64          `gorm:"not null;default:0"`
	Payload       datatypes.JSON `gorm:"type:jsonb"`
	Turn          int64          `gorm:"not null;default:0"`
	LockToken     *string        `gorm:"type:varchar(64)"`
	LockExpiresAt *time.Time
	CreatedAt     time.Time `gorm:"autoCreateTime"`
	UpdatedAt     time.Time `gorm:"index"`
}

func (SessionState) TableName() string {
	return "session_states"
}
