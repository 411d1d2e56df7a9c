package models

import "time"

// SessionRecord is the history row kept for each session. It is an audit
// trail only; sessions are never restored from it.
type SessionRecord struct {
	ID          string     `json:"id" gorm:"type:varchar(64);primaryKey"`
	Code        string     `json:"code" gorm:"type:varchar(6);index"`
	CreatedBy   string     `json:"created_by" gorm:"type:varchar(128)"`
	DeviceCount int        `json:"device_count"`
	CreatedAt   time.Time  `json:"created_at" gorm:"index"`
	ExpiresAt   time.Time  `json:"expires_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty" gorm:"index"`
	EndReason   string     `json:"end_reason,omitempty" gorm:"type:varchar(32)"`
}
