package models

import "time"

// ThrottleEntry is a counter with an expiry, keyed by a hashed client identifier
type ThrottleEntry struct {
	Key       string    `gorm:"column:throttle_key;primarykey;size:160" json:"key"`
	Count     int       `gorm:"not null;default:0" json:"count"`
	ExpiresAt time.Time `gorm:"not null;index" json:"expires_at"`
}

// TableName specifies the table name
func (ThrottleEntry) TableName() string {
	return "throttle_entries"
}

// IsExpired checks if the window has passed
func (t *ThrottleEntry) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}
