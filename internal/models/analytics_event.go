package models

import "time"

// AnalyticsEvent is a locally recorded product event.
type AnalyticsEvent struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	Name       string `gorm:"size:64;not null;index"`
	DistinctID string `gorm:"size:64;not null"`
	SessionID  string `gorm:"size:64;index"`
	Properties string `gorm:"type:text"` // JSON object
	CreatedAt  time.Time
}
