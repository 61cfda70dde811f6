package models

import "time"

// Run statuses.
const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunCancelled = "cancelled"
	RunFailed    = "failed"
	RunTooShort  = "too_short"
)

// EnhancementRun records one enhancement attempt. A row with status
// "running" doubles as the cross-process run lock for its session.
type EnhancementRun struct {
	ID           string     `gorm:"primaryKey;size:36"`
	SessionID    string     `gorm:"size:64;not null;index:idx_run_session_status"`
	TriggerType  string     `gorm:"size:16;not null"` // manual, template, auto
	TemplateID   *string    `gorm:"size:64"`
	Status       string     `gorm:"size:16;default:running;index:idx_run_session_status"`
	ProviderType string     `gorm:"size:32"`
	Error        string     `gorm:"type:text"`
	StartedAt    time.Time  `gorm:"index"`
	FinishedAt   *time.Time `gorm:"index"`
}
