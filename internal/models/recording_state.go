package models

import "time"

// RecordingStateID is the primary key of the singleton recording state row.
const RecordingStateID = 1

// RecordingState mirrors the recorder's ongoing-session status so another
// process can observe lifecycle transitions.
type RecordingState struct {
	ID        uint   `gorm:"primaryKey"`
	SessionID string `gorm:"size:64"`
	Status    string `gorm:"size:32;not null;default:inactive"`
	UpdatedAt time.Time
}
