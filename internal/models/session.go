package models

import "time"

// Note views.
const (
	ViewRaw      = "raw"
	ViewEnhanced = "enhanced"
)

// Session is one recorded meeting: the user's raw note, the pre-meeting
// draft, the generated enhanced note and the transcript.
type Session struct {
	ID             string `gorm:"primaryKey;size:64"`
	Title          string `gorm:"size:255"`
	RawNote        string `gorm:"type:text"` // display markup
	EnhancedNote   string `gorm:"type:text"` // display markup
	PreMeetingNote string `gorm:"type:text"` // display markup
	ActiveView     string `gorm:"size:16;default:raw"`
	CreatedAt      time.Time
	UpdatedAt      time.Time

	Words        []Word        `gorm:"foreignKey:SessionID"`
	Participants []Participant `gorm:"foreignKey:SessionID"`
}

// Word is a single transcript token with speaker and timing.
type Word struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	SessionID string `gorm:"size:64;not null;index:idx_word_session_seq"`
	Seq       int    `gorm:"not null;index:idx_word_session_seq"`
	Text      string `gorm:"size:255;not null"`
	Speaker   int
	StartMs   int64
	EndMs     int64
}

// Participant is a person attending a session.
type Participant struct {
	ID           uint   `gorm:"primaryKey;autoIncrement"`
	SessionID    string `gorm:"size:64;not null;index"`
	Name         string `gorm:"size:128;not null"`
	Email        string `gorm:"size:255"`
	Organization string `gorm:"size:128"`
}
