package dashboard

import (
	"context"
	"time"

	"github.com/zulandar/quill/internal/enhance"
	"github.com/zulandar/quill/internal/models"
	"gorm.io/gorm"
)

// SessionRow holds session data for list views.
type SessionRow struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	ActiveView string    `json:"active_view"`
	Enhanced   bool      `json:"enhanced"`
	LastRun    string    `json:"last_run,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// SessionSummary returns the most recently updated sessions with the
// status of each one's latest run.
func SessionSummary(ctx context.Context, db *gorm.DB, limit int) ([]SessionRow, error) {
	var sessions []models.Session
	q := db.WithContext(ctx).
		Select("id", "title", "active_view", "enhanced_note", "updated_at").
		Order("updated_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&sessions).Error; err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return []SessionRow{}, nil
	}

	ids := make([]string, len(sessions))
	for i, s := range sessions {
		ids[i] = s.ID
	}
	var runs []models.EnhancementRun
	if err := db.WithContext(ctx).
		Select("session_id", "status", "started_at").
		Where("session_id IN ?", ids).
		Order("started_at DESC").
		Find(&runs).Error; err != nil {
		return nil, err
	}
	lastRun := make(map[string]string, len(sessions))
	for _, r := range runs {
		if _, ok := lastRun[r.SessionID]; !ok {
			lastRun[r.SessionID] = r.Status
		}
	}

	rows := make([]SessionRow, len(sessions))
	for i, s := range sessions {
		rows[i] = SessionRow{
			ID:         s.ID,
			Title:      s.Title,
			ActiveView: s.ActiveView,
			Enhanced:   s.EnhancedNote != "",
			LastRun:    lastRun[s.ID],
			UpdatedAt:  s.UpdatedAt,
		}
	}
	return rows, nil
}

// RunRow holds one enhancement run for display.
type RunRow struct {
	ID         string     `json:"id"`
	Trigger    string     `json:"trigger"`
	TemplateID string     `json:"template_id,omitempty"`
	Status     string     `json:"status"`
	Provider   string     `json:"provider,omitempty"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	DurationMS int64      `json:"duration_ms,omitempty"`
}

// SessionDetail is the full view of one session.
type SessionDetail struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	ActiveView     string    `json:"active_view"`
	RawNote        string    `json:"raw_note"`
	PreMeetingNote string    `json:"pre_meeting_note"`
	EnhancedNote   string    `json:"enhanced_note"`
	WordCount      int64     `json:"word_count"`
	Participants   []string  `json:"participants"`
	Runs           []RunRow  `json:"runs"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// recentRuns caps the run history in a session detail.
const recentRuns = 10

// LoadSessionDetail assembles the detail view for sess.
func LoadSessionDetail(ctx context.Context, db *gorm.DB, sess *models.Session) (*SessionDetail, error) {
	d := &SessionDetail{
		ID:             sess.ID,
		Title:          sess.Title,
		ActiveView:     sess.ActiveView,
		RawNote:        sess.RawNote,
		PreMeetingNote: sess.PreMeetingNote,
		EnhancedNote:   sess.EnhancedNote,
		UpdatedAt:      sess.UpdatedAt,
		Participants:   []string{},
		Runs:           []RunRow{},
	}

	if err := db.WithContext(ctx).Model(&models.Word{}).
		Where("session_id = ?", sess.ID).Count(&d.WordCount).Error; err != nil {
		return nil, err
	}

	var names []string
	if err := db.WithContext(ctx).Model(&models.Participant{}).
		Where("session_id = ?", sess.ID).Order("id ASC").Pluck("name", &names).Error; err != nil {
		return nil, err
	}
	d.Participants = append(d.Participants, names...)

	runs, err := enhance.SessionRuns(db.WithContext(ctx), sess.ID, recentRuns)
	if err != nil {
		return nil, err
	}
	for _, r := range runs {
		row := RunRow{
			ID:         r.ID,
			Trigger:    r.TriggerType,
			Status:     r.Status,
			Provider:   r.ProviderType,
			Error:      r.Error,
			StartedAt:  r.StartedAt,
			FinishedAt: r.FinishedAt,
		}
		if r.TemplateID != nil {
			row.TemplateID = *r.TemplateID
		}
		if r.FinishedAt != nil {
			row.DurationMS = r.FinishedAt.Sub(r.StartedAt).Milliseconds()
		}
		d.Runs = append(d.Runs, row)
	}
	return d, nil
}
