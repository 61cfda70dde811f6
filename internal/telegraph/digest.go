package telegraph

import (
	"fmt"
	"time"

	"github.com/zulandar/quill/internal/enhance"
	"github.com/zulandar/quill/internal/models"
	"gorm.io/gorm"
)

// maxDigestTitles caps the note titles listed in one digest.
const maxDigestTitles = 10

// DigestReport holds enhancement run metrics for a period.
type DigestReport struct {
	PeriodStart time.Time
	PeriodEnd   time.Time
	Completed   int
	Failed      int
	Cancelled   int
	TooShort    int
	Auto        int      // runs fired by the recording trigger
	Titles      []string // titles of notes completed in the period
}

// Empty reports whether nothing happened in the period.
func (r *DigestReport) Empty() bool {
	return r.Completed+r.Failed+r.Cancelled+r.TooShort == 0
}

// BuildDigest summarises the runs that started in [since, until). Returns
// nil when there was no activity.
func BuildDigest(db *gorm.DB, since, until time.Time) (*DigestReport, error) {
	runs, err := enhance.RunsSince(db, since)
	if err != nil {
		return nil, fmt.Errorf("telegraph: digest: %w", err)
	}

	report := &DigestReport{PeriodStart: since, PeriodEnd: until}
	var completedIDs []string
	seen := make(map[string]bool)
	for _, r := range runs {
		if !r.StartedAt.Before(until) {
			continue
		}
		switch r.Status {
		case models.RunCompleted:
			report.Completed++
			if !seen[r.SessionID] {
				seen[r.SessionID] = true
				completedIDs = append(completedIDs, r.SessionID)
			}
		case models.RunFailed:
			report.Failed++
		case models.RunCancelled:
			report.Cancelled++
		case models.RunTooShort:
			report.TooShort++
		default:
			continue
		}
		if r.TriggerType == string(enhance.TriggerAuto) {
			report.Auto++
		}
	}

	if report.Empty() {
		return nil, nil
	}

	if len(completedIDs) > 0 {
		var sessions []models.Session
		if err := db.Select("id", "title").
			Where("id IN ? AND title <> ?", completedIDs, "").
			Order("updated_at DESC").
			Limit(maxDigestTitles).
			Find(&sessions).Error; err != nil {
			return nil, fmt.Errorf("telegraph: digest titles: %w", err)
		}
		for _, s := range sessions {
			report.Titles = append(report.Titles, s.Title)
		}
	}

	return report, nil
}
