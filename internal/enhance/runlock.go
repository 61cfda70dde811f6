package enhance

import (
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/quill/internal/models"
	"gorm.io/gorm"
)

// AcquireRunLock records the start of a run and claims the session's
// cross-process run lock. Running rows older than staleAfter are expired
// first, so a crashed process cannot hold a session forever. It returns
// ErrRunInProgress when another live run holds the lock.
func AcquireRunLock(db *gorm.DB, rc RunContext, staleAfter time.Duration) (*models.EnhancementRun, error) {
	var run *models.EnhancementRun

	err := db.Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		if err := tx.Model(&models.EnhancementRun{}).
			Where("session_id = ? AND status = ? AND started_at < ?", rc.SessionID, models.RunRunning, now.Add(-staleAfter)).
			Updates(map[string]interface{}{
				"status":      models.RunFailed,
				"error":       "expired",
				"finished_at": now,
			}).Error; err != nil {
			return fmt.Errorf("expire stale runs: %w", err)
		}

		var existing models.EnhancementRun
		result := tx.Where("session_id = ? AND status = ?", rc.SessionID, models.RunRunning).First(&existing)
		if result.Error == nil {
			return fmt.Errorf("%w (run %s since %s)", ErrRunInProgress, existing.ID, existing.StartedAt.Format(time.RFC3339))
		}
		if !errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return fmt.Errorf("check existing run: %w", result.Error)
		}

		run = &models.EnhancementRun{
			ID:           rc.RunID,
			SessionID:    rc.SessionID,
			TriggerType:  string(rc.Trigger),
			Status:       models.RunRunning,
			ProviderType: rc.Connection.Type,
			StartedAt:    rc.StartedAt,
		}
		if id := rc.Template.ID(); id != "" {
			run.TemplateID = &id
		}
		if err := tx.Create(run).Error; err != nil {
			return fmt.Errorf("create run: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("enhance: acquire run lock: %w", err)
	}
	return run, nil
}

// SetRunTemplate records the template a run resolved to. An empty
// templateID clears it.
func SetRunTemplate(db *gorm.DB, runID, templateID string) error {
	var value interface{}
	if templateID != "" {
		value = templateID
	}
	if err := db.Model(&models.EnhancementRun{}).Where("id = ?", runID).Update("template_id", value).Error; err != nil {
		return fmt.Errorf("enhance: set run template: %w", err)
	}
	return nil
}

// FinishRun releases the run lock with a terminal status.
func FinishRun(db *gorm.DB, runID, status, errMsg string) error {
	result := db.Model(&models.EnhancementRun{}).
		Where("id = ? AND status = ?", runID, models.RunRunning).
		Updates(map[string]interface{}{
			"status":      status,
			"error":       errMsg,
			"finished_at": time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("enhance: finish run: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("enhance: finish run: run %s not found or not running", runID)
	}
	return nil
}

// RunsSince returns runs started at or after since, oldest first.
func RunsSince(db *gorm.DB, since time.Time) ([]models.EnhancementRun, error) {
	var runs []models.EnhancementRun
	if err := db.Where("started_at >= ?", since).Order("started_at ASC").Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("enhance: runs since %s: %w", since.Format(time.RFC3339), err)
	}
	return runs, nil
}

// SessionRuns returns a session's most recent runs, newest first.
func SessionRuns(db *gorm.DB, sessionID string, limit int) ([]models.EnhancementRun, error) {
	var runs []models.EnhancementRun
	q := db.Where("session_id = ?", sessionID).Order("started_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("enhance: runs for %s: %w", sessionID, err)
	}
	return runs, nil
}
