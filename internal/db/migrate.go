package db

import (
	"fmt"

	"github.com/zulandar/quill/internal/config"
	"github.com/zulandar/quill/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AllModels returns every GORM model for migration.
func AllModels() []interface{} {
	return []interface{}{
		&models.Session{},
		&models.Word{},
		&models.Participant{},
		&models.Template{},
		&models.TemplateSection{},
		&models.Setting{},
		&models.EnhancementRun{},
		&models.RecordingState{},
		&models.AnalyticsEvent{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}

// SeedTemplates upserts Template rows from configuration. Sections of a
// seeded template are replaced wholesale so their order always matches the
// config file.
func SeedTemplates(db *gorm.DB, templates []config.TemplateConfig) error {
	for _, tc := range templates {
		err := db.Transaction(func(tx *gorm.DB) error {
			tmpl := models.Template{
				ID:          tc.ID,
				Title:       tc.Title,
				Description: tc.Description,
			}
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "id"}},
				DoUpdates: clause.AssignmentColumns([]string{"title", "description", "updated_at"}),
			}).Create(&tmpl).Error; err != nil {
				return err
			}
			if err := tx.Where("template_id = ?", tc.ID).Delete(&models.TemplateSection{}).Error; err != nil {
				return err
			}
			for i, sc := range tc.Sections {
				sec := models.TemplateSection{
					TemplateID:  tc.ID,
					Position:    i,
					Title:       sc.Title,
					Description: sc.Description,
				}
				if err := tx.Create(&sec).Error; err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("db: seed template %q: %w", tc.ID, err)
		}
	}
	return nil
}

// SeedRecordingState ensures the singleton recording state row exists.
func SeedRecordingState(db *gorm.DB) error {
	state := models.RecordingState{ID: models.RecordingStateID, Status: "inactive"}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&state).Error; err != nil {
		return fmt.Errorf("db: seed recording state: %w", err)
	}
	return nil
}
