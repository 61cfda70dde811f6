package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/zulandar/quill/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Template returns a template with its sections in position order.
func (s *Store) Template(ctx context.Context, id string) (*models.Template, error) {
	var t models.Template
	err := s.db.WithContext(ctx).
		Preload("Sections", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Where("id = ?", id).First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: template %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("session: template %s: %w", id, err)
	}
	return &t, nil
}

// Templates lists every template with sections.
func (s *Store) Templates(ctx context.Context) ([]models.Template, error) {
	var out []models.Template
	if err := s.db.WithContext(ctx).
		Preload("Sections", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Order("id ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("session: templates: %w", err)
	}
	return out, nil
}

// Setting returns a runtime setting, or "" when unset.
func (s *Store) Setting(ctx context.Context, key string) (string, error) {
	var row models.Setting
	err := s.db.WithContext(ctx).Where("`key` = ?", key).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("session: setting %s: %w", key, err)
	}
	return row.Value, nil
}

// SetSetting upserts a runtime setting.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	row := models.Setting{Key: key, Value: value}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&row).Error; err != nil {
		return fmt.Errorf("session: set setting %s: %w", key, err)
	}
	return nil
}
