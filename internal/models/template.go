package models

import "time"

// Template is a user-authored note layout. Section order is meaningful.
type Template struct {
	ID          string `gorm:"primaryKey;size:64"`
	Title       string `gorm:"size:255;not null"`
	Description string `gorm:"type:text"`
	CreatedAt   time.Time
	UpdatedAt   time.Time

	Sections []TemplateSection `gorm:"foreignKey:TemplateID"`
}

// TemplateSection is one heading of a template.
type TemplateSection struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	TemplateID  string `gorm:"size:64;not null;index:idx_section_template_pos"`
	Position    int    `gorm:"not null;index:idx_section_template_pos"`
	Title       string `gorm:"size:255"`
	Description string `gorm:"type:text"`
}
