package models

import "time"

// Well-known setting keys.
const (
	SettingSelectedTemplate  = "general.selected_template_id"
	SettingProviderType      = "provider.type"
	SettingProviderModel     = "provider.model"
	SettingProviderBaseURL   = "provider.base_url"
	SettingAnalyticsDistinct = "analytics.distinct_id"
)

// Setting stores a runtime-editable key/value pair. Values here override the
// corresponding config file entries.
type Setting struct {
	Key       string `gorm:"primaryKey;size:128"`
	Value     string `gorm:"type:text"`
	UpdatedAt time.Time
}
