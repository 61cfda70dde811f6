// Package connection resolves the active generation provider from config
// defaults and runtime settings, and builds a client for it.
package connection

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/zulandar/quill/internal/config"
	"github.com/zulandar/quill/internal/llm"
	"github.com/zulandar/quill/internal/llm/anthropic"
	"github.com/zulandar/quill/internal/llm/llamacpp"
	"github.com/zulandar/quill/internal/models"
	"gorm.io/gorm"
)

// Connection is a snapshot of the provider a run talks to.
type Connection struct {
	Type            string
	Model           string
	OnboardingModel string
	BaseURL         string
	APIKey          string
	MaxTokens       int
}

// Local reports whether the connection is an on-device provider.
func (c Connection) Local() bool { return c.Type == config.ProviderLocal }

// Resolver merges provider settings stored in the database over the config
// file defaults. Current returns the last refreshed value.
type Resolver struct {
	db  *gorm.DB
	cfg config.ProviderConfig

	mu      sync.RWMutex
	current *Connection
}

// NewResolver creates a Resolver. db may be nil, in which case only config
// values are used.
func NewResolver(db *gorm.DB, cfg config.ProviderConfig) *Resolver {
	return &Resolver{db: db, cfg: cfg}
}

// Refresh reloads provider settings from the database.
func (r *Resolver) Refresh(ctx context.Context) error {
	conn := Connection{
		Type:            r.cfg.Type,
		Model:           r.cfg.Model,
		OnboardingModel: r.cfg.OnboardingModel,
		BaseURL:         r.cfg.BaseURL,
		MaxTokens:       r.cfg.MaxTokens,
	}

	if r.db != nil {
		var rows []models.Setting
		keys := []string{models.SettingProviderType, models.SettingProviderModel, models.SettingProviderBaseURL}
		if err := r.db.WithContext(ctx).Where("`key` IN ?", keys).Find(&rows).Error; err != nil {
			return fmt.Errorf("connection: load settings: %w", err)
		}
		for _, s := range rows {
			if s.Value == "" {
				continue
			}
			switch s.Key {
			case models.SettingProviderType:
				conn.Type = s.Value
			case models.SettingProviderModel:
				conn.Model = s.Value
			case models.SettingProviderBaseURL:
				conn.BaseURL = s.Value
			}
		}
	}

	switch conn.Type {
	case config.ProviderLocal, config.ProviderAnthropic:
	default:
		return fmt.Errorf("connection: unknown provider type %q", conn.Type)
	}
	if conn.OnboardingModel == "" {
		conn.OnboardingModel = conn.Model
	}
	if r.cfg.APIKeyEnv != "" {
		conn.APIKey = os.Getenv(r.cfg.APIKeyEnv)
	}

	r.mu.Lock()
	r.current = &conn
	r.mu.Unlock()
	return nil
}

// Current returns the resolved connection, refreshing first if nothing has
// been loaded yet.
func (r *Resolver) Current(ctx context.Context) (Connection, error) {
	r.mu.RLock()
	cur := r.current
	r.mu.RUnlock()
	if cur != nil {
		return *cur, nil
	}
	if err := r.Refresh(ctx); err != nil {
		return Connection{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return *r.current, nil
}

// Factory builds a generation client for a connection.
type Factory func(Connection) (llm.Client, error)

// NewClient is the default Factory.
func NewClient(c Connection) (llm.Client, error) {
	switch c.Type {
	case config.ProviderLocal:
		if c.BaseURL == "" {
			return nil, fmt.Errorf("connection: local provider requires base_url")
		}
		return llamacpp.New(c.BaseURL), nil
	case config.ProviderAnthropic:
		return anthropic.New(c.BaseURL, c.APIKey), nil
	default:
		return nil, fmt.Errorf("connection: unknown provider type %q", c.Type)
	}
}
