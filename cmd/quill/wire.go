package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/zulandar/quill/internal/analytics"
	"github.com/zulandar/quill/internal/config"
	"github.com/zulandar/quill/internal/connection"
	"github.com/zulandar/quill/internal/db"
	"github.com/zulandar/quill/internal/enhance"
	"github.com/zulandar/quill/internal/events"
	"github.com/zulandar/quill/internal/logging"
	"github.com/zulandar/quill/internal/notify"
	"github.com/zulandar/quill/internal/session"
	"github.com/zulandar/quill/internal/telegraph"
	"github.com/zulandar/quill/internal/telegraph/discord"
	"github.com/zulandar/quill/internal/telegraph/slack"
	"gorm.io/gorm"
)

const defaultConfigPath = "quill.yaml"

func addConfigFlag(cmd *cobra.Command, configPath *string) {
	cmd.Flags().StringVarP(configPath, "config", "c", defaultConfigPath, "path to Quill config file (.yaml or .toml)")
}

// loadConfig reads .env (if present), loads the config file and configures
// logging from it.
func loadConfig(configPath string) (*config.Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	logging.Init(level, cfg.Logging.Format)
	return cfg, nil
}

func connectFromConfig(configPath string) (*config.Config, *gorm.DB, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}

	gormDB, err := db.Connect(cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to %s: %w", cfg.Database.Driver, err)
	}

	return cfg, gormDB, nil
}

// app is the fully wired orchestration stack shared by the commands that
// run enhancements.
type app struct {
	cfg      *config.Config
	db       *gorm.DB
	store    *session.Store
	hub      *events.Hub
	conns    *connection.Resolver
	titler   *enhance.Titler
	orch     *enhance.Orchestrator
	recorder *analytics.Recorder // nil when analytics is disabled
	chat     *telegraph.Notifier // nil without chat adapters
	adapters []telegraph.Adapter
}

type appOpts struct {
	ConfigPath string
	Chat       bool // connect Slack/Discord adapters for notices and digests
}

func newApp(ctx context.Context, opts appOpts) (*app, error) {
	cfg, gormDB, err := connectFromConfig(opts.ConfigPath)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:   cfg,
		db:    gormDB,
		store: session.NewStore(gormDB),
		hub:   events.NewHub(),
		conns: connection.NewResolver(gormDB, cfg.Provider),
	}

	if opts.Chat {
		a.adapters = connectAdapters(ctx, cfg.Notify)
		if len(a.adapters) > 0 {
			a.chat = telegraph.NewNotifier(a.adapters...)
		}
	}

	var sink analytics.Sink = analytics.Nop{}
	if cfg.AnalyticsEnabled() {
		a.recorder = analytics.NewRecorder(gormDB, cfg.Analytics.DistinctID, cfg.Analytics.BufferSize)
		sink = a.recorder
	}

	a.titler, err = enhance.NewTitler(enhance.TitlerOpts{
		Config:      cfg,
		Store:       a.store,
		Connections: a.conns,
		Hub:         a.hub,
	})
	if err != nil {
		return nil, err
	}

	a.orch, err = enhance.New(enhance.Opts{
		Config:      cfg,
		Store:       a.store,
		Connections: a.conns,
		DB:          gormDB,
		Hub:         a.hub,
		Notifier:    a.notifier(),
		Analytics:   sink,
		Titler:      a.titler,
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (a *app) notifier() notify.Notifier {
	multi := notify.Multi{notify.Hub{Hub: a.hub}, notify.NewLog()}
	if a.cfg.Notify.Command != "" {
		multi = append(multi, notify.NewCommand(a.cfg.Notify.Command))
	}
	if a.chat != nil {
		multi = append(multi, a.chat)
	}
	return multi
}

// Close waits for background work (title generation, chat delivery,
// analytics) and releases the adapters.
func (a *app) Close(ctx context.Context) {
	a.orch.Wait()
	if a.chat != nil {
		a.chat.Wait()
	}
	for _, ad := range a.adapters {
		if err := ad.Close(); err != nil {
			slog.Warn("close chat adapter", "error", err)
		}
	}
	if a.recorder != nil {
		if err := a.recorder.Close(ctx); err != nil {
			slog.Warn("close analytics recorder", "error", err)
		}
	}
}

// connectAdapters connects every configured chat platform. A platform that
// fails to connect is logged and skipped.
func connectAdapters(ctx context.Context, cfg config.NotifyConfig) []telegraph.Adapter {
	log := logging.New("telegraph")
	var candidates []telegraph.Adapter

	if cfg.Slack.BotToken != "" {
		ad, err := slack.New(slack.AdapterOpts{BotToken: cfg.Slack.BotToken, ChannelID: cfg.Slack.ChannelID})
		if err != nil {
			log.Warn("slack adapter disabled", "error", err)
		} else {
			candidates = append(candidates, ad)
		}
	}
	if cfg.Discord.BotToken != "" {
		ad, err := discord.New(discord.AdapterOpts{BotToken: cfg.Discord.BotToken, ChannelID: cfg.Discord.ChannelID})
		if err != nil {
			log.Warn("discord adapter disabled", "error", err)
		} else {
			candidates = append(candidates, ad)
		}
	}

	var connected []telegraph.Adapter
	for _, ad := range candidates {
		if err := ad.Connect(ctx); err != nil {
			log.Warn("chat adapter connect failed", "error", err)
			continue
		}
		connected = append(connected, ad)
	}
	return connected
}
