package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zulandar/quill/internal/db"
	"github.com/zulandar/quill/internal/models"
	"github.com/zulandar/quill/internal/session"
)

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
	}

	cmd.AddCommand(newDBInitCmd())
	return cmd
}

func newDBInitCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the Quill database",
		Long:  "Migrates all tables, seeds note templates, the recording state row and the onboarding session.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBInit(cmd, configPath)
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func runDBInit(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()
	ctx := cmd.Context()

	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Connected to %s database\n", cfg.Database.Driver)

	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}
	fmt.Fprintf(out, "Migrated %d tables\n", len(db.AllModels()))

	if err := db.SeedTemplates(gormDB, cfg.Templates); err != nil {
		return err
	}
	fmt.Fprintf(out, "Seeded %d templates:", len(cfg.Templates))
	for _, t := range cfg.Templates {
		fmt.Fprintf(out, " %s", t.ID)
	}
	fmt.Fprintln(out)

	if err := db.SeedRecordingState(gormDB); err != nil {
		return err
	}

	store := session.NewStore(gormDB)
	id := cfg.Onboarding.SessionID
	_, err = store.Get(ctx, id)
	switch {
	case errors.Is(err, session.ErrNotFound):
		if err := store.Import(ctx, &models.Session{
			ID:      id,
			Title:   "Welcome to Quill",
			RawNote: "<p>Try enhancing this note.</p>",
		}); err != nil {
			return fmt.Errorf("create onboarding session: %w", err)
		}
		fmt.Fprintf(out, "Created onboarding session %s\n", id)
	case err != nil:
		return err
	}

	fmt.Fprintln(out, "Quill database initialized successfully.")
	return nil
}
