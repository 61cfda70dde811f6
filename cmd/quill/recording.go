package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zulandar/quill/internal/recording"
)

func newRecordingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recording",
		Short: "Drive the recording state",
	}

	cmd.AddCommand(newRecordingSetCmd())
	return cmd
}

type recordingFlags struct {
	configPath string
	addr       string
	templateID string
	noTemplate bool
}

func newRecordingSetCmd() *cobra.Command {
	var f recordingFlags

	cmd := &cobra.Command{
		Use:   "set <session> <status>",
		Short: "Set the recording status (inactive, running_active, running_paused)",
		Long: "Writes the recording state as the recorder does. Stopping a recording lets\n" +
			"'quill serve' enhance the session automatically. --template and --no-template\n" +
			"stage a template choice for that run and require 'quill serve' to be running.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecordingSet(cmd, f, args[0], args[1])
		},
	}

	addConfigFlag(cmd, &f.configPath)
	cmd.Flags().StringVar(&f.addr, "addr", "", "address of 'quill serve' (default from dashboard.port)")
	cmd.Flags().StringVarP(&f.templateID, "template", "t", "", "stage this template for the automatic run")
	cmd.Flags().BoolVar(&f.noTemplate, "no-template", false, "stage a run without a template")
	cmd.MarkFlagsMutuallyExclusive("template", "no-template")
	return cmd
}

func runRecordingSet(cmd *cobra.Command, f recordingFlags, sessionID, statusName string) error {
	out := cmd.OutOrStdout()
	status, err := recording.ParseStatus(statusName)
	if err != nil {
		return err
	}

	cfg, gormDB, err := connectFromConfig(f.configPath)
	if err != nil {
		return err
	}

	if f.templateID == "" && !f.noTemplate {
		u := recording.Update{SessionID: sessionID, Status: status}
		if err := recording.Save(cmd.Context(), gormDB, u); err != nil {
			return err
		}
		fmt.Fprintf(out, "Recording %s: %s\n", sessionID, status)
		return nil
	}

	addr := f.addr
	if addr == "" {
		addr = serveAddr(cfg)
	}
	return setRecordingViaAPI(cmd.Context(), cmd, newAPIClient(addr), sessionID, status, f)
}

func setRecordingViaAPI(ctx context.Context, cmd *cobra.Command, c *apiClient, sessionID string, status recording.Status, f recordingFlags) error {
	body := map[string]any{
		"session_id":  sessionID,
		"status":      string(status),
		"template_id": f.templateID,
		"no_template": f.noTemplate,
	}
	var resp struct {
		Staged bool `json:"staged"`
	}
	if err := c.post(ctx, "/api/recording", body, &resp); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Recording %s: %s (template staged: %t)\n", sessionID, status, resp.Staged)
	return nil
}
