package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zulandar/quill/internal/config"
)

func newCancelCmd() *cobra.Command {
	var (
		configPath string
		addr       string
	)

	cmd := &cobra.Command{
		Use:   "cancel <session>",
		Short: "Cancel a running enhancement in 'quill serve'",
		Long:  "Stops the active enhancement of a session. The note written so far is kept.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				cfg, err := loadConfig(configPath)
				if err != nil {
					return err
				}
				addr = serveAddr(cfg)
			}
			return runCancel(cmd, newAPIClient(addr), args[0])
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&addr, "addr", "", "address of 'quill serve' (default from dashboard.port)")
	return cmd
}

func serveAddr(cfg *config.Config) string {
	return dashboardAddr(cfg.Dashboard.Port)
}

func runCancel(cmd *cobra.Command, c *apiClient, sessionID string) error {
	var resp struct {
		Cancelled bool `json:"cancelled"`
	}
	if err := c.post(cmd.Context(), sessionPath(sessionID, "cancel"), nil, &resp); err != nil {
		return err
	}
	if resp.Cancelled {
		fmt.Fprintf(cmd.OutOrStdout(), "Cancelled enhancement of %s\n", sessionID)
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "No enhancement running for %s\n", sessionID)
	}
	return nil
}
