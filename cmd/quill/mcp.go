package main

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/zulandar/quill/internal/mcpserver"
)

func newMCPCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve Quill tools over MCP on stdio",
		Long:  "Exposes enhance_session, compile_grammar, compose_input and session_status to MCP clients.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMCP(cmd, configPath)
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func runMCP(cmd *cobra.Command, configPath string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx, appOpts{ConfigPath: configPath})
	if err != nil {
		return err
	}
	defer a.Close(context.WithoutCancel(ctx))

	s, err := mcpserver.New(mcpserver.Opts{
		Version:  Version,
		Store:    a.store,
		Enhancer: a.orch,
	})
	if err != nil {
		return err
	}
	return mcpserver.Serve(s)
}
