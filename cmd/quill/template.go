package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/quill/internal/grammar"
	"github.com/zulandar/quill/internal/session"
)

func newTemplateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "template",
		Short: "Inspect note templates",
	}

	cmd.AddCommand(newTemplateListCmd())
	cmd.AddCommand(newTemplateGrammarCmd())
	return cmd
}

func newTemplateListCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List note templates",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTemplateList(cmd, configPath)
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func runTemplateList(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	templates, err := session.NewStore(gormDB).Templates(cmd.Context())
	if err != nil {
		return err
	}
	if len(templates) == 0 {
		fmt.Fprintln(out, "No templates found. Add templates to the config and run 'quill db init'.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tSECTIONS\tDEFAULT")
	for _, t := range templates {
		def := ""
		if t.ID == cfg.General.SelectedTemplateID {
			def = "*"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", t.ID, t.Title, len(t.Sections), def)
	}
	return w.Flush()
}

func newTemplateGrammarCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "grammar <id>",
		Short: "Print the GBNF grammar compiled from a template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTemplateGrammar(cmd, configPath, args[0])
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func runTemplateGrammar(cmd *cobra.Command, configPath, id string) error {
	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	tmpl, err := session.NewStore(gormDB).Template(cmd.Context(), id)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), grammar.Compile(grammar.TemplateSections(tmpl)))
	return nil
}
