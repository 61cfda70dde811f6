package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/quill/internal/enhance"
	"github.com/zulandar/quill/internal/markup"
	"github.com/zulandar/quill/internal/models"
	"github.com/zulandar/quill/internal/session"
)

func newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Import and inspect sessions",
	}

	cmd.AddCommand(newSessionImportCmd())
	cmd.AddCommand(newSessionShowCmd())
	cmd.AddCommand(newSessionListCmd())
	return cmd
}

// sessionFile is the JSON import format. Notes are markdown and are
// converted to display markup on import.
type sessionFile struct {
	ID             string `json:"id"`
	Title          string `json:"title"`
	RawNote        string `json:"raw_note"`
	PreMeetingNote string `json:"pre_meeting_note"`
	Words          []struct {
		Text    string `json:"text"`
		Speaker int    `json:"speaker"`
		StartMs int64  `json:"start_ms"`
		EndMs   int64  `json:"end_ms"`
	} `json:"words"`
	Participants []struct {
		Name         string `json:"name"`
		Email        string `json:"email"`
		Organization string `json:"organization"`
	} `json:"participants"`
}

func parseSessionFile(r io.Reader) (*models.Session, error) {
	var f sessionFile
	if err := json.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("decode session file: %w", err)
	}
	if f.ID == "" {
		return nil, fmt.Errorf("session file: id is required")
	}

	raw, err := markup.FromMarkdown(f.RawNote)
	if err != nil {
		return nil, fmt.Errorf("session file: raw_note: %w", err)
	}
	pre, err := markup.FromMarkdown(f.PreMeetingNote)
	if err != nil {
		return nil, fmt.Errorf("session file: pre_meeting_note: %w", err)
	}

	sess := &models.Session{
		ID:             f.ID,
		Title:          f.Title,
		RawNote:        raw,
		PreMeetingNote: pre,
	}
	for i, w := range f.Words {
		sess.Words = append(sess.Words, models.Word{
			Seq: i + 1, Text: w.Text, Speaker: w.Speaker, StartMs: w.StartMs, EndMs: w.EndMs,
		})
	}
	for _, p := range f.Participants {
		sess.Participants = append(sess.Participants, models.Participant{
			Name: p.Name, Email: p.Email, Organization: p.Organization,
		})
	}
	return sess, nil
}

func newSessionImportCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "import <file.json>",
		Short: "Import a session with its transcript",
		Long:  "Creates or replaces a session from a JSON file. Use - to read from stdin.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionImport(cmd, configPath, args[0])
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func runSessionImport(cmd *cobra.Command, configPath, path string) error {
	var r io.Reader = cmd.InOrStdin()
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}
	sess, err := parseSessionFile(r)
	if err != nil {
		return err
	}

	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	if err := session.NewStore(gormDB).Import(cmd.Context(), sess); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Imported session %s (%d words, %d participants)\n",
		sess.ID, len(sess.Words), len(sess.Participants))
	return nil
}

func newSessionShowCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a session's notes and recent enhancement runs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionShow(cmd, configPath, args[0])
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func runSessionShow(cmd *cobra.Command, configPath, id string) error {
	out := cmd.OutOrStdout()
	ctx := cmd.Context()

	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	store := session.NewStore(gormDB)
	sess, err := store.Get(ctx, id)
	if err != nil {
		return err
	}
	words, err := store.Words(ctx, id)
	if err != nil {
		return err
	}

	title := sess.Title
	if title == "" {
		title = "(untitled)"
	}
	fmt.Fprintf(out, "Session: %s\n", sess.ID)
	fmt.Fprintf(out, "Title:   %s\n", title)
	fmt.Fprintf(out, "View:    %s\n", sess.ActiveView)
	fmt.Fprintf(out, "Words:   %d\n", len(words))

	if text := markup.ToText(sess.RawNote); text != "" {
		fmt.Fprintf(out, "\nRaw note:\n%s\n", text)
	}
	if text := markup.ToText(sess.EnhancedNote); text != "" {
		fmt.Fprintf(out, "\nEnhanced note:\n%s\n", text)
	}

	runs, err := enhance.SessionRuns(gormDB, id, 5)
	if err != nil {
		return err
	}
	if len(runs) > 0 {
		fmt.Fprintln(out, "\nRecent runs:")
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		for _, r := range runs {
			fmt.Fprintf(w, "  %s\t%s\t%s\t%s\n", r.StartedAt.Format("2006-01-02 15:04"), r.TriggerType, r.Status, r.Error)
		}
		w.Flush()
	}
	return nil
}

func newSessionListCmd() *cobra.Command {
	var (
		configPath string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions, most recently updated first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionList(cmd, configPath, limit)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of sessions to list")
	return cmd
}

func runSessionList(cmd *cobra.Command, configPath string, limit int) error {
	out := cmd.OutOrStdout()

	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	sessions, err := session.NewStore(gormDB).List(cmd.Context(), limit)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Fprintln(out, "No sessions found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tVIEW\tUPDATED")
	for _, s := range sessions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.ID, s.Title, s.ActiveView, s.UpdatedAt.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}
