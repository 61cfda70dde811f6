package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/atotto/clipboard"
	"github.com/spf13/cobra"
	"github.com/zulandar/quill/internal/enhance"
	"github.com/zulandar/quill/internal/events"
	"github.com/zulandar/quill/internal/markup"
	"github.com/zulandar/quill/internal/tui"
	"golang.org/x/term"
)

type enhanceFlags struct {
	configPath string
	templateID string
	noTemplate bool
	copyOut    bool
	plain      bool
}

func newEnhanceCmd() *cobra.Command {
	var f enhanceFlags

	cmd := &cobra.Command{
		Use:   "enhance <session>",
		Short: "Generate the enhanced note for a session",
		Long: "Generates the enhanced note from the raw note and transcript. In a terminal the\n" +
			"note streams into a live view; press q to cancel. Use --plain for script output.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEnhance(cmd, f, args[0])
		},
	}

	addConfigFlag(cmd, &f.configPath)
	cmd.Flags().StringVarP(&f.templateID, "template", "t", "", "enhance with this template")
	cmd.Flags().BoolVar(&f.noTemplate, "no-template", false, "enhance without a template")
	cmd.Flags().BoolVar(&f.copyOut, "copy", false, "copy the finished note to the clipboard")
	cmd.Flags().BoolVar(&f.plain, "plain", false, "print plain text instead of the live view")
	cmd.MarkFlagsMutuallyExclusive("template", "no-template")
	return cmd
}

// templateOptions maps the template flags to a run trigger and template.
func templateOptions(templateID string, noTemplate bool) enhance.Options {
	switch {
	case noTemplate:
		return enhance.Options{Trigger: enhance.TriggerTemplate, Template: enhance.NoTemplate()}
	case templateID != "":
		return enhance.Options{Trigger: enhance.TriggerTemplate, Template: enhance.UseTemplate(templateID)}
	default:
		return enhance.Options{Trigger: enhance.TriggerManual, Template: enhance.DefaultTemplate()}
	}
}

func runEnhance(cmd *cobra.Command, f enhanceFlags, sessionID string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	a, err := newApp(ctx, appOpts{ConfigPath: f.configPath})
	if err != nil {
		return err
	}
	defer a.Close(context.WithoutCancel(ctx))

	sess, err := a.store.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := a.conns.Refresh(ctx); err != nil {
		return err
	}
	conn, err := a.conns.Current(ctx)
	if err != nil {
		return err
	}

	opts := templateOptions(f.templateID, f.noTemplate)
	run := func(ctx context.Context) (*enhance.Result, error) {
		return a.orch.Enhance(ctx, sessionID, opts)
	}

	ch, unsubscribe := a.hub.Subscribe(256)
	defer unsubscribe()

	var (
		res    *enhance.Result
		runErr error
	)
	if !f.plain && isTerminal(cmd.OutOrStdout()) {
		m, err := tui.Run(ctx, tui.Opts{
			SessionID: sessionID,
			Title:     sess.Title,
			RawNote:   markup.ToText(sess.RawNote),
			Local:     conn.Local(),
			Events:    ch,
			Cancel:    func() { a.orch.Cancel(sessionID) },
		}, run)
		if err != nil {
			return err
		}
		res, runErr = m.Result()
	} else {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)
		go func() {
			select {
			case sig := <-sigCh:
				fmt.Fprintf(cmd.ErrOrStderr(), "\nReceived %s, cancelling...\n", sig)
				a.orch.Cancel(sessionID)
			case <-ctx.Done():
			}
		}()
		go streamProgress(cmd.ErrOrStderr(), ch, sessionID)
		res, runErr = run(ctx)
	}

	return reportEnhance(cmd, res, runErr, f.copyOut)
}

// reportEnhance prints the outcome of a run and the finished note.
func reportEnhance(cmd *cobra.Command, res *enhance.Result, runErr error, copyOut bool) error {
	out := cmd.OutOrStdout()
	if res == nil {
		return runErr
	}

	switch res.Outcome {
	case enhance.OutcomeTooShort:
		fmt.Fprintln(cmd.ErrOrStderr(), "Recording too short: there is not enough transcript to enhance this note yet.")
		return nil
	case enhance.OutcomeBusy:
		return fmt.Errorf("session is being enhanced by another process: %w", runErr)
	case enhance.OutcomeCancelled:
		fmt.Fprintln(cmd.ErrOrStderr(), "Enhancement cancelled; the partial note was kept.")
		return nil
	case enhance.OutcomeFailed:
		return runErr
	}

	text := markup.ToText(res.Markup)
	fmt.Fprintln(out, text)
	if copyOut {
		if err := clipboard.WriteAll(text); err != nil {
			return fmt.Errorf("copy to clipboard: %w", err)
		}
		fmt.Fprintln(cmd.ErrOrStderr(), "Copied to clipboard.")
	}
	return runErr
}

// streamProgress prints local generation progress until ch closes.
func streamProgress(w io.Writer, ch <-chan events.Event, sessionID string) {
	last := -1
	for ev := range ch {
		if ev.SessionID != sessionID || ev.Type != events.TypeProgress {
			continue
		}
		data, _ := ev.Data.(map[string]any)
		p, ok := data["progress"].(float64)
		if !ok {
			continue
		}
		pct := int(p * 100)
		if pct == last {
			continue
		}
		last = pct
		fmt.Fprintf(w, "\rEnhancing... %3d%%", pct)
		if pct >= 100 {
			fmt.Fprintln(w)
		}
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func newTitleCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "title <session>",
		Short: "Generate a title from the session's enhanced note",
		Long:  "Generates a short title from the enhanced note. A title the session already has is never overwritten.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTitle(cmd, configPath, args[0])
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func runTitle(cmd *cobra.Command, configPath, sessionID string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx, appOpts{ConfigPath: configPath})
	if err != nil {
		return err
	}
	defer a.Close(context.WithoutCancel(ctx))

	sess, err := a.store.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.EnhancedNote == "" {
		return errors.New("session has no enhanced note; run 'quill enhance' first")
	}
	if err := a.conns.Refresh(ctx); err != nil {
		return err
	}
	title, err := a.titler.Generate(ctx, sessionID, sess.EnhancedNote)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), title)
	return nil
}
