// Package notify delivers user-visible notices about enhancement runs.
package notify

import (
	"context"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/zulandar/quill/internal/events"
	"github.com/zulandar/quill/internal/logging"
)

// Notice kinds.
const (
	KindTooShort      = "recording_too_short"
	KindEnhanceFailed = "enhance_failed"
)

// Severities.
const (
	SeverityInfo  = "info"
	SeverityError = "error"
)

// Notice is a message meant for the user.
type Notice struct {
	Kind      string `json:"kind"`
	SessionID string `json:"session_id"`
	Title     string `json:"title"`
	Body      string `json:"body,omitempty"`
	Severity  string `json:"severity"`
}

// TooShort is published when a run has no usable transcript.
func TooShort(sessionID string) Notice {
	return Notice{
		Kind:      KindTooShort,
		SessionID: sessionID,
		Title:     "Recording too short",
		Body:      "There is not enough transcript to enhance this note yet.",
		Severity:  SeverityInfo,
	}
}

// EnhanceFailed is published when generation fails for a reason other than
// cancellation.
func EnhanceFailed(sessionID string) Notice {
	return Notice{
		Kind:      KindEnhanceFailed,
		SessionID: sessionID,
		Title:     "Enhancement failed. Check your provider settings.",
		Severity:  SeverityError,
	}
}

// Notifier delivers notices. Implementations are best-effort: delivery
// errors are logged, not returned.
type Notifier interface {
	Notify(ctx context.Context, n Notice)
}

// Func adapts a function to a Notifier.
type Func func(ctx context.Context, n Notice)

// Notify implements Notifier.
func (f Func) Notify(ctx context.Context, n Notice) { f(ctx, n) }

// Multi fans a notice out to every notifier in order.
type Multi []Notifier

// Notify implements Notifier.
func (m Multi) Notify(ctx context.Context, n Notice) {
	for _, nt := range m {
		if nt != nil {
			nt.Notify(ctx, n)
		}
	}
}

// Log writes notices to a component logger.
type Log struct {
	Logger *slog.Logger
}

// NewLog creates a Log notifier on the "notify" component.
func NewLog() *Log { return &Log{Logger: logging.New("notify")} }

// Notify implements Notifier.
func (l *Log) Notify(_ context.Context, n Notice) {
	level := slog.LevelInfo
	if n.Severity == SeverityError {
		level = slog.LevelWarn
	}
	l.Logger.Log(context.Background(), level, n.Title, "kind", n.Kind, "session", n.SessionID)
}

// Hub publishes notices as notice events.
type Hub struct {
	Hub *events.Hub
}

// Notify implements Notifier.
func (h Hub) Notify(_ context.Context, n Notice) {
	h.Hub.Publish(events.Event{Type: events.TypeNotice, SessionID: n.SessionID, Data: n})
}

// Command runs a shell command per notice, e.g. a desktop notifier. Inside
// tmux it also shows a status-line message.
type Command struct {
	Template string // e.g. "notify-send 'Quill' '{{.Title}}'"
	logger   *slog.Logger
}

// NewCommand creates a Command notifier.
func NewCommand(template string) *Command {
	return &Command{Template: template, logger: logging.New("notify")}
}

// Notify implements Notifier.
func (c *Command) Notify(ctx context.Context, n Notice) {
	if c.Template != "" {
		cmd := exec.CommandContext(ctx, "sh", "-c", expand(c.Template, n))
		if out, err := cmd.CombinedOutput(); err != nil {
			c.logger.Warn("command failed", "error", err, "output", strings.TrimSpace(string(out)))
		}
	}
	if os.Getenv("TMUX") != "" {
		if err := exec.CommandContext(ctx, "tmux", "display-message", "quill: "+n.Title).Run(); err != nil {
			c.logger.Warn("tmux display-message failed", "error", err)
		}
	}
}

// expand replaces placeholders in the command template with notice values.
func expand(command string, n Notice) string {
	r := strings.NewReplacer(
		"{{.Title}}", n.Title,
		"{{.Body}}", n.Body,
		"{{.Kind}}", n.Kind,
		"{{.SessionID}}", n.SessionID,
		"{{.Severity}}", n.Severity,
	)
	return r.Replace(command)
}
