package enhance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/zulandar/quill/internal/config"
	"github.com/zulandar/quill/internal/connection"
	"github.com/zulandar/quill/internal/events"
	"github.com/zulandar/quill/internal/grammar"
	"github.com/zulandar/quill/internal/llm"
	"github.com/zulandar/quill/internal/logging"
	"github.com/zulandar/quill/internal/markup"
	"github.com/zulandar/quill/internal/prompt"
)

// ErrTitleTimeout is the cause attached to a title call that hit its deadline.
var ErrTitleTimeout = errors.New("enhance: title generation timed out")

// TitleStore is the session data the titler writes.
type TitleStore interface {
	SetTitleIfEmpty(ctx context.Context, id, title string) (bool, error)
}

// Titler generates a short session title from an enhanced note. Failures are
// returned to the caller and never shown to the user.
type Titler struct {
	cfg       *config.Config
	store     TitleStore
	conns     Connections
	newClient connection.Factory
	renderer  *prompt.Renderer
	hub       *events.Hub
	log       *slog.Logger
	locks     keyedLock
}

// TitlerOpts holds parameters for creating a Titler.
type TitlerOpts struct {
	Config      *config.Config
	Store       TitleStore
	Connections Connections
	NewClient   connection.Factory // defaults to connection.NewClient
	Hub         *events.Hub        // optional
}

// NewTitler creates a Titler.
func NewTitler(opts TitlerOpts) (*Titler, error) {
	if opts.Config == nil {
		return nil, errors.New("enhance: titler: config is required")
	}
	if opts.Store == nil {
		return nil, errors.New("enhance: titler: store is required")
	}
	if opts.Connections == nil {
		return nil, errors.New("enhance: titler: connections is required")
	}
	renderer, err := prompt.NewRenderer()
	if err != nil {
		return nil, fmt.Errorf("enhance: titler: %w", err)
	}
	t := &Titler{
		cfg:       opts.Config,
		store:     opts.Store,
		conns:     opts.Connections,
		newClient: opts.NewClient,
		renderer:  renderer,
		hub:       opts.Hub,
		log:       logging.New("title"),
	}
	if t.newClient == nil {
		t.newClient = connection.NewClient
	}
	return t, nil
}

// Generate asks the model for a title and stores it if the session has
// none. It returns the cleaned title, whether or not it was stored.
func (t *Titler) Generate(ctx context.Context, sessionID, enhancedMarkup string) (string, error) {
	unlock, err := t.locks.Lock(ctx, sessionID)
	if err != nil {
		return "", fmt.Errorf("enhance: title: %w", err)
	}
	defer unlock()

	conn, err := t.conns.Current(ctx)
	if err != nil {
		return "", fmt.Errorf("enhance: title: resolve connection: %w", err)
	}
	data := prompt.TitleData{
		Language:     t.cfg.General.Language,
		ProviderType: conn.Type,
		Enhanced:     markup.ToText(enhancedMarkup),
	}
	system, err := t.renderer.Render(prompt.TitleSystem, data)
	if err != nil {
		return "", fmt.Errorf("enhance: title: render prompt: %w", err)
	}
	user, err := t.renderer.Render(prompt.TitleUser, data)
	if err != nil {
		return "", fmt.Errorf("enhance: title: render prompt: %w", err)
	}

	client, err := t.newClient(conn)
	if err != nil {
		return "", fmt.Errorf("enhance: title: %w", err)
	}
	model := conn.Model
	if sessionID == t.cfg.Onboarding.SessionID {
		model = conn.OnboardingModel
	}

	callCtx, cancel := context.WithTimeoutCause(ctx, t.cfg.TitleTimeout(), ErrTitleTimeout)
	defer cancel()
	start := time.Now()
	out, err := client.Generate(callCtx, llm.Request{
		Model:     model,
		MaxTokens: 64,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: system},
			{Role: llm.RoleUser, Content: user},
		},
	})
	if err != nil {
		if cause := context.Cause(callCtx); cause != nil {
			err = cause
		}
		return "", fmt.Errorf("enhance: title: %w", err)
	}

	title := CleanTitle(out)
	if title == "" {
		return "", errors.New("enhance: title: model returned an empty title")
	}
	written, err := t.store.SetTitleIfEmpty(ctx, sessionID, title)
	if err != nil {
		return title, fmt.Errorf("enhance: title: %w", err)
	}
	t.log.Info("title generated", "session", sessionID, "written", written, "duration", time.Since(start).Round(time.Millisecond))
	if written && t.hub != nil {
		t.hub.Publish(events.Event{Type: events.TypeTitle, SessionID: sessionID, Data: title})
	}
	return title, nil
}

// CleanTitle reduces model output to a bare single-line title.
func CleanTitle(s string) string {
	var line string
	for _, l := range strings.Split(s, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			line = l
			break
		}
	}
	line = strings.TrimLeft(line, "# ")
	if len(line) > 6 && strings.EqualFold(line[:6], "title:") {
		line = strings.TrimSpace(line[6:])
	}
	line = strings.Trim(line, "\"'`*“”‘’")
	line = strings.TrimRight(strings.TrimSpace(line), ".")
	line = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, line)
	if utf8.RuneCountInString(line) > grammar.MaxTitleLen {
		line = strings.TrimSpace(string([]rune(line)[:grammar.MaxTitleLen]))
	}
	return line
}
