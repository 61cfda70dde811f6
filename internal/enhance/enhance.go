// Package enhance turns a session's raw note and transcript into an
// enhanced note by streaming a language model, then chains title
// generation on success.
package enhance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zulandar/quill/internal/analytics"
	"github.com/zulandar/quill/internal/config"
	"github.com/zulandar/quill/internal/connection"
	"github.com/zulandar/quill/internal/events"
	"github.com/zulandar/quill/internal/logging"
	"github.com/zulandar/quill/internal/models"
	"github.com/zulandar/quill/internal/notify"
	"github.com/zulandar/quill/internal/prompt"
	"gorm.io/gorm"
)

var (
	// ErrCancelled is the cause attached to a run stopped by Cancel.
	ErrCancelled = errors.New("enhance: generation cancelled")
	// ErrTimeout is the cause attached to a run that hit its deadline.
	ErrTimeout = errors.New("enhance: generation timed out")
	// ErrRunInProgress is returned when another process holds the session's run lock.
	ErrRunInProgress = errors.New("enhance: run in progress")
)

// TriggerType records what started a run.
type TriggerType string

const (
	TriggerManual   TriggerType = "manual"
	TriggerTemplate TriggerType = "template"
	TriggerAuto     TriggerType = "auto"
)

// Outcome is the terminal state of a run.
type Outcome string

const (
	OutcomeCompleted Outcome = models.RunCompleted
	OutcomeTooShort  Outcome = models.RunTooShort
	OutcomeCancelled Outcome = models.RunCancelled
	OutcomeFailed    Outcome = models.RunFailed
	OutcomeBusy      Outcome = "busy"
)

// TemplateRef selects the note template for a run. The zero value defers to
// the configured default; NoTemplate and UseTemplate are explicit choices.
type TemplateRef struct {
	set bool
	id  string
}

// DefaultTemplate defers to the selected template setting.
func DefaultTemplate() TemplateRef { return TemplateRef{} }

// NoTemplate explicitly runs without a template.
func NoTemplate() TemplateRef { return TemplateRef{set: true} }

// UseTemplate explicitly runs with template id.
func UseTemplate(id string) TemplateRef { return TemplateRef{set: true, id: id} }

// IsSet reports whether the ref is an explicit choice.
func (r TemplateRef) IsSet() bool { return r.set }

// ID returns the template id, "" for none or unset.
func (r TemplateRef) ID() string { return r.id }

func (r TemplateRef) String() string {
	switch {
	case !r.set:
		return "default"
	case r.id == "":
		return "none"
	default:
		return r.id
	}
}

// NoteSink receives the enhanced note as it is generated. Each write
// replaces the previous one.
type NoteSink interface {
	Write(ctx context.Context, sessionID, markup string) error
}

// Options control a single Enhance call.
type Options struct {
	Trigger   TriggerType
	Template  TemplateRef
	OnSuccess func(markup string)
	Sink      NoteSink // defaults to the orchestrator's sink
}

// Result describes a finished run.
type Result struct {
	RunID   string
	Outcome Outcome
	Markup  string // last written enhanced note, partial when cancelled
}

// RunContext is captured once at the start of a run and never modified.
type RunContext struct {
	RunID      string
	SessionID  string
	Trigger    TriggerType
	Template   TemplateRef
	Connection connection.Connection
	Local      bool
	Onboarding bool
	Model      string
	StartedAt  time.Time
}

// Store is the session data the orchestrator reads and writes.
type Store interface {
	Get(ctx context.Context, id string) (*models.Session, error)
	Words(ctx context.Context, id string) ([]models.Word, error)
	Participants(ctx context.Context, id string) ([]models.Participant, error)
	Template(ctx context.Context, id string) (*models.Template, error)
	Setting(ctx context.Context, key string) (string, error)
	SetEnhancedNote(ctx context.Context, id, markup string) error
	Persist(ctx context.Context, id, markup string) error
}

// Connections resolves the active provider.
type Connections interface {
	Refresh(ctx context.Context) error
	Current(ctx context.Context) (connection.Connection, error)
}

// Orchestrator runs enhancements. Runs for the same session are serialized;
// runs for different sessions proceed independently.
type Orchestrator struct {
	cfg       *config.Config
	store     Store
	conns     Connections
	newClient connection.Factory
	renderer  *prompt.Renderer
	db        *gorm.DB
	hub       *events.Hub
	notifier  notify.Notifier
	analytics analytics.Sink
	titler    *Titler
	sink      NoteSink
	log       *slog.Logger

	locks keyedLock

	mu       sync.Mutex
	cancels  map[string]registration
	progress map[string]float64

	background sync.WaitGroup
}

type registration struct {
	runID  string
	cancel context.CancelCauseFunc
}

// Opts holds parameters for creating an Orchestrator.
type Opts struct {
	Config      *config.Config
	Store       Store
	Connections Connections
	NewClient   connection.Factory // defaults to connection.NewClient
	DB          *gorm.DB           // run history and cross-process lock; optional
	Hub         *events.Hub        // optional
	Notifier    notify.Notifier    // defaults to the log notifier
	Analytics   analytics.Sink     // defaults to analytics.Nop
	Titler      *Titler            // optional; chained after success
	Sink        NoteSink           // defaults to store + hub
}

// New creates an Orchestrator.
func New(opts Opts) (*Orchestrator, error) {
	if opts.Config == nil {
		return nil, errors.New("enhance: config is required")
	}
	if opts.Store == nil {
		return nil, errors.New("enhance: store is required")
	}
	if opts.Connections == nil {
		return nil, errors.New("enhance: connections is required")
	}
	renderer, err := prompt.NewRenderer()
	if err != nil {
		return nil, fmt.Errorf("enhance: %w", err)
	}
	o := &Orchestrator{
		cfg:       opts.Config,
		store:     opts.Store,
		conns:     opts.Connections,
		newClient: opts.NewClient,
		renderer:  renderer,
		db:        opts.DB,
		hub:       opts.Hub,
		notifier:  opts.Notifier,
		analytics: opts.Analytics,
		titler:    opts.Titler,
		sink:      opts.Sink,
		log:       logging.New("enhance"),
		cancels:   make(map[string]registration),
		progress:  make(map[string]float64),
	}
	if o.newClient == nil {
		o.newClient = connection.NewClient
	}
	if o.notifier == nil {
		o.notifier = notify.NewLog()
	}
	if o.analytics == nil {
		o.analytics = analytics.Nop{}
	}
	if o.sink == nil {
		o.sink = &StoreSink{Store: opts.Store, Hub: opts.Hub}
	}
	return o, nil
}

// Pending reports whether a run for sessionID is running or waiting to run.
func (o *Orchestrator) Pending(sessionID string) bool {
	return o.locks.Pending(sessionID)
}

// Cancel stops the session's active run. It reports whether a run was
// registered.
func (o *Orchestrator) Cancel(sessionID string) bool {
	o.mu.Lock()
	reg, ok := o.cancels[sessionID]
	o.mu.Unlock()
	if ok {
		reg.cancel(ErrCancelled)
	}
	return ok
}

// Progress returns the session's generation progress. It is absent once a
// hosted run has started for the session.
func (o *Orchestrator) Progress(sessionID string) (float64, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	p, ok := o.progress[sessionID]
	return p, ok
}

// Wait blocks until chained background work, such as title generation,
// has finished.
func (o *Orchestrator) Wait() {
	o.background.Wait()
}

func (o *Orchestrator) register(rc RunContext, cancel context.CancelCauseFunc) {
	o.mu.Lock()
	o.cancels[rc.SessionID] = registration{runID: rc.RunID, cancel: cancel}
	o.mu.Unlock()
}

func (o *Orchestrator) unregister(rc RunContext) {
	o.mu.Lock()
	if reg, ok := o.cancels[rc.SessionID]; ok && reg.runID == rc.RunID {
		delete(o.cancels, rc.SessionID)
	}
	o.mu.Unlock()
}

// setProgress records local progress. Hosted runs clear any value left by
// an earlier local run.
func (o *Orchestrator) setProgress(rc RunContext, p float64) {
	if !rc.Local {
		o.mu.Lock()
		delete(o.progress, rc.SessionID)
		o.mu.Unlock()
		return
	}
	o.mu.Lock()
	o.progress[rc.SessionID] = p
	o.mu.Unlock()
	o.publish(events.Event{
		Type:      events.TypeProgress,
		SessionID: rc.SessionID,
		Data:      map[string]any{"run_id": rc.RunID, "progress": p},
	})
}

func (o *Orchestrator) publish(ev events.Event) {
	if o.hub != nil {
		o.hub.Publish(ev)
	}
}

// StoreSink writes partial notes to the session store and broadcasts them.
type StoreSink struct {
	Store interface {
		SetEnhancedNote(ctx context.Context, id, markup string) error
	}
	Hub *events.Hub
}

// Write implements NoteSink.
func (s *StoreSink) Write(ctx context.Context, sessionID, markup string) error {
	if err := s.Store.SetEnhancedNote(ctx, sessionID, markup); err != nil {
		return err
	}
	if s.Hub != nil {
		s.Hub.Publish(events.Event{Type: events.TypeEnhancedNote, SessionID: sessionID, Data: markup})
	}
	return nil
}
