// Package autoenhance starts an enhancement when a recording session
// finishes.
package autoenhance

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/zulandar/quill/internal/enhance"
	"github.com/zulandar/quill/internal/logging"
	"github.com/zulandar/quill/internal/recording"
)

// Enhancer is the subset of the orchestrator the trigger drives.
type Enhancer interface {
	Pending(sessionID string) bool
	Enhance(ctx context.Context, sessionID string, opts enhance.Options) (*enhance.Result, error)
}

// Views switches the visible note of a session.
type Views interface {
	ShowRaw(ctx context.Context, sessionID string) error
}

// Trigger watches recording statuses and fires one enhancement for every
// transition from running_active to inactive.
type Trigger struct {
	source   recording.Source
	enhancer Enhancer
	views    Views
	log      *slog.Logger

	mu      sync.Mutex
	staged  map[string]enhance.TemplateRef
	running map[string]bool // sessions with an auto run started and not yet returned
	wg      sync.WaitGroup
}

// Opts holds parameters for creating a Trigger.
type Opts struct {
	Source   recording.Source
	Enhancer Enhancer
	Views    Views
}

// New creates a Trigger.
func New(opts Opts) (*Trigger, error) {
	if opts.Source == nil {
		return nil, errors.New("autoenhance: source is required")
	}
	if opts.Enhancer == nil {
		return nil, errors.New("autoenhance: enhancer is required")
	}
	if opts.Views == nil {
		return nil, errors.New("autoenhance: views is required")
	}
	return &Trigger{
		source:   opts.Source,
		enhancer: opts.Enhancer,
		views:    opts.Views,
		log:      logging.New("autoenhance"),
		staged:   make(map[string]enhance.TemplateRef),
		running:  make(map[string]bool),
	}, nil
}

// Stage records the template chosen when the user stopped recording. The
// next automatic run for the session consumes it.
func (t *Trigger) Stage(sessionID string, ref enhance.TemplateRef) {
	t.mu.Lock()
	t.staged[sessionID] = ref
	t.mu.Unlock()
}

func (t *Trigger) takeStaged(sessionID string) enhance.TemplateRef {
	t.mu.Lock()
	defer t.mu.Unlock()
	ref := t.staged[sessionID]
	delete(t.staged, sessionID)
	return ref
}

// reserve marks sessionID as having an auto run. It reports false when one
// is already reserved.
func (t *Trigger) reserve(sessionID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running[sessionID] {
		return false
	}
	t.running[sessionID] = true
	return true
}

func (t *Trigger) release(sessionID string) {
	t.mu.Lock()
	delete(t.running, sessionID)
	t.mu.Unlock()
}

// Run consumes statuses until ctx ends. Enhancements it starts keep running
// on their own goroutines; use Wait to join them.
func (t *Trigger) Run(ctx context.Context) error {
	prev := recording.Inactive
	for u := range t.source.Statuses(ctx) {
		cur := u.Status
		if prev == recording.RunningActive && cur == recording.Inactive {
			t.fire(ctx, u.SessionID)
		}
		prev = cur
	}
	return nil
}

func (t *Trigger) fire(ctx context.Context, sessionID string) {
	log := t.log.With("session", sessionID)
	if sessionID == "" {
		log.Warn("finished recording has no session id")
		return
	}
	if !t.reserve(sessionID) {
		log.Info("auto enhancement already started, skipping")
		return
	}
	if t.enhancer.Pending(sessionID) {
		t.release(sessionID)
		log.Info("enhancement already pending, skipping")
		return
	}
	if err := t.views.ShowRaw(ctx, sessionID); err != nil {
		log.Warn("show raw view failed", "error", err)
	}
	ref := t.takeStaged(sessionID)
	log.Info("recording finished, enhancing", "template", ref.String())

	runCtx := context.WithoutCancel(ctx)
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer t.release(sessionID)
		res, err := t.enhancer.Enhance(runCtx, sessionID, enhance.Options{
			Trigger:  enhance.TriggerAuto,
			Template: ref,
		})
		if err != nil {
			log.Warn("auto enhancement ended with error", "error", err)
			return
		}
		log.Info("auto enhancement finished", "outcome", res.Outcome)
	}()
}

// Wait blocks until every enhancement started by the trigger returns.
func (t *Trigger) Wait() {
	t.wg.Wait()
}
