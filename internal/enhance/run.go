package enhance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zulandar/quill/internal/analytics"
	"github.com/zulandar/quill/internal/compose"
	"github.com/zulandar/quill/internal/events"
	"github.com/zulandar/quill/internal/grammar"
	"github.com/zulandar/quill/internal/llm"
	"github.com/zulandar/quill/internal/markup"
	"github.com/zulandar/quill/internal/models"
	"github.com/zulandar/quill/internal/notify"
	"github.com/zulandar/quill/internal/prompt"
	"github.com/zulandar/quill/internal/session"
)

// maxProgress keeps reported progress below 1 until the run ends.
const maxProgress = 0.99

// Enhance generates the enhanced note for sessionID. Calls for the same
// session wait for the previous run to finish.
//
// A transcript with no speech returns OutcomeTooShort and a nil error
// without calling the model. Cancelled and failed runs return the partial
// note in the Result along with the error. Every error other than a
// cancellation, a timeout or a busy run lock raises one failure notice.
func (o *Orchestrator) Enhance(ctx context.Context, sessionID string, opts Options) (res *Result, err error) {
	if sessionID == "" {
		return nil, errors.New("enhance: session id is required")
	}
	defer func() {
		if err == nil || errors.Is(err, ErrRunInProgress) || isCancellation(err) {
			return
		}
		o.notifier.Notify(context.WithoutCancel(ctx), notify.EnhanceFailed(sessionID))
	}()
	if opts.Trigger == "" {
		opts.Trigger = TriggerManual
	}
	sink := opts.Sink
	if sink == nil {
		sink = o.sink
	}

	unlock, err := o.locks.Lock(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("enhance: wait for %s: %w", sessionID, err)
	}
	defer unlock()

	if err := o.conns.Refresh(ctx); err != nil {
		return nil, fmt.Errorf("enhance: refresh connection: %w", err)
	}
	if d := o.cfg.SettleDelay(); d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return nil, fmt.Errorf("enhance: %w", context.Cause(ctx))
		}
	}
	conn, err := o.conns.Current(ctx)
	if err != nil {
		return nil, fmt.Errorf("enhance: resolve connection: %w", err)
	}

	rc := RunContext{
		RunID:      uuid.NewString(),
		SessionID:  sessionID,
		Trigger:    opts.Trigger,
		Template:   opts.Template,
		Connection: conn,
		Local:      conn.Local(),
		Onboarding: sessionID == o.cfg.Onboarding.SessionID,
		Model:      conn.Model,
		StartedAt:  time.Now(),
	}
	if rc.Onboarding {
		rc.Model = conn.OnboardingModel
	}
	if !rc.Local {
		o.setProgress(rc, 0)
	}
	log := o.log.With("session", sessionID, "run", rc.RunID, "trigger", rc.Trigger, "provider", conn.Type)

	if o.db != nil {
		if _, err := AcquireRunLock(o.db, rc, 2*o.cfg.EnhanceTimeout()); err != nil {
			if errors.Is(err, ErrRunInProgress) {
				log.Info("run lock held elsewhere", "error", err)
				return &Result{RunID: rc.RunID, Outcome: OutcomeBusy}, err
			}
			return nil, err
		}
	}

	res, err = o.run(ctx, rc, opts, sink)
	o.finish(rc, res, err)
	if err != nil {
		if res.Outcome == OutcomeCancelled {
			log.Info("enhancement cancelled", "error", err)
		} else {
			log.Error("enhancement failed", "error", err)
		}
	}
	return res, err
}

// finish releases the run lock with the outcome and resets local progress.
func (o *Orchestrator) finish(rc RunContext, res *Result, runErr error) {
	if res.Outcome != OutcomeTooShort {
		o.setProgress(rc, 0)
	}
	o.publish(events.Event{
		Type:      events.TypeRun,
		SessionID: rc.SessionID,
		Data:      map[string]any{"run_id": rc.RunID, "outcome": res.Outcome, "trigger": rc.Trigger},
	})
	if o.db == nil {
		return
	}
	msg := ""
	if runErr != nil {
		msg = runErr.Error()
	}
	if err := FinishRun(o.db, rc.RunID, string(res.Outcome), msg); err != nil {
		o.log.Warn("release run lock failed", "run", rc.RunID, "error", err)
	}
}

func (o *Orchestrator) run(ctx context.Context, rc RunContext, opts Options, sink NoteSink) (*Result, error) {
	res := &Result{RunID: rc.RunID, Outcome: OutcomeFailed}

	sess, err := o.store.Get(ctx, rc.SessionID)
	if err != nil {
		return res, fmt.Errorf("enhance: %w", err)
	}

	var words []models.Word
	if rc.Onboarding {
		words, err = session.OnboardingWords()
	} else {
		words, err = o.store.Words(ctx, rc.SessionID)
	}
	if err != nil {
		return res, fmt.Errorf("enhance: load transcript: %w", err)
	}
	if len(speechWords(words, o.cfg.Enhance.NoiseMarkers)) == 0 {
		o.notifier.Notify(ctx, notify.TooShort(rc.SessionID))
		res.Outcome = OutcomeTooShort
		return res, nil
	}

	participants, err := o.store.Participants(ctx, rc.SessionID)
	if err != nil {
		return res, fmt.Errorf("enhance: load participants: %w", err)
	}
	tmpl, err := o.resolveTemplate(ctx, rc.Template)
	if err != nil {
		return res, err
	}
	resolved := ""
	if tmpl != nil {
		resolved = tmpl.ID
	}
	if resolved != rc.Template.ID() && o.db != nil {
		if err := SetRunTemplate(o.db, rc.RunID, resolved); err != nil {
			o.log.Warn("record run template failed", "run", rc.RunID, "error", err)
		}
	}

	req, err := o.buildRequest(rc, sess, tmpl, words, participants)
	if err != nil {
		return res, err
	}

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	runCtx, stop := context.WithTimeoutCause(runCtx, o.cfg.EnhanceTimeout(), ErrTimeout)
	defer stop()
	o.register(rc, cancel)
	defer o.unregister(rc)

	o.setProgress(rc, 0)

	markupOut, err := o.generate(runCtx, rc, req, sink)
	res.Markup = markupOut
	if err != nil {
		if isCancellation(err) {
			res.Outcome = OutcomeCancelled
		}
		return res, err
	}
	if err := o.store.Persist(context.WithoutCancel(ctx), rc.SessionID, markupOut); err != nil {
		return res, fmt.Errorf("enhance: persist: %w", err)
	}

	res.Outcome = OutcomeCompleted
	if opts.OnSuccess != nil {
		opts.OnSuccess(markupOut)
	}
	o.analytics.Track(analytics.Event{
		Name:      analytics.EventNoteEnhanced,
		SessionID: rc.SessionID,
		Properties: map[string]any{
			"onboarding": rc.Onboarding,
			"trigger":    string(rc.Trigger),
			"provider":   rc.Connection.Type,
			"template":   tmpl != nil,
		},
	})

	if o.titler != nil && len(words) > 0 {
		o.background.Add(1)
		go func() {
			defer o.background.Done()
			if _, err := o.titler.Generate(context.WithoutCancel(ctx), rc.SessionID, markupOut); err != nil {
				o.log.Warn("title generation failed", "session", rc.SessionID, "error", err)
			}
		}()
	}
	return res, nil
}

// resolveTemplate applies an explicit ref, else the selected template
// setting, else the config default. A missing template runs without one.
func (o *Orchestrator) resolveTemplate(ctx context.Context, ref TemplateRef) (*models.Template, error) {
	id := ref.ID()
	if !ref.IsSet() {
		v, err := o.store.Setting(ctx, models.SettingSelectedTemplate)
		if err != nil {
			return nil, fmt.Errorf("enhance: selected template: %w", err)
		}
		id = v
		if id == "" {
			id = o.cfg.General.SelectedTemplateID
		}
	}
	if id == "" {
		return nil, nil
	}
	tmpl, err := o.store.Template(ctx, id)
	if errors.Is(err, session.ErrNotFound) {
		o.log.Warn("template not found, running without one", "template", id)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("enhance: load template: %w", err)
	}
	return tmpl, nil
}

func (o *Orchestrator) buildRequest(rc RunContext, sess *models.Session, tmpl *models.Template, words []models.Word, participants []models.Participant) (llm.Request, error) {
	wordsJSON, err := encodeWords(words)
	if err != nil {
		return llm.Request{}, fmt.Errorf("enhance: encode words: %w", err)
	}

	data := prompt.EnhanceData{
		Language:     o.cfg.General.Language,
		ProviderType: rc.Connection.Type,
		Content:      compose.Input(markup.ToText(sess.PreMeetingNote), markup.ToText(sess.RawNote)),
		Words:        wordsJSON,
		Participants: promptParticipants(participants),
	}
	var compiled string
	if tmpl != nil {
		meta := &prompt.TemplateMeta{Title: tmpl.Title, Description: tmpl.Description}
		for _, s := range tmpl.Sections {
			meta.Sections = append(meta.Sections, prompt.Section{Title: s.Title, Description: s.Description})
		}
		data.Template = meta
		compiled = grammar.Compile(grammar.TemplateSections(tmpl))
	}

	system, err := o.renderer.Render(prompt.EnhanceSystem, data)
	if err != nil {
		return llm.Request{}, fmt.Errorf("enhance: render prompt: %w", err)
	}
	user, err := o.renderer.Render(prompt.EnhanceUser, data)
	if err != nil {
		return llm.Request{}, fmt.Errorf("enhance: render prompt: %w", err)
	}

	req := llm.Request{
		Model:     rc.Model,
		MaxTokens: rc.Connection.MaxTokens,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: system},
			{Role: llm.RoleUser, Content: user},
		},
	}
	if rc.Local {
		req.Tools = []llm.Tool{llm.ProgressToolDecl()}
		if compiled != "" {
			req.Grammar = compiled
		} else {
			req.GrammarName = grammar.DefaultName
		}
	}
	return req, nil
}

// generate streams the model output into sink and returns the final note.
func (o *Orchestrator) generate(ctx context.Context, rc RunContext, req llm.Request, sink NoteSink) (string, error) {
	client, err := o.newClient(rc.Connection)
	if err != nil {
		return "", fmt.Errorf("enhance: %w", err)
	}
	raw, err := client.Stream(ctx, req)
	if err != nil {
		return "", o.streamErr(ctx, err)
	}
	stream := llm.SmoothLines(ctx, raw)

	// Sink writes outlive cancellation so partial output is kept.
	writeCtx := context.WithoutCancel(ctx)
	var acc strings.Builder
	var last string
	for chunk := range stream.Chunks() {
		switch chunk.Type {
		case llm.ChunkText:
			acc.WriteString(chunk.Text)
		case llm.ChunkToolCall:
			if rc.Local && chunk.ToolName == llm.ProgressTool {
				o.setProgress(rc, clampProgress(chunk.Args["progress"]))
			}
		}
		html, err := markup.FromMarkdown(visibleNote(acc.String()))
		if err != nil {
			continue
		}
		if err := sink.Write(writeCtx, rc.SessionID, html); err != nil {
			o.log.Warn("write partial note failed", "session", rc.SessionID, "error", err)
			continue
		}
		last = html
	}

	text, err := stream.Wait()
	if err != nil {
		return last, o.streamErr(ctx, err)
	}
	if text == "" {
		text = acc.String()
	}
	final, err := markup.FromMarkdown(visibleNote(text))
	if err != nil {
		return last, fmt.Errorf("enhance: render note: %w", err)
	}
	return final, nil
}

// streamErr prefers the run's cancellation cause over transport errors.
func (o *Orchestrator) streamErr(ctx context.Context, err error) error {
	if cause := context.Cause(ctx); cause != nil {
		if errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded) {
			return fmt.Errorf("enhance: generation: %w", cause)
		}
		return cause
	}
	return fmt.Errorf("enhance: generation: %w", err)
}

// isCancellation reports whether err means the run was stopped, either by
// the user or by its deadline.
func isCancellation(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, ErrTimeout) ||
		strings.Contains(strings.ToLower(err.Error()), "cancel")
}

func clampProgress(v any) float64 {
	p, _ := v.(float64)
	switch {
	case p < 0:
		return 0
	case p > maxProgress:
		return maxProgress
	}
	return p
}
