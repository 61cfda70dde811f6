package enhance

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zulandar/quill/internal/analytics"
	"github.com/zulandar/quill/internal/config"
	"github.com/zulandar/quill/internal/connection"
	"github.com/zulandar/quill/internal/db"
	"github.com/zulandar/quill/internal/events"
	"github.com/zulandar/quill/internal/llm"
	"github.com/zulandar/quill/internal/models"
	"github.com/zulandar/quill/internal/notify"
	"github.com/zulandar/quill/internal/session"
	"gorm.io/gorm"
)

type staticConns struct {
	mu         sync.Mutex
	conn       connection.Connection
	refreshes  int
	refreshErr error
}

func (s *staticConns) Refresh(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshes++
	return s.refreshErr
}

func (s *staticConns) setType(providerType string) {
	s.mu.Lock()
	s.conn.Type = providerType
	s.mu.Unlock()
}

func (s *staticConns) Current(context.Context) (connection.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn, nil
}

type noticeLog struct {
	mu      sync.Mutex
	notices []notify.Notice
}

func (n *noticeLog) Notify(_ context.Context, nt notify.Notice) {
	n.mu.Lock()
	n.notices = append(n.notices, nt)
	n.mu.Unlock()
}

func (n *noticeLog) kinds() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, nt := range n.notices {
		out = append(out, nt.Kind)
	}
	return out
}

type trackLog struct {
	mu     sync.Mutex
	events []analytics.Event
}

func (t *trackLog) Track(e analytics.Event) {
	t.mu.Lock()
	t.events = append(t.events, e)
	t.mu.Unlock()
}

type harness struct {
	db      *gorm.DB
	store   *session.Store
	conns   *staticConns
	fake    *llm.FakeClient
	hub     *events.Hub
	notices *noticeLog
	tracks  *trackLog
	cfg     *config.Config
	orch    *Orchestrator
}

func newHarness(t *testing.T, providerType string) *harness {
	t.Helper()
	gormDB, err := db.ConnectSQLite(":memory:")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	cfg.Enhance.SettleDelayMS = 1

	h := &harness{
		db:    gormDB,
		store: session.NewStore(gormDB),
		conns: &staticConns{conn: connection.Connection{
			Type:            providerType,
			Model:           "main-model",
			OnboardingModel: "demo-model",
			MaxTokens:       512,
		}},
		fake:    &llm.FakeClient{Reply: "Budget Review"},
		hub:     events.NewHub(),
		notices: &noticeLog{},
		tracks:  &trackLog{},
		cfg:     cfg,
	}
	factory := func(connection.Connection) (llm.Client, error) { return h.fake, nil }
	titler, err := NewTitler(TitlerOpts{Config: cfg, Store: h.store, Connections: h.conns, NewClient: factory, Hub: h.hub})
	if err != nil {
		t.Fatal(err)
	}
	h.orch, err = New(Opts{
		Config:      cfg,
		Store:       h.store,
		Connections: h.conns,
		NewClient:   factory,
		DB:          gormDB,
		Hub:         h.hub,
		Notifier:    h.notices,
		Analytics:   h.tracks,
		Titler:      titler,
	})
	if err != nil {
		t.Fatal(err)
	}
	return h
}

func (h *harness) seed(t *testing.T, id string, words ...string) {
	t.Helper()
	sess := &models.Session{
		ID:             id,
		PreMeetingNote: "<p>plan budget</p>",
		RawNote:        "<p>plan budget and timeline</p>",
	}
	for _, w := range words {
		sess.Words = append(sess.Words, models.Word{Text: w})
	}
	if err := h.store.Import(context.Background(), sess); err != nil {
		t.Fatalf("import: %v", err)
	}
}

func (h *harness) runStatus(t *testing.T, id string) string {
	t.Helper()
	var run models.EnhancementRun
	if err := h.db.Where("id = ?", id).First(&run).Error; err != nil {
		t.Fatalf("load run %s: %v", id, err)
	}
	return run.Status
}

func text(s string) llm.Chunk { return llm.Chunk{Type: llm.ChunkText, Text: s} }

func progress(p float64) llm.Chunk {
	return llm.Chunk{Type: llm.ChunkToolCall, ToolName: llm.ProgressTool, Args: map[string]any{"progress": p}}
}

// --- Success path tests ---

func TestEnhance_HostedSuccess(t *testing.T) {
	h := newHarness(t, config.ProviderAnthropic)
	h.seed(t, "s1", "we", "agreed", "on", "the", "budget")
	h.fake.Script = []llm.Chunk{text("# Sum"), text("mary\n"), text("\n- **Budget**: agreed.\n")}

	notes, unsub := h.hub.Subscribe(64)
	defer unsub()

	var gotSuccess string
	res, err := h.orch.Enhance(context.Background(), "s1", Options{
		OnSuccess: func(m string) { gotSuccess = m },
	})
	if err != nil {
		t.Fatalf("Enhance error = %v", err)
	}
	h.orch.Wait()

	if res.Outcome != OutcomeCompleted {
		t.Errorf("Outcome = %q, want completed", res.Outcome)
	}
	if !strings.Contains(res.Markup, "<h1>Summary</h1>") || !strings.Contains(res.Markup, "<strong>Budget</strong>") {
		t.Errorf("Markup = %q", res.Markup)
	}
	if gotSuccess != res.Markup {
		t.Errorf("OnSuccess markup = %q, want result markup", gotSuccess)
	}

	sess, _ := h.store.Get(context.Background(), "s1")
	if sess.EnhancedNote != res.Markup || sess.ActiveView != models.ViewEnhanced {
		t.Errorf("stored session = %+v", sess)
	}
	if sess.Title != "Budget Review" {
		t.Errorf("Title = %q, want chained title", sess.Title)
	}
	if h.runStatus(t, res.RunID) != models.RunCompleted {
		t.Errorf("run status = %q, want completed", h.runStatus(t, res.RunID))
	}

	// Hosted runs never report progress.
	if _, ok := h.orch.Progress("s1"); ok {
		t.Error("Progress present for hosted run")
	}
	req := h.fake.Requests()[0]
	if len(req.Tools) != 0 || req.Grammar != "" || req.GrammarName != "" {
		t.Errorf("hosted request carries local options: %+v", req)
	}
	if req.Model != "main-model" {
		t.Errorf("Model = %q, want main-model", req.Model)
	}
	if !strings.Contains(req.Messages[1].Content, "and timeline") {
		t.Errorf("user prompt missing composed input:\n%s", req.Messages[1].Content)
	}
	if strings.Contains(req.Messages[1].Content, "plan budget") {
		t.Errorf("user prompt repeats the pre-meeting draft:\n%s", req.Messages[1].Content)
	}

	if len(h.tracks.events) != 1 || h.tracks.events[0].Name != analytics.EventNoteEnhanced {
		t.Errorf("analytics = %+v, want one note_enhanced", h.tracks.events)
	}
	if len(h.notices.kinds()) != 0 {
		t.Errorf("notices = %v, want none", h.notices.kinds())
	}

	var writes []string
	for len(notes) > 0 {
		ev := <-notes
		if ev.Type == events.TypeEnhancedNote {
			writes = append(writes, ev.Data.(string))
		}
	}
	if len(writes) < 2 {
		t.Fatalf("partial writes = %d, want at least 2", len(writes))
	}
	if !strings.Contains(writes[0], "Summary") || strings.Contains(writes[0], "Budget") {
		t.Errorf("first write = %q, want heading only", writes[0])
	}
}

func TestEnhance_HidesThinkingBlock(t *testing.T) {
	h := newHarness(t, config.ProviderLocal)
	h.seed(t, "s1", "hello")
	h.fake.Script = []llm.Chunk{
		text("<thinking>\n- Objective: plan\n"),
		text("- keep short\n</thinking>\n\n# Notes\n\n- **A**: b.\n"),
	}
	res, err := h.orch.Enhance(context.Background(), "s1", Options{})
	if err != nil {
		t.Fatal(err)
	}
	h.orch.Wait()
	if strings.Contains(res.Markup, "Objective") {
		t.Errorf("Markup leaks planning: %q", res.Markup)
	}
	if !strings.Contains(res.Markup, "<h1>Notes</h1>") {
		t.Errorf("Markup = %q", res.Markup)
	}
}

func TestEnhance_Onboarding(t *testing.T) {
	h := newHarness(t, config.ProviderAnthropic)
	h.seed(t, h.cfg.Onboarding.SessionID)
	h.fake.Script = []llm.Chunk{text("# Launch\n")}

	res, err := h.orch.Enhance(context.Background(), h.cfg.Onboarding.SessionID, Options{})
	if err != nil {
		t.Fatalf("Enhance error = %v", err)
	}
	h.orch.Wait()
	if res.Outcome != OutcomeCompleted {
		t.Fatalf("Outcome = %q, want completed from bundled transcript", res.Outcome)
	}
	req := h.fake.Requests()[0]
	if req.Model != "demo-model" {
		t.Errorf("Model = %q, want onboarding model", req.Model)
	}
	if !strings.Contains(req.Messages[1].Content, "welcome") {
		t.Error("prompt does not carry the bundled transcript")
	}
	if h.tracks.events[0].Properties["onboarding"] != true {
		t.Errorf("analytics properties = %v, want onboarding=true", h.tracks.events[0].Properties)
	}
}

// --- Precondition tests ---

func TestEnhance_TooShort(t *testing.T) {
	h := newHarness(t, config.ProviderLocal)
	h.seed(t, "s1")

	res, err := h.orch.Enhance(context.Background(), "s1", Options{})
	if err != nil {
		t.Fatalf("Enhance error = %v, want nil for too short", err)
	}
	if res.Outcome != OutcomeTooShort {
		t.Errorf("Outcome = %q, want too_short", res.Outcome)
	}
	if n := len(h.fake.Requests()); n != 0 {
		t.Errorf("generator called %d times, want 0", n)
	}
	if got := h.notices.kinds(); len(got) != 1 || got[0] != notify.KindTooShort {
		t.Errorf("notices = %v, want too-short notice", got)
	}
	if h.runStatus(t, res.RunID) != models.RunTooShort {
		t.Errorf("run status = %q, want too_short", h.runStatus(t, res.RunID))
	}
	if _, ok := h.orch.Progress("s1"); ok {
		t.Error("Progress set by a run that never started generating")
	}
}

func TestEnhance_NoiseOnlyIsTooShort(t *testing.T) {
	h := newHarness(t, config.ProviderAnthropic)
	h.seed(t, "s1", "[BLANK_AUDIO]", "  ", "[music]")

	res, err := h.orch.Enhance(context.Background(), "s1", Options{})
	if err != nil || res.Outcome != OutcomeTooShort {
		t.Fatalf("Enhance = %+v, %v; want too_short", res, err)
	}
}

func TestEnhance_MissingSession(t *testing.T) {
	h := newHarness(t, config.ProviderAnthropic)
	res, err := h.orch.Enhance(context.Background(), "ghost", Options{})
	if !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
	if res.Outcome != OutcomeFailed {
		t.Errorf("Outcome = %q, want failed", res.Outcome)
	}
	if got := h.notices.kinds(); len(got) != 1 || got[0] != notify.KindEnhanceFailed {
		t.Errorf("notices = %v, want one failure notice for a missing session", got)
	}
}

func TestEnhance_RefreshFailureNotifies(t *testing.T) {
	h := newHarness(t, config.ProviderAnthropic)
	h.seed(t, "s1", "hello")
	h.conns.refreshErr = errors.New("provider settings unreadable")

	_, err := h.orch.Enhance(context.Background(), "s1", Options{})
	if err == nil || !strings.Contains(err.Error(), "provider settings unreadable") {
		t.Fatalf("error = %v, want refresh failure", err)
	}
	if got := h.notices.kinds(); len(got) != 1 || got[0] != notify.KindEnhanceFailed {
		t.Errorf("notices = %v, want one failure notice", got)
	}
	if n := len(h.fake.Requests()); n != 0 {
		t.Errorf("generator called %d times, want 0", n)
	}
}

// --- Local provider tests ---

func seedTemplate(t *testing.T, h *harness, id string, sections ...string) {
	t.Helper()
	tc := config.TemplateConfig{ID: id, Title: "T " + id}
	for _, s := range sections {
		tc.Sections = append(tc.Sections, config.SectionConfig{Title: s})
	}
	if err := db.SeedTemplates(h.db, []config.TemplateConfig{tc}); err != nil {
		t.Fatal(err)
	}
}

func TestEnhance_LocalGrammarAndProgress(t *testing.T) {
	h := newHarness(t, config.ProviderLocal)
	h.seed(t, "s1", "hello")
	seedTemplate(t, h, "standup", "Yesterday", "Today")
	h.fake.Script = []llm.Chunk{progress(0.4), text("# Yesterday\n"), progress(1.7)}

	var seen []float64
	ch, unsub := h.hub.Subscribe(64)
	defer unsub()

	res, err := h.orch.Enhance(context.Background(), "s1", Options{Trigger: TriggerTemplate, Template: UseTemplate("standup")})
	if err != nil {
		t.Fatal(err)
	}
	h.orch.Wait()
	for len(ch) > 0 {
		ev := <-ch
		if ev.Type == events.TypeProgress {
			seen = append(seen, ev.Data.(map[string]any)["progress"].(float64))
		}
	}

	want := []float64{0, 0.4, maxProgress, 0}
	if len(seen) != len(want) {
		t.Fatalf("progress = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("progress[%d] = %v, want %v", i, seen[i], want[i])
		}
	}
	if p, ok := h.orch.Progress("s1"); !ok || p != 0 {
		t.Errorf("Progress = %v, %v; want 0, true after local run", p, ok)
	}

	req := h.fake.Requests()[0]
	if !req.HasTool(llm.ProgressTool) {
		t.Error("local request missing progress tool")
	}
	if !strings.Contains(req.Grammar, `"# Yesterday\n\n"`) || !strings.Contains(req.Grammar, `"# Today\n\n"`) {
		t.Errorf("Grammar does not encode template sections:\n%s", req.Grammar)
	}
	if !strings.Contains(req.Messages[0].Content, "1. Yesterday") {
		t.Errorf("system prompt missing numbered sections:\n%s", req.Messages[0].Content)
	}

	var run models.EnhancementRun
	h.db.Where("id = ?", res.RunID).First(&run)
	if run.TemplateID == nil || *run.TemplateID != "standup" || run.TriggerType != string(TriggerTemplate) {
		t.Errorf("run = %+v", run)
	}
}

type progressSink struct {
	orch *Orchestrator
	mu   sync.Mutex
	seen []bool
}

func (p *progressSink) Write(_ context.Context, sessionID, _ string) error {
	_, ok := p.orch.Progress(sessionID)
	p.mu.Lock()
	p.seen = append(p.seen, ok)
	p.mu.Unlock()
	return nil
}

func TestEnhance_HostedRunClearsLocalProgress(t *testing.T) {
	h := newHarness(t, config.ProviderLocal)
	h.seed(t, "s1", "hello")
	h.fake.Script = []llm.Chunk{progress(0.5), text("# A\n")}
	ctx := context.Background()

	if _, err := h.orch.Enhance(ctx, "s1", Options{}); err != nil {
		t.Fatal(err)
	}
	if _, ok := h.orch.Progress("s1"); !ok {
		t.Fatal("Progress absent after local run")
	}

	h.conns.setType(config.ProviderAnthropic)
	sink := &progressSink{orch: h.orch}
	if _, err := h.orch.Enhance(ctx, "s1", Options{Sink: sink}); err != nil {
		t.Fatal(err)
	}
	h.orch.Wait()
	if len(sink.seen) == 0 {
		t.Fatal("hosted run wrote no partial notes")
	}
	for i, ok := range sink.seen {
		if ok {
			t.Errorf("write %d: Progress present during hosted run", i)
		}
	}
	if _, ok := h.orch.Progress("s1"); ok {
		t.Error("Progress present after hosted run")
	}
}

func TestEnhance_TemplateResolution(t *testing.T) {
	h := newHarness(t, config.ProviderLocal)
	h.seed(t, "s1", "hello")
	seedTemplate(t, h, "standup", "Yesterday")
	h.store.SetSetting(context.Background(), models.SettingSelectedTemplate, "standup")
	h.fake.Script = []llm.Chunk{text("# x\n")}
	ctx := context.Background()

	if _, err := h.orch.Enhance(ctx, "s1", Options{}); err != nil {
		t.Fatal(err)
	}
	if _, err := h.orch.Enhance(ctx, "s1", Options{Template: NoTemplate()}); err != nil {
		t.Fatal(err)
	}
	if _, err := h.orch.Enhance(ctx, "s1", Options{Template: UseTemplate("missing")}); err != nil {
		t.Fatal(err)
	}
	h.orch.Wait()

	reqs := streamRequests(h.fake.Requests())
	if len(reqs) != 3 {
		t.Fatalf("stream requests = %d, want 3", len(reqs))
	}
	if !strings.Contains(reqs[0].Grammar, "Yesterday") {
		t.Error("unset ref should use the selected template setting")
	}
	for i, r := range reqs[1:] {
		if r.Grammar != "" || r.GrammarName != "enhance" {
			t.Errorf("request %d: Grammar = %q, GrammarName = %q; want named default", i+1, r.Grammar, r.GrammarName)
		}
	}
}

func TestEnhance_RecordsResolvedTemplate(t *testing.T) {
	h := newHarness(t, config.ProviderAnthropic)
	h.seed(t, "s1", "hello")
	seedTemplate(t, h, "standup", "Yesterday")
	h.cfg.General.SelectedTemplateID = "standup"
	h.fake.Script = []llm.Chunk{text("# x\n")}
	ctx := context.Background()

	byDefault, err := h.orch.Enhance(ctx, "s1", Options{})
	if err != nil {
		t.Fatal(err)
	}
	missing, err := h.orch.Enhance(ctx, "s1", Options{Template: UseTemplate("missing")})
	if err != nil {
		t.Fatal(err)
	}
	h.orch.Wait()

	templateOf := func(runID string) string {
		var run models.EnhancementRun
		if err := h.db.Where("id = ?", runID).First(&run).Error; err != nil {
			t.Fatalf("load run %s: %v", runID, err)
		}
		if run.TemplateID == nil {
			return ""
		}
		return *run.TemplateID
	}
	if got := templateOf(byDefault.RunID); got != "standup" {
		t.Errorf("default run template = %q, want standup", got)
	}
	if got := templateOf(missing.RunID); got != "" {
		t.Errorf("missing template run template = %q, want none", got)
	}
}

// streamRequests drops title requests, which carry no tools.
func streamRequests(reqs []llm.Request) []llm.Request {
	var out []llm.Request
	for _, r := range reqs {
		if r.HasTool(llm.ProgressTool) || r.MaxTokens != 64 {
			out = append(out, r)
		}
	}
	return out
}

// --- Cancellation and failure tests ---

func waitForNote(t *testing.T, ch <-chan events.Event) {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Type == events.TypeEnhancedNote {
				return
			}
		case <-timeout:
			t.Fatal("timed out waiting for a partial note")
		}
	}
}

func TestEnhance_CancelKeepsPartialOutput(t *testing.T) {
	h := newHarness(t, config.ProviderLocal)
	h.seed(t, "s1", "hello")
	h.fake.Script = []llm.Chunk{text("# Partial\n")}
	h.fake.Gate = make(chan struct{})
	defer close(h.fake.Gate)

	notes, unsub := h.hub.Subscribe(64)
	defer unsub()

	type out struct {
		res *Result
		err error
	}
	done := make(chan out, 1)
	go func() {
		res, err := h.orch.Enhance(context.Background(), "s1", Options{})
		done <- out{res, err}
	}()

	waitForNote(t, notes)
	if !h.orch.Cancel("s1") {
		t.Fatal("Cancel = false, want an active run")
	}

	var o out
	select {
	case o = <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("run did not stop after cancel")
	}
	if !errors.Is(o.err, ErrCancelled) {
		t.Errorf("error = %v, want ErrCancelled", o.err)
	}
	if o.res.Outcome != OutcomeCancelled {
		t.Errorf("Outcome = %q, want cancelled", o.res.Outcome)
	}
	if len(h.notices.kinds()) != 0 {
		t.Errorf("notices = %v, want none on cancel", h.notices.kinds())
	}
	sess, _ := h.store.Get(context.Background(), "s1")
	if !strings.Contains(sess.EnhancedNote, "Partial") {
		t.Errorf("EnhancedNote = %q, want partial output kept", sess.EnhancedNote)
	}
	if sess.ActiveView != models.ViewRaw {
		t.Errorf("ActiveView = %q, want raw after cancel", sess.ActiveView)
	}
	if p, ok := h.orch.Progress("s1"); !ok || p != 0 {
		t.Errorf("Progress = %v, %v; want reset to 0", p, ok)
	}
	if h.runStatus(t, o.res.RunID) != models.RunCancelled {
		t.Errorf("run status = %q, want cancelled", h.runStatus(t, o.res.RunID))
	}
	if h.orch.Cancel("s1") {
		t.Error("Cancel after run end = true, want false")
	}
}

func TestEnhance_GenerationFailureNotifies(t *testing.T) {
	h := newHarness(t, config.ProviderAnthropic)
	h.seed(t, "s1", "hello")
	h.fake.Script = []llm.Chunk{text("# A\n")}
	h.fake.Err = errors.New("anthropic: API error (HTTP 500)")

	res, err := h.orch.Enhance(context.Background(), "s1", Options{})
	if err == nil {
		t.Fatal("expected error")
	}
	h.orch.Wait()
	if res.Outcome != OutcomeFailed {
		t.Errorf("Outcome = %q, want failed", res.Outcome)
	}
	if got := h.notices.kinds(); len(got) != 1 || got[0] != notify.KindEnhanceFailed {
		t.Errorf("notices = %v, want one failure notice", got)
	}
	sess, _ := h.store.Get(context.Background(), "s1")
	if sess.Title != "" {
		t.Errorf("Title = %q, want no title after failure", sess.Title)
	}
	if len(h.tracks.events) != 0 {
		t.Errorf("analytics = %+v, want none after failure", h.tracks.events)
	}
}

func TestEnhance_CancelMarkerInProviderError(t *testing.T) {
	h := newHarness(t, config.ProviderAnthropic)
	h.seed(t, "s1", "hello")
	h.fake.StartErr = errors.New("request cancelled by runtime")

	res, err := h.orch.Enhance(context.Background(), "s1", Options{})
	if err == nil || res.Outcome != OutcomeCancelled {
		t.Fatalf("Enhance = %+v, %v; want cancelled", res, err)
	}
	if len(h.notices.kinds()) != 0 {
		t.Errorf("notices = %v, want none", h.notices.kinds())
	}
}

func TestEnhance_Timeout(t *testing.T) {
	h := newHarness(t, config.ProviderAnthropic)
	h.cfg.Enhance.TimeoutSeconds = 1
	h.seed(t, "s1", "hello")
	h.fake.Gate = make(chan struct{})
	defer close(h.fake.Gate)

	res, err := h.orch.Enhance(context.Background(), "s1", Options{})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("error = %v, want ErrTimeout", err)
	}
	if res.Outcome != OutcomeCancelled {
		t.Errorf("Outcome = %q, want cancelled", res.Outcome)
	}
	if got := h.notices.kinds(); len(got) != 0 {
		t.Errorf("notices = %v, want none on timeout", got)
	}
	if h.runStatus(t, res.RunID) != models.RunCancelled {
		t.Errorf("run status = %q, want cancelled", h.runStatus(t, res.RunID))
	}
}

type discardSink struct{}

func (discardSink) Write(context.Context, string, string) error { return nil }

func TestEnhance_PersistFailureIsFailed(t *testing.T) {
	h := newHarness(t, config.ProviderAnthropic)
	h.seed(t, "s1", "hello")
	h.fake.Script = []llm.Chunk{text("# A\n")}
	h.db.Callback().Update().Before("gorm:update").Register("fail_note_write", func(tx *gorm.DB) {
		if fields, ok := tx.Statement.Dest.(map[string]any); ok {
			if _, ok := fields["enhanced_note"]; ok {
				tx.AddError(errors.New("disk full"))
			}
		}
	})

	res, err := h.orch.Enhance(context.Background(), "s1", Options{Sink: discardSink{}})
	if err == nil || !strings.Contains(err.Error(), "persist") {
		t.Fatalf("error = %v, want persist failure", err)
	}
	h.orch.Wait()
	if res.Outcome != OutcomeFailed {
		t.Errorf("Outcome = %q, want failed", res.Outcome)
	}
	if h.runStatus(t, res.RunID) != models.RunFailed {
		t.Errorf("run status = %q, want failed", h.runStatus(t, res.RunID))
	}
	if got := h.notices.kinds(); len(got) != 1 || got[0] != notify.KindEnhanceFailed {
		t.Errorf("notices = %v, want one failure notice", got)
	}
	if len(h.tracks.events) != 0 {
		t.Errorf("analytics = %+v, want none after a failed persist", h.tracks.events)
	}
}

// --- Concurrency tests ---

func TestEnhance_SerializesPerSession(t *testing.T) {
	h := newHarness(t, config.ProviderAnthropic)
	h.seed(t, "s1", "hello")
	h.fake.Script = []llm.Chunk{text("# A\n")}
	gate := make(chan struct{})
	h.fake.Gate = gate

	var wg sync.WaitGroup
	results := make([]*Result, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = h.orch.Enhance(context.Background(), "s1", Options{})
		}(i)
	}

	deadline := time.Now().Add(3 * time.Second)
	for len(streamRequests(h.fake.Requests())) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !h.orch.Pending("s1") {
		t.Error("Pending = false while a run is in flight")
	}
	close(gate)
	wg.Wait()
	h.orch.Wait()

	if peak := h.fake.PeakConcurrent(); peak != 1 {
		t.Errorf("peak concurrent streams = %d, want 1", peak)
	}
	for i, r := range results {
		if r == nil || r.Outcome != OutcomeCompleted {
			t.Errorf("result[%d] = %+v, want completed", i, r)
		}
	}
	if h.orch.Pending("s1") {
		t.Error("Pending = true after all runs finished")
	}
}

func TestEnhance_RunLockHeldElsewhere(t *testing.T) {
	h := newHarness(t, config.ProviderAnthropic)
	h.seed(t, "s1", "hello")
	h.db.Create(&models.EnhancementRun{
		ID: "other", SessionID: "s1", TriggerType: "manual", Status: models.RunRunning, StartedAt: time.Now(),
	})

	res, err := h.orch.Enhance(context.Background(), "s1", Options{})
	if !errors.Is(err, ErrRunInProgress) {
		t.Fatalf("error = %v, want ErrRunInProgress", err)
	}
	if res.Outcome != OutcomeBusy {
		t.Errorf("Outcome = %q, want busy", res.Outcome)
	}
	if len(h.fake.Requests()) != 0 {
		t.Error("generator called while another process holds the lock")
	}
}

func TestAcquireRunLock_ExpiresStale(t *testing.T) {
	h := newHarness(t, config.ProviderAnthropic)
	h.db.Create(&models.EnhancementRun{
		ID: "old", SessionID: "s1", TriggerType: "auto", Status: models.RunRunning,
		StartedAt: time.Now().Add(-time.Hour),
	})

	rc := RunContext{RunID: "new", SessionID: "s1", Trigger: TriggerManual, StartedAt: time.Now()}
	if _, err := AcquireRunLock(h.db, rc, time.Minute); err != nil {
		t.Fatalf("AcquireRunLock error = %v", err)
	}
	if got := h.runStatus(t, "old"); got != models.RunFailed {
		t.Errorf("stale run status = %q, want failed", got)
	}
	if err := FinishRun(h.db, "new", models.RunCompleted, ""); err != nil {
		t.Fatal(err)
	}
	if err := FinishRun(h.db, "new", models.RunCompleted, ""); err == nil {
		t.Error("second FinishRun should fail")
	}

	runs, _ := SessionRuns(h.db, "s1", 10)
	if len(runs) != 2 || runs[0].ID != "new" {
		t.Errorf("SessionRuns = %+v, want newest first", runs)
	}
	since, _ := RunsSince(h.db, time.Now().Add(-time.Minute))
	if len(since) != 1 || since[0].ID != "new" {
		t.Errorf("RunsSince = %+v, want only the new run", since)
	}
}

func TestTemplateRef(t *testing.T) {
	if DefaultTemplate().IsSet() || DefaultTemplate().String() != "default" {
		t.Error("DefaultTemplate should be unset")
	}
	if !NoTemplate().IsSet() || NoTemplate().ID() != "" || NoTemplate().String() != "none" {
		t.Error("NoTemplate should be set with no id")
	}
	if r := UseTemplate("x"); !r.IsSet() || r.ID() != "x" {
		t.Errorf("UseTemplate = %+v", r)
	}
}

func TestClampProgress(t *testing.T) {
	for in, want := range map[any]float64{-1.0: 0, 0.5: 0.5, 1.0: maxProgress, "bad": 0, nil: 0} {
		if got := clampProgress(in); got != want {
			t.Errorf("clampProgress(%v) = %v, want %v", in, got, want)
		}
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Opts{}); err == nil || !strings.Contains(err.Error(), "config is required") {
		t.Errorf("error = %v, want config is required", err)
	}
	if _, err := New(Opts{Config: config.Default()}); err == nil || !strings.Contains(err.Error(), "store is required") {
		t.Errorf("error = %v, want store is required", err)
	}
}
