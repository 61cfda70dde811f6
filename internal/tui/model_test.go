package tui

import (
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/zulandar/quill/internal/enhance"
	"github.com/zulandar/quill/internal/events"
	"github.com/zulandar/quill/internal/notify"
)

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	return next.(Model), cmd
}

func TestNewModel(t *testing.T) {
	m := New(Opts{SessionID: "s1", Local: true})
	if m.done || m.cancelling {
		t.Error("new model should be running")
	}
	if !strings.Contains(m.View(), "enhancing...") {
		t.Errorf("view missing status:\n%s", m.View())
	}
	if !strings.Contains(m.View(), "0%") {
		t.Errorf("local view missing progress bar:\n%s", m.View())
	}
}

func TestTranslate(t *testing.T) {
	tests := []struct {
		name string
		ev   events.Event
		want any
	}{
		{"note", events.Event{Type: events.TypeEnhancedNote, Data: "<p>hi</p>"}, NoteMsg{Markup: "<p>hi</p>"}},
		{"progress", events.Event{Type: events.TypeProgress, Data: map[string]any{"progress": 0.4}}, ProgressMsg{Value: 0.4}},
		{"title", events.Event{Type: events.TypeTitle, Data: "Launch sync"}, TitleMsg{Title: "Launch sync"}},
		{"notice", events.Event{Type: events.TypeNotice, Data: notify.TooShort("s1")}, NoticeMsg{Notice: notify.TooShort("s1")}},
		{"run", events.Event{Type: events.TypeRun}, nil},
		{"bad data", events.Event{Type: events.TypeTitle, Data: 3}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := translate(tt.ev); got != tt.want {
				t.Errorf("translate = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestUpdate_StreamingNote(t *testing.T) {
	m := New(Opts{SessionID: "s1"})
	m, _ = update(t, m, NoteMsg{Markup: "<h1>Summary</h1><ul><li>Ship Friday</li></ul>"})
	if !strings.Contains(m.View(), "Ship Friday") {
		t.Errorf("view missing note:\n%s", m.View())
	}
	if strings.Contains(m.View(), "<li>") {
		t.Errorf("view shows markup:\n%s", m.View())
	}
}

func TestUpdate_HubEventReadsNext(t *testing.T) {
	ch := make(chan events.Event, 2)
	m := New(Opts{SessionID: "s1", Events: ch})

	m, cmd := update(t, m, HubEventMsg{Event: events.Event{Type: events.TypeTitle, SessionID: "s1", Data: "Budget"}})
	if m.title != "Budget" {
		t.Errorf("title = %q, want Budget", m.title)
	}
	if cmd == nil {
		t.Fatal("expected a command reading the next event")
	}
}

func TestWaitEventCmd_FiltersSessions(t *testing.T) {
	ch := make(chan events.Event, 3)
	ch <- events.Event{Type: events.TypeTitle, SessionID: "other", Data: "x"}
	ch <- events.Event{Type: events.TypeRun, SessionID: "s1"}
	ch <- events.Event{Type: events.TypeTitle, SessionID: "s1", Data: "mine"}

	msg := waitEventCmd(ch, "s1")()
	ev, ok := msg.(HubEventMsg)
	if !ok || ev.Event.Data != "mine" {
		t.Errorf("msg = %#v, want the s1 title event", msg)
	}

	close(ch)
	if _, ok := waitEventCmd(ch, "s1")().(hubClosedMsg); !ok {
		t.Error("want hubClosedMsg after close")
	}
	if waitEventCmd(nil, "s1") != nil {
		t.Error("nil channel should yield nil command")
	}
}

func TestKey_CancelOnce(t *testing.T) {
	calls := 0
	m := New(Opts{SessionID: "s1", Cancel: func() { calls++ }})

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd != nil {
		t.Error("cancel should wait for the run to return, not quit")
	}
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyCtrlC})
	if calls != 1 {
		t.Errorf("cancel calls = %d, want 1", calls)
	}
	if !strings.Contains(m.View(), "cancelling") {
		t.Errorf("view missing cancelling status:\n%s", m.View())
	}
}

func TestKey_ToggleRaw(t *testing.T) {
	m := New(Opts{SessionID: "s1", RawNote: "my raw note"})
	m, _ = update(t, m, NoteMsg{Markup: "<p>enhanced</p>"})
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("r")})
	if !strings.Contains(m.View(), "my raw note") {
		t.Errorf("raw view missing raw note:\n%s", m.View())
	}
}

func TestDone_Quits(t *testing.T) {
	m := New(Opts{SessionID: "s1"})
	res := &enhance.Result{Outcome: enhance.OutcomeCancelled, Markup: "<p>partial</p>"}
	m, cmd := update(t, m, DoneMsg{Result: res, Err: enhance.ErrCancelled})
	if cmd == nil {
		t.Fatal("DoneMsg should quit")
	}
	got, err := m.Result()
	if got != res || !errors.Is(err, enhance.ErrCancelled) {
		t.Errorf("Result = %v, %v", got, err)
	}
	if m.Markup() != "<p>partial</p>" {
		t.Errorf("Markup = %q", m.Markup())
	}
	if !strings.Contains(m.View(), "cancelled") {
		t.Errorf("view missing outcome:\n%s", m.View())
	}
}

func TestRenderBar(t *testing.T) {
	if got := renderBar(1.5); !strings.Contains(got, "100%") {
		t.Errorf("renderBar(1.5) = %q, want clamped to 100%%", got)
	}
	if got := renderBar(-1); !strings.Contains(got, "  0%") {
		t.Errorf("renderBar(-1) = %q, want 0%%", got)
	}
}
