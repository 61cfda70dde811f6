package tui

import (
	"github.com/zulandar/quill/internal/enhance"
	"github.com/zulandar/quill/internal/events"
	"github.com/zulandar/quill/internal/notify"
)

// HubEventMsg wraps an event read from the hub.
type HubEventMsg struct {
	Event events.Event
}

// hubClosedMsg is sent when the hub subscription ends.
type hubClosedMsg struct{}

// NoteMsg carries the latest enhanced note markup.
type NoteMsg struct {
	Markup string
}

// ProgressMsg carries local generation progress in [0, 1].
type ProgressMsg struct {
	Value float64
}

// TitleMsg carries a generated session title.
type TitleMsg struct {
	Title string
}

// NoticeMsg carries a user-visible notice.
type NoticeMsg struct {
	Notice notify.Notice
}

// DoneMsg is sent when the enhancement returns.
type DoneMsg struct {
	Result *enhance.Result
	Err    error
}

// translate maps a hub event to the message the model handles, or nil.
func translate(ev events.Event) any {
	switch ev.Type {
	case events.TypeEnhancedNote:
		if s, ok := ev.Data.(string); ok {
			return NoteMsg{Markup: s}
		}
	case events.TypeProgress:
		if m, ok := ev.Data.(map[string]any); ok {
			if p, ok := m["progress"].(float64); ok {
				return ProgressMsg{Value: p}
			}
		}
	case events.TypeTitle:
		if s, ok := ev.Data.(string); ok {
			return TitleMsg{Title: s}
		}
	case events.TypeNotice:
		if n, ok := ev.Data.(notify.Notice); ok {
			return NoticeMsg{Notice: n}
		}
	}
	return nil
}
