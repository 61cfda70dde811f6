// Package tui renders a live view of an enhancement in the terminal.
package tui

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/zulandar/quill/internal/enhance"
	"github.com/zulandar/quill/internal/events"
	"github.com/zulandar/quill/internal/markup"
)

// barWidth is the progress bar width in cells.
const barWidth = 30

// Model is the bubbletea model for `quill enhance`.
type Model struct {
	sessionID string
	title     string
	local     bool
	rawNote   string

	events <-chan events.Event
	cancel func()

	note       string // plain text of the latest enhanced markup
	markup     string
	progress   float64
	showRaw    bool
	scroll     int
	cancelling bool

	done   bool
	result *enhance.Result
	err    error
	notice string

	width  int
	height int
}

// Opts configures a Model.
type Opts struct {
	SessionID string
	Title     string
	RawNote   string // plain text
	Local     bool   // show the progress bar
	Events    <-chan events.Event
	Cancel    func() // stops the run; called at most once
}

// New creates a Model.
func New(opts Opts) Model {
	cancel := opts.Cancel
	if cancel == nil {
		cancel = func() {}
	}
	return Model{
		sessionID: opts.SessionID,
		title:     opts.Title,
		local:     opts.Local,
		rawNote:   opts.RawNote,
		events:    opts.Events,
		cancel:    cancel,
		width:     80,
		height:    24,
	}
}

// Init starts reading hub events.
func (m Model) Init() tea.Cmd {
	return waitEventCmd(m.events, m.sessionID)
}

// waitEventCmd reads hub events until one for sessionID translates into a
// message.
func waitEventCmd(ch <-chan events.Event, sessionID string) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		for ev := range ch {
			if ev.SessionID != sessionID {
				continue
			}
			if translate(ev) != nil {
				return HubEventMsg{Event: ev}
			}
		}
		return hubClosedMsg{}
	}
}

// Update processes messages and returns the updated model and any commands.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case HubEventMsg:
		next, cmd := m.Update(translate(msg.Event))
		return next, tea.Batch(cmd, waitEventCmd(m.events, m.sessionID))

	case hubClosedMsg:
		return m, nil

	case NoteMsg:
		m.markup = msg.Markup
		m.note = markup.ToText(msg.Markup)
		return m, nil

	case ProgressMsg:
		m.progress = msg.Value
		return m, nil

	case TitleMsg:
		m.title = msg.Title
		return m, nil

	case NoticeMsg:
		m.notice = msg.Notice.Title
		return m, nil

	case DoneMsg:
		m.done = true
		m.result = msg.Result
		m.err = msg.Err
		if msg.Result != nil && msg.Result.Markup != "" {
			m.markup = msg.Result.Markup
			m.note = markup.ToText(msg.Result.Markup)
		}
		return m, tea.Quit
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case KeyQuit, KeyQuitUpper, KeyEsc, KeyCtrlC:
		if m.done {
			return m, tea.Quit
		}
		// The run returns with its partial note; DoneMsg quits.
		if !m.cancelling {
			m.cancelling = true
			m.cancel()
		}
		return m, nil
	case KeyRaw:
		m.showRaw = !m.showRaw
		m.scroll = 0
	case KeyDown, KeyJ:
		m.scroll++
	case KeyUp, KeyK:
		if m.scroll > 0 {
			m.scroll--
		}
	}
	return m, nil
}

// Result returns the enhancement result once the program has exited.
func (m Model) Result() (*enhance.Result, error) {
	return m.result, m.err
}

// Markup returns the latest enhanced note markup.
func (m Model) Markup() string { return m.markup }

// View renders the screen.
func (m Model) View() string {
	var b strings.Builder
	b.WriteString(m.header())
	b.WriteString("\n")
	if m.local && !m.done {
		b.WriteString(renderBar(m.progress))
		b.WriteString("\n")
	}
	if m.notice != "" {
		b.WriteString(errorStyle.Render(m.notice))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(m.body())
	b.WriteString("\n")
	b.WriteString(helpStyle.Render(m.help()))
	return b.String()
}

func (m Model) header() string {
	title := m.title
	if title == "" {
		title = m.sessionID
	}
	var dot, status string
	switch {
	case m.done && m.err != nil:
		dot, status = errorStyle.Render("●"), m.outcome()
	case m.done:
		dot, status = doneDotStyle.Render("●"), m.outcome()
	case m.cancelling:
		dot, status = runningDotStyle.Render("●"), "cancelling..."
	default:
		dot, status = runningDotStyle.Render("●"), "enhancing..."
	}
	return fmt.Sprintf("%s %s  %s", dot, titleStyle.Render(title), statusStyle.Render(status))
}

func (m Model) outcome() string {
	if m.result == nil {
		if m.err != nil {
			return "error: " + m.err.Error()
		}
		return "done"
	}
	return string(m.result.Outcome)
}

func (m Model) body() string {
	text := m.note
	if m.showRaw {
		text = m.rawNote
	}
	if text == "" {
		return statusStyle.Render("waiting for the model...")
	}
	lines := strings.Split(text, "\n")

	// Follow the tail while streaming; scroll offsets count up from it.
	avail := m.height - 6
	if avail < 3 {
		avail = 3
	}
	end := len(lines) - m.scroll
	if end < avail {
		end = min(avail, len(lines))
	}
	start := max(end-avail, 0)
	return noteStyle.Render(strings.Join(lines[start:end], "\n"))
}

func (m Model) help() string {
	if m.done {
		return "q quit"
	}
	return "q cancel  r raw/enhanced  ↑/↓ scroll"
}

// renderBar draws a progress bar for p in [0, 1].
func renderBar(p float64) string {
	p = min(max(p, 0), 1)
	full := int(p * barWidth)
	return barFullStyle.Render(strings.Repeat("█", full)) +
		barEmptyStyle.Render(strings.Repeat("░", barWidth-full)) +
		statusStyle.Render(fmt.Sprintf(" %3.0f%%", p*100))
}

// Run drives enhance inside a bubbletea program and returns the run's
// result. The caller subscribes ch to the hub the orchestrator publishes to.
func Run(ctx context.Context, opts Opts, enhanceFn func(ctx context.Context) (*enhance.Result, error)) (Model, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if opts.Cancel == nil {
		opts.Cancel = cancel
	}

	p := tea.NewProgram(New(opts), tea.WithContext(ctx))
	go func() {
		res, err := enhanceFn(runCtx)
		p.Send(DoneMsg{Result: res, Err: err})
	}()

	final, err := p.Run()
	if err != nil {
		return Model{}, fmt.Errorf("tui: %w", err)
	}
	return final.(Model), nil
}
