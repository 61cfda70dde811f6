package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/zulandar/quill/internal/compose"
	"github.com/zulandar/quill/internal/enhance"
	"github.com/zulandar/quill/internal/grammar"
	"github.com/zulandar/quill/internal/markup"
	"github.com/zulandar/quill/internal/session"
)

// --- enhance_session ---

// EnhanceTool runs an enhancement and returns the note as text.
type EnhanceTool struct {
	store    *session.Store
	enhancer Enhancer
}

// NewEnhanceTool creates the enhance_session tool.
func NewEnhanceTool(store *session.Store, enhancer Enhancer) *EnhanceTool {
	return &EnhanceTool{store: store, enhancer: enhancer}
}

// Definition returns the tool schema.
func (t *EnhanceTool) Definition() mcp.Tool {
	return mcp.NewTool("enhance_session",
		mcp.WithDescription("Generate the enhanced note for a recorded session and return it as plain text."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session to enhance")),
		mcp.WithString("template_id", mcp.Description("Template to structure the note with")),
		mcp.WithBoolean("no_template", mcp.Description("Ignore the default template")),
	)
}

// Handle runs the tool.
func (t *EnhanceTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	templateID := req.GetString("template_id", "")
	noTemplate := req.GetBool("no_template", false)

	opts := enhance.Options{Trigger: enhance.TriggerManual}
	switch {
	case templateID != "" && noTemplate:
		return mcp.NewToolResultError("template_id and no_template are mutually exclusive"), nil
	case noTemplate:
		opts.Template = enhance.NoTemplate()
		opts.Trigger = enhance.TriggerTemplate
	case templateID != "":
		opts.Template = enhance.UseTemplate(templateID)
		opts.Trigger = enhance.TriggerTemplate
	}

	if _, err := t.store.Get(ctx, id); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	res, err := t.enhancer.Enhance(ctx, id, opts)
	if res == nil {
		return mcp.NewToolResultError(fmt.Sprintf("enhancement failed: %v", err)), nil
	}
	switch res.Outcome {
	case enhance.OutcomeCompleted:
		return mcp.NewToolResultText(markup.ToText(res.Markup)), nil
	case enhance.OutcomeTooShort:
		return mcp.NewToolResultError("the recording is too short to enhance"), nil
	case enhance.OutcomeBusy:
		return mcp.NewToolResultError("another process is already enhancing this session"), nil
	default:
		msg := fmt.Sprintf("enhancement %s", res.Outcome)
		if err != nil {
			msg += ": " + err.Error()
		}
		return mcp.NewToolResultError(msg), nil
	}
}

// --- compile_grammar ---

// GrammarTool compiles a template into its GBNF grammar.
type GrammarTool struct {
	store *session.Store
}

// NewGrammarTool creates the compile_grammar tool.
func NewGrammarTool(store *session.Store) *GrammarTool {
	return &GrammarTool{store: store}
}

// Definition returns the tool schema.
func (t *GrammarTool) Definition() mcp.Tool {
	return mcp.NewTool("compile_grammar",
		mcp.WithDescription("Compile a note template into the GBNF grammar used for on-device generation. "+
			"Pass either a stored template_id or section titles, one per line."),
		mcp.WithString("template_id", mcp.Description("Stored template to compile")),
		mcp.WithString("sections", mcp.Description("Section titles, one per line")),
	)
}

// Handle runs the tool.
func (t *GrammarTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	templateID := req.GetString("template_id", "")
	lines := req.GetString("sections", "")

	var sections []grammar.Section
	switch {
	case templateID != "" && lines != "":
		return mcp.NewToolResultError("pass template_id or sections, not both"), nil
	case templateID != "":
		tmpl, err := t.store.Template(ctx, templateID)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		sections = grammar.TemplateSections(tmpl)
	default:
		for _, l := range strings.Split(lines, "\n") {
			if l = strings.TrimSpace(l); l != "" {
				sections = append(sections, grammar.Section{Title: l})
			}
		}
	}
	if len(sections) == 0 {
		return mcp.NewToolResultError("no sections to compile"), nil
	}
	return mcp.NewToolResultText(grammar.Compile(sections)), nil
}

// --- compose_input ---

// ComposeTool extracts what the user wrote during the meeting.
type ComposeTool struct{}

// NewComposeTool creates the compose_input tool.
func NewComposeTool() *ComposeTool { return &ComposeTool{} }

// Definition returns the tool schema.
func (t *ComposeTool) Definition() mcp.Tool {
	return mcp.NewTool("compose_input",
		mcp.WithDescription("Return the text added to a raw note relative to its pre-meeting draft."),
		mcp.WithString("pre_meeting", mcp.Description("Draft written before the meeting")),
		mcp.WithString("raw", mcp.Required(), mcp.Description("Final raw note")),
	)
}

// Handle runs the tool.
func (t *ComposeTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := req.RequireString("raw")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(compose.Input(req.GetString("pre_meeting", ""), raw)), nil
}

// --- session_status ---

// StatusTool reports a session's note state and live progress.
type StatusTool struct {
	store    *session.Store
	enhancer Enhancer
}

// NewStatusTool creates the session_status tool.
func NewStatusTool(store *session.Store, enhancer Enhancer) *StatusTool {
	return &StatusTool{store: store, enhancer: enhancer}
}

// Definition returns the tool schema.
func (t *StatusTool) Definition() mcp.Tool {
	return mcp.NewTool("session_status",
		mcp.WithDescription("Show a session's title, visible note, and enhancement progress as JSON."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session to inspect")),
	)
}

type sessionStatus struct {
	SessionID  string  `json:"session_id"`
	Title      string  `json:"title"`
	ActiveView string  `json:"active_view"`
	Enhanced   bool    `json:"enhanced"`
	Pending    bool    `json:"pending"`
	Progress   float64 `json:"progress"`
	Active     bool    `json:"active"`
	LastRun    string  `json:"last_run,omitempty"`
}

// Handle runs the tool.
func (t *StatusTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	sess, err := t.store.Get(ctx, id)
	if errors.Is(err, session.ErrNotFound) {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err != nil {
		return nil, err
	}

	st := sessionStatus{
		SessionID:  sess.ID,
		Title:      sess.Title,
		ActiveView: sess.ActiveView,
		Enhanced:   sess.EnhancedNote != "",
		Pending:    t.enhancer.Pending(id),
	}
	st.Progress, st.Active = t.enhancer.Progress(id)

	runs, err := enhance.SessionRuns(t.store.DB().WithContext(ctx), id, 1)
	if err != nil {
		return nil, err
	}
	if len(runs) > 0 {
		st.LastRun = runs[0].Status
	}

	out, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(out)), nil
}
