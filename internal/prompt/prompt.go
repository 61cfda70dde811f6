// Package prompt renders the system and user prompts for enhancement and
// title generation from embedded text/template files.
package prompt

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"
)

// Template names.
const (
	EnhanceSystem = "enhance.system"
	EnhanceUser   = "enhance.user"
	TitleSystem   = "title.system"
	TitleUser     = "title.user"
)

//go:embed templates/*.tmpl
var templatesFS embed.FS

// Section is one numbered template section.
type Section struct {
	Title       string
	Description string
}

// TemplateMeta describes the note template in use, if any.
type TemplateMeta struct {
	Title       string
	Description string
	Sections    []Section
}

// Participant is a meeting attendee.
type Participant struct {
	Name         string
	Organization string
}

// EnhanceData feeds the enhance.* templates.
type EnhanceData struct {
	Language     string
	ProviderType string
	Template     *TemplateMeta
	Content      string // composed user input
	Words        string // JSON-encoded transcript words
	Participants []Participant
}

// TitleData feeds the title.* templates.
type TitleData struct {
	Language     string
	ProviderType string
	Enhanced     string // enhanced note as plain text
}

// Renderer executes named prompt templates.
type Renderer struct {
	tmpl *template.Template
}

// NewRenderer parses the embedded prompt templates.
func NewRenderer() (*Renderer, error) {
	funcMap := template.FuncMap{
		"add": func(a, b int) int { return a + b },
	}
	tmpl := template.New("prompt").Funcs(funcMap)
	entries, err := templatesFS.ReadDir("templates")
	if err != nil {
		return nil, fmt.Errorf("prompt: read templates: %w", err)
	}
	for _, e := range entries {
		data, err := templatesFS.ReadFile("templates/" + e.Name())
		if err != nil {
			return nil, fmt.Errorf("prompt: read %s: %w", e.Name(), err)
		}
		name := strings.TrimSuffix(e.Name(), ".tmpl")
		if _, err := tmpl.New(name).Parse(string(data)); err != nil {
			return nil, fmt.Errorf("prompt: parse %s: %w", name, err)
		}
	}
	return &Renderer{tmpl: tmpl}, nil
}

// Render executes the named template with data.
func (r *Renderer) Render(name string, data any) (string, error) {
	t := r.tmpl.Lookup(name)
	if t == nil {
		return "", fmt.Errorf("prompt: unknown template %q", name)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("prompt: execute %s: %w", name, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// Names lists the available template names.
func (r *Renderer) Names() []string {
	var names []string
	for _, t := range r.tmpl.Templates() {
		if t.Name() != "prompt" {
			names = append(names, t.Name())
		}
	}
	return names
}
