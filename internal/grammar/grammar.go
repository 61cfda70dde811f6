// Package grammar compiles note templates into GBNF grammars that constrain
// on-device generation to a fixed note layout.
package grammar

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/zulandar/quill/internal/models"
)

// MaxTitleLen caps a sanitized section title, in runes.
const MaxTitleLen = 100

// Bullet bounds for every section production.
const (
	MinBullets = 2
	MaxBullets = 5
)

// DefaultName is the provider-side name of the built-in grammar used when a
// local run has no template grammar.
const DefaultName = "enhance"

// Section is one ordered template section. Only the title shapes the grammar.
type Section struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// TemplateSections lists a stored template's sections in order.
func TemplateSections(t *models.Template) []Section {
	if t == nil {
		return nil
	}
	out := make([]Section, len(t.Sections))
	for i, s := range t.Sections {
		out[i] = Section{Title: s.Title, Description: s.Description}
	}
	return out
}

// Compile returns a GBNF grammar whose root is a thinking block followed by
// one production per section, in input order. It returns "" for no sections.
func Compile(sections []Section) string {
	if len(sections) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("root ::= thinking")
	for i := range sections {
		fmt.Fprintf(&b, " section%d", i+1)
	}
	b.WriteString("\n\n")

	writeThinking(&b)

	for i, s := range sections {
		title := Escape(SanitizeTitle(s.Title, i+1))
		fmt.Fprintf(&b, "section%d ::= \"# %s\\n\\n\" %s \"\\n\"\n", i+1, title, bulletRun())
	}
	b.WriteString("\n")

	writeBullet(&b)
	return b.String()
}

// Default returns the grammar used for local runs without a template: a
// thinking block followed by one to eight free-titled sections.
func Default() string {
	var b strings.Builder
	b.WriteString("root ::= thinking section section? section? section? section? section? section? section?\n\n")
	writeThinking(&b)
	fmt.Fprintf(&b, "section ::= \"# \" heading \"\\n\\n\" %s \"\\n\"\n", bulletRun())
	b.WriteString("heading ::= [^\\n#]+\n\n")
	writeBullet(&b)
	return b.String()
}

// SanitizeTitle strips control characters, trims whitespace and caps the
// title at MaxTitleLen runes. An empty result becomes "Section n".
func SanitizeTitle(title string, n int) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) || r == utf8.RuneError {
			return -1
		}
		return r
	}, title)
	cleaned = strings.TrimSpace(cleaned)
	if utf8.RuneCountInString(cleaned) > MaxTitleLen {
		cleaned = strings.TrimSpace(string([]rune(cleaned)[:MaxTitleLen]))
	}
	if cleaned == "" {
		return fmt.Sprintf("Section %d", n)
	}
	return cleaned
}

var literalEscaper = strings.NewReplacer(
	`\`, `\\`,
	`"`, `\"`,
	"\n", `\n`,
	"\r", `\r`,
	"\t", `\t`,
)

// Escape makes s safe inside a double-quoted GBNF string literal.
func Escape(s string) string {
	return literalEscaper.Replace(s)
}

// bulletRun is MinBullets required bullets followed by optional ones up to MaxBullets.
func bulletRun() string {
	parts := make([]string, 0, MaxBullets)
	for i := 0; i < MaxBullets; i++ {
		if i < MinBullets {
			parts = append(parts, "bullet")
		} else {
			parts = append(parts, "bullet?")
		}
	}
	return strings.Join(parts, " ")
}

func writeThinking(b *strings.Builder) {
	b.WriteString("thinking ::= \"<thinking>\\n\" \"- Objective: \" line \"\\n\" think-bullet think-bullet? think-bullet? think-bullet? \"</thinking>\\n\\n\"\n")
	b.WriteString("think-bullet ::= \"- \" line \"\\n\"\n")
	b.WriteString("line ::= [^\\n<]+\n\n")
}

func writeBullet(b *strings.Builder) {
	b.WriteString("bullet ::= \"- **\" label \"**: \" text \".\\n\"\n")
	b.WriteString("label ::= [^*\\n]+\n")
	b.WriteString("text ::= (plain | link)+\n")
	b.WriteString("plain ::= [^\\n\\[\\]]\n")
	b.WriteString("link ::= \"[\" [^\\]\\n]+ \"](\" [^)\\n]+ \")\"\n")
}
