// Package compose builds the user-authored portion of an enhancement input
// by diffing the pre-meeting draft against the final raw note.
package compose

import (
	"strings"
	"unicode"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// tokenBase is the first code point used to encode tokens for the diff.
// Supplementary planes leave room for about a million distinct tokens.
const tokenBase = 0x10000

// Input returns every span of raw that was inserted relative to preMeeting,
// trimmed and prefixed with a single space, in order. Both arguments are
// plain text. It returns "" when nothing was added.
func Input(preMeeting, raw string) string {
	var b strings.Builder
	for _, span := range Added(preMeeting, raw) {
		b.WriteByte(' ')
		b.WriteString(span)
	}
	return b.String()
}

// Added returns the trimmed inserted spans of raw relative to preMeeting.
// Whitespace-only insertions are dropped.
func Added(preMeeting, raw string) []string {
	before := Tokenize(preMeeting)
	after := Tokenize(raw)
	if len(after) == 0 {
		return nil
	}

	enc := newEncoder()
	a := enc.encode(before)
	b := enc.encode(after)

	dmp := diffmatchpatch.New()
	dmp.DiffTimeout = 0
	diffs := dmp.DiffMainRunes(a, b, false)

	var spans []string
	for _, d := range diffs {
		if d.Type != diffmatchpatch.DiffInsert {
			continue
		}
		span := strings.TrimSpace(enc.decode(d.Text))
		if span != "" {
			spans = append(spans, span)
		}
	}
	return spans
}

// Tokenize splits s into alternating word and whitespace tokens. Joining the
// tokens reproduces s exactly.
func Tokenize(s string) []string {
	var tokens []string
	start := -1
	inSpace := false
	for i, r := range s {
		space := unicode.IsSpace(r)
		if start >= 0 && space != inSpace {
			tokens = append(tokens, s[start:i])
			start = -1
		}
		if start < 0 {
			start = i
			inSpace = space
		}
	}
	if start >= 0 {
		tokens = append(tokens, s[start:])
	}
	return tokens
}

// encoder maps each distinct token to a single rune so the character diff
// runs at token granularity.
type encoder struct {
	ids    map[string]rune
	tokens []string
}

func newEncoder() *encoder {
	return &encoder{ids: make(map[string]rune)}
}

func (e *encoder) encode(tokens []string) []rune {
	out := make([]rune, len(tokens))
	for i, tok := range tokens {
		id, ok := e.ids[tok]
		if !ok {
			id = rune(tokenBase + len(e.tokens))
			e.ids[tok] = id
			e.tokens = append(e.tokens, tok)
		}
		out[i] = id
	}
	return out
}

func (e *encoder) decode(s string) string {
	var b strings.Builder
	for _, r := range s {
		idx := int(r) - tokenBase
		if idx >= 0 && idx < len(e.tokens) {
			b.WriteString(e.tokens[idx])
		}
	}
	return b.String()
}
