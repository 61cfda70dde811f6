package enhance

import (
	"encoding/json"
	"strings"

	"github.com/zulandar/quill/internal/models"
	"github.com/zulandar/quill/internal/prompt"
)

// speechWords drops words that carry no speech: blanks and noise markers
// emitted by the transcriber.
func speechWords(words []models.Word, noise []string) []models.Word {
	markers := make(map[string]bool, len(noise))
	for _, m := range noise {
		markers[strings.ToLower(strings.TrimSpace(m))] = true
	}
	out := make([]models.Word, 0, len(words))
	for _, w := range words {
		t := strings.ToLower(strings.TrimSpace(w.Text))
		if t == "" || markers[t] {
			continue
		}
		out = append(out, w)
	}
	return out
}

type wordJSON struct {
	Text    string `json:"text"`
	Speaker int    `json:"speaker"`
	StartMs int64  `json:"start_ms"`
	EndMs   int64  `json:"end_ms"`
}

func encodeWords(words []models.Word) (string, error) {
	out := make([]wordJSON, len(words))
	for i, w := range words {
		out[i] = wordJSON{Text: w.Text, Speaker: w.Speaker, StartMs: w.StartMs, EndMs: w.EndMs}
	}
	data, err := json.Marshal(out)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func promptParticipants(ps []models.Participant) []prompt.Participant {
	out := make([]prompt.Participant, len(ps))
	for i, p := range ps {
		out[i] = prompt.Participant{Name: p.Name, Organization: p.Organization}
	}
	return out
}

// visibleNote hides the model's planning block. An unterminated block hides
// everything after it, since the plan is still streaming.
func visibleNote(text string) string {
	const openTag, closeTag = "<thinking>", "</thinking>"
	start := strings.Index(text, openTag)
	if start < 0 {
		return text
	}
	end := strings.Index(text[start:], closeTag)
	if end < 0 {
		return strings.TrimSpace(text[:start])
	}
	rest := text[start+end+len(closeTag):]
	return strings.TrimSpace(text[:start] + strings.TrimLeft(rest, "\n"))
}
