package llamacpp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/zulandar/quill/internal/grammar"
	"github.com/zulandar/quill/internal/llm"
)

func deltas(parts ...string) string {
	var b strings.Builder
	for _, p := range parts {
		data, _ := json.Marshal(map[string]any{
			"choices": []any{map[string]any{"delta": map[string]any{"content": p}}},
		})
		fmt.Fprintf(&b, "data: %s\n\n", data)
	}
	b.WriteString("data: [DONE]\n\n")
	return b.String()
}

func TestStream_GrammarAndProgress(t *testing.T) {
	var got request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		fmt.Fprint(w, deltas("# A", "\n- b"))
	}))
	defer srv.Close()

	s, err := New(srv.URL).Stream(context.Background(), llm.Request{
		Messages:  []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
		MaxTokens: 4,
		Tools:     []llm.Tool{llm.ProgressToolDecl()},
		Grammar:   `root ::= "x"`,
	})
	if err != nil {
		t.Fatalf("Stream error = %v", err)
	}
	var progress []float64
	for ch := range s.Chunks() {
		if ch.Type == llm.ChunkToolCall {
			progress = append(progress, ch.Args["progress"].(float64))
		}
	}
	text, err := s.Wait()
	if err != nil {
		t.Fatalf("Wait error = %v", err)
	}
	if text != "# A\n- b" {
		t.Errorf("text = %q", text)
	}
	if len(progress) != 2 || progress[0] != 0.25 || progress[1] != 0.5 {
		t.Errorf("progress = %v, want [0.25 0.5]", progress)
	}
	if got.Grammar != `root ::= "x"` {
		t.Errorf("grammar = %q", got.Grammar)
	}
	if !got.Stream {
		t.Error("stream = false, want true")
	}
}

func TestStream_NamedDefaultGrammar(t *testing.T) {
	var got request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		fmt.Fprint(w, deltas("ok"))
	}))
	defer srv.Close()

	s, err := New(srv.URL).Stream(context.Background(), llm.Request{GrammarName: grammar.DefaultName})
	if err != nil {
		t.Fatal(err)
	}
	var n int
	for ch := range s.Chunks() {
		if ch.Type == llm.ChunkToolCall {
			n++
		}
	}
	s.Wait()
	if got.Grammar != grammar.Default() {
		t.Error("named grammar was not expanded to the default grammar")
	}
	if n != 0 {
		t.Errorf("progress calls = %d, want 0 without the progress tool", n)
	}
}

func TestStream_CancelCause(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"a\"}}]}\n\n")
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancelCause(context.Background())
	s, err := New(srv.URL).Stream(ctx, llm.Request{})
	if err != nil {
		t.Fatal(err)
	}
	<-s.Chunks()
	cause := errors.New("generation cancelled")
	cancel(cause)
	for range s.Chunks() {
	}
	if _, err := s.Wait(); !errors.Is(err, cause) {
		t.Errorf("Wait error = %v, want %v", err, cause)
	}
}

func TestGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[{"message":{"content":"Budget review"}}]}`)
	}))
	defer srv.Close()

	got, err := New(srv.URL).Generate(context.Background(), llm.Request{})
	if err != nil {
		t.Fatalf("Generate error = %v", err)
	}
	if got != "Budget review" {
		t.Errorf("Generate = %q", got)
	}
}

func TestGenerate_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	if _, err := New(srv.URL).Generate(context.Background(), llm.Request{}); err == nil || !strings.Contains(err.Error(), "503") {
		t.Errorf("error = %v, want HTTP 503", err)
	}
}
