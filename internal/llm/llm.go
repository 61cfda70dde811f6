// Package llm defines the generation client contract shared by the hosted
// and on-device providers.
package llm

import (
	"context"
	"sync"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ProgressTool is the tool name local providers use to report generation
// progress. Its arguments carry a "progress" number in [0,1).
const ProgressTool = "progress"

// Message is one chat turn.
type Message struct {
	Role    string
	Content string
}

// Tool declares a callable tool to the provider.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Request is a single generation call.
type Request struct {
	Model     string
	Messages  []Message
	MaxTokens int
	Tools     []Tool

	// Grammar constrains output on providers that support it. When empty,
	// GrammarName selects a provider-side named grammar.
	Grammar     string
	GrammarName string
}

// HasTool reports whether the request declares the named tool.
func (r Request) HasTool(name string) bool {
	for _, t := range r.Tools {
		if t.Name == name {
			return true
		}
	}
	return false
}

// ChunkType distinguishes stream chunks.
type ChunkType int

const (
	ChunkText ChunkType = iota
	ChunkToolCall
)

// Chunk is one streamed unit of output.
type Chunk struct {
	Type     ChunkType
	Text     string         // ChunkText
	ToolName string         // ChunkToolCall
	Args     map[string]any // ChunkToolCall
}

// Stream is an in-flight streaming generation.
type Stream interface {
	// Chunks delivers output in order and is closed when generation ends.
	Chunks() <-chan Chunk
	// Wait blocks until generation ends and returns the full text.
	Wait() (string, error)
}

// Client is a generation backend.
type Client interface {
	Stream(ctx context.Context, req Request) (Stream, error)
	Generate(ctx context.Context, req Request) (string, error)
}

// ProgressToolDecl is the tool declaration sent on local runs.
func ProgressToolDecl() Tool {
	return Tool{
		Name:        ProgressTool,
		Description: "Report how far generation has progressed.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"progress": map[string]any{"type": "number", "minimum": 0, "maximum": 1},
			},
		},
	}
}

// ChanStream is a Stream fed by a producer goroutine.
type ChanStream struct {
	ch   chan Chunk
	done chan struct{}
	once sync.Once
	text string
	err  error
}

// NewChanStream creates a ChanStream with the given chunk buffer.
func NewChanStream(buffer int) *ChanStream {
	return &ChanStream{
		ch:   make(chan Chunk, buffer),
		done: make(chan struct{}),
	}
}

// Emit delivers a chunk, giving up if ctx ends first.
func (s *ChanStream) Emit(ctx context.Context, c Chunk) error {
	select {
	case s.ch <- c:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Finish closes the stream with the final text or error. Later calls are ignored.
func (s *ChanStream) Finish(text string, err error) {
	s.once.Do(func() {
		s.text = text
		s.err = err
		close(s.ch)
		close(s.done)
	})
}

// Chunks implements Stream.
func (s *ChanStream) Chunks() <-chan Chunk { return s.ch }

// Wait implements Stream.
func (s *ChanStream) Wait() (string, error) {
	<-s.done
	return s.text, s.err
}
