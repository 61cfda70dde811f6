// Package llamacpp is the on-device generation client for a llama.cpp
// server's OpenAI-compatible chat endpoint. It supports GBNF-constrained
// output and reports progress as synthetic tool calls.
package llamacpp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/zulandar/quill/internal/grammar"
	"github.com/zulandar/quill/internal/llm"
)

// Client talks to /v1/chat/completions.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// New creates a Client for the server at baseURL.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: http.DefaultClient,
	}
}

type request struct {
	Model     string    `json:"model,omitempty"`
	Messages  []message `json:"messages"`
	MaxTokens int       `json:"max_tokens,omitempty"`
	Stream    bool      `json:"stream"`
	Grammar   string    `json:"grammar,omitempty"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completion struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func body(req llm.Request, stream bool) ([]byte, error) {
	out := request{
		Model:     req.Model,
		MaxTokens: req.MaxTokens,
		Stream:    stream,
		Grammar:   req.Grammar,
	}
	if out.Grammar == "" && req.GrammarName == grammar.DefaultName {
		out.Grammar = grammar.Default()
	}
	for _, m := range req.Messages {
		out.Messages = append(out.Messages, message{Role: m.Role, Content: m.Content})
	}
	return json.Marshal(out)
}

func (c *Client) post(ctx context.Context, payload []byte) (*http.Response, error) {
	if c.BaseURL == "" {
		return nil, errors.New("llamacpp: base URL is required")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("llamacpp: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		if cause := context.Cause(ctx); cause != nil {
			return nil, cause
		}
		return nil, fmt.Errorf("llamacpp: call server: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("llamacpp: server error (HTTP %d): %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return resp, nil
}

// Generate implements llm.Client.
func (c *Client) Generate(ctx context.Context, req llm.Request) (string, error) {
	payload, err := body(req, false)
	if err != nil {
		return "", err
	}
	resp, err := c.post(ctx, payload)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out completion
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("llamacpp: parse response: %w", err)
	}
	if len(out.Choices) == 0 || out.Choices[0].Message.Content == "" {
		return "", errors.New("llamacpp: empty response")
	}
	return out.Choices[0].Message.Content, nil
}

// Stream implements llm.Client. When req declares the progress tool, a
// progress tool call follows every text delta, estimated from the number of
// deltas received against MaxTokens.
func (c *Client) Stream(ctx context.Context, req llm.Request) (llm.Stream, error) {
	payload, err := body(req, true)
	if err != nil {
		return nil, err
	}
	resp, err := c.post(ctx, payload)
	if err != nil {
		return nil, err
	}

	progress := req.HasTool(llm.ProgressTool)
	budget := req.MaxTokens
	if budget <= 0 {
		budget = 4096
	}

	s := llm.NewChanStream(16)
	go func() {
		defer resp.Body.Close()
		var text strings.Builder
		tokens := 0
		err := llm.ReadEvents(resp.Body, func(_, data string) error {
			if data == "[DONE]" {
				return nil
			}
			var ev completion
			if err := json.Unmarshal([]byte(data), &ev); err != nil {
				return fmt.Errorf("llamacpp: parse event: %w", err)
			}
			if ev.Error != nil {
				return fmt.Errorf("llamacpp: stream error: %s", ev.Error.Message)
			}
			for _, ch := range ev.Choices {
				if ch.Delta.Content == "" {
					continue
				}
				text.WriteString(ch.Delta.Content)
				if err := s.Emit(ctx, llm.Chunk{Type: llm.ChunkText, Text: ch.Delta.Content}); err != nil {
					return err
				}
				tokens++
				if !progress {
					continue
				}
				p := float64(tokens) / float64(budget)
				if err := s.Emit(ctx, llm.Chunk{
					Type:     llm.ChunkToolCall,
					ToolName: llm.ProgressTool,
					Args:     map[string]any{"progress": p},
				}); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			if cause := context.Cause(ctx); cause != nil {
				err = cause
			}
		}
		s.Finish(text.String(), err)
	}()
	return s, nil
}
