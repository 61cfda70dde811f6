// Package anthropic is the hosted generation client for the Anthropic
// Messages API.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/zulandar/quill/internal/llm"
)

// DefaultBaseURL is the public API endpoint.
const DefaultBaseURL = "https://api.anthropic.com"

const apiVersion = "2023-06-01"

// Client talks to /v1/messages.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// New creates a Client. An empty baseURL selects DefaultBaseURL.
func New(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		APIKey:     apiKey,
		HTTPClient: http.DefaultClient,
	}
}

type request struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system,omitempty"`
	Messages  []message `json:"messages"`
	Tools     []tool    `json:"tools,omitempty"`
	Stream    bool      `json:"stream,omitempty"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema"`
}

type response struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// streamEvent covers the fields used from every event type.
type streamEvent struct {
	Type         string `json:"type"`
	ContentBlock struct {
		Type string `json:"type"`
		Name string `json:"name"`
	} `json:"content_block"`
	Delta struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		PartialJSON string `json:"partial_json"`
	} `json:"delta"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) body(req llm.Request, stream bool) ([]byte, error) {
	if req.Model == "" {
		return nil, errors.New("anthropic: model is required")
	}
	body := request{
		Model:     req.Model,
		MaxTokens: req.MaxTokens,
		Stream:    stream,
	}
	if body.MaxTokens == 0 {
		body.MaxTokens = 4096
	}
	var system []string
	for _, m := range req.Messages {
		if m.Role == llm.RoleSystem {
			system = append(system, m.Content)
			continue
		}
		body.Messages = append(body.Messages, message{Role: m.Role, Content: m.Content})
	}
	body.System = strings.Join(system, "\n\n")
	for _, t := range req.Tools {
		body.Tools = append(body.Tools, tool{Name: t.Name, Description: t.Description, InputSchema: t.Parameters})
	}
	return json.Marshal(body)
}

func (c *Client) post(ctx context.Context, payload []byte) (*http.Response, error) {
	if c.APIKey == "" {
		return nil, errors.New("anthropic: API key not set")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("anthropic: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.APIKey)
	httpReq.Header.Set("anthropic-version", apiVersion)

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		if cause := context.Cause(ctx); cause != nil {
			return nil, cause
		}
		return nil, fmt.Errorf("anthropic: call API: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("anthropic: API error (HTTP %d): %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return resp, nil
}

// Generate implements llm.Client.
func (c *Client) Generate(ctx context.Context, req llm.Request) (string, error) {
	payload, err := c.body(req, false)
	if err != nil {
		return "", err
	}
	resp, err := c.post(ctx, payload)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("anthropic: parse response: %w", err)
	}
	var text strings.Builder
	for _, block := range out.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return "", errors.New("anthropic: empty response")
	}
	return text.String(), nil
}

// Stream implements llm.Client.
func (c *Client) Stream(ctx context.Context, req llm.Request) (llm.Stream, error) {
	payload, err := c.body(req, true)
	if err != nil {
		return nil, err
	}
	resp, err := c.post(ctx, payload)
	if err != nil {
		return nil, err
	}

	s := llm.NewChanStream(16)
	go func() {
		defer resp.Body.Close()
		text, err := consume(ctx, s, resp.Body)
		if err != nil {
			if cause := context.Cause(ctx); cause != nil {
				err = cause
			}
		}
		s.Finish(text, err)
	}()
	return s, nil
}

// consume dispatches stream events by type and returns the accumulated text.
func consume(ctx context.Context, s *llm.ChanStream, body io.Reader) (string, error) {
	var text strings.Builder
	var toolName string
	var toolJSON strings.Builder

	err := llm.ReadEvents(body, func(_, data string) error {
		var ev streamEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			return fmt.Errorf("anthropic: parse event: %w", err)
		}
		switch ev.Type {
		case "content_block_start":
			if ev.ContentBlock.Type == "tool_use" {
				toolName = ev.ContentBlock.Name
				toolJSON.Reset()
			}
		case "content_block_delta":
			switch ev.Delta.Type {
			case "text_delta":
				text.WriteString(ev.Delta.Text)
				return s.Emit(ctx, llm.Chunk{Type: llm.ChunkText, Text: ev.Delta.Text})
			case "input_json_delta":
				toolJSON.WriteString(ev.Delta.PartialJSON)
			}
		case "content_block_stop":
			if toolName == "" {
				return nil
			}
			args := map[string]any{}
			if toolJSON.Len() > 0 {
				if err := json.Unmarshal([]byte(toolJSON.String()), &args); err != nil {
					return fmt.Errorf("anthropic: parse tool input: %w", err)
				}
			}
			name := toolName
			toolName = ""
			return s.Emit(ctx, llm.Chunk{Type: llm.ChunkToolCall, ToolName: name, Args: args})
		case "error":
			return fmt.Errorf("anthropic: stream error: %s: %s", ev.Error.Type, ev.Error.Message)
		}
		return nil
	})
	return text.String(), err
}
