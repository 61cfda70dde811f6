// Package slack posts Quill notices and digests to a Slack channel through
// the Web API.
package slack

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	slackapi "github.com/slack-go/slack"
	"github.com/zulandar/quill/internal/logging"
	"github.com/zulandar/quill/internal/telegraph"
)

// maxRetries bounds how often a rate-limited post is retried.
const maxRetries = 3

var log = logging.New("slack")

// webAPI is the part of the Slack client the adapter calls.
type webAPI interface {
	AuthTest() (*slackapi.AuthTestResponse, error)
	PostMessage(channelID string, options ...slackapi.MsgOption) (string, string, error)
}

// Adapter posts to Slack. It satisfies telegraph.Adapter.
type Adapter struct {
	api     webAPI
	token   string
	channel string

	mu        sync.Mutex
	connected bool
	closed    bool
}

// AdapterOpts holds parameters for creating a Slack Adapter.
type AdapterOpts struct {
	BotToken  string // xoxb- token
	ChannelID string // channel for messages that name none
	Client    webAPI // replaces the Web API client in tests
}

// New creates a Slack Adapter.
func New(opts AdapterOpts) (*Adapter, error) {
	if opts.Client == nil && opts.BotToken == "" {
		return nil, errors.New("slack: bot token is required")
	}
	return &Adapter{api: opts.Client, token: opts.BotToken, channel: opts.ChannelID}, nil
}

// Connect checks the token once with auth.test.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch {
	case a.closed:
		return errors.New("slack: adapter already closed")
	case a.connected:
		return nil
	}
	if a.api == nil {
		a.api = slackapi.New(a.token)
	}
	auth, err := a.api.AuthTest()
	if err != nil {
		return fmt.Errorf("slack: auth test: %w", err)
	}
	log.Debug("connected", "team", auth.Team)
	a.connected = true
	return nil
}

// Send posts msg, rendering its events as attachments.
func (a *Adapter) Send(ctx context.Context, msg telegraph.OutboundMessage) error {
	a.mu.Lock()
	connected := a.connected
	a.mu.Unlock()
	if !connected {
		return errors.New("slack: not connected")
	}

	channel := msg.ChannelID
	if channel == "" {
		channel = a.channel
	}
	if channel == "" {
		return errors.New("slack: no channel specified")
	}

	opts := msgOptions(msg)
	err := postWithBackoff(ctx, func() error {
		_, _, err := a.api.PostMessage(channel, opts...)
		return err
	})
	if err != nil {
		return fmt.Errorf("slack: post message: %w", err)
	}
	return nil
}

// Close marks the adapter closed.
func (a *Adapter) Close() error {
	a.mu.Lock()
	a.closed, a.connected = true, false
	a.mu.Unlock()
	return nil
}

// msgOptions renders events as attachments. Text rides along as the
// notification fallback.
func msgOptions(msg telegraph.OutboundMessage) []slackapi.MsgOption {
	if len(msg.Events) == 0 {
		return []slackapi.MsgOption{slackapi.MsgOptionText(msg.Text, false)}
	}
	atts := make([]slackapi.Attachment, len(msg.Events))
	for i, ev := range msg.Events {
		atts[i] = attachment(ev)
	}
	opts := []slackapi.MsgOption{slackapi.MsgOptionAttachments(atts...)}
	if msg.Text != "" {
		opts = append(opts, slackapi.MsgOptionText(msg.Text, false))
	}
	return opts
}

func attachment(ev telegraph.FormattedEvent) slackapi.Attachment {
	att := slackapi.Attachment{Title: ev.Title, Fallback: ev.Title, Text: ev.Body, Color: ev.Color}
	for _, f := range ev.Fields {
		att.Fields = append(att.Fields, slackapi.AttachmentField{Title: f.Name, Value: f.Value, Short: f.Short})
	}
	return att
}

// postWithBackoff retries post while Slack reports a rate limit, waiting
// the advertised Retry-After or 1s, 2s, 4s when none is given.
func postWithBackoff(ctx context.Context, post func() error) error {
	for attempt := 0; ; attempt++ {
		err := post()
		var limited *slackapi.RateLimitedError
		if err == nil || !errors.As(err, &limited) || attempt == maxRetries {
			return err
		}
		wait := limited.RetryAfter
		if wait <= 0 {
			wait = time.Second << attempt
		}
		log.Warn("rate limited", "attempt", attempt+1, "retry_after", wait)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
