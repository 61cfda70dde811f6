// Package discord posts Quill notices and digests to a Discord channel
// through the REST API.
package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/zulandar/quill/internal/logging"
	"github.com/zulandar/quill/internal/telegraph"
)

const (
	maxRetries  = 3
	baseBackoff = 2 * time.Second
	maxBackoff  = 2 * time.Minute
)

var log = logging.New("discord")

// restSession is the part of discordgo.Session the adapter calls.
type restSession interface {
	User(userID string, options ...discordgo.RequestOption) (*discordgo.User, error)
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	Close() error
}

// Adapter posts to Discord. It satisfies telegraph.Adapter.
type Adapter struct {
	sess    restSession
	token   string
	channel string

	// backoff doubles from base per retry, capped at max.
	base, max time.Duration

	mu        sync.Mutex
	connected bool
	closed    bool
}

// AdapterOpts holds parameters for creating a Discord Adapter.
type AdapterOpts struct {
	BotToken  string
	ChannelID string      // channel for messages that name none
	Session   restSession // replaces the REST session in tests
}

// New creates a Discord Adapter.
func New(opts AdapterOpts) (*Adapter, error) {
	if opts.Session == nil && opts.BotToken == "" {
		return nil, errors.New("discord: bot token is required")
	}
	return &Adapter{
		sess:    opts.Session,
		token:   opts.BotToken,
		channel: opts.ChannelID,
		base:    baseBackoff,
		max:     maxBackoff,
	}, nil
}

// Connect opens the REST session and checks the token by fetching the
// bot's own user.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch {
	case a.closed:
		return errors.New("discord: adapter already closed")
	case a.connected:
		return nil
	}
	if a.sess == nil {
		dg, err := discordgo.New("Bot " + a.token)
		if err != nil {
			return fmt.Errorf("discord: create session: %w", err)
		}
		a.sess = dg
	}
	me, err := a.sess.User("@me", discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("discord: fetch bot user: %w", err)
	}
	log.Debug("connected", "user", me.Username)
	a.connected = true
	return nil
}

// Send posts msg with one embed per event.
func (a *Adapter) Send(ctx context.Context, msg telegraph.OutboundMessage) error {
	a.mu.Lock()
	connected := a.connected
	a.mu.Unlock()
	if !connected {
		return errors.New("discord: not connected")
	}

	channel := msg.ChannelID
	if channel == "" {
		channel = a.channel
	}
	if channel == "" {
		return errors.New("discord: no channel specified")
	}

	data := messageSend(msg)
	err := a.sendWithBackoff(ctx, func() error {
		_, err := a.sess.ChannelMessageSendComplex(channel, data, discordgo.WithContext(ctx))
		return err
	})
	if err != nil {
		return fmt.Errorf("discord: send message: %w", err)
	}
	return nil
}

// Close shuts the session. Further calls are no-ops.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed, a.connected = true, false
	if a.sess == nil {
		return nil
	}
	return a.sess.Close()
}

func messageSend(msg telegraph.OutboundMessage) *discordgo.MessageSend {
	data := &discordgo.MessageSend{Content: msg.Text}
	for _, ev := range msg.Events {
		data.Embeds = append(data.Embeds, embed(ev))
	}
	return data
}

func embed(ev telegraph.FormattedEvent) *discordgo.MessageEmbed {
	e := &discordgo.MessageEmbed{Title: ev.Title, Description: ev.Body, Color: hexColor(ev.Color)}
	for _, f := range ev.Fields {
		e.Fields = append(e.Fields, &discordgo.MessageEmbedField{Name: f.Name, Value: f.Value, Inline: f.Short})
	}
	return e
}

// hexColor parses "#rrggbb" (the # is optional). Malformed input yields 0,
// which Discord renders as the default embed color.
func hexColor(s string) int {
	v, err := strconv.ParseUint(strings.TrimPrefix(s, "#"), 16, 32)
	if err != nil {
		return 0
	}
	return int(v)
}

// sendWithBackoff retries send while Discord answers 429.
func (a *Adapter) sendWithBackoff(ctx context.Context, send func() error) error {
	wait := a.base
	for attempt := 0; ; attempt++ {
		err := send()
		var rest *discordgo.RESTError
		limited := errors.As(err, &rest) && rest.Response != nil &&
			rest.Response.StatusCode == http.StatusTooManyRequests
		if err == nil || !limited || attempt == maxRetries {
			return err
		}
		log.Warn("rate limited", "attempt", attempt+1, "retry_in", wait)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		wait = min(2*wait, a.max)
	}
}
