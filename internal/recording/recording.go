// Package recording tracks the lifecycle of the ongoing recording session
// and broadcasts status transitions.
package recording

import (
	"context"
	"fmt"
	"sync"
)

// Status is the recorder's lifecycle state.
type Status string

const (
	Inactive      Status = "inactive"
	RunningActive Status = "running_active"
	RunningPaused Status = "running_paused"
)

// ParseStatus validates a status name.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case Inactive, RunningActive, RunningPaused:
		return Status(s), nil
	}
	return "", fmt.Errorf("recording: unknown status %q", s)
}

// Update is one observed status, tagged with the session it applies to.
type Update struct {
	SessionID string
	Status    Status
}

// Source delivers status updates until ctx ends, then closes the channel.
type Source interface {
	Statuses(ctx context.Context) <-chan Update
}

// Bus is an in-process Source. Publishers call Publish; every subscriber
// sees every update in order.
type Bus struct {
	mu   sync.RWMutex
	subs map[*subscriber]struct{}
}

type subscriber struct {
	ch   chan Update
	done chan struct{}
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[*subscriber]struct{})}
}

// Publish delivers u to every subscriber, blocking on full buffers so that
// transitions are never lost. It gives up on a subscriber whose context has
// ended, or when ctx ends.
func (b *Bus) Publish(ctx context.Context, u Update) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		select {
		case s.ch <- u:
		case <-s.done:
		case <-ctx.Done():
			return
		}
	}
}

// Statuses implements Source.
func (b *Bus) Statuses(ctx context.Context) <-chan Update {
	s := &subscriber{ch: make(chan Update, 16), done: make(chan struct{})}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		close(s.done)
		b.mu.Lock()
		delete(b.subs, s)
		close(s.ch)
		b.mu.Unlock()
	}()
	return s.ch
}

// Subscribers returns the number of active subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
