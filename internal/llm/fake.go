package llm

import (
	"context"
	"strings"
	"sync"
)

// FakeClient is a scripted Client for tests. Streams emit Script in order;
// when Gate is non-nil each stream waits for it to close before finishing.
type FakeClient struct {
	mu       sync.Mutex
	Script   []Chunk
	Err      error  // returned from Wait after the script
	StartErr error  // returned from Stream/Generate immediately
	Reply    string // Generate result
	Gate     chan struct{}
	requests []Request
	active   int
	peak     int
}

// Stream implements Client.
func (f *FakeClient) Stream(ctx context.Context, req Request) (Stream, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	if f.StartErr != nil {
		f.mu.Unlock()
		return nil, f.StartErr
	}
	f.active++
	if f.active > f.peak {
		f.peak = f.active
	}
	script := append([]Chunk(nil), f.Script...)
	gate, finalErr := f.Gate, f.Err
	f.mu.Unlock()

	s := NewChanStream(len(script) + 1)
	go func() {
		defer func() {
			f.mu.Lock()
			f.active--
			f.mu.Unlock()
		}()
		var text strings.Builder
		for _, c := range script {
			if err := s.Emit(ctx, c); err != nil {
				s.Finish(text.String(), err)
				return
			}
			if c.Type == ChunkText {
				text.WriteString(c.Text)
			}
		}
		if gate != nil {
			select {
			case <-gate:
			case <-ctx.Done():
				s.Finish(text.String(), context.Cause(ctx))
				return
			}
		}
		if err := ctx.Err(); err != nil {
			s.Finish(text.String(), context.Cause(ctx))
			return
		}
		s.Finish(text.String(), finalErr)
	}()
	return s, nil
}

// Generate implements Client.
func (f *FakeClient) Generate(ctx context.Context, req Request) (string, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	startErr, reply, gate := f.StartErr, f.Reply, f.Gate
	f.mu.Unlock()
	if startErr != nil {
		return "", startErr
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", context.Cause(ctx)
		}
	}
	return reply, nil
}

// Requests returns a copy of every request received.
func (f *FakeClient) Requests() []Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Request(nil), f.requests...)
}

// PeakConcurrent returns the highest number of simultaneously open streams.
func (f *FakeClient) PeakConcurrent() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.peak
}
