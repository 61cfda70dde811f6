// Package analytics records product events to the local database without
// blocking callers.
package analytics

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zulandar/quill/internal/logging"
	"github.com/zulandar/quill/internal/models"
	"gorm.io/gorm"
)

// EventNoteEnhanced is recorded after every successful enhancement.
const EventNoteEnhanced = "note_enhanced"

// Event is one product event.
type Event struct {
	Name       string
	SessionID  string
	Properties map[string]any
}

// Sink accepts events. Track must not block.
type Sink interface {
	Track(e Event)
}

// Nop discards events.
type Nop struct{}

// Track implements Sink.
func (Nop) Track(Event) {}

// Recorder writes events from a buffered queue on a background goroutine.
// Events are dropped when the queue is full.
type Recorder struct {
	db         *gorm.DB
	distinctID string
	queue      chan Event
	log        *slog.Logger

	mu      sync.Mutex
	closed  bool
	dropped int
	done    chan struct{}
}

// NewRecorder starts a Recorder. An empty distinctID generates a random one.
func NewRecorder(db *gorm.DB, distinctID string, buffer int) *Recorder {
	if distinctID == "" {
		distinctID = uuid.NewString()
	}
	if buffer <= 0 {
		buffer = 256
	}
	r := &Recorder{
		db:         db,
		distinctID: distinctID,
		queue:      make(chan Event, buffer),
		log:        logging.New("analytics"),
		done:       make(chan struct{}),
	}
	go r.loop()
	return r
}

// DistinctID returns the anonymous installation id attached to events.
func (r *Recorder) DistinctID() string { return r.distinctID }

// Track implements Sink.
func (r *Recorder) Track(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- e:
	default:
		r.dropped++
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (r *Recorder) Dropped() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Close stops accepting events and waits for queued ones to be written or
// for ctx to end.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Recorder) loop() {
	defer close(r.done)
	for e := range r.queue {
		props := "{}"
		if len(e.Properties) > 0 {
			if data, err := json.Marshal(e.Properties); err == nil {
				props = string(data)
			}
		}
		row := models.AnalyticsEvent{
			Name:       e.Name,
			DistinctID: r.distinctID,
			SessionID:  e.SessionID,
			Properties: props,
			CreatedAt:  time.Now(),
		}
		if err := r.db.Create(&row).Error; err != nil {
			r.log.Warn("record event failed", "event", e.Name, "error", err)
		}
	}
}
