package recording

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/zulandar/quill/internal/logging"
	"github.com/zulandar/quill/internal/models"
	"gorm.io/gorm"
)

// DefaultPollInterval is how often the recording state row is read.
const DefaultPollInterval = time.Second

// Poller watches the RecordingState row written by the recorder process
// and republishes changes onto a Bus. The first poll only establishes a
// baseline so a daemon restart never replays an old transition.
type Poller struct {
	db       *gorm.DB
	bus      *Bus
	interval time.Duration
	log      *slog.Logger

	last   Update
	seeded bool
}

// PollerOpts holds parameters for creating a Poller.
type PollerOpts struct {
	DB       *gorm.DB
	Bus      *Bus
	Interval time.Duration // defaults to DefaultPollInterval
}

// NewPoller creates a Poller.
func NewPoller(opts PollerOpts) (*Poller, error) {
	if opts.DB == nil {
		return nil, errors.New("recording: poller: db is required")
	}
	if opts.Bus == nil {
		return nil, errors.New("recording: poller: bus is required")
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{db: opts.DB, bus: opts.Bus, interval: interval, log: logging.New("recording")}, nil
}

// Poll reads the current state once and reports whether it changed since
// the previous poll.
func (p *Poller) Poll(ctx context.Context) (Update, bool, error) {
	cur, err := Load(ctx, p.db)
	if err != nil {
		return Update{}, false, err
	}
	if !p.seeded {
		p.seeded = true
		p.last = cur
		return cur, false, nil
	}
	if cur == p.last {
		return cur, false, nil
	}
	p.last = cur
	return cur, true, nil
}

// Run polls until ctx ends, publishing every change.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		if u, changed, err := p.Poll(ctx); err != nil {
			p.log.Warn("poll failed", "error", err)
		} else if changed {
			p.log.Debug("status changed", "session", u.SessionID, "status", u.Status)
			p.bus.Publish(ctx, u)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Load reads the recording state row. A missing row reads as inactive.
func Load(ctx context.Context, db *gorm.DB) (Update, error) {
	var row models.RecordingState
	err := db.WithContext(ctx).Where("id = ?", models.RecordingStateID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Update{Status: Inactive}, nil
	}
	if err != nil {
		return Update{}, fmt.Errorf("recording: load state: %w", err)
	}
	return Update{SessionID: row.SessionID, Status: Status(row.Status)}, nil
}

// Save writes the recording state row, as the recorder process does.
func Save(ctx context.Context, db *gorm.DB, u Update) error {
	row := models.RecordingState{
		ID:        models.RecordingStateID,
		SessionID: u.SessionID,
		Status:    string(u.Status),
		UpdatedAt: time.Now(),
	}
	if err := db.WithContext(ctx).Save(&row).Error; err != nil {
		return fmt.Errorf("recording: save state: %w", err)
	}
	return nil
}
