package telegraph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/quill/internal/config"
	"gorm.io/gorm"
)

// nextCronDuration parses a 5-field cron expression and returns the duration
// until the next fire time after now. Returns 0 on parse error.
func nextCronDuration(expr string, now time.Time) time.Duration {
	sched, err := config.CronParser.Parse(expr)
	if err != nil {
		return 0
	}
	d := sched.Next(now).Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// DigestOpts configures the digest loop.
type DigestOpts struct {
	DB       *gorm.DB
	Adapters []Adapter
	Cron     string        // 5-field cron expression
	Window   time.Duration // reporting window; default 24h
}

// RunDigest posts a run digest to every adapter on the cron schedule until
// ctx is cancelled. Periods with no activity are skipped.
func RunDigest(ctx context.Context, opts DigestOpts) error {
	if _, err := config.CronParser.Parse(opts.Cron); err != nil {
		return fmt.Errorf("telegraph: digest cron %q: %w", opts.Cron, err)
	}
	window := opts.Window
	if window <= 0 {
		window = 24 * time.Hour
	}

	for {
		wait := nextCronDuration(opts.Cron, time.Now())
		if wait <= 0 {
			wait = time.Minute
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		now := time.Now()
		if err := SendDigest(ctx, opts.DB, opts.Adapters, now.Add(-window), now); err != nil {
			log.Warn("digest failed", "error", err)
		}
	}
}

// SendDigest builds the digest for [since, until) and posts it. It is a
// no-op when there was no activity.
func SendDigest(ctx context.Context, db *gorm.DB, adapters []Adapter, since, until time.Time) error {
	report, err := BuildDigest(db, since, until)
	if err != nil {
		return err
	}
	if report == nil {
		log.Debug("digest skipped, no activity")
		return nil
	}

	evt := FormatDigest(report)
	msg := OutboundMessage{Text: evt.Title, Events: []FormattedEvent{evt}}
	var errs []error
	for _, a := range adapters {
		if err := a.Send(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
