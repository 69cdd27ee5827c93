// Package janitor periodically deletes blobs left behind by expired hubs.
//
// Hub metadata disappears on its own when the store's TTL elapses, but blob
// stores have no matching expiry. The janitor drains the cleanup index in
// batches through Service.SweepExpired. Any number of instances may run one;
// the store guarantees each hub is claimed exactly once.
package janitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const (
	DefaultInterval   = time.Minute
	DefaultBatchSize  = 100
	DefaultMaxBatches = 10
)

// Sweeper reclaims the blobs of up to limit expired hubs
type Sweeper interface {
	SweepExpired(ctx context.Context, limit int) (int, error)
}

// Options configures a Janitor
type Options struct {
	// Interval between sweeps (default: 1m)
	Interval time.Duration

	// BatchSize is how many hubs one SweepExpired call may reclaim (default: 100)
	BatchSize int

	// MaxBatches caps the batches run per sweep so one pass cannot run forever (default: 10)
	MaxBatches int

	// Logger for sweep results (default: slog.Default())
	Logger *slog.Logger

	// OnSweep is called after every sweep (optional)
	OnSweep func(Result)
}

// Result contains statistics about one sweep
type Result struct {
	// Batches is the number of SweepExpired calls made
	Batches int

	// Reclaimed is the number of hubs whose blobs were deleted
	Reclaimed int

	// Duration is how long the sweep took
	Duration time.Duration
}

// Janitor runs orphan sweeps on a fixed interval
type Janitor struct {
	sweeper Sweeper
	opts    Options
}

// New creates a Janitor
func New(sweeper Sweeper, opts Options) *Janitor {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.MaxBatches <= 0 {
		opts.MaxBatches = DefaultMaxBatches
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Janitor{sweeper: sweeper, opts: opts}
}

// RunOnce sweeps batches until one comes back short or MaxBatches is reached.
func (j *Janitor) RunOnce(ctx context.Context) (Result, error) {
	start := time.Now()
	var result Result

	for result.Batches < j.opts.MaxBatches {
		n, err := j.sweeper.SweepExpired(ctx, j.opts.BatchSize)
		result.Batches++
		result.Reclaimed += n
		if err != nil {
			result.Duration = time.Since(start)
			return result, fmt.Errorf("sweep batch %d: %w", result.Batches, err)
		}
		if n < j.opts.BatchSize {
			break
		}
	}

	result.Duration = time.Since(start)
	return result, nil
}

// Run sweeps immediately and then every Interval until ctx is cancelled.
// Failed sweeps are logged and retried on the next tick.
func (j *Janitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(j.opts.Interval)
	defer ticker.Stop()

	j.opts.Logger.Info("Janitor started", "interval", j.opts.Interval, "batch_size", j.opts.BatchSize)

	for {
		j.sweep(ctx)

		select {
		case <-ctx.Done():
			j.opts.Logger.Info("Janitor stopped")
			return nil
		case <-ticker.C:
		}
	}
}

func (j *Janitor) sweep(ctx context.Context) {
	result, err := j.RunOnce(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		j.opts.Logger.Warn("Orphan sweep failed", "err", err, "reclaimed", result.Reclaimed)
	} else if result.Reclaimed > 0 {
		j.opts.Logger.Info("Orphan sweep", "reclaimed", result.Reclaimed, "batches", result.Batches, "duration", result.Duration)
	}

	if j.opts.OnSweep != nil {
		j.opts.OnSweep(result)
	}
}
