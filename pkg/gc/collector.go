// Package gc runs the background housekeeping of nearline backends.
//
// Every interval the collector:
//   - runs the periodic action of each backend that has one (flushing queued
//     deletions and confirming archive transitions)
//   - purges expired cache entries, removing internal cache files from disk
//
// A failing backend does not stop the sweep of the others.
package gc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/marmos91/dittostore/internal/logger"
	"github.com/marmos91/dittostore/pkg/progress"
	"github.com/marmos91/dittostore/pkg/registry"
	"github.com/marmos91/dittostore/pkg/state"
)

// Collector performs periodic sweeps.
//
// Thread Safety: Safe for concurrent use. Sweeps never overlap.
type Collector struct {
	registry *registry.Registry
	cache    state.CacheIndex
	config   Config

	sweepMu  sync.Mutex
	lifeMu   sync.Mutex
	stopOnce sync.Once
	started  bool
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// Config contains configuration for the collector.
type Config struct {
	// Enabled controls whether Start launches background sweeps
	Enabled bool

	// Interval is how often to sweep (default: 1h)
	Interval time.Duration

	// SweepTimeout bounds one sweep (default: 10m)
	SweepTimeout time.Duration

	// PurgeExpiredCache removes expired cache entries on every sweep
	PurgeExpiredCache bool

	// Progress receives periodic action callbacks (default: progress.NewLogSink)
	Progress progress.Periodic

	// Now is the clock used to find expired entries (default: time.Now)
	Now func() time.Time
}

// NewCollector creates a collector. Call Start to begin background sweeps.
//
// Parameters:
//   - reg: Registry whose periodic backends are swept
//   - cache: Cache index to purge (nil disables purging)
//   - config: Collector configuration
//
// Returns:
//   - *Collector: Initialized collector (not started)
//   - error: Returns error if reg is nil
func NewCollector(reg *registry.Registry, cache state.CacheIndex, config Config) (*Collector, error) {
	if reg == nil {
		return nil, fmt.Errorf("collector requires a registry")
	}
	if config.Interval <= 0 {
		config.Interval = time.Hour
	}
	if config.SweepTimeout <= 0 {
		config.SweepTimeout = 10 * time.Minute
	}
	if config.Progress == nil {
		config.Progress = progress.NewLogSink()
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return &Collector{
		registry: reg,
		cache:    cache,
		config:   config,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start begins background sweeps at the configured interval.
func (c *Collector) Start() {
	if !c.config.Enabled {
		logger.Info("Collector disabled")
		return
	}

	c.lifeMu.Lock()
	if c.started {
		c.lifeMu.Unlock()
		return
	}
	c.started = true
	c.lifeMu.Unlock()

	logger.Info("Starting collector: interval=%s purge_expired_cache=%v",
		c.config.Interval, c.config.PurgeExpiredCache)

	go c.worker()
}

// Stop stops the collector and waits for the running sweep to finish.
//
// Parameters:
//   - ctx: Context for timeout
//
// Returns:
//   - error: Returns error if context expires before shutdown completes
func (c *Collector) Stop(ctx context.Context) error {
	c.lifeMu.Lock()
	started := c.started
	c.lifeMu.Unlock()
	if !started {
		return nil
	}

	logger.Info("Stopping collector...")
	c.stopOnce.Do(func() { close(c.stopCh) })

	select {
	case <-c.doneCh:
		logger.Info("Collector stopped")
		return nil
	case <-ctx.Done():
		logger.Warn("Collector shutdown timeout")
		return ctx.Err()
	}
}

func (c *Collector) worker() {
	defer close(c.doneCh)

	ticker := time.NewTicker(c.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), c.config.SweepTimeout)
			stats, err := c.RunOnce(ctx)
			cancel()

			if err != nil {
				logger.Error("Sweep failed: %v (%s)", err, stats.Summary())
			} else {
				logger.Info("Sweep completed: %s", stats.Summary())
			}

		case <-c.stopCh:
			return
		}
	}
}

// RunOnce performs one sweep and blocks until it completes.
//
// Returns:
//   - *Stats: Sweep statistics
//   - error: The joined errors of the failed steps
func (c *Collector) RunOnce(ctx context.Context) (*Stats, error) {
	c.sweepMu.Lock()
	defer c.sweepMu.Unlock()

	stats := &Stats{StartTime: time.Now()}
	var errs []error

	// Phase 1: periodic actions
	for _, p := range c.registry.Periodic() {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		stats.BackendCount++
		if err := p.Actor.RunPeriodicAction(ctx, c.config.Progress); err != nil {
			logger.Warn("Periodic action failed: backend=%s error=%v", p.Name, err)
			stats.FailedBackends++
			errs = append(errs, fmt.Errorf("backend %s: %w", p.Name, err))
		}
	}

	// Phase 2: expired cache entries
	if c.config.PurgeExpiredCache && c.cache != nil {
		if err := c.purge(ctx, stats); err != nil {
			errs = append(errs, err)
		}
	}

	stats.EndTime = time.Now()
	return stats, errors.Join(errs...)
}

func (c *Collector) purge(ctx context.Context, stats *Stats) error {
	expired, err := c.cache.Expired(ctx, c.config.Now())
	if err != nil {
		return fmt.Errorf("failed to list expired cache entries: %w", err)
	}
	stats.ExpiredCount = uint64(len(expired))

	for _, entry := range expired {
		if err := ctx.Err(); err != nil {
			return err
		}

		// A restoration may have replaced the entry since the listing
		current, err := c.cache.Get(ctx, entry.Key())
		if errors.Is(err, state.ErrNotFound) {
			continue
		}
		if err != nil {
			logger.Warn("Failed to reload expired cache entry %s: %v", entry.Key(), err)
			stats.FailedCount++
			continue
		}
		if !current.RestoredAt.Equal(entry.RestoredAt) || current.Location != entry.Location {
			logger.Debug("Cache entry %s restored again, keeping %s", entry.Key(), current.Location)
			continue
		}

		if entry.Kind == state.CacheInternal {
			if err := os.Remove(entry.Location); err != nil && !os.IsNotExist(err) {
				logger.Warn("Failed to remove expired cache file %s: %v", entry.Location, err)
				stats.FailedCount++
				continue
			}
		}
		if err := c.cache.Delete(ctx, entry.Key()); err != nil {
			logger.Warn("Failed to drop expired cache entry %s: %v", entry.Key(), err)
			stats.FailedCount++
			continue
		}
		stats.PurgedCount++
	}
	return nil
}

// Stats contains statistics from one sweep.
type Stats struct {
	StartTime      time.Time
	EndTime        time.Time
	BackendCount   int    // Backends whose periodic action ran
	FailedBackends int    // Backends whose periodic action failed
	ExpiredCount   uint64 // Expired cache entries found
	PurgedCount    uint64 // Expired cache entries removed
	FailedCount    uint64 // Expired cache entries that could not be removed
}

// Duration returns the sweep duration.
func (s *Stats) Duration() time.Duration {
	if s.EndTime.IsZero() {
		return time.Since(s.StartTime)
	}
	return s.EndTime.Sub(s.StartTime)
}

// Summary returns a human-readable summary of the sweep.
func (s *Stats) Summary() string {
	return fmt.Sprintf("backends=%d failed_backends=%d expired=%d purged=%d failed=%d duration=%s",
		s.BackendCount, s.FailedBackends, s.ExpiredCount, s.PurgedCount, s.FailedCount, s.Duration())
}
