package storage

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/vitals-monitor/internal/models"
)

// Pruner is the part of the store the cleaner needs
type Pruner interface {
	Prune(ctx context.Context, cutoff time.Time) (models.SummaryReport, error)
}

// RetentionCleanerConfig holds configuration for the cleaner
type RetentionCleanerConfig struct {
	RetentionDays int           // Days of readings to keep
	CleanupPeriod time.Duration // How often to prune (default: 1 hour)
}

// DefaultRetentionCleanerConfig keeps a month of readings
func DefaultRetentionCleanerConfig() RetentionCleanerConfig {
	return RetentionCleanerConfig{
		RetentionDays: 30,
		CleanupPeriod: time.Hour,
	}
}

// RetentionCleanerStats counts what expired. Alerts are tracked separately
// so an operator can tell when alert history is being discarded.
type RetentionCleanerStats struct {
	RetentionDays  int                  `json:"retention_days"`
	Runs           int64                `json:"runs"`
	Failures       int64                `json:"failures"`
	ReadingsPruned int64                `json:"readings_pruned"`
	AlertsPruned   int64                `json:"alerts_pruned"`
	LastRun        time.Time            `json:"last_run,omitempty"`
	LastPruned     models.SummaryReport `json:"last_pruned"`
}

// RetentionCleaner expires readings older than the retention window.
// Readings are kept forever unless an operator runs one of these.
type RetentionCleaner struct {
	store  Pruner
	config RetentionCleanerConfig
	logger zerolog.Logger
	now    func() time.Time

	mu    sync.RWMutex
	stats RetentionCleanerStats
}

// NewRetentionCleaner creates a cleaner; Run starts it
func NewRetentionCleaner(store Pruner, config RetentionCleanerConfig, logger zerolog.Logger) *RetentionCleaner {
	// time.NewTicker panics on non-positive durations
	if config.CleanupPeriod <= 0 {
		logger.Warn().
			Dur("provided_period", config.CleanupPeriod).
			Msg("Invalid cleanup period, using 1h")
		config.CleanupPeriod = time.Hour
	}

	return &RetentionCleaner{
		store:  store,
		config: config,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		stats:  RetentionCleanerStats{RetentionDays: config.RetentionDays},
	}
}

// Run prunes once immediately and then every cleanup period until ctx is
// cancelled.
func (c *RetentionCleaner) Run(ctx context.Context) {
	c.logger.Info().
		Int("retention_days", c.config.RetentionDays).
		Dur("cleanup_period", c.config.CleanupPeriod).
		Msg("RetentionCleaner started")
	defer c.logger.Info().Msg("RetentionCleaner stopped")

	ticker := time.NewTicker(c.config.CleanupPeriod)
	defer ticker.Stop()

	for {
		c.PruneNow(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// PruneNow expires readings recorded before now minus the retention window
// and returns an aggregate of what was removed.
func (c *RetentionCleaner) PruneNow(ctx context.Context) (models.SummaryReport, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	cutoff := c.now().AddDate(0, 0, -c.config.RetentionDays)
	pruned, err := c.store.Prune(ctx, cutoff)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.Runs++
	c.stats.LastRun = c.now()

	if err != nil {
		c.stats.Failures++
		c.logger.Error().Err(err).Time("cutoff", cutoff).Msg("Retention prune failed")
		return models.SummaryReport{}, err
	}

	c.stats.ReadingsPruned += pruned.Count
	c.stats.AlertsPruned += pruned.AlertCount
	c.stats.LastPruned = pruned

	if pruned.IsEmpty() {
		c.logger.Debug().Time("cutoff", cutoff).Msg("No expired readings")
		return pruned, nil
	}

	event := c.logger.Info()
	if pruned.AlertCount > 0 {
		event = c.logger.Warn()
	}
	event.
		Time("cutoff", cutoff).
		Int64("readings", pruned.Count).
		Int64("alerts", pruned.AlertCount).
		Float64("avg_hr", pruned.AvgHR).
		Int("min_spo2", pruned.MinSpO2).
		Msg("Expired readings pruned")
	return pruned, nil
}

// Stats returns a copy of the cleaner counters
func (c *RetentionCleaner) Stats() RetentionCleanerStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}
