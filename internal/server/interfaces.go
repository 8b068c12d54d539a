package server

import (
	"context"
	"time"

	"github.com/afroash/vitals-monitor/internal/models"
	"github.com/afroash/vitals-monitor/internal/monitor"
	"github.com/afroash/vitals-monitor/internal/storage"
)

// HistoricalStore defines the read side of persistent storage.
// storage.SQLiteStore implements this interface
type HistoricalStore interface {
	// QueryWindow returns readings recorded within the last since, oldest first
	QueryWindow(ctx context.Context, since time.Duration) ([]*models.Reading, error)

	// Aggregate summarises readings recorded at or after since (zero means all)
	Aggregate(ctx context.Context, since time.Time) (models.SummaryReport, error)

	// Latest returns the most recent reading, or nil when nothing is stored
	Latest(ctx context.Context) (*models.Reading, error)

	// GetStorageStats returns database statistics
	GetStorageStats(ctx context.Context) (*storage.StorageStats, error)
}

// Monitor is the view of the running engine the API needs.
// monitor.Engine implements this interface
type Monitor interface {
	Snapshot() monitor.State
	Trigger() bool
	Thresholds() models.ThresholdWindow
}

var (
	_ HistoricalStore = (*storage.SQLiteStore)(nil)
	_ Monitor         = (*monitor.Engine)(nil)
)
