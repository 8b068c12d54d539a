package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/afroash/vitals-monitor/internal/models"
)

// timeFormat is fixed-width UTC so that text comparison orders chronologically
const timeFormat = "2006-01-02 15:04:05.000"

// Store defines the interface for reading storage
type Store interface {
	Close() error
	Migrate() error
	Append(ctx context.Context, reading *models.Reading) (int64, error)
	QueryWindow(ctx context.Context, since time.Duration) ([]*models.Reading, error)
	Aggregate(ctx context.Context, since time.Time) (models.SummaryReport, error)
	AggregateAfter(ctx context.Context, afterID int64, notBefore time.Time) (models.SummaryReport, int64, error)
	Latest(ctx context.Context) (*models.Reading, error)
	Prune(ctx context.Context, cutoff time.Time) (models.SummaryReport, error)
	GetStorageStats(ctx context.Context) (*StorageStats, error)
}

// Compile-time interface check
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore is the append-only persistence for readings.
// database/sql pools are safe for concurrent use, and the pool is capped at
// one connection so SQLite sees a single writer.
type SQLiteStore struct {
	db     *sql.DB
	logger zerolog.Logger
	now    func() time.Time
}

// StorageStats contains information about the database
type StorageStats struct {
	TotalReadings  int64     `json:"total_readings"`
	OldestReading  time.Time `json:"oldest_reading,omitempty"`
	NewestReading  time.Time `json:"newest_reading,omitempty"`
	DatabaseSizeMB float64   `json:"database_size_mb"`
}

// NewSQLiteStore opens (or creates) the database at dbPath and migrates it
func NewSQLiteStore(dbPath string, logger zerolog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, &StorageError{Op: "open", Err: err}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, &StorageError{Op: "ping", Err: err}
	}

	// Apply performance pragmas for SQLite
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA cache_size=10000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, &StorageError{Op: "pragma", Err: fmt.Errorf("%q: %w", pragma, err)}
		}
	}

	// Configure connection pool for SQLite (single writer)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	store := NewSQLiteStoreFromDB(db, logger)

	if err := store.Migrate(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info().Str("path", dbPath).Msg("SQLite store initialized")

	return store, nil
}

// NewSQLiteStoreFromDB wraps an already opened handle without migrating it
func NewSQLiteStoreFromDB(db *sql.DB, logger zerolog.Logger) *SQLiteStore {
	return &SQLiteStore{
		db:     db,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate creates the database schema if it doesn't exist
func (s *SQLiteStore) Migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS readings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		recorded_at TEXT NOT NULL,
		heart_rate INTEGER NOT NULL,
		spo2 INTEGER NOT NULL,
		status TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_readings_time ON readings(recorded_at);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return &StorageError{Op: "migrate", Err: err}
	}

	s.logger.Debug().Msg("Database schema migrated")
	return nil
}

// Append stores a reading and returns its id. The caller's reading is not
// modified; the timestamp is assigned when zero.
func (s *SQLiteStore) Append(ctx context.Context, reading *models.Reading) (int64, error) {
	if reading == nil {
		return 0, &StorageError{Op: "append", Err: errors.New("nil reading")}
	}
	if !reading.IsValid() {
		return 0, &StorageError{Op: "append", Err: fmt.Errorf("%w: hr=%d spo2=%d status=%q",
			ErrInvalidReading, reading.HeartRate, reading.SpO2, reading.Status)}
	}

	ts := reading.Timestamp
	if ts.IsZero() {
		ts = s.now()
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO readings (recorded_at, heart_rate, spo2, status) VALUES (?, ?, ?, ?)`,
		formatTime(ts),
		reading.HeartRate,
		reading.SpO2,
		string(reading.Status),
	)
	if err != nil {
		return 0, &StorageError{Op: "append", Err: err}
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, &StorageError{Op: "append", Err: fmt.Errorf("failed to get last insert id: %w", err)}
	}

	return id, nil
}

// QueryWindow returns readings recorded within [now-since, now], oldest first
func (s *SQLiteStore) QueryWindow(ctx context.Context, since time.Duration) ([]*models.Reading, error) {
	end := s.now()
	start := end.Add(-since)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, recorded_at, heart_rate, spo2, status
		FROM readings
		WHERE recorded_at BETWEEN ? AND ?
		ORDER BY recorded_at ASC, id ASC
	`, formatTime(start), formatTime(end))
	if err != nil {
		return nil, &StorageError{Op: "query window", Err: err}
	}
	defer rows.Close()

	readings, err := s.scanReadings(rows)
	if err != nil {
		return nil, &StorageError{Op: "query window", Err: err}
	}
	return readings, nil
}

const aggregateColumns = `
	SELECT
		COUNT(*),
		COALESCE(AVG(heart_rate), 0),
		COALESCE(MIN(heart_rate), 0),
		COALESCE(MAX(heart_rate), 0),
		COALESCE(AVG(spo2), 0),
		COALESCE(MIN(spo2), 0),
		COALESCE(MAX(spo2), 0),
		COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0)`

// Aggregate computes count, min/max/avg and alert count over readings recorded
// at or after since. A zero since covers every row. When nothing matches the
// report has Count 0 and zeroed values.
func (s *SQLiteStore) Aggregate(ctx context.Context, since time.Time) (models.SummaryReport, error) {
	end := s.now()
	report := models.SummaryReport{PeriodStart: since.UTC(), PeriodEnd: end}

	query := aggregateColumns + ` FROM readings`
	args := []interface{}{string(models.StatusAlert)}
	if !since.IsZero() {
		query += ` WHERE recorded_at >= ?`
		args = append(args, formatTime(since))
	}

	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&report.Count,
		&report.AvgHR,
		&report.MinHR,
		&report.MaxHR,
		&report.AvgSpO2,
		&report.MinSpO2,
		&report.MaxSpO2,
		&report.AlertCount,
	)
	if err != nil {
		return models.SummaryReport{}, &StorageError{Op: "aggregate", Err: err}
	}

	return report, nil
}

// AggregateAfter summarises readings with an id above afterID that were
// recorded at or after notBefore, and returns the highest id it covered
// (afterID when nothing matched). Ids are assigned in append order, so
// chaining the returned id into the next call splits the readings into
// disjoint windows regardless of clock skew between writers.
func (s *SQLiteStore) AggregateAfter(ctx context.Context, afterID int64, notBefore time.Time) (models.SummaryReport, int64, error) {
	report := models.SummaryReport{PeriodStart: notBefore.UTC(), PeriodEnd: s.now()}

	query := aggregateColumns + `,
		COALESCE(MAX(id), ?)
	FROM readings
	WHERE id > ? AND recorded_at >= ?`

	var lastID int64
	err := s.db.QueryRowContext(ctx, query,
		string(models.StatusAlert), afterID, afterID, formatTime(notBefore),
	).Scan(
		&report.Count,
		&report.AvgHR,
		&report.MinHR,
		&report.MaxHR,
		&report.AvgSpO2,
		&report.MinSpO2,
		&report.MaxSpO2,
		&report.AlertCount,
		&lastID,
	)
	if err != nil {
		return models.SummaryReport{}, afterID, &StorageError{Op: "aggregate", Err: err}
	}

	return report, lastID, nil
}

// Latest returns the most recent reading, or nil when the store is empty
func (s *SQLiteStore) Latest(ctx context.Context) (*models.Reading, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, recorded_at, heart_rate, spo2, status
		FROM readings
		ORDER BY recorded_at DESC, id DESC
		LIMIT 1
	`)
	reading, err := s.scanReading(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &StorageError{Op: "latest", Err: err}
	}
	return reading, nil
}

// Prune deletes readings recorded before cutoff and returns an aggregate of
// what was removed. Both happen in one transaction, so the report covers
// exactly the deleted rows.
func (s *SQLiteStore) Prune(ctx context.Context, cutoff time.Time) (models.SummaryReport, error) {
	report := models.SummaryReport{PeriodEnd: cutoff.UTC()}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.SummaryReport{}, &StorageError{Op: "prune", Err: err}
	}
	defer tx.Rollback()

	var oldest sql.NullString
	err = tx.QueryRowContext(ctx, aggregateColumns+`,
		MIN(recorded_at)
	FROM readings
	WHERE recorded_at < ?`, string(models.StatusAlert), formatTime(cutoff)).Scan(
		&report.Count,
		&report.AvgHR,
		&report.MinHR,
		&report.MaxHR,
		&report.AvgSpO2,
		&report.MinSpO2,
		&report.MaxSpO2,
		&report.AlertCount,
		&oldest,
	)
	if err != nil {
		return models.SummaryReport{}, &StorageError{Op: "prune", Err: err}
	}
	if report.Count == 0 {
		return report, nil
	}
	if oldest.Valid {
		report.PeriodStart, _ = parseTimestamp(oldest.String)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM readings WHERE recorded_at < ?", formatTime(cutoff)); err != nil {
		return models.SummaryReport{}, &StorageError{Op: "prune", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return models.SummaryReport{}, &StorageError{Op: "prune", Err: err}
	}
	return report, nil
}

// GetStorageStats returns statistics about the database
func (s *SQLiteStore) GetStorageStats(ctx context.Context) (*StorageStats, error) {
	stats := &StorageStats{}

	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM readings").Scan(&stats.TotalReadings); err != nil {
		return nil, &StorageError{Op: "stats", Err: err}
	}

	if stats.TotalReadings == 0 {
		return stats, nil
	}

	var oldestStr, newestStr string
	err := s.db.QueryRowContext(ctx, "SELECT MIN(recorded_at), MAX(recorded_at) FROM readings").
		Scan(&oldestStr, &newestStr)
	if err != nil {
		return nil, &StorageError{Op: "stats", Err: err}
	}

	stats.OldestReading, _ = parseTimestamp(oldestStr)
	stats.NewestReading, _ = parseTimestamp(newestStr)

	var pageCount, pageSize int64
	s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount)
	s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize)
	stats.DatabaseSizeMB = float64(pageCount*pageSize) / (1024 * 1024)

	return stats, nil
}

// scanReading is a helper to scan a row into a Reading struct
func (s *SQLiteStore) scanReading(row interface{ Scan(...interface{}) error }) (*models.Reading, error) {
	var r models.Reading
	var recordedAt, status string

	if err := row.Scan(&r.ID, &recordedAt, &r.HeartRate, &r.SpO2, &status); err != nil {
		return nil, err
	}

	ts, err := parseTimestamp(recordedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse recorded_at: %w", err)
	}
	r.Timestamp = ts
	r.Status = models.Status(status)

	return &r, nil
}

// scanReadings scans multiple rows into a slice of readings
func (s *SQLiteStore) scanReadings(rows *sql.Rows) ([]*models.Reading, error) {
	readings := make([]*models.Reading, 0)

	for rows.Next() {
		r, err := s.scanReading(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reading: %w", err)
		}
		readings = append(readings, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return readings, nil
}

// StartOfDay returns midnight UTC of the day containing t
func StartOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

// parseTimestamp tries multiple formats to parse a stored timestamp
func parseTimestamp(ts string) (time.Time, error) {
	formats := []string{
		timeFormat,
		"2006-01-02 15:04:05",
		time.RFC3339Nano,
	}

	for _, format := range formats {
		if t, err := time.Parse(format, ts); err == nil {
			return t.UTC(), nil
		}
	}

	return time.Time{}, fmt.Errorf("unable to parse timestamp: %s", ts)
}
