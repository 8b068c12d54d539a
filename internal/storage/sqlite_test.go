package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/rs/zerolog"

	"github.com/afroash/vitals-monitor/internal/models"
)

// testLogger creates a logger for tests
func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

// setupTestDB creates a temporary database for testing
func setupTestDB(t *testing.T) (*SQLiteStore, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "vitals-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}

	dbPath := filepath.Join(tmpDir, "test.db")
	store, err := NewSQLiteStore(dbPath, testLogger())
	if err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("Failed to create store: %v", err)
	}

	cleanup := func() {
		store.Close()
		os.RemoveAll(tmpDir)
	}

	return store, cleanup
}

// createTestReading creates a reading with specified parameters
func createTestReading(hr, spo2 int, status models.Status, timestamp time.Time) *models.Reading {
	return &models.Reading{
		HeartRate: hr,
		SpO2:      spo2,
		Status:    status,
		Timestamp: timestamp,
	}
}

// freezeClock pins the store's notion of now
func freezeClock(store *SQLiteStore, now time.Time) {
	store.now = func() time.Time { return now }
}

func TestNewSQLiteStore(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	if store == nil {
		t.Fatal("Expected non-nil store")
	}

	if store.db == nil {
		t.Fatal("Expected non-nil database connection")
	}
}

func TestNewSQLiteStore_InvalidPath(t *testing.T) {
	_, err := NewSQLiteStore("/nonexistent/path/that/cannot/exist/test.db", testLogger())
	if err == nil {
		t.Fatal("Expected error for invalid path")
	}

	var storageErr *StorageError
	if !errors.As(err, &storageErr) {
		t.Fatalf("Expected *StorageError, got %T", err)
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	for i := 0; i < 3; i++ {
		if err := store.Migrate(); err != nil {
			t.Fatalf("Migrate() call %d failed: %v", i+1, err)
		}
	}

	var name string
	err := store.db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='readings'").Scan(&name)
	if err != nil {
		t.Fatalf("readings table not found: %v", err)
	}
}

func TestAppend(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	reading := createTestReading(72, 98, models.StatusNormal, time.Now().UTC())

	id1, err := store.Append(ctx, reading)
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	id2, err := store.Append(ctx, reading)
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	if id1 <= 0 {
		t.Errorf("id1 = %d, want positive", id1)
	}
	if id2 <= id1 {
		t.Errorf("ids not increasing: %d then %d", id1, id2)
	}
	if reading.ID != 0 {
		t.Errorf("caller's reading was modified, ID = %d", reading.ID)
	}
}

func TestAppend_AssignsTimestamp(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	now := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	freezeClock(store, now)

	if _, err := store.Append(context.Background(), createTestReading(80, 97, models.StatusNormal, time.Time{})); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	latest, err := store.Latest(context.Background())
	if err != nil {
		t.Fatalf("Latest() error = %v", err)
	}
	if !latest.Timestamp.Equal(now) {
		t.Errorf("Timestamp = %v, want %v", latest.Timestamp, now)
	}
}

func TestAppend_Nil(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	if _, err := store.Append(context.Background(), nil); err == nil {
		t.Error("Expected error for nil reading")
	}
}

func TestAppend_RejectsOutOfRange(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	tests := []struct {
		name    string
		reading *models.Reading
	}{
		{"negative heart rate", createTestReading(-1, 98, models.StatusNormal, time.Time{})},
		{"heart rate above 300", createTestReading(301, 98, models.StatusNormal, time.Time{})},
		{"spo2 above 100", createTestReading(70, 101, models.StatusNormal, time.Time{})},
		{"unknown status", createTestReading(70, 98, models.Status("Critical"), time.Time{})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.Append(context.Background(), tt.reading)

			var storageErr *StorageError
			if !errors.As(err, &storageErr) {
				t.Fatalf("Expected *StorageError, got %T (%v)", err, err)
			}
			if !errors.Is(err, ErrInvalidReading) {
				t.Errorf("Expected ErrInvalidReading, got %v", err)
			}
		})
	}

	stats, err := store.GetStorageStats(context.Background())
	if err != nil {
		t.Fatalf("GetStorageStats() error = %v", err)
	}
	if stats.TotalReadings != 0 {
		t.Errorf("TotalReadings = %d, want 0", stats.TotalReadings)
	}
}

func TestQueryWindow(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	now := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)
	freezeClock(store, now)

	// Out of order on purpose; two share a timestamp
	offsets := []time.Duration{
		-10 * time.Minute,
		-2 * time.Minute,
		-4 * time.Minute,
		-2 * time.Minute,
		-30 * time.Second,
	}
	for i, off := range offsets {
		if _, err := store.Append(ctx, createTestReading(60+i, 98, models.StatusNormal, now.Add(off))); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	readings, err := store.QueryWindow(ctx, 5*time.Minute)
	if err != nil {
		t.Fatalf("QueryWindow() error = %v", err)
	}

	if len(readings) != 4 {
		t.Fatalf("Expected 4 readings, got %d", len(readings))
	}

	wantHR := []int{62, 61, 63, 64}
	for i, r := range readings {
		if r.HeartRate != wantHR[i] {
			t.Errorf("readings[%d].HeartRate = %d, want %d", i, r.HeartRate, wantHR[i])
		}
		if i > 0 {
			prev := readings[i-1]
			if r.Timestamp.Before(prev.Timestamp) {
				t.Errorf("readings not ascending at %d", i)
			}
			if r.Timestamp.Equal(prev.Timestamp) && r.ID < prev.ID {
				t.Errorf("tie at %d not ordered by id", i)
			}
		}
	}
}

func TestQueryWindow_Empty(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	readings, err := store.QueryWindow(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("QueryWindow() error = %v", err)
	}
	if readings == nil || len(readings) != 0 {
		t.Errorf("Expected empty non-nil slice, got %v", readings)
	}
}

func TestAggregate(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	now := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)
	freezeClock(store, now)

	inputs := []*models.Reading{
		createTestReading(70, 98, models.StatusNormal, now.Add(-30*time.Minute)),
		createTestReading(80, 96, models.StatusNormal, now.Add(-20*time.Minute)),
		createTestReading(90, 94, models.StatusAlert, now.Add(-10*time.Minute)),
		// yesterday
		createTestReading(120, 91, models.StatusAlert, now.Add(-24*time.Hour)),
	}
	for _, r := range inputs {
		if _, err := store.Append(ctx, r); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	report, err := store.Aggregate(ctx, StartOfDay(now))
	if err != nil {
		t.Fatalf("Aggregate() error = %v", err)
	}

	if report.Count != 3 {
		t.Errorf("Count = %d, want 3", report.Count)
	}
	if report.AvgHR != 80 {
		t.Errorf("AvgHR = %.2f, want 80", report.AvgHR)
	}
	if report.MinHR != 70 || report.MaxHR != 90 {
		t.Errorf("HR range = %d-%d, want 70-90", report.MinHR, report.MaxHR)
	}
	if report.AvgSpO2 != 96 {
		t.Errorf("AvgSpO2 = %.2f, want 96", report.AvgSpO2)
	}
	if report.MinSpO2 != 94 || report.MaxSpO2 != 98 {
		t.Errorf("SpO2 range = %d-%d, want 94-98", report.MinSpO2, report.MaxSpO2)
	}
	if report.AlertCount != 1 {
		t.Errorf("AlertCount = %d, want 1", report.AlertCount)
	}
	if !report.PeriodEnd.Equal(now) {
		t.Errorf("PeriodEnd = %v, want %v", report.PeriodEnd, now)
	}

	all, err := store.Aggregate(ctx, time.Time{})
	if err != nil {
		t.Fatalf("Aggregate(all) error = %v", err)
	}
	if all.Count != 4 || all.AlertCount != 2 || all.MaxHR != 120 {
		t.Errorf("Aggregate(all) = %+v", all)
	}
}

func TestAggregate_Idempotent(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	now := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)
	freezeClock(store, now)

	for i, hr := range []int{62, 75, 101, 88} {
		status := models.StatusNormal
		if hr > 100 {
			status = models.StatusAlert
		}
		r := createTestReading(hr, 95+i, status, now.Add(-time.Duration(i+1)*time.Minute))
		if _, err := store.Append(ctx, r); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	first, err := store.Aggregate(ctx, StartOfDay(now))
	if err != nil {
		t.Fatalf("Aggregate() error = %v", err)
	}
	second, err := store.Aggregate(ctx, StartOfDay(now))
	if err != nil {
		t.Fatalf("Aggregate() error = %v", err)
	}

	if first != second {
		t.Errorf("Aggregate not repeatable without writes:\nfirst  %+v\nsecond %+v", first, second)
	}
	if first.Count != 4 || first.AlertCount != 1 {
		t.Errorf("Unexpected report %+v", first)
	}
}

func TestAggregateAfter_ChainsDisjointWindows(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	now := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)
	freezeClock(store, now)
	started := now.Add(-time.Hour)

	// Left over from a previous run
	if _, err := store.Append(ctx, createTestReading(150, 85, models.StatusAlert, started.Add(-time.Minute))); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	for _, hr := range []int{70, 80} {
		if _, err := store.Append(ctx, createTestReading(hr, 97, models.StatusNormal, now)); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	first, lastID, err := store.AggregateAfter(ctx, 0, started)
	if err != nil {
		t.Fatalf("AggregateAfter() error = %v", err)
	}
	if first.Count != 2 || first.AvgHR != 75 || first.AlertCount != 0 {
		t.Errorf("first window = %+v", first)
	}
	if lastID != 3 {
		t.Errorf("lastID = %d, want 3", lastID)
	}

	// Stamped earlier than the first window's readings but appended after it
	if _, err := store.Append(ctx, createTestReading(110, 93, models.StatusAlert, now.Add(-time.Second))); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	second, nextID, err := store.AggregateAfter(ctx, lastID, started)
	if err != nil {
		t.Fatalf("AggregateAfter() error = %v", err)
	}
	if second.Count != 1 || second.MaxHR != 110 || second.AlertCount != 1 {
		t.Errorf("second window = %+v", second)
	}
	if nextID != 4 {
		t.Errorf("nextID = %d, want 4", nextID)
	}

	empty, sameID, err := store.AggregateAfter(ctx, nextID, started)
	if err != nil {
		t.Fatalf("AggregateAfter() error = %v", err)
	}
	if !empty.IsEmpty() || sameID != nextID {
		t.Errorf("empty window = %+v, id %d", empty, sameID)
	}
}

func TestAggregate_Empty(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	report, err := store.Aggregate(context.Background(), time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("Aggregate() error = %v", err)
	}

	if !report.IsEmpty() {
		t.Errorf("Count = %d, want 0", report.Count)
	}
	if report.AvgHR != 0 || report.MinHR != 0 || report.MaxHR != 0 || report.AlertCount != 0 {
		t.Errorf("Expected zeroed report, got %+v", report)
	}
}

func TestLatest(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	latest, err := store.Latest(ctx)
	if err != nil {
		t.Fatalf("Latest() error = %v", err)
	}
	if latest != nil {
		t.Errorf("Expected nil on empty store, got %v", latest)
	}

	now := time.Now().UTC()
	store.Append(ctx, createTestReading(65, 99, models.StatusNormal, now.Add(-time.Minute)))
	id, _ := store.Append(ctx, createTestReading(105, 93, models.StatusAlert, now))

	latest, err = store.Latest(ctx)
	if err != nil {
		t.Fatalf("Latest() error = %v", err)
	}
	if latest.ID != id || latest.Status != models.StatusAlert || latest.HeartRate != 105 {
		t.Errorf("Latest() = %v", latest)
	}
}

func TestStartOfDay(t *testing.T) {
	in := time.Date(2025, 3, 14, 23, 59, 59, 0, time.FixedZone("X", 2*3600))
	got := StartOfDay(in)
	want := time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("StartOfDay() = %v, want %v", got, want)
	}
}

func TestPrune(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	now := time.Now().UTC()
	cutoff := now.AddDate(0, 0, -30)
	oldest := now.AddDate(0, 0, -40).Truncate(time.Millisecond)

	store.Append(ctx, createTestReading(60, 97, models.StatusNormal, oldest))
	store.Append(ctx, createTestReading(140, 88, models.StatusAlert, now.AddDate(0, 0, -35)))
	for i := 0; i < 3; i++ {
		store.Append(ctx, createTestReading(70, 98, models.StatusNormal, now.Add(-time.Duration(i)*time.Hour)))
	}

	pruned, err := store.Prune(ctx, cutoff)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if pruned.Count != 2 || pruned.AlertCount != 1 || pruned.AvgHR != 100 {
		t.Errorf("pruned = %+v", pruned)
	}
	if !pruned.PeriodStart.Equal(oldest) {
		t.Errorf("PeriodStart = %v, want %v", pruned.PeriodStart, oldest)
	}

	stats, err := store.GetStorageStats(ctx)
	if err != nil {
		t.Fatalf("GetStorageStats() error = %v", err)
	}
	if stats.TotalReadings != 3 {
		t.Errorf("TotalReadings = %d, want 3", stats.TotalReadings)
	}

	empty, err := store.Prune(ctx, cutoff)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if !empty.IsEmpty() {
		t.Errorf("second Prune() = %+v, want empty", empty)
	}
}

func TestPrune_RollsBackOnDeleteFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	store := NewSQLiteStoreFromDB(db, testLogger())
	rows := sqlmock.NewRows([]string{"count", "avg_hr", "min_hr", "max_hr", "avg_spo2", "min_spo2", "max_spo2", "alerts", "oldest"}).
		AddRow(int64(2), 80.0, 70, 90, 97.0, 96, 98, int64(0), "2025-01-01 00:00:00.000")

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT").WillReturnRows(rows)
	mock.ExpectExec("DELETE FROM readings").WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, err = store.Prune(context.Background(), time.Now())

	var storageErr *StorageError
	if !errors.As(err, &storageErr) || storageErr.Op != "prune" {
		t.Fatalf("Expected prune *StorageError, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestGetStorageStats(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	stats, err := store.GetStorageStats(ctx)
	if err != nil {
		t.Fatalf("GetStorageStats() error = %v", err)
	}
	if stats.TotalReadings != 0 {
		t.Errorf("TotalReadings = %d, want 0", stats.TotalReadings)
	}

	oldest := time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC)
	newest := oldest.Add(2 * time.Hour)
	store.Append(ctx, createTestReading(70, 98, models.StatusNormal, newest))
	store.Append(ctx, createTestReading(70, 98, models.StatusNormal, oldest))

	stats, err = store.GetStorageStats(ctx)
	if err != nil {
		t.Fatalf("GetStorageStats() error = %v", err)
	}
	if stats.TotalReadings != 2 {
		t.Errorf("TotalReadings = %d, want 2", stats.TotalReadings)
	}
	if !stats.OldestReading.Equal(oldest) || !stats.NewestReading.Equal(newest) {
		t.Errorf("range = %v - %v", stats.OldestReading, stats.NewestReading)
	}
	if stats.DatabaseSizeMB <= 0 {
		t.Errorf("DatabaseSizeMB = %f, want > 0", stats.DatabaseSizeMB)
	}
}

func TestConcurrentReadsAndWrites(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	var wg sync.WaitGroup
	errCh := make(chan error, 100)

	for w := 0; w < 5; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				if _, err := store.Append(ctx, createTestReading(70, 98, models.StatusNormal, time.Time{})); err != nil {
					errCh <- err
				}
			}
		}()
	}

	for r := 0; r < 3; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				if _, err := store.Aggregate(ctx, time.Time{}); err != nil {
					errCh <- err
				}
				if _, err := store.QueryWindow(ctx, time.Hour); err != nil {
					errCh <- err
				}
			}
		}()
	}

	wg.Wait()
	close(errCh)

	for err := range errCh {
		t.Errorf("Concurrent operation failed: %v", err)
	}

	report, _ := store.Aggregate(ctx, time.Time{})
	if report.Count != 50 {
		t.Errorf("Count = %d, want 50", report.Count)
	}
}

func TestClose(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	if err := store.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	_, err := store.Append(context.Background(), createTestReading(70, 98, models.StatusNormal, time.Time{}))
	if err == nil {
		t.Error("Expected error appending after Close()")
	}
}

func TestAppend_DriverFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	store := NewSQLiteStoreFromDB(db, testLogger())
	driverErr := errors.New("disk I/O error")

	mock.ExpectExec("INSERT INTO readings").WillReturnError(driverErr)

	_, err = store.Append(context.Background(), createTestReading(70, 98, models.StatusNormal, time.Now()))

	var storageErr *StorageError
	if !errors.As(err, &storageErr) {
		t.Fatalf("Expected *StorageError, got %T (%v)", err, err)
	}
	if storageErr.Op != "append" {
		t.Errorf("Op = %q, want append", storageErr.Op)
	}
	if !errors.Is(err, driverErr) {
		t.Error("StorageError should unwrap to the driver error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestAggregate_DriverFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	store := NewSQLiteStoreFromDB(db, testLogger())
	mock.ExpectQuery("SELECT").WillReturnError(errors.New("database is locked"))

	_, err = store.Aggregate(context.Background(), time.Time{})

	var storageErr *StorageError
	if !errors.As(err, &storageErr) || storageErr.Op != "aggregate" {
		t.Fatalf("Expected aggregate *StorageError, got %v", err)
	}
}

func TestAggregate_ScansRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	store := NewSQLiteStoreFromDB(db, testLogger())
	rows := sqlmock.NewRows([]string{"count", "avg_hr", "min_hr", "max_hr", "avg_spo2", "min_spo2", "max_spo2", "alerts"}).
		AddRow(int64(4), 77.5, 61, 99, 96.25, 93, 99, int64(2))
	mock.ExpectQuery("SELECT").WithArgs(string(models.StatusAlert)).WillReturnRows(rows)

	report, err := store.Aggregate(context.Background(), time.Time{})
	if err != nil {
		t.Fatalf("Aggregate() error = %v", err)
	}
	if report.Count != 4 || report.AvgHR != 77.5 || report.MinHR != 61 || report.MaxHR != 99 || report.AlertCount != 2 {
		t.Errorf("report = %+v", report)
	}
}

func BenchmarkAppend(b *testing.B) {
	tmpDir, _ := os.MkdirTemp("", "vitals-bench-*")
	defer os.RemoveAll(tmpDir)

	store, _ := NewSQLiteStore(filepath.Join(tmpDir, "bench.db"), testLogger())
	defer store.Close()

	ctx := context.Background()
	reading := createTestReading(72, 98, models.StatusNormal, time.Time{})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		store.Append(ctx, reading)
	}
}
