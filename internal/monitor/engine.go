// Package monitor runs the sampling loop, the summary cadence and manual
// trigger cycles over one shared state.
package monitor

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/vitals-monitor/internal/indicator"
	"github.com/afroash/vitals-monitor/internal/models"
	"github.com/afroash/vitals-monitor/internal/storage"
	"github.com/afroash/vitals-monitor/internal/trigger"
	"github.com/afroash/vitals-monitor/internal/vitals"
)

// snapshotTimeout bounds a snapshot publish so a slow dashboard store cannot
// stretch the sampling cadence
const snapshotTimeout = 500 * time.Millisecond

// Store is the part of the reading store the engine writes and summarises
type Store interface {
	Append(ctx context.Context, reading *models.Reading) (int64, error)
	Aggregate(ctx context.Context, since time.Time) (models.SummaryReport, error)
	AggregateAfter(ctx context.Context, afterID int64, notBefore time.Time) (models.SummaryReport, int64, error)
	Close() error
}

// Sender forwards payloads to the telemetry endpoint
type Sender interface {
	Send(ctx context.Context, kind models.MessageType, payload interface{}) bool
}

// Publisher mirrors the latest reading to external dashboards
type Publisher interface {
	Publish(ctx context.Context, reading *models.Reading) error
}

// Drainer is a background delivery activity such as a retry queue
type Drainer interface {
	Run(ctx context.Context)
	Size() int
}

// Config holds engine settings
type Config struct {
	Thresholds          models.ThresholdWindow
	SampleInterval      time.Duration
	SummaryInterval     time.Duration
	SummaryScope        SummaryScope
	ActivityShiftChance float64
	AckFlashes          int
	AckFlashPeriod      time.Duration
}

// DefaultConfig returns one sample a second and a summary a minute
func DefaultConfig() Config {
	return Config{
		Thresholds:          models.DefaultThresholdWindow(),
		SampleInterval:      time.Second,
		SummaryInterval:     60 * time.Second,
		SummaryScope:        ScopeWindow,
		ActivityShiftChance: 0.05,
		AckFlashes:          3,
		AckFlashPeriod:      100 * time.Millisecond,
	}
}

// Validate returns a *models.ConfigurationError describing the first problem
func (c Config) Validate() error {
	if err := c.Thresholds.Validate(); err != nil {
		return err
	}
	if c.SampleInterval <= 0 {
		return &models.ConfigurationError{Field: "engine.sample_interval", Reason: "must be positive"}
	}
	if c.SummaryInterval <= 0 {
		return &models.ConfigurationError{Field: "engine.summary_interval", Reason: "must be positive"}
	}
	if !c.SummaryScope.Valid() {
		return &models.ConfigurationError{Field: "engine.summary_scope", Reason: fmt.Sprintf("unknown scope %q", c.SummaryScope)}
	}
	if c.ActivityShiftChance < 0 || c.ActivityShiftChance > 1 {
		return &models.ConfigurationError{Field: "engine.activity_shift_chance", Reason: "must be within 0-1"}
	}
	if c.AckFlashes < 0 {
		return &models.ConfigurationError{Field: "engine.ack_flashes", Reason: "must not be negative"}
	}
	return nil
}

// Deps are the collaborators the engine drives. Trigger, Snapshot, Retry and
// Metrics are optional.
type Deps struct {
	Source   vitals.Source
	Panel    indicator.Panel
	Store    Store
	Uplink   Sender
	Trigger  trigger.Channel
	Snapshot Publisher
	Retry    Drainer
	Metrics  *Metrics
	Logger   zerolog.Logger
}

// Engine orchestrates sampling, summaries and manual cycles
type Engine struct {
	config   Config
	source   vitals.Source
	panel    indicator.Panel
	store    Store
	uplink   Sender
	trigger  trigger.Channel
	snapshot Publisher
	retry    Drainer
	metrics  *Metrics
	logger   zerolog.Logger

	// mu guards state and everything below it
	mu            sync.Mutex
	state         State
	stopping      bool
	lastSummary   time.Time
	lastSummaryID int64 // highest reading id covered by a window summary
	cycleCtx      context.Context

	// cycles tracks manual cycles and summary sends still running
	cycles         sync.WaitGroup
	summaryRunning atomic.Bool

	// publishMu orders snapshot publishes; publishedID is the newest sent
	publishMu       sync.Mutex
	publishedID     int64
	snapshotTimeout time.Duration

	// rng is only used by the sampling goroutine
	rng *rand.Rand
	now func() time.Time

	runOnce sync.Once
}

// New validates config and builds an engine. An invalid threshold window or
// cadence yields a *models.ConfigurationError.
func New(config Config, deps Deps) (*Engine, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if deps.Source == nil {
		return nil, &models.ConfigurationError{Field: "source", Reason: "is required"}
	}
	if deps.Panel == nil {
		return nil, &models.ConfigurationError{Field: "indicator", Reason: "is required"}
	}
	if deps.Store == nil {
		return nil, &models.ConfigurationError{Field: "storage", Reason: "is required"}
	}
	if deps.Uplink == nil {
		return nil, &models.ConfigurationError{Field: "uplink", Reason: "is required"}
	}

	metrics := deps.Metrics
	if metrics == nil {
		metrics = NewMetrics(nil)
	}

	now := func() time.Time { return time.Now().UTC() }
	started := now()

	return &Engine{
		config:          config,
		source:          deps.Source,
		panel:           deps.Panel,
		store:           deps.Store,
		uplink:          deps.Uplink,
		trigger:         deps.Trigger,
		snapshot:        deps.Snapshot,
		retry:           deps.Retry,
		metrics:         metrics,
		logger:          deps.Logger,
		state:           State{StartedAt: started},
		lastSummary:     started,
		cycleCtx:        context.Background(),
		snapshotTimeout: snapshotTimeout,
		rng:             rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		now:             now,
	}, nil
}

// Run drives the sampling and summary cadences until ctx is cancelled, then
// shuts down: in-flight manual cycles and summary sends are allowed to
// finish, indicators are reset and the store is closed. Run may only be
// called once.
func (e *Engine) Run(ctx context.Context) error {
	started := false
	e.runOnce.Do(func() { started = true })
	if !started {
		return fmt.Errorf("engine already run")
	}

	e.mu.Lock()
	// Cycles outlive cancellation so shutdown never cuts one short
	e.cycleCtx = context.WithoutCancel(ctx)
	e.mu.Unlock()

	var background sync.WaitGroup
	if e.trigger != nil {
		background.Add(1)
		go func() {
			defer background.Done()
			if err := e.trigger.Listen(ctx, func() { e.Trigger() }); err != nil {
				e.logger.Error().Err(err).Msg("Manual trigger channel failed")
			}
		}()
	}
	if e.retry != nil {
		background.Add(1)
		go func() {
			defer background.Done()
			e.retry.Run(ctx)
		}()
	}

	sampleTicker := time.NewTicker(e.config.SampleInterval)
	defer sampleTicker.Stop()
	summaryTicker := time.NewTicker(e.config.SummaryInterval)
	defer summaryTicker.Stop()

	e.logger.Info().
		Dur("sample_interval", e.config.SampleInterval).
		Dur("summary_interval", e.config.SummaryInterval).
		Str("summary_scope", string(e.config.SummaryScope)).
		Int("hr_min", e.config.Thresholds.HRMin).
		Int("hr_max", e.config.Thresholds.HRMax).
		Int("spo2_min", e.config.Thresholds.SpO2Min).
		Msg("Monitor engine started")

	for {
		select {
		case <-ctx.Done():
			sampleTicker.Stop()
			summaryTicker.Stop()
			background.Wait()
			return e.shutdown()
		case <-sampleTicker.C:
			e.SamplingTick(ctx)
		case <-summaryTicker.C:
			e.startUplinkTick()
		}
	}
}

// shutdown refuses new cycles, waits for running ones, then releases hardware
// and storage
func (e *Engine) shutdown() error {
	e.mu.Lock()
	e.stopping = true
	inFlight := e.state.TriggerInFlight
	e.mu.Unlock()

	if inFlight {
		e.logger.Info().Msg("Waiting for in-flight manual cycle")
	}
	e.cycles.Wait()

	if err := e.panel.Reset(); err != nil {
		e.logger.Warn().Err(err).Msg("Failed to reset indicators")
	}

	if err := e.store.Close(); err != nil {
		e.logger.Error().Err(err).Msg("Failed to close store")
		return fmt.Errorf("failed to close store: %w", err)
	}

	snap := e.Snapshot()
	e.logger.Info().
		Int64("readings", snap.ReadingCount).
		Int64("alerts", snap.AlertCount).
		Msg("Monitor engine stopped")
	return nil
}

// SamplingTick occasionally shifts the activity level, then takes one reading
func (e *Engine) SamplingTick(ctx context.Context) error {
	if e.rng.Float64() < e.config.ActivityShiftChance {
		e.source.ShiftActivity()
		e.logger.Debug().Msg("Activity level shifted")
	}

	_, err := e.takeReading(ctx, "periodic")
	return err
}

// takeReading samples, classifies, updates indicators, persists and records
// the result. A storage failure aborts before state is touched.
func (e *Engine) takeReading(ctx context.Context, origin string) (*models.Reading, error) {
	hr, spo2 := e.source.Sample()
	status := vitals.Classify(hr, spo2, e.config.Thresholds)

	if err := e.panel.SetStatus(status); err != nil {
		e.logger.Warn().Err(err).Msg("Failed to update indicators")
	}

	reading := models.NewReading(hr, spo2, status)
	reading.Timestamp = e.now()

	id, err := e.store.Append(ctx, reading)
	if err != nil {
		e.metrics.StorageErrors.Inc()
		e.logger.Error().
			Err(err).
			Str("origin", origin).
			Int("heart_rate", hr).
			Int("spo2", spo2).
			Msg("Failed to persist reading, cycle aborted")
		return nil, err
	}
	reading.ID = id

	e.mu.Lock()
	// Concurrent cycles may finish out of order; Current tracks the newest row
	if e.state.Current == nil || id > e.state.Current.ID {
		e.state.Current = reading.Copy()
	}
	e.state.ReadingCount++
	if status == models.StatusAlert {
		e.state.AlertCount++
	}
	e.mu.Unlock()

	e.metrics.observeReading(reading)

	if e.snapshot != nil {
		e.publishSnapshot(ctx, reading)
	}

	event := e.logger.Info()
	if status == models.StatusAlert {
		event = e.logger.Warn()
	}
	event.
		Str("origin", origin).
		Int64("id", id).
		Int("heart_rate", hr).
		Int("spo2", spo2).
		Str("status", string(status)).
		Msg("Reading recorded")

	return reading, nil
}

// publishSnapshot mirrors reading unless a newer one has already gone out
func (e *Engine) publishSnapshot(ctx context.Context, reading *models.Reading) {
	e.publishMu.Lock()
	defer e.publishMu.Unlock()

	if reading.ID <= e.publishedID {
		return
	}
	e.publishedID = reading.ID

	ctx, cancel := context.WithTimeout(ctx, e.snapshotTimeout)
	defer cancel()
	if err := e.snapshot.Publish(ctx, reading); err != nil {
		e.logger.Warn().Err(err).Int64("id", reading.ID).Msg("Failed to publish snapshot")
	}
}

// startUplinkTick runs an UplinkTick off the sampling goroutine. A tick that
// comes due while the previous one is still sending is skipped.
func (e *Engine) startUplinkTick() {
	if !e.summaryRunning.CompareAndSwap(false, true) {
		e.logger.Warn().Msg("Previous summary still sending, skipping this one")
		return
	}

	e.mu.Lock()
	if e.stopping {
		e.mu.Unlock()
		e.summaryRunning.Store(false)
		return
	}
	ctx := e.cycleCtx
	e.cycles.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.cycles.Done()
		defer e.summaryRunning.Store(false)
		e.UplinkTick(ctx)
	}()
}

// UplinkTick summarises the configured scope and sends the report. The report
// is sent even when empty. It returns the report and whether the send
// succeeded.
func (e *Engine) UplinkTick(ctx context.Context) (models.SummaryReport, bool, error) {
	now := e.now()

	e.mu.Lock()
	since := e.lastSummary
	afterID := e.lastSummaryID
	startedAt := e.state.StartedAt
	e.mu.Unlock()

	var (
		report models.SummaryReport
		lastID int64
		err    error
	)
	if e.config.SummaryScope == ScopeDay {
		report, err = e.store.Aggregate(ctx, storage.StartOfDay(now))
	} else {
		// Rows from earlier runs predate StartedAt and stay out of the first window
		report, lastID, err = e.store.AggregateAfter(ctx, afterID, startedAt)
		report.PeriodStart = since
		report.PeriodEnd = now
	}
	if err != nil {
		e.metrics.StorageErrors.Inc()
		e.logger.Error().Err(err).Msg("Failed to compute summary")
		return models.SummaryReport{}, false, err
	}

	e.mu.Lock()
	e.lastSummary = now
	if lastID > e.lastSummaryID {
		e.lastSummaryID = lastID
	}
	e.mu.Unlock()

	e.logger.Info().
		Str("scope", string(e.config.SummaryScope)).
		Int64("count", report.Count).
		Float64("avg_hr", report.AvgHR).
		Int("min_hr", report.MinHR).
		Int("max_hr", report.MaxHR).
		Float64("avg_spo2", report.AvgSpO2).
		Int("min_spo2", report.MinSpO2).
		Int("max_spo2", report.MaxSpO2).
		Int64("alerts", report.AlertCount).
		Msg("Summary computed")

	ok := e.send(ctx, models.MessageTypeSummary, report)
	if ok {
		e.logger.Info().Msg("Summary uploaded")
	} else {
		e.logger.Warn().Msg("Summary upload failed")
	}
	return report, ok, nil
}

// Trigger requests a manual cycle in the background. It returns false when
// the request was coalesced into a cycle already in flight or the engine is
// stopping.
func (e *Engine) Trigger() bool {
	ctx, ok := e.acquireTrigger()
	if !ok {
		return false
	}

	go func() {
		defer e.releaseTrigger()
		e.manualCycle(ctx)
	}()
	return true
}

// ManualCycle runs one manual cycle on the caller's goroutine. ran is false
// when the request was coalesced; err reports a storage failure.
func (e *Engine) ManualCycle(ctx context.Context) (ran bool, err error) {
	if _, ok := e.acquireTrigger(); !ok {
		return false, nil
	}
	defer e.releaseTrigger()

	return true, e.manualCycle(ctx)
}

// acquireTrigger is the test-and-set on TriggerInFlight
func (e *Engine) acquireTrigger() (context.Context, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopping || e.state.TriggerInFlight {
		e.metrics.ManualTriggers.WithLabelValues(outcomeCoalesced).Inc()
		e.logger.Debug().Bool("stopping", e.stopping).Msg("Manual trigger ignored")
		return nil, false
	}
	e.state.TriggerInFlight = true
	e.cycles.Add(1)
	return e.cycleCtx, true
}

func (e *Engine) releaseTrigger() {
	e.mu.Lock()
	e.state.TriggerInFlight = false
	e.mu.Unlock()
	e.cycles.Done()
}

func (e *Engine) manualCycle(ctx context.Context) error {
	e.logger.Info().Msg("Manual trigger, sending current reading")

	reading, err := e.takeReading(ctx, "manual")
	if err != nil {
		e.metrics.ManualTriggers.WithLabelValues(outcomeStorageError).Inc()
		return err
	}

	if !e.send(ctx, models.MessageTypeReading, reading) {
		e.metrics.ManualTriggers.WithLabelValues(outcomeUplinkFailed).Inc()
		e.logger.Warn().Int64("id", reading.ID).Msg("Manual upload failed, reading kept locally")
		return nil
	}

	if e.config.AckFlashes > 0 {
		if err := e.panel.Flash(ctx, e.config.AckFlashes, e.config.AckFlashPeriod); err != nil {
			e.logger.Warn().Err(err).Msg("Failed to flash acknowledgement")
		}
	}
	e.metrics.ManualTriggers.WithLabelValues(outcomeAcknowledged).Inc()
	e.logger.Info().Int64("id", reading.ID).Msg("Manual upload acknowledged")
	return nil
}

// send wraps the uplink with metrics
func (e *Engine) send(ctx context.Context, kind models.MessageType, payload interface{}) bool {
	start := time.Now()
	ok := e.uplink.Send(ctx, kind, payload)
	e.metrics.observeSend(kind, ok, time.Since(start).Seconds())
	if e.retry != nil {
		e.metrics.RetryQueueLen.Set(float64(e.retry.Size()))
	}
	return ok
}

// Snapshot returns a copy of the current state
func (e *Engine) Snapshot() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Copy()
}

// Thresholds returns the window readings are classified against
func (e *Engine) Thresholds() models.ThresholdWindow {
	return e.config.Thresholds
}
