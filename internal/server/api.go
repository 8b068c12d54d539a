package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/afroash/vitals-monitor/internal/models"
	"github.com/afroash/vitals-monitor/internal/monitor"
	"github.com/afroash/vitals-monitor/internal/storage"
)

const defaultHistoryMinutes = 60

// maxHistoryMinutes is roughly ten years; larger values are clamped so the
// window duration cannot overflow
const maxHistoryMinutes = 10 * 366 * 24 * 60

// APIHandler serves the read-only reporting surface and the manual trigger
type APIHandler struct {
	store   HistoricalStore
	engine  Monitor
	logger  zerolog.Logger
	version string
}

// NewAPIHandler creates a new API handler
func NewAPIHandler(store HistoricalStore, engine Monitor, version string, logger zerolog.Logger) *APIHandler {
	return &APIHandler{
		store:   store,
		engine:  engine,
		logger:  logger,
		version: version,
	}
}

// Routes builds the mux for every endpoint. A nil gatherer leaves /metrics
// unregistered.
func (api *APIHandler) Routes(gatherer prometheus.Gatherer) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/current", api.HandleCurrent)
	mux.HandleFunc("/api/history", api.HandleHistory)
	mux.HandleFunc("/api/summary", api.HandleSummary)
	mux.HandleFunc("/api/stats", api.HandleStats)
	mux.HandleFunc("/api/trigger", api.HandleTrigger)
	mux.HandleFunc("/health", api.HandleHealth)

	if gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

// HandleCurrent returns the engine's current reading, falling back to the
// newest stored one before the first cycle completes
func (api *APIHandler) HandleCurrent(w http.ResponseWriter, r *http.Request) {
	reading := api.engine.Snapshot().Current
	if reading == nil {
		latest, err := api.store.Latest(r.Context())
		if err != nil {
			api.serverError(w, err, "Failed to load latest reading")
			return
		}
		reading = latest
	}

	if reading == nil {
		http.Error(w, "No readings available", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, reading)
}

// HandleHistory returns readings from the last ?minutes=N (default 60), oldest first
func (api *APIHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	minutes, err := minutesParam(r, defaultHistoryMinutes)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	readings, err := api.store.QueryWindow(r.Context(), time.Duration(minutes)*time.Minute)
	if err != nil {
		api.serverError(w, err, "Failed to query history")
		return
	}

	writeJSON(w, http.StatusOK, readings)
}

// HandleSummary aggregates over ?scope=day|all|window. The window scope uses
// ?minutes=N like history.
func (api *APIHandler) HandleSummary(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()

	var since time.Time
	switch scope := r.URL.Query().Get("scope"); scope {
	case "", "day":
		since = storage.StartOfDay(now)
	case "all":
	case "window":
		minutes, err := minutesParam(r, defaultHistoryMinutes)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		since = now.Add(-time.Duration(minutes) * time.Minute)
	default:
		http.Error(w, fmt.Sprintf("unknown scope %q", scope), http.StatusBadRequest)
		return
	}

	report, err := api.store.Aggregate(r.Context(), since)
	if err != nil {
		api.serverError(w, err, "Failed to aggregate readings")
		return
	}

	writeJSON(w, http.StatusOK, report)
}

// StatsResponse combines engine counters and database statistics
type StatsResponse struct {
	Engine     monitor.State          `json:"engine"`
	Storage    *storage.StorageStats  `json:"storage"`
	Thresholds models.ThresholdWindow `json:"thresholds"`
	Uptime     string                 `json:"uptime"`
}

// HandleStats returns engine and store statistics
func (api *APIHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := api.store.GetStorageStats(r.Context())
	if err != nil {
		api.serverError(w, err, "Failed to load storage stats")
		return
	}

	state := api.engine.Snapshot()
	resp := StatsResponse{
		Engine:     state,
		Storage:    stats,
		Thresholds: api.engine.Thresholds(),
	}
	if !state.StartedAt.IsZero() {
		resp.Uptime = time.Since(state.StartedAt).Round(time.Second).String()
	}

	writeJSON(w, http.StatusOK, resp)
}

// HandleTrigger requests a manual cycle. 202 when one was started, 409 when
// the request was coalesced into a cycle already running.
func (api *APIHandler) HandleTrigger(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !api.engine.Trigger() {
		api.logger.Debug().Str("remote", r.RemoteAddr).Msg("Trigger request coalesced")
		writeJSON(w, http.StatusConflict, map[string]string{"status": "in_flight"})
		return
	}

	api.logger.Info().Str("remote", r.RemoteAddr).Msg("Manual trigger requested over HTTP")
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

// HandleHealth reports liveness and the build version
func (api *APIHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","version":"%s"}`, api.version)
}

func (api *APIHandler) serverError(w http.ResponseWriter, err error, msg string) {
	api.logger.Error().Err(err).Msg(msg)
	http.Error(w, msg, http.StatusInternalServerError)
}

func minutesParam(r *http.Request, def int) (int, error) {
	raw := r.URL.Query().Get("minutes")
	if raw == "" {
		return def, nil
	}
	minutes, err := strconv.Atoi(raw)
	if err != nil || minutes <= 0 {
		return 0, fmt.Errorf("minutes must be a positive integer, got %q", raw)
	}
	return min(minutes, maxHistoryMinutes), nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
