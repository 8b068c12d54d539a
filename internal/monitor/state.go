package monitor

import (
	"time"

	"github.com/afroash/vitals-monitor/internal/models"
)

// State is the engine's shared state. The engine guards it with a single
// mutex; callers only ever see copies.
type State struct {
	// Current is the most recently completed classification from either the
	// sampling loop or a manual cycle
	Current *models.Reading `json:"current"`
	// TriggerInFlight is true for the whole of one manual cycle
	TriggerInFlight bool      `json:"trigger_in_flight"`
	ReadingCount    int64     `json:"reading_count"`
	AlertCount      int64     `json:"alert_count"`
	StartedAt       time.Time `json:"started_at"`
}

// Copy returns a deep copy
func (s State) Copy() State {
	s.Current = s.Current.Copy()
	return s
}

// SummaryScope selects the period an UplinkTick summarises
type SummaryScope string

const (
	// ScopeWindow covers the time since the previous UplinkTick
	ScopeWindow SummaryScope = "window"
	// ScopeDay covers the current UTC day
	ScopeDay SummaryScope = "day"
)

// Valid reports whether s is a known scope
func (s SummaryScope) Valid() bool {
	return s == ScopeWindow || s == ScopeDay
}
