package models

import (
	"fmt"
	"strings"
	"time"
)

// SummaryReport aggregates the readings of a period. It is derived from the
// store on demand and never persisted.
type SummaryReport struct {
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`
	Count       int64     `json:"count"`
	AvgHR       float64   `json:"avg_hr"`
	MinHR       int       `json:"min_hr"`
	MaxHR       int       `json:"max_hr"`
	AvgSpO2     float64   `json:"avg_spo2"`
	MinSpO2     int       `json:"min_spo2"`
	MaxSpO2     int       `json:"max_spo2"`
	AlertCount  int64     `json:"alert_count"`
}

// IsEmpty reports whether no readings matched the period
func (s SummaryReport) IsEmpty() bool {
	return s.Count == 0
}

// String renders the multi-line block printed by the summary scheduler and CLI
func (s SummaryReport) String() string {
	var b strings.Builder
	b.WriteString(strings.Repeat("=", 50) + "\n")
	b.WriteString("HEALTH SUMMARY\n")
	b.WriteString(strings.Repeat("=", 50) + "\n")
	if !s.PeriodStart.IsZero() {
		fmt.Fprintf(&b, "Period: %s - %s\n", s.PeriodStart.Format(time.RFC3339), s.PeriodEnd.Format(time.RFC3339))
	}
	fmt.Fprintf(&b, "Total Readings: %d\n", s.Count)
	b.WriteString("Heart Rate:\n")
	fmt.Fprintf(&b, "  Average: %.1f bpm\n", s.AvgHR)
	fmt.Fprintf(&b, "  Range: %d - %d bpm\n", s.MinHR, s.MaxHR)
	b.WriteString("Blood Oxygen:\n")
	fmt.Fprintf(&b, "  Average: %.1f%%\n", s.AvgSpO2)
	fmt.Fprintf(&b, "  Range: %d - %d%%\n", s.MinSpO2, s.MaxSpO2)
	fmt.Fprintf(&b, "Alerts: %d\n", s.AlertCount)
	b.WriteString(strings.Repeat("=", 50))
	return b.String()
}
