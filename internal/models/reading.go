package models

import (
	"fmt"
	"time"
)

// Status is the health classification attached to every reading
type Status string

const (
	StatusNormal Status = "Normal"
	StatusAlert  Status = "Alert"
)

// Valid reports whether s is one of the known statuses
func (s Status) Valid() bool {
	return s == StatusNormal || s == StatusAlert
}

// Physiological domains accepted by the store
const (
	MaxHeartRate = 300
	MaxSpO2      = 100
)

// Reading is one timestamped heart rate / SpO2 observation.
// ID and Timestamp are assigned by the store when left zero.
type Reading struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	HeartRate int       `json:"heart_rate"`
	SpO2      int       `json:"spo2"`
	Status    Status    `json:"status"`
}

// IsValid checks that the values fall inside their physiological domains
func (r *Reading) IsValid() bool {
	if r.HeartRate < 0 || r.HeartRate > MaxHeartRate {
		return false
	}
	if r.SpO2 < 0 || r.SpO2 > MaxSpO2 {
		return false
	}
	return r.Status.Valid()
}

// String returns the reading as a single log-friendly line
func (r *Reading) String() string {
	return fmt.Sprintf("ID: %d, Timestamp: %s, HR: %d bpm, SpO2: %d%%, Status: %s",
		r.ID,
		r.Timestamp.Format(time.RFC3339),
		r.HeartRate,
		r.SpO2,
		r.Status)
}

// NewReading creates a classified reading stamped with the current time
func NewReading(heartRate, spo2 int, status Status) *Reading {
	return &Reading{
		Timestamp: time.Now().UTC(),
		HeartRate: heartRate,
		SpO2:      spo2,
		Status:    status,
	}
}

// Copy returns a copy of the Reading
func (r *Reading) Copy() *Reading {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}
