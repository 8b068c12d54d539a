package models

import "fmt"

// ConfigurationError reports an invalid setting that must stop the process
// from starting.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration %s: %s", e.Field, e.Reason)
}

// ThresholdWindow holds the acceptable vital-sign ranges. It is constant for
// the lifetime of the process.
type ThresholdWindow struct {
	HRMin   int `json:"hr_min" yaml:"hr_min"`
	HRMax   int `json:"hr_max" yaml:"hr_max"`
	SpO2Min int `json:"spo2_min" yaml:"spo2_min"`
}

// DefaultThresholdWindow returns the usual adult resting ranges
func DefaultThresholdWindow() ThresholdWindow {
	return ThresholdWindow{HRMin: 60, HRMax: 100, SpO2Min: 95}
}

// Validate returns a *ConfigurationError when the window cannot classify anything sensibly
func (w ThresholdWindow) Validate() error {
	if w.HRMin < 0 || w.HRMin > MaxHeartRate {
		return &ConfigurationError{Field: "thresholds.hr_min", Reason: fmt.Sprintf("%d is outside 0-%d", w.HRMin, MaxHeartRate)}
	}
	if w.HRMax < 0 || w.HRMax > MaxHeartRate {
		return &ConfigurationError{Field: "thresholds.hr_max", Reason: fmt.Sprintf("%d is outside 0-%d", w.HRMax, MaxHeartRate)}
	}
	if w.HRMin > w.HRMax {
		return &ConfigurationError{Field: "thresholds", Reason: fmt.Sprintf("hr_min %d is greater than hr_max %d", w.HRMin, w.HRMax)}
	}
	if w.SpO2Min < 0 || w.SpO2Min > MaxSpO2 {
		return &ConfigurationError{Field: "thresholds.spo2_min", Reason: fmt.Sprintf("%d is outside 0-%d", w.SpO2Min, MaxSpO2)}
	}
	return nil
}
