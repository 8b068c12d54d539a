package vitals

import "github.com/afroash/vitals-monitor/internal/models"

// Classify maps a sample to Normal when heart rate lies inside
// [HRMin, HRMax] and SpO2 is at least SpO2Min, Alert otherwise.
func Classify(heartRate, spo2 int, window models.ThresholdWindow) models.Status {
	if heartRate >= window.HRMin && heartRate <= window.HRMax && spo2 >= window.SpO2Min {
		return models.StatusNormal
	}
	return models.StatusAlert
}
