package models

import "time"

// DeviceInfo describes the monitoring device this process runs on
type DeviceInfo struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Version   string    `json:"version"`
	StartTime time.Time `json:"start_time"`
}

// Uptime returns the duration since the device started
func (d *DeviceInfo) Uptime() time.Duration {
	return time.Since(d.StartTime)
}

// NewDeviceInfo creates a new DeviceInfo with the current time as start time
func NewDeviceInfo(id, name, version string) *DeviceInfo {
	return &DeviceInfo{
		ID:        id,
		Name:      name,
		Version:   version,
		StartTime: time.Now(),
	}
}
