package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/afroash/vitals-monitor/internal/models"
	"github.com/afroash/vitals-monitor/internal/monitor"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vitals.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	return path
}

func validConfig() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

func TestLoadConfig(t *testing.T) {
	configPath := writeConfig(t, `
device:
  id: "bedside-03"
  name: "Ward 3"

thresholds:
  hr_min: 55
  hr_max: 110
  spo2_min: 93

engine:
  sample_interval: 2s
  summary_interval: 5m
  summary_scope: day
  activity_shift_chance: 0
  ack_flashes: 5

indicator:
  mode: gpio
  alert_line: 5
  normal_line: 6

trigger:
  mode: none

storage:
  path: "/var/lib/vitals/vitals.db"
  retention_days: 90

uplink:
  transport: mqtt
  timeout: 3s
  mqtt:
    broker: "tcp://broker:1883"
    password: "hunter22"
    qos: 1
  retry:
    enabled: true
    capacity: 500

snapshot:
  enabled: true
  addr: "redis:6379"
  ttl: 30s

server:
  port: 9090

logging:
  level: debug
  format: text
`)

	cfg, err := LoadConfig(configPath)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Device.ID != "bedside-03" {
		t.Errorf("Device.ID = %v, want bedside-03", cfg.Device.ID)
	}
	if cfg.Thresholds != (models.ThresholdWindow{HRMin: 55, HRMax: 110, SpO2Min: 93}) {
		t.Errorf("Thresholds = %+v", cfg.Thresholds)
	}
	if cfg.Engine.SampleInterval != 2*time.Second {
		t.Errorf("Engine.SampleInterval = %v, want 2s", cfg.Engine.SampleInterval)
	}
	if cfg.Engine.SummaryInterval != 5*time.Minute {
		t.Errorf("Engine.SummaryInterval = %v, want 5m", cfg.Engine.SummaryInterval)
	}
	if cfg.Indicator.Mode != ModeGPIO || cfg.Indicator.AlertLine != 5 {
		t.Errorf("Indicator = %+v", cfg.Indicator)
	}
	if cfg.Uplink.MQTT.QoS != 1 || cfg.Uplink.MQTT.ClientID != "bedside-03" {
		t.Errorf("Uplink.MQTT = %+v", cfg.Uplink.MQTT)
	}
	if !cfg.Uplink.Retry.Enabled || cfg.Uplink.Retry.Capacity != 500 {
		t.Errorf("Uplink.Retry = %+v", cfg.Uplink.Retry)
	}
	if cfg.Snapshot.TTL != 30*time.Second {
		t.Errorf("Snapshot.TTL = %v, want 30s", cfg.Snapshot.TTL)
	}
	if cfg.Server.Port != 9090 || !cfg.ServerEnabled() {
		t.Errorf("Server = %+v", cfg.Server)
	}

	// Explicit zeros survive defaulting
	mc := cfg.MonitorConfig()
	if mc.ActivityShiftChance != 0 {
		t.Errorf("ActivityShiftChance = %v, want explicit 0", mc.ActivityShiftChance)
	}
	if mc.AckFlashes != 5 {
		t.Errorf("AckFlashes = %v, want 5", mc.AckFlashes)
	}
	if mc.SummaryScope != monitor.ScopeDay {
		t.Errorf("SummaryScope = %v, want day", mc.SummaryScope)
	}
}

func TestLoadConfig_EmptyPathUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Uplink.Transport != TransportSimulator {
		t.Errorf("Default transport = %v, want simulator", cfg.Uplink.Transport)
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected error for missing file")
	}

	if _, err := LoadConfig(writeConfig(t, "engine: [not a map")); err == nil {
		t.Error("Expected error for malformed YAML")
	}

	_, err := LoadConfig(writeConfig(t, "thresholds:\n  hr_min: 120\n  hr_max: 80\n  spo2_min: 95\n"))
	var cfgErr *models.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("Expected ConfigurationError, got %v", err)
	}
	if cfgErr.Field != "thresholds" {
		t.Errorf("Field = %v, want thresholds", cfgErr.Field)
	}
}

func TestConfig_ApplyDefaults(t *testing.T) {
	cfg := validConfig()

	if cfg.Thresholds != models.DefaultThresholdWindow() {
		t.Errorf("Default thresholds = %+v", cfg.Thresholds)
	}
	if cfg.Engine.SampleInterval != time.Second {
		t.Errorf("Default SampleInterval = %v, want 1s", cfg.Engine.SampleInterval)
	}
	if cfg.Engine.SummaryInterval != 60*time.Second {
		t.Errorf("Default SummaryInterval = %v, want 60s", cfg.Engine.SummaryInterval)
	}
	if *cfg.Engine.ActivityShiftChance != 0.05 {
		t.Errorf("Default ActivityShiftChance = %v, want 0.05", *cfg.Engine.ActivityShiftChance)
	}
	if cfg.Indicator.AlertLine != 17 || cfg.Indicator.NormalLine != 27 {
		t.Errorf("Default indicator lines = %d/%d, want 17/27", cfg.Indicator.AlertLine, cfg.Indicator.NormalLine)
	}
	if cfg.Trigger.Line != 22 || *cfg.Trigger.FireChance != 0.3 {
		t.Errorf("Default trigger = %+v", cfg.Trigger)
	}
	if *cfg.Uplink.SuccessRate != 0.9 {
		t.Errorf("Default SuccessRate = %v, want 0.9", *cfg.Uplink.SuccessRate)
	}
	if cfg.Storage.RetentionDays != 0 {
		t.Errorf("Default RetentionDays = %v, want 0 (keep forever)", cfg.Storage.RetentionDays)
	}
	if cfg.Uplink.Retry.Enabled || cfg.Snapshot.Enabled {
		t.Error("Retry queue and snapshots should be opt-in")
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("Default Logging = %+v", cfg.Logging)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Defaults should validate: %v", err)
	}
}

func TestConfig_OverrideFromEnv(t *testing.T) {
	t.Setenv("DEVICE_ID", "env-device")
	t.Setenv("DB_PATH", "/tmp/env.db")
	t.Setenv("UPLINK_TRANSPORT", "http")
	t.Setenv("UPLINK_URL", "http://collector:8090")
	t.Setenv("REDIS_ADDR", "cache:6379")
	t.Setenv("SERVER_PORT", "9999")
	t.Setenv("LOG_LEVEL", "debug")

	cfg := validConfig()
	cfg.OverrideFromEnv()

	if cfg.Device.ID != "env-device" {
		t.Errorf("Device.ID = %v, want env-device", cfg.Device.ID)
	}
	if cfg.Storage.Path != "/tmp/env.db" {
		t.Errorf("Storage.Path = %v", cfg.Storage.Path)
	}
	if cfg.Uplink.Transport != TransportHTTP || cfg.Uplink.URL != "http://collector:8090" {
		t.Errorf("Uplink = %s %s", cfg.Uplink.Transport, cfg.Uplink.URL)
	}
	if !cfg.Snapshot.Enabled || cfg.Snapshot.Addr != "cache:6379" {
		t.Errorf("Snapshot = %+v", cfg.Snapshot)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("Server.Port = %v, want 9999", cfg.Server.Port)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %v, want debug", cfg.Logging.Level)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Overridden config should validate: %v", err)
	}
}

func TestConfig_OverrideFromEnv_BadPort(t *testing.T) {
	t.Setenv("SERVER_PORT", "eighty")

	cfg := validConfig()
	cfg.OverrideFromEnv()

	var cfgErr *models.ConfigurationError
	if err := cfg.Validate(); !errors.As(err, &cfgErr) || cfgErr.Field != "server.port" {
		t.Errorf("Expected server.port error, got %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	rate := 1.5

	tests := []struct {
		name      string
		mutate    func(c *Config)
		wantField string
	}{
		{"valid config", func(c *Config) {}, ""},
		{"missing device id", func(c *Config) { c.Device.ID = "" }, "device.id"},
		{"inverted thresholds", func(c *Config) { c.Thresholds.HRMin = 150 }, "thresholds"},
		{"zero sample interval", func(c *Config) { c.Engine.SampleInterval = -time.Second }, "engine.sample_interval"},
		{"unknown scope", func(c *Config) { c.Engine.SummaryScope = "week" }, "engine.summary_scope"},
		{"unknown indicator mode", func(c *Config) { c.Indicator.Mode = "lcd" }, "indicator.mode"},
		{"shared indicator line", func(c *Config) { c.Indicator.NormalLine = c.Indicator.AlertLine }, "indicator"},
		{"unknown trigger mode", func(c *Config) { c.Trigger.Mode = "voice" }, "trigger.mode"},
		{"inverted trigger interval", func(c *Config) { c.Trigger.MinInterval = time.Hour }, "trigger"},
		{"success rate out of range", func(c *Config) { c.Uplink.SuccessRate = &rate }, "uplink.success_rate"},
		{"unknown transport", func(c *Config) { c.Uplink.Transport = "carrier-pigeon" }, "uplink.transport"},
		{"http without url", func(c *Config) { c.Uplink.Transport = TransportHTTP }, "uplink.url"},
		{"websocket with http url", func(c *Config) {
			c.Uplink.Transport = TransportWebSocket
			c.Uplink.URL = "http://example.com"
		}, "uplink.url"},
		{"mqtt without broker", func(c *Config) { c.Uplink.Transport = TransportMQTT }, "uplink.mqtt.broker"},
		{"negative retention", func(c *Config) { c.Storage.RetentionDays = -1 }, "storage.retention_days"},
		{"port out of range", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"unknown log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantField == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
				return
			}

			var cfgErr *models.ConfigurationError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("Validate() = %v, want ConfigurationError", err)
			}
			if cfgErr.Field != tt.wantField {
				t.Errorf("Field = %v, want %v", cfgErr.Field, tt.wantField)
			}
		})
	}
}

func TestConfig_ComponentConfigs(t *testing.T) {
	cfg := validConfig()
	cfg.Uplink.URL = "ws://collector:8090/telemetry/ws"

	if ws := cfg.WebSocketConfig(); ws.URL != cfg.Uplink.URL || ws.AckTimeout != 5*time.Second || ws.PingInterval != 30*time.Second {
		t.Errorf("WebSocketConfig = %+v", ws)
	}
	if sim := cfg.SimulatorConfig(); sim.SuccessRate != 0.9 || sim.Latency != 500*time.Millisecond {
		t.Errorf("SimulatorConfig = %+v", sim)
	}
	if rc := cfg.RetentionConfig(); rc.CleanupPeriod != time.Hour {
		t.Errorf("RetentionConfig = %+v", rc)
	}
	if tc := cfg.TriggerConfig(); tc.FireChance != 0.3 || tc.Debounce != 300*time.Millisecond {
		t.Errorf("TriggerConfig = %+v", tc)
	}
	if sc := cfg.SnapshotConfig(); sc.Channel != "vitals:readings" {
		t.Errorf("SnapshotConfig = %+v", sc)
	}
	if err := cfg.MonitorConfig().Validate(); err != nil {
		t.Errorf("MonitorConfig should validate: %v", err)
	}
}

func TestConfig_String_MasksSecrets(t *testing.T) {
	cfg := validConfig()
	cfg.Uplink.MQTT.Password = "secret-password-12345"
	cfg.Snapshot.Password = "redis-secret"

	str := cfg.String()

	if strings.Contains(str, "secret-password-12345") || strings.Contains(str, "redis-secret") {
		t.Error("String() should mask passwords")
	}
	if !strings.Contains(str, "secr****") {
		t.Error("String() should contain masked password")
	}
}
