package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/afroash/vitals-monitor/internal/indicator"
	"github.com/afroash/vitals-monitor/internal/models"
	"github.com/afroash/vitals-monitor/internal/monitor"
	"github.com/afroash/vitals-monitor/internal/snapshot"
	"github.com/afroash/vitals-monitor/internal/storage"
	"github.com/afroash/vitals-monitor/internal/trigger"
	"github.com/afroash/vitals-monitor/internal/uplink"
)

// Hardware modes for the indicator panel and the trigger button
const (
	ModeSimulated = "simulated"
	ModeGPIO      = "gpio"
	ModeNone      = "none"
)

// Uplink transports
const (
	TransportSimulator = "simulator"
	TransportHTTP      = "http"
	TransportWebSocket = "websocket"
	TransportMQTT      = "mqtt"
)

// Config holds all configuration for the vitals monitor
type Config struct {
	Device     DeviceConfig           `yaml:"device"`
	Thresholds models.ThresholdWindow `yaml:"thresholds"`
	Engine     EngineConfig           `yaml:"engine"`
	Indicator  IndicatorConfig        `yaml:"indicator"`
	Trigger    TriggerConfig          `yaml:"trigger"`
	Storage    StorageConfig          `yaml:"storage"`
	Uplink     UplinkConfig           `yaml:"uplink"`
	Snapshot   SnapshotConfig         `yaml:"snapshot"`
	Server     ServerConfig           `yaml:"server"`
	Collector  CollectorConfig        `yaml:"collector"`
	Logging    LoggingConfig          `yaml:"logging"`
}

// DeviceConfig identifies this monitor
type DeviceConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// EngineConfig contains the sampling and summary cadences
type EngineConfig struct {
	SampleInterval      time.Duration `yaml:"sample_interval"`
	SummaryInterval     time.Duration `yaml:"summary_interval"`
	SummaryScope        string        `yaml:"summary_scope"` // window or day
	ActivityShiftChance *float64      `yaml:"activity_shift_chance"`
	AckFlashes          *int          `yaml:"ack_flashes"`
	AckFlashPeriod      time.Duration `yaml:"ack_flash_period"`
}

// IndicatorConfig selects and wires the status LEDs
type IndicatorConfig struct {
	Mode       string `yaml:"mode"` // simulated or gpio
	Chip       string `yaml:"chip"`
	AlertLine  int    `yaml:"alert_line"`
	NormalLine int    `yaml:"normal_line"`
}

// TriggerConfig selects and wires the manual trigger button
type TriggerConfig struct {
	Mode        string        `yaml:"mode"` // simulated, gpio or none
	Chip        string        `yaml:"chip"`
	Line        int           `yaml:"line"`
	Debounce    time.Duration `yaml:"debounce"`
	MinInterval time.Duration `yaml:"min_interval"`
	MaxInterval time.Duration `yaml:"max_interval"`
	FireChance  *float64      `yaml:"fire_chance"`
}

// StorageConfig contains database settings
type StorageConfig struct {
	Path          string        `yaml:"path"`
	RetentionDays int           `yaml:"retention_days"` // 0 keeps readings forever
	CleanupPeriod time.Duration `yaml:"cleanup_period"`
}

// UplinkConfig selects the telemetry transport
type UplinkConfig struct {
	Transport string        `yaml:"transport"`
	URL       string        `yaml:"url"`
	Path      string        `yaml:"path"`
	Timeout   time.Duration `yaml:"timeout"`

	// simulator
	Latency     time.Duration `yaml:"latency"`
	SuccessRate *float64      `yaml:"success_rate"`
	ChannelID   string        `yaml:"channel_id"`

	// websocket
	AckTimeout           time.Duration `yaml:"ack_timeout"`
	PingInterval         time.Duration `yaml:"ping_interval"`
	ReconnectInterval    time.Duration `yaml:"reconnect_interval"`
	MaxReconnectInterval time.Duration `yaml:"max_reconnect_interval"`

	MQTT  MQTTSettings  `yaml:"mqtt"`
	Retry RetrySettings `yaml:"retry"`
}

// MQTTSettings contains broker settings for the mqtt transport
type MQTTSettings struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         byte   `yaml:"qos"`
}

// RetrySettings enables the store-and-forward queue for failed sends
type RetrySettings struct {
	Enabled          bool          `yaml:"enabled"`
	Capacity         int           `yaml:"capacity"`
	RetryInterval    time.Duration `yaml:"retry_interval"`
	MaxRetryInterval time.Duration `yaml:"max_retry_interval"`
}

// SnapshotConfig contains Redis settings for live snapshot publishing
type SnapshotConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	KeyPrefix string        `yaml:"key_prefix"`
	Channel   string        `yaml:"channel"`
	TTL       time.Duration `yaml:"ttl"`
}

// ServerConfig contains HTTP reporting surface settings
type ServerConfig struct {
	Enabled      *bool         `yaml:"enabled"`
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// CollectorConfig contains settings for the local telemetry collector
type CollectorConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	BufferSize     int      `yaml:"buffer_size"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or text
}

// LoadConfig loads configuration from a YAML file. An empty path yields the
// defaults (still subject to environment overrides).
func LoadConfig(path string) (*Config, error) {
	var config Config

	if path != "" {
		yamlData, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(yamlData, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	config.ApplyDefaults()
	config.OverrideFromEnv()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// ApplyDefaults sets default values for any unset fields
func (c *Config) ApplyDefaults() {
	if c.Device.ID == "" {
		c.Device.ID = "vitals-01"
	}
	if c.Device.Name == "" {
		c.Device.Name = "Vitals Monitor"
	}

	if c.Thresholds == (models.ThresholdWindow{}) {
		c.Thresholds = models.DefaultThresholdWindow()
	}

	engine := monitor.DefaultConfig()
	if c.Engine.SampleInterval == 0 {
		c.Engine.SampleInterval = engine.SampleInterval
	}
	if c.Engine.SummaryInterval == 0 {
		c.Engine.SummaryInterval = engine.SummaryInterval
	}
	if c.Engine.SummaryScope == "" {
		c.Engine.SummaryScope = string(engine.SummaryScope)
	}
	if c.Engine.ActivityShiftChance == nil {
		c.Engine.ActivityShiftChance = &engine.ActivityShiftChance
	}
	if c.Engine.AckFlashes == nil {
		c.Engine.AckFlashes = &engine.AckFlashes
	}
	if c.Engine.AckFlashPeriod == 0 {
		c.Engine.AckFlashPeriod = engine.AckFlashPeriod
	}

	pins := indicator.DefaultConfig()
	if c.Indicator.Mode == "" {
		c.Indicator.Mode = ModeSimulated
	}
	if c.Indicator.Chip == "" {
		c.Indicator.Chip = pins.Chip
	}
	if c.Indicator.AlertLine == 0 {
		c.Indicator.AlertLine = pins.AlertLine
	}
	if c.Indicator.NormalLine == 0 {
		c.Indicator.NormalLine = pins.NormalLine
	}

	button := trigger.DefaultConfig()
	if c.Trigger.Mode == "" {
		c.Trigger.Mode = ModeSimulated
	}
	if c.Trigger.Chip == "" {
		c.Trigger.Chip = button.Chip
	}
	if c.Trigger.Line == 0 {
		c.Trigger.Line = button.Line
	}
	if c.Trigger.Debounce == 0 {
		c.Trigger.Debounce = button.Debounce
	}
	if c.Trigger.MinInterval == 0 {
		c.Trigger.MinInterval = button.MinInterval
	}
	if c.Trigger.MaxInterval == 0 {
		c.Trigger.MaxInterval = button.MaxInterval
	}
	if c.Trigger.FireChance == nil {
		c.Trigger.FireChance = &button.FireChance
	}

	if c.Storage.Path == "" {
		c.Storage.Path = "./data/vitals.db"
	}
	if c.Storage.CleanupPeriod == 0 {
		c.Storage.CleanupPeriod = time.Hour
	}

	sim := uplink.DefaultSimulatorConfig()
	if c.Uplink.Transport == "" {
		c.Uplink.Transport = TransportSimulator
	}
	if c.Uplink.Timeout == 0 {
		c.Uplink.Timeout = 10 * time.Second
	}
	if c.Uplink.Latency == 0 {
		c.Uplink.Latency = sim.Latency
	}
	if c.Uplink.SuccessRate == nil {
		c.Uplink.SuccessRate = &sim.SuccessRate
	}
	if c.Uplink.ChannelID == "" {
		c.Uplink.ChannelID = sim.ChannelID
	}
	if c.Uplink.AckTimeout == 0 {
		c.Uplink.AckTimeout = 5 * time.Second
	}
	if c.Uplink.PingInterval == 0 {
		c.Uplink.PingInterval = 30 * time.Second
	}
	if c.Uplink.ReconnectInterval == 0 {
		c.Uplink.ReconnectInterval = time.Second
	}
	if c.Uplink.MaxReconnectInterval == 0 {
		c.Uplink.MaxReconnectInterval = 5 * time.Minute
	}
	if c.Uplink.MQTT.ClientID == "" {
		c.Uplink.MQTT.ClientID = c.Device.ID
	}
	if c.Uplink.MQTT.TopicPrefix == "" {
		c.Uplink.MQTT.TopicPrefix = "vitals"
	}
	retry := uplink.DefaultRetryConfig()
	if c.Uplink.Retry.Capacity == 0 {
		c.Uplink.Retry.Capacity = retry.Capacity
	}
	if c.Uplink.Retry.RetryInterval == 0 {
		c.Uplink.Retry.RetryInterval = retry.RetryInterval
	}
	if c.Uplink.Retry.MaxRetryInterval == 0 {
		c.Uplink.Retry.MaxRetryInterval = retry.MaxRetryInterval
	}

	if c.Snapshot.Addr == "" {
		c.Snapshot.Addr = "localhost:6379"
	}
	if c.Snapshot.KeyPrefix == "" {
		c.Snapshot.KeyPrefix = "vitals:"
	}
	if c.Snapshot.Channel == "" {
		c.Snapshot.Channel = "vitals:readings"
	}
	if c.Snapshot.TTL == 0 {
		c.Snapshot.TTL = time.Minute
	}

	if c.Server.Enabled == nil {
		enabled := true
		c.Server.Enabled = &enabled
	}
	if c.Server.Host == "" {
		c.Server.Host = "localhost"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8081
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 60 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 10 * time.Second
	}

	if c.Collector.Host == "" {
		c.Collector.Host = "localhost"
	}
	if c.Collector.Port == 0 {
		c.Collector.Port = 8090
	}
	if c.Collector.BufferSize == 0 {
		c.Collector.BufferSize = 1000
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

// OverrideFromEnv overrides config values from environment variables
func (c *Config) OverrideFromEnv() {
	// Only override if environment variable is set (non-empty)
	if v := os.Getenv("DEVICE_ID"); v != "" {
		c.Device.ID = v
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("UPLINK_TRANSPORT"); v != "" {
		c.Uplink.Transport = v
	}
	if v := os.Getenv("UPLINK_URL"); v != "" {
		c.Uplink.URL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Snapshot.Addr = v
		c.Snapshot.Enabled = true
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		// Unparseable values are left for Validate to report
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		} else {
			c.Server.Port = -1
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Validate returns a *models.ConfigurationError describing the first problem
func (c *Config) Validate() error {
	if c.Device.ID == "" {
		return invalid("device.id", "is required")
	}

	if err := c.MonitorConfig().Validate(); err != nil {
		return err
	}

	switch c.Indicator.Mode {
	case ModeSimulated, ModeGPIO:
	default:
		return invalid("indicator.mode", fmt.Sprintf("unknown mode %q", c.Indicator.Mode))
	}
	if c.Indicator.AlertLine < 0 || c.Indicator.NormalLine < 0 {
		return invalid("indicator", "lines must not be negative")
	}
	if c.Indicator.AlertLine == c.Indicator.NormalLine {
		return invalid("indicator", "alert and normal lines must differ")
	}

	switch c.Trigger.Mode {
	case ModeSimulated, ModeGPIO, ModeNone:
	default:
		return invalid("trigger.mode", fmt.Sprintf("unknown mode %q", c.Trigger.Mode))
	}
	if c.Trigger.MinInterval > c.Trigger.MaxInterval {
		return invalid("trigger", "min_interval exceeds max_interval")
	}
	if fc := c.TriggerConfig().FireChance; fc < 0 || fc > 1 {
		return invalid("trigger.fire_chance", "must be within 0-1")
	}

	if c.Storage.Path == "" {
		return invalid("storage.path", "is required")
	}
	if c.Storage.RetentionDays < 0 {
		return invalid("storage.retention_days", "must not be negative")
	}

	switch c.Uplink.Transport {
	case TransportSimulator:
		if sr := c.SimulatorConfig().SuccessRate; sr < 0 || sr > 1 {
			return invalid("uplink.success_rate", "must be within 0-1")
		}
	case TransportHTTP:
		if !strings.HasPrefix(c.Uplink.URL, "http://") && !strings.HasPrefix(c.Uplink.URL, "https://") {
			return invalid("uplink.url", "http transport needs an http:// or https:// URL")
		}
	case TransportWebSocket:
		if !strings.HasPrefix(c.Uplink.URL, "ws://") && !strings.HasPrefix(c.Uplink.URL, "wss://") {
			return invalid("uplink.url", "websocket transport needs a ws:// or wss:// URL")
		}
	case TransportMQTT:
		if c.Uplink.MQTT.Broker == "" {
			return invalid("uplink.mqtt.broker", "is required for the mqtt transport")
		}
		if c.Uplink.MQTT.QoS > 2 {
			return invalid("uplink.mqtt.qos", "must be 0, 1 or 2")
		}
	default:
		return invalid("uplink.transport", fmt.Sprintf("unknown transport %q", c.Uplink.Transport))
	}
	if c.Uplink.Timeout <= 0 {
		return invalid("uplink.timeout", "must be positive")
	}
	if c.Uplink.Retry.Capacity < 1 {
		return invalid("uplink.retry.capacity", "must be at least 1")
	}

	if c.Snapshot.Enabled && c.Snapshot.Addr == "" {
		return invalid("snapshot.addr", "is required when snapshots are enabled")
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return invalid("server.port", "must be between 1 and 65535")
	}
	if c.Collector.Port < 1 || c.Collector.Port > 65535 {
		return invalid("collector.port", "must be between 1 and 65535")
	}

	switch c.Logging.Format {
	case "json", "text":
	default:
		return invalid("logging.format", fmt.Sprintf("unknown format %q", c.Logging.Format))
	}
	return nil
}

// ServerEnabled reports whether the HTTP reporting surface should run
func (c *Config) ServerEnabled() bool {
	return c.Server.Enabled == nil || *c.Server.Enabled
}

// MonitorConfig returns the engine settings
func (c *Config) MonitorConfig() monitor.Config {
	mc := monitor.DefaultConfig()
	mc.Thresholds = c.Thresholds
	mc.SampleInterval = c.Engine.SampleInterval
	mc.SummaryInterval = c.Engine.SummaryInterval
	mc.SummaryScope = monitor.SummaryScope(c.Engine.SummaryScope)
	if c.Engine.ActivityShiftChance != nil {
		mc.ActivityShiftChance = *c.Engine.ActivityShiftChance
	}
	if c.Engine.AckFlashes != nil {
		mc.AckFlashes = *c.Engine.AckFlashes
	}
	mc.AckFlashPeriod = c.Engine.AckFlashPeriod
	return mc
}

// IndicatorConfig returns the panel wiring
func (c *Config) IndicatorConfig() indicator.Config {
	return indicator.Config{
		Chip:       c.Indicator.Chip,
		AlertLine:  c.Indicator.AlertLine,
		NormalLine: c.Indicator.NormalLine,
	}
}

// TriggerConfig returns the button wiring and simulation cadence
func (c *Config) TriggerConfig() trigger.Config {
	tc := trigger.Config{
		Chip:        c.Trigger.Chip,
		Line:        c.Trigger.Line,
		Debounce:    c.Trigger.Debounce,
		MinInterval: c.Trigger.MinInterval,
		MaxInterval: c.Trigger.MaxInterval,
	}
	if c.Trigger.FireChance != nil {
		tc.FireChance = *c.Trigger.FireChance
	}
	return tc
}

// RetentionConfig returns the retention cleaner settings
func (c *Config) RetentionConfig() storage.RetentionCleanerConfig {
	return storage.RetentionCleanerConfig{
		RetentionDays: c.Storage.RetentionDays,
		CleanupPeriod: c.Storage.CleanupPeriod,
	}
}

// SimulatorConfig returns the simulated transport settings
func (c *Config) SimulatorConfig() uplink.SimulatorConfig {
	sc := uplink.SimulatorConfig{
		Latency:   c.Uplink.Latency,
		ChannelID: c.Uplink.ChannelID,
	}
	if c.Uplink.SuccessRate != nil {
		sc.SuccessRate = *c.Uplink.SuccessRate
	}
	return sc
}

// HTTPConfig returns the HTTP transport settings
func (c *Config) HTTPConfig() uplink.HTTPConfig {
	return uplink.HTTPConfig{
		URL:     c.Uplink.URL,
		Path:    c.Uplink.Path,
		Timeout: c.Uplink.Timeout,
	}
}

// WebSocketConfig returns the WebSocket transport settings
func (c *Config) WebSocketConfig() uplink.WebSocketConfig {
	return uplink.WebSocketConfig{
		URL:                  c.Uplink.URL,
		HandshakeTimeout:     c.Uplink.Timeout,
		AckTimeout:           c.Uplink.AckTimeout,
		PingInterval:         c.Uplink.PingInterval,
		ReconnectInterval:    c.Uplink.ReconnectInterval,
		MaxReconnectInterval: c.Uplink.MaxReconnectInterval,
	}
}

// MQTTConfig returns the MQTT transport settings
func (c *Config) MQTTConfig() uplink.MQTTConfig {
	return uplink.MQTTConfig{
		Broker:         c.Uplink.MQTT.Broker,
		ClientID:       c.Uplink.MQTT.ClientID,
		Username:       c.Uplink.MQTT.Username,
		Password:       c.Uplink.MQTT.Password,
		TopicPrefix:    c.Uplink.MQTT.TopicPrefix,
		QoS:            c.Uplink.MQTT.QoS,
		ConnectTimeout: c.Uplink.Timeout,
	}
}

// RetryConfig returns the retry queue settings
func (c *Config) RetryConfig() uplink.RetryConfig {
	return uplink.RetryConfig{
		Capacity:         c.Uplink.Retry.Capacity,
		RetryInterval:    c.Uplink.Retry.RetryInterval,
		MaxRetryInterval: c.Uplink.Retry.MaxRetryInterval,
	}
}

// SnapshotConfig returns the Redis publisher settings
func (c *Config) SnapshotConfig() snapshot.Config {
	return snapshot.Config{
		Addr:      c.Snapshot.Addr,
		Password:  c.Snapshot.Password,
		DB:        c.Snapshot.DB,
		KeyPrefix: c.Snapshot.KeyPrefix,
		Channel:   c.Snapshot.Channel,
		TTL:       c.Snapshot.TTL,
	}
}

// String returns a safe string representation (hides passwords)
func (c *Config) String() string {
	return fmt.Sprintf("Config{Device: %+v, Thresholds: %+v, Engine: [sample=%s, summary=%s/%s], Indicator: %s, Trigger: %s, Storage: %+v, Uplink: [transport=%s, url=%s, mqtt_password=%s, retry=%t], Snapshot: [enabled=%t, addr=%s, password=%s], Server: %s:%d, Logging: %+v}",
		c.Device,
		c.Thresholds,
		c.Engine.SampleInterval,
		c.Engine.SummaryInterval,
		c.Engine.SummaryScope,
		c.Indicator.Mode,
		c.Trigger.Mode,
		c.Storage,
		c.Uplink.Transport,
		c.Uplink.URL,
		maskToken(c.Uplink.MQTT.Password),
		c.Uplink.Retry.Enabled,
		c.Snapshot.Enabled,
		c.Snapshot.Addr,
		maskToken(c.Snapshot.Password),
		c.Server.Host,
		c.Server.Port,
		c.Logging,
	)
}

func invalid(field, reason string) error {
	return &models.ConfigurationError{Field: field, Reason: reason}
}

// maskToken masks all but first 4 characters of a secret
func maskToken(token string) string {
	if token == "" {
		return ""
	}
	if len(token) <= 4 {
		return "****"
	}
	return token[:4] + "****"
}
