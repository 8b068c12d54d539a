package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/afroash/vitals-monitor/internal/config"
	"github.com/afroash/vitals-monitor/internal/indicator"
	"github.com/afroash/vitals-monitor/internal/snapshot"
	"github.com/afroash/vitals-monitor/internal/trigger"
	"github.com/afroash/vitals-monitor/internal/uplink"
)

// hardware bundles the indicator panel and the trigger button
type hardware struct {
	panel  indicator.Panel
	button trigger.Channel // nil when the trigger is disabled
	close  func() error
}

func (h *hardware) Close() error {
	if h.close == nil {
		return nil
	}
	return h.close()
}

func newHardware(cfg *config.Config, logger zerolog.Logger) (*hardware, error) {
	hw := &hardware{}

	switch cfg.Indicator.Mode {
	case config.ModeGPIO:
		p, err := indicator.NewGPIOPanel(cfg.IndicatorConfig(), logger)
		if err != nil {
			return nil, err
		}
		hw.panel = p
		hw.close = p.Close
	default:
		hw.panel = indicator.NewSimulatedPanel(cfg.IndicatorConfig(), logger)
	}

	switch cfg.Trigger.Mode {
	case config.ModeGPIO:
		hw.button = trigger.NewGPIOButton(cfg.TriggerConfig(), logger)
	case config.ModeSimulated:
		hw.button = trigger.NewSimulatedButton(cfg.TriggerConfig(), logger)
	}

	logger.Info().
		Str("indicator", cfg.Indicator.Mode).
		Str("trigger", cfg.Trigger.Mode).
		Msg("Hardware configured")
	return hw, nil
}

// newTransport picks the telemetry transport named in the config
func newTransport(cfg *config.Config, logger zerolog.Logger) (uplink.Transport, error) {
	switch cfg.Uplink.Transport {
	case config.TransportSimulator:
		return uplink.NewSimulator(cfg.SimulatorConfig(), logger), nil
	case config.TransportHTTP:
		return uplink.NewHTTPTransport(cfg.HTTPConfig(), logger), nil
	case config.TransportWebSocket:
		return uplink.NewWebSocketTransport(cfg.WebSocketConfig(), logger), nil
	case config.TransportMQTT:
		return uplink.NewMQTTTransport(cfg.MQTTConfig(), logger)
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Uplink.Transport)
	}
}

// newUplink builds the uplink and, when enabled, its retry queue
func newUplink(cfg *config.Config, logger zerolog.Logger) (*uplink.Uplink, *uplink.RetryQueue, error) {
	transport, err := newTransport(cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	var retry *uplink.RetryQueue
	if cfg.Uplink.Retry.Enabled {
		retry = uplink.NewRetryQueue(transport, cfg.RetryConfig(), logger)
	}

	up := uplink.New(transport, uplink.Config{
		DeviceID: cfg.Device.ID,
		Timeout:  cfg.Uplink.Timeout,
		Retry:    retry,
	}, logger)
	return up, retry, nil
}

// newSnapshot connects the Redis publisher when snapshots are enabled. An
// unreachable server is logged; publishing keeps retrying on every reading.
func newSnapshot(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*snapshot.RedisPublisher, error) {
	if !cfg.Snapshot.Enabled {
		return nil, nil
	}

	client := snapshot.NewRedisClient(cfg.SnapshotConfig())
	pub := snapshot.NewRedisPublisher(client, cfg.Device.ID, cfg.SnapshotConfig(), logger)

	if err := pub.Ping(ctx); err != nil {
		logger.Warn().Err(err).Str("addr", cfg.Snapshot.Addr).Msg("Redis unavailable, snapshots will be retried")
	} else {
		logger.Info().Str("addr", cfg.Snapshot.Addr).Str("key", pub.Key()).Msg("Snapshot publishing enabled")
	}
	return pub, nil
}
