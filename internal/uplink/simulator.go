package uplink

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/vitals-monitor/internal/models"
)

// SimulatorConfig holds configuration for the simulated endpoint
type SimulatorConfig struct {
	Latency     time.Duration
	SuccessRate float64 // probability in [0,1] that a delivery succeeds
	ChannelID   string
}

// DefaultSimulatorConfig mirrors a slow cloud endpoint that drops one in ten
func DefaultSimulatorConfig() SimulatorConfig {
	return SimulatorConfig{
		Latency:     500 * time.Millisecond,
		SuccessRate: 0.9,
		ChannelID:   "local",
	}
}

// Simulator stands in for a real telemetry endpoint
type Simulator struct {
	config SimulatorConfig
	logger zerolog.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSimulator creates a simulated transport
func NewSimulator(config SimulatorConfig, logger zerolog.Logger) *Simulator {
	return &Simulator{
		config: config,
		logger: logger,
		rng:    rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
}

// Deliver waits out the configured latency and then succeeds or fails at random
func (s *Simulator) Deliver(ctx context.Context, msg *models.Message) error {
	if s.config.Latency > 0 {
		timer := time.NewTimer(s.config.Latency)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.mu.Lock()
	roll := s.rng.Float64()
	entryID := 1000 + s.rng.IntN(9000)
	s.mu.Unlock()

	if roll >= s.config.SuccessRate {
		return ErrSimulatedFailure
	}

	s.logger.Info().
		Str("kind", string(msg.Type)).
		Int("entry_id", entryID).
		Str("channel", s.config.ChannelID).
		Msg("Telemetry accepted")
	return nil
}

// Close is a no-op
func (s *Simulator) Close() error {
	return nil
}
