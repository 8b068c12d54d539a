package trigger

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog"
)

// SimulatedButton presses itself at random intervals
type SimulatedButton struct {
	minInterval time.Duration
	maxInterval time.Duration
	fireChance  float64
	rng         *rand.Rand
	logger      zerolog.Logger
}

// NewSimulatedButton creates a simulated button from config
func NewSimulatedButton(config Config, logger zerolog.Logger) *SimulatedButton {
	maxInterval := config.MaxInterval
	if maxInterval < config.MinInterval {
		maxInterval = config.MinInterval
	}
	return &SimulatedButton{
		minInterval: config.MinInterval,
		maxInterval: maxInterval,
		fireChance:  config.FireChance,
		rng:         rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		logger:      logger,
	}
}

// Listen waits a random interval, then fires with the configured chance.
// Only the listening goroutine touches rng.
func (b *SimulatedButton) Listen(ctx context.Context, fire func()) error {
	b.logger.Info().
		Dur("min_interval", b.minInterval).
		Dur("max_interval", b.maxInterval).
		Float64("fire_chance", b.fireChance).
		Msg("Simulated button started")

	for {
		timer := time.NewTimer(b.nextInterval())
		select {
		case <-ctx.Done():
			timer.Stop()
			b.logger.Info().Msg("Simulated button stopped")
			return nil
		case <-timer.C:
		}

		if b.rng.Float64() < b.fireChance {
			b.logger.Info().Msg("Simulated button press")
			fire()
		}
	}
}

func (b *SimulatedButton) nextInterval() time.Duration {
	span := b.maxInterval - b.minInterval
	if span <= 0 {
		return b.minInterval
	}
	return b.minInterval + time.Duration(b.rng.Int64N(int64(span)+1))
}
