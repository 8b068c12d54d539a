// Package trigger delivers manual "send now" requests to the engine.
package trigger

import (
	"context"
	"time"
)

// Channel is an asynchronous source of manual trigger edges
type Channel interface {
	// Listen blocks until ctx ends, calling fire once per edge.
	// fire must not block for long.
	Listen(ctx context.Context, fire func()) error
}

// Config holds settings for both button implementations
type Config struct {
	Chip     string
	Line     int
	Debounce time.Duration

	MinInterval time.Duration
	MaxInterval time.Duration
	FireChance  float64
}

// DefaultConfig returns the usual wiring and simulation cadence
func DefaultConfig() Config {
	return Config{
		Chip:        "gpiochip0",
		Line:        22,
		Debounce:    300 * time.Millisecond,
		MinInterval: 10 * time.Second,
		MaxInterval: 30 * time.Second,
		FireChance:  0.3,
	}
}
