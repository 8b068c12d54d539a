//go:build !linux

package indicator

import (
	"errors"

	"github.com/rs/zerolog"
)

// GPIOPanel is only available on Linux
type GPIOPanel struct {
	panel
}

// NewGPIOPanel always fails off Linux
func NewGPIOPanel(config Config, logger zerolog.Logger) (*GPIOPanel, error) {
	return nil, errors.New("GPIO indicators require linux")
}

// Close is a no-op
func (g *GPIOPanel) Close() error {
	return nil
}
