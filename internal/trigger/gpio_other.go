//go:build !linux

package trigger

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
)

// GPIOButton is only available on Linux
type GPIOButton struct{}

// NewGPIOButton returns a button whose Listen always fails
func NewGPIOButton(config Config, logger zerolog.Logger) *GPIOButton {
	return &GPIOButton{}
}

// Listen fails off Linux
func (b *GPIOButton) Listen(ctx context.Context, fire func()) error {
	return errors.New("GPIO button requires linux")
}
