//go:build linux

package trigger

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/warthog618/go-gpiocdev"
)

// GPIOButton watches a push button wired between a line and ground
type GPIOButton struct {
	config Config
	logger zerolog.Logger
}

// NewGPIOButton creates a button; the line is requested when Listen starts
func NewGPIOButton(config Config, logger zerolog.Logger) *GPIOButton {
	return &GPIOButton{config: config, logger: logger}
}

// Listen requests the line with pull-up and falling-edge detection and calls
// fire for every debounced press until ctx ends.
func (b *GPIOButton) Listen(ctx context.Context, fire func()) error {
	handler := func(evt gpiocdev.LineEvent) {
		b.logger.Debug().
			Int("line", evt.Offset).
			Uint32("seqno", evt.Seqno).
			Msg("Button press")
		fire()
	}

	l, err := gpiocdev.RequestLine(b.config.Chip, b.config.Line,
		gpiocdev.AsInput,
		gpiocdev.WithPullUp,
		gpiocdev.WithFallingEdge,
		gpiocdev.WithDebounce(b.config.Debounce),
		gpiocdev.WithEventHandler(handler),
		gpiocdev.WithConsumer("vitals-monitor"),
	)
	if err != nil {
		return fmt.Errorf("failed to request %s line %d: %w", b.config.Chip, b.config.Line, err)
	}
	defer l.Close()

	b.logger.Info().
		Str("chip", b.config.Chip).
		Int("line", b.config.Line).
		Dur("debounce", b.config.Debounce).
		Msg("GPIO button listening")

	<-ctx.Done()
	return nil
}
