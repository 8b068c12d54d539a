//go:build linux

package indicator

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/warthog618/go-gpiocdev"
)

// GPIOPanel drives real LEDs through the GPIO character device
type GPIOPanel struct {
	panel
	lines map[int]*gpiocdev.Line
}

// NewGPIOPanel requests both lines as outputs, initially low
func NewGPIOPanel(config Config, logger zerolog.Logger) (*GPIOPanel, error) {
	g := &GPIOPanel{lines: make(map[int]*gpiocdev.Line, 2)}

	for _, offset := range []int{config.AlertLine, config.NormalLine} {
		l, err := gpiocdev.RequestLine(config.Chip, offset,
			gpiocdev.AsOutput(0),
			gpiocdev.WithConsumer("vitals-monitor"),
		)
		if err != nil {
			g.Close()
			return nil, fmt.Errorf("failed to request %s line %d: %w", config.Chip, offset, err)
		}
		g.lines[offset] = l
	}

	g.panel = panel{
		alertLine:  config.AlertLine,
		normalLine: config.NormalLine,
		set:        g.setLine,
		logger:     logger,
	}

	logger.Info().
		Str("chip", config.Chip).
		Int("alert_line", config.AlertLine).
		Int("normal_line", config.NormalLine).
		Msg("GPIO indicator panel ready")
	return g, nil
}

func (g *GPIOPanel) setLine(line int, on bool) error {
	l, ok := g.lines[line]
	if !ok {
		return fmt.Errorf("line %d not requested", line)
	}
	value := 0
	if on {
		value = 1
	}
	if err := l.SetValue(value); err != nil {
		return fmt.Errorf("failed to set line %d: %w", line, err)
	}
	return nil
}

// Close releases the requested lines
func (g *GPIOPanel) Close() error {
	var firstErr error
	for offset, l := range g.lines {
		if err := l.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(g.lines, offset)
	}
	return firstErr
}
