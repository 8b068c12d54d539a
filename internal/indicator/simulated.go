package indicator

import (
	"maps"
	"sync"

	"github.com/rs/zerolog"
)

// SimulatedPanel keeps line levels in memory and logs transitions. It owns its
// pin registry, so several panels can coexist in one process.
type SimulatedPanel struct {
	panel

	pinsMu      sync.RWMutex
	pins        map[int]bool
	transitions int
}

// NewSimulatedPanel creates a panel with both outputs off
func NewSimulatedPanel(config Config, logger zerolog.Logger) *SimulatedPanel {
	s := &SimulatedPanel{
		pins: map[int]bool{
			config.AlertLine:  false,
			config.NormalLine: false,
		},
	}
	s.panel = panel{
		alertLine:  config.AlertLine,
		normalLine: config.NormalLine,
		set:        s.setPin,
		logger:     logger,
	}
	return s
}

func (s *SimulatedPanel) setPin(line int, on bool) error {
	s.pinsMu.Lock()
	defer s.pinsMu.Unlock()

	if s.pins[line] == on {
		return nil
	}
	s.pins[line] = on
	s.transitions++

	level := "LOW"
	if on {
		level = "HIGH"
	}
	s.logger.Debug().Int("line", line).Str("level", level).Msg("Indicator line set")
	return nil
}

// Line reports whether the given line is high
func (s *SimulatedPanel) Line(line int) bool {
	s.pinsMu.RLock()
	defer s.pinsMu.RUnlock()
	return s.pins[line]
}

// Outputs returns the alert and normal levels
func (s *SimulatedPanel) Outputs() (alert, normal bool) {
	s.pinsMu.RLock()
	defer s.pinsMu.RUnlock()
	return s.pins[s.alertLine], s.pins[s.normalLine]
}

// Pins returns a copy of the pin registry
func (s *SimulatedPanel) Pins() map[int]bool {
	s.pinsMu.RLock()
	defer s.pinsMu.RUnlock()
	return maps.Clone(s.pins)
}

// Transitions counts level changes since creation
func (s *SimulatedPanel) Transitions() int {
	s.pinsMu.RLock()
	defer s.pinsMu.RUnlock()
	return s.transitions
}
