// Package indicator drives the two status outputs: alert and normal.
package indicator

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/vitals-monitor/internal/models"
)

// Panel shows the current classification on two outputs
type Panel interface {
	// SetStatus turns on exactly one of the alert and normal outputs
	SetStatus(status models.Status) error
	// Flash blinks the normal output times, then restores the last status
	Flash(ctx context.Context, times int, period time.Duration) error
	// Reset turns both outputs off
	Reset() error
}

// Config holds output line assignments
type Config struct {
	Chip       string
	AlertLine  int
	NormalLine int
}

// DefaultConfig returns the usual wiring: red LED on 17, green on 27
func DefaultConfig() Config {
	return Config{
		Chip:       "gpiochip0",
		AlertLine:  17,
		NormalLine: 27,
	}
}

// lineSetter drives one output line high or low
type lineSetter func(line int, on bool) error

// panel holds the logic shared by the simulated and GPIO panels
type panel struct {
	mu         sync.Mutex
	alertLine  int
	normalLine int
	set        lineSetter
	last       models.Status
	logger     zerolog.Logger
}

func (p *panel) SetStatus(status models.Status) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	alert := status == models.StatusAlert
	if err := p.set(p.alertLine, alert); err != nil {
		return err
	}
	if err := p.set(p.normalLine, !alert); err != nil {
		return err
	}
	p.last = status
	return nil
}

func (p *panel) Flash(ctx context.Context, times int, period time.Duration) error {
	for i := 0; i < times; i++ {
		if err := p.setOne(p.normalLine, true); err != nil {
			return err
		}
		if !sleep(ctx, period) {
			break
		}
		if err := p.setOne(p.normalLine, false); err != nil {
			return err
		}
		if !sleep(ctx, period) {
			break
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == "" {
		return p.set(p.normalLine, false)
	}
	alert := p.last == models.StatusAlert
	if err := p.set(p.alertLine, alert); err != nil {
		return err
	}
	return p.set(p.normalLine, !alert)
}

func (p *panel) Reset() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	errA := p.set(p.alertLine, false)
	errN := p.set(p.normalLine, false)
	p.last = ""
	if errA != nil {
		return errA
	}
	return errN
}

// setOne sets a single line; Flash must not hold mu across its sleeps
func (p *panel) setOne(line int, on bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.set(line, on)
}

// sleep waits for d and reports false if ctx ended first
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
