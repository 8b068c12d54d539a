package uplink

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/vitals-monitor/internal/models"
)

var (
	// ErrNotConnected is returned when a transport has no usable connection
	ErrNotConnected = errors.New("not connected")
	// ErrSimulatedFailure is returned by the simulator for a failed roll
	ErrSimulatedFailure = errors.New("simulated delivery failure")
	// ErrRejected is returned when the endpoint answers with an error frame
	ErrRejected = errors.New("endpoint rejected message")
)

// Transport delivers one envelope to the telemetry endpoint
type Transport interface {
	Deliver(ctx context.Context, msg *models.Message) error
	Close() error
}

// UplinkError describes a failed send. It is logged and never propagated to
// the engine's loops.
type UplinkError struct {
	Kind      models.MessageType
	MessageID string
	Err       error
}

func (e *UplinkError) Error() string {
	return fmt.Sprintf("uplink %s %s: %v", e.Kind, e.MessageID, e.Err)
}

func (e *UplinkError) Unwrap() error {
	return e.Err
}

// Config holds settings for an Uplink
type Config struct {
	DeviceID string
	// Timeout bounds each delivery; zero leaves it to the caller's context
	Timeout time.Duration
	// Retry, when set, receives envelopes whose delivery failed
	Retry *RetryQueue
}

// Uplink forwards readings and summaries through a Transport
type Uplink struct {
	transport Transport
	deviceID  string
	timeout   time.Duration
	retry     *RetryQueue
	logger    zerolog.Logger
}

// New creates an uplink over the given transport
func New(transport Transport, config Config, logger zerolog.Logger) *Uplink {
	return &Uplink{
		transport: transport,
		deviceID:  config.DeviceID,
		timeout:   config.Timeout,
		retry:     config.Retry,
		logger:    logger,
	}
}

// Send delivers payload as a message of the given kind and reports whether it
// succeeded. Failures are logged as *UplinkError and never retried inline.
func (u *Uplink) Send(ctx context.Context, kind models.MessageType, payload interface{}) bool {
	msg, err := models.NewMessage(kind, u.deviceID, payload)
	if err != nil {
		u.logger.Error().Err(&UplinkError{Kind: kind, Err: err}).Msg("Failed to build telemetry message")
		return false
	}

	if u.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, u.timeout)
		defer cancel()
	}

	start := time.Now()
	if err := u.transport.Deliver(ctx, msg); err != nil {
		u.logger.Warn().
			Err(&UplinkError{Kind: kind, MessageID: msg.ID, Err: err}).
			Dur("elapsed", time.Since(start)).
			Msg("Telemetry send failed")
		if u.retry != nil {
			u.retry.Push(msg)
		}
		return false
	}

	u.logger.Debug().
		Str("kind", string(kind)).
		Str("message_id", msg.ID).
		Dur("elapsed", time.Since(start)).
		Msg("Telemetry sent")
	return true
}

// RetryQueue returns the attached retry queue, or nil
func (u *Uplink) RetryQueue() *RetryQueue {
	return u.retry
}

// Close releases the transport
func (u *Uplink) Close() error {
	return u.transport.Close()
}
