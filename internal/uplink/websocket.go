package uplink

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/afroash/vitals-monitor/internal/models"
)

// ConnectionState represents the current state of the connection
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
)

func (cs ConnectionState) String() string {
	switch cs {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// WebSocketConfig holds configuration for the WebSocket transport
type WebSocketConfig struct {
	URL                  string
	HandshakeTimeout     time.Duration
	AckTimeout           time.Duration
	PingInterval         time.Duration
	ReconnectInterval    time.Duration
	MaxReconnectInterval time.Duration
}

// errConnectionLost marks a failure of the socket itself, as opposed to a
// slow or rejecting endpoint
var errConnectionLost = errors.New("connection lost")

// WebSocketTransport writes envelopes over a persistent WebSocket and waits
// for the endpoint's ack. The connection is dialled on first use and redialled
// after a failure, no sooner than the current backoff allows. While connected
// it pings the endpoint every PingInterval so idle links between summaries
// are not timed out.
type WebSocketTransport struct {
	config WebSocketConfig
	logger zerolog.Logger

	// mu serialises deliveries; one request/ack exchange at a time
	mu                       sync.Mutex
	conn                     *websocket.Conn
	stopPing                 chan struct{}
	state                    ConnectionState
	nextDial                 time.Time
	currentReconnectInterval time.Duration
}

// NewWebSocketTransport creates a transport; no connection is made yet
func NewWebSocketTransport(config WebSocketConfig, logger zerolog.Logger) *WebSocketTransport {
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = 10 * time.Second
	}
	if config.AckTimeout <= 0 {
		config.AckTimeout = 5 * time.Second
	}
	if config.PingInterval <= 0 {
		config.PingInterval = 30 * time.Second
	}
	if config.ReconnectInterval <= 0 {
		config.ReconnectInterval = time.Second
	}
	if config.MaxReconnectInterval < config.ReconnectInterval {
		config.MaxReconnectInterval = config.ReconnectInterval
	}

	return &WebSocketTransport{
		config:                   config,
		logger:                   logger,
		state:                    StateDisconnected,
		currentReconnectInterval: config.ReconnectInterval,
	}
}

// State returns the current connection state
func (t *WebSocketTransport) State() ConnectionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Deliver sends msg and blocks until the matching ack arrives. When a reused
// connection turns out to be dead the message is sent once more on a fresh one.
func (t *WebSocketTransport) Deliver(ctx context.Context, msg *models.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	reused := t.conn != nil
	err := t.deliver(ctx, msg)
	if err == nil || !reused || ctx.Err() != nil || !errors.Is(err, errConnectionLost) {
		return err
	}

	t.logger.Info().Err(err).Msg("Connection went stale, redialling")
	t.nextDial = time.Time{}
	t.currentReconnectInterval = t.config.ReconnectInterval
	return t.deliver(ctx, msg)
}

// deliver performs one write/ack exchange. Must be called with mu held.
func (t *WebSocketTransport) deliver(ctx context.Context, msg *models.Message) error {
	if err := t.ensureConnected(ctx); err != nil {
		return err
	}

	deadline := time.Now().Add(t.config.AckTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	// Unblock the read below if ctx ends first
	conn := t.conn
	stop := context.AfterFunc(ctx, func() {
		conn.SetReadDeadline(time.Now())
	})
	defer stop()

	t.conn.SetWriteDeadline(deadline)
	if err := t.conn.WriteJSON(msg); err != nil {
		t.dropConnection()
		return socketError("write", err)
	}

	if err := t.awaitAck(msg.ID, deadline); err != nil {
		t.dropConnection()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

// socketError wraps a read or write failure. Timeouts are left unmarked so
// a slow endpoint is never sent the same message twice.
func socketError(op string, err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%s failed: %w", op, err)
	}
	return fmt.Errorf("%w: %s failed: %w", errConnectionLost, op, err)
}

// awaitAck reads frames until the ack for messageID arrives
func (t *WebSocketTransport) awaitAck(messageID string, deadline time.Time) error {
	t.conn.SetReadDeadline(deadline)
	for {
		var reply models.Message
		if err := t.conn.ReadJSON(&reply); err != nil {
			return socketError("read ack", err)
		}

		switch reply.Type {
		case models.MessageTypeAck:
			var ack models.AckMessage
			if err := reply.UnmarshalPayload(&ack); err != nil {
				return fmt.Errorf("invalid ack: %w", err)
			}
			// Acks without an id are accepted for the in-flight message
			if ack.MessageID != "" && ack.MessageID != messageID {
				t.logger.Debug().Str("message_id", ack.MessageID).Msg("Ignoring stale ack")
				continue
			}
			return nil
		case models.MessageTypeError:
			var errMsg models.ErrorMessage
			if err := reply.UnmarshalPayload(&errMsg); err != nil {
				return fmt.Errorf("invalid error reply: %w", err)
			}
			return fmt.Errorf("%w: %s: %s", ErrRejected, errMsg.Code, errMsg.Message)
		default:
			t.logger.Debug().Str("type", string(reply.Type)).Msg("Unknown message type")
		}
	}
}

// ensureConnected dials if needed. Must be called with mu held.
func (t *WebSocketTransport) ensureConnected(ctx context.Context) error {
	if t.conn != nil {
		return nil
	}
	if wait := time.Until(t.nextDial); wait > 0 {
		return fmt.Errorf("%w: next attempt in %s", ErrNotConnected, wait.Round(time.Millisecond))
	}

	t.state = StateConnecting
	t.logger.Info().Str("url", t.config.URL).Msg("Connecting to telemetry endpoint...")

	dialer := websocket.Dialer{
		HandshakeTimeout: t.config.HandshakeTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, t.config.URL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		t.state = StateDisconnected
		t.scheduleRedial()
		return fmt.Errorf("%w: dial failed: %v", ErrNotConnected, err)
	}

	t.conn = conn
	t.stopPing = make(chan struct{})
	t.state = StateConnected
	t.currentReconnectInterval = t.config.ReconnectInterval
	t.nextDial = time.Time{}
	go t.pingLoop(conn, t.stopPing)
	t.logger.Info().Msg("Connected to telemetry endpoint")
	return nil
}

// pingLoop keeps conn alive between deliveries. WriteControl is safe to call
// alongside the delivery's own writes.
func (t *WebSocketTransport) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(t.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(t.config.AckTimeout)); err != nil {
				// The next delivery finds out and redials
				t.logger.Warn().Err(err).Msg("Failed to send ping")
				return
			}
		}
	}
}

// closeConn stops the ping loop and closes the socket. Must be called with
// mu held.
func (t *WebSocketTransport) closeConn() error {
	if t.stopPing != nil {
		close(t.stopPing)
		t.stopPing = nil
	}
	err := t.conn.Close()
	t.conn = nil
	t.state = StateDisconnected
	return err
}

// scheduleRedial applies exponential backoff to the next dial attempt
func (t *WebSocketTransport) scheduleRedial() {
	t.nextDial = time.Now().Add(t.currentReconnectInterval)
	t.logger.Info().Dur("delay", t.currentReconnectInterval).Msg("Waiting before reconnect")

	t.currentReconnectInterval *= 2
	if t.currentReconnectInterval > t.config.MaxReconnectInterval {
		t.currentReconnectInterval = t.config.MaxReconnectInterval
	}
}

// dropConnection closes a broken connection. Must be called with mu held.
func (t *WebSocketTransport) dropConnection() {
	if t.conn != nil {
		t.closeConn()
	}
	t.state = StateDisconnected
	t.scheduleRedial()
	t.logger.Info().Msg("Connection disconnected")
}

// Close gracefully shuts down the connection
func (t *WebSocketTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return nil
	}

	t.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	err := t.closeConn()
	t.logger.Info().Msg("Connection closed")
	return err
}
