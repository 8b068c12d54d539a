package server

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/afroash/vitals-monitor/internal/models"
)

// Constants for WebSocket timeouts
const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
)

// Collector is a local telemetry endpoint. It accepts envelopes over a
// WebSocket (one ack frame per envelope) or as HTTP POSTs, keeps them in an
// Inbox and acknowledges each with an entry id.
type Collector struct {
	upgrader       websocket.Upgrader
	inbox          *Inbox
	logger         zerolog.Logger
	active         map[string]*DeviceConnection
	allowedOrigins []string
	idleTimeout    time.Duration
	mutex          sync.RWMutex
}

// DeviceConnection represents an active uplink connection
type DeviceConnection struct {
	DeviceID    string          `json:"device_id"`
	RemoteAddr  string          `json:"remote_addr"`
	Conn        *websocket.Conn `json:"-"`
	LastSeen    time.Time       `json:"last_seen"`
	ConnectedAt time.Time       `json:"connected_at"`
}

// NewCollector creates a collector storing into inbox
func NewCollector(inbox *Inbox, logger zerolog.Logger, allowedOrigins ...string) *Collector {
	c := &Collector{
		inbox:          inbox,
		logger:         logger,
		active:         make(map[string]*DeviceConnection),
		allowedOrigins: allowedOrigins,
		idleTimeout:    pongWait,
	}

	c.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     c.checkOrigin,
	}

	return c
}

// Routes builds the collector mux: /telemetry (POST), /telemetry/ws and /inbox
func (c *Collector) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/telemetry", c.HandlePost)
	mux.HandleFunc("/telemetry/ws", c.ServeHTTP)
	mux.HandleFunc("/inbox", c.HandleInbox)
	return mux
}

// checkOrigin validates the incoming request's Origin against the configured allowlist
func (c *Collector) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	// No Origin header means same-origin request
	if origin == "" {
		return true
	}

	for _, allowed := range c.allowedOrigins {
		if origin == allowed {
			return true
		}
	}

	c.logger.Warn().Str("origin", origin).Msg("Rejected WebSocket connection: origin not in allowlist")
	return false
}

// ServeHTTP upgrades the request and serves one uplink connection
func (c *Collector) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := c.upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	c.handleConnection(conn)
}

// HandlePost accepts a single envelope and replies with the ack payload
func (c *Collector) HandlePost(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var msg models.Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		writeJSON(w, http.StatusBadRequest, models.ErrorMessage{Code: "bad_envelope", Message: err.Error()})
		return
	}

	ack, errMsg := c.accept(&msg)
	if errMsg != nil {
		writeJSON(w, http.StatusUnprocessableEntity, errMsg)
		return
	}
	writeJSON(w, http.StatusOK, ack)
}

// HandleInbox lists the newest envelopes for ?device_id= (default: first seen)
func (c *Collector) HandleInbox(w http.ResponseWriter, r *http.Request) {
	deviceID := r.URL.Query().Get("device_id")
	if deviceID == "" {
		ids := c.inbox.DeviceIDs()
		if len(ids) == 0 {
			writeJSON(w, http.StatusOK, []*ReceivedMessage{})
			return
		}
		deviceID = ids[0]
	}

	writeJSON(w, http.StatusOK, c.inbox.Latest(deviceID, 50))
}

// handleConnection manages a single WebSocket connection
func (c *Collector) handleConnection(conn *websocket.Conn) {
	connKey := conn.RemoteAddr().String()
	now := time.Now()

	c.mutex.Lock()
	c.active[connKey] = &DeviceConnection{
		RemoteAddr:  connKey,
		Conn:        conn,
		LastSeen:    now,
		ConnectedAt: now,
	}
	c.mutex.Unlock()

	defer conn.Close()
	defer c.removeConnection(connKey)

	// Any frame from the device, pings included, keeps the connection open
	conn.SetReadDeadline(time.Now().Add(c.idleTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(c.idleTimeout))
		return nil
	})
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(c.idleTimeout))
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
		var netErr net.Error
		if errors.Is(err, websocket.ErrCloseSent) || (errors.As(err, &netErr) && netErr.Timeout()) {
			return nil
		}
		return err
	})

	for {
		var msg models.Message
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn().Err(err).Msg("WebSocket error")
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(c.idleTimeout))
		c.touch(connKey, msg.DeviceID)
		c.reply(conn, &msg)
	}
}

// reply acks or rejects one envelope on conn
func (c *Collector) reply(conn *websocket.Conn, msg *models.Message) {
	var out *models.Message
	var err error

	ack, errMsg := c.accept(msg)
	if errMsg != nil {
		out, err = models.NewMessage(models.MessageTypeError, "", errMsg)
	} else {
		out, err = models.NewMessage(models.MessageTypeAck, "", ack)
	}
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to create reply message")
		return
	}

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(out); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to send reply")
	}
}

// accept validates and stores an envelope
func (c *Collector) accept(msg *models.Message) (*models.AckMessage, *models.ErrorMessage) {
	switch msg.Type {
	case models.MessageTypeReading:
		var reading models.Reading
		if err := msg.UnmarshalPayload(&reading); err != nil || !reading.IsValid() {
			c.logger.Warn().Str("message_id", msg.ID).Msg("Reading rejected: invalid payload")
			return nil, &models.ErrorMessage{Code: "invalid_reading", Message: "reading payload failed validation"}
		}
	case models.MessageTypeSummary:
		var report models.SummaryReport
		if err := msg.UnmarshalPayload(&report); err != nil {
			c.logger.Warn().Err(err).Str("message_id", msg.ID).Msg("Summary rejected")
			return nil, &models.ErrorMessage{Code: "invalid_summary", Message: err.Error()}
		}
	default:
		c.logger.Warn().Str("type", string(msg.Type)).Msg("Unknown message type")
		return nil, &models.ErrorMessage{Code: "unknown_type", Message: string(msg.Type)}
	}

	entryID := c.inbox.Add(msg)
	c.logger.Info().
		Str("device_id", msg.DeviceID).
		Str("type", string(msg.Type)).
		Str("message_id", msg.ID).
		Int64("entry_id", entryID).
		Msg("Telemetry received")

	return &models.AckMessage{MessageID: msg.ID, Status: "ok", EntryID: entryID}, nil
}

// touch records activity and the device id announced in the envelope
func (c *Collector) touch(connKey, deviceID string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if dc, ok := c.active[connKey]; ok {
		dc.LastSeen = time.Now()
		if deviceID != "" {
			dc.DeviceID = deviceID
		}
	}
}

// removeConnection removes a connection from the active map
func (c *Collector) removeConnection(connKey string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	deviceID := connKey
	if dc, ok := c.active[connKey]; ok && dc.DeviceID != "" {
		deviceID = dc.DeviceID
	}
	delete(c.active, connKey)
	c.logger.Info().Str("device_id", deviceID).Msg("Device disconnected")
}

// ActiveConnections returns a list of currently connected devices
func (c *Collector) ActiveConnections() []DeviceConnection {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	conns := make([]DeviceConnection, 0, len(c.active))
	for _, dc := range c.active {
		conns = append(conns, *dc)
	}
	return conns
}
