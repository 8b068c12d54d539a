package uplink

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/afroash/vitals-monitor/internal/models"
)

// MQTTConfig holds configuration for the MQTT transport
type MQTTConfig struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	TopicPrefix    string
	QoS            byte
	ConnectTimeout time.Duration
}

// publisher is the subset of mqtt.Client the transport uses
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	IsConnected() bool
	Disconnect(quiesce uint)
}

// MQTTTransport publishes each envelope to <prefix>/<device>/<kind>
type MQTTTransport struct {
	client publisher
	prefix string
	qos    byte
	logger zerolog.Logger
}

// NewMQTTTransport connects to the broker and returns a transport
func NewMQTTTransport(config MQTTConfig, logger zerolog.Logger) (*MQTTTransport, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(config.Broker)
	opts.SetClientID(config.ClientID)

	if config.Username != "" {
		opts.SetUsername(config.Username)
	}
	if config.Password != "" {
		opts.SetPassword(config.Password)
	}

	timeout := config.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	opts.SetConnectTimeout(timeout)
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn().Err(err).Msg("MQTT connection lost")
	})
	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		logger.Info().Str("broker", config.Broker).Msg("Connected to MQTT broker")
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	return newMQTTTransport(client, config, logger), nil
}

func newMQTTTransport(client publisher, config MQTTConfig, logger zerolog.Logger) *MQTTTransport {
	prefix := strings.TrimSuffix(config.TopicPrefix, "/")
	if prefix == "" {
		prefix = "vitals"
	}
	return &MQTTTransport{
		client: client,
		prefix: prefix,
		qos:    config.QoS,
		logger: logger,
	}
}

// Topic returns the topic a message of the given kind is published on
func (t *MQTTTransport) Topic(deviceID string, kind models.MessageType) string {
	return t.prefix + "/" + deviceID + "/" + string(kind)
}

// Deliver publishes msg and waits for the broker to acknowledge it
func (t *MQTTTransport) Deliver(ctx context.Context, msg *models.Message) error {
	if !t.client.IsConnected() {
		return ErrNotConnected
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	topic := t.Topic(msg.DeviceID, msg.Type)
	token := t.client.Publish(topic, t.qos, false, payload)

	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, err)
	}

	t.logger.Debug().Str("topic", topic).Str("message_id", msg.ID).Msg("Telemetry published")
	return nil
}

// Close disconnects from the broker
func (t *MQTTTransport) Close() error {
	t.client.Disconnect(250)
	return nil
}
