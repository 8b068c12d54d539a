package uplink

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/afroash/vitals-monitor/internal/models"
)

// HTTPConfig holds configuration for the HTTP transport
type HTTPConfig struct {
	URL     string // base URL of the endpoint
	Path    string // path the envelope is POSTed to
	Timeout time.Duration
}

// HTTPTransport POSTs each envelope as JSON
type HTTPTransport struct {
	client *resty.Client
	path   string
	logger zerolog.Logger
}

// NewHTTPTransport creates an HTTP transport
func NewHTTPTransport(config HTTPConfig, logger zerolog.Logger) *HTTPTransport {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	path := config.Path
	if path == "" {
		path = "/telemetry"
	}

	client := resty.New().
		SetBaseURL(config.URL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &HTTPTransport{
		client: client,
		path:   path,
		logger: logger,
	}
}

// Deliver posts msg and treats any non-2xx status as a failure
func (t *HTTPTransport) Deliver(ctx context.Context, msg *models.Message) error {
	var ack models.AckMessage
	resp, err := t.client.R().
		SetContext(ctx).
		SetBody(msg).
		SetResult(&ack).
		Post(t.path)
	if err != nil {
		return fmt.Errorf("failed to post telemetry: %w", err)
	}

	if resp.IsError() {
		return fmt.Errorf("telemetry endpoint returned status %d", resp.StatusCode())
	}

	t.logger.Debug().
		Str("message_id", msg.ID).
		Int("status_code", resp.StatusCode()).
		Int64("entry_id", ack.EntryID).
		Msg("Telemetry posted")
	return nil
}

// Close is a no-op; resty keeps no long-lived state worth releasing
func (t *HTTPTransport) Close() error {
	return nil
}
