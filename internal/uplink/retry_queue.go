package uplink

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/vitals-monitor/internal/models"
)

// RetryQueue is a bounded FIFO of undelivered envelopes. When full the oldest
// entry is dropped. Run drains it through a transport with exponential backoff.
type RetryQueue struct {
	messages  []*models.Message
	capacity  int
	mutex     sync.RWMutex
	stats     QueueStats
	notify    chan struct{}
	transport Transport
	logger    zerolog.Logger

	retryInterval    time.Duration
	maxRetryInterval time.Duration
}

// QueueStats tracks queue usage statistics
type QueueStats struct {
	TotalPushed    int64
	TotalDropped   int64
	TotalDelivered int64
	HighWaterMark  int
	LastPushTime   time.Time
	LastDropTime   time.Time
}

// RetryConfig holds configuration for the retry queue
type RetryConfig struct {
	Capacity         int
	RetryInterval    time.Duration
	MaxRetryInterval time.Duration
}

// DefaultRetryConfig returns sensible defaults
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Capacity:         100,
		RetryInterval:    2 * time.Second,
		MaxRetryInterval: time.Minute,
	}
}

// NewRetryQueue creates a queue draining into transport
func NewRetryQueue(transport Transport, config RetryConfig, logger zerolog.Logger) *RetryQueue {
	defaults := DefaultRetryConfig()
	if config.Capacity <= 0 {
		config.Capacity = defaults.Capacity
	}
	if config.RetryInterval <= 0 {
		config.RetryInterval = defaults.RetryInterval
	}
	if config.MaxRetryInterval < config.RetryInterval {
		config.MaxRetryInterval = config.RetryInterval
	}

	return &RetryQueue{
		messages:         make([]*models.Message, 0, config.Capacity),
		capacity:         config.Capacity,
		notify:           make(chan struct{}, 1),
		transport:        transport,
		logger:           logger,
		retryInterval:    config.RetryInterval,
		maxRetryInterval: config.MaxRetryInterval,
	}
}

// Push appends msg, dropping the oldest entry when full.
// Returns true if an entry was dropped to make room.
func (q *RetryQueue) Push(msg *models.Message) bool {
	q.mutex.Lock()
	dropped := false
	if len(q.messages) >= q.capacity {
		q.logger.Warn().Str("message_id", q.messages[0].ID).Msg("Retry queue full, dropping oldest")
		q.messages = q.messages[1:]
		q.stats.TotalDropped++
		q.stats.LastDropTime = time.Now()
		dropped = true
	}
	q.messages = append(q.messages, msg)
	q.stats.TotalPushed++
	q.stats.LastPushTime = time.Now()
	if len(q.messages) > q.stats.HighWaterMark {
		q.stats.HighWaterMark = len(q.messages)
	}
	q.mutex.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return dropped
}

// Peek returns the oldest entry without removing it
func (q *RetryQueue) Peek() *models.Message {
	q.mutex.RLock()
	defer q.mutex.RUnlock()
	if len(q.messages) == 0 {
		return nil
	}
	return q.messages[0]
}

// remove pops msg if it is still at the front. A concurrent Push may have
// dropped it already.
func (q *RetryQueue) remove(msg *models.Message) {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	if len(q.messages) > 0 && q.messages[0] == msg {
		q.messages = q.messages[1:]
	}
	q.stats.TotalDelivered++
}

// Size returns the current number of queued envelopes
func (q *RetryQueue) Size() int {
	q.mutex.RLock()
	defer q.mutex.RUnlock()
	return len(q.messages)
}

// Capacity returns the maximum capacity of the queue
func (q *RetryQueue) Capacity() int {
	return q.capacity
}

// Stats returns a copy of current queue statistics
func (q *RetryQueue) Stats() QueueStats {
	q.mutex.RLock()
	defer q.mutex.RUnlock()
	return q.stats
}

// String returns a human-readable representation of queue state
func (q *RetryQueue) String() string {
	q.mutex.RLock()
	defer q.mutex.RUnlock()
	return fmt.Sprintf("RetryQueue[%d/%d, dropped: %d, delivered: %d]",
		len(q.messages),
		q.capacity,
		q.stats.TotalDropped,
		q.stats.TotalDelivered,
	)
}

// Run drains the queue until ctx is cancelled. Entries are retried oldest
// first; each failure doubles the wait up to the configured maximum.
func (q *RetryQueue) Run(ctx context.Context) {
	q.logger.Debug().Msg("Starting retry drain")
	defer q.logger.Debug().Msg("Retry drain stopped")

	interval := q.retryInterval
	for {
		msg := q.Peek()
		if msg == nil {
			select {
			case <-ctx.Done():
				return
			case <-q.notify:
				continue
			}
		}

		if err := q.transport.Deliver(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return
			}
			q.logger.Debug().
				Err(err).
				Str("message_id", msg.ID).
				Dur("delay", interval).
				Msg("Retry failed, backing off")

			select {
			case <-time.After(interval):
			case <-ctx.Done():
				return
			}
			interval *= 2
			if interval > q.maxRetryInterval {
				interval = q.maxRetryInterval
			}
			continue
		}

		q.remove(msg)
		interval = q.retryInterval
		q.logger.Info().
			Str("kind", string(msg.Type)).
			Str("message_id", msg.ID).
			Msg("Queued telemetry delivered")
	}
}
