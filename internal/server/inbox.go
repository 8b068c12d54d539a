package server

import (
	"sync"
	"time"

	"github.com/afroash/vitals-monitor/internal/models"
)

// ReceivedMessage is an envelope accepted by the collector
type ReceivedMessage struct {
	EntryID    int64           `json:"entry_id"`
	ReceivedAt time.Time       `json:"received_at"`
	Message    *models.Message `json:"message"`
}

// Inbox is an in-memory ring buffer of received envelopes, per device
type Inbox struct {
	capacity    int
	data        map[string][]*ReceivedMessage
	mutex       sync.RWMutex
	nextEntryID int64
	total       int64
}

// NewInbox creates an inbox keeping up to capacity envelopes per device.
// Entry ids start at firstEntryID.
func NewInbox(capacity int, firstEntryID int64) *Inbox {
	if capacity <= 0 {
		capacity = 1000
	}
	return &Inbox{
		capacity:    capacity,
		data:        make(map[string][]*ReceivedMessage),
		nextEntryID: firstEntryID,
	}
}

// Add stores msg and returns the entry id assigned to it
func (in *Inbox) Add(msg *models.Message) int64 {
	in.mutex.Lock()
	defer in.mutex.Unlock()

	entry := &ReceivedMessage{
		EntryID:    in.nextEntryID,
		ReceivedAt: time.Now().UTC(),
		Message:    msg,
	}
	in.nextEntryID++
	in.total++

	msgs := in.data[msg.DeviceID]
	if len(msgs) >= in.capacity {
		msgs = msgs[1:] // Remove oldest
	}
	in.data[msg.DeviceID] = append(msgs, entry)
	return entry.EntryID
}

// Latest returns the n most recent envelopes for a device, newest first
func (in *Inbox) Latest(deviceID string, n int) []*ReceivedMessage {
	in.mutex.RLock()
	defer in.mutex.RUnlock()

	msgs := in.data[deviceID]
	if len(msgs) == 0 {
		return nil
	}

	start := len(msgs) - n
	if start < 0 {
		start = 0
	}

	result := make([]*ReceivedMessage, 0, len(msgs)-start)
	for i := len(msgs) - 1; i >= start; i-- {
		entry := *msgs[i]
		result = append(result, &entry)
	}
	return result
}

// DeviceIDs returns every device that has sent data
func (in *Inbox) DeviceIDs() []string {
	in.mutex.RLock()
	defer in.mutex.RUnlock()

	keys := make([]string, 0, len(in.data))
	for key := range in.data {
		keys = append(keys, key)
	}
	return keys
}

// InboxStats contains statistics about the inbox
type InboxStats struct {
	TotalMessages   int64 `json:"total_messages"`
	UniqueDevices   int   `json:"unique_devices"`
	CurrentMessages int   `json:"current_messages"` // still held in memory
}

// Stats returns statistics about the inbox
func (in *Inbox) Stats() InboxStats {
	in.mutex.RLock()
	defer in.mutex.RUnlock()

	current := 0
	for _, msgs := range in.data {
		current += len(msgs)
	}
	return InboxStats{
		TotalMessages:   in.total,
		UniqueDevices:   len(in.data),
		CurrentMessages: current,
	}
}
