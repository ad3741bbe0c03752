package transport

import (
	"sync"
	"time"

	"meshcall/pkg/utils"

	"go.uber.org/zap"
)

// BufferedMessage is an outbound payload parked while the socket is down.
type BufferedMessage struct {
	ID        string
	Payload   []byte
	Timestamp time.Time
	Retries   int
}

// OfflineBuffer holds outbound messages written while disconnected so they
// can be replayed after a reconnect. Capacity is fixed; when full, the oldest
// entry is evicted to admit the new one. Entries expire after a TTL and give
// up after a bounded number of failed replay attempts.
type OfflineBuffer struct {
	maxSize    int
	ttl        time.Duration
	maxRetries int
	logger     *zap.SugaredLogger
	metrics    Metrics

	mu      sync.Mutex
	entries []*BufferedMessage
}

func NewOfflineBuffer(maxSize int, ttl time.Duration, maxRetries int, logger *zap.SugaredLogger, metrics Metrics) *OfflineBuffer {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &OfflineBuffer{
		maxSize:    maxSize,
		ttl:        ttl,
		maxRetries: maxRetries,
		logger:     logger,
		metrics:    metrics,
	}
}

// Add appends a payload, evicting the oldest entry if the buffer is full.
// Returns the buffered entry's id.
func (b *OfflineBuffer) Add(payload []byte) string {
	entry := &BufferedMessage{
		ID:        utils.GenerateMessageID(),
		Payload:   append([]byte(nil), payload...),
		Timestamp: utils.Now(),
	}

	b.mu.Lock()
	if len(b.entries) >= b.maxSize {
		evicted := b.entries[0]
		b.entries = b.entries[1:]
		b.metrics.BufferEvicted()
		b.logger.Debugw("offline buffer full, evicting oldest entry", "id", evicted.ID)
	}
	b.entries = append(b.entries, entry)
	b.mu.Unlock()

	return entry.ID
}

// Flush replays buffered messages in insertion order through send. Expired
// entries and entries that already exhausted their retries are dropped
// without being sent. A send failure increments the entry's retry count,
// keeps it (and everything after it) buffered, and stops the flush.
func (b *OfflineBuffer) Flush(send func(payload []byte) error) (sent, dropped int) {
	b.mu.Lock()
	pending := b.entries
	b.entries = nil
	b.mu.Unlock()

	now := utils.Now()
	for i, entry := range pending {
		if now.Sub(entry.Timestamp) > b.ttl {
			dropped++
			b.metrics.BufferEvicted()
			b.logger.Debugw("dropping expired buffered message", "id", entry.ID, "age", now.Sub(entry.Timestamp))
			continue
		}
		if entry.Retries >= b.maxRetries {
			dropped++
			b.metrics.BufferEvicted()
			b.logger.Debugw("dropping buffered message after too many attempts", "id", entry.ID, "retries", entry.Retries)
			continue
		}
		if err := send(entry.Payload); err != nil {
			entry.Retries++
			b.mu.Lock()
			// Keep the failed entry and the remainder ahead of anything
			// buffered during the flush.
			b.entries = append(pending[i:], b.entries...)
			b.mu.Unlock()
			b.logger.Warnw("offline buffer flush interrupted", "id", entry.ID, "sent", sent, "error", err)
			return sent, dropped
		}
		sent++
	}

	if sent > 0 || dropped > 0 {
		b.logger.Infow("offline buffer flushed", "sent", sent, "dropped", dropped)
	}
	return sent, dropped
}

// Len returns the number of buffered entries.
func (b *OfflineBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Clear discards all buffered entries.
func (b *OfflineBuffer) Clear() {
	b.mu.Lock()
	b.entries = nil
	b.mu.Unlock()
}
