package transport

import (
	"context"
	"sync"
	"time"

	"meshcall/internal/core/domain"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Metrics is the subset of collector methods the transport layer reports to.
// A nil metrics implementation is substituted when none is supplied.
type Metrics interface {
	QueueDepth(n int)
	MessageDropped(reason string)
	BufferEvicted()
	ReconnectScheduled()
}

type nopMetrics struct{}

func (nopMetrics) QueueDepth(int)        {}
func (nopMetrics) MessageDropped(string) {}
func (nopMetrics) BufferEvicted()        {}
func (nopMetrics) ReconnectScheduled()   {}

type queueEntry struct {
	msg        *domain.InboundMessage
	priority   int
	seq        uint64
	enqueuedAt time.Time
}

// MessageQueue is a bounded, priority-aware queue decoupling socket receipt
// from handler dispatch. Draining is paced by a rate limiter so a message
// burst cannot starve the rest of the process.
type MessageQueue struct {
	maxSize int
	limiter *rate.Limiter
	handler func(msg *domain.InboundMessage)
	logger  *zap.SugaredLogger
	metrics Metrics

	mu      sync.Mutex
	entries []queueEntry
	seq     uint64
	paused  bool

	wake chan struct{}
}

// NewMessageQueue creates a queue delivering to handler at most perSec
// messages per second.
func NewMessageQueue(maxSize int, perSec float64, handler func(msg *domain.InboundMessage), logger *zap.SugaredLogger, metrics Metrics) *MessageQueue {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &MessageQueue{
		maxSize: maxSize,
		limiter: rate.NewLimiter(rate.Limit(perSec), 1),
		handler: handler,
		logger:  logger,
		metrics: metrics,
		wake:    make(chan struct{}, 1),
	}
}

// Start launches the drain loop; it exits when ctx is cancelled.
func (q *MessageQueue) Start(ctx context.Context) {
	go q.drain(ctx)
}

// Enqueue classifies and admits a message. On overflow the new message is
// admitted only if it outranks the lowest-priority queued entry, which is
// then evicted; otherwise the new message is dropped. Returns whether the
// message was admitted.
func (q *MessageQueue) Enqueue(msg *domain.InboundMessage) bool {
	priority := ClassifyPriority(msg)

	q.mu.Lock()
	if len(q.entries) >= q.maxSize {
		victim := -1
		for i, e := range q.entries {
			if victim == -1 || e.priority < q.entries[victim].priority {
				victim = i
			}
		}
		if victim == -1 || q.entries[victim].priority >= priority {
			q.mu.Unlock()
			q.metrics.MessageDropped("queue_full")
			q.logger.Debugw("transport queue full, dropping message", "priority", priority)
			return false
		}
		q.entries = append(q.entries[:victim], q.entries[victim+1:]...)
		q.metrics.MessageDropped("queue_evicted")
	}

	q.seq++
	q.entries = append(q.entries, queueEntry{
		msg:        msg,
		priority:   priority,
		seq:        q.seq,
		enqueuedAt: time.Now(),
	})
	depth := len(q.entries)
	q.mu.Unlock()

	q.metrics.QueueDepth(depth)
	q.notifyWake()
	return true
}

// Pause stops draining without clearing contents.
func (q *MessageQueue) Pause() {
	q.mu.Lock()
	q.paused = true
	q.mu.Unlock()
}

// Resume restarts draining.
func (q *MessageQueue) Resume() {
	q.mu.Lock()
	q.paused = false
	q.mu.Unlock()
	q.notifyWake()
}

// Clear discards all queued entries.
func (q *MessageQueue) Clear() {
	q.mu.Lock()
	q.entries = nil
	q.mu.Unlock()
	q.metrics.QueueDepth(0)
}

// Len returns the number of queued entries.
func (q *MessageQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

func (q *MessageQueue) notifyWake() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// pop removes and returns the highest-priority entry; equal priorities keep
// their relative enqueue order.
func (q *MessageQueue) pop() (queueEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.paused || len(q.entries) == 0 {
		return queueEntry{}, false
	}

	best := 0
	for i, e := range q.entries {
		if e.priority > q.entries[best].priority ||
			(e.priority == q.entries[best].priority && e.seq < q.entries[best].seq) {
			best = i
		}
	}

	entry := q.entries[best]
	q.entries = append(q.entries[:best], q.entries[best+1:]...)
	q.metrics.QueueDepth(len(q.entries))
	return entry, true
}

func (q *MessageQueue) drain(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.wake:
		}

		for {
			entry, ok := q.pop()
			if !ok {
				break
			}
			if err := q.limiter.Wait(ctx); err != nil {
				return
			}
			q.dispatch(entry.msg)
		}
	}
}

// dispatch invokes the handler, containing panics so a failing handler does
// not stop the drain loop.
func (q *MessageQueue) dispatch(msg *domain.InboundMessage) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Errorw("transport queue handler panicked", "panic", r)
		}
	}()
	q.handler(msg)
}
