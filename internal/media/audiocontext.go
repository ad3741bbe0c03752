package media

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Context is a shared audio processing context. Consumers that meter levels
// or mix tracks share one instance instead of opening a device pipeline each.
type Context struct {
	sampleRate int
	createdAt  time.Time

	mu     sync.Mutex
	closed bool
}

func (c *Context) SampleRate() int { return c.sampleRate }

func (c *Context) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Context) close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

// ContextManager hands out a refcounted shared Context. The context is
// created lazily on first Acquire and closed only after the last owner
// releases it and a grace period elapses, so a quick release/re-acquire
// cycle (track restarts, screen-share swaps) reuses the live context.
type ContextManager struct {
	sampleRate int
	grace      time.Duration
	logger     *zap.SugaredLogger

	mu         sync.Mutex
	ctx        *Context
	owners     map[string]struct{}
	closeTimer *time.Timer
}

func NewContextManager(sampleRate int, grace time.Duration, logger *zap.SugaredLogger) *ContextManager {
	return &ContextManager{
		sampleRate: sampleRate,
		grace:      grace,
		logger:     logger,
		owners:     make(map[string]struct{}),
	}
}

// Acquire registers ownerID and returns the shared context, creating it if
// needed. A pending delayed close is cancelled. Acquiring twice with the
// same owner id is idempotent.
func (m *ContextManager) Acquire(ownerID string) *Context {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closeTimer != nil {
		m.closeTimer.Stop()
		m.closeTimer = nil
	}

	if m.ctx == nil || m.ctx.Closed() {
		m.ctx = &Context{sampleRate: m.sampleRate, createdAt: time.Now()}
		m.logger.Infow("shared audio context created", "sample_rate", m.sampleRate)
	}

	m.owners[ownerID] = struct{}{}
	return m.ctx
}

// Release drops ownerID. When the last owner leaves, the context is closed
// after the grace period unless someone acquires it again first. Releasing
// an unknown owner is a no-op.
func (m *ContextManager) Release(ownerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.owners[ownerID]; !ok {
		return
	}
	delete(m.owners, ownerID)
	if len(m.owners) > 0 || m.ctx == nil {
		return
	}

	ctx := m.ctx
	m.closeTimer = time.AfterFunc(m.grace, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		// A racing Acquire either stopped the timer or repopulated owners.
		if len(m.owners) > 0 || m.ctx != ctx {
			return
		}
		ctx.close()
		m.ctx = nil
		m.closeTimer = nil
		m.logger.Infow("shared audio context closed after grace period")
	})
}

// Owners returns the current owner count.
func (m *ContextManager) Owners() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.owners)
}

// Active reports whether a live context exists.
func (m *ContextManager) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ctx != nil && !m.ctx.Closed()
}

// CloseNow force-closes the context regardless of owners. Used on teardown.
func (m *ContextManager) CloseNow() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closeTimer != nil {
		m.closeTimer.Stop()
		m.closeTimer = nil
	}
	if m.ctx != nil {
		m.ctx.close()
		m.ctx = nil
	}
	m.owners = make(map[string]struct{})
}
