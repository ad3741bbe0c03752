package reconnect

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"
)

var (
	// ErrAborted is returned when Abort cancels a run.
	ErrAborted = errors.New("reconnect aborted")
	// ErrMaxAttemptsReached is returned when every attempt failed.
	ErrMaxAttemptsReached = errors.New("reconnect max attempts reached")
)

// Status describes the current phase of a reconnection run.
type Status int

const (
	StatusIdle Status = iota
	StatusReconnecting
	StatusSucceeded
	StatusFailed
	StatusAborted
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusReconnecting:
		return "reconnecting"
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	case StatusAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Config holds backoff configuration
type Config struct {
	MaxAttempts  int           // Maximum number of reconnect attempts
	BaseDelay    time.Duration // Delay before the first attempt
	MaxDelay     time.Duration // Cap for the exponential delay
	JitterFactor float64       // Uniform random jitter, up to JitterFactor*delay
}

// DefaultConfig returns a default backoff configuration
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  5,
		BaseDelay:    1 * time.Second,
		MaxDelay:     30 * time.Second,
		JitterFactor: 0.3,
	}
}

// Delay returns the backoff delay for attempt n (1-based), excluding jitter:
// min(BaseDelay * 2^(n-1), MaxDelay).
func Delay(cfg Config, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(cfg.BaseDelay) * math.Pow(2, float64(attempt-1))
	if d > float64(cfg.MaxDelay) {
		d = float64(cfg.MaxDelay)
	}
	return time.Duration(d)
}

func jitter(cfg Config, delay time.Duration) time.Duration {
	if cfg.JitterFactor <= 0 {
		return 0
	}
	return time.Duration(rand.Float64() * cfg.JitterFactor * float64(delay))
}

// Reconnector drives a cancellable, attempt-bounded exponential backoff loop
// around a reconnect callback. One instance serves one resource; Trigger is
// an idempotent no-op while a run is in flight or after Abort.
type Reconnector struct {
	cfg Config
	fn  func(ctx context.Context) error

	mu         sync.Mutex
	running    bool
	aborted    bool
	lastReason string
	abortCh    chan struct{}

	onStatus      func(status Status, attempt int)
	onMaxAttempts func()
}

// New creates a reconnector around the given reconnect callback.
func New(cfg Config, fn func(ctx context.Context) error) *Reconnector {
	return &Reconnector{
		cfg:     cfg,
		fn:      fn,
		abortCh: make(chan struct{}),
	}
}

// OnStatus registers a callback observing status transitions with the current
// attempt count.
func (r *Reconnector) OnStatus(fn func(status Status, attempt int)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onStatus = fn
}

// OnMaxAttemptsReached registers a callback invoked when attempts are exhausted.
func (r *Reconnector) OnMaxAttemptsReached(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onMaxAttempts = fn
}

func (r *Reconnector) notify(status Status, attempt int) {
	r.mu.Lock()
	fn := r.onStatus
	r.mu.Unlock()
	if fn != nil {
		fn(status, attempt)
	}
}

// Trigger runs the backoff loop until the callback succeeds, attempts are
// exhausted, the context is cancelled, or Abort is called. It is a no-op when
// a run is already in flight or the reconnector was aborted.
func (r *Reconnector) Trigger(ctx context.Context, reason string) error {
	r.mu.Lock()
	if r.running || r.aborted {
		r.mu.Unlock()
		return nil
	}
	r.running = true
	r.lastReason = reason
	abortCh := r.abortCh
	r.mu.Unlock()

	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		r.notify(StatusReconnecting, attempt)

		delay := Delay(r.cfg, attempt) + jitter(r.cfg, Delay(r.cfg, attempt))

		timer := time.NewTimer(delay)
		select {
		case <-abortCh:
			timer.Stop()
			r.finish()
			r.notify(StatusAborted, attempt)
			return ErrAborted
		case <-ctx.Done():
			timer.Stop()
			r.finish()
			r.notify(StatusAborted, attempt)
			return ctx.Err()
		case <-timer.C:
		}

		if r.isAborted() {
			r.finish()
			r.notify(StatusAborted, attempt)
			return ErrAborted
		}

		if err := r.fn(ctx); err == nil {
			r.finish()
			r.notify(StatusSucceeded, attempt)
			return nil
		}
	}

	r.finish()
	r.notify(StatusFailed, r.cfg.MaxAttempts)

	r.mu.Lock()
	fn := r.onMaxAttempts
	r.mu.Unlock()
	if fn != nil {
		fn()
	}
	return ErrMaxAttemptsReached
}

func (r *Reconnector) finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.running = false
}

// Abort cancels any pending sleep and marks the reconnector terminal. The
// max-attempts callback does not fire for an aborted run.
func (r *Reconnector) Abort() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.aborted {
		return
	}
	r.aborted = true
	close(r.abortCh)
}

func (r *Reconnector) isAborted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.aborted
}

// IsRunning reports whether a reconnection run is in flight.
func (r *Reconnector) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// LastReason returns the reason passed to the most recent Trigger.
func (r *Reconnector) LastReason() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastReason
}
