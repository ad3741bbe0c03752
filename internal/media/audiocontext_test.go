package media

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestManager(grace time.Duration) *ContextManager {
	return NewContextManager(48000, grace, zap.NewNop().Sugar())
}

func TestAcquire_SharesOneContext(t *testing.T) {
	m := newTestManager(time.Hour)

	a := m.Acquire("meter-1")
	b := m.Acquire("meter-2")

	assert.Same(t, a, b)
	assert.Equal(t, 48000, a.SampleRate())
	assert.Equal(t, 2, m.Owners())
}

func TestAcquire_SameOwnerIsIdempotent(t *testing.T) {
	m := newTestManager(time.Hour)
	m.Acquire("meter-1")
	m.Acquire("meter-1")
	assert.Equal(t, 1, m.Owners())
}

func TestRelease_ClosesAfterGrace(t *testing.T) {
	m := newTestManager(30 * time.Millisecond)
	ctx := m.Acquire("meter-1")

	m.Release("meter-1")
	assert.True(t, m.Active(), "context survives until the grace period elapses")

	require.Eventually(t, func() bool { return !m.Active() }, time.Second, 5*time.Millisecond)
	assert.True(t, ctx.Closed())
}

func TestRelease_KeepsContextWhileOwnersRemain(t *testing.T) {
	m := newTestManager(20 * time.Millisecond)
	m.Acquire("meter-1")
	m.Acquire("meter-2")

	m.Release("meter-1")
	time.Sleep(60 * time.Millisecond)
	assert.True(t, m.Active(), "one owner left, no close may be scheduled")
}

func TestAcquire_CancelsPendingClose(t *testing.T) {
	m := newTestManager(50 * time.Millisecond)
	first := m.Acquire("meter-1")
	m.Release("meter-1")

	// Re-acquire inside the grace window: same live context, close cancelled.
	second := m.Acquire("meter-2")
	assert.Same(t, first, second)

	time.Sleep(120 * time.Millisecond)
	assert.True(t, m.Active())
	assert.False(t, first.Closed())
}

func TestAcquire_AfterCloseCreatesFreshContext(t *testing.T) {
	m := newTestManager(10 * time.Millisecond)
	first := m.Acquire("meter-1")
	m.Release("meter-1")
	require.Eventually(t, func() bool { return !m.Active() }, time.Second, 5*time.Millisecond)

	second := m.Acquire("meter-1")
	assert.NotSame(t, first, second)
	assert.False(t, second.Closed())
}

func TestRelease_UnknownOwnerIsNoOp(t *testing.T) {
	m := newTestManager(10 * time.Millisecond)
	m.Acquire("meter-1")
	m.Release("stranger")

	time.Sleep(40 * time.Millisecond)
	assert.True(t, m.Active())
	assert.Equal(t, 1, m.Owners())
}

func TestCloseNow_ForcesTeardown(t *testing.T) {
	m := newTestManager(time.Hour)
	ctx := m.Acquire("meter-1")

	m.CloseNow()
	assert.False(t, m.Active())
	assert.True(t, ctx.Closed())
	assert.Equal(t, 0, m.Owners())
}
