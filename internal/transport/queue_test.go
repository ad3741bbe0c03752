package transport

import (
	"context"
	"sync"
	"testing"
	"time"

	"meshcall/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recorder struct {
	mu   sync.Mutex
	msgs []*domain.InboundMessage
}

func (r *recorder) handle(msg *domain.InboundMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

func (r *recorder) snapshot() []*domain.InboundMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*domain.InboundMessage(nil), r.msgs...)
}

func signalMsg(kind string) *domain.InboundMessage {
	return &domain.InboundMessage{
		Action: domain.ActionWebRTCSignal,
		Signal: &domain.SignalEnvelope{Action: domain.ActionWebRTCSignal, Type: kind},
	}
}

func chatMsg(content string) *domain.InboundMessage {
	return &domain.InboundMessage{
		Action: domain.ActionSendMessage,
		Chat:   &domain.ChatEnvelope{Action: domain.ActionSendMessage, Content: content},
	}
}

func roomEventMsg(eventType string) *domain.InboundMessage {
	return &domain.InboundMessage{
		Type: domain.TypeRoomEvent,
		Data: &domain.RoomEvent{EventType: eventType},
	}
}

func startQueue(t *testing.T, maxSize int, handler func(*domain.InboundMessage)) *MessageQueue {
	t.Helper()
	q := NewMessageQueue(maxSize, 10000, handler, zap.NewNop().Sugar(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	q.Start(ctx)
	return q
}

func TestClassifyPriority(t *testing.T) {
	assert.Equal(t, PrioritySignaling, ClassifyPriority(signalMsg(domain.SignalOffer)))
	assert.Equal(t, PriorityRoomEvent, ClassifyPriority(roomEventMsg(domain.EventUserJoined)))
	assert.Equal(t, PriorityChat, ClassifyPriority(chatMsg("hi")))
	assert.Equal(t, PriorityHeartbeat, ClassifyPriority(&domain.InboundMessage{Type: domain.TypePong}))

	partial := chatMsg("")
	partial.Chat.Type = domain.MessageTypeTranscription
	partial.Chat.IsPartial = true
	assert.Equal(t, PriorityTranscriptionPartial, ClassifyPriority(partial))

	final := chatMsg("")
	final.Chat.Type = domain.MessageTypeTranscription
	assert.Equal(t, PriorityTranscriptionFinal, ClassifyPriority(final))
}

func TestQueue_DrainsByPriority(t *testing.T) {
	rec := &recorder{}
	q := startQueue(t, 100, rec.handle)

	q.Pause()
	q.Enqueue(chatMsg("first chat"))
	q.Enqueue(roomEventMsg(domain.EventUserJoined))
	q.Enqueue(signalMsg(domain.SignalOffer))
	q.Enqueue(chatMsg("second chat"))
	q.Resume()

	require.Eventually(t, func() bool { return rec.len() == 4 }, time.Second, 5*time.Millisecond)

	got := rec.snapshot()
	assert.NotNil(t, got[0].Signal, "signaling must drain first")
	assert.Equal(t, domain.TypeRoomEvent, got[1].Type)
	assert.Equal(t, "first chat", got[2].Chat.Content, "equal priorities keep enqueue order")
	assert.Equal(t, "second chat", got[3].Chat.Content)
}

func TestQueue_OverflowAdmitsOnlyHigherPriority(t *testing.T) {
	rec := &recorder{}
	q := startQueue(t, 3, rec.handle)
	q.Pause()

	require.True(t, q.Enqueue(chatMsg("a")))
	require.True(t, q.Enqueue(chatMsg("b")))
	require.True(t, q.Enqueue(chatMsg("c")))
	require.Equal(t, 3, q.Len())

	// Equal priority does not displace anything.
	assert.False(t, q.Enqueue(chatMsg("d")))
	assert.Equal(t, 3, q.Len())

	// Higher priority evicts the lowest-priority entry.
	assert.True(t, q.Enqueue(signalMsg(domain.SignalOffer)))
	assert.Equal(t, 3, q.Len())

	q.Resume()
	require.Eventually(t, func() bool { return rec.len() == 3 }, time.Second, 5*time.Millisecond)

	got := rec.snapshot()
	assert.NotNil(t, got[0].Signal)
	assert.Equal(t, "b", got[1].Chat.Content, "oldest chat was evicted")
	assert.Equal(t, "c", got[2].Chat.Content)
}

func TestQueue_PauseHoldsResumeDrains(t *testing.T) {
	rec := &recorder{}
	q := startQueue(t, 100, rec.handle)

	q.Pause()
	q.Enqueue(chatMsg("held"))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, rec.len())
	assert.Equal(t, 1, q.Len())

	q.Resume()
	require.Eventually(t, func() bool { return rec.len() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, q.Len())
}

func TestQueue_HandlerPanicDoesNotStopDrain(t *testing.T) {
	rec := &recorder{}
	handler := func(msg *domain.InboundMessage) {
		if msg.Chat != nil && msg.Chat.Content == "boom" {
			panic("handler failure")
		}
		rec.handle(msg)
	}
	q := startQueue(t, 100, handler)

	q.Pause()
	q.Enqueue(chatMsg("boom"))
	q.Enqueue(chatMsg("survivor"))
	q.Resume()

	require.Eventually(t, func() bool { return rec.len() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "survivor", rec.snapshot()[0].Chat.Content)
}

func TestQueue_Clear(t *testing.T) {
	rec := &recorder{}
	q := startQueue(t, 100, rec.handle)

	q.Pause()
	q.Enqueue(chatMsg("a"))
	q.Enqueue(chatMsg("b"))
	require.Equal(t, 2, q.Len())

	q.Clear()
	assert.Equal(t, 0, q.Len())

	q.Resume()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, rec.len())
}
