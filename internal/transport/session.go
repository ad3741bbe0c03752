package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"meshcall/internal/core/domain"
	"meshcall/pkg/config"
	"meshcall/pkg/reconnect"
	"meshcall/pkg/tracing"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Application close codes. 1000/1001 from the server mean an intentional
// close and suppress reconnection; everything else schedules one.
const (
	closeCodeZombie    = 4002
	closeCodeForbidden = 4003
)

// pendingLimit bounds messages held for handlers registered after connect.
const pendingLimit = 100

// SessionConfig carries everything a signaling session needs to dial and
// keep a room connection alive.
type SessionConfig struct {
	Endpoint string
	RoomID   string
	UserID   string
	UserName string

	HeartbeatInterval time.Duration
	PongTimeout       time.Duration
	MaxMissedPongs    int
	WriteTimeout      time.Duration

	QueueMaxSize  int
	QueuePerSec   float64
	BufferMaxSize int
	BufferTTL     time.Duration
	BufferRetries int
	Reconnect     reconnect.Config
}

// SessionConfigFromConfig maps the loaded application config onto a session
// config for one room membership.
func SessionConfigFromConfig(cfg *config.Config, roomID, userID, userName string) SessionConfig {
	return SessionConfig{
		Endpoint:          cfg.Client.Endpoint,
		RoomID:            roomID,
		UserID:            userID,
		UserName:          userName,
		HeartbeatInterval: cfg.Client.Heartbeat.Interval,
		PongTimeout:       cfg.Client.Heartbeat.PongTimeout,
		MaxMissedPongs:    cfg.Client.Heartbeat.MaxMissedPongs,
		WriteTimeout:      cfg.Signal.WriteTimeout,
		QueueMaxSize:      cfg.Client.Queue.MaxSize,
		QueuePerSec:       cfg.Client.Queue.MessagesPerSec,
		BufferMaxSize:     cfg.Client.OfflineBuffer.MaxSize,
		BufferTTL:         cfg.Client.OfflineBuffer.TTL,
		BufferRetries:     cfg.Client.OfflineBuffer.MaxRetries,
		Reconnect: reconnect.Config{
			MaxAttempts:  cfg.Client.Reconnect.MaxAttempts,
			BaseDelay:    cfg.Client.Reconnect.BaseDelay,
			MaxDelay:     cfg.Client.Reconnect.MaxDelay,
			JitterFactor: cfg.Client.Reconnect.JitterFactor,
		},
	}
}

// Session is a resilient signaling connection to the relay. It heartbeats,
// detects zombie sockets, buffers outbound messages while offline, and
// reconnects with exponential backoff after abnormal closes. Inbound
// messages flow through the priority queue before reaching handlers.
type Session struct {
	cfg     SessionConfig
	logger  *zap.SugaredLogger
	metrics Metrics

	queue  *MessageQueue
	buffer *OfflineBuffer
	reconn *reconnect.Reconnector

	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.Mutex
	conn          *websocket.Conn
	connecting    bool
	closed        bool
	lastPong      time.Time
	missedPongs   int
	stopHeartbeat chan struct{}

	writeMu sync.Mutex

	handlersMu    sync.Mutex
	handlers      map[int]func(msg *domain.InboundMessage)
	nextHandlerID int
	pending       []*domain.InboundMessage
}

// NewSession creates a session. Nothing dials until Connect.
func NewSession(cfg SessionConfig, logger *zap.SugaredLogger, metrics Metrics) *Session {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	ctx, cancel := context.WithCancel(context.Background())

	s := &Session{
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
		ctx:      ctx,
		cancel:   cancel,
		handlers: make(map[int]func(msg *domain.InboundMessage)),
	}
	s.queue = NewMessageQueue(cfg.QueueMaxSize, cfg.QueuePerSec, s.deliver, logger, metrics)
	s.buffer = NewOfflineBuffer(cfg.BufferMaxSize, cfg.BufferTTL, cfg.BufferRetries, logger, metrics)
	s.reconn = reconnect.New(cfg.Reconnect, s.dial)
	s.queue.Start(ctx)
	return s
}

// OnReconnectStatus registers an observer for reconnection progress.
func (s *Session) OnReconnectStatus(fn func(status reconnect.Status, attempt int)) {
	s.reconn.OnStatus(fn)
}

// OnMaxReconnectAttempts registers a callback for exhausted reconnection.
func (s *Session) OnMaxReconnectAttempts(fn func()) {
	s.reconn.OnMaxAttemptsReached(fn)
}

// Queue exposes the inbound queue for pause/resume during renegotiation.
func (s *Session) Queue() *MessageQueue { return s.queue }

// Buffer exposes the offline buffer, mainly for observability.
func (s *Session) Buffer() *OfflineBuffer { return s.buffer }

func (s *Session) wsURL() (string, error) {
	u, err := url.Parse(s.cfg.Endpoint)
	if err != nil {
		return "", fmt.Errorf("parse signaling endpoint: %w", err)
	}
	q := u.Query()
	q.Set("userId", s.cfg.UserID)
	q.Set("roomId", s.cfg.RoomID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Connect dials the signaling endpoint. Concurrent calls collapse into one
// attempt; calling while connected is a no-op.
func (s *Session) Connect(ctx context.Context) error {
	return s.dial(ctx)
}

func (s *Session) dial(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.ErrNotConnected
	}
	if s.connecting || s.conn != nil {
		s.mu.Unlock()
		return nil
	}
	s.connecting = true
	s.mu.Unlock()

	spanCtx, span := tracing.TraceSignaling(ctx, "connect", s.cfg.UserID, s.cfg.RoomID)
	defer span.End()

	target, err := s.wsURL()
	if err != nil {
		s.setNotConnecting()
		tracing.RecordError(spanCtx, err)
		return err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
	if err != nil {
		s.setNotConnecting()
		tracing.RecordError(spanCtx, err)
		return fmt.Errorf("dial signaling endpoint: %w", err)
	}

	stop := make(chan struct{})
	s.mu.Lock()
	s.conn = conn
	s.connecting = false
	s.lastPong = time.Now()
	s.missedPongs = 0
	s.stopHeartbeat = stop
	s.mu.Unlock()

	go s.readLoop(conn)
	go s.heartbeatLoop(conn, stop)

	s.logger.Infow("signaling session established",
		"endpoint", s.cfg.Endpoint, "room_id", s.cfg.RoomID, "user_id", s.cfg.UserID)

	s.buffer.Flush(func(payload []byte) error {
		return s.write(conn, payload)
	})
	return nil
}

func (s *Session) setNotConnecting() {
	s.mu.Lock()
	s.connecting = false
	s.mu.Unlock()
}

// IsConnected reports whether the socket is currently open.
func (s *Session) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Send marshals and writes payload. While disconnected, or when the write
// fails, the payload is buffered for the post-reconnect flush and the error
// is reported to the caller.
func (s *Session) Send(ctx context.Context, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal outbound message: %w", err)
	}

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		s.buffer.Add(raw)
		return domain.ErrNotConnected
	}
	if err := s.write(conn, raw); err != nil {
		s.buffer.Add(raw)
		return fmt.Errorf("write signaling message: %w", err)
	}
	return nil
}

// write serializes frame writes; gorilla connections support one writer.
func (s *Session) write(conn *websocket.Conn, payload []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.cfg.WriteTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	}
	return conn.WriteMessage(websocket.TextMessage, payload)
}

// OnMessage registers a handler for inbound application messages. Messages
// queued before the first registration are delivered immediately.
func (s *Session) OnMessage(fn func(msg *domain.InboundMessage)) (unregister func()) {
	s.handlersMu.Lock()
	id := s.nextHandlerID
	s.nextHandlerID++
	s.handlers[id] = fn
	backlog := s.pending
	s.pending = nil
	s.handlersMu.Unlock()

	for _, msg := range backlog {
		fn(msg)
	}

	return func() {
		s.handlersMu.Lock()
		delete(s.handlers, id)
		s.handlersMu.Unlock()
	}
}

// deliver is the queue's drain handler: fan out to registered handlers, or
// park the message until the first handler appears.
func (s *Session) deliver(msg *domain.InboundMessage) {
	s.handlersMu.Lock()
	if len(s.handlers) == 0 {
		if len(s.pending) < pendingLimit {
			s.pending = append(s.pending, msg)
		} else {
			s.metrics.MessageDropped("no_handler")
		}
		s.handlersMu.Unlock()
		return
	}
	fns := make([]func(msg *domain.InboundMessage), 0, len(s.handlers))
	for _, fn := range s.handlers {
		fns = append(fns, fn)
	}
	s.handlersMu.Unlock()

	for _, fn := range fns {
		fn(msg)
	}
}

func (s *Session) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			s.handleClose(conn, err)
			return
		}

		msg, derr := domain.DecodeInbound(raw)
		if derr != nil {
			s.logger.Warnw("dropping malformed signaling message", "error", derr)
			s.metrics.MessageDropped("malformed")
			continue
		}

		switch {
		case msg.Type == domain.TypePong:
			s.mu.Lock()
			s.lastPong = time.Now()
			s.missedPongs = 0
			s.mu.Unlock()

		case msg.Type == domain.TypeError && msg.IsForbiddenError():
			s.logger.Warnw("signaling server rejected session, forcing reconnect",
				"user_id", s.cfg.UserID, "room_id", s.cfg.RoomID)
			// The next read observes the dead socket and runs the
			// shared close path, which schedules the reconnect.
			s.forceClose(conn, closeCodeForbidden, "forbidden")

		case msg.Type == domain.TypeError:
			s.logger.Warnw("signaling server error", "message", msg.Message)

		default:
			s.queue.Enqueue(msg)
		}
	}
}

// heartbeatLoop pings every HeartbeatInterval and counts one miss per cycle
// whose ping got no pong within PongTimeout of being sent. Pongs only arrive
// in reply to pings, so the miss window must be anchored to the ping, not to
// wall-clock silence between pings.
func (s *Session) heartbeatLoop(conn *websocket.Conn, stop chan struct{}) {
	ping := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ping.Stop()

	for {
		select {
		case <-stop:
			return

		case <-ping.C:
			raw, err := json.Marshal(domain.PingEnvelope{
				Action: domain.ActionPing,
				UserID: s.cfg.UserID,
				RoomID: s.cfg.RoomID,
			})
			if err != nil {
				continue
			}
			sentAt := time.Now()
			if err := s.write(conn, raw); err != nil {
				s.logger.Debugw("heartbeat write failed", "error", err)
			}

			select {
			case <-stop:
				return
			case <-time.After(s.cfg.PongTimeout):
			}

			s.mu.Lock()
			if s.lastPong.Before(sentAt) {
				s.missedPongs++
			}
			missed := s.missedPongs
			s.mu.Unlock()

			if missed >= s.cfg.MaxMissedPongs {
				s.logger.Warnw("zombie signaling socket detected",
					"missed_pongs", missed, "user_id", s.cfg.UserID)
				s.forceClose(conn, closeCodeZombie, "no pong")
				return
			}
		}
	}
}

// forceClose tears the socket down with an application close code. The read
// loop observes the closed connection and runs the shared close path, so
// zombie and network closes take the same reconnect route.
func (s *Session) forceClose(conn *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(time.Second)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), deadline)
	_ = conn.Close()
}

// handleClose is the single exit path for a dead socket. It classifies the
// close and schedules a reconnect unless it was clean or Close was called.
func (s *Session) handleClose(conn *websocket.Conn, err error) {
	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
	}
	if s.stopHeartbeat != nil {
		close(s.stopHeartbeat)
		s.stopHeartbeat = nil
	}
	closed := s.closed
	s.mu.Unlock()

	if closed {
		return
	}

	code := websocket.CloseAbnormalClosure
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		code = ce.Code
	}
	if code == websocket.CloseNormalClosure || code == websocket.CloseGoingAway {
		s.logger.Infow("signaling socket closed cleanly", "code", code)
		return
	}

	s.metrics.ReconnectScheduled()
	s.logger.Warnw("signaling socket lost, scheduling reconnect",
		"code", code, "error", err, "room_id", s.cfg.RoomID)

	go func() {
		terr := s.reconn.Trigger(s.ctx, fmt.Sprintf("close code %d", code))
		if errors.Is(terr, reconnect.ErrMaxAttemptsReached) {
			s.logger.Errorw("signaling reconnect attempts exhausted",
				"room_id", s.cfg.RoomID, "user_id", s.cfg.UserID)
		}
	}()
}

// Close tears the session down permanently. Pending reconnects abort, the
// queue drain stops, and the server sees a normal closure.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conn := s.conn
	s.conn = nil
	if s.stopHeartbeat != nil {
		close(s.stopHeartbeat)
		s.stopHeartbeat = nil
	}
	s.mu.Unlock()

	s.reconn.Abort()
	s.cancel()

	if conn != nil {
		deadline := time.Now().Add(time.Second)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), deadline)
		if err := conn.Close(); err != nil {
			return fmt.Errorf("close signaling socket: %w", err)
		}
	}
	s.logger.Infow("signaling session closed", "room_id", s.cfg.RoomID, "user_id", s.cfg.UserID)
	return nil
}
