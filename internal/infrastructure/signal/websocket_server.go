package signal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"meshcall/internal/core/domain"
	"meshcall/internal/core/ports"
	"meshcall/pkg/logger"
	"meshcall/pkg/utils"
	"meshcall/pkg/validation"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// errForbidden's text is load-bearing: clients force a reconnect when they
// see it.
var errForbidden = errors.New("Forbidden")

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Should be configured properly for production
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Metrics is the subset of collector methods the relay reports to.
type Metrics interface {
	ClientConnected(roomID string)
	ClientDisconnected(roomID string)
	MessageRouted(kind string)
}

type nopMetrics struct{}

func (nopMetrics) ClientConnected(string)    {}
func (nopMetrics) ClientDisconnected(string) {}
func (nopMetrics) MessageRouted(string)      {}

// client is one live socket in one room.
type client struct {
	conn     *websocket.Conn
	roomID   string
	userID   string
	userName string
	limiter  *rate.Limiter

	writeMu sync.Mutex
}

func (c *client) send(writeTimeout time.Duration, payload any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(payload)
}

// WebSocketServer is the signaling relay: it fans webrtc-signal envelopes to
// their target peer, broadcasts chat and membership events per room, and
// answers heartbeats.
type WebSocketServer struct {
	presence ports.PresenceRepository
	logger   *zap.SugaredLogger
	metrics  Metrics

	pingInterval time.Duration
	pongTimeout  time.Duration
	writeTimeout time.Duration

	// Per-connection inbound rate limit; disabled when messagesPerSec <= 0.
	messagesPerSec float64
	burst          int

	mu    sync.RWMutex
	rooms map[string]map[string]*client
}

func NewWebSocketServer(presence ports.PresenceRepository, logger *zap.SugaredLogger, metrics Metrics) *WebSocketServer {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &WebSocketServer{
		presence:     presence,
		logger:       logger,
		metrics:      metrics,
		pingInterval: 30 * time.Second,
		pongTimeout:  60 * time.Second,
		writeTimeout: 10 * time.Second,
		rooms:        make(map[string]map[string]*client),
	}
}

// SetTimeouts overrides the heartbeat deadlines.
func (s *WebSocketServer) SetTimeouts(pingInterval, pongTimeout, writeTimeout time.Duration) {
	s.pingInterval = pingInterval
	s.pongTimeout = pongTimeout
	s.writeTimeout = writeTimeout
}

// SetRateLimit enables per-connection inbound rate limiting.
func (s *WebSocketServer) SetRateLimit(messagesPerSec float64, burst int) {
	s.messagesPerSec = messagesPerSec
	s.burst = burst
}

func (s *WebSocketServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	roomID := r.URL.Query().Get("roomId")
	if err := validation.ValidateUserID(userID); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := validation.ValidateRoomID(roomID); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	c := &client{conn: conn, roomID: roomID, userID: userID}
	if s.messagesPerSec > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(s.messagesPerSec), s.burst)
	}

	ctx := r.Context()
	log := logger.FromContext(ctx, s.logger)

	s.register(c)
	s.metrics.ClientConnected(roomID)
	log.Infow("client connected", "user_id", userID, "room_id", roomID)
	if err := s.presence.Join(ctx, roomID, domain.Participant{UserID: userID, JoinedAt: time.Now()}); err != nil {
		s.logger.Warnw("presence join failed", "user_id", userID, "error", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(s.pongTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(s.pongTimeout))
		return nil
	})

	pingTicker := time.NewTicker(s.pingInterval)
	defer pingTicker.Stop()

	messageChan := make(chan []byte, 16)
	errorChan := make(chan error, 1)

	go func() {
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				errorChan <- err
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(s.pongTimeout))
			messageChan <- raw
		}
	}()

loop:
	for {
		select {
		case raw := <-messageChan:
			if c.limiter != nil && !c.limiter.Allow() {
				s.logger.Debugw("rate limit exceeded, dropping message", "user_id", userID)
				continue
			}
			if err := s.handleMessage(ctx, c, raw); err != nil {
				s.logger.Infow("message handling failed", "user_id", userID, "error", err)
				s.sendError(c, err.Error())
			}

		case <-pingTicker.C:
			c.writeMu.Lock()
			_ = conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				break loop
			}

		case err := <-errorChan:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Infow("client read error", "user_id", userID, "error", err)
			}
			break loop
		}
	}

	s.unregister(c)
	s.metrics.ClientDisconnected(roomID)
	if err := s.presence.Leave(context.Background(), roomID, userID); err != nil {
		s.logger.Warnw("presence leave failed", "user_id", userID, "error", err)
	}
	s.broadcastRoomEvent(c, &domain.RoomEvent{EventType: domain.EventUserLeft, UserID: userID, UserName: c.userName})
	log.Infow("client disconnected", "user_id", userID, "room_id", roomID)
}

func (s *WebSocketServer) register(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[c.roomID]
	if !ok {
		room = make(map[string]*client)
		s.rooms[c.roomID] = room
	}
	if old, reconnect := room[c.userID]; reconnect {
		// A reconnecting user supersedes their previous socket.
		_ = old.conn.Close()
		s.logger.Infow("superseding old connection", "user_id", c.userID, "room_id", c.roomID)
	}
	room[c.userID] = c
}

func (s *WebSocketServer) unregister(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[c.roomID]
	if !ok {
		return
	}
	// Only remove if this socket is still the registered one; a reconnect
	// may have replaced it already.
	if current, ok := room[c.userID]; ok && current == c {
		delete(room, c.userID)
	}
	if len(room) == 0 {
		delete(s.rooms, c.roomID)
	}
}

func (s *WebSocketServer) handleMessage(ctx context.Context, c *client, raw []byte) error {
	var head struct {
		Action string `json:"action"`
		UserID string `json:"userId"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return err
	}
	// A socket may only speak for the user it authenticated as.
	if head.UserID != "" && head.UserID != c.userID {
		return errForbidden
	}

	switch head.Action {
	case domain.ActionPing:
		s.metrics.MessageRouted("ping")
		return c.send(s.writeTimeout, map[string]string{"type": domain.TypePong})

	case domain.ActionWebRTCSignal:
		var env domain.SignalEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return err
		}
		return s.handleSignal(ctx, c, &env, raw)

	case domain.ActionSendMessage:
		s.metrics.MessageRouted("chat")
		s.broadcastRaw(c, raw)
		return nil

	default:
		s.logger.Debugw("unknown action ignored", "action", head.Action, "user_id", c.userID)
		return nil
	}
}

func (s *WebSocketServer) handleSignal(ctx context.Context, c *client, env *domain.SignalEnvelope, raw []byte) error {
	if name := utils.SanitizeString(env.UserName); name != "" {
		c.userName = name
	}
	s.metrics.MessageRouted(env.Type)

	switch env.Type {
	case domain.SignalUserJoined:
		s.broadcastRoomEvent(c, &domain.RoomEvent{
			EventType:            domain.EventUserJoined,
			UserID:               c.userID,
			UserName:             c.userName,
			ExistingParticipants: s.participantIDs(ctx, c.roomID, c.userID),
		})
		// The announcement itself also reaches the other peers so their
		// mesh managers can offer directly.
		s.broadcastRaw(c, raw)
		return nil

	case domain.SignalRequestParticipants:
		return c.send(s.writeTimeout, map[string]any{
			"type": domain.TypeRoomEvent,
			"data": domain.RoomEvent{
				EventType:            domain.EventParticipantsList,
				UserID:               c.userID,
				ExistingParticipants: s.participantIDs(ctx, c.roomID, c.userID),
			},
		})

	case domain.SignalOffer, domain.SignalAnswer, domain.SignalICECandidate:
		if env.TargetUserID != "" {
			return s.sendToUser(c.roomID, env.TargetUserID, raw)
		}
		s.broadcastRaw(c, raw)
		return nil

	default:
		s.logger.Debugw("unknown signal type ignored", "type", env.Type, "user_id", c.userID)
		return nil
	}
}

// participantIDs lists current room members excluding one user. The presence
// repository is authoritative; the in-memory connection table is the
// fallback when it fails.
func (s *WebSocketServer) participantIDs(ctx context.Context, roomID, excludeUserID string) []string {
	participants, err := s.presence.List(ctx, roomID)
	if err != nil {
		s.logger.Warnw("presence list failed, falling back to live connections",
			"room_id", roomID, "error", err)
		s.mu.RLock()
		defer s.mu.RUnlock()
		ids := make([]string, 0, len(s.rooms[roomID]))
		for userID := range s.rooms[roomID] {
			if userID != excludeUserID {
				ids = append(ids, userID)
			}
		}
		return ids
	}

	ids := make([]string, 0, len(participants))
	for _, p := range participants {
		if p.UserID != excludeUserID {
			ids = append(ids, p.UserID)
		}
	}
	return ids
}

// sendToUser routes a raw frame to one user in a room.
func (s *WebSocketServer) sendToUser(roomID, userID string, raw []byte) error {
	s.mu.RLock()
	target, ok := s.rooms[roomID][userID]
	s.mu.RUnlock()
	if !ok {
		s.logger.Debugw("target not connected, dropping signal", "room_id", roomID, "target", userID)
		return nil
	}

	target.writeMu.Lock()
	defer target.writeMu.Unlock()
	_ = target.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	return target.conn.WriteMessage(websocket.TextMessage, raw)
}

// broadcastRaw forwards a raw frame to every other client in the room.
func (s *WebSocketServer) broadcastRaw(from *client, raw []byte) {
	for _, peer := range s.roomPeers(from) {
		peer.writeMu.Lock()
		_ = peer.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
		err := peer.conn.WriteMessage(websocket.TextMessage, raw)
		peer.writeMu.Unlock()
		if err != nil {
			s.logger.Debugw("broadcast write failed", "to", peer.userID, "error", err)
		}
	}
}

func (s *WebSocketServer) broadcastRoomEvent(from *client, event *domain.RoomEvent) {
	payload := map[string]any{"type": domain.TypeRoomEvent, "data": event}
	for _, peer := range s.roomPeers(from) {
		if err := peer.send(s.writeTimeout, payload); err != nil {
			s.logger.Debugw("room event write failed", "to", peer.userID, "error", err)
		}
	}
}

func (s *WebSocketServer) roomPeers(from *client) []*client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	peers := make([]*client, 0, len(s.rooms[from.roomID]))
	for userID, peer := range s.rooms[from.roomID] {
		if userID != from.userID {
			peers = append(peers, peer)
		}
	}
	return peers
}

func (s *WebSocketServer) sendError(c *client, message string) {
	if err := c.send(s.writeTimeout, map[string]string{"type": domain.TypeError, "message": message}); err != nil {
		s.logger.Debugw("error reply failed", "to", c.userID, "error", err)
	}
}

// ConnectedUsers returns the users currently connected in a room.
func (s *WebSocketServer) ConnectedUsers(roomID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.rooms[roomID]))
	for userID := range s.rooms[roomID] {
		ids = append(ids, userID)
	}
	return ids
}

// HealthCheck reports liveness plus the live connection count.
func (s *WebSocketServer) HealthCheck(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	var connections int
	for _, room := range s.rooms {
		connections += len(room)
	}
	rooms := len(s.rooms)
	s.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":      "healthy",
		"timestamp":   time.Now().Unix(),
		"rooms":       rooms,
		"connections": connections,
	})
}
