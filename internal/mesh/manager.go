package mesh

import (
	"context"
	"fmt"
	"sync"
	"time"

	"meshcall/internal/core/domain"
	"meshcall/internal/core/ports"
	"meshcall/internal/media"
	"meshcall/pkg/config"
	"meshcall/pkg/tracing"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// Config carries the mesh choreography knobs for one room membership.
type Config struct {
	RoomID   string
	UserID   string
	UserName string

	OfferStagger      time.Duration
	MediaReadyRetries int
	MediaReadyDelay   time.Duration
	ICERestartLimit   int
	ICERestartDelay   time.Duration
	QualityInterval   time.Duration
	SpeakingInterval  time.Duration
	SpeakingThreshold float64
}

// ConfigFromApp maps the loaded application config onto a mesh config.
func ConfigFromApp(cfg *config.Config, roomID, userID, userName string) Config {
	return Config{
		RoomID:            roomID,
		UserID:            userID,
		UserName:          userName,
		OfferStagger:      cfg.Mesh.OfferStagger,
		MediaReadyRetries: cfg.Mesh.MediaReadyRetries,
		MediaReadyDelay:   cfg.Mesh.MediaReadyDelay,
		ICERestartLimit:   cfg.Mesh.ICERestartLimit,
		ICERestartDelay:   cfg.Mesh.ICERestartDelay,
		QualityInterval:   cfg.Mesh.QualityInterval,
		SpeakingInterval:  cfg.Mesh.SpeakingInterval,
		SpeakingThreshold: cfg.Mesh.SpeakingThreshold,
	}
}

// peerSlot bundles every per-peer resource in one place so creation and
// teardown touch a single entry instead of parallel maps.
type peerSlot struct {
	remoteID          string
	userName          string
	conn              PeerConn
	state             domain.PeerState
	pendingCandidates []domain.ICECandidate
	restartAttempts   int
	restartTimer      *time.Timer
	stats             domain.PeerStats
	quality           domain.QualityLevel
	meter             *LevelMeter
	errDetail         string
}

// Manager owns the full mesh of peer connections for one room membership
// and drives offer/answer/ICE exchange over the signaling transport.
type Manager struct {
	cfg       Config
	transport ports.SignalTransport
	factory   ConnFactory
	source    MediaSource
	audio     *media.ContextManager
	logger    *zap.SugaredLogger

	mu            sync.Mutex
	slots         map[string]*peerSlot
	pendingOffers map[string]struct{}
	local         *LocalMedia
	screen        webrtc.TrackLocal
	sharing       bool
	speaking      map[string]bool
	localMeter    *LevelMeter
	overall       domain.QualityLevel
	mediaErr      error
	joined        bool

	onPeerState func(remoteID string, state domain.PeerState, detail string)
	onQuality   func(overall domain.QualityLevel, peers []domain.PeerStats)
	onSpeaking  func(speaking []string)
	onTrack     func(remoteID string, track *webrtc.TrackRemote)

	unregister func()
	ctx        context.Context
	cancel     context.CancelFunc
}

func NewManager(cfg Config, transport ports.SignalTransport, factory ConnFactory, source MediaSource, audio *media.ContextManager, logger *zap.SugaredLogger) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:           cfg,
		transport:     transport,
		factory:       factory,
		source:        source,
		audio:         audio,
		logger:        logger,
		slots:         make(map[string]*peerSlot),
		pendingOffers: make(map[string]struct{}),
		speaking:      make(map[string]bool),
		localMeter:    NewLevelMeter(0),
		ctx:           ctx,
		cancel:        cancel,
	}
}

// OnPeerState registers an observer for per-peer state transitions with a
// human-readable detail string. Set before Join.
func (m *Manager) OnPeerState(fn func(remoteID string, state domain.PeerState, detail string)) {
	m.onPeerState = fn
}

// OnQuality registers an observer for periodic quality samples.
func (m *Manager) OnQuality(fn func(overall domain.QualityLevel, peers []domain.PeerStats)) {
	m.onQuality = fn
}

// OnSpeaking registers an observer invoked when the speaking set changes.
func (m *Manager) OnSpeaking(fn func(speaking []string)) {
	m.onSpeaking = fn
}

// OnTrack registers an observer for incoming remote tracks.
func (m *Manager) OnTrack(fn func(remoteID string, track *webrtc.TrackRemote)) {
	m.onTrack = fn
}

// Join acquires local media, connects the signaling transport, announces
// presence and starts the sampling loops. A terminal media failure is
// reported once and aborts the join; it is never retried automatically.
func (m *Manager) Join(ctx context.Context) error {
	local, err := m.source.Acquire(ctx)
	if err != nil {
		if domain.IsTerminalMediaError(err) {
			m.mu.Lock()
			m.mediaErr = err
			m.mu.Unlock()
			m.logger.Errorw("local media unavailable, user action required",
				"error", err, "user_id", m.cfg.UserID)
		}
		return fmt.Errorf("acquire local media: %w", err)
	}

	m.mu.Lock()
	m.local = local
	m.joined = true
	m.mu.Unlock()

	m.audio.Acquire(m.audioOwner("local"))

	m.unregister = m.transport.OnMessage(m.handleMessage)
	if err := m.transport.Connect(ctx); err != nil {
		return fmt.Errorf("connect signaling transport: %w", err)
	}
	if err := m.announce(ctx); err != nil {
		m.logger.Warnw("presence announcement failed, will rely on buffered replay", "error", err)
	}

	go m.qualityLoop()
	go m.speakingLoop()

	m.logger.Infow("joined room", "room_id", m.cfg.RoomID, "user_id", m.cfg.UserID)
	return nil
}

// announce broadcasts user-joined and asks for the current participant set.
func (m *Manager) announce(ctx context.Context) error {
	spanCtx, span := tracing.TraceSignaling(ctx, "announce", m.cfg.UserID, m.cfg.RoomID)
	defer span.End()

	for _, typ := range []string{domain.SignalUserJoined, domain.SignalRequestParticipants} {
		env := domain.SignalEnvelope{
			Action:   domain.ActionWebRTCSignal,
			Type:     typ,
			RoomID:   m.cfg.RoomID,
			UserID:   m.cfg.UserID,
			UserName: m.cfg.UserName,
		}
		if err := m.transport.Send(spanCtx, env); err != nil {
			tracing.RecordError(spanCtx, err)
			return err
		}
	}
	return nil
}

func (m *Manager) audioOwner(kind string) string {
	return "mesh:" + kind + ":" + m.cfg.UserID
}

// MediaError returns the terminal local media failure, if any.
func (m *Manager) MediaError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mediaErr
}

// handleMessage is the transport fan-out entry point.
func (m *Manager) handleMessage(msg *domain.InboundMessage) {
	switch {
	case msg.Signal != nil:
		m.handleSignal(msg.Signal)
	case msg.Type == domain.TypeRoomEvent && msg.Data != nil:
		m.handleRoomEvent(msg.Data)
	}
}

func (m *Manager) handleSignal(env *domain.SignalEnvelope) {
	if env.UserID == m.cfg.UserID {
		return
	}
	if env.TargetUserID != "" && env.TargetUserID != m.cfg.UserID {
		return
	}

	switch env.Type {
	case domain.SignalOffer:
		m.handleOffer(env)
	case domain.SignalAnswer:
		m.handleAnswer(env)
	case domain.SignalICECandidate:
		m.handleCandidate(env)
	case domain.SignalUserJoined:
		go m.offerWhenMediaReady(env.UserID, env.UserName)
	}
}

func (m *Manager) handleRoomEvent(event *domain.RoomEvent) {
	switch event.EventType {
	case domain.EventParticipantsList, domain.EventExistingParticipants:
		go m.offerToAll(event.ExistingParticipants)

	case domain.EventUserJoined:
		if event.UserID == m.cfg.UserID {
			go m.offerToAll(event.ExistingParticipants)
			return
		}
		go m.offerWhenMediaReady(event.UserID, event.UserName)

	case domain.EventUserLeft:
		m.teardownPeer(event.UserID)
	}
}

// offerToAll sends one offer per existing participant with a stagger between
// offers to avoid a negotiation burst.
func (m *Manager) offerToAll(participants []string) {
	first := true
	for _, remoteID := range participants {
		if remoteID == m.cfg.UserID {
			continue
		}
		if !first {
			select {
			case <-m.ctx.Done():
				return
			case <-time.After(m.cfg.OfferStagger):
			}
		}
		first = false
		m.offerTo(remoteID, "")
	}
}

// offerWhenMediaReady polls until local tracks exist, then offers to the
// newcomer. Gives up after the configured number of polls.
func (m *Manager) offerWhenMediaReady(remoteID, userName string) {
	for i := 0; i < m.cfg.MediaReadyRetries; i++ {
		m.mu.Lock()
		ready := m.local.Ready()
		m.mu.Unlock()
		if ready {
			m.offerTo(remoteID, userName)
			return
		}
		select {
		case <-m.ctx.Done():
			return
		case <-time.After(m.cfg.MediaReadyDelay):
		}
	}
	m.logger.Warnw("local media never became ready, skipping offer", "remote_id", remoteID)
}

// offerTo creates and sends one offer. The pending-offers guard makes this
// idempotent while an offer to the same peer is outstanding.
func (m *Manager) offerTo(remoteID, userName string) {
	m.mu.Lock()
	if _, outstanding := m.pendingOffers[remoteID]; outstanding {
		m.mu.Unlock()
		return
	}
	m.pendingOffers[remoteID] = struct{}{}
	m.mu.Unlock()

	spanCtx, span := tracing.TraceNegotiation(m.ctx, "offer", remoteID)
	defer span.End()

	slot, err := m.ensureSlot(remoteID, userName)
	if err != nil {
		m.clearPendingOffer(remoteID)
		tracing.RecordError(spanCtx, err)
		m.logger.Errorw("peer connection setup failed", "remote_id", remoteID, "error", err)
		return
	}

	offer, err := slot.conn.CreateOffer(false)
	if err == nil {
		err = slot.conn.SetLocalDescription(offer)
	}
	if err != nil {
		m.clearPendingOffer(remoteID)
		tracing.RecordError(spanCtx, err)
		m.logger.Errorw("offer creation failed", "remote_id", remoteID, "error", err)
		return
	}

	m.setPeerState(slot, domain.PeerStateConnecting, "negotiating")
	m.sendSignal(spanCtx, domain.SignalOffer, remoteID, &domain.SignalPayload{
		Type:  domain.SignalOffer,
		Offer: &offer,
	})
}

func (m *Manager) clearPendingOffer(remoteID string) {
	m.mu.Lock()
	delete(m.pendingOffers, remoteID)
	m.mu.Unlock()
}

// ensureSlot returns the existing slot for remoteID or creates one with all
// currently-held local tracks attached. Creation is idempotent: a racing
// create keeps the first slot and discards the duplicate connection.
func (m *Manager) ensureSlot(remoteID, userName string) (*peerSlot, error) {
	m.mu.Lock()
	if slot, ok := m.slots[remoteID]; ok {
		if userName != "" {
			slot.userName = userName
		}
		m.mu.Unlock()
		return slot, nil
	}
	audioTrack, videoTrack := m.outgoingTracksLocked()
	m.mu.Unlock()

	conn, err := m.factory(remoteID)
	if err != nil {
		return nil, fmt.Errorf("create connection: %w", err)
	}

	if audioTrack != nil {
		if err := conn.AddTrack(audioTrack); err != nil {
			_ = conn.Close()
			return nil, err
		}
	}
	if videoTrack != nil {
		if err := conn.AddTrack(videoTrack); err != nil {
			_ = conn.Close()
			return nil, err
		}
	}

	slot := &peerSlot{
		remoteID: remoteID,
		userName: userName,
		conn:     conn,
		state:    domain.PeerStateNew,
		quality:  domain.QualityUnknown,
		meter:    NewLevelMeter(0),
	}

	conn.OnICECandidate(func(candidate domain.ICECandidate) {
		m.sendSignal(m.ctx, domain.SignalICECandidate, remoteID, &domain.SignalPayload{
			Type:      domain.SignalICECandidate,
			Candidate: &candidate,
		})
	})
	conn.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		m.handleConnState(remoteID, state)
	})
	conn.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		m.handleRemoteTrack(remoteID, track)
	})

	m.mu.Lock()
	if existing, ok := m.slots[remoteID]; ok {
		m.mu.Unlock()
		_ = conn.Close()
		return existing, nil
	}
	m.slots[remoteID] = slot
	m.mu.Unlock()

	m.logger.Infow("peer connection created", "remote_id", remoteID)
	return slot, nil
}

// outgoingTracksLocked picks the current outbound pair; the video slot is
// the screen capture while sharing.
func (m *Manager) outgoingTracksLocked() (audio, video webrtc.TrackLocal) {
	if m.local == nil {
		return nil, nil
	}
	video = m.local.Video
	if m.sharing && m.screen != nil {
		video = m.screen
	}
	return m.local.Audio, video
}

func (m *Manager) handleOffer(env *domain.SignalEnvelope) {
	if env.Signal == nil || env.Signal.Offer == nil {
		return
	}
	spanCtx, span := tracing.TraceNegotiation(m.ctx, "answer", env.UserID)
	defer span.End()

	slot, err := m.ensureSlot(env.UserID, env.UserName)
	if err != nil {
		tracing.RecordError(spanCtx, err)
		m.logger.Errorw("peer connection setup failed", "remote_id", env.UserID, "error", err)
		return
	}

	m.setPeerState(slot, domain.PeerStateConnecting, "negotiating")

	if err := slot.conn.SetRemoteDescription(*env.Signal.Offer); err != nil {
		tracing.RecordError(spanCtx, err)
		m.logger.Errorw("applying remote offer failed", "remote_id", env.UserID, "error", err)
		return
	}
	m.flushPendingCandidates(slot)

	answer, err := slot.conn.CreateAnswer()
	if err == nil {
		err = slot.conn.SetLocalDescription(answer)
	}
	if err != nil {
		tracing.RecordError(spanCtx, err)
		m.logger.Errorw("answer creation failed", "remote_id", env.UserID, "error", err)
		return
	}

	m.sendSignal(spanCtx, domain.SignalAnswer, env.UserID, &domain.SignalPayload{
		Type:   domain.SignalAnswer,
		Answer: &answer,
	})
}

func (m *Manager) handleAnswer(env *domain.SignalEnvelope) {
	if env.Signal == nil || env.Signal.Answer == nil {
		return
	}
	m.mu.Lock()
	slot, ok := m.slots[env.UserID]
	m.mu.Unlock()
	if !ok {
		// Stale answer for a peer we no longer track.
		m.logger.Debugw("answer for unknown peer ignored", "remote_id", env.UserID)
		return
	}

	// A duplicate or stale answer must not be applied twice.
	if slot.conn.SignalingState() != webrtc.SignalingStateHaveLocalOffer {
		m.logger.Debugw("answer in unexpected signaling state ignored",
			"remote_id", env.UserID, "state", slot.conn.SignalingState().String())
		return
	}

	if err := slot.conn.SetRemoteDescription(*env.Signal.Answer); err != nil {
		m.logger.Errorw("applying remote answer failed", "remote_id", env.UserID, "error", err)
		return
	}
	m.flushPendingCandidates(slot)
	m.clearPendingOffer(env.UserID)
}

func (m *Manager) handleCandidate(env *domain.SignalEnvelope) {
	if env.Signal == nil || env.Signal.Candidate == nil {
		return
	}
	m.mu.Lock()
	slot, ok := m.slots[env.UserID]
	if !ok {
		m.mu.Unlock()
		m.logger.Debugw("candidate for unknown peer ignored", "remote_id", env.UserID)
		return
	}
	// Candidates must never be applied before the remote description.
	if !slot.conn.HasRemoteDescription() {
		slot.pendingCandidates = append(slot.pendingCandidates, *env.Signal.Candidate)
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	if err := slot.conn.AddICECandidate(*env.Signal.Candidate); err != nil {
		m.logger.Warnw("ice candidate rejected", "remote_id", env.UserID, "error", err)
	}
}

// flushPendingCandidates applies candidates held before the remote
// description existed, in arrival order.
func (m *Manager) flushPendingCandidates(slot *peerSlot) {
	m.mu.Lock()
	held := slot.pendingCandidates
	slot.pendingCandidates = nil
	m.mu.Unlock()

	for _, candidate := range held {
		if err := slot.conn.AddICECandidate(candidate); err != nil {
			m.logger.Warnw("held ice candidate rejected", "remote_id", slot.remoteID, "error", err)
		}
	}
}

func (m *Manager) handleConnState(remoteID string, state webrtc.PeerConnectionState) {
	m.mu.Lock()
	slot, ok := m.slots[remoteID]
	m.mu.Unlock()
	if !ok {
		return
	}

	switch state {
	case webrtc.PeerConnectionStateConnected:
		m.mu.Lock()
		slot.restartAttempts = 0
		delete(m.pendingOffers, remoteID)
		m.mu.Unlock()
		m.setPeerState(slot, domain.PeerStateConnected, "")

	case webrtc.PeerConnectionStateDisconnected:
		// Transient ICE drop. The state machine either recovers to
		// connected or degrades to failed; no action yet.
		m.setPeerState(slot, domain.PeerStateDisconnected, "temporarily disconnected")

	case webrtc.PeerConnectionStateFailed:
		m.scheduleICERestart(slot)

	case webrtc.PeerConnectionStateClosed:
		m.setPeerState(slot, domain.PeerStateClosed, "")
	}
}

// scheduleICERestart retries a failed connection with an ICE-restart offer
// after a short delay, up to the restart cap. Past the cap the peer is
// marked permanently failed; other peers are unaffected.
func (m *Manager) scheduleICERestart(slot *peerSlot) {
	m.mu.Lock()
	if slot.restartAttempts >= m.cfg.ICERestartLimit {
		m.mu.Unlock()
		m.setPeerState(slot, domain.PeerStateFailed, "connection failed")
		m.logger.Errorw("peer permanently failed after restart attempts",
			"remote_id", slot.remoteID, "attempts", slot.restartAttempts)
		return
	}
	slot.restartAttempts++
	attempt := slot.restartAttempts
	delete(m.pendingOffers, slot.remoteID)
	slot.restartTimer = time.AfterFunc(m.cfg.ICERestartDelay, func() {
		m.iceRestart(slot.remoteID)
	})
	m.mu.Unlock()

	m.setPeerState(slot, domain.PeerStateConnecting,
		fmt.Sprintf("reconnecting (attempt %d/%d)", attempt, m.cfg.ICERestartLimit))
}

func (m *Manager) iceRestart(remoteID string) {
	m.mu.Lock()
	slot, ok := m.slots[remoteID]
	if ok {
		// The restart offer holds the glare guard like any other offer,
		// so a concurrent participants_list cannot race a second one out.
		m.pendingOffers[remoteID] = struct{}{}
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	spanCtx, span := tracing.TraceNegotiation(m.ctx, "ice-restart", remoteID)
	defer span.End()

	offer, err := slot.conn.CreateOffer(true)
	if err == nil {
		err = slot.conn.SetLocalDescription(offer)
	}
	if err != nil {
		tracing.RecordError(spanCtx, err)
		m.logger.Errorw("ice restart offer failed", "remote_id", remoteID, "error", err)
		m.scheduleICERestart(slot)
		return
	}

	m.sendSignal(spanCtx, domain.SignalOffer, remoteID, &domain.SignalPayload{
		Type:  domain.SignalOffer,
		Offer: &offer,
	})
}

func (m *Manager) handleRemoteTrack(remoteID string, track *webrtc.TrackRemote) {
	m.logger.Infow("remote track received",
		"remote_id", remoteID, "kind", track.Kind().String())

	if m.onTrack != nil {
		m.onTrack(remoteID, track)
	}
	if track.Kind() != webrtc.RTPCodecTypeAudio {
		return
	}

	m.audio.Acquire(m.audioOwner("meter-" + remoteID))
	go m.meterLoop(remoteID, track)
}

// meterLoop feeds the peer's level meter from its audio packets until the
// track ends.
func (m *Manager) meterLoop(remoteID string, track *webrtc.TrackRemote) {
	m.mu.Lock()
	slot, ok := m.slots[remoteID]
	m.mu.Unlock()
	if !ok {
		return
	}
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		slot.meter.ObservePacket(pkt)
	}
}

// StartScreenShare substitutes the screen-capture track for the outgoing
// camera track on every peer without renegotiation.
func (m *Manager) StartScreenShare(ctx context.Context) error {
	track, err := m.source.AcquireScreen(ctx, func() {
		// Native "stop sharing" control ends the capture from the source side.
		if err := m.StopScreenShare(); err != nil {
			m.logger.Warnw("screen share auto-stop failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("acquire screen capture: %w", err)
	}

	m.mu.Lock()
	if m.sharing {
		m.mu.Unlock()
		return nil
	}
	m.screen = track
	m.sharing = true
	slots := m.slotsSnapshotLocked()
	m.mu.Unlock()

	for _, slot := range slots {
		if err := slot.conn.ReplaceVideoTrack(track); err != nil {
			m.logger.Warnw("screen track substitution failed", "remote_id", slot.remoteID, "error", err)
		}
	}
	m.logger.Infow("screen share started", "peers", len(slots))
	return nil
}

// StopScreenShare substitutes the camera track back on every peer.
func (m *Manager) StopScreenShare() error {
	m.mu.Lock()
	if !m.sharing {
		m.mu.Unlock()
		return nil
	}
	m.sharing = false
	m.screen = nil
	camera := webrtc.TrackLocal(nil)
	if m.local != nil {
		camera = m.local.Video
	}
	slots := m.slotsSnapshotLocked()
	m.mu.Unlock()

	if camera == nil {
		return domain.ErrMediaDeviceNotFound
	}
	for _, slot := range slots {
		if err := slot.conn.ReplaceVideoTrack(camera); err != nil {
			m.logger.Warnw("camera track restore failed", "remote_id", slot.remoteID, "error", err)
		}
	}
	m.logger.Infow("screen share stopped", "peers", len(slots))
	return nil
}

// Sharing reports whether screen share is active.
func (m *Manager) Sharing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sharing
}

func (m *Manager) slotsSnapshotLocked() []*peerSlot {
	slots := make([]*peerSlot, 0, len(m.slots))
	for _, slot := range m.slots {
		slots = append(slots, slot)
	}
	return slots
}

// teardownPeer closes the connection and purges every per-peer resource:
// slot, pending offer, pending candidates, meter, stats and speaking entry.
func (m *Manager) teardownPeer(remoteID string) {
	m.mu.Lock()
	slot, ok := m.slots[remoteID]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.slots, remoteID)
	delete(m.pendingOffers, remoteID)
	delete(m.speaking, remoteID)
	timer := slot.restartTimer
	m.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	if err := slot.conn.Close(); err != nil {
		m.logger.Warnw("peer connection close failed", "remote_id", remoteID, "error", err)
	}
	m.audio.Release(m.audioOwner("meter-" + remoteID))

	slot.state = domain.PeerStateClosed
	if m.onPeerState != nil {
		m.onPeerState(remoteID, domain.PeerStateClosed, "")
	}
	m.logger.Infow("peer torn down", "remote_id", remoteID)
}

func (m *Manager) setPeerState(slot *peerSlot, state domain.PeerState, detail string) {
	m.mu.Lock()
	slot.state = state
	slot.errDetail = detail
	m.mu.Unlock()

	if m.onPeerState != nil {
		m.onPeerState(slot.remoteID, state, detail)
	}
}

func (m *Manager) sendSignal(ctx context.Context, typ, target string, payload *domain.SignalPayload) {
	env := domain.SignalEnvelope{
		Action:       domain.ActionWebRTCSignal,
		Type:         typ,
		RoomID:       m.cfg.RoomID,
		UserID:       m.cfg.UserID,
		UserName:     m.cfg.UserName,
		TargetUserID: target,
		Signal:       payload,
	}
	if err := m.transport.Send(ctx, env); err != nil {
		m.logger.Warnw("signal send deferred", "type", typ, "target", target, "error", err)
	}
}

// PeerState returns the state and detail string for one peer.
func (m *Manager) PeerState(remoteID string) (domain.PeerState, string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	slot, ok := m.slots[remoteID]
	if !ok {
		return "", "", false
	}
	return slot.state, slot.errDetail, true
}

// Peers returns the latest quality sample per tracked peer.
func (m *Manager) Peers() []domain.PeerStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	peers := make([]domain.PeerStats, 0, len(m.slots))
	for _, slot := range m.slots {
		peers = append(peers, slot.stats)
	}
	return peers
}

// Quality returns the overall quality: the worst level among connected
// peers, unknown when none are connected.
func (m *Manager) Quality() domain.QualityLevel {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.overall
}

// Leave tears down every peer, stops sampling and releases local media.
// The signaling transport is owned by the caller and stays open.
func (m *Manager) Leave() {
	m.cancel()
	if m.unregister != nil {
		m.unregister()
		m.unregister = nil
	}

	m.mu.Lock()
	remoteIDs := make([]string, 0, len(m.slots))
	for remoteID := range m.slots {
		remoteIDs = append(remoteIDs, remoteID)
	}
	m.mu.Unlock()

	for _, remoteID := range remoteIDs {
		m.teardownPeer(remoteID)
	}

	m.source.Release()
	m.audio.Release(m.audioOwner("local"))

	m.mu.Lock()
	m.joined = false
	m.local = nil
	m.mu.Unlock()

	m.logger.Infow("left room", "room_id", m.cfg.RoomID, "user_id", m.cfg.UserID)
}
