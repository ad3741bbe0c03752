package mesh

import (
	"fmt"
	"sync"
	"time"

	"meshcall/internal/core/domain"
	"meshcall/pkg/config"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// audioLevelURI is negotiated so remote audio packets carry per-packet level
// for speaking detection.
const audioLevelURI = "urn:ietf:params:rtp-hdrext:ssrc-audio-level"

// ICEServersFromConfig maps configured ICE servers onto pion's form.
func ICEServersFromConfig(cfg *config.Config) []webrtc.ICEServer {
	servers := make([]webrtc.ICEServer, 0, len(cfg.Mesh.ICEServers))
	for _, s := range cfg.Mesh.ICEServers {
		servers = append(servers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	return servers
}

// NewPionFactory builds a ConnFactory backed by pion with the audio-level
// header extension registered for both directions.
func NewPionFactory(iceServers []webrtc.ICEServer, logger *zap.SugaredLogger) (ConnFactory, error) {
	engine := &webrtc.MediaEngine{}
	if err := engine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	ext := webrtc.RTPHeaderExtensionCapability{URI: audioLevelURI}
	if err := engine.RegisterHeaderExtension(ext, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("register audio level extension: %w", err)
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(engine))

	return func(remoteID string) (PeerConn, error) {
		pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
		if err != nil {
			return nil, fmt.Errorf("create peer connection for %s: %w", remoteID, err)
		}
		return &pionConn{pc: pc, remoteID: remoteID, logger: logger}, nil
	}, nil
}

// pionConn adapts *webrtc.PeerConnection to the PeerConn interface and keeps
// a packet-loss figure current by reading RTCP receiver reports off each
// sender.
type pionConn struct {
	pc       *webrtc.PeerConnection
	remoteID string
	logger   *zap.SugaredLogger

	mu      sync.Mutex
	senders []*webrtc.RTPSender
	lossPct float64
	closed  bool
}

func (p *pionConn) AddTrack(track webrtc.TrackLocal) error {
	sender, err := p.pc.AddTrack(track)
	if err != nil {
		return fmt.Errorf("add track for %s: %w", p.remoteID, err)
	}
	p.mu.Lock()
	p.senders = append(p.senders, sender)
	p.mu.Unlock()

	go p.readSenderReports(sender)
	return nil
}

// readSenderReports drains RTCP from a sender and records the remote's
// reported fraction lost. The loop ends when the sender is closed.
func (p *pionConn) readSenderReports(sender *webrtc.RTPSender) {
	for {
		packets, _, err := sender.ReadRTCP()
		if err != nil {
			return
		}
		for _, packet := range packets {
			report, ok := packet.(*rtcp.ReceiverReport)
			if !ok {
				continue
			}
			for _, reception := range report.Reports {
				p.mu.Lock()
				p.lossPct = float64(reception.FractionLost) / 256.0 * 100.0
				p.mu.Unlock()
			}
		}
	}
}

func (p *pionConn) ReplaceVideoTrack(track webrtc.TrackLocal) error {
	p.mu.Lock()
	senders := append([]*webrtc.RTPSender(nil), p.senders...)
	p.mu.Unlock()

	for _, sender := range senders {
		current := sender.Track()
		if current == nil || current.Kind() != webrtc.RTPCodecTypeVideo {
			continue
		}
		if err := sender.ReplaceTrack(track); err != nil {
			return fmt.Errorf("replace video track for %s: %w", p.remoteID, err)
		}
		return nil
	}
	return fmt.Errorf("no video sender for %s", p.remoteID)
}

func (p *pionConn) CreateOffer(iceRestart bool) (domain.SessionDescription, error) {
	var opts *webrtc.OfferOptions
	if iceRestart {
		opts = &webrtc.OfferOptions{ICERestart: true}
	}
	desc, err := p.pc.CreateOffer(opts)
	if err != nil {
		return domain.SessionDescription{}, fmt.Errorf("create offer for %s: %w", p.remoteID, err)
	}
	return domain.SessionDescription{Type: desc.Type.String(), SDP: desc.SDP}, nil
}

func (p *pionConn) CreateAnswer() (domain.SessionDescription, error) {
	desc, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return domain.SessionDescription{}, fmt.Errorf("create answer for %s: %w", p.remoteID, err)
	}
	return domain.SessionDescription{Type: desc.Type.String(), SDP: desc.SDP}, nil
}

func (p *pionConn) SetLocalDescription(desc domain.SessionDescription) error {
	if err := p.pc.SetLocalDescription(toPion(desc)); err != nil {
		return fmt.Errorf("set local description for %s: %w", p.remoteID, err)
	}
	return nil
}

func (p *pionConn) SetRemoteDescription(desc domain.SessionDescription) error {
	if err := p.pc.SetRemoteDescription(toPion(desc)); err != nil {
		return fmt.Errorf("set remote description for %s: %w", p.remoteID, err)
	}
	return nil
}

func toPion(desc domain.SessionDescription) webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.NewSDPType(desc.Type), SDP: desc.SDP}
}

func (p *pionConn) HasRemoteDescription() bool {
	return p.pc.RemoteDescription() != nil
}

func (p *pionConn) SignalingState() webrtc.SignalingState {
	return p.pc.SignalingState()
}

func (p *pionConn) AddICECandidate(candidate domain.ICECandidate) error {
	init := webrtc.ICECandidateInit{
		Candidate:     candidate.Candidate,
		SDPMid:        candidate.SDPMid,
		SDPMLineIndex: candidate.SDPMLineIndex,
	}
	if err := p.pc.AddICECandidate(init); err != nil {
		return fmt.Errorf("add ice candidate for %s: %w", p.remoteID, err)
	}
	return nil
}

func (p *pionConn) OnICECandidate(fn func(candidate domain.ICECandidate)) {
	p.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		init := c.ToJSON()
		fn(domain.ICECandidate{
			Candidate:     init.Candidate,
			SDPMid:        init.SDPMid,
			SDPMLineIndex: init.SDPMLineIndex,
		})
	})
}

func (p *pionConn) OnConnectionStateChange(fn func(state webrtc.PeerConnectionState)) {
	p.pc.OnConnectionStateChange(fn)
}

func (p *pionConn) OnTrack(fn func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)) {
	p.pc.OnTrack(fn)
}

// Stats combines the nominated candidate pair's round-trip time with the
// RTCP-reported loss fraction.
func (p *pionConn) Stats() domain.PeerStats {
	var rtt time.Duration
	for _, s := range p.pc.GetStats() {
		pair, ok := s.(webrtc.ICECandidatePairStats)
		if !ok || pair.State != webrtc.StatsICECandidatePairStateSucceeded {
			continue
		}
		rtt = time.Duration(pair.CurrentRoundTripTime * float64(time.Second))
	}

	p.mu.Lock()
	loss := p.lossPct
	p.mu.Unlock()

	return domain.PeerStats{
		RemoteID:      p.remoteID,
		RTT:           rtt,
		PacketLossPct: loss,
		SampledAt:     time.Now(),
	}
}

func (p *pionConn) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	if err := p.pc.Close(); err != nil {
		return fmt.Errorf("close peer connection for %s: %w", p.remoteID, err)
	}
	return nil
}
