package mesh

import (
	"meshcall/internal/core/domain"

	"github.com/pion/webrtc/v3"
)

// PeerConn is the slice of a WebRTC peer connection the mesh manager needs.
// The production implementation wraps pion; tests substitute a fake.
type PeerConn interface {
	// AddTrack attaches an outgoing local track before negotiation.
	AddTrack(track webrtc.TrackLocal) error

	// ReplaceVideoTrack substitutes the outgoing video track on the video
	// sender without renegotiation. Used for screen-share toggling.
	ReplaceVideoTrack(track webrtc.TrackLocal) error

	CreateOffer(iceRestart bool) (domain.SessionDescription, error)
	CreateAnswer() (domain.SessionDescription, error)
	SetLocalDescription(desc domain.SessionDescription) error
	SetRemoteDescription(desc domain.SessionDescription) error

	// HasRemoteDescription gates ICE candidate application.
	HasRemoteDescription() bool
	SignalingState() webrtc.SignalingState

	AddICECandidate(candidate domain.ICECandidate) error

	OnICECandidate(fn func(candidate domain.ICECandidate))
	OnConnectionStateChange(fn func(state webrtc.PeerConnectionState))
	OnTrack(fn func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver))

	// Stats returns the latest transport sample for quality classification.
	Stats() domain.PeerStats

	Close() error
}

// ConnFactory creates a PeerConn for one remote participant.
type ConnFactory func(remoteID string) (PeerConn, error)
