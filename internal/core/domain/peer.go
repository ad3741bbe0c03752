package domain

import "time"

// PeerState mirrors the underlying ICE/connection state machine of a single
// remote participant's connection.
type PeerState string

const (
	PeerStateNew          PeerState = "new"
	PeerStateConnecting   PeerState = "connecting"
	PeerStateConnected    PeerState = "connected"
	PeerStateDisconnected PeerState = "disconnected"
	PeerStateFailed       PeerState = "failed"
	PeerStateClosed       PeerState = "closed"
)

// QualityLevel is the ordinal connection quality classification.
type QualityLevel int

const (
	QualityUnknown QualityLevel = iota
	QualityPoor
	QualityFair
	QualityGood
	QualityExcellent
)

func (q QualityLevel) String() string {
	switch q {
	case QualityExcellent:
		return "excellent"
	case QualityGood:
		return "good"
	case QualityFair:
		return "fair"
	case QualityPoor:
		return "poor"
	default:
		return "unknown"
	}
}

// ClassifyQuality maps round-trip time and packet loss onto a quality level.
func ClassifyQuality(rtt time.Duration, packetLossPct float64) QualityLevel {
	switch {
	case rtt <= 0 && packetLossPct <= 0:
		return QualityUnknown
	case rtt < 100*time.Millisecond && packetLossPct < 1:
		return QualityExcellent
	case rtt < 250*time.Millisecond && packetLossPct < 3:
		return QualityGood
	case rtt < 500*time.Millisecond && packetLossPct < 8:
		return QualityFair
	default:
		return QualityPoor
	}
}

// PeerStats is one connection-quality sample for a remote peer.
type PeerStats struct {
	RemoteID      string
	RTT           time.Duration
	PacketLossPct float64
	Quality       QualityLevel
	SampledAt     time.Time
}

// Participant is a room member as announced by the signaling server.
type Participant struct {
	UserID   string
	UserName string
	JoinedAt time.Time
}
