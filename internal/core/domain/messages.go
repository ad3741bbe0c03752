package domain

import (
	"encoding/json"
	"fmt"
)

// Wire actions (client -> server).
const (
	ActionWebRTCSignal = "webrtc-signal"
	ActionSendMessage  = "sendMessage"
	ActionPing         = "ping"
)

// webrtc-signal types.
const (
	SignalOffer               = "offer"
	SignalAnswer              = "answer"
	SignalICECandidate        = "ice-candidate"
	SignalUserJoined          = "user-joined"
	SignalRequestParticipants = "request-participants"
)

// sendMessage types.
const (
	MessageTypeChat          = "message"
	MessageTypeTranscription = "transcription"
)

// Server -> client message types.
const (
	TypePong      = "pong"
	TypeError     = "error"
	TypeRoomEvent = "room_event"
)

// Room event types carried inside a room_event payload.
const (
	EventParticipantsList     = "participants_list"
	EventUserJoined           = "user_joined"
	EventUserLeft             = "user_left"
	EventExistingParticipants = "existing_participants" // legacy alias of participants_list
)

// SessionDescription is an SDP blob on the wire.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// ICECandidate is a trickled ICE candidate on the wire.
type ICECandidate struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

// SignalPayload is the signal body of a webrtc-signal envelope.
type SignalPayload struct {
	Type      string              `json:"type"`
	Offer     *SessionDescription `json:"offer,omitempty"`
	Answer    *SessionDescription `json:"answer,omitempty"`
	Candidate *ICECandidate       `json:"candidate,omitempty"`
}

// SignalEnvelope is the webrtc-signal wire envelope.
type SignalEnvelope struct {
	Action       string         `json:"action"`
	Type         string         `json:"type"`
	RoomID       string         `json:"roomId"`
	UserID       string         `json:"userId"`
	UserName     string         `json:"userName,omitempty"`
	TargetUserID string         `json:"targetUserId,omitempty"`
	Signal       *SignalPayload `json:"signal,omitempty"`
}

// ChatEnvelope is the sendMessage wire envelope, carrying chat text or
// transcription segments.
type ChatEnvelope struct {
	Action          string `json:"action"`
	RoomID          string `json:"roomId"`
	UserID          string `json:"userId"`
	UserName        string `json:"userName"`
	Type            string `json:"type,omitempty"`
	Content         string `json:"content,omitempty"`
	TranscribedText string `json:"transcribedText,omitempty"`
	IsPartial       bool   `json:"isPartial,omitempty"`
	Timestamp       int64  `json:"timestamp"`
}

// PingEnvelope is the client heartbeat.
type PingEnvelope struct {
	Action string `json:"action"`
	UserID string `json:"userId"`
	RoomID string `json:"roomId"`
}

// RoomEvent is the membership payload inside a room_event message.
type RoomEvent struct {
	EventType            string   `json:"eventType"`
	UserID               string   `json:"userId,omitempty"`
	UserName             string   `json:"userName,omitempty"`
	ExistingParticipants []string `json:"existingParticipants,omitempty"`
}

// InboundMessage is the decoded form of any server -> client message. Exactly
// one of the optional fields is populated depending on Type/Action.
type InboundMessage struct {
	// Action/Type discriminate the union. Control messages (pong, error)
	// carry Type; relayed client envelopes carry Action.
	Action  string          `json:"action,omitempty"`
	Type    string          `json:"type,omitempty"`
	Message string          `json:"message,omitempty"` // error detail
	Data    *RoomEvent      `json:"data,omitempty"`
	Raw     json.RawMessage `json:"-"`

	// Populated when Action == webrtc-signal / sendMessage.
	Signal *SignalEnvelope `json:"-"`
	Chat   *ChatEnvelope   `json:"-"`
}

// DecodeInbound validates and decodes a raw wire message into the tagged
// union. Malformed envelopes produce an error so the transport can
// log-and-drop instead of propagating untyped data inward.
func DecodeInbound(raw []byte) (*InboundMessage, error) {
	var msg InboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("malformed envelope: %w", err)
	}
	msg.Raw = append(json.RawMessage(nil), raw...)

	switch {
	case msg.Type == TypePong, msg.Type == TypeError:
		return &msg, nil

	case msg.Type == TypeRoomEvent:
		if msg.Data == nil || msg.Data.EventType == "" {
			return nil, fmt.Errorf("room_event without eventType")
		}
		return &msg, nil

	case msg.Action == ActionWebRTCSignal:
		var env SignalEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return nil, fmt.Errorf("malformed webrtc-signal envelope: %w", err)
		}
		if env.Type == "" {
			return nil, fmt.Errorf("webrtc-signal without type")
		}
		msg.Signal = &env
		return &msg, nil

	case msg.Action == ActionSendMessage:
		var env ChatEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return nil, fmt.Errorf("malformed sendMessage envelope: %w", err)
		}
		msg.Chat = &env
		return &msg, nil
	}

	// Unknown but well-formed messages pass through for forward compatibility.
	return &msg, nil
}

// IsForbiddenError reports whether an error message is a Forbidden-class
// server rejection, which forces an immediate close and reconnect.
func (m *InboundMessage) IsForbiddenError() bool {
	if m.Type != TypeError {
		return false
	}
	return m.Message == "Forbidden" || m.Message == "forbidden"
}
