package transport

import "meshcall/internal/core/domain"

// Message priorities. Higher values drain first.
const (
	PrioritySignaling            = 100
	PriorityRoomEvent            = 80
	PriorityChat                 = 60
	PriorityTranscriptionFinal   = 50
	PriorityTranscriptionPartial = 40
	PriorityHeartbeat            = 10
)

// ClassifyPriority derives a queue priority from the shape of an inbound
// message. Pure function; unknown shapes rank with chat.
func ClassifyPriority(msg *domain.InboundMessage) int {
	switch {
	case msg.Signal != nil:
		return PrioritySignaling
	case msg.Type == domain.TypeRoomEvent:
		return PriorityRoomEvent
	case msg.Chat != nil:
		if msg.Chat.Type == domain.MessageTypeTranscription {
			if msg.Chat.IsPartial {
				return PriorityTranscriptionPartial
			}
			return PriorityTranscriptionFinal
		}
		return PriorityChat
	case msg.Type == domain.TypePong:
		return PriorityHeartbeat
	default:
		return PriorityChat
	}
}
