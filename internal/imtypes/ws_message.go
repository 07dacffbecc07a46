package imtypes

import (
	"time"

	"campus-im/internal/models"
)

// EventType is the type of a server → client push event.
type EventType string

const (
	EventMessageCreated      EventType = "message.created"
	EventMessageUpdated      EventType = "message.updated" // reactions or edits
	EventMessageDeleted      EventType = "message.deleted"
	EventConversationCleared EventType = "conversation.cleared"
	EventConversationRead    EventType = "conversation.read"
	EventTyping              EventType = "typing"
	EventTypingStop          EventType = "typing.stop"
	EventRoomJoined          EventType = "room.joined"
	EventRoomLeft            EventType = "room.left"
	EventError               EventType = "error"
)

// Event is the frame pushed to websocket clients and carried on the Kafka fan-out topic.
type Event struct {
	Type           EventType       `json:"type"`
	Room           string          `json:"room,omitempty"`
	ConversationID uint            `json:"conversationId,omitempty"`
	Message        *models.Message `json:"message,omitempty"`
	MessageID      uint            `json:"messageId,omitempty"`
	UserID         uint            `json:"userId,omitempty"`
	UserName       string          `json:"userName,omitempty"`
	Code           string          `json:"code,omitempty"`
	Error          string          `json:"error,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
}

// ClientAction is the verb of a client → server frame.
type ClientAction string

const (
	ActionJoin       ClientAction = "join"
	ActionLeave      ClientAction = "leave"
	ActionTyping     ClientAction = "typing"
	ActionStopTyping ClientAction = "stop_typing"
)

// ClientFrame is a frame sent by a websocket client. Messages are sent over REST, not here.
type ClientFrame struct {
	Action         ClientAction `json:"action"`
	ConversationID uint         `json:"conversationId"`
}
