package transport

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ezelpc/AURONTEK-sub000/internal/types"
	"github.com/teris-io/shortid"
)

// Event names carried on the wire. Outbound events are requests sent to
// the transport server, inbound events are fanned out on the bus.
const (
	EventJoinRoom    = "join-room"
	EventSendMessage = "send-message"
	EventTypingStart = "typing-start"
	EventTypingStop  = "typing-stop"
	EventMarkRead    = "mark-read"

	EventRoomJoined      = "room-joined"
	EventNewMessage      = "new-message"
	EventUserTyping      = "user-typing"
	EventUserTypingEnd   = "user-typing-end"
	EventMessageRead     = "message-read-update"
	EventNotificationNew = "notification.new"
)

// Synthetic events published locally by the connection manager, never
// read off the wire.
const (
	EventConnect      = "connect"
	EventDisconnect   = "disconnect"
	EventConnectError = "connect_error"
)

type Envelope struct {
	Id        string          `json:"id,omitempty"`
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

func NewEnvelope(event string, data any) (*Envelope, error) {
	id, err := shortid.Generate()
	if err != nil {
		return nil, fmt.Errorf("generate envelope id: %w", err)
	}

	env := &Envelope{
		Id:        id,
		Event:     event,
		Timestamp: Now(),
	}

	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", event, err)
		}
		env.Data = raw
	}

	return env, nil
}

func ParseEnvelope(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("parse envelope: %w", err)
	}

	if env.Event == "" {
		return nil, fmt.Errorf("envelope missing event name")
	}

	return &env, nil
}

type JoinRoom struct {
	RoomKey string `json:"room_key"`
}

type SendMessage struct {
	RoomKey string            `json:"room_key"`
	Body    string            `json:"body"`
	Kind    types.MessageKind `json:"kind"`
}

type Typing struct {
	RoomKey string `json:"room_key"`
}

type MarkRead struct {
	RoomKey   string `json:"room_key"`
	MessageId string `json:"message_id"`
}

type RoomJoined struct {
	RoomKey string `json:"room_key"`
	Status  string `json:"status,omitempty"`
}

type UserTyping struct {
	RoomKey  string         `json:"room_key"`
	Identity types.Identity `json:"identity"`
}

type UserTypingEnd struct {
	RoomKey string `json:"room_key"`
	UserId  string `json:"user_id"`
}

type MessageRead struct {
	RoomKey   string `json:"room_key"`
	MessageId string `json:"message_id"`
	UserId    string `json:"user_id"`
}

type Disconnect struct {
	Reason string `json:"reason"`
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
