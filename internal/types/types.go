package types

import (
	"time"
)

type Identity struct {
	Id          string `json:"id"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role,omitempty"`
}

type MessageKind string

const (
	KindText  MessageKind = "text"
	KindOther MessageKind = "other"
)

type Message struct {
	Id        string      `json:"id"`
	RoomKey   string      `json:"room_key"`
	Sender    Identity    `json:"sender"`
	Body      string      `json:"body"`
	Kind      MessageKind `json:"kind"`
	CreatedAt time.Time   `json:"created_at"`
}

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

type Notification struct {
	Id        string    `json:"id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Severity  Severity  `json:"severity"`
	Read      bool      `json:"read"`
	Link      string    `json:"link,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}
