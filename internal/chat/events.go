package chat

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/talmuskatel1/ChatServer/internal/models"
)

// Inbound event names, as sent by clients over the websocket.
const (
	EventJoin        = "join"
	EventSendMessage = "sendMessage"
	EventCreateGroup = "createGroup"
	EventLeaveGroup  = "leaveGroup"
	EventDeleteGroup = "deleteGroup"
)

// Outbound event names.
const (
	EventJoinSuccess    = "joinSuccess"
	EventUpdateMembers  = "updateMembers"
	EventLoadMessages   = "loadMessages"
	EventMessage        = "message"
	EventGroupCreated   = "groupCreated"
	EventNewGroup       = "newGroup"
	EventLeftGroup      = "leftGroup"
	EventMemberLeft     = "memberLeft"
	EventGroupDeleted   = "groupDeleted"
	EventError          = "error"
	EventSessionExpired = "sessionExpired"
)

// Frame is the wire envelope for both directions: a named event with a
// structured payload.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Event is an outbound event before marshaling.
type Event struct {
	Name string
	Data any
}

// Scope says who an effect is delivered to.
type Scope int

const (
	// ScopeCaller: only the connection that triggered the operation.
	ScopeCaller Scope = iota
	// ScopeRoom: every connection currently subscribed to Room.
	ScopeRoom
	// ScopeGlobal: every live connection.
	ScopeGlobal
)

// Effect is one outbound event produced by a coordinator operation. A
// mutation returns its effects in a fixed order and the dispatcher emits
// them in that order.
type Effect struct {
	Scope Scope
	Room  string
	Event Event
}

// Inbound payloads.

type JoinPayload struct {
	UserID string `json:"userId"`
	Room   string `json:"room"`
}

type SendMessagePayload struct {
	UserID  string `json:"userId"`
	Room    string `json:"room"`
	Content string `json:"content"`
}

type CreateGroupPayload struct {
	UserID    string `json:"userId"`
	GroupName string `json:"groupName"`
}

type LeaveGroupPayload struct {
	UserID  string `json:"userId"`
	GroupID string `json:"groupId"`
}

type DeleteGroupPayload struct {
	UserID    string `json:"userId"`
	GroupName string `json:"groupName"`
}

// Outbound payloads.

type JoinSuccessPayload struct {
	Room    string        `json:"room"`
	Members []models.User `json:"members"`
}

type GroupRefPayload struct {
	GroupID   uuid.UUID `json:"groupId"`
	GroupName string    `json:"groupName"`
}

// MessagePayload is the wire shape of a chat message in `message` and
// `loadMessages` events. Keys are camelCase like every other event payload;
// the snake_case REST model never goes over the websocket.
type MessagePayload struct {
	ID        int64     `json:"id"`
	GroupID   uuid.UUID `json:"groupId"`
	SenderID  uuid.UUID `json:"senderId"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

func toMessagePayload(m models.Message) MessagePayload {
	return MessagePayload{
		ID:        m.ID,
		GroupID:   m.GroupID,
		SenderID:  m.SenderID,
		Content:   m.Content,
		CreatedAt: m.CreatedAt,
	}
}

func toMessagePayloads(msgs []models.Message) []MessagePayload {
	payloads := make([]MessagePayload, len(msgs))
	for i, m := range msgs {
		payloads[i] = toMessagePayload(m)
	}
	return payloads
}

type MemberLeftPayload struct {
	UserID    uuid.UUID `json:"userId"`
	GroupID   uuid.UUID `json:"groupId"`
	GroupName string    `json:"groupName"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}
