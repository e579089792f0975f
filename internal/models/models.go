package models

import (
	"time"

	"github.com/google/uuid"
)

// User is a registered account. PasswordHash is opaque to everything except
// the auth handlers. The set of groups a user belongs to lives in the
// user_groups table and is kept symmetric with each group's member set by the
// room coordinator.
type User struct {
	ID             uuid.UUID `json:"id"`
	Username       string    `json:"username"`
	PasswordHash   string    `json:"-"`
	ProfilePicture string    `json:"profile_picture,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Group is a named chat room. Name is the primary business key and is
// globally unique; ID is the generated storage key. A group always has at
// least one member while it exists — a group whose member set reaches zero
// is deleted, never persisted empty.
type Group struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	GroupPicture string    `json:"group_picture,omitempty"`
	IsPrivate    bool      `json:"is_private"`
	CreatedAt    time.Time `json:"created_at"`
}

// GroupMember is one row of a group's member set.
type GroupMember struct {
	GroupID uuid.UUID `json:"group_id"`
	UserID  uuid.UUID `json:"user_id"`
}

// Message is a single chat message, immutable once created. IDs come from a
// bigserial sequence, so id order equals append order equals chronological
// order within a group.
type Message struct {
	ID        int64     `json:"id"`
	GroupID   uuid.UUID `json:"group_id"`
	SenderID  uuid.UUID `json:"sender_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}
