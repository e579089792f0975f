package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/talmuskatel1/ChatServer/internal/models"
)

// ErrDuplicate is returned by create operations when the unique business key
// (group name, username) is already taken. Callers map it into their own
// error taxonomy.
var ErrDuplicate = errors.New("duplicate key")

// Lookup methods return nil, nil when the record does not exist; an error
// means the query itself failed.

// GroupRepository is the durable record of groups and their member sets.
// AddMember and RemoveMember are idempotent: adding an existing member or
// removing an absent one succeeds without effect. The room coordinator is
// the only writer of the member set.
type GroupRepository interface {
	// CreateUnique inserts a new group. Returns ErrDuplicate if the name
	// is already taken.
	CreateUnique(ctx context.Context, name string, isPrivate bool) (*models.Group, error)

	GetByName(ctx context.Context, name string) (*models.Group, error)
	GetByID(ctx context.Context, groupID uuid.UUID) (*models.Group, error)

	AddMember(ctx context.Context, groupID, userID uuid.UUID) error
	RemoveMember(ctx context.Context, groupID, userID uuid.UUID) error
	ListMemberIDs(ctx context.Context, groupID uuid.UUID) ([]uuid.UUID, error)

	// DeleteIfEmpty removes the group record only when its member set is
	// empty. Reports whether the group was deleted.
	DeleteIfEmpty(ctx context.Context, groupID uuid.UUID) (bool, error)

	// Delete removes the group record and its member set unconditionally.
	Delete(ctx context.Context, groupID uuid.UUID) error

	// ListByIDs returns the groups for the given ids, skipping ids that no
	// longer resolve.
	ListByIDs(ctx context.Context, groupIDs []uuid.UUID) ([]models.Group, error)
}

// MessageRepository is the append-only per-group message log.
type MessageRepository interface {
	// Append persists a message and returns it with ID and CreatedAt set.
	Append(ctx context.Context, groupID, senderID uuid.UUID, content string) (*models.Message, error)

	// ListByGroup returns the full log for a group in append order
	// (oldest first).
	ListByGroup(ctx context.Context, groupID uuid.UUID) ([]models.Message, error)
}

// UserRepository holds accounts and the user-side denormalized set of group
// ids. AddGroupRef and RemoveGroupRef are idempotent, mirroring
// GroupRepository.AddMember/RemoveMember.
type UserRepository interface {
	// Create inserts a new user. Returns ErrDuplicate if the username is
	// already taken.
	Create(ctx context.Context, username, passwordHash string) (*models.User, error)

	GetByID(ctx context.Context, userID uuid.UUID) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	ListByIDs(ctx context.Context, userIDs []uuid.UUID) ([]models.User, error)

	AddGroupRef(ctx context.Context, userID, groupID uuid.UUID) error
	RemoveGroupRef(ctx context.Context, userID, groupID uuid.UUID) error

	// ListGroupIDs returns the raw group-id set for a user without
	// inflating the group records.
	ListGroupIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)

	Delete(ctx context.Context, userID uuid.UUID) error
}
