package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/talmuskatel1/ChatServer/internal/models"
	"github.com/talmuskatel1/ChatServer/internal/repository"
)

// uniqueViolation is the Postgres error code for a unique constraint breach.
const uniqueViolation = "23505"

type GroupStore struct {
	pool *pgxpool.Pool
}

func NewGroupStore(pool *pgxpool.Pool) *GroupStore {
	return &GroupStore{pool: pool}
}

func (s *GroupStore) CreateUnique(ctx context.Context, name string, isPrivate bool) (*models.Group, error) {
	query := `
		INSERT INTO groups (name, is_private)
		VALUES ($1, $2)
		RETURNING id, name, COALESCE(group_picture, ''), is_private, created_at`

	var g models.Group
	err := s.pool.QueryRow(ctx, query, name, isPrivate).Scan(
		&g.ID,
		&g.Name,
		&g.GroupPicture,
		&g.IsPrivate,
		&g.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, fmt.Errorf("insert group %q: %w", name, repository.ErrDuplicate)
		}
		return nil, fmt.Errorf("insert group: %w", err)
	}
	return &g, nil
}

func (s *GroupStore) GetByName(ctx context.Context, name string) (*models.Group, error) {
	return s.get(ctx, `
		SELECT id, name, COALESCE(group_picture, ''), is_private, created_at
		FROM groups
		WHERE name = $1`, name)
}

func (s *GroupStore) GetByID(ctx context.Context, groupID uuid.UUID) (*models.Group, error) {
	return s.get(ctx, `
		SELECT id, name, COALESCE(group_picture, ''), is_private, created_at
		FROM groups
		WHERE id = $1`, groupID)
}

func (s *GroupStore) get(ctx context.Context, query string, arg any) (*models.Group, error) {
	var g models.Group
	err := s.pool.QueryRow(ctx, query, arg).Scan(
		&g.ID,
		&g.Name,
		&g.GroupPicture,
		&g.IsPrivate,
		&g.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get group: %w", err)
	}
	return &g, nil
}

func (s *GroupStore) AddMember(ctx context.Context, groupID, userID uuid.UUID) error {
	// ON CONFLICT DO NOTHING keeps AddMember idempotent: adding an
	// existing member is a no-op, not a constraint error.
	query := `
		INSERT INTO group_members (group_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT (group_id, user_id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query, groupID, userID)
	if err != nil {
		return fmt.Errorf("add member: %w", err)
	}
	return nil
}

func (s *GroupStore) RemoveMember(ctx context.Context, groupID, userID uuid.UUID) error {
	query := `
		DELETE FROM group_members
		WHERE group_id = $1 AND user_id = $2`

	_, err := s.pool.Exec(ctx, query, groupID, userID)
	if err != nil {
		return fmt.Errorf("remove member: %w", err)
	}
	return nil
}

func (s *GroupStore) ListMemberIDs(ctx context.Context, groupID uuid.UUID) ([]uuid.UUID, error) {
	query := `
		SELECT user_id
		FROM group_members
		WHERE group_id = $1`

	rows, err := s.pool.Query(ctx, query, groupID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	members := make([]uuid.UUID, 0)
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate members: %w", err)
	}

	return members, nil
}

func (s *GroupStore) DeleteIfEmpty(ctx context.Context, groupID uuid.UUID) (bool, error) {
	// The NOT EXISTS guard makes the emptiness check and the delete one
	// atomic statement, so a concurrent AddMember cannot slip between them.
	query := `
		DELETE FROM groups
		WHERE id = $1
		AND NOT EXISTS (
			SELECT 1 FROM group_members WHERE group_id = $1
		)`

	tag, err := s.pool.Exec(ctx, query, groupID)
	if err != nil {
		return false, fmt.Errorf("delete empty group: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *GroupStore) Delete(ctx context.Context, groupID uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin delete group: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM group_members WHERE group_id = $1`, groupID); err != nil {
		return fmt.Errorf("delete group members: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM groups WHERE id = $1`, groupID); err != nil {
		return fmt.Errorf("delete group: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit delete group: %w", err)
	}
	return nil
}

func (s *GroupStore) ListByIDs(ctx context.Context, groupIDs []uuid.UUID) ([]models.Group, error) {
	query := `
		SELECT id, name, COALESCE(group_picture, ''), is_private, created_at
		FROM groups
		WHERE id = ANY($1)
		ORDER BY created_at`

	rows, err := s.pool.Query(ctx, query, groupIDs)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	defer rows.Close()

	groups := make([]models.Group, 0)
	for rows.Next() {
		var g models.Group
		if err := rows.Scan(
			&g.ID,
			&g.Name,
			&g.GroupPicture,
			&g.IsPrivate,
			&g.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate groups: %w", err)
	}

	return groups, nil
}
