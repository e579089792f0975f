package db

import (
	"context"
	"fmt"
)

// schema is applied at startup. Every statement is idempotent so restarting
// the server against an existing database is safe.
var schema = []string{
	`CREATE EXTENSION IF NOT EXISTS "uuid-ossp"`,

	`CREATE TABLE IF NOT EXISTS users (
		id              uuid PRIMARY KEY DEFAULT uuid_generate_v4(),
		username        text NOT NULL UNIQUE,
		password_hash   text NOT NULL,
		profile_picture text,
		created_at      timestamptz NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS groups (
		id            uuid PRIMARY KEY DEFAULT uuid_generate_v4(),
		name          text NOT NULL UNIQUE,
		group_picture text,
		is_private    boolean NOT NULL DEFAULT false,
		created_at    timestamptz NOT NULL DEFAULT now()
	)`,

	// group_members is the group-side member set; user_groups is the
	// user-side denormalized group-id set. The room coordinator keeps the
	// two symmetric (see chat.Coordinator).
	`CREATE TABLE IF NOT EXISTS group_members (
		group_id uuid NOT NULL,
		user_id  uuid NOT NULL,
		PRIMARY KEY (group_id, user_id)
	)`,

	`CREATE TABLE IF NOT EXISTS user_groups (
		user_id  uuid NOT NULL,
		group_id uuid NOT NULL,
		PRIMARY KEY (user_id, group_id)
	)`,

	// Messages keep their rows after group deletion; reads always resolve
	// the group first, so orphaned rows are unreachable garbage reclaimed
	// out of band.
	`CREATE TABLE IF NOT EXISTS messages (
		id         bigserial PRIMARY KEY,
		group_id   uuid NOT NULL,
		sender_id  uuid NOT NULL,
		content    text NOT NULL,
		created_at timestamptz NOT NULL DEFAULT now()
	)`,

	`CREATE INDEX IF NOT EXISTS idx_messages_group_id ON messages (group_id, id)`,
}

func (db *DB) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := db.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	db.logger.Info("database schema up to date")
	return nil
}
