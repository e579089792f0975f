package chat

import (
	"context"
	"errors"
)

// Failure taxonomy for room operations. The gateway translates these into
// caller-scoped error events; they are never broadcast to a room.
var (
	// ErrNotFound: the group (or user) does not resolve.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists: a group with that name is already active.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidArgument: missing sender, empty content, malformed ids.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrPartialFailure: one half of a paired group/user update succeeded
	// and the retry of the other half did not.
	ErrPartialFailure = errors.New("partial failure")

	// ErrTimeout: a store operation exceeded the configured bound. The
	// room serializer slot is released; only the caller sees the failure.
	ErrTimeout = errors.New("timeout")

	// ErrUnauthorized: event from a connection whose authenticated user
	// does not match the claimed user id. Rejected before any coordinator
	// call.
	ErrUnauthorized = errors.New("unauthorized")
)

// asTimeout maps context deadline expiry onto ErrTimeout, leaving other
// errors untouched.
func asTimeout(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	return err
}
