package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/talmuskatel1/ChatServer/internal/cache"
	"github.com/talmuskatel1/ChatServer/internal/models"
	"github.com/talmuskatel1/ChatServer/internal/repository"
	"go.uber.org/zap"
)

// Coordinator is the single authority for every mutation of a group's
// membership and message log. Each group name gets one serializer goroutine,
// created lazily and retired when the group is deleted; all mutating calls
// for that name funnel through it, so operations on one group are totally
// ordered while different groups proceed in parallel.
//
// Paired writes (group member set + user group-id set) are treated as one
// logical unit: if the second write fails it is retried once, then surfaced
// as ErrPartialFailure with a consistency alert in the log.
type Coordinator struct {
	groups   repository.GroupRepository
	users    repository.UserRepository
	messages repository.MessageRepository
	history  *cache.HistoryCache
	logger   *zap.Logger

	opTimeout time.Duration

	mu    sync.Mutex
	rooms map[string]*room
}

// room is one group's serializer. Operations are closures executed in order
// by the loop goroutine. quit is closed when the group is deleted; senders
// holding a retired room re-resolve against the lookup table, which allows
// name reuse after deletion.
type room struct {
	name string
	ops  chan func()
	quit chan struct{}
	stop sync.Once
}

func (r *room) loop() {
	for {
		select {
		case fn := <-r.ops:
			fn()
		case <-r.quit:
			return
		}
	}
}

func NewCoordinator(
	groups repository.GroupRepository,
	users repository.UserRepository,
	messages repository.MessageRepository,
	history *cache.HistoryCache,
	opTimeout time.Duration,
	logger *zap.Logger,
) *Coordinator {
	return &Coordinator{
		groups:    groups,
		users:     users,
		messages:  messages,
		history:   history,
		logger:    logger,
		opTimeout: opTimeout,
		rooms:     make(map[string]*room),
	}
}

func (c *Coordinator) roomFor(name string) *room {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.rooms[name]
	if !ok {
		r = &room{
			name: name,
			ops:  make(chan func()),
			quit: make(chan struct{}),
		}
		c.rooms[name] = r
		go r.loop()
	}
	return r
}

// retire stops a group's serializer after deletion. Only removes the entry
// if it still maps to the same room, so a recreated group keeps its fresh
// serializer. A room serving both a leave-to-empty and a delete can be
// retired from two callers; the Once keeps the second close from panicking.
func (c *Coordinator) retire(r *room) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.rooms[r.name] == r {
		delete(c.rooms, r.name)
	}
	r.stop.Do(func() { close(r.quit) })
}

// do runs fn on the named group's serializer and waits for it to finish.
// If ctx expires while waiting, the caller gets ErrTimeout; the in-flight
// store calls carry the same ctx, so they abort promptly and the serializer
// slot frees itself. If the serializer was retired mid-send the operation
// re-resolves, so a caller never blocks on a dead goroutine.
func (c *Coordinator) do(ctx context.Context, name string, fn func(ctx context.Context)) error {
	ctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()

	for {
		r := c.roomFor(name)
		done := make(chan struct{})
		wrapped := func() {
			defer close(done)
			fn(ctx)
		}

		select {
		case r.ops <- wrapped:
		case <-r.quit:
			continue
		case <-ctx.Done():
			return ErrTimeout
		}

		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ErrTimeout
		}
	}
}

// CreateGroup creates a fresh group with the creator as sole member.
// Fails with ErrAlreadyExists if the name is taken.
func (c *Coordinator) CreateGroup(ctx context.Context, name string, creatorID uuid.UUID) (*models.Group, []Effect, error) {
	if name == "" || creatorID == uuid.Nil {
		return nil, nil, fmt.Errorf("create group: %w", ErrInvalidArgument)
	}

	var (
		group *models.Group
		opErr error
	)
	err := c.do(ctx, name, func(ctx context.Context) {
		g, err := c.groups.CreateUnique(ctx, name, false)
		if err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				opErr = fmt.Errorf("group %q: %w", name, ErrAlreadyExists)
				return
			}
			opErr = asTimeout(err)
			return
		}
		if err := c.pairAdd(ctx, g.ID, creatorID); err != nil {
			// The group row exists but the creator could not be seated.
			// A group is never persisted without members, so undo the
			// insert before surfacing the failure; otherwise the name
			// stays locked on a row the caller believes was never made.
			if delErr := c.groups.Delete(ctx, g.ID); delErr != nil {
				c.logger.Error("consistency alert: empty group row left behind after failed create",
					zap.String("group", name),
					zap.Error(delErr),
				)
			}
			opErr = err
			return
		}
		group = g
	})
	if err != nil {
		return nil, nil, err
	}
	if opErr != nil {
		return nil, nil, opErr
	}

	ref := GroupRefPayload{GroupID: group.ID, GroupName: group.Name}
	effects := []Effect{
		{Scope: ScopeCaller, Event: Event{Name: EventGroupCreated, Data: ref}},
		{Scope: ScopeGlobal, Event: Event{Name: EventNewGroup, Data: ref}},
	}
	return group, effects, nil
}

// Join adds a user to an active group. Joining a group the user already
// belongs to is a no-op that still returns the current member list.
func (c *Coordinator) Join(ctx context.Context, userID uuid.UUID, roomName string) (*models.Group, []models.User, []Effect, error) {
	if userID == uuid.Nil || roomName == "" {
		return nil, nil, nil, fmt.Errorf("join: %w", ErrInvalidArgument)
	}

	var (
		group   *models.Group
		members []models.User
		opErr   error
	)
	err := c.do(ctx, roomName, func(ctx context.Context) {
		g, err := c.groups.GetByName(ctx, roomName)
		if err != nil {
			opErr = asTimeout(err)
			return
		}
		if g == nil {
			opErr = fmt.Errorf("group %q: %w", roomName, ErrNotFound)
			return
		}

		memberIDs, err := c.groups.ListMemberIDs(ctx, g.ID)
		if err != nil {
			opErr = asTimeout(err)
			return
		}
		if !containsID(memberIDs, userID) {
			if err := c.pairAdd(ctx, g.ID, userID); err != nil {
				opErr = err
				return
			}
			memberIDs = append(memberIDs, userID)
		}

		users, err := c.users.ListByIDs(ctx, memberIDs)
		if err != nil {
			opErr = asTimeout(err)
			return
		}
		group = g
		members = users
	})
	if err != nil {
		return nil, nil, nil, err
	}
	if opErr != nil {
		return nil, nil, nil, opErr
	}

	effects := []Effect{
		{Scope: ScopeCaller, Event: Event{Name: EventJoinSuccess, Data: JoinSuccessPayload{Room: group.Name, Members: members}}},
		{Scope: ScopeRoom, Room: group.Name, Event: Event{Name: EventUpdateMembers, Data: members}},
	}
	return group, members, effects, nil
}

// Leave removes a user from a group, keyed by group id. If the member set
// becomes empty the group is deleted in the same serialized operation, and
// the effects carry memberLeft followed by groupDeleted, in that order.
// Reports whether the group was deleted.
func (c *Coordinator) Leave(ctx context.Context, userID, groupID uuid.UUID) (*models.Group, bool, []Effect, error) {
	if userID == uuid.Nil || groupID == uuid.Nil {
		return nil, false, nil, fmt.Errorf("leave: %w", ErrInvalidArgument)
	}

	// Resolve the name outside the serializer so the call can be routed;
	// existence is re-checked inside, where the ordering holds.
	g, err := c.groups.GetByID(ctx, groupID)
	if err != nil {
		return nil, false, nil, asTimeout(err)
	}
	if g == nil {
		return nil, false, nil, fmt.Errorf("group %s: %w", groupID, ErrNotFound)
	}

	var (
		group   *models.Group
		deleted bool
		opErr   error
	)
	doErr := c.do(ctx, g.Name, func(ctx context.Context) {
		cur, err := c.groups.GetByID(ctx, groupID)
		if err != nil {
			opErr = asTimeout(err)
			return
		}
		if cur == nil {
			opErr = fmt.Errorf("group %s: %w", groupID, ErrNotFound)
			return
		}

		if err := c.pairRemove(ctx, cur.ID, userID); err != nil {
			opErr = err
			return
		}

		gone, err := c.groups.DeleteIfEmpty(ctx, cur.ID)
		if err != nil {
			opErr = asTimeout(err)
			return
		}
		group = cur
		deleted = gone
	})
	if doErr != nil {
		return nil, false, nil, doErr
	}
	if opErr != nil {
		return nil, false, nil, opErr
	}

	if deleted {
		c.invalidateHistory(group.ID)
		c.retire(c.roomFor(group.Name))
	}

	ref := GroupRefPayload{GroupID: group.ID, GroupName: group.Name}
	effects := []Effect{
		{Scope: ScopeCaller, Event: Event{Name: EventLeftGroup, Data: ref}},
		{Scope: ScopeRoom, Room: group.Name, Event: Event{Name: EventMemberLeft, Data: MemberLeftPayload{UserID: userID, GroupID: group.ID, GroupName: group.Name}}},
	}
	if deleted {
		effects = append(effects, Effect{Scope: ScopeGlobal, Event: Event{Name: EventGroupDeleted, Data: ref}})
	}
	return group, deleted, effects, nil
}

// Delete removes a group regardless of member count and cascades the group
// reference out of every member's record.
func (c *Coordinator) Delete(ctx context.Context, name string) (*models.Group, []Effect, error) {
	if name == "" {
		return nil, nil, fmt.Errorf("delete group: %w", ErrInvalidArgument)
	}

	var (
		group *models.Group
		opErr error
	)
	err := c.do(ctx, name, func(ctx context.Context) {
		g, err := c.groups.GetByName(ctx, name)
		if err != nil {
			opErr = asTimeout(err)
			return
		}
		if g == nil {
			opErr = fmt.Errorf("group %q: %w", name, ErrNotFound)
			return
		}

		memberIDs, err := c.groups.ListMemberIDs(ctx, g.ID)
		if err != nil {
			opErr = asTimeout(err)
			return
		}
		if err := c.groups.Delete(ctx, g.ID); err != nil {
			opErr = asTimeout(err)
			return
		}

		var failed int
		for _, memberID := range memberIDs {
			if err := c.removeRefWithRetry(ctx, memberID, g.ID); err != nil {
				failed++
			}
		}
		if failed > 0 {
			opErr = fmt.Errorf("cascade for group %q left %d stale refs: %w", name, failed, ErrPartialFailure)
		}
		group = g
	})
	if err != nil {
		return nil, nil, err
	}
	if opErr != nil && group == nil {
		return nil, nil, opErr
	}

	c.invalidateHistory(group.ID)
	c.retire(c.roomFor(group.Name))

	ref := GroupRefPayload{GroupID: group.ID, GroupName: group.Name}
	effects := []Effect{
		{Scope: ScopeGlobal, Event: Event{Name: EventGroupDeleted, Data: ref}},
	}
	return group, effects, opErr
}

// Send appends a message to an active group and returns it for broadcast.
// A message without an attributable sender or with empty content is never
// stored.
func (c *Coordinator) Send(ctx context.Context, senderID uuid.UUID, roomName, content string) (*models.Message, []Effect, error) {
	if senderID == uuid.Nil {
		return nil, nil, fmt.Errorf("send: missing sender: %w", ErrInvalidArgument)
	}
	if content == "" {
		return nil, nil, fmt.Errorf("send: empty content: %w", ErrInvalidArgument)
	}

	var (
		msg   *models.Message
		opErr error
	)
	err := c.do(ctx, roomName, func(ctx context.Context) {
		g, err := c.groups.GetByName(ctx, roomName)
		if err != nil {
			opErr = asTimeout(err)
			return
		}
		if g == nil {
			opErr = fmt.Errorf("group %q: %w", roomName, ErrNotFound)
			return
		}

		m, err := c.messages.Append(ctx, g.ID, senderID, content)
		if err != nil {
			opErr = asTimeout(err)
			return
		}
		c.invalidateHistory(g.ID)
		msg = m
	})
	if err != nil {
		return nil, nil, err
	}
	if opErr != nil {
		return nil, nil, opErr
	}

	effects := []Effect{
		{Scope: ScopeRoom, Room: roomName, Event: Event{Name: EventMessage, Data: toMessagePayload(*msg)}},
	}
	return msg, effects, nil
}

// RemoveUser takes a user out of every group they belong to (applying the
// delete-when-empty rule per group) and then deletes the account. Used by
// the account-deletion endpoint.
func (c *Coordinator) RemoveUser(ctx context.Context, userID uuid.UUID) ([]Effect, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("remove user: %w", ErrInvalidArgument)
	}

	groupIDs, err := c.users.ListGroupIDs(ctx, userID)
	if err != nil {
		return nil, asTimeout(err)
	}

	var effects []Effect
	for _, groupID := range groupIDs {
		_, _, fx, err := c.Leave(ctx, userID, groupID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return effects, err
		}
		// The caller-scoped leftGroup effect has no meaning here; the
		// account is going away.
		for _, f := range fx {
			if f.Scope != ScopeCaller {
				effects = append(effects, f)
			}
		}
	}

	if err := c.users.Delete(ctx, userID); err != nil {
		return effects, asTimeout(err)
	}
	return effects, nil
}

// GroupByID is a read-side lookup; returns ErrNotFound if absent.
func (c *Coordinator) GroupByID(ctx context.Context, groupID uuid.UUID) (*models.Group, error) {
	g, err := c.groups.GetByID(ctx, groupID)
	if err != nil {
		return nil, asTimeout(err)
	}
	if g == nil {
		return nil, fmt.Errorf("group %s: %w", groupID, ErrNotFound)
	}
	return g, nil
}

// Members returns the current member users of a group. Read-only; may run
// concurrently with in-flight mutations and return slightly stale results.
func (c *Coordinator) Members(ctx context.Context, groupID uuid.UUID) ([]models.User, error) {
	if _, err := c.GroupByID(ctx, groupID); err != nil {
		return nil, err
	}
	memberIDs, err := c.groups.ListMemberIDs(ctx, groupID)
	if err != nil {
		return nil, asTimeout(err)
	}
	users, err := c.users.ListByIDs(ctx, memberIDs)
	if err != nil {
		return nil, asTimeout(err)
	}
	return users, nil
}

// History returns the full ordered message log for a group, read through
// the Redis cache when one is configured. Messages are never returned for a
// group id that no longer resolves.
func (c *Coordinator) History(ctx context.Context, groupID uuid.UUID) ([]models.Message, error) {
	if _, err := c.GroupByID(ctx, groupID); err != nil {
		return nil, err
	}

	if c.history != nil {
		if messages, ok := c.history.Get(ctx, groupID); ok {
			return messages, nil
		}
	}

	messages, err := c.messages.ListByGroup(ctx, groupID)
	if err != nil {
		return nil, asTimeout(err)
	}
	if c.history != nil {
		c.history.Set(ctx, groupID, messages)
	}
	return messages, nil
}

// pairAdd writes both halves of a membership: the group's member set and
// the user's group-id set. Each write is retried once before the failure is
// surfaced; a second-half failure after a landed first half is
// ErrPartialFailure.
func (c *Coordinator) pairAdd(ctx context.Context, groupID, userID uuid.UUID) error {
	if err := c.groups.AddMember(ctx, groupID, userID); err != nil {
		if err2 := c.groups.AddMember(ctx, groupID, userID); err2 != nil {
			return asTimeout(err2)
		}
	}
	if err := c.users.AddGroupRef(ctx, userID, groupID); err != nil {
		if err2 := c.users.AddGroupRef(ctx, userID, groupID); err2 != nil {
			c.logger.Error("consistency alert: member added but group ref write failed twice",
				zap.String("group_id", groupID.String()),
				zap.String("user_id", userID.String()),
				zap.Error(err2),
			)
			return fmt.Errorf("add group ref: %w", ErrPartialFailure)
		}
	}
	return nil
}

// pairRemove is the removal counterpart of pairAdd.
func (c *Coordinator) pairRemove(ctx context.Context, groupID, userID uuid.UUID) error {
	if err := c.groups.RemoveMember(ctx, groupID, userID); err != nil {
		return asTimeout(err)
	}
	return c.removeRefWithRetry(ctx, userID, groupID)
}

func (c *Coordinator) removeRefWithRetry(ctx context.Context, userID, groupID uuid.UUID) error {
	if err := c.users.RemoveGroupRef(ctx, userID, groupID); err != nil {
		if err2 := c.users.RemoveGroupRef(ctx, userID, groupID); err2 != nil {
			c.logger.Error("consistency alert: member removed but group ref still present",
				zap.String("group_id", groupID.String()),
				zap.String("user_id", userID.String()),
				zap.Error(err2),
			)
			return fmt.Errorf("remove group ref: %w", ErrPartialFailure)
		}
	}
	return nil
}

func (c *Coordinator) invalidateHistory(groupID uuid.UUID) {
	if c.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	c.history.Invalidate(ctx, groupID)
}

func containsID(ids []uuid.UUID, id uuid.UUID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
