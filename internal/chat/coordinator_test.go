package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/talmuskatel1/ChatServer/internal/models"
	"github.com/talmuskatel1/ChatServer/internal/repository"
	"go.uber.org/zap"
)

// storeState is shared in-memory backing for the fake repositories. Failure
// injection: addRefFails / removeRefFails consume one failure per call;
// block makes group lookups hang until the channel closes or ctx expires.
type storeState struct {
	mu sync.Mutex

	groups   map[uuid.UUID]*models.Group
	byName   map[string]uuid.UUID
	members  map[uuid.UUID]map[uuid.UUID]struct{}
	userRefs map[uuid.UUID]map[uuid.UUID]struct{}
	users    map[uuid.UUID]struct{}
	messages map[uuid.UUID][]models.Message

	nextMsgID int64

	addMemberFails int
	addRefFails    int
	removeRefFails int
	block          chan struct{}
}

func newStoreState() *storeState {
	return &storeState{
		groups:   make(map[uuid.UUID]*models.Group),
		byName:   make(map[string]uuid.UUID),
		members:  make(map[uuid.UUID]map[uuid.UUID]struct{}),
		userRefs: make(map[uuid.UUID]map[uuid.UUID]struct{}),
		users:    make(map[uuid.UUID]struct{}),
		messages: make(map[uuid.UUID][]models.Message),
	}
}

func (s *storeState) waitIfBlocked(ctx context.Context) error {
	s.mu.Lock()
	block := s.block
	s.mu.Unlock()
	if block == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-block:
		return nil
	}
}

func (s *storeState) memberIDs(groupID uuid.UUID) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(s.members[groupID]))
	for id := range s.members[groupID] {
		ids = append(ids, id)
	}
	return ids
}

type fakeGroups struct{ s *storeState }

func (f *fakeGroups) CreateUnique(ctx context.Context, name string, isPrivate bool) (*models.Group, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if _, exists := f.s.byName[name]; exists {
		return nil, fmt.Errorf("insert group: %w", repository.ErrDuplicate)
	}
	g := &models.Group{ID: uuid.New(), Name: name, IsPrivate: isPrivate, CreatedAt: time.Now()}
	f.s.groups[g.ID] = g
	f.s.byName[name] = g.ID
	f.s.members[g.ID] = make(map[uuid.UUID]struct{})
	return g, nil
}

func (f *fakeGroups) GetByName(ctx context.Context, name string) (*models.Group, error) {
	if err := f.s.waitIfBlocked(ctx); err != nil {
		return nil, err
	}
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	id, ok := f.s.byName[name]
	if !ok {
		return nil, nil
	}
	g := *f.s.groups[id]
	return &g, nil
}

func (f *fakeGroups) GetByID(ctx context.Context, groupID uuid.UUID) (*models.Group, error) {
	if err := f.s.waitIfBlocked(ctx); err != nil {
		return nil, err
	}
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	g, ok := f.s.groups[groupID]
	if !ok {
		return nil, nil
	}
	cp := *g
	return &cp, nil
}

func (f *fakeGroups) AddMember(ctx context.Context, groupID, userID uuid.UUID) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if f.s.addMemberFails > 0 {
		f.s.addMemberFails--
		return errors.New("injected add member failure")
	}
	if f.s.members[groupID] == nil {
		f.s.members[groupID] = make(map[uuid.UUID]struct{})
	}
	f.s.members[groupID][userID] = struct{}{}
	return nil
}

func (f *fakeGroups) RemoveMember(ctx context.Context, groupID, userID uuid.UUID) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	delete(f.s.members[groupID], userID)
	return nil
}

func (f *fakeGroups) ListMemberIDs(ctx context.Context, groupID uuid.UUID) ([]uuid.UUID, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	return f.s.memberIDs(groupID), nil
}

func (f *fakeGroups) DeleteIfEmpty(ctx context.Context, groupID uuid.UUID) (bool, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	g, ok := f.s.groups[groupID]
	if !ok || len(f.s.members[groupID]) > 0 {
		return false, nil
	}
	delete(f.s.byName, g.Name)
	delete(f.s.groups, groupID)
	delete(f.s.members, groupID)
	return true, nil
}

func (f *fakeGroups) Delete(ctx context.Context, groupID uuid.UUID) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if g, ok := f.s.groups[groupID]; ok {
		delete(f.s.byName, g.Name)
	}
	delete(f.s.groups, groupID)
	delete(f.s.members, groupID)
	return nil
}

func (f *fakeGroups) ListByIDs(ctx context.Context, groupIDs []uuid.UUID) ([]models.Group, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	groups := make([]models.Group, 0)
	for _, id := range groupIDs {
		if g, ok := f.s.groups[id]; ok {
			groups = append(groups, *g)
		}
	}
	return groups, nil
}

type fakeUsers struct{ s *storeState }

func (f *fakeUsers) Create(ctx context.Context, username, passwordHash string) (*models.User, error) {
	u := &models.User{ID: uuid.New(), Username: username, CreatedAt: time.Now()}
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	f.s.users[u.ID] = struct{}{}
	return u, nil
}

func (f *fakeUsers) GetByID(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	return &models.User{ID: userID}, nil
}

func (f *fakeUsers) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	return nil, nil
}

func (f *fakeUsers) ListByIDs(ctx context.Context, userIDs []uuid.UUID) ([]models.User, error) {
	users := make([]models.User, 0, len(userIDs))
	for _, id := range userIDs {
		users = append(users, models.User{ID: id})
	}
	return users, nil
}

func (f *fakeUsers) AddGroupRef(ctx context.Context, userID, groupID uuid.UUID) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if f.s.addRefFails > 0 {
		f.s.addRefFails--
		return errors.New("injected add ref failure")
	}
	if f.s.userRefs[userID] == nil {
		f.s.userRefs[userID] = make(map[uuid.UUID]struct{})
	}
	f.s.userRefs[userID][groupID] = struct{}{}
	return nil
}

func (f *fakeUsers) RemoveGroupRef(ctx context.Context, userID, groupID uuid.UUID) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if f.s.removeRefFails > 0 {
		f.s.removeRefFails--
		return errors.New("injected remove ref failure")
	}
	delete(f.s.userRefs[userID], groupID)
	return nil
}

func (f *fakeUsers) ListGroupIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	ids := make([]uuid.UUID, 0, len(f.s.userRefs[userID]))
	for id := range f.s.userRefs[userID] {
		ids = append(ids, id)
	}
	return ids, nil
}

func (f *fakeUsers) Delete(ctx context.Context, userID uuid.UUID) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	delete(f.s.users, userID)
	delete(f.s.userRefs, userID)
	return nil
}

type fakeMessages struct{ s *storeState }

func (f *fakeMessages) Append(ctx context.Context, groupID, senderID uuid.UUID, content string) (*models.Message, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	f.s.nextMsgID++
	msg := models.Message{
		ID:        f.s.nextMsgID,
		GroupID:   groupID,
		SenderID:  senderID,
		Content:   content,
		CreatedAt: time.Now(),
	}
	f.s.messages[groupID] = append(f.s.messages[groupID], msg)
	return &msg, nil
}

func (f *fakeMessages) ListByGroup(ctx context.Context, groupID uuid.UUID) ([]models.Message, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	return append([]models.Message(nil), f.s.messages[groupID]...), nil
}

func newTestCoordinator(t *testing.T, s *storeState) *Coordinator {
	t.Helper()
	return NewCoordinator(&fakeGroups{s: s}, &fakeUsers{s: s}, &fakeMessages{s: s}, nil, time.Second, zap.NewNop())
}

func TestCreateGroupRoundTrip(t *testing.T) {
	s := newStoreState()
	c := newTestCoordinator(t, s)
	u1 := uuid.New()

	group, effects, err := c.CreateGroup(context.Background(), "room1", u1)
	if err != nil {
		t.Fatalf("CreateGroup failed: %v", err)
	}
	if group.Name != "room1" {
		t.Errorf("name = %q, want room1", group.Name)
	}

	got, err := (&fakeGroups{s: s}).GetByName(context.Background(), "room1")
	if err != nil || got == nil {
		t.Fatalf("GetByName(room1) = %v, %v", got, err)
	}
	if _, ok := s.members[group.ID][u1]; !ok || len(s.members[group.ID]) != 1 {
		t.Errorf("members = %v, want exactly creator", s.members[group.ID])
	}
	if _, ok := s.userRefs[u1][group.ID]; !ok {
		t.Error("creator's group ref missing")
	}

	if len(effects) != 2 ||
		effects[0].Event.Name != EventGroupCreated || effects[0].Scope != ScopeCaller ||
		effects[1].Event.Name != EventNewGroup || effects[1].Scope != ScopeGlobal {
		t.Errorf("effects = %+v, want caller groupCreated then global newGroup", effects)
	}
}

func TestCreateGroupDuplicateName(t *testing.T) {
	s := newStoreState()
	c := newTestCoordinator(t, s)
	u1, u2 := uuid.New(), uuid.New()

	group, _, err := c.CreateGroup(context.Background(), "dup", u1)
	if err != nil {
		t.Fatalf("first create failed: %v", err)
	}

	_, _, err = c.CreateGroup(context.Background(), "dup", u2)
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("second create = %v, want ErrAlreadyExists", err)
	}

	if len(s.members[group.ID]) != 1 {
		t.Errorf("membership changed by failed create: %v", s.members[group.ID])
	}
	if _, ok := s.members[group.ID][u1]; !ok {
		t.Error("original creator lost membership")
	}
}

func TestCreateGroupCompensatesFailedSeat(t *testing.T) {
	s := newStoreState()
	c := newTestCoordinator(t, s)
	u1 := uuid.New()

	s.mu.Lock()
	s.addMemberFails = 2
	s.mu.Unlock()

	if _, _, err := c.CreateGroup(context.Background(), "team", u1); err == nil {
		t.Fatal("create succeeded despite the creator never being seated")
	}

	// A group is never persisted empty: the failed create must not leave a
	// zero-member row behind or lock the name.
	got, err := (&fakeGroups{s: s}).GetByName(context.Background(), "team")
	if err != nil {
		t.Fatalf("GetByName failed: %v", err)
	}
	if got != nil {
		t.Fatalf("group %q persisted with no members after failed create", got.Name)
	}

	if _, _, err := c.CreateGroup(context.Background(), "team", u1); err != nil {
		t.Errorf("name not reusable after compensated create: %v", err)
	}
}

func TestCreateGroupRetriesMemberSeat(t *testing.T) {
	s := newStoreState()
	c := newTestCoordinator(t, s)
	u1 := uuid.New()

	s.mu.Lock()
	s.addMemberFails = 1
	s.mu.Unlock()

	group, _, err := c.CreateGroup(context.Background(), "team", u1)
	if err != nil {
		t.Fatalf("create with one transient seat failure = %v, want success via retry", err)
	}
	if _, ok := s.members[group.ID][u1]; !ok {
		t.Error("retried member write did not land")
	}
}

func TestRetireTwiceIsSafe(t *testing.T) {
	s := newStoreState()
	c := newTestCoordinator(t, s)

	r := c.roomFor("team")
	c.retire(r)
	// A leave-to-empty and a delete racing on the same room both retire it;
	// the second call must be a no-op, not a double close.
	c.retire(r)

	if fresh := c.roomFor("team"); fresh == r {
		t.Error("retired room still served from the lookup table")
	}
}

func TestJoinIdempotent(t *testing.T) {
	s := newStoreState()
	c := newTestCoordinator(t, s)
	u1, u2 := uuid.New(), uuid.New()

	group, _, err := c.CreateGroup(context.Background(), "team", u1)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	_, once, _, err := c.Join(context.Background(), u2, "team")
	if err != nil {
		t.Fatalf("first join failed: %v", err)
	}
	_, twice, _, err := c.Join(context.Background(), u2, "team")
	if err != nil {
		t.Fatalf("second join failed: %v", err)
	}

	if len(once) != len(twice) {
		t.Errorf("member list changed across idempotent joins: %d vs %d", len(once), len(twice))
	}
	if len(s.members[group.ID]) != 2 {
		t.Errorf("members = %v, want exactly {u1, u2}", s.members[group.ID])
	}
}

func TestConcurrentJoinsAddUserOnce(t *testing.T) {
	s := newStoreState()
	c := newTestCoordinator(t, s)
	u1, u2 := uuid.New(), uuid.New()

	group, _, err := c.CreateGroup(context.Background(), "team", u1)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, _, err := c.Join(context.Background(), u2, "team"); err != nil {
				t.Errorf("concurrent join failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if len(s.members[group.ID]) != 2 {
		t.Errorf("members = %v, want exactly 2", s.members[group.ID])
	}
	if len(s.userRefs[u2]) != 1 {
		t.Errorf("user refs = %v, want exactly one", s.userRefs[u2])
	}
}

func TestJoinMissingGroup(t *testing.T) {
	s := newStoreState()
	c := newTestCoordinator(t, s)

	_, _, _, err := c.Join(context.Background(), uuid.New(), "nowhere")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("join = %v, want ErrNotFound", err)
	}
}

func TestLeaveLastMemberDeletesGroup(t *testing.T) {
	s := newStoreState()
	c := newTestCoordinator(t, s)
	u1 := uuid.New()

	group, _, err := c.CreateGroup(context.Background(), "team", u1)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	_, deleted, effects, err := c.Leave(context.Background(), u1, group.ID)
	if err != nil {
		t.Fatalf("leave failed: %v", err)
	}
	if !deleted {
		t.Fatal("expected group deletion when last member leaves")
	}

	// Fixed effect ordering: the member-left outcome always precedes the
	// deletion outcome.
	names := make([]string, len(effects))
	for i, e := range effects {
		names[i] = e.Event.Name
	}
	want := []string{EventLeftGroup, EventMemberLeft, EventGroupDeleted}
	if len(names) != 3 || names[0] != want[0] || names[1] != want[1] || names[2] != want[2] {
		t.Errorf("effect order = %v, want %v", names, want)
	}

	if _, err := c.GroupByID(context.Background(), group.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("GroupByID after delete = %v, want ErrNotFound", err)
	}

	// The name is reusable after deletion.
	if _, _, err := c.CreateGroup(context.Background(), "team", u1); err != nil {
		t.Errorf("recreate after delete failed: %v", err)
	}
}

func TestLeaveKeepsGroupWithRemainingMembers(t *testing.T) {
	s := newStoreState()
	c := newTestCoordinator(t, s)
	u1, u2 := uuid.New(), uuid.New()

	group, _, err := c.CreateGroup(context.Background(), "team", u1)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, _, _, err := c.Join(context.Background(), u2, "team"); err != nil {
		t.Fatalf("join failed: %v", err)
	}

	_, deleted, _, err := c.Leave(context.Background(), u2, group.ID)
	if err != nil {
		t.Fatalf("leave failed: %v", err)
	}
	if deleted {
		t.Error("group deleted while a member remained")
	}
	if _, ok := s.members[group.ID][u1]; !ok || len(s.members[group.ID]) != 1 {
		t.Errorf("members = %v, want only u1", s.members[group.ID])
	}
	if len(s.userRefs[u2]) != 0 {
		t.Errorf("leaver still holds refs: %v", s.userRefs[u2])
	}
}

func TestSendRejectsMissingSenderAndEmptyContent(t *testing.T) {
	s := newStoreState()
	c := newTestCoordinator(t, s)
	u1 := uuid.New()

	group, _, err := c.CreateGroup(context.Background(), "team", u1)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if _, _, err := c.Send(context.Background(), uuid.Nil, "team", "hi"); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("send without sender = %v, want ErrInvalidArgument", err)
	}
	if _, _, err := c.Send(context.Background(), u1, "team", ""); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("send empty content = %v, want ErrInvalidArgument", err)
	}
	if len(s.messages[group.ID]) != 0 {
		t.Errorf("rejected sends were stored: %v", s.messages[group.ID])
	}
}

func TestSendAppendsInOrder(t *testing.T) {
	s := newStoreState()
	c := newTestCoordinator(t, s)
	u1 := uuid.New()

	group, _, err := c.CreateGroup(context.Background(), "team", u1)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	for _, content := range []string{"one", "two", "three"} {
		msg, effects, err := c.Send(context.Background(), u1, "team", content)
		if err != nil {
			t.Fatalf("send %q failed: %v", content, err)
		}
		if msg.Content != content {
			t.Errorf("persisted content = %q, want %q", msg.Content, content)
		}
		if len(effects) != 1 || effects[0].Scope != ScopeRoom || effects[0].Event.Name != EventMessage {
			t.Errorf("send effects = %+v, want one room-scoped message", effects)
		}
	}

	history, err := c.History(context.Background(), group.ID)
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("history length = %d, want 3", len(history))
	}
	for i := 1; i < len(history); i++ {
		if history[i].ID <= history[i-1].ID {
			t.Errorf("history ids out of order: %d then %d", history[i-1].ID, history[i].ID)
		}
		if history[i].CreatedAt.Before(history[i-1].CreatedAt) {
			t.Errorf("history timestamps decrease at %d", i)
		}
	}
}

func TestMessageEventKeysAreCamelCase(t *testing.T) {
	s := newStoreState()
	c := newTestCoordinator(t, s)
	u1 := uuid.New()

	if _, _, err := c.CreateGroup(context.Background(), "team", u1); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	_, effects, err := c.Send(context.Background(), u1, "team", "hi")
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}

	data, err := json.Marshal(effects[0].Event.Data)
	if err != nil {
		t.Fatalf("marshal message payload: %v", err)
	}
	for _, key := range [][]byte{[]byte(`"senderId"`), []byte(`"groupId"`), []byte(`"createdAt"`)} {
		if !bytes.Contains(data, key) {
			t.Errorf("message payload %s missing key %s", data, key)
		}
	}
	if bytes.Contains(data, []byte(`"sender_id"`)) {
		t.Errorf("message payload %s leaked snake_case keys", data)
	}
}

func TestSendToMissingGroupDropped(t *testing.T) {
	s := newStoreState()
	c := newTestCoordinator(t, s)

	_, _, err := c.Send(context.Background(), uuid.New(), "nowhere", "hi")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("send = %v, want ErrNotFound", err)
	}
}

func TestDeleteGroupCascadesRefs(t *testing.T) {
	s := newStoreState()
	c := newTestCoordinator(t, s)
	u1, u2 := uuid.New(), uuid.New()

	group, _, err := c.CreateGroup(context.Background(), "team", u1)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, _, _, err := c.Join(context.Background(), u2, "team"); err != nil {
		t.Fatalf("join failed: %v", err)
	}

	_, effects, err := c.Delete(context.Background(), "team")
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	if _, err := c.GroupByID(context.Background(), group.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("GroupByID after delete = %v, want ErrNotFound", err)
	}
	for _, u := range []uuid.UUID{u1, u2} {
		if _, ok := s.userRefs[u][group.ID]; ok {
			t.Errorf("user %s still references deleted group", u)
		}
	}
	if len(effects) != 1 || effects[0].Scope != ScopeGlobal || effects[0].Event.Name != EventGroupDeleted {
		t.Errorf("effects = %+v, want one global groupDeleted", effects)
	}
}

func TestDeleteMissingGroup(t *testing.T) {
	s := newStoreState()
	c := newTestCoordinator(t, s)

	_, _, err := c.Delete(context.Background(), "nowhere")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("delete = %v, want ErrNotFound", err)
	}
}

func TestPairedWriteRetriesOnce(t *testing.T) {
	s := newStoreState()
	c := newTestCoordinator(t, s)
	u1, u2 := uuid.New(), uuid.New()

	if _, _, err := c.CreateGroup(context.Background(), "team", u1); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	s.mu.Lock()
	s.addRefFails = 1
	s.mu.Unlock()

	if _, _, _, err := c.Join(context.Background(), u2, "team"); err != nil {
		t.Fatalf("join with one transient failure = %v, want success via retry", err)
	}
	if _, ok := s.userRefs[u2]; !ok {
		t.Error("retried ref write did not land")
	}
}

func TestPairedWriteSurfacesPartialFailure(t *testing.T) {
	s := newStoreState()
	c := newTestCoordinator(t, s)
	u1, u2 := uuid.New(), uuid.New()

	if _, _, err := c.CreateGroup(context.Background(), "team", u1); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	s.mu.Lock()
	s.addRefFails = 2
	s.mu.Unlock()

	_, _, _, err := c.Join(context.Background(), u2, "team")
	if !errors.Is(err, ErrPartialFailure) {
		t.Fatalf("join with persistent failure = %v, want ErrPartialFailure", err)
	}
}

func TestTimeoutReleasesSerializer(t *testing.T) {
	s := newStoreState()
	groups := &fakeGroups{s: s}
	users := &fakeUsers{s: s}
	messages := &fakeMessages{s: s}
	c := NewCoordinator(groups, users, messages, nil, 100*time.Millisecond, zap.NewNop())
	u1 := uuid.New()

	if _, _, err := c.CreateGroup(context.Background(), "team", u1); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	block := make(chan struct{})
	s.mu.Lock()
	s.block = block
	s.mu.Unlock()

	start := time.Now()
	_, _, _, err := c.Join(context.Background(), uuid.New(), "team")
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("blocked join = %v, want ErrTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("timeout took %v, want ~100ms", elapsed)
	}

	s.mu.Lock()
	s.block = nil
	s.mu.Unlock()
	close(block)

	// The serializer slot is free again.
	if _, _, _, err := c.Join(context.Background(), uuid.New(), "team"); err != nil {
		t.Fatalf("join after timeout = %v, want success", err)
	}
}

func TestRemoveUserLeavesEveryGroup(t *testing.T) {
	s := newStoreState()
	c := newTestCoordinator(t, s)
	u1, u2 := uuid.New(), uuid.New()
	s.users[u1] = struct{}{}

	solo, _, err := c.CreateGroup(context.Background(), "solo", u1)
	if err != nil {
		t.Fatalf("create solo failed: %v", err)
	}
	shared, _, err := c.CreateGroup(context.Background(), "shared", u1)
	if err != nil {
		t.Fatalf("create shared failed: %v", err)
	}
	if _, _, _, err := c.Join(context.Background(), u2, "shared"); err != nil {
		t.Fatalf("join failed: %v", err)
	}

	effects, err := c.RemoveUser(context.Background(), u1)
	if err != nil {
		t.Fatalf("remove user failed: %v", err)
	}

	// The solo group emptied out and was deleted; the shared group kept u2.
	if _, err := c.GroupByID(context.Background(), solo.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("solo group lookup = %v, want ErrNotFound", err)
	}
	if _, ok := s.members[shared.ID][u2]; !ok || len(s.members[shared.ID]) != 1 {
		t.Errorf("shared members = %v, want only u2", s.members[shared.ID])
	}
	if _, ok := s.users[u1]; ok {
		t.Error("user record survived removal")
	}

	for _, e := range effects {
		if e.Scope == ScopeCaller {
			t.Errorf("caller-scoped effect from RemoveUser: %+v", e)
		}
	}
}
