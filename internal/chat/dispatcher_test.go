package chat

import (
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

type fakeSender struct {
	id string

	mu     sync.Mutex
	events []Event
	full   bool
	closed chan struct{}
}

func newFakeSender(id string) *fakeSender {
	return &fakeSender{id: id, closed: make(chan struct{})}
}

func (f *fakeSender) ID() string { return f.id }

func (f *fakeSender) Send(event Event) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.full {
		return false
	}
	f.events = append(f.events, event)
	return true
}

func (f *fakeSender) Close() {
	close(f.closed)
}

func (f *fakeSender) received() []Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Event(nil), f.events...)
}

func TestDispatcherToRoomOnlySubscribed(t *testing.T) {
	registry := NewRegistry()
	d := NewDispatcher(registry, zap.NewNop())

	in := newFakeSender("in")
	out := newFakeSender("out")
	d.Register(in)
	d.Register(out)
	registry.Subscribe("in", "team")

	d.ToRoom("team", Event{Name: EventMessage, Data: "hi"})

	if got := in.received(); len(got) != 1 || got[0].Name != EventMessage {
		t.Errorf("subscribed conn got %v, want one message", got)
	}
	if got := out.received(); len(got) != 0 {
		t.Errorf("unsubscribed conn got %v, want nothing", got)
	}
}

func TestDispatcherBroadcastReachesAll(t *testing.T) {
	registry := NewRegistry()
	d := NewDispatcher(registry, zap.NewNop())

	a := newFakeSender("a")
	b := newFakeSender("b")
	d.Register(a)
	d.Register(b)

	d.Broadcast(Event{Name: EventNewGroup})

	for _, s := range []*fakeSender{a, b} {
		if got := s.received(); len(got) != 1 {
			t.Errorf("conn %s got %d events, want 1", s.id, len(got))
		}
	}
}

func TestDispatcherSlowConnectionDoesNotBlockOthers(t *testing.T) {
	registry := NewRegistry()
	d := NewDispatcher(registry, zap.NewNop())

	slow := newFakeSender("slow")
	slow.full = true
	ok := newFakeSender("ok")
	d.Register(slow)
	d.Register(ok)
	registry.Subscribe("slow", "team")
	registry.Subscribe("ok", "team")

	d.ToRoom("team", Event{Name: EventMessage})

	if got := ok.received(); len(got) != 1 {
		t.Errorf("healthy conn got %d events, want 1", len(got))
	}

	// The failed connection is scheduled for disconnect, not retried.
	select {
	case <-slow.closed:
	case <-time.After(time.Second):
		t.Error("slow connection was not closed")
	}
}

func TestDispatcherUnregisteredConnIgnored(t *testing.T) {
	registry := NewRegistry()
	d := NewDispatcher(registry, zap.NewNop())

	d.ToConn("ghost", Event{Name: EventMessage})
	d.Dispatch("ghost", Effect{Scope: ScopeCaller, Event: Event{Name: EventError}})
}

func TestDispatcherEffectScopes(t *testing.T) {
	registry := NewRegistry()
	d := NewDispatcher(registry, zap.NewNop())

	caller := newFakeSender("caller")
	roomie := newFakeSender("roomie")
	other := newFakeSender("other")
	d.Register(caller)
	d.Register(roomie)
	d.Register(other)
	registry.Subscribe("roomie", "team")

	d.Dispatch("caller", Effect{Scope: ScopeCaller, Event: Event{Name: EventJoinSuccess}})
	d.Dispatch("caller", Effect{Scope: ScopeRoom, Room: "team", Event: Event{Name: EventUpdateMembers}})
	d.Dispatch("caller", Effect{Scope: ScopeGlobal, Event: Event{Name: EventNewGroup}})

	if got := caller.received(); len(got) != 2 {
		t.Errorf("caller got %d events, want joinSuccess+newGroup", len(got))
	}
	if got := roomie.received(); len(got) != 2 {
		t.Errorf("room subscriber got %d events, want updateMembers+newGroup", len(got))
	}
	if got := other.received(); len(got) != 1 || got[0].Name != EventNewGroup {
		t.Errorf("other conn got %v, want only newGroup", got)
	}
}
