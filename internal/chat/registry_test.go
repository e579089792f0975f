package chat

import (
	"sort"
	"testing"
)

func sorted(s []string) []string {
	out := append([]string(nil), s...)
	sort.Strings(out)
	return out
}

func TestRegistrySubscribeBothDirections(t *testing.T) {
	r := NewRegistry()

	r.Subscribe("c1", "team")
	r.Subscribe("c2", "team")
	r.Subscribe("c1", "general")

	members := sorted(r.MembersOf("team"))
	if len(members) != 2 || members[0] != "c1" || members[1] != "c2" {
		t.Errorf("MembersOf(team) = %v, want [c1 c2]", members)
	}

	rooms := sorted(r.RoomsOf("c1"))
	if len(rooms) != 2 || rooms[0] != "general" || rooms[1] != "team" {
		t.Errorf("RoomsOf(c1) = %v, want [general team]", rooms)
	}
}

func TestRegistryUnsubscribeKeepsConsistency(t *testing.T) {
	r := NewRegistry()

	r.Subscribe("c1", "team")
	r.Unsubscribe("c1", "team")

	if got := r.MembersOf("team"); len(got) != 0 {
		t.Errorf("MembersOf after unsubscribe = %v, want empty", got)
	}
	if got := r.RoomsOf("c1"); len(got) != 0 {
		t.Errorf("RoomsOf after unsubscribe = %v, want empty", got)
	}
}

func TestRegistryDropConnection(t *testing.T) {
	r := NewRegistry()

	r.Subscribe("c1", "team")
	r.Subscribe("c1", "general")
	r.Subscribe("c2", "team")

	r.DropConnection("c1")

	if got := r.RoomsOf("c1"); len(got) != 0 {
		t.Errorf("RoomsOf(c1) after drop = %v, want empty", got)
	}
	if got := r.MembersOf("team"); len(got) != 1 || got[0] != "c2" {
		t.Errorf("MembersOf(team) after drop = %v, want [c2]", got)
	}
	if got := r.MembersOf("general"); len(got) != 0 {
		t.Errorf("MembersOf(general) after drop = %v, want empty", got)
	}
}

func TestRegistryDropRoom(t *testing.T) {
	r := NewRegistry()

	r.Subscribe("c1", "team")
	r.Subscribe("c2", "team")
	r.Subscribe("c2", "general")

	dropped := sorted(r.DropRoom("team"))
	if len(dropped) != 2 || dropped[0] != "c1" || dropped[1] != "c2" {
		t.Errorf("DropRoom(team) = %v, want [c1 c2]", dropped)
	}
	if got := r.MembersOf("team"); len(got) != 0 {
		t.Errorf("MembersOf(team) after drop = %v, want empty", got)
	}
	if got := r.RoomsOf("c2"); len(got) != 1 || got[0] != "general" {
		t.Errorf("RoomsOf(c2) after drop = %v, want [general]", got)
	}
}

func TestRegistryUnsubscribeMissingIsNoop(t *testing.T) {
	r := NewRegistry()

	r.Unsubscribe("ghost", "nowhere")
	r.DropConnection("ghost")
	r.DropRoom("nowhere")

	if got := r.MembersOf("nowhere"); len(got) != 0 {
		t.Errorf("MembersOf(nowhere) = %v, want empty", got)
	}
}
