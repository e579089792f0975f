package chat

import "sync"

// Registry is the process-local index of live subscriptions: which rooms a
// connection is in and which connections a room has. The two directions are
// kept mutually consistent under one lock. Persisted group membership is a
// separate concern — dropping a connection never touches it.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]map[string]struct{} // connection id -> room names
	rooms map[string]map[string]struct{} // room name -> connection ids
}

func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[string]map[string]struct{}),
		rooms: make(map[string]map[string]struct{}),
	}
}

func (r *Registry) Subscribe(connID, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conns[connID] == nil {
		r.conns[connID] = make(map[string]struct{})
	}
	r.conns[connID][room] = struct{}{}

	if r.rooms[room] == nil {
		r.rooms[room] = make(map[string]struct{})
	}
	r.rooms[room][connID] = struct{}{}
}

func (r *Registry) Unsubscribe(connID, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unsubscribeLocked(connID, room)
}

func (r *Registry) unsubscribeLocked(connID, room string) {
	if rooms, ok := r.conns[connID]; ok {
		delete(rooms, room)
		if len(rooms) == 0 {
			delete(r.conns, connID)
		}
	}
	if conns, ok := r.rooms[room]; ok {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(r.rooms, room)
		}
	}
}

// DropConnection removes every subscription held by a connection. Called on
// disconnect.
func (r *Registry) DropConnection(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for room := range r.conns[connID] {
		r.unsubscribeLocked(connID, room)
	}
	delete(r.conns, connID)
}

// DropRoom removes every subscription to a room and returns the connection
// ids that were subscribed. Called when a group is deleted.
func (r *Registry) DropRoom(room string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	connIDs := make([]string, 0, len(r.rooms[room]))
	for connID := range r.rooms[room] {
		connIDs = append(connIDs, connID)
	}
	for _, connID := range connIDs {
		r.unsubscribeLocked(connID, room)
	}
	return connIDs
}

// MembersOf returns a snapshot of the connection ids subscribed to a room.
func (r *Registry) MembersOf(room string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	connIDs := make([]string, 0, len(r.rooms[room]))
	for connID := range r.rooms[room] {
		connIDs = append(connIDs, connID)
	}
	return connIDs
}

// RoomsOf returns a snapshot of the rooms a connection is subscribed to.
func (r *Registry) RoomsOf(connID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rooms := make([]string, 0, len(r.conns[connID]))
	for room := range r.conns[connID] {
		rooms = append(rooms, room)
	}
	return rooms
}
