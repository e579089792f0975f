package chat

import (
	"sync"

	"go.uber.org/zap"
)

// Sender is one live connection's outbound side. Send must not block; it
// reports false when the event could not be queued. Close schedules the
// connection for disconnect.
type Sender interface {
	ID() string
	Send(event Event) bool
	Close()
}

// Dispatcher fans an outbound event out to the connections the registry
// says are subscribed at dispatch time. Delivery to one connection never
// blocks or fails delivery to the others; a connection that cannot keep up
// is closed rather than stalling the broadcast.
type Dispatcher struct {
	registry *Registry
	logger   *zap.Logger

	mu    sync.RWMutex
	conns map[string]Sender
}

func NewDispatcher(registry *Registry, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		logger:   logger,
		conns:    make(map[string]Sender),
	}
}

func (d *Dispatcher) Register(s Sender) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.conns[s.ID()] = s
}

func (d *Dispatcher) Unregister(connID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.conns, connID)
}

// ToConn delivers an event to a single connection.
func (d *Dispatcher) ToConn(connID string, event Event) {
	d.mu.RLock()
	s, ok := d.conns[connID]
	d.mu.RUnlock()
	if !ok {
		return
	}
	d.deliver(s, event)
}

// ToRoom delivers an event to every connection currently subscribed to the
// room.
func (d *Dispatcher) ToRoom(room string, event Event) {
	for _, connID := range d.registry.MembersOf(room) {
		d.ToConn(connID, event)
	}
}

// Broadcast delivers an event to every live connection.
func (d *Dispatcher) Broadcast(event Event) {
	d.mu.RLock()
	conns := make([]Sender, 0, len(d.conns))
	for _, s := range d.conns {
		conns = append(conns, s)
	}
	d.mu.RUnlock()

	for _, s := range conns {
		d.deliver(s, event)
	}
}

// Dispatch emits a coordinator effect, resolving its scope. callerID is the
// connection that triggered the operation.
func (d *Dispatcher) Dispatch(callerID string, effect Effect) {
	switch effect.Scope {
	case ScopeCaller:
		d.ToConn(callerID, effect.Event)
	case ScopeRoom:
		d.ToRoom(effect.Room, effect.Event)
	case ScopeGlobal:
		d.Broadcast(effect.Event)
	}
}

func (d *Dispatcher) deliver(s Sender, event Event) {
	if s.Send(event) {
		return
	}
	// Send buffer full: the connection is too slow to keep up. Drop it so
	// the rest of the room is not held back.
	d.logger.Warn("connection cannot keep up, scheduling disconnect",
		zap.String("conn_id", s.ID()),
		zap.String("event", event.Name),
	)
	go s.Close()
}
