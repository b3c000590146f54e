// Package relay implements the signaling relay: room membership and
// best-effort forwarding of negotiation messages between clients. It never
// inspects SDP or candidate payloads.
package relay

import (
	"sync"

	"github.com/1ureka/1ureka.net.mesh/internal/signaling"
	"github.com/1ureka/1ureka.net.mesh/internal/util"
)

// Conn is the registry's view of one control-socket session.
type Conn interface {
	// ID returns the relay-assigned connection identifier.
	ID() string

	// Deliver enqueues a message for the connection. Best-effort: a slow
	// consumer may lose messages rather than block the relay.
	Deliver(msg *signaling.Message)
}

// room holds the members of one topic. Membership changes for a room are
// serialized by its own mutex so joins and leaves on different rooms never
// block each other.
type room struct {
	mu      sync.Mutex
	members map[string]Conn
}

// Registry tracks rooms and connections. The registry mutex guards only the
// map lookups; membership mutation happens under the per-room mutex.
type Registry struct {
	mu     sync.RWMutex
	rooms  map[string]*room
	conns  map[string]Conn   // connection id → connection
	byConn map[string]string // connection id → room name, for O(1) cleanup
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		rooms:  make(map[string]*room),
		conns:  make(map[string]Conn),
		byConn: make(map[string]string),
	}
}

// Join adds c to the named room, creating it if needed, and returns the
// identifiers of the members present before the join. The snapshot and the
// insertion happen under the room mutex, so a concurrent joiner appears in
// exactly one of the two snapshots. A connection already in a different
// room is detached from it first, with the usual departure notices.
func (r *Registry) Join(name string, c Conn) []string {
	r.mu.Lock()
	if prev, ok := r.byConn[c.ID()]; ok && prev != name {
		// A connection lives in at most one room.
		r.mu.Unlock()
		r.Disconnect(c.ID())
		r.mu.Lock()
	}

	rm, ok := r.rooms[name]
	if !ok {
		rm = &room{members: make(map[string]Conn)}
		r.rooms[name] = rm
	}
	r.conns[c.ID()] = c
	r.byConn[c.ID()] = name

	// The room mutex is taken before the registry mutex is released, so a
	// concurrent last-member disconnect cannot delete the room out from
	// under the insertion below.
	rm.mu.Lock()
	r.mu.Unlock()
	defer rm.mu.Unlock()

	peers := make([]string, 0, len(rm.members))
	for id := range rm.members {
		if id != c.ID() {
			peers = append(peers, id)
		}
	}
	rm.members[c.ID()] = c

	return peers
}

// Forward delivers msg to the connection identified by target. Unknown
// targets are dropped silently: forwarding is at-most-once, best-effort.
func (r *Registry) Forward(target string, msg *signaling.Message) {
	r.mu.RLock()
	c, ok := r.conns[target]
	r.mu.RUnlock()

	if !ok {
		util.LogDebug("dropping %s for unknown target %s", msg.Type, target)
		return
	}
	c.Deliver(msg)
}

// Disconnect removes the connection with the given id from its room. The
// remaining members are each notified once; an emptied room is deleted.
// Idempotent: disconnecting an unknown or already-removed id is a no-op.
func (r *Registry) Disconnect(id string) {
	r.mu.Lock()
	name, ok := r.byConn[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.byConn, id)
	delete(r.conns, id)
	rm := r.rooms[name]
	r.mu.Unlock()

	rm.mu.Lock()
	delete(rm.members, id)
	remaining := make([]Conn, 0, len(rm.members))
	for _, m := range rm.members {
		remaining = append(remaining, m)
	}
	rm.mu.Unlock()

	if len(remaining) == 0 {
		// Re-check under both locks: a join may have raced the removal.
		r.mu.Lock()
		if r.rooms[name] == rm {
			rm.mu.Lock()
			if len(rm.members) == 0 {
				delete(r.rooms, name)
				util.LogDebug("room %q deleted", name)
			}
			rm.mu.Unlock()
		}
		r.mu.Unlock()
		return
	}

	note := &signaling.Message{Type: signaling.MsgTypePeerDisconnected, ID: id}
	for _, m := range remaining {
		m.Deliver(note)
	}
}

// RoomCount returns the number of live rooms.
func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}
