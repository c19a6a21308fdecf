package realtime

import (
	"log/slog"
	"sync"

	"carelink/internal/session"
)

// Room is an in-memory membership + broadcast fanout primitive. It has no
// persisted identity: it exists only as the set of live connections that
// currently hold its id.
//
// Concurrency guarantees:
// - Join/Leave are safe under concurrent Broadcast.
// - Broadcast never blocks (drops under backpressure).
// - Broadcast is panic-safe because Client.Send is never closed by the server.
type Room struct {
	log *slog.Logger
	ID  string

	mu      sync.RWMutex
	members map[string]*Client
}

// NewRoom constructs a room.
func NewRoom(log *slog.Logger, id string) *Room {
	return &Room{
		log:     log,
		ID:      id,
		members: make(map[string]*Client),
	}
}

// Join adds a client to membership.
func (r *Room) Join(client *Client) {
	if r == nil || client == nil || client.ConnectionID == "" {
		return
	}

	r.mu.Lock()
	r.members[client.ConnectionID] = client
	r.mu.Unlock()

	r.log.Debug("room.member.join", "room_id", r.ID, "connection_id", client.ConnectionID)
}

// Leave removes a client from membership.
func (r *Room) Leave(connectionID string) {
	if r == nil || connectionID == "" {
		return
	}

	r.mu.Lock()
	delete(r.members, connectionID)
	r.mu.Unlock()

	r.log.Debug("room.member.leave", "room_id", r.ID, "connection_id", connectionID)
}

// Contains reports whether a connection is a member.
func (r *Room) Contains(connectionID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.members[connectionID]
	return ok
}

// Size returns the current member count.
func (r *Room) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// Broadcast fans an envelope out to members.
//
// excludeConn skips one connection (typically the sender). roleFilter, when
// non-empty, restricts delivery to connections of that role. Non-blocking:
// a full mailbox or a shutting-down client is skipped, never waited on.
func (r *Room) Broadcast(env Envelope, excludeConn string, roleFilter session.Role) {
	if r == nil {
		return
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for id, m := range r.members {
		if m == nil || id == excludeConn {
			continue
		}
		if roleFilter != "" && m.Role != roleFilter {
			continue
		}

		select {
		case <-m.Done():
			// Skip clients that are shutting down.
			continue
		default:
		}

		select {
		case m.Send <- env:
		default:
			// Drop rather than block the whole room.
			droppedMessagesTotal.Inc()
		}
	}
}
