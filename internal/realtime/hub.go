package realtime

import (
	"log/slog"
	"sync"
	"time"

	"carelink/internal/session"
)

// Hub owns the live connection registry and the in-memory rooms. It is the
// single place a connection enters and leaves the realtime layer; rooms and
// membership are derived state that disappears with the connections holding
// them.
type Hub struct {
	log *slog.Logger

	mu    sync.RWMutex
	conns map[string]*Client
	rooms map[string]*Room
	// membership tracks which rooms each connection joined, so Unregister
	// can clean up without scanning every room.
	membership map[string]map[string]struct{}
}

// NewHub constructs a Hub instance.
func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		log:        log,
		conns:      make(map[string]*Client),
		rooms:      make(map[string]*Room),
		membership: make(map[string]map[string]struct{}),
	}
}

// PersonalRoom returns the room id every connection of a user auto-joins.
// Server-initiated per-user delivery targets this room.
func PersonalRoom(userID string) string {
	return "user:" + userID
}

// Register adds an authenticated connection to the hub and auto-joins its
// personal room.
func (h *Hub) Register(c *Client) {
	if c == nil || c.ConnectionID == "" {
		return
	}

	h.mu.Lock()
	h.conns[c.ConnectionID] = c
	h.membership[c.ConnectionID] = make(map[string]struct{})
	h.mu.Unlock()

	h.JoinRoom(PersonalRoom(c.UserID), c)
	connectionsGauge.Inc()

	h.log.Info("hub.register",
		"connection_id", c.ConnectionID,
		"user_id", c.UserID,
		"role", string(c.Role),
	)
}

// Unregister removes a connection from the hub and every room it joined,
// then signals the client to shut down. Idempotent: calling it twice for
// the same connection is a no-op the second time, so the offline presence
// broadcast fires exactly once per connection regardless of how many
// teardown paths race.
func (h *Hub) Unregister(connectionID string) {
	h.mu.Lock()
	c, ok := h.conns[connectionID]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(h.conns, connectionID)
	joined := h.membership[connectionID]
	delete(h.membership, connectionID)

	for roomID := range joined {
		if r, ok := h.rooms[roomID]; ok {
			r.Leave(connectionID)
			if r.Size() == 0 {
				delete(h.rooms, roomID)
			}
		}
	}
	h.mu.Unlock()

	c.Close()
	connectionsGauge.Dec()

	h.log.Info("hub.unregister", "connection_id", connectionID, "user_id", c.UserID)

	env := NewEnvelope(TypePresenceUpdate, c.UserID, PresencePayload{
		UserID: c.UserID,
		Status: PresenceOffline,
	}, time.Now().UTC())
	h.BroadcastAll(env, connectionID, "")
}

// JoinRoom adds a connection to a room, creating the room on first join.
func (h *Hub) JoinRoom(roomID string, c *Client) {
	if roomID == "" || c == nil {
		return
	}

	h.mu.Lock()
	if _, ok := h.conns[c.ConnectionID]; !ok {
		// Already unregistered; never resurrect membership.
		h.mu.Unlock()
		return
	}
	r, ok := h.rooms[roomID]
	if !ok {
		r = NewRoom(h.log, roomID)
		h.rooms[roomID] = r
	}
	h.membership[c.ConnectionID][roomID] = struct{}{}
	h.mu.Unlock()

	r.Join(c)
}

// LeaveRoom removes a connection from a room. Empty rooms are dropped.
func (h *Hub) LeaveRoom(roomID, connectionID string) {
	h.mu.Lock()
	r, ok := h.rooms[roomID]
	if ok {
		r.Leave(connectionID)
		if r.Size() == 0 {
			delete(h.rooms, roomID)
		}
	}
	if joined, ok := h.membership[connectionID]; ok {
		delete(joined, roomID)
	}
	h.mu.Unlock()
}

// RoomBroadcast delivers an envelope to every member of a room except
// excludeConn. Unknown rooms are a no-op.
func (h *Hub) RoomBroadcast(roomID string, env Envelope, excludeConn string) {
	h.mu.RLock()
	r := h.rooms[roomID]
	h.mu.RUnlock()

	r.Broadcast(env, excludeConn, "")
}

// BroadcastAll delivers an envelope to every live connection except
// excludeConn. A non-empty roleFilter restricts delivery to connections
// admitted with that role.
func (h *Hub) BroadcastAll(env Envelope, excludeConn string, roleFilter session.Role) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.conns))
	for id, c := range h.conns {
		if id == excludeConn {
			continue
		}
		if roleFilter != "" && c.Role != roleFilter {
			continue
		}
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		select {
		case <-c.Done():
			continue
		default:
		}
		select {
		case c.Send <- env:
		default:
			droppedMessagesTotal.Inc()
		}
	}
}

// NotifyUser delivers a server-initiated notification to every live
// connection of a user via their personal room. Offline users receive
// nothing; the realtime layer carries no outbox.
func (h *Hub) NotifyUser(userID string, payload NotificationPayload) {
	env := NewEnvelope(TypeNotification, "", payload, time.Now().UTC())
	h.RoomBroadcast(PersonalRoom(userID), env, "")
}

// BroadcastEmergency fans an emergency alert out to every connection
// except the sender's.
func (h *Hub) BroadcastEmergency(senderConn, senderUserID string, payload EmergencyAlertPayload) {
	env := NewEnvelope(TypeEmergencyAlert, senderUserID, payload, time.Now().UTC())
	h.BroadcastAll(env, senderConn, "")
	emergencyAlertsTotal.Inc()
}

// InRoom reports whether a connection is currently a member of a room.
func (h *Hub) InRoom(roomID, connectionID string) bool {
	h.mu.RLock()
	r, ok := h.rooms[roomID]
	h.mu.RUnlock()
	return ok && r.Contains(connectionID)
}

// ConnectionCount reports the number of live connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// UserOnline reports whether the user has at least one live connection.
func (h *Hub) UserOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	r, ok := h.rooms[PersonalRoom(userID)]
	return ok && r.Size() > 0
}
