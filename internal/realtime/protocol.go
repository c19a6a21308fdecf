package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// Version is the protocol version carried in every envelope.
const Version = "v1"

// Type constants (wire-stable).
const (
	// TypeWelcome acknowledges a successful handshake (server -> client).
	TypeWelcome = "welcome"

	// TypeRoomJoin / TypeRoomLeave mutate this connection's membership only.
	TypeRoomJoin  = "room_join"
	TypeRoomLeave = "room_leave"

	// TypeChatMessage is relayed to the other members of a room.
	TypeChatMessage = "chat_message"

	// TypePresenceUpdate is broadcast to all connections; emitted
	// automatically with status "offline" on disconnect.
	TypePresenceUpdate = "presence_update"

	// TypeTyping is relayed to the other members of a room.
	TypeTyping = "typing"

	// Device-pairing signaling, relayed verbatim to the target user's
	// personal room.
	TypePairingOffer     = "pairing_offer"
	TypePairingAnswer    = "pairing_answer"
	TypePairingCandidate = "pairing_candidate"
	TypePairingEnd       = "pairing_end"

	// TypeEmergencyAlert is broadcast to every connection except the sender.
	TypeEmergencyAlert = "emergency_alert"

	// TypeHealthUpdate is a role-scoped broadcast: only patient-role
	// senders, delivered only to provider-role connections.
	TypeHealthUpdate = "health_update"

	// TypeNotification carries server-originated deliveries (NotifyUser).
	TypeNotification = "notification"

	// TypeError is a generic error envelope (server -> client).
	TypeError = "error"
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V        string          `json:"v"`
	Type     string          `json:"type"`
	ID       string          `json:"id,omitempty"`
	SenderID string          `json:"sender_id,omitempty"`
	TS       time.Time       `json:"ts,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for an inbound Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}

	switch e.Type {
	case TypeRoomJoin, TypeRoomLeave,
		TypeChatMessage, TypePresenceUpdate, TypeTyping,
		TypePairingOffer, TypePairingAnswer, TypePairingCandidate, TypePairingEnd,
		TypeEmergencyAlert, TypeHealthUpdate:
		return nil
	case TypeWelcome, TypeNotification, TypeError:
		return fmt.Errorf("server-originated type: %q", e.Type)
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}

// NewEnvelope builds a stamped server envelope. senderID may be empty for
// server-originated messages.
func NewEnvelope(typ, senderID string, payload any, ts time.Time) Envelope {
	raw, _ := json.Marshal(payload)
	return Envelope{
		V:        Version,
		Type:     typ,
		ID:       ulid.Make().String(),
		SenderID: senderID,
		TS:       ts,
		Payload:  raw,
	}
}

// ---- Payloads ----

// WelcomePayload acknowledges admission and names the personal room.
type WelcomePayload struct {
	ConnectionID string `json:"connection_id"`
	UserID       string `json:"user_id"`
	PersonalRoom string `json:"personal_room"`
}

// RoomPayload addresses join/leave requests and their echoes.
type RoomPayload struct {
	RoomID string `json:"room_id"`
}

// ChatMessagePayload carries a room-scoped chat message.
type ChatMessagePayload struct {
	RoomID  string `json:"room_id"`
	Message string `json:"message"`
	Kind    string `json:"kind,omitempty"`
}

// PresencePayload carries a presence status change.
type PresencePayload struct {
	UserID string `json:"user_id,omitempty"`
	Status string `json:"status"`
}

// PresenceOffline is the status emitted automatically on disconnect.
const PresenceOffline = "offline"

// TypingPayload signals typing start/stop within a room.
type TypingPayload struct {
	RoomID   string `json:"room_id"`
	IsTyping bool   `json:"is_typing"`
}

// PairingPayload addresses device-pairing signaling at a target user.
// Signal is relayed verbatim.
type PairingPayload struct {
	TargetUserID string          `json:"target_user_id"`
	Signal       json.RawMessage `json:"signal,omitempty"`
}

// EmergencyAlertPayload is broadcast to every connected client.
type EmergencyAlertPayload struct {
	Location string   `json:"location,omitempty"`
	Symptoms []string `json:"symptoms,omitempty"`
	Severity string   `json:"severity"`
}

// HealthUpdatePayload carries arbitrary health data for provider-role
// connections.
type HealthUpdatePayload struct {
	Data json.RawMessage `json:"data"`
}

// NotificationPayload carries a server-originated delivery to a single
// user's personal room.
type NotificationPayload struct {
	Title string          `json:"title,omitempty"`
	Body  string          `json:"body,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ErrorPayload is a generic error response payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
