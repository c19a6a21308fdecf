package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/oklog/ulid/v2"

	"carelink/internal/session"
)

const (
	wsSubprotocolV1 = "carelink.realtime.v1"

	wsDefaultSendQueueSize = 256
	wsMinSendQueueSize     = 32

	wsDefaultWriteTimeout = 5 * time.Second
	wsDefaultReadIdle     = 2 * time.Minute
	wsCloseGrace          = 1 * time.Second

	wsMaxPingFailures = 3

	// Security defaults:
	// - Origin is required by default.
	// - Only localhost is allowed by default (secure-by-default for dev).
	wsDefaultOriginRequired = true
	wsDefaultAllowedOrigins = "http://localhost,http://127.0.0.1"
)

// AccessVerifier validates a bearer access token and confirms its backing
// session is still live.
type AccessVerifier interface {
	VerifyAccess(ctx context.Context, token string, now time.Time) (session.AccessClaims, error)
}

// WSGateway is the WebSocket entrypoint for CareLink realtime.
//
// It enforces origin policy, token authentication, subprotocol selection,
// rate limits, and heartbeats, and routes validated envelopes to the Hub.
// No connection reaches the Hub before its access token verifies.
type WSGateway struct {
	log      *slog.Logger
	hub      *Hub
	verifier AccessVerifier

	devInsecure    bool
	originRequired bool
	allowedOrigins []string

	// Derived for websocket.Accept origin checks.
	// Accept() authorizes same-host origins by default, but for cross-origin it requires OriginPatterns.
	originPatterns []string

	writeTimeout    time.Duration
	readIdleTimeout time.Duration
	sendQueueSize   int

	heartbeatEvery   time.Duration
	heartbeatTimeout time.Duration

	rateEvents int
	rateWindow time.Duration
}

// NewWSGateway constructs a gateway with secure defaults.
func NewWSGateway(log *slog.Logger, hub *Hub, verifier AccessVerifier) *WSGateway {
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	if hub == nil {
		hub = NewHub(log)
	}

	g := &WSGateway{log: log, hub: hub, verifier: verifier}

	// NOTE: InsecureSkipVerify is a dev-only knob (TLS verification). It is not an origin policy.
	g.devInsecure = envBoolWS("CARELINK_WS_DEV_INSECURE", false)

	g.originRequired = envBoolWS("CARELINK_WS_ORIGIN_REQUIRED", wsDefaultOriginRequired)
	g.allowedOrigins = envCSVWS("CARELINK_WS_ALLOWED_ORIGINS", wsDefaultAllowedOrigins)

	// websocket.Accept enforces its own origin policy:
	// - same-host is ok
	// - cross-origin requires OriginPatterns (host patterns)
	// We derive these patterns from allowed origins so the two layers agree.
	g.originPatterns = deriveOriginPatternsFromAllowedOrigins(g.allowedOrigins)

	g.writeTimeout = envDurationWS("CARELINK_WS_WRITE_TIMEOUT", wsDefaultWriteTimeout)
	g.readIdleTimeout = envDurationWS("CARELINK_WS_READ_IDLE_TIMEOUT", wsDefaultReadIdle)

	g.sendQueueSize = envIntWS("CARELINK_WS_SEND_QUEUE", wsDefaultSendQueueSize)
	if g.sendQueueSize < wsMinSendQueueSize {
		g.sendQueueSize = wsMinSendQueueSize
	}

	g.heartbeatEvery = envDurationWS("CARELINK_WS_HEARTBEAT_INTERVAL", heartbeatInterval)
	g.heartbeatTimeout = envDurationWS("CARELINK_WS_HEARTBEAT_TIMEOUT", heartbeatTimeout)

	g.rateEvents = envIntWS("CARELINK_WS_RATE_EVENTS", rateLimitEvents)
	g.rateWindow = envDurationWS("CARELINK_WS_RATE_WINDOW", rateLimitWindow)

	return g
}

// ServeHTTP adapter so it can be mounted as http.Handler.
func (g *WSGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS authenticates the request, upgrades it to a WebSocket session,
// and runs the realtime loop until the peer disconnects.
func (g *WSGateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		rejectHandshake(w, http.StatusForbidden, "origin_forbidden", "origin not allowed")
		return
	}

	// Authenticate before the upgrade: an unverified token never reaches
	// the hub or any room. Rejections carry the same error envelope shape
	// the client would see over the socket.
	tok := bearerToken(r)
	if tok == "" {
		authFailuresTotal.Inc()
		g.log.Info("ws.reject.auth", "err", "missing token", "remote", r.RemoteAddr)
		rejectHandshake(w, http.StatusUnauthorized, "auth_failed", "missing access token")
		return
	}

	claims, err := g.verifier.VerifyAccess(r.Context(), tok, time.Now().UTC())
	if err != nil {
		authFailuresTotal.Inc()
		g.log.Info("ws.reject.auth", "err", err, "remote", r.RemoteAddr)
		rejectHandshake(w, http.StatusUnauthorized, "auth_failed", "invalid or expired access token")
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{wsSubprotocolV1},
		OriginPatterns:     g.originPatterns,
		InsecureSkipVerify: g.devInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != wsSubprotocolV1 {
		g.log.Info("ws.reject.subprotocol", "got", sp, "want", wsSubprotocolV1)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}

	conn.SetReadLimit(maxFrameBytes)

	connectionID := ulid.Make().String()
	client := NewClient(connectionID, claims.UserID, claims.Role, g.sendQueueSize)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	g.hub.Register(client)

	var closeOnce sync.Once

	// shutdown is idempotent. It does NOT close client.Send.
	// Hub.Unregister removes all memberships before client.Close, keeping
	// broadcasts safe, and fires the offline presence exactly once.
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			g.hub.Unregister(connectionID)
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	rl := NewRateLimiter(g.rateEvents, g.rateWindow)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case env := <-client.Send:
				if err := writeEnvelope(ctx, conn, env, g.writeTimeout); err != nil {
					g.log.Info("ws.write.fail", "connection_id", connectionID, "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(g.heartbeatEvery)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, g.heartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					g.log.Info("ws.ping.fail", "connection_id", connectionID, "failures", failures, "err", err)
					if failures >= wsMaxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

	g.sendWelcome(ctx, client)

	g.log.Info("ws.connect",
		"connection_id", connectionID,
		"user_id", claims.UserID,
		"role", string(claims.Role),
		"remote", r.RemoteAddr,
	)

readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.readIdleTimeout)
		env, err := readEnvelope(readCtx, conn)
		readCancel()

		badFrame := false
		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
				break readLoop
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
				break readLoop
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
				break readLoop
			case readErrBadJSON:
				// Malformed frames pass through the limiter below before
				// any error reply goes out.
				badFrame = true
			default:
				g.log.Info("ws.read.fail", "connection_id", connectionID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
				break readLoop
			}
		}

		now := time.Now().UTC()
		if !rl.Allow(now) {
			rateLimitedTotal.Inc()
			g.trySendError(ctx, client, "rate_limited", "too many events")
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		if badFrame {
			g.trySendError(ctx, client, "bad_json", "invalid JSON")
			continue readLoop
		}

		if err := env.Validate(); err != nil {
			g.trySendError(ctx, client, "bad_envelope", err.Error())
			continue readLoop
		}

		messagesTotal.WithLabelValues(env.Type).Inc()

		if err := g.dispatch(ctx, client, env, now); err != nil {
			g.trySendError(ctx, client, "dispatch_failed", err.Error())
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}
}

// ---- handlers ----

// dispatch routes a validated inbound envelope. Handler errors are reported
// back to the sender and never tear the connection down.
func (g *WSGateway) dispatch(ctx context.Context, client *Client, env Envelope, now time.Time) error {
	switch env.Type {
	case TypeRoomJoin:
		return g.onRoomJoin(ctx, client, env, now)
	case TypeRoomLeave:
		return g.onRoomLeave(ctx, client, env, now)
	case TypeChatMessage:
		return g.onChatMessage(client, env, now)
	case TypePresenceUpdate:
		return g.onPresenceUpdate(client, env, now)
	case TypeTyping:
		return g.onTyping(client, env, now)
	case TypePairingOffer, TypePairingAnswer, TypePairingCandidate, TypePairingEnd:
		return g.onPairing(client, env, now)
	case TypeEmergencyAlert:
		return g.onEmergencyAlert(client, env)
	case TypeHealthUpdate:
		return g.onHealthUpdate(client, env, now)
	default:
		return fmt.Errorf("unsupported type: %s", env.Type)
	}
}

func (g *WSGateway) onRoomJoin(ctx context.Context, client *Client, env Envelope, now time.Time) error {
	var p RoomPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}

	roomID := strings.TrimSpace(p.RoomID)
	if roomID == "" {
		return errors.New("missing room_id")
	}
	if strings.HasPrefix(roomID, "user:") && roomID != PersonalRoom(client.UserID) {
		return errors.New("personal rooms are not joinable")
	}

	g.hub.JoinRoom(roomID, client)

	echo := NewEnvelope(TypeRoomJoin, client.UserID, RoomPayload{RoomID: roomID}, now)
	if !g.enqueue(ctx, client, echo) {
		return errors.New("backpressure: join echo")
	}
	return nil
}

func (g *WSGateway) onRoomLeave(ctx context.Context, client *Client, env Envelope, now time.Time) error {
	var p RoomPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}

	roomID := strings.TrimSpace(p.RoomID)
	if roomID == "" {
		return errors.New("missing room_id")
	}
	if roomID == PersonalRoom(client.UserID) {
		return errors.New("personal room membership is fixed")
	}

	g.hub.LeaveRoom(roomID, client.ConnectionID)

	echo := NewEnvelope(TypeRoomLeave, client.UserID, RoomPayload{RoomID: roomID}, now)
	if !g.enqueue(ctx, client, echo) {
		return errors.New("backpressure: leave echo")
	}
	return nil
}

func (g *WSGateway) onChatMessage(client *Client, env Envelope, now time.Time) error {
	var p ChatMessagePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}

	roomID := strings.TrimSpace(p.RoomID)
	if roomID == "" {
		return errors.New("missing room_id")
	}
	if !g.hub.InRoom(roomID, client.ConnectionID) {
		return errors.New("not a member of room_id")
	}

	text := strings.TrimSpace(p.Message)
	if text == "" {
		return errors.New("empty message")
	}
	if len([]rune(text)) > maxMessageChars {
		return fmt.Errorf("message too long: max=%d chars", maxMessageChars)
	}

	out := NewEnvelope(TypeChatMessage, client.UserID, ChatMessagePayload{
		RoomID:  roomID,
		Message: text,
		Kind:    p.Kind,
	}, now)
	g.hub.RoomBroadcast(roomID, out, client.ConnectionID)
	return nil
}

func (g *WSGateway) onPresenceUpdate(client *Client, env Envelope, now time.Time) error {
	var p PresencePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	if strings.TrimSpace(p.Status) == "" {
		return errors.New("missing status")
	}

	out := NewEnvelope(TypePresenceUpdate, client.UserID, PresencePayload{
		UserID: client.UserID,
		Status: p.Status,
	}, now)
	g.hub.BroadcastAll(out, client.ConnectionID, "")
	return nil
}

func (g *WSGateway) onTyping(client *Client, env Envelope, now time.Time) error {
	var p TypingPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}

	roomID := strings.TrimSpace(p.RoomID)
	if roomID == "" {
		return errors.New("missing room_id")
	}
	if !g.hub.InRoom(roomID, client.ConnectionID) {
		return errors.New("not a member of room_id")
	}

	out := NewEnvelope(TypeTyping, client.UserID, p, now)
	g.hub.RoomBroadcast(roomID, out, client.ConnectionID)
	return nil
}

// onPairing relays device-pairing signaling verbatim to the target user's
// personal room. The server never inspects the signal body.
func (g *WSGateway) onPairing(client *Client, env Envelope, now time.Time) error {
	var p PairingPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}

	target := strings.TrimSpace(p.TargetUserID)
	if target == "" {
		return errors.New("missing target_user_id")
	}

	out := NewEnvelope(env.Type, client.UserID, p, now)
	g.hub.RoomBroadcast(PersonalRoom(target), out, client.ConnectionID)
	return nil
}

func (g *WSGateway) onEmergencyAlert(client *Client, env Envelope) error {
	var p EmergencyAlertPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	if strings.TrimSpace(p.Severity) == "" {
		return errors.New("missing severity")
	}

	g.log.Warn("ws.emergency",
		"audit", true,
		"connection_id", client.ConnectionID,
		"user_id", client.UserID,
		"severity", p.Severity,
	)
	g.hub.BroadcastEmergency(client.ConnectionID, client.UserID, p)
	return nil
}

// onHealthUpdate is role-scoped: only patient connections may send, and
// only provider connections receive.
func (g *WSGateway) onHealthUpdate(client *Client, env Envelope, now time.Time) error {
	if client.Role != session.RolePatient {
		return errors.New("health updates require the patient role")
	}

	var p HealthUpdatePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	if len(p.Data) == 0 {
		return errors.New("missing data")
	}

	out := NewEnvelope(TypeHealthUpdate, client.UserID, p, now)
	g.hub.BroadcastAll(out, client.ConnectionID, session.RoleProvider)
	return nil
}

// ---- send helpers ----

func (g *WSGateway) sendWelcome(ctx context.Context, client *Client) {
	env := NewEnvelope(TypeWelcome, "", WelcomePayload{
		ConnectionID: client.ConnectionID,
		UserID:       client.UserID,
		PersonalRoom: PersonalRoom(client.UserID),
	}, time.Now().UTC())
	_ = g.enqueue(ctx, client, env)
}

func (g *WSGateway) trySendError(ctx context.Context, client *Client, code, msg string) {
	env := NewEnvelope(TypeError, "", ErrorPayload{Code: code, Message: msg}, time.Now().UTC())
	_ = g.enqueue(ctx, client, env)
}

// rejectHandshake answers a pre-upgrade rejection with the protocol error
// envelope as the HTTP body, so rejected clients see the same error shape
// they would receive over an established socket.
func rejectHandshake(w http.ResponseWriter, status int, code, msg string) {
	env := NewEnvelope(TypeError, "", ErrorPayload{Code: code, Message: msg}, time.Now().UTC())
	b, err := json.Marshal(env)
	if err != nil {
		http.Error(w, msg, status)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(b)
}

func (g *WSGateway) enqueue(ctx context.Context, client *Client, env Envelope) bool {
	select {
	case <-ctx.Done():
		return false
	case <-client.Done():
		return false
	case client.Send <- env:
		return true
	default:
		droppedMessagesTotal.Inc()
		return false
	}
}

// ---- auth extraction ----

// bearerToken pulls the access token from the Authorization header, with a
// query-parameter fallback for browser WebSocket clients that cannot set
// headers on the handshake.
func bearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

// ---- envelope IO ----

func readEnvelope(ctx context.Context, conn *websocket.Conn) (Envelope, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return Envelope{}, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return Envelope{}, fmt.Errorf("unsupported message type: %v", mt)
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
	readErrBadJSON
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}

	// JSON decode errors are typically returned by json.Unmarshal, not conn.Read.
	// This fallback exists for robustness when error strings are propagated.
	s := err.Error()
	if strings.Contains(s, "unexpected end of JSON input") || strings.Contains(s, "invalid character") {
		return readErrBadJSON
	}
	return readErrUnknown
}

// ---- origin policy ----

func (g *WSGateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.originRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	if len(g.allowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)

	for _, a := range g.allowedOrigins {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if a == "*" {
			// Strongly discouraged, but honored if explicitly configured.
			return nil
		}

		// Full origin match (scheme + host + optional port).
		if origin == a {
			return nil
		}

		// Host match fallback (ignores port/scheme).
		if originHost != "" && originHost == originHostOnly(a) {
			return nil
		}
	}

	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	// URL form.
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		h := strings.TrimSpace(u.Host)
		if h == "" {
			return ""
		}
		if host, _, err := net.SplitHostPort(h); err == nil {
			return strings.ToLower(host)
		}
		return strings.ToLower(h)
	}

	// host[:port] form.
	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

func deriveOriginPatternsFromAllowedOrigins(allowed []string) []string {
	// websocket.Accept matches OriginPatterns against the origin host using filepath.Match patterns.
	// We keep this strict: only hosts extracted from the allowlist are accepted.
	seen := make(map[string]struct{}, len(allowed))

	for _, a := range allowed {
		h := originHostOnly(a)
		if h == "" || h == "*" {
			continue
		}
		seen[h] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}

	// Stable in-file sort (avoid importing sort just for this).
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j] < out[i] {
				out[i], out[j] = out[j], out[i]
			}
		}
	}

	return out
}

// ---- env helpers ----

func envBoolWS(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envIntWS(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDurationWS(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func envCSVWS(key string, def string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		raw = def
	}
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
