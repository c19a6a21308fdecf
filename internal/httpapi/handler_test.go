package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	paseto "aidanwoods.dev/go-paseto"

	"carelink/internal/security/password"
	"carelink/internal/session"
)

const testPassword = "correct-horse-battery"

func testHandler(t *testing.T) (*Handler, *MemoryDirectory, *session.Service) {
	t.Helper()

	cfg := session.DefaultConfig()
	cfg.PasetoSecretKeyHex = paseto.NewV4AsymmetricSecretKey().ExportHex()
	cfg.RefreshHMACKey = []byte("0123456789abcdef0123456789abcdef")

	codec, err := session.NewPasetoV4Codec(cfg)
	if err != nil {
		t.Fatalf("NewPasetoV4Codec: %v", err)
	}
	svc := session.NewService(cfg, session.NewMemoryStore(), codec, nil)

	dir := NewMemoryDirectory()
	hash, err := password.DefaultConfig().Hash(testPassword)
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	dir.Put(User{
		ID:           "user-1",
		Email:        "alice@example.com",
		Role:         session.RolePatient,
		PasswordHash: hash,
	})

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	h, err := NewHandler(log, LoadConfigFromEnv(), dir, svc)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	return h, dir, svc
}

func postJSON(t *testing.T, h http.Handler, target string, body any, header http.Header) *httptest.ResponseRecorder {
	t.Helper()

	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	r := httptest.NewRequest(http.MethodPost, target, bytes.NewReader(b))
	r.Header.Set("Content-Type", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			r.Header.Add(k, v)
		}
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func mux(h *Handler) *http.ServeMux {
	m := http.NewServeMux()
	h.Register(m)
	return m
}

func decodeLogin(t *testing.T, w *httptest.ResponseRecorder) loginResponse {
	t.Helper()

	var resp loginResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return resp
}

func TestLogin_Success(t *testing.T) {
	h, _, _ := testHandler(t)

	w := postJSON(t, mux(h), "/auth/login", loginRequest{
		Email:    "Alice@Example.com",
		Password: testPassword,
	}, nil)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decodeLogin(t, w)
	if resp.User.ID != "user-1" || resp.User.Role != "patient" {
		t.Fatalf("unexpected user: %+v", resp.User)
	}
	if resp.Session.AccessToken == "" || resp.Session.RefreshToken == "" {
		t.Fatal("expected both tokens in response")
	}
}

func TestLogin_WrongPassword(t *testing.T) {
	h, _, _ := testHandler(t)

	w := postJSON(t, mux(h), "/auth/login", loginRequest{
		Email:    "alice@example.com",
		Password: "wrong-password-entirely",
	}, nil)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestLogin_UnknownUserSameShapeAsBadPassword(t *testing.T) {
	h, _, _ := testHandler(t)

	wantBody := postJSON(t, mux(h), "/auth/login", loginRequest{
		Email:    "alice@example.com",
		Password: "wrong-password-entirely",
	}, nil).Body.String()

	w := postJSON(t, mux(h), "/auth/login", loginRequest{
		Email:    "nobody@example.com",
		Password: "whatever-password",
	}, nil)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	if w.Body.String() != wantBody {
		t.Fatalf("missing-user and bad-password responses must be indistinguishable:\n%s\nvs\n%s", w.Body.String(), wantBody)
	}
}

func TestLogin_RejectsUnknownFields(t *testing.T) {
	h, _, _ := testHandler(t)

	w := postJSON(t, mux(h), "/auth/login", map[string]any{
		"email":    "alice@example.com",
		"password": testPassword,
		"admin":    true,
	}, nil)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestRefresh_RotatesAndOldTokenIsRejected(t *testing.T) {
	h, _, _ := testHandler(t)
	m := mux(h)

	login := decodeLogin(t, postJSON(t, m, "/auth/login", loginRequest{
		Email:    "alice@example.com",
		Password: testPassword,
	}, nil))

	w := postJSON(t, m, "/auth/refresh", refreshRequest{RefreshToken: login.Session.RefreshToken}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("refresh: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp refreshResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode refresh response: %v", err)
	}
	if resp.Session.SessionID != login.Session.SessionID {
		t.Fatal("rotation must keep the same session id")
	}
	if resp.Session.RefreshToken == login.Session.RefreshToken {
		t.Fatal("rotation must mint a fresh refresh token")
	}

	// Replaying the consumed token is reuse: its own 401 code.
	w = postJSON(t, m, "/auth/refresh", refreshRequest{RefreshToken: login.Session.RefreshToken}, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("replay: expected 401, got %d", w.Code)
	}
	var er errorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &er); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	if er.Error.Code != "refresh_reuse_detected" {
		t.Fatalf("expected refresh_reuse_detected, got %q", er.Error.Code)
	}
}

func TestRefresh_GarbageTokenIs401(t *testing.T) {
	h, _, _ := testHandler(t)

	w := postJSON(t, mux(h), "/auth/refresh", refreshRequest{RefreshToken: "not-a-token"}, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestLogout_RevokesSession(t *testing.T) {
	h, _, svc := testHandler(t)
	m := mux(h)

	login := decodeLogin(t, postJSON(t, m, "/auth/login", loginRequest{
		Email:    "alice@example.com",
		Password: testPassword,
	}, nil))

	hdr := http.Header{}
	hdr.Set("Authorization", "Bearer "+login.Session.AccessToken)
	w := postJSON(t, m, "/auth/logout", struct{}{}, hdr)
	if w.Code != http.StatusNoContent {
		t.Fatalf("logout: expected 204, got %d: %s", w.Code, w.Body.String())
	}

	_, err := svc.VerifyAccess(context.Background(), login.Session.AccessToken, time.Now().UTC())
	if !errors.Is(err, session.ErrSessionRevoked) {
		t.Fatalf("expected ErrSessionRevoked after logout, got %v", err)
	}
}

func TestLogoutAll_RevokesEveryUserSession(t *testing.T) {
	h, _, svc := testHandler(t)
	m := mux(h)

	first := decodeLogin(t, postJSON(t, m, "/auth/login", loginRequest{
		Email:    "alice@example.com",
		Password: testPassword,
	}, nil))
	second := decodeLogin(t, postJSON(t, m, "/auth/login", loginRequest{
		Email:    "alice@example.com",
		Password: testPassword,
	}, nil))

	hdr := http.Header{}
	hdr.Set("Authorization", "Bearer "+first.Session.AccessToken)
	w := postJSON(t, m, "/auth/logout_all", struct{}{}, hdr)
	if w.Code != http.StatusNoContent {
		t.Fatalf("logout_all: expected 204, got %d", w.Code)
	}

	now := time.Now().UTC()
	for _, tok := range []string{first.Session.AccessToken, second.Session.AccessToken} {
		if _, err := svc.VerifyAccess(context.Background(), tok, now); !errors.Is(err, session.ErrSessionRevoked) {
			t.Fatalf("expected ErrSessionRevoked, got %v", err)
		}
	}
}

func TestLogout_MissingTokenIs401(t *testing.T) {
	h, _, _ := testHandler(t)

	w := postJSON(t, mux(h), "/auth/logout", struct{}{}, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestRequireAuth_Middleware(t *testing.T) {
	h, _, svc := testHandler(t)
	m := mux(h)

	login := decodeLogin(t, postJSON(t, m, "/auth/login", loginRequest{
		Email:    "alice@example.com",
		Password: testPassword,
	}, nil))

	var gotClaims session.AccessClaims
	protected := RequireAuth(svc, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFromContext(r.Context())
		if !ok {
			t.Fatal("expected claims in context")
		}
		gotClaims = claims
		w.WriteHeader(http.StatusOK)
	}))

	r := httptest.NewRequest(http.MethodGet, "/protected", nil)
	r.Header.Set("Authorization", "Bearer "+login.Session.AccessToken)
	w := httptest.NewRecorder()
	protected.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if gotClaims.UserID != "user-1" || gotClaims.SessionID != login.Session.SessionID {
		t.Fatalf("unexpected claims: %+v", gotClaims)
	}

	// Tampered token never reaches the handler.
	r = httptest.NewRequest(http.MethodGet, "/protected", nil)
	r.Header.Set("Authorization", "Bearer "+login.Session.AccessToken+"x")
	w = httptest.NewRecorder()
	protected.ServeHTTP(w, r)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for tampered token, got %d", w.Code)
	}
}
