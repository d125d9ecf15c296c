package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/jayheavner/yoto-esp32-controller/internal/api"
)

type tokenServer struct {
	logins    int
	refreshes int
	rejectAll bool
	expiresIn int64
	token     string
}

func newTokenServer() *tokenServer {
	return &tokenServer{expiresIn: 3600, token: "tok-1"}
}

func (s *tokenServer) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/token" {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseForm(); err != nil {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		if s.rejectAll {
			http.Error(w, "access denied", http.StatusForbidden)
			return
		}
		switch r.PostForm.Get("grant_type") {
		case "password":
			if r.PostForm.Get("password") != "correct" {
				http.Error(w, "access denied", http.StatusForbidden)
				return
			}
			s.logins++
		case "refresh_token":
			s.refreshes++
			s.token = fmt.Sprintf("tok-%d", s.refreshes+1)
		default:
			http.Error(w, "unsupported grant", http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  s.token,
			"refresh_token": "refresh-1",
			"token_type":    "Bearer",
			"expires_in":    s.expiresIn,
		})
	}
}

func newTestSession(t *testing.T, srv *httptest.Server) *Session {
	t.Helper()
	client, err := api.NewClient(api.Config{BaseURL: srv.URL, ClientID: "test-client"}, zap.NewNop())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return NewSession(client, zap.NewNop())
}

func TestAuthenticateSuccess(t *testing.T) {
	backend := newTokenServer()
	srv := httptest.NewServer(backend.handler())
	defer srv.Close()

	session := newTestSession(t, srv)
	if err := session.Authenticate(context.Background(), "user@example.com", "correct"); err != nil {
		t.Fatalf("authenticate: %v", err)
	}

	header, err := session.AuthHeader(context.Background())
	if err != nil {
		t.Fatalf("auth header: %v", err)
	}
	if header != "Bearer tok-1" {
		t.Fatalf("unexpected header: %q", header)
	}
}

func TestAuthenticateInvalidCredentials(t *testing.T) {
	backend := newTokenServer()
	srv := httptest.NewServer(backend.handler())
	defer srv.Close()

	session := newTestSession(t, srv)
	err := session.Authenticate(context.Background(), "user@example.com", "wrong")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestAuthenticateMalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"unexpected":true}`))
	}))
	defer srv.Close()

	session := newTestSession(t, srv)
	err := session.Authenticate(context.Background(), "user@example.com", "correct")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for malformed body, got %v", err)
	}
}

func TestEnsureValidBeforeAuthenticate(t *testing.T) {
	backend := newTokenServer()
	srv := httptest.NewServer(backend.handler())
	defer srv.Close()

	session := newTestSession(t, srv)
	if _, _, err := session.EnsureValid(context.Background()); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}
}

func TestEnsureValidRefreshesInsideMargin(t *testing.T) {
	backend := newTokenServer()
	srv := httptest.NewServer(backend.handler())
	defer srv.Close()

	session := newTestSession(t, srv)
	if err := session.Authenticate(context.Background(), "user@example.com", "correct"); err != nil {
		t.Fatalf("authenticate: %v", err)
	}

	// Advance the clock to within the refresh margin of expiry.
	session.now = func() time.Time { return time.Now().Add(3590 * time.Second) }

	token, _, err := session.EnsureValid(context.Background())
	if err != nil {
		t.Fatalf("ensure valid: %v", err)
	}
	if backend.refreshes != 1 {
		t.Fatalf("expected one refresh, got %d", backend.refreshes)
	}
	if token != "tok-2" {
		t.Fatalf("expected refreshed token, got %q", token)
	}
}

func TestEnsureValidFreshTokenNoRefresh(t *testing.T) {
	backend := newTokenServer()
	srv := httptest.NewServer(backend.handler())
	defer srv.Close()

	session := newTestSession(t, srv)
	if err := session.Authenticate(context.Background(), "user@example.com", "correct"); err != nil {
		t.Fatalf("authenticate: %v", err)
	}

	if _, _, err := session.EnsureValid(context.Background()); err != nil {
		t.Fatalf("ensure valid: %v", err)
	}
	if backend.refreshes != 0 || backend.logins != 1 {
		t.Fatalf("unexpected endpoint traffic: logins=%d refreshes=%d", backend.logins, backend.refreshes)
	}
}

func TestCloseDiscardsSession(t *testing.T) {
	backend := newTokenServer()
	srv := httptest.NewServer(backend.handler())
	defer srv.Close()

	session := newTestSession(t, srv)
	if err := session.Authenticate(context.Background(), "user@example.com", "correct"); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	session.Close()

	if _, _, err := session.EnsureValid(context.Background()); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated after close, got %v", err)
	}
}

func TestJWTExpiryFallback(t *testing.T) {
	exp := time.Now().Add(45 * time.Minute).Unix()
	claims, _ := json.Marshal(map[string]any{"exp": exp})
	jwtToken := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none"}`)) + "." +
		base64.RawURLEncoding.EncodeToString(claims) + "."

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": jwtToken,
			"token_type":   "Bearer",
		})
	}))
	defer srv.Close()

	session := newTestSession(t, srv)
	if err := session.Authenticate(context.Background(), "user@example.com", "correct"); err != nil {
		t.Fatalf("authenticate: %v", err)
	}

	got := session.ExpiresAt().Unix()
	if got != exp {
		t.Fatalf("expected expiry %d from jwt claim, got %d", exp, got)
	}
}
