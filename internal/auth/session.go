// Package auth holds the bearer-token session for the cloud API.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/jayheavner/yoto-esp32-controller/internal/api"
)

// ErrInvalidCredentials is returned when the token endpoint rejects the
// username/password pair. Not retryable without new credentials.
var ErrInvalidCredentials = errors.New("invalid credentials")

// ErrNotAuthenticated is returned by EnsureValid before a successful
// Authenticate call or after Close.
var ErrNotAuthenticated = errors.New("not authenticated")

// DefaultRefreshMargin is how far before expiry a token is refreshed.
const DefaultRefreshMargin = 60 * time.Second

// Session owns the token triple and its lifecycle: created on login,
// refreshed inside the safety margin, destroyed on Close.
type Session struct {
	api    *api.Client
	log    *zap.Logger
	margin time.Duration
	now    func() time.Time

	mu           sync.Mutex
	username     string
	password     string
	accessToken  string
	refreshToken string
	tokenType    string
	expiresAt    time.Time
}

// NewSession creates an unauthenticated session around the REST client.
func NewSession(client *api.Client, log *zap.Logger) *Session {
	if log == nil {
		log = zap.NewNop()
	}
	return &Session{
		api:    client,
		log:    log,
		margin: DefaultRefreshMargin,
		now:    time.Now,
	}
}

// Authenticate exchanges credentials for a token pair. A 401/403 from the
// token endpoint and a malformed token response both surface as
// ErrInvalidCredentials; transport errors pass through for the caller to
// retry.
func (s *Session) Authenticate(ctx context.Context, username string, password string) error {
	token, err := s.api.LoginPassword(ctx, username, password)
	if err != nil {
		var statusErr *api.StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode < 500 {
			// A definitive rejection of the login, not a transient fault.
			return fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
		}
		if errors.Is(err, api.ErrMalformedToken) {
			return fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
		}
		return fmt.Errorf("authenticate: %w", err)
	}

	s.mu.Lock()
	s.username = username
	s.password = password
	s.store(token)
	s.mu.Unlock()

	s.log.Info("authenticated with yoto api",
		zap.Time("token_expires_at", s.ExpiresAt()))
	return nil
}

// AuthHeader implements api.TokenSource: a ready-to-use Authorization value
// backed by a valid token.
func (s *Session) AuthHeader(ctx context.Context) (string, error) {
	token, tokenType, err := s.EnsureValid(ctx)
	if err != nil {
		return "", err
	}
	return tokenType + " " + token, nil
}

// EnsureValid returns the current access token, refreshing it when inside
// the safety margin of expiry. When no refresh token is held, it falls back
// to reauthenticating with the stored credentials.
func (s *Session) EnsureValid(ctx context.Context) (string, string, error) {
	s.mu.Lock()
	if s.accessToken == "" {
		s.mu.Unlock()
		return "", "", ErrNotAuthenticated
	}
	if s.now().Before(s.expiresAt.Add(-s.margin)) {
		token, tokenType := s.accessToken, s.tokenType
		s.mu.Unlock()
		return token, tokenType, nil
	}
	refresh := s.refreshToken
	username, password := s.username, s.password
	s.mu.Unlock()

	if refresh != "" {
		token, err := s.api.RefreshToken(ctx, refresh)
		if err == nil {
			s.mu.Lock()
			s.store(token)
			token2, tokenType := s.accessToken, s.tokenType
			s.mu.Unlock()
			s.log.Info("refreshed access token")
			return token2, tokenType, nil
		}
		s.log.Warn("token refresh failed, reauthenticating", zap.Error(err))
	}

	if err := s.Authenticate(ctx, username, password); err != nil {
		return "", "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accessToken, s.tokenType, nil
}

// AccessToken returns the raw token without validity checks, for transport
// handshakes that were established from an EnsureValid'd token moments ago.
func (s *Session) AccessToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accessToken
}

// ExpiresAt returns the current token's expiry instant.
func (s *Session) ExpiresAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expiresAt
}

// Close discards the token triple and held credentials.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.username = ""
	s.password = ""
	s.accessToken = ""
	s.refreshToken = ""
	s.tokenType = ""
	s.expiresAt = time.Time{}
}

// store must be called with the lock held.
func (s *Session) store(token api.TokenResponse) {
	s.accessToken = token.AccessToken
	if token.RefreshToken != "" {
		s.refreshToken = token.RefreshToken
	}
	s.tokenType = token.TokenType
	if s.tokenType == "" {
		s.tokenType = "Bearer"
	}
	s.expiresAt = s.expiryFor(token)
}

// expiryFor derives the expiry from expires_in, falling back to the JWT exp
// claim when the endpoint omits it.
func (s *Session) expiryFor(token api.TokenResponse) time.Time {
	if token.ExpiresIn > 0 {
		return s.now().Add(time.Duration(token.ExpiresIn) * time.Second)
	}
	if exp, ok := jwtExpiry(token.AccessToken); ok {
		return exp
	}
	s.log.Warn("token response carried no expiry, assuming one hour")
	return s.now().Add(time.Hour)
}

// jwtExpiry extracts the exp claim without verifying the signature; the
// token is opaque to us and validated server-side.
func jwtExpiry(accessToken string) (time.Time, bool) {
	if strings.Count(accessToken, ".") != 2 {
		return time.Time{}, false
	}
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(accessToken, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
