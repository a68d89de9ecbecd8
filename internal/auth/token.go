// Package auth supplies bearer tokens for the aggregation server.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cankoe/obs-schedule-ingest/internal/transport"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// refreshLeeway renews a token this long before it expires.
const refreshLeeway = 30 * time.Second

// defaultLifetime applies when neither expires_in nor a JWT exp claim is available.
const defaultLifetime = 15 * time.Minute

type Credentials struct {
	Username string
	Password string
}

// TokenSource caches a bearer token and logs in again once it is about to expire.
// Callers share the cached token under a read lock; only rotation takes the write
// lock.
type TokenSource struct {
	endpoint   string
	creds      Credentials
	httpClient *http.Client
	clock      func() time.Time
	logger     zerolog.Logger

	mu        sync.RWMutex
	token     string
	expiresAt time.Time
	static    bool
}

// NewStaticTokenSource always returns token and never logs in.
func NewStaticTokenSource(token string) *TokenSource {
	return &TokenSource{token: token, static: true, clock: time.Now, logger: log.Logger}
}

// NewTokenSource logs in at endpoint with creds whenever a fresh token is needed.
func NewTokenSource(endpoint string, creds Credentials, httpClient *http.Client) *TokenSource {
	if httpClient == nil {
		httpClient = transport.NewHTTPClient(0, "")
	}
	return &TokenSource{
		endpoint:   endpoint,
		creds:      creds,
		httpClient: httpClient,
		clock:      time.Now,
		logger:     log.Logger,
	}
}

// WithClock overrides the clock for testing.
func (s *TokenSource) WithClock(clock func() time.Time) *TokenSource {
	s.clock = clock
	return s
}

func (s *TokenSource) WithLogger(logger zerolog.Logger) *TokenSource {
	s.logger = logger
	return s
}

// Token returns a valid bearer token, logging in first if needed.
func (s *TokenSource) Token(ctx context.Context) (string, error) {
	s.mu.RLock()
	token, ok := s.current()
	s.mu.RUnlock()
	if ok {
		return token, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Another caller may have rotated while we waited for the lock.
	if token, ok := s.current(); ok {
		return token, nil
	}
	if err := s.refresh(ctx); err != nil {
		return "", err
	}
	return s.token, nil
}

// Invalidate drops the cached token so the next call logs in again.
func (s *TokenSource) Invalidate() {
	if s.static {
		return
	}
	s.mu.Lock()
	s.token = ""
	s.expiresAt = time.Time{}
	s.mu.Unlock()
}

func (s *TokenSource) current() (string, bool) {
	if s.static {
		return s.token, s.token != ""
	}
	if s.token == "" {
		return "", false
	}
	return s.token, s.clock().Add(refreshLeeway).Before(s.expiresAt)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (s *TokenSource) refresh(ctx context.Context) error {
	if s.static {
		return errors.New("static token is empty")
	}
	body, err := json.Marshal(loginRequest{Username: s.creds.Username, Password: s.creds.Password})
	if err != nil {
		return fmt.Errorf("marshal login: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return &transport.Error{Op: "login", URL: s.endpoint, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return &transport.Error{Op: "login", URL: s.endpoint, Err: err}
	}
	defer resp.Body.Close()

	data, err := transport.ReadBody(resp)
	if err != nil {
		return &transport.Error{Op: "login", URL: s.endpoint, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return &transport.Error{Op: "login", URL: s.endpoint,
			Err: fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))}
	}

	var lr loginResponse
	if err := json.Unmarshal(data, &lr); err != nil {
		return fmt.Errorf("decode login response: %w", err)
	}
	if lr.AccessToken == "" {
		return errors.New("login response has no access_token")
	}

	now := s.clock()
	expiresAt := now.Add(defaultLifetime)
	switch {
	case lr.ExpiresIn > 0:
		expiresAt = now.Add(time.Duration(lr.ExpiresIn) * time.Second)
	default:
		if exp, ok := jwtExpiry(lr.AccessToken); ok {
			expiresAt = exp
		}
	}

	s.token = lr.AccessToken
	s.expiresAt = expiresAt
	s.logger.Info().Time("expires_at", expiresAt).Msg("Obtained aggregation server token")
	return nil
}

// jwtExpiry reads the exp claim without verifying the signature; the server that
// issued the token is the one that checks it.
func jwtExpiry(token string) (time.Time, bool) {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}
