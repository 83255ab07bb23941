package apiclient

import (
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// Mirror persists the access token outside the process.
// Load returns a nil token when nothing is stored.
type Mirror interface {
	Load() (*oauth2.Token, error)
	Save(tok *oauth2.Token) error
	Clear() error
}

// TokenStore holds the current access token in memory and mirrors changes
// to an optional durable Mirror.
type TokenStore struct {
	mu     sync.RWMutex
	token  *oauth2.Token
	mirror Mirror
	logger *zap.Logger
}

var _ oauth2.TokenSource = (*TokenStore)(nil)

// NewTokenStore creates a store seeded from mirror when one is given.
func NewTokenStore(mirror Mirror, logger *zap.Logger) *TokenStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &TokenStore{mirror: mirror, logger: logger}
	if mirror != nil {
		tok, err := mirror.Load()
		if err != nil {
			logger.Warn("failed to load stored token", zap.Error(err))
		} else if tok != nil && tok.AccessToken != "" {
			s.token = tok
		}
	}
	return s
}

// Token returns a copy of the current token, or ErrNoToken.
func (s *TokenStore) Token() (*oauth2.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == nil {
		return nil, ErrNoToken
	}
	cp := *s.token
	return &cp, nil
}

// AccessToken returns the raw access token or "".
func (s *TokenStore) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == nil {
		return ""
	}
	return s.token.AccessToken
}

// Set replaces the current token. The in-memory value is always updated;
// a mirror failure is returned to the caller.
func (s *TokenStore) Set(tok *oauth2.Token) error {
	if tok == nil || tok.AccessToken == "" {
		return s.Clear()
	}
	s.mu.Lock()
	s.token = tok
	s.mu.Unlock()

	if s.mirror != nil {
		return s.mirror.Save(tok)
	}
	return nil
}

// Clear drops the token from memory and from the mirror.
func (s *TokenStore) Clear() error {
	s.mu.Lock()
	s.token = nil
	s.mu.Unlock()

	if s.mirror != nil {
		return s.mirror.Clear()
	}
	return nil
}

// NewToken builds a bearer token for access. The expiry is read from the JWT
// exp claim when access is a JWT. user, when non-nil, is kept as the "user" extra.
func NewToken(access string, user any) *oauth2.Token {
	tok := &oauth2.Token{
		AccessToken: access,
		TokenType:   "Bearer",
		Expiry:      expiryFromJWT(access),
	}
	if user != nil {
		tok = tok.WithExtra(map[string]any{"user": user})
	}
	return tok
}

// expiryFromJWT reads exp without verifying the signature; the server remains
// the authority on validity.
func expiryFromJWT(access string) time.Time {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(access, claims); err != nil {
		return time.Time{}
	}
	if claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}
