package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"shopchat/internal/conversation"
	"shopchat/internal/redis"
	"shopchat/internal/service/identity"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const redisSessionPrefix = "session:"

var (
	ErrUnknownUser     = errors.New("unknown user")
	ErrInvalidToken    = errors.New("invalid token")
	ErrSessionNotFound = errors.New("session not found")
)

// UserLookup checks that an email belongs to a shop user.
type UserLookup interface {
	UserExists(ctx context.Context, email string) (bool, error)
}

// SessionRecord is the server side state behind a token.
type SessionRecord struct {
	ID         string    `json:"id"`
	Email      string    `json:"email"`
	RLSEnabled bool      `json:"rls_enabled"`
	CreatedAt  time.Time `json:"created_at"`
}

// Identity returns the identity the session acts as.
func (r *SessionRecord) Identity() identity.Session {
	return identity.Session{Email: r.Email, RLSEnabled: r.RLSEnabled}
}

type claims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// Service issues, validates, and revokes session tokens. Tokens are HS256
// JWTs naming a session record kept in redis, so logout takes effect at once.
type Service struct {
	users          UserLookup
	cache          *redis.Client
	conversations  conversation.Store
	secret         []byte
	tokenTTL       time.Duration
	cookieName     string
	headerName     string
	csrfCookieName string
	csrfHeaderName string
	now            func() time.Time
}

// NewService constructs an auth service with the supplied token lifetime.
func NewService(users UserLookup, cache *redis.Client, conversations conversation.Store, secret string, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Service{
		users:          users,
		cache:          cache,
		conversations:  conversations,
		secret:         []byte(secret),
		tokenTTL:       ttl,
		cookieName:     "auth_token",
		headerName:     "Authorization",
		csrfCookieName: "csrf_token",
		csrfHeaderName: "X-CSRF-Token",
		now:            time.Now,
	}
}

// Login starts a session for an existing user and returns its token.
func (s *Service) Login(ctx context.Context, email string, rlsEnabled bool) (string, *SessionRecord, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", nil, identity.ErrIdentityRequired
	}
	exists, err := s.users.UserExists(ctx, email)
	if err != nil {
		return "", nil, fmt.Errorf("lookup user: %w", err)
	}
	if !exists {
		return "", nil, ErrUnknownUser
	}

	now := s.now().UTC()
	record := &SessionRecord{
		ID:         uuid.NewString(),
		Email:      email,
		RLSEnabled: rlsEnabled,
		CreatedAt:  now,
	}
	if err := s.cache.SetJSON(ctx, redisSessionPrefix+record.ID, record, s.tokenTTL); err != nil {
		return "", nil, fmt.Errorf("store session: %w", err)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		SessionID: record.ID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
		},
	})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		_ = s.cache.Del(ctx, redisSessionPrefix+record.ID)
		return "", nil, fmt.Errorf("sign token: %w", err)
	}
	return signed, record, nil
}

// Validate verifies the token and loads its session record.
func (s *Service) Validate(ctx context.Context, authToken string) (*SessionRecord, error) {
	if authToken == "" {
		return nil, errors.New("token required")
	}
	var c claims
	_, err := jwt.ParseWithClaims(authToken, &c, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, errors.New("token expired")
		}
		return nil, ErrInvalidToken
	}
	if c.SessionID == "" {
		return nil, ErrInvalidToken
	}

	var record SessionRecord
	if err := s.cache.GetJSON(ctx, redisSessionPrefix+c.SessionID, &record); err != nil {
		if errors.Is(err, redis.ErrCacheMiss) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("load session: %w", err)
	}
	return &record, nil
}

// Active reports whether the session record still exists.
func (s *Service) Active(ctx context.Context, sessionID string) (bool, error) {
	if sessionID == "" {
		return false, nil
	}
	if _, err := s.cache.Get(ctx, redisSessionPrefix+sessionID); err != nil {
		if errors.Is(err, redis.ErrCacheMiss) {
			return false, nil
		}
		return false, fmt.Errorf("load session: %w", err)
	}
	return true, nil
}

// Logout ends the session and forgets its conversation.
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	if err := s.cache.Del(ctx, redisSessionPrefix+sessionID); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	if s.conversations != nil {
		if err := s.conversations.Delete(ctx, sessionID); err != nil {
			return err
		}
	}
	return nil
}

// AuthCookieName returns the cookie name storing auth tokens.
func (s *Service) AuthCookieName() string {
	return s.cookieName
}

// CSRFCookieName returns the cookie used for CSRF tokens.
func (s *Service) CSRFCookieName() string {
	return s.csrfCookieName
}

// CSRFHeaderName returns the CSRF header name.
func (s *Service) CSRFHeaderName() string {
	return s.csrfHeaderName
}

// NewCSRFToken returns a random token used for CSRF protection.
func (s *Service) NewCSRFToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// TokenTTL reports the configured token lifetime.
func (s *Service) TokenTTL() time.Duration {
	return s.tokenTTL
}
