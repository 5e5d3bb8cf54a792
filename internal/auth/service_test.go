package auth

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"shopchat/internal/config"
	"shopchat/internal/conversation"
	"shopchat/internal/redis"
	"shopchat/internal/service/identity"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
)

type staticUsers map[string]bool

func (u staticUsers) UserExists(_ context.Context, email string) (bool, error) {
	return u[email], nil
}

func newRedisCacheClient(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	host, portStr, err := net.SplitHostPort(mr.Addr())
	if err != nil {
		t.Fatalf("split host port: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("atoi port: %v", err)
	}
	client, err := redis.NewRedisClient(&config.Config{Redis: config.RedisConfig{Host: host, Port: port}})
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func newTestService(t *testing.T, ttl time.Duration) (*Service, *miniredis.Miniredis, *conversation.RedisStore) {
	t.Helper()
	client, mr := newRedisCacheClient(t)
	store := conversation.NewRedisStore(client, time.Hour)
	svc := NewService(staticUsers{"alice@example.com": true}, client, store, "test-secret", ttl)
	return svc, mr, store
}

func TestLoginValidateLogout(t *testing.T) {
	svc, mr, store := newTestService(t, time.Hour)
	ctx := context.Background()

	token, record, err := svc.Login(ctx, " alice@example.com ", true)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if token == "" || record.Email != "alice@example.com" || !record.RLSEnabled {
		t.Fatalf("unexpected login result %q %#v", token, record)
	}
	if !mr.Exists("session:" + record.ID) {
		t.Fatalf("session record not stored")
	}

	got, err := svc.Validate(ctx, token)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if got.ID != record.ID || got.Identity() != (identity.Session{Email: "alice@example.com", RLSEnabled: true}) {
		t.Fatalf("unexpected session %#v", got)
	}

	conv := conversation.New(record.ID, got.Identity(), config.DefaultSystemPrompt)
	if err := store.Save(ctx, conv); err != nil {
		t.Fatalf("save conversation: %v", err)
	}

	if active, err := svc.Active(ctx, record.ID); err != nil || !active {
		t.Fatalf("expected active session, got %t %v", active, err)
	}
	if err := svc.Logout(ctx, record.ID); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if active, err := svc.Active(ctx, record.ID); err != nil || active {
		t.Fatalf("expected ended session, got %t %v", active, err)
	}
	if _, err := svc.Validate(ctx, token); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound after logout, got %v", err)
	}
	if _, err := store.Load(ctx, record.ID); !errors.Is(err, conversation.ErrNotFound) {
		t.Fatalf("logout must clear the conversation, got %v", err)
	}
}

func TestLoginRejectsUnknownAndEmpty(t *testing.T) {
	svc, _, _ := newTestService(t, time.Hour)
	if _, _, err := svc.Login(context.Background(), "mallory@example.com", false); !errors.Is(err, ErrUnknownUser) {
		t.Fatalf("expected ErrUnknownUser, got %v", err)
	}
	if _, _, err := svc.Login(context.Background(), "", false); !errors.Is(err, identity.ErrIdentityRequired) {
		t.Fatalf("expected ErrIdentityRequired, got %v", err)
	}
}

func TestValidateRejectsBadTokens(t *testing.T) {
	svc, _, _ := newTestService(t, time.Hour)
	ctx := context.Background()
	token, _, err := svc.Login(ctx, "alice@example.com", false)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	if _, err := svc.Validate(ctx, token+"x"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for tampered token, got %v", err)
	}

	other := NewService(staticUsers{}, svc.cache, nil, "other-secret", time.Hour)
	if _, err := other.Validate(ctx, token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for foreign secret, got %v", err)
	}

	svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if _, err := svc.Validate(ctx, token); err == nil {
		t.Fatalf("expected expiration error")
	}
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc, _, _ := newTestService(t, time.Hour)
	token, record, err := svc.Login(context.Background(), "alice@example.com", false)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	router := gin.New()
	router.Use(svc.CSRFMiddleware())
	router.POST("/me", svc.Middleware(), func(c *gin.Context) {
		session, ok := SessionFromContext(c)
		sid, ok2 := SessionIDFromContext(c)
		if !ok || !ok2 {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, gin.H{"email": session.Email, "sid": sid})
	})

	req := httptest.NewRequest(http.MethodPost, "/me", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with bearer token, got %d: %s", rec.Code, rec.Body.String())
	}

	// cookie sessions need the double-submit token on writes
	req = httptest.NewRequest(http.MethodPost, "/me", nil)
	req.AddCookie(&http.Cookie{Name: svc.AuthCookieName(), Value: token})
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without csrf token, got %d", rec.Code)
	}

	csrf := svc.NewCSRFToken()
	req = httptest.NewRequest(http.MethodPost, "/me", nil)
	req.AddCookie(&http.Cookie{Name: svc.AuthCookieName(), Value: token})
	req.AddCookie(&http.Cookie{Name: svc.CSRFCookieName(), Value: csrf})
	req.Header.Set(svc.CSRFHeaderName(), csrf)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with csrf token, got %d", rec.Code)
	}

	_ = svc.Logout(context.Background(), record.ID)
	req = httptest.NewRequest(http.MethodPost, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %d", rec.Code)
	}
}
