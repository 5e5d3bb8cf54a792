package api

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"shopchat/internal/auth"
	"shopchat/internal/conversation"
	"shopchat/internal/format"
	"shopchat/internal/service/assistant"
	"shopchat/internal/service/identity"
	"shopchat/internal/worker"
)

// errSessionEnded is returned when the session was logged out while its turn ran.
var errSessionEnded = errors.New("session ended")

// TurnHandler runs one user message through the assistant.
type TurnHandler interface {
	HandleTurn(ctx context.Context, conv *conversation.Conversation, content string) (*assistant.Turn, error)
}

// Handler wires HTTP routes to the assistant and serializes turns per session.
type Handler struct {
	auth          *auth.Service
	conversations conversation.Store
	assistant     TurnHandler
	workers       *worker.Dispatcher
	invalidator   *worker.Invalidator
	systemPrompt  string
}

// NewHandler constructs a Handler instance. invalidator may be nil on a
// single instance deployment.
func NewHandler(authService *auth.Service, conversations conversation.Store, turns TurnHandler, workers *worker.Dispatcher, invalidator *worker.Invalidator, systemPrompt string) *Handler {
	return &Handler{
		auth:          authService,
		conversations: conversations,
		assistant:     turns,
		workers:       workers,
		invalidator:   invalidator,
		systemPrompt:  systemPrompt,
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})

	api := router.Group("/api")
	api.Use(h.auth.CSRFMiddleware())
	api.POST("/session/login", h.login)

	authed := api.Group("")
	authed.Use(h.auth.Middleware())
	authed.POST("/session/logout", h.logout)
	authed.GET("/conversation", h.getConversation)
	authed.POST("/conversation/messages", h.postMessage)
}

type loginRequest struct {
	Email      string `json:"email"`
	RLSEnabled bool   `json:"rls_enabled"`
}

func (h *Handler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	token, record, err := h.auth.Login(c.Request.Context(), req.Email, req.RLSEnabled)
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrIdentityRequired):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, auth.ErrUnknownUser):
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		default:
			log.Printf("api: login failed: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		}
		return
	}
	h.setAuthCookies(c, token, h.auth.NewCSRFToken())
	c.JSON(http.StatusOK, gin.H{
		"token":       token,
		"email":       record.Email,
		"rls_enabled": record.RLSEnabled,
	})
}

func (h *Handler) logout(c *gin.Context) {
	sid, ok := auth.SessionIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
		return
	}
	if err := h.auth.Logout(c.Request.Context(), sid); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	h.workers.CancelKey(sid)
	h.invalidator.Publish(c.Request.Context(), sid)
	h.clearAuthCookies(c)
	c.Status(http.StatusNoContent)
}

func (h *Handler) getConversation(c *gin.Context) {
	sid, session, ok := h.currentSession(c)
	if !ok {
		return
	}
	conv, err := h.loadConversation(c.Request.Context(), sid, session)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"email":    session.Email,
		"messages": format.Transcript(conv.Messages),
	})
}

type messageRequest struct {
	Content string `json:"content"`
}

func (h *Handler) postMessage(c *gin.Context) {
	sid, session, ok := h.currentSession(c)
	if !ok {
		return
	}
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	var turn *assistant.Turn
	err := h.workers.Do(c.Request.Context(), sid, func(ctx context.Context) error {
		conv, err := h.loadConversation(ctx, sid, session)
		if err != nil {
			return err
		}
		var turnErr error
		turn, turnErr = h.assistant.HandleTurn(ctx, conv, req.Content)
		// a logout during the turn already deleted the conversation
		active, err := h.auth.Active(ctx, sid)
		if err != nil {
			return err
		}
		if !active {
			return errSessionEnded
		}
		// partial progress is kept so the transcript shows what happened
		if err := h.conversations.Save(ctx, conv); err != nil {
			if turnErr != nil {
				log.Printf("api: session=%s save after failed turn: %v", sid, err)
				return turnErr
			}
			return err
		}
		return turnErr
	})
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			log.Printf("api: session=%s turn failed: %v", sid, err)
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, turn)
}

func (h *Handler) currentSession(c *gin.Context) (string, identity.Session, bool) {
	sid, ok := auth.SessionIDFromContext(c)
	session, ok2 := auth.SessionFromContext(c)
	if !ok || !ok2 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
		return "", identity.Session{}, false
	}
	return sid, session, true
}

func (h *Handler) loadConversation(ctx context.Context, sid string, session identity.Session) (*conversation.Conversation, error) {
	conv, err := h.conversations.Load(ctx, sid)
	if errors.Is(err, conversation.ErrNotFound) {
		return conversation.New(sid, session, h.systemPrompt), nil
	}
	return conv, err
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errSessionEnded):
		return http.StatusUnauthorized
	case errors.Is(err, assistant.ErrArgumentParse), errors.Is(err, assistant.ErrEmptyMessage):
		return http.StatusBadRequest
	case errors.Is(err, assistant.ErrCompletion):
		return http.StatusBadGateway
	case errors.Is(err, worker.ErrDispatcherBusy):
		return http.StatusTooManyRequests
	case errors.Is(err, worker.ErrDispatcherStopped):
		return http.StatusServiceUnavailable
	case errors.Is(err, worker.ErrJobCancelled):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) setAuthCookies(c *gin.Context, authToken, csrfToken string) {
	ttl := int(h.auth.TokenTTL().Seconds())
	if ttl <= 0 {
		ttl = 3600
	}
	secure := gin.Mode() == gin.ReleaseMode
	setCookie(c, &http.Cookie{
		Name:     h.auth.AuthCookieName(),
		Value:    authToken,
		MaxAge:   ttl,
		Path:     "/",
		Secure:   secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	setCookie(c, &http.Cookie{
		Name:     h.auth.CSRFCookieName(),
		Value:    csrfToken,
		MaxAge:   ttl,
		Path:     "/",
		Secure:   secure,
		HttpOnly: false,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *Handler) clearAuthCookies(c *gin.Context) {
	for _, name := range []string{h.auth.AuthCookieName(), h.auth.CSRFCookieName()} {
		setCookie(c, &http.Cookie{
			Name:     name,
			Value:    "",
			MaxAge:   -1,
			Path:     "/",
			Secure:   gin.Mode() == gin.ReleaseMode,
			HttpOnly: name == h.auth.AuthCookieName(),
			SameSite: http.SameSiteStrictMode,
		})
	}
}

func setCookie(c *gin.Context, ck *http.Cookie) {
	if ck == nil {
		return
	}
	http.SetCookie(c.Writer, ck)
}
