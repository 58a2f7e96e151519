package middleware

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/European-XFEL/zulip-write-only-proxy/common/logger"
	"github.com/European-XFEL/zulip-write-only-proxy/internal/model"
	"github.com/European-XFEL/zulip-write-only-proxy/internal/service"
)

type contextKey string

const (
	APIKeyHeader = "X-API-Key"

	sessionContextKey contextKey = "session"
	actorContextKey   contextKey = "actor"

	// AdminActor is recorded as the actor when the static admin API key is used.
	AdminActor = "admin"
)

// RequireSession resolves the X-API-Key header to a scoped client bound to
// its bot and aborts when that fails.
func RequireSession(clients service.ClientService) gin.HandlerFunc {
	return func(c *gin.Context) {
		session, err := clients.Get(c.Request.Context(), apiKey(c))
		if err != nil {
			status, detail := authErrorStatus(err)
			c.AbortWithStatusJSON(status, gin.H{"detail": detail})
			return
		}

		ctx := logger.WithLogFields(c.Request.Context(), logger.LogFields{
			ProposalNo: logger.Ptr(session.Client.ProposalNo),
			ClientKind: logger.Ptr(string(session.Client.Kind)),
			BotKey:     logger.Ptr(session.Bot.StoreKey()),
		})
		ctx = context.WithValue(ctx, sessionContextKey, session)
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

// RequireAdmin accepts the configured admin API key or the token of an admin
// client in X-API-Key.
func RequireAdmin(clients service.ClientService, adminAPIKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		key := apiKey(c)

		if adminAPIKey != "" && key != "" && subtle.ConstantTimeCompare([]byte(key), []byte(adminAPIKey)) == 1 {
			c.Request = c.Request.WithContext(context.WithValue(ctx, actorContextKey, AdminActor))
			c.Next()
			return
		}

		client, err := clients.Authenticate(ctx, key)
		if err != nil {
			status, detail := authErrorStatus(err)
			c.AbortWithStatusJSON(status, gin.H{"detail": detail})
			return
		}
		if !client.IsAdmin() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"detail": service.ErrNotAdmin.Error()})
			return
		}

		ctx = logger.WithLogFields(ctx, logger.LogFields{ClientKind: logger.Ptr(string(model.ClientKindAdmin))})
		ctx = context.WithValue(ctx, actorContextKey, client.CreatedBy)
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

func GetSession(ctx context.Context) *service.Session {
	session, _ := ctx.Value(sessionContextKey).(*service.Session)
	return session
}

func GetActor(ctx context.Context) string {
	actor, _ := ctx.Value(actorContextKey).(string)
	return actor
}

func apiKey(c *gin.Context) string {
	key := c.GetHeader(APIKeyHeader)
	if key == "" {
		key = c.GetHeader("Authorization")
		key = strings.TrimPrefix(key, "Bearer ")
	}
	return strings.TrimSpace(key)
}

func authErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrNotAuthenticated):
		return http.StatusUnauthorized, "missing " + APIKeyHeader + " header"
	case errors.Is(err, service.ErrUnauthorised):
		return http.StatusUnauthorized, "invalid API key"
	case errors.Is(err, service.ErrNoBotForClient):
		return http.StatusNotFound, "No Zulip bot configured for client"
	default:
		return http.StatusInternalServerError, "failed to resolve client"
	}
}
