package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"livechat/internal/apperr"
	"livechat/internal/auth"
	"livechat/internal/logging"
	"livechat/internal/models"
)

// UserContextKey is the key used to store the authenticated user in the gin context.
const UserContextKey = "user"

// Authenticator resolves a bearer token to a user.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (models.UserSnapshot, error)
}

// RequestLogger attaches a request-scoped logger to the request context and logs completion.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		logger := slog.With("request", uuid.NewString(), "method", c.Request.Method, "path", c.FullPath())
		c.Request = c.Request.WithContext(logging.ContextWithLogger(c.Request.Context(), logger))

		c.Next()

		logger.Debug("[API] Request completed", "status", c.Writer.Status(), "duration", time.Since(start))
	}
}

// AuthMiddleware rejects requests without a valid token and stores the caller for handlers.
func AuthMiddleware(authn Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := auth.ExtractTokenFromRequest(c.Request)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{
				Error:   "unauthorized",
				Message: "Authorization header is required",
			})
			return
		}

		user, err := authn.Authenticate(c.Request.Context(), token)
		if err != nil && !apperr.Is(err, apperr.KindAuth) {
			// The token may be fine; the user lookup behind it failed.
			fail(c, err)
			return
		}
		if err != nil {
			logging.FromContext(c.Request.Context()).Warn("[API] Token validation failed", "error", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{
				Error:   "unauthorized",
				Message: "Invalid or expired token",
			})
			return
		}

		logger := logging.FromContext(c.Request.Context()).With("user", user.ID)
		c.Request = c.Request.WithContext(logging.ContextWithLogger(c.Request.Context(), logger))
		c.Set(UserContextKey, user)
		c.Next()
	}
}

// currentUser returns the user stored by AuthMiddleware.
func currentUser(c *gin.Context) models.UserSnapshot {
	user, _ := c.MustGet(UserContextKey).(models.UserSnapshot)
	return user
}
