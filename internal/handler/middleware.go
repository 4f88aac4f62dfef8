package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gofrs/uuid"
	googleuuid "github.com/google/uuid"

	"session_auth/internal/auth"
	"session_auth/internal/metrics"
)

const (
	ctxUserID       = "UserID"
	ctxRefreshToken = "RefreshToken"
	ctxRequestID    = "RequestID"

	headerRequestID = "X-Request-ID"
)

// AuthMiddleware accepts only access tokens.
func AuthMiddleware(issuer *auth.Issuer) gin.HandlerFunc {
	return bearer(issuer.ParseAccessToken, false)
}

// RefreshMiddleware accepts only refresh tokens and keeps the raw token in
// the context for rotation.
func RefreshMiddleware(issuer *auth.Issuer) gin.HandlerFunc {
	return bearer(issuer.ParseRefreshToken, true)
}

func bearer(parse func(string) (*auth.Claims, error), keepToken bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			unauthorized(c, "Missing authorization header")

			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
			unauthorized(c, "Invalid authorization header")

			return
		}

		tokenStr := parts[1]

		claims, err := parse(tokenStr)
		if err != nil {
			if errors.Is(err, auth.ErrTokenExpired) {
				unauthorized(c, "Token has expired")

				return
			}
			unauthorized(c, "Invalid token")

			return
		}

		userID, err := claims.UserID()
		if err != nil {
			unauthorized(c, "Invalid token")

			return
		}

		c.Set(ctxUserID, userID)
		if keepToken {
			c.Set(ctxRefreshToken, tokenStr)
		}

		c.Next()
	}
}

func userIDFromContext(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get(ctxUserID)
	if !ok {
		return uuid.Nil, false
	}

	id, ok := v.(uuid.UUID)
	return id, ok
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(headerRequestID)
		if id == "" {
			id = googleuuid.NewString()
		}

		c.Set(ctxRequestID, id)
		c.Header(headerRequestID, id)

		c.Next()
	}
}

func recovery(log *slog.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		log.Error("panic recovered",
			slog.Any("panic", recovered),
			slog.String("path", c.Request.URL.Path),
		)

		internalError(c)
	})
}

func corsMiddleware(allowedOrigins []string, log *slog.Logger) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", headerRequestID},
		ExposeHeaders: []string{headerRequestID},
		MaxAge:        12 * time.Hour,
	}

	if len(allowedOrigins) == 0 || (len(allowedOrigins) == 1 && allowedOrigins[0] == "*") {
		log.Warn("CORS allows every origin, set cors.allowed_origins in production")
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = allowedOrigins
		cfg.AllowCredentials = true
	}

	return cors.New(cfg)
}

// outcomeLogger logs every request once the handler has produced a status.
func outcomeLogger(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		status := c.Writer.Status()
		attrs := []any{
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.String("ip", c.ClientIP()),
			slog.Int("status", status),
			slog.Duration("latency", time.Since(start)),
			slog.String("request_id", c.GetString(ctxRequestID)),
		}
		if userID, ok := userIDFromContext(c); ok {
			attrs = append(attrs, slog.String("user_id", userID.String()))
		}
		if msg := c.GetString(ctxMessage); msg != "" {
			attrs = append(attrs, slog.String("message", msg))
		}

		switch {
		case status >= http.StatusInternalServerError:
			log.Error("request completed", attrs...)
		case status >= http.StatusBadRequest:
			log.Warn("request completed", attrs...)
		default:
			log.Info("request completed", attrs...)
		}
	}
}

func metricsMiddleware(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		m.ObserveRequest(c.Request.Method, c.FullPath(), c.Writer.Status(), time.Since(start))
	}
}
