package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"session_auth/internal/auth"
	"session_auth/internal/metrics"
	"session_auth/internal/service"
)

const (
	msgMissingFields     = "Missing required fields"
	msgRegistered        = "User registered successfully"
	msgLoggedIn          = "User logged in successfully"
	msgTokenRefreshed    = "Token refreshed successfully"
	msgPasswordUpdated   = "Password updated successfully"
	msgLoggedOut         = "Logged out successfully"
	msgInvalidCreds      = "Invalid credentials"
	msgInvalidCurrentPwd = "Invalid current password"
)

type Handler struct {
	serviceLayer   service.Service
	issuer         *auth.Issuer
	metrics        *metrics.Metrics
	allowedOrigins []string
	log            *slog.Logger
}

func NewHandler(srvc service.Service, issuer *auth.Issuer, m *metrics.Metrics, allowedOrigins []string, lgr *slog.Logger) *Handler {
	return &Handler{
		serviceLayer:   srvc,
		issuer:         issuer,
		metrics:        m,
		allowedOrigins: allowedOrigins,
		log:            lgr,
	}
}

type tokensResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	Message      string `json:"message"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func (h *Handler) InitRoutes() *gin.Engine {
	router := gin.New()

	router.Use(
		recovery(h.log),
		requestID(),
		corsMiddleware(h.allowedOrigins, h.log),
		outcomeLogger(h.log),
		metricsMiddleware(h.metrics),
	)

	router.GET("/health", h.Health)
	router.GET("/metrics", gin.WrapH(h.metrics.Handler()))

	api := router.Group("/api/v1/auth")
	{
		api.GET("/test", h.Test)
		api.POST("/register", h.Register)
		api.POST("/login", h.Login)
		api.POST("/refresh", RefreshMiddleware(h.issuer), h.Refresh)

		protected := api.Group("")
		protected.Use(AuthMiddleware(h.issuer))
		{
			protected.POST("/reset-password", h.ResetPassword)
			protected.POST("/change-password", h.ChangePassword)
			protected.POST("/logout", h.Logout)
		}
	}

	return router
}

// GET /health
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// GET /api/v1/auth/test
func (h *Handler) Test(c *gin.Context) {
	respond(c, http.StatusOK, messageResponse{Message: "Test endpoint"})
}

// POST /api/v1/auth/register
func (h *Handler) Register(c *gin.Context) {
	const op = "handler.Register"

	log := h.log.With(slog.String("op", op))

	var req struct {
		Username string `json:"username" binding:"required"`
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Debug("failed to bind request", slog.Any("error", err))

		newErrorResponse(c, http.StatusBadRequest, msgMissingFields)

		return
	}

	if err := h.serviceLayer.Register(c.Request.Context(), req.Username, req.Email, req.Password); err != nil {
		h.serviceError(c, log, err, msgInvalidCreds)

		return
	}

	respond(c, http.StatusCreated, messageResponse{Message: msgRegistered})
}

// POST /api/v1/auth/login
func (h *Handler) Login(c *gin.Context) {
	const op = "handler.Login"

	log := h.log.With(slog.String("op", op))

	var req struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Debug("failed to bind request", slog.Any("error", err))

		newErrorResponse(c, http.StatusBadRequest, msgMissingFields)

		return
	}

	pair, err := h.serviceLayer.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		h.serviceError(c, log, err, msgInvalidCreds)

		return
	}

	respond(c, http.StatusOK, tokensResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		Message:      msgLoggedIn,
	})
}

// POST /api/v1/auth/refresh
func (h *Handler) Refresh(c *gin.Context) {
	const op = "handler.Refresh"

	log := h.log.With(slog.String("op", op))

	userID, ok := userIDFromContext(c)
	if !ok {
		log.Error("failed to get user id from context")

		unauthorized(c, "Invalid token")

		return
	}

	refreshToken := c.GetString(ctxRefreshToken)

	pair, err := h.serviceLayer.Rotate(c.Request.Context(), refreshToken, userID)
	if err != nil {
		h.serviceError(c, log, err, msgInvalidCreds)

		return
	}

	respond(c, http.StatusOK, tokensResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		Message:      msgTokenRefreshed,
	})
}

// POST /api/v1/auth/reset-password
func (h *Handler) ResetPassword(c *gin.Context) {
	const op = "handler.ResetPassword"

	log := h.log.With(slog.String("op", op))

	userID, ok := userIDFromContext(c)
	if !ok {
		log.Error("failed to get user id from context")

		unauthorized(c, "Invalid token")

		return
	}

	var req struct {
		NewPassword string `json:"new_password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		newErrorResponse(c, http.StatusBadRequest, msgMissingFields)

		return
	}

	if err := h.serviceLayer.UpdatePassword(c.Request.Context(), userID, req.NewPassword); err != nil {
		h.serviceError(c, log, err, msgInvalidCreds)

		return
	}

	respond(c, http.StatusOK, messageResponse{Message: msgPasswordUpdated})
}

// POST /api/v1/auth/change-password
func (h *Handler) ChangePassword(c *gin.Context) {
	const op = "handler.ChangePassword"

	log := h.log.With(slog.String("op", op))

	userID, ok := userIDFromContext(c)
	if !ok {
		log.Error("failed to get user id from context")

		unauthorized(c, "Invalid token")

		return
	}

	var req struct {
		CurrentPassword string `json:"current_password" binding:"required"`
		NewPassword     string `json:"new_password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		newErrorResponse(c, http.StatusBadRequest, msgMissingFields)

		return
	}

	err := h.serviceLayer.ChangePassword(c.Request.Context(), userID, req.CurrentPassword, req.NewPassword)
	if err != nil {
		h.serviceError(c, log, err, msgInvalidCurrentPwd)

		return
	}

	respond(c, http.StatusOK, messageResponse{Message: msgPasswordUpdated})
}

// POST /api/v1/auth/logout
func (h *Handler) Logout(c *gin.Context) {
	const op = "handler.Logout"

	log := h.log.With(slog.String("op", op))

	userID, ok := userIDFromContext(c)
	if !ok {
		log.Error("failed to get user id from context")

		unauthorized(c, "Invalid token")

		return
	}

	if _, err := h.serviceLayer.Logout(c.Request.Context(), userID); err != nil {
		h.serviceError(c, log, err, msgInvalidCreds)

		return
	}

	respond(c, http.StatusOK, messageResponse{Message: msgLoggedOut})
}
