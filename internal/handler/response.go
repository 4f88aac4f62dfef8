package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"session_auth/internal/service"
)

// ctxMessage holds the response message for the outcome logger.
const ctxMessage = "ResponseMessage"

type errorResponse struct {
	Error   string `json:"error,omitempty"`
	Message string `json:"message"`
}

func respond(c *gin.Context, statusCode int, body any) {
	switch b := body.(type) {
	case messageResponse:
		c.Set(ctxMessage, b.Message)
	case tokensResponse:
		c.Set(ctxMessage, b.Message)
	}

	c.JSON(statusCode, body)
}

func newErrorResponse(c *gin.Context, statusCode int, errMessage string) {
	c.Set(ctxMessage, errMessage)
	c.AbortWithStatusJSON(statusCode, errorResponse{Message: errMessage})
}

func unauthorized(c *gin.Context, errMessage string) {
	c.Set(ctxMessage, errMessage)
	c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{
		Error:   "Unauthorized",
		Message: errMessage,
	})
}

func internalError(c *gin.Context) {
	const msg = "Something went wrong"

	c.Set(ctxMessage, msg)
	c.AbortWithStatusJSON(http.StatusInternalServerError, errorResponse{
		Error:   "Internal Server Error",
		Message: msg,
	})
}

// serviceError maps service errors to responses. credentialsMsg is the text
// used for ErrInvalidCredentials, which differs between login and
// change-password.
func (h *Handler) serviceError(c *gin.Context, log *slog.Logger, err error, credentialsMsg string) {
	var vErr *service.ValidationError

	switch {
	case errors.As(err, &vErr):
		newErrorResponse(c, http.StatusBadRequest, vErr.Reason)
	case errors.Is(err, service.ErrUsernameTaken):
		newErrorResponse(c, http.StatusBadRequest, "Username already exists")
	case errors.Is(err, service.ErrEmailTaken):
		newErrorResponse(c, http.StatusBadRequest, "Email already exists")
	case errors.Is(err, service.ErrInvalidCredentials):
		newErrorResponse(c, http.StatusUnauthorized, credentialsMsg)
	case errors.Is(err, service.ErrTokenNotFound):
		unauthorized(c, "Refresh token not found")
	case errors.Is(err, service.ErrInvalidToken):
		unauthorized(c, "Invalid refresh token")
	default:
		log.Error("request failed", slog.Any("error", err))

		internalError(c)
	}
}
