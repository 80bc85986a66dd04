package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/abhisek/sensei/internal/session"
	"github.com/abhisek/sensei/internal/store"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func RespondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.JSON(status, ErrorEnvelope{
		Error: APIError{
			Message: msg,
			Code:    code,
		},
	})
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

// respondServiceError maps orchestrator errors onto statuses. Unclassified
// errors are logged by the request logger and reported without detail.
func respondServiceError(c *gin.Context, err error) {
	var ve *session.ValidationError
	switch {
	case errors.As(err, &ve) && ve.NotFound:
		RespondError(c, http.StatusNotFound, "not_found", err)
	case errors.As(err, &ve):
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
	case errors.Is(err, session.ErrSessionCompleted):
		RespondError(c, http.StatusConflict, "session_completed", err)
	case errors.Is(err, store.ErrConflict):
		RespondError(c, http.StatusConflict, "conflict", errors.New("session was updated by another request, retry the turn"))
	case errors.Is(err, context.DeadlineExceeded):
		RespondError(c, http.StatusGatewayTimeout, "timeout", errors.New("request timed out"))
	default:
		_ = c.Error(err)
		RespondError(c, http.StatusInternalServerError, "internal", errors.New("internal error"))
	}
}
