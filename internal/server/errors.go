package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/septivank/appliance-telemetry/internal/query"
)

type errorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

// ErrInvalidOrder rejects an order query parameter other than asc or desc.
var ErrInvalidOrder = errors.New("order must be asc or desc")

// ErrorHandlingMiddleware renders the last handler error as a JSON body
// unless the handler already wrote a response.
func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

// AbortWithError records err for ErrorHandlingMiddleware and stops the chain.
func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

// mapError never echoes storage error text: it may name hosts or users.
func mapError(err error) (int, errorPayload) {
	switch {
	case errors.Is(err, ErrInvalidOrder):
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: err.Error(),
		}
	case query.IsInvalid(err):
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: validationMessage(err),
		}
	case query.IsUnavailable(err):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "storage is temporarily unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func validationMessage(err error) string {
	var qErr *query.Error
	if errors.As(err, &qErr) {
		return qErr.Err.Error()
	}
	return err.Error()
}

func classifyError(err error) string {
	_, payload := mapError(err)
	return payload.Type
}
