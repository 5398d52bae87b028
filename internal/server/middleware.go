package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/septivank/appliance-telemetry/internal/logging"
	"go.uber.org/zap"
)

const (
	HeaderRequestID     = "X-Request-Id"
	contextRequestIDKey = "request_id"
)

// RequestLogger assigns a request id and writes one access log line per
// request.
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := ensureRequestID(c)

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		}
		if appliance := c.Param("appliance_name"); appliance != "" {
			fields = append(fields, zap.String("appliance_name", appliance))
		}
		if lastErr := c.Errors.Last(); lastErr != nil {
			fields = append(fields,
				zap.String("error_type", classifyError(lastErr.Err)),
				zap.Error(lastErr.Err),
			)
		}

		log := logging.WithRequestID(logger, requestID)
		switch {
		case route == "/metrics" || route == "/health":
			log.Debug("http_request", fields...)
		case status >= http.StatusInternalServerError:
			log.Error("http_request", fields...)
		default:
			log.Info("http_request", fields...)
		}
	}
}

func ensureRequestID(c *gin.Context) string {
	requestID := strings.TrimSpace(c.GetHeader(HeaderRequestID))
	if requestID == "" {
		requestID = uuid.NewString()
	}

	c.Set(contextRequestIDKey, requestID)
	c.Header(HeaderRequestID, requestID)
	return requestID
}
