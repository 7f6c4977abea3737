package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/bowatch/bowatch/internal/shared/constants"
	"github.com/bowatch/bowatch/internal/shared/id"
	"github.com/bowatch/bowatch/internal/shared/logger"
)

// RequestID reuses a well-formed X-Request-ID from the caller or mints one,
// and echoes it on the response.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(constants.HeaderXRequestID)
		if !id.IsValidExternal(rid) {
			rid = id.NewRequestID()
		}
		c.Set(constants.ContextKeyRequestID, rid)
		c.Header(constants.HeaderXRequestID, rid)
		c.Next()
	}
}

func Logger(log logger.Interface) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		args := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
			"client_ip", c.ClientIP(),
			"body_size", c.Writer.Size(),
		}
		if rid := c.GetString(constants.ContextKeyRequestID); rid != "" {
			args = append(args, "request_id", rid)
		}
		if len(c.Errors) > 0 {
			args = append(args, "error", c.Errors.String())
		}

		status := c.Writer.Status()
		switch {
		case status >= 500:
			log.Errorw("HTTP request completed with server error", args...)
		case status >= 400:
			log.Warnw("HTTP request completed with client error", args...)
		default:
			log.Debugw("HTTP request completed", args...)
		}
	}
}
