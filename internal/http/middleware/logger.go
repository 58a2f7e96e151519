package middleware

import (
	"log/slog"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/European-XFEL/zulip-write-only-proxy/common/id"
	"github.com/European-XFEL/zulip-write-only-proxy/common/logger"
)

const RequestIDHeader = "X-Request-ID"

// Logger assigns a request id, puts it in the log context and logs one line
// per request. Query strings are left out since clients pass message topics
// there.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := id.New()

		ctx := logger.WithLogFields(c.Request.Context(), logger.LogFields{
			RequestID: &requestID,
			Component: "zwop.http",
		})
		c.Request = c.Request.WithContext(ctx)
		c.Header(RequestIDHeader, strconv.FormatInt(requestID, 10))

		c.Next()

		status := c.Writer.Status()
		ctx = c.Request.Context()

		attrs := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"latency_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
			"user_agent", c.Request.UserAgent(),
		}

		if len(c.Errors) > 0 {
			attrs = append(attrs, "errors", c.Errors.String())
		}

		switch {
		case status >= 500:
			slog.ErrorContext(ctx, "request failed", attrs...)
		case status >= 400:
			slog.WarnContext(ctx, "request error", attrs...)
		default:
			slog.InfoContext(ctx, "request", attrs...)
		}
	}
}
