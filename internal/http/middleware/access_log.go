package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/neurobridge-chat/internal/platform/ctxutil"
	"github.com/yungbote/neurobridge-chat/internal/platform/logger"
)

// AccessLog writes one line per request once the handler returns. For SSE
// responses that is when the stream closes, so the line is tagged with the
// chat and stream ids and the duration covers the whole stream.
func AccessLog(log *logger.Logger) gin.HandlerFunc {
	if log == nil {
		return func(c *gin.Context) { c.Next() }
	}
	log = log.With("component", "AccessLog")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		streamed := strings.HasPrefix(c.Writer.Header().Get("Content-Type"), "text/event-stream")

		fields := []interface{}{
			"method", c.Request.Method,
			"route", route,
			"status", status,
			"bytes", c.Writer.Size(),
			"duration_ms", time.Since(start).Milliseconds(),
		}
		if streamed {
			fields = append(fields, "sse", true)
		}
		fields = append(fields, ctxutil.CorrelationFrom(c.Request.Context()).Fields()...)
		if rd := ctxutil.GetRequestData(c.Request.Context()); rd != nil && rd.UserID != uuid.Nil {
			fields = append(fields, "user_id", rd.UserID.String(), "user_class", string(rd.UserClass))
		}
		if last := c.Errors.Last(); last != nil {
			fields = append(fields, "error", last.Error())
		}

		msg := "request"
		if streamed {
			msg = "stream closed"
		}
		switch {
		case status >= 500:
			log.Error(msg, fields...)
		case status >= 400:
			log.Warn(msg, fields...)
		case isProbe(route):
			log.Debug(msg, fields...)
		default:
			log.Info(msg, fields...)
		}
	}
}
