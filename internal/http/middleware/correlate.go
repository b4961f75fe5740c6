package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/yungbote/neurobridge-chat/internal/platform/ctxutil"
)

const (
	headerRequestID = "X-Request-Id"
	headerTraceID   = "X-Trace-Id"
	headerStreamID  = "X-Stream-Id"

	maxRequestIDLen = 128
)

// Correlate stamps every request with a request id and a trace id and echoes
// both on the response. A caller-supplied request id is kept when it is
// short and printable. The trace id comes from the active span so that log
// lines match the exported trace; without one a caller X-Trace-Id is used.
func Correlate() gin.HandlerFunc {
	return func(c *gin.Context) {
		corr := &ctxutil.Correlation{
			RequestID: inboundRequestID(c.GetHeader(headerRequestID)),
			TraceID:   spanTraceID(c),
		}
		if corr.TraceID == "" {
			corr.TraceID = strings.TrimSpace(c.GetHeader(headerTraceID))
		}
		if corr.TraceID == "" {
			corr.TraceID = corr.RequestID
		}

		c.Request = c.Request.WithContext(ctxutil.WithCorrelation(c.Request.Context(), corr))
		h := c.Writer.Header()
		h.Set(headerRequestID, corr.RequestID)
		h.Set(headerTraceID, corr.TraceID)
		c.Next()
	}
}

func inboundRequestID(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || len(raw) > maxRequestIDLen {
		return uuid.NewString()
	}
	for _, r := range raw {
		if r < 0x21 || r > 0x7e {
			return uuid.NewString()
		}
	}
	return raw
}

func spanTraceID(c *gin.Context) string {
	sc := trace.SpanContextFromContext(c.Request.Context())
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}
