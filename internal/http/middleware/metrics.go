package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/neurobridge-chat/internal/observability"
)

var probeRoutes = map[string]struct{}{
	"/healthcheck": {},
	"/readyz":      {},
	"/metrics":     {},
}

func isProbe(route string) bool {
	_, ok := probeRoutes[route]
	return ok
}

// RouteMetrics records per-route request counts and latency. Probe and scrape
// routes are not observed, and requests that match no route share a single
// "unmatched" label so arbitrary paths cannot grow the series set.
func RouteMetrics(m *observability.Metrics) gin.HandlerFunc {
	if m == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		route := c.FullPath()
		if isProbe(route) {
			c.Next()
			return
		}
		if route == "" {
			route = "unmatched"
		}

		m.APIInflightInc()
		start := time.Now()
		defer func() {
			m.APIInflightDec()
			m.ObserveAPI(c.Request.Method, route, strconv.Itoa(c.Writer.Status()), time.Since(start))
		}()
		c.Next()
	}
}
