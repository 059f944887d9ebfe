package server

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ncobase/nsearch/ctxutil"
	"github.com/ncobase/nsearch/logging/logger"
	"github.com/sirupsen/logrus"
)

// TraceHeader carries the trace id of a request in both directions
const TraceHeader = "X-Trace-ID"

// traceMiddleware accepts or assigns a trace id and exposes it to handlers
// through the request context.
func traceMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := ctxutil.WithGinContext(c.Request.Context(), c)
		if id := c.GetHeader(TraceHeader); id != "" {
			ctx = ctxutil.SetTraceID(ctx, id)
		}
		ctx, traceID := ctxutil.EnsureTraceID(ctx)
		c.Request = c.Request.WithContext(ctx)
		c.Header(TraceHeader, traceID)
		c.Next()
	}
}

func loggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		entry := logger.WithFields(c.Request.Context(), logrus.Fields{
			"method":   method,
			"path":     path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
			"ip":       c.ClientIP(),
		})
		if len(c.Errors) > 0 {
			entry.WithField("error", c.Errors.Last().Error()).Warn("HTTP request")
			return
		}
		entry.Info("HTTP request")
	}
}
