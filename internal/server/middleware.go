package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jonesrussell/north-cloud/feedmaker/internal/logger"
)

const (
	requestIDHeader = "X-Request-ID"
	requestIDKey    = "request_id"
)

// requestID echoes the caller's X-Request-ID or assigns a fresh one.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

// quietPath reports endpoints polled by probes and scrapers.
func quietPath(path string) bool {
	return path == "/metrics" || strings.HasPrefix(path, "/health")
}

// accessLog logs each request once it has been served. A panic in a handler
// is turned into a 500 and logged with the same request fields.
func accessLog(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		reqLog := log.With(
			logger.String("request_id", c.GetString(requestIDKey)),
			logger.String("method", c.Request.Method),
			logger.String("path", path),
		)

		defer func() {
			if rec := recover(); rec != nil {
				reqLog.Error("Handler panicked", logger.Any("panic", rec))
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			}

			status := c.Writer.Status()
			fields := []logger.Field{
				logger.Int("status", status),
				logger.Duration("duration", time.Since(start)),
				logger.String("client_ip", c.ClientIP()),
			}
			if errs := c.Errors.ByType(gin.ErrorTypeAny); len(errs) > 0 {
				fields = append(fields, logger.Strings("errors", errs.Errors()))
			}
			switch {
			case status >= http.StatusInternalServerError:
				reqLog.Error("Request served", fields...)
			case quietPath(path):
				reqLog.Debug("Request served", fields...)
			default:
				reqLog.Info("Request served", fields...)
			}
		}()

		c.Next()
	}
}
