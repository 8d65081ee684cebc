package httpapi

import (
	"crypto/subtle"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	glog "github.com/goliatone/go-logger/glog"
	"github.com/google/uuid"
)

const (
	HeaderRequestID  = "X-Request-ID"
	contextRequestID = "request_id"
)

// RequestID propagates an inbound X-Request-ID or assigns a new one.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := strings.TrimSpace(c.GetHeader(HeaderRequestID))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(contextRequestID, requestID)
		c.Header(HeaderRequestID, requestID)
		c.Next()
	}
}

func RequestLogger(logger glog.Logger) gin.HandlerFunc {
	logger = glog.Ensure(logger)
	return func(c *gin.Context) {
		startedAt := time.Now()
		c.Next()
		args := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(startedAt).Milliseconds(),
			"request_id", c.GetString(contextRequestID),
		}
		requestLogger := logger.WithContext(c.Request.Context())
		if c.Writer.Status() >= http.StatusInternalServerError {
			requestLogger.Error("request completed", args...)
			return
		}
		requestLogger.Info("request completed", args...)
	}
}

func Recovery(logger glog.Logger) gin.HandlerFunc {
	logger = glog.Ensure(logger)
	return func(c *gin.Context) {
		defer func() {
			if recovered := recover(); recovered != nil {
				logger.Error("panic recovered",
					"error", recovered,
					"stack", string(debug.Stack()),
					"method", c.Request.Method,
					"path", c.Request.URL.Path,
					"request_id", c.GetString(contextRequestID),
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, errorBody{
					Success: false,
					Error:   "internal server error",
				})
			}
		}()
		c.Next()
	}
}

// RequireBearer rejects requests whose Authorization header does not carry
// the configured bearer token.
func RequireBearer(token string) gin.HandlerFunc {
	expected := []byte(token)
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		presented, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(presented)), expected) != 1 {
			c.Header("WWW-Authenticate", `Bearer realm="credentials"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody{
				Success: false,
				Error:   "missing or invalid authorization header",
				Code:    "UNAUTHORIZED",
			})
			return
		}
		c.Next()
	}
}
