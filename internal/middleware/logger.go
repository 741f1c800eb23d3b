package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"omni2api-go/internal/logging"
)

// RequestLogger logs HTTP requests after completion.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		extras := log.Fields{
			"status":     status,
			"latency_ms": logging.DurationMS(latency),
			"user_agent": c.Request.UserAgent(),
			"method":     method,
			"path":       path,
		}
		if p := PrincipalFrom(c); p != nil {
			extras["user_id"] = p.UserID
		}
		if model, ok := c.Get("model"); ok {
			extras["model"] = model
		}
		logging.WithReq(c, extras).Info("http_request")
	}
}
