package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Logger logs one line per request. Bodies are never logged: they carry
// payment references and bank details.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		if raw != "" {
			path = path + "?" + raw
		}
		status := c.Writer.Status()
		log := zerolog.Ctx(c.Request.Context())

		var event *zerolog.Event
		switch {
		case status >= 500:
			event = log.Error()
		case status >= 400:
			event = log.Warn()
		default:
			event = log.Info()
		}

		event = event.
			Str("method", c.Request.Method).
			Str("path", path).
			Str("client_ip", c.ClientIP()).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("user_agent", c.Request.UserAgent())
		if actor := c.GetString(ContextActorID); actor != "" {
			event = event.Str("actor_id", actor)
		}
		if len(c.Errors) > 0 {
			event = event.Err(c.Errors.Last().Err)
		}

		switch {
		case status >= 500:
			event.Msg("Server error")
		case status >= 400:
			event.Msg("Client error")
		default:
			event.Msg("Request processed")
		}
	}
}
