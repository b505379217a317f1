package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/ksred/stock-ledger/pkg/correlation"
	"github.com/rs/zerolog/log"
)

// Correlation tags every request with an id, taken from the X-Correlation-ID
// header when the caller sent one. The id is echoed back in the response and
// a logger carrying it is attached to the request context.
func Correlation() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(correlation.Header)
		if id == "" {
			id = uuid.New().String()
		}
		c.Header(correlation.Header, id)
		c.Set("correlationID", id)

		logger := log.With().Str("correlation_id", id).Logger()
		ctx := correlation.NewContext(c.Request.Context(), id)
		c.Request = c.Request.WithContext(logger.WithContext(ctx))

		c.Next()
	}
}

// RequestLogger logs one line per request with its outcome and latency.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		event := log.Info()
		switch {
		case status >= 500:
			event = log.Error()
		case status >= 400:
			event = log.Warn()
		}

		event.
			Str("correlation_id", c.GetString("correlationID")).
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("request handled")
	}
}
