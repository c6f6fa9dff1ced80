package middleware

import (
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// Logger emits one structured line per request. Webhook deliveries and link
// flows are correlated downstream on request_id, so one is minted here when
// neither the caller nor an upstream middleware supplied it.
func Logger(logger ectologger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			req := c.Request()
			res := c.Response()
			start := time.Now()
			if err = next(c); err != nil {
				c.Error(err)
			}

			id := req.Header.Get(echo.HeaderXRequestID)
			if id == "" {
				id = res.Header().Get(echo.HeaderXRequestID)
				if id == "" {
					id = uuid.New().String()
				}
			}

			logger.WithContext(req.Context()).WithFields(map[string]any{
				"request_id":    id,
				"method":        req.Method,
				"route":         c.Path(),
				"uri":           req.RequestURI,
				"status":        res.Status,
				"remote_ip":     c.RealIP(),
				"user_agent":    req.UserAgent(),
				"duration_ms":   time.Since(start).Milliseconds(),
				"response_size": res.Size,
			}).Info("request served")

			return nil
		}
	}
}
