package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/iliyamo/lane-checkin/internal/log"
)

// RequestLogger logs one line per request. Server errors log at error
// level, client errors at warn.
func RequestLogger() echo.MiddlewareFunc {
	logger := log.WithComponent("http")
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			req, res := c.Request(), c.Response()
			var ev *zerolog.Event
			switch {
			case res.Status >= 500:
				ev = logger.Error().Err(err)
			case res.Status >= 400:
				ev = logger.Warn()
			default:
				ev = logger.Info()
			}
			ev = ev.Str("method", req.Method).
				Str("route", c.Path()).
				Int("status", res.Status).
				Dur("latency", time.Since(start)).
				Str("principal", principal(c)).
				Str("request_id", res.Header().Get(echo.HeaderXRequestID))
			if lane := c.Param("lane"); lane != "" {
				ev = ev.Str("lane_id", lane)
			}
			ev.Msg("request")
			return nil
		}
	}
}
