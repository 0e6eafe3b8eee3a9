package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/lane-checkin/internal/utils"
)

// KioskHeader carries the lane token of a customer-facing kiosk.
const KioskHeader = "X-Kiosk-Token"

// kioskToken reads the lane token from the header, or from the
// kiosk_token query parameter for EventSource clients that cannot set
// headers.
func kioskToken(c echo.Context) string {
	if t := c.Request().Header.Get(KioskHeader); t != "" {
		return t
	}
	return c.QueryParam("kiosk_token")
}

// KioskAuth admits requests carrying the token of the lane named by the
// :lane path parameter.
func KioskAuth(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			lane := c.Param("lane")
			if lane == "" || !utils.VerifyKioskToken(secret, lane, kioskToken(c)) {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid kiosk token"})
			}
			c.Set(ctxKiosk, lane)
			return next(c)
		}
	}
}

// LaneObserver admits either side of a lane: the lane's kiosk, or any
// staff member with a valid access token (header or access_token query
// parameter).
func LaneObserver(jwtSecret, kioskSecret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			lane := c.Param("lane")
			if tok := kioskToken(c); tok != "" && utils.VerifyKioskToken(kioskSecret, lane, tok) {
				c.Set(ctxKiosk, lane)
				return next(c)
			}
			raw := bearer(c)
			if raw == "" {
				raw = c.QueryParam("access_token")
			}
			if raw != "" {
				if staffID, role, err := parseStaffToken(jwtSecret, raw); err == nil {
					c.Set(ctxStaffID, staffID)
					c.Set(ctxRole, role)
					return next(c)
				}
			}
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "lane access requires a kiosk or staff token"})
		}
	}
}
