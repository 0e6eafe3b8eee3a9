package middleware

import "github.com/labstack/echo/v4"

// Context keys set by the auth middleware.
const (
	ctxStaffID = "staff_id"
	ctxRole    = "role"
	ctxKiosk   = "kiosk_lane"
)

// StaffID returns the authenticated staff member, or "" for kiosk and
// anonymous requests.
func StaffID(c echo.Context) string {
	s, _ := c.Get(ctxStaffID).(string)
	return s
}

// Role returns the staff role claim, or "".
func Role(c echo.Context) string {
	s, _ := c.Get(ctxRole).(string)
	return s
}

// KioskLane returns the lane a kiosk token was verified for, or "".
func KioskLane(c echo.Context) string {
	s, _ := c.Get(ctxKiosk).(string)
	return s
}

// principal identifies the caller for rate limiting and logs.
func principal(c echo.Context) string {
	if id := StaffID(c); id != "" {
		return "staff:" + id
	}
	if lane := KioskLane(c); lane != "" {
		return "kiosk:" + lane
	}
	return "anon"
}
