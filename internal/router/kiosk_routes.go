package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/lane-checkin/internal/handler"
	"github.com/iliyamo/lane-checkin/internal/middleware"
)

// RegisterKiosk registers the customer kiosk endpoints. Each request must
// carry the lane's kiosk token; limit is applied after authentication so
// buckets are per lane.
func RegisterKiosk(e *echo.Echo, h *handler.KioskHandler, kioskSecret string, limit echo.MiddlewareFunc) {
	g := e.Group("/v1/kiosk/lanes/:lane", middleware.KioskAuth(kioskSecret), limit)
	g.POST("/language", h.SetLanguage)
	g.POST("/propose", h.Propose)
	g.POST("/confirm", h.Confirm)
	g.POST("/acknowledge", h.Acknowledge)
	g.POST("/assignment/respond", h.RespondToAssignment)
	g.POST("/sign", h.Sign)
	g.POST("/checkout-request", h.RequestCheckout)
}

// RegisterObservers registers the lane snapshot and event stream, open to
// the lane's kiosk and to staff.
func RegisterObservers(e *echo.Echo, h *handler.StreamHandler, jwtSecret, kioskSecret string) {
	g := e.Group("/v1/lanes/:lane", middleware.LaneObserver(jwtSecret, kioskSecret))
	g.GET("/snapshot", h.Snapshot)
	g.GET("/events", h.Events)
}
