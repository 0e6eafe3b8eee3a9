package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/lane-checkin/internal/handler"
	"github.com/iliyamo/lane-checkin/internal/middleware"
	"github.com/iliyamo/lane-checkin/internal/model"
)

// RegisterStaff registers the employee register endpoints under
// /v1/register. Every route requires a staff JWT.
func RegisterStaff(e *echo.Echo, h *handler.RegisterHandler, jwtSecret string) {
	g := e.Group(
		"/v1/register",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(RoleStaff, RoleAdmin),
	)

	g.POST("/lanes/:lane/open", h.OpenLane)
	g.POST("/lanes/:lane/identify", h.Identify)
	g.POST("/lanes/:lane/reset", h.Reset)

	s := g.Group("/sessions/:id")
	s.POST("/language", h.SetLanguage)
	s.POST("/past-due/bypass", h.BypassPastDue)
	s.POST("/propose", h.Propose)
	s.POST("/confirm", h.Confirm)
	s.POST("/acknowledge", h.Acknowledge)
	s.POST("/highlight", h.Highlight)
	s.POST("/assign", h.Assign)
	s.POST("/payment-intent", h.CreatePaymentIntent)
	s.POST("/mark-paid", h.MarkPaid)
	s.POST("/sign", h.Sign)
	s.POST("/bypass-agreement", h.BypassAgreement)

	g.POST("/visits/:id/checkout", h.CompleteCheckout)
	g.POST("/rooms/:id/clean", h.MarkClean(model.ResourceRoom))
	g.POST("/lockers/:id/clean", h.MarkClean(model.ResourceLocker))
	g.POST("/waitlist/:id/fulfill", h.FulfillUpgrade)
	g.POST("/waitlist/expire", h.ExpireOffers, middleware.RequireRole(RoleAdmin))
}
