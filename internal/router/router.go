// Package router registers the HTTP surface on an Echo instance.
package router

import (
	"database/sql"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/iliyamo/lane-checkin/internal/handler"
	"github.com/iliyamo/lane-checkin/internal/middleware"
)

// Staff roles allowed to drive a register.
const (
	RoleStaff = "STAFF"
	RoleAdmin = "ADMIN"
)

// RegisterRoutes exposes the health check and the Prometheus scrape
// endpoint.
func RegisterRoutes(e *echo.Echo, db *sql.DB) {
	e.GET("/healthz", handler.Health(db))
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

// RegisterAuth registers staff login under /v1/auth and the authenticated
// identity endpoints under /v1.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, jwtSecret string, limit echo.MiddlewareFunc) {
	g := e.Group("/v1/auth", limit)
	g.POST("/login", a.Login)
	g.POST("/refresh", a.Refresh)

	auth := e.Group("/v1", middleware.JWTAuth(jwtSecret), middleware.RequireRole(RoleStaff, RoleAdmin))
	auth.GET("/me", a.Me)
	auth.POST("/auth/logout", a.Logout)
}

// RegisterPublic registers unauthenticated aggregate reads. cache wraps
// each of them.
func RegisterPublic(e *echo.Echo, p *handler.PublicHandler, cache echo.MiddlewareFunc) {
	g := e.Group("/v1", cache)
	g.GET("/waitlist/info", p.WaitlistInfo)
	g.GET("/inventory/available", p.Availability)
}
