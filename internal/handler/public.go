package handler

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/lane-checkin/internal/model"
	"github.com/iliyamo/lane-checkin/internal/service"
)

// PublicHandler serves unauthenticated read-only aggregates.
type PublicHandler struct {
	Svc *service.Services
}

func NewPublicHandler(svc *service.Services) *PublicHandler {
	return &PublicHandler{Svc: svc}
}

// WaitlistInfo answers GET /v1/waitlist/info?tier=DOUBLE.
func (h *PublicHandler) WaitlistInfo(c echo.Context) error {
	tier := model.RentalType(strings.ToUpper(strings.TrimSpace(c.QueryParam("tier"))))
	if tier == "" {
		return c.JSON(http.StatusBadRequest, errorBody{Error: "tier is required"})
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	info, err := h.Svc.Waitlist.Info(ctx, tier)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, info)
}

// Availability returns sellable counts per rental type.
func (h *PublicHandler) Availability(c echo.Context) error {
	ctx, cancel := reqCtx(c)
	defer cancel()
	counts, err := h.Svc.Snapshots.Availability(ctx)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"available": counts})
}
