package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/lane-checkin/internal/model"
	"github.com/iliyamo/lane-checkin/internal/service"
)

// KioskHandler serves the customer-facing device of a lane. A kiosk only
// ever acts on its lane's current session, acting as the CUSTOMER.
type KioskHandler struct {
	Svc *service.Services
}

func NewKioskHandler(svc *service.Services) *KioskHandler {
	return &KioskHandler{Svc: svc}
}

type respondReq struct {
	Accept *bool `json:"accept" validate:"required"`
}

type checkoutRequestReq struct {
	CustomerID string `json:"customer_id" validate:"required"`
}

// session resolves the lane's current session ID.
func (h *KioskHandler) session(c echo.Context) (string, error) {
	ctx, cancel := reqCtx(c)
	defer cancel()
	sess, err := h.Svc.Lanes.ActiveSession(ctx, c.Param("lane"))
	if err != nil {
		return "", err
	}
	return sess.ID, nil
}

func (h *KioskHandler) SetLanguage(c echo.Context) error {
	var req languageReq
	if err := bind(c, &req); err != nil {
		return err
	}
	id, err := h.session(c)
	if err != nil {
		return fail(c, err)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	sess, err := h.Svc.Lanes.SetLanguage(ctx, id, req.Language)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, sess)
}

func (h *KioskHandler) Propose(c echo.Context) error {
	var req proposeReq
	if err := bind(c, &req); err != nil {
		return err
	}
	id, err := h.session(c)
	if err != nil {
		return fail(c, err)
	}
	return propose(c, h.Svc, id, model.ActorCustomer, req)
}

func (h *KioskHandler) Confirm(c echo.Context) error {
	var req confirmReq
	if err := bind(c, &req); err != nil {
		return err
	}
	id, err := h.session(c)
	if err != nil {
		return fail(c, err)
	}
	return confirm(c, h.Svc, id, model.ActorCustomer, req)
}

func (h *KioskHandler) Acknowledge(c echo.Context) error {
	id, err := h.session(c)
	if err != nil {
		return fail(c, err)
	}
	return acknowledge(c, h.Svc, id, model.ActorCustomer)
}

// RespondToAssignment accepts or declines a cross-type assignment.
func (h *KioskHandler) RespondToAssignment(c echo.Context) error {
	var req respondReq
	if err := bind(c, &req); err != nil {
		return err
	}
	id, err := h.session(c)
	if err != nil {
		return fail(c, err)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	sess, err := h.Svc.Reservations.CustomerRespond(ctx, id, *req.Accept)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, sess)
}

func (h *KioskHandler) Sign(c echo.Context) error {
	var req signReq
	if err := bind(c, &req); err != nil {
		return err
	}
	id, err := h.session(c)
	if err != nil {
		return fail(c, err)
	}
	return sign(c, h.Svc, id, req.Signature)
}

func (h *KioskHandler) RequestCheckout(c echo.Context) error {
	var req checkoutRequestReq
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	visit, err := h.Svc.Checkout.Request(ctx, c.Param("lane"), req.CustomerID)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusAccepted, visit)
}
