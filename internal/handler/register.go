package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/lane-checkin/internal/middleware"
	"github.com/iliyamo/lane-checkin/internal/model"
	"github.com/iliyamo/lane-checkin/internal/service"
)

const requestTimeout = 5 * time.Second

func reqCtx(c echo.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request().Context(), requestTimeout)
}

// RegisterHandler serves the staff side of a lane.
type RegisterHandler struct {
	Svc *service.Services
}

func NewRegisterHandler(svc *service.Services) *RegisterHandler {
	return &RegisterHandler{Svc: svc}
}

type identifyReq struct {
	CustomerID   string `json:"customer_id" validate:"required"`
	Mode         string `json:"mode" validate:"omitempty,oneof=CHECKIN RENEWAL"`
	RenewalHours *int   `json:"renewal_hours" validate:"omitempty,oneof=2 6"`
}

type languageReq struct {
	Language string `json:"language" validate:"required,max=8"`
}

type proposeReq struct {
	RentalType          string  `json:"rental_type" validate:"required,oneof=LOCKER STANDARD DOUBLE SPECIAL"`
	WaitlistDesiredType *string `json:"waitlist_desired_type" validate:"omitempty,oneof=STANDARD DOUBLE SPECIAL"`
	BackupRentalType    *string `json:"backup_rental_type" validate:"omitempty,oneof=LOCKER STANDARD DOUBLE SPECIAL"`
}

type confirmReq struct {
	RentalType *string `json:"rental_type" validate:"omitempty,oneof=LOCKER STANDARD DOUBLE SPECIAL"`
}

type highlightReq struct {
	RentalType string `json:"rental_type" validate:"required,oneof=LOCKER STANDARD DOUBLE SPECIAL"`
}

type assignReq struct {
	ResourceType string `json:"resource_type" validate:"required,oneof=room locker"`
	ResourceID   string `json:"resource_id" validate:"required"`
}

type markPaidReq struct {
	Method      string  `json:"method" validate:"required"`
	ProviderRef *string `json:"provider_ref"`
}

type signReq struct {
	Signature string `json:"signature" validate:"required"`
}

type checkoutReq struct {
	LaneID string `json:"lane_id"`
}

func rentalPtr(s *string) *model.RentalType {
	if s == nil || *s == "" {
		return nil
	}
	rt := model.RentalType(*s)
	return &rt
}

func (h *RegisterHandler) OpenLane(c echo.Context) error {
	ctx, cancel := reqCtx(c)
	defer cancel()
	sess, err := h.Svc.Lanes.OpenLane(ctx, c.Param("lane"), middleware.StaffID(c))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, sess)
}

// Identify starts (or reuses) the lane's session for a customer.
func (h *RegisterHandler) Identify(c echo.Context) error {
	var req identifyReq
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	sess, err := h.Svc.Lanes.Identify(ctx, service.IdentifyInput{
		LaneID:       c.Param("lane"),
		StaffID:      middleware.StaffID(c),
		CustomerID:   req.CustomerID,
		Mode:         model.Mode(req.Mode),
		RenewalHours: req.RenewalHours,
	})
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, sess)
}

func (h *RegisterHandler) Reset(c echo.Context) error {
	ctx, cancel := reqCtx(c)
	defer cancel()
	sess, err := h.Svc.Lanes.Reset(ctx, c.Param("lane"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, sess)
}

func (h *RegisterHandler) SetLanguage(c echo.Context) error {
	var req languageReq
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	sess, err := h.Svc.Lanes.SetLanguage(ctx, c.Param("id"), req.Language)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, sess)
}

func (h *RegisterHandler) BypassPastDue(c echo.Context) error {
	ctx, cancel := reqCtx(c)
	defer cancel()
	sess, err := h.Svc.Lanes.BypassPastDue(ctx, c.Param("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, sess)
}

func (h *RegisterHandler) Propose(c echo.Context) error {
	var req proposeReq
	if err := bind(c, &req); err != nil {
		return err
	}
	return propose(c, h.Svc, c.Param("id"), model.ActorEmployee, req)
}

func (h *RegisterHandler) Confirm(c echo.Context) error {
	var req confirmReq
	if err := bind(c, &req); err != nil {
		return err
	}
	return confirm(c, h.Svc, c.Param("id"), model.ActorEmployee, req)
}

func (h *RegisterHandler) Acknowledge(c echo.Context) error {
	return acknowledge(c, h.Svc, c.Param("id"), model.ActorEmployee)
}

// Highlight nudges the kiosk towards an option. It always answers 202.
func (h *RegisterHandler) Highlight(c echo.Context) error {
	var req highlightReq
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	h.Svc.Lanes.HighlightOption(ctx, c.Param("id"), model.RentalType(req.RentalType))
	return c.NoContent(http.StatusAccepted)
}

func (h *RegisterHandler) Assign(c echo.Context) error {
	var req assignReq
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	res, err := h.Svc.Reservations.Assign(ctx, c.Param("id"), model.ResourceType(req.ResourceType), req.ResourceID)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *RegisterHandler) CreatePaymentIntent(c echo.Context) error {
	ctx, cancel := reqCtx(c)
	defer cancel()
	pi, err := h.Svc.Lanes.CreatePaymentIntent(ctx, c.Param("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, pi)
}

func (h *RegisterHandler) MarkPaid(c echo.Context) error {
	var req markPaidReq
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	sess, err := h.Svc.Lanes.MarkPaid(ctx, c.Param("id"), req.Method, req.ProviderRef)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, sess)
}

// Sign records a signature captured at the register and commits the visit.
func (h *RegisterHandler) Sign(c echo.Context) error {
	var req signReq
	if err := bind(c, &req); err != nil {
		return err
	}
	return sign(c, h.Svc, c.Param("id"), req.Signature)
}

func (h *RegisterHandler) BypassAgreement(c echo.Context) error {
	ctx, cancel := reqCtx(c)
	defer cancel()
	res, err := h.Svc.Reservations.BypassAgreement(ctx, c.Param("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, res)
}

func (h *RegisterHandler) CompleteCheckout(c echo.Context) error {
	var req checkoutReq
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	res, err := h.Svc.Checkout.Complete(ctx, c.Param("id"), req.LaneID)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

// MarkClean returns a room or locker to service. For rooms the response
// carries the waitlist entry the room was offered to, if any.
func (h *RegisterHandler) MarkClean(t model.ResourceType) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := reqCtx(c)
		defer cancel()
		offered, err := h.Svc.Checkout.MarkClean(ctx, t, c.Param("id"))
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(http.StatusOK, echo.Map{"offered": offered})
	}
}

func (h *RegisterHandler) FulfillUpgrade(c echo.Context) error {
	ctx, cancel := reqCtx(c)
	defer cancel()
	res, err := h.Svc.Waitlist.FulfillUpgrade(ctx, c.Param("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

// ExpireOffers runs the offer sweep immediately.
func (h *RegisterHandler) ExpireOffers(c echo.Context) error {
	ctx, cancel := reqCtx(c)
	defer cancel()
	n, err := h.Svc.Waitlist.ExpireOffers(ctx)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"expired": n})
}

func propose(c echo.Context, svc *service.Services, sessionID string, by model.Actor, req proposeReq) error {
	ctx, cancel := reqCtx(c)
	defer cancel()
	sess, err := svc.Lanes.Propose(ctx, service.ProposeInput{
		SessionID:           sessionID,
		RentalType:          model.RentalType(req.RentalType),
		By:                  by,
		WaitlistDesiredType: rentalPtr(req.WaitlistDesiredType),
		BackupRentalType:    rentalPtr(req.BackupRentalType),
	})
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, sess)
}

func confirm(c echo.Context, svc *service.Services, sessionID string, by model.Actor, req confirmReq) error {
	ctx, cancel := reqCtx(c)
	defer cancel()
	res, err := svc.Lanes.Confirm(ctx, sessionID, by, rentalPtr(req.RentalType))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

func acknowledge(c echo.Context, svc *service.Services, sessionID string, by model.Actor) error {
	ctx, cancel := reqCtx(c)
	defer cancel()
	sess, err := svc.Lanes.Acknowledge(ctx, sessionID, by)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, sess)
}

func sign(c echo.Context, svc *service.Services, sessionID, signature string) error {
	ctx, cancel := reqCtx(c)
	defer cancel()
	res, err := svc.Reservations.Sign(ctx, sessionID, signature)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, res)
}
