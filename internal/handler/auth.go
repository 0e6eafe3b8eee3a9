package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/lane-checkin/internal/config"
	"github.com/iliyamo/lane-checkin/internal/middleware"
	"github.com/iliyamo/lane-checkin/internal/model"
	"github.com/iliyamo/lane-checkin/internal/repository"
	"github.com/iliyamo/lane-checkin/internal/utils"
)

// AuthHandler bundles dependencies for staff auth endpoints.
type AuthHandler struct {
	Cfg    config.Config
	Staff  *repository.StaffRepo
	Tokens *repository.TokenRepo
}

func NewAuthHandler(cfg config.Config, s *repository.StaffRepo, t *repository.TokenRepo) *AuthHandler {
	return &AuthHandler{Cfg: cfg, Staff: s, Tokens: t}
}

type loginReq struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type refreshReq struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type tokenPart struct {
	Token   string    `json:"token"`
	Expires time.Time `json:"expires"`
}

type staffPart struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

type authResp struct {
	Staff   staffPart `json:"staff"`
	Access  tokenPart `json:"access"`
	Refresh tokenPart `json:"refresh"`
}

// issue returns a fresh access/refresh pair for s.
func (h *AuthHandler) issue(ctx context.Context, c echo.Context, status int, s model.Staff) error {
	access, err := utils.NewAccessToken(h.Cfg.JWTSecret, s.ID, s.Role, h.Cfg.AccessTTLMin)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorBody{Error: "issue access failed"})
	}
	refresh, err := utils.NewRefreshToken(h.Cfg.RefreshTTLDays)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorBody{Error: "issue refresh failed"})
	}
	if err := h.Tokens.StoreRefresh(ctx, s.ID, utils.HashRefreshRaw(refresh.Raw), refresh.Exp); err != nil {
		return c.JSON(http.StatusInternalServerError, errorBody{Error: "save refresh failed"})
	}
	return c.JSON(status, authResp{
		Staff:   staffPart{ID: s.ID, Email: s.Email, Name: s.Name, Role: s.Role},
		Access:  tokenPart{Token: access.Token, Expires: access.Exp},
		Refresh: tokenPart{Token: refresh.Raw, Expires: refresh.Exp},
	})
}

// Login verifies staff credentials and returns a token pair.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginReq
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	s, err := h.Staff.GetByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return c.JSON(http.StatusUnauthorized, errorBody{Error: "invalid credentials"})
		}
		return c.JSON(http.StatusInternalServerError, errorBody{Error: "query failed"})
	}
	if !s.IsActive || !utils.VerifyPassword(s.PasswordHash, req.Password) {
		return c.JSON(http.StatusUnauthorized, errorBody{Error: "invalid credentials"})
	}
	return h.issue(ctx, c, http.StatusOK, s)
}

// Refresh rotates a refresh token: the presented one is revoked and a new
// pair is issued.
func (h *AuthHandler) Refresh(c echo.Context) error {
	var req refreshReq
	if err := bind(c, &req); err != nil {
		return err
	}
	hash := utils.HashRefreshRaw(strings.TrimSpace(req.RefreshToken))

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	staffID, err := h.Tokens.ValidateRefresh(ctx, hash, time.Now())
	if err != nil {
		return c.JSON(http.StatusUnauthorized, errorBody{Error: "invalid refresh"})
	}
	s, err := h.Staff.GetByID(ctx, staffID)
	if err != nil || !s.IsActive {
		return c.JSON(http.StatusUnauthorized, errorBody{Error: "invalid refresh"})
	}
	if err := h.Tokens.RevokeByHash(ctx, hash, time.Now()); err != nil {
		return c.JSON(http.StatusInternalServerError, errorBody{Error: "revoke failed"})
	}
	return h.issue(ctx, c, http.StatusOK, s)
}

// Logout revokes the presented refresh token, or every refresh token of
// the authenticated staff member when no token is sent.
func (h *AuthHandler) Logout(c echo.Context) error {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	_ = c.Bind(&req)
	raw := strings.TrimSpace(req.RefreshToken)

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if raw == "" {
		if err := h.Tokens.RevokeAllForStaff(ctx, middleware.StaffID(c), time.Now()); err != nil {
			return c.JSON(http.StatusInternalServerError, errorBody{Error: "logout failed"})
		}
		return c.NoContent(http.StatusNoContent)
	}
	hash := utils.HashRefreshRaw(raw)
	owner, err := h.Tokens.ValidateRefresh(ctx, hash, time.Now())
	if err != nil || owner != middleware.StaffID(c) {
		return c.JSON(http.StatusUnauthorized, errorBody{Error: "invalid refresh token"})
	}
	if err := h.Tokens.RevokeByHash(ctx, hash, time.Now()); err != nil {
		return c.JSON(http.StatusInternalServerError, errorBody{Error: "logout failed"})
	}
	return c.NoContent(http.StatusNoContent)
}

// Me echoes the authenticated staff identity.
func (h *AuthHandler) Me(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{
		"staff_id": middleware.StaffID(c),
		"role":     middleware.Role(c),
	})
}
