package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

var errInvalidToken = errors.New("invalid token")

// parseStaffToken validates an HS256 access token and returns its subject
// and role claims.
func parseStaffToken(secret, raw string) (staffID, role string, err error) {
	tok, err := jwt.Parse(raw, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !tok.Valid {
		return "", "", errInvalidToken
	}
	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return "", "", errInvalidToken
	}
	staffID, _ = claims["sub"].(string)
	role, _ = claims["role"].(string)
	if staffID == "" {
		return "", "", errInvalidToken
	}
	return staffID, role, nil
}

func bearer(c echo.Context) string {
	auth := c.Request().Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

// JWTAuth validates the staff Bearer token and stores the staff ID and role
// in the context under "staff_id" and "role".
func JWTAuth(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw := bearer(c)
			if raw == "" {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
			}
			staffID, role, err := parseStaffToken(secret, raw)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
			}
			c.Set(ctxStaffID, staffID)
			c.Set(ctxRole, role)
			return next(c)
		}
	}
}
