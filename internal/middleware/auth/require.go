package auth

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/shopagent/shopagent/internal/models"
)

// RequireLogin resolves the cookie tokens into a Principal. Handlers only
// ever see the principal, never the raw claims.
func (t *TokenService) RequireLogin(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		claims, err := t.resolve(c)
		if err != nil {
			return err
		}

		sub, ok := claims["sub"].(float64)
		if !ok {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
		}
		role, _ := claims["role"].(string)

		SetPrincipal(c, Principal{User: models.User{ID: uint(sub), Role: role}})
		return next(c)
	}
}

// AdminOnly gates admin routes; the rejection is deliberately generic.
func (t *TokenService) AdminOnly(next echo.HandlerFunc) echo.HandlerFunc {
	return t.RequireLogin(func(c echo.Context) error {
		p, err := PrincipalFrom(c)
		if err != nil {
			return err
		}
		if p.User.Role != models.RoleAdmin {
			return echo.NewHTTPError(http.StatusForbidden, "forbidden")
		}
		return next(c)
	})
}
