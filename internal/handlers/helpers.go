package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"github.com/shopagent/shopagent/internal/middleware/auth"
	"github.com/shopagent/shopagent/internal/models"
	"github.com/shopagent/shopagent/internal/service"
)

// httpError maps service failures to their HTTP shape. Internal detail never
// reaches the response body.
func httpError(err error) error {
	switch {
	case errors.Is(err, service.ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrAuthorization):
		return echo.NewHTTPError(http.StatusForbidden, "forbidden")
	case errors.Is(err, service.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	case errors.Is(err, service.ErrInvalidState):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrInsufficientFunds):
		return echo.NewHTTPError(http.StatusPaymentRequired, "insufficient balance")
	case errors.Is(err, service.ErrExternalService):
		return echo.NewHTTPError(http.StatusBadGateway, "temporary failure, please try again")
	case errors.Is(err, service.ErrStorageUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "service unavailable")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}

// loadActor resolves the request principal into a full user record. Demo
// principals never get here: degraded-mode routes are answered before the
// auth middleware runs.
func loadActor(c echo.Context, db *gorm.DB) (*models.User, error) {
	p, err := auth.PrincipalFrom(c)
	if err != nil {
		return nil, err
	}

	var user models.User
	if err := db.WithContext(c.Request().Context()).First(&user, p.User.ID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, echo.NewHTTPError(http.StatusUnauthorized, "not authenticated")
		}
		return nil, err
	}
	return &user, nil
}

func pageParams(c echo.Context) (page, size int) {
	page = intQuery(c, "page", 1)
	size = intQuery(c, "size", 20)
	return page, size
}

func intQuery(c echo.Context, name string, def int) int {
	n, err := strconv.Atoi(c.QueryParam(name))
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func uintParam(c echo.Context, name string) (uint, error) {
	n, err := strconv.Atoi(c.Param(name))
	if err != nil || n <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return uint(n), nil
}
