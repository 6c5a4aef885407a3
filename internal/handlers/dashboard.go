package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"github.com/shopagent/shopagent/internal/logging"
	"github.com/shopagent/shopagent/internal/middleware/auth"
	"github.com/shopagent/shopagent/internal/models"
	"github.com/shopagent/shopagent/internal/service/membership"
	"github.com/shopagent/shopagent/internal/service/user"
)

type DashboardHandler struct {
	DB            *gorm.DB
	Memberships   *membership.Service
	DefaultLocale string
}

// Show aggregates the signed-in user's order counts, balance and membership
// into one response. The locale is resolved here once and echoed back so the
// client never has to re-derive it.
func (h *DashboardHandler) Show(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "dashboard.show")

	actor, err := loadActor(c, h.DB)
	if err != nil {
		return err
	}

	type statusCount struct {
		Status string `json:"status"`
		Count  int64  `json:"count"`
	}
	var counts []statusCount
	if err := h.DB.WithContext(ctx).Model(&models.Order{}).
		Select("status, count(*) as count").
		Where("user_id = ?", actor.ID).
		Group("status").
		Scan(&counts).Error; err != nil {
		l.Error("dashboard_counts_failed", "user_id", actor.ID, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}

	byStatus := map[string]int64{}
	var total int64
	for _, sc := range counts {
		byStatus[sc.Status] = sc.Count
		total += sc.Count
	}

	active, err := h.Memberships.ActiveFor(ctx, actor.ID)
	if err != nil {
		l.Error("dashboard_membership_failed", "user_id", actor.ID, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}

	sessionLocale := ""
	if cookie, err := c.Cookie("locale"); err == nil {
		sessionLocale = cookie.Value
	}
	locale := user.ResolveLocale(actor, sessionLocale, h.DefaultLocale)

	return c.JSON(http.StatusOK, map[string]interface{}{
		"balance":           actor.Balance,
		"orders_total":      total,
		"orders_by_status":  byStatus,
		"active_membership": active,
		"locale":            locale,
	})
}

// SetLocale stores the session locale preference in a cookie and, for
// authenticated non-demo users, persists it on the account.
func (h *DashboardHandler) SetLocale(c echo.Context) error {
	ctx := c.Request().Context()

	var req struct {
		Locale string `json:"locale"`
	}
	if err := c.Bind(&req); err != nil || req.Locale == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "locale is required")
	}

	c.SetCookie(&http.Cookie{
		Name:     "locale",
		Value:    req.Locale,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	if p, err := auth.PrincipalFrom(c); err == nil && !p.Demo {
		if err := h.DB.WithContext(ctx).Model(&models.User{}).
			Where("id = ?", p.User.ID).Update("language", req.Locale).Error; err != nil {
			logging.FromContext(ctx).Warn("locale_persist_failed", "user_id", p.User.ID, "error", err)
		}
	}
	return c.NoContent(http.StatusNoContent)
}
