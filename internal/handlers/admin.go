package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/shopagent/shopagent/internal/logging"
	"github.com/shopagent/shopagent/internal/search"
	"github.com/shopagent/shopagent/internal/service/order"
	"github.com/shopagent/shopagent/internal/service/user"
	"github.com/shopagent/shopagent/internal/util"
)

type AdminHandler struct {
	DB     *gorm.DB
	Orders *order.Service
	Users  *user.Service
	Search *search.OrderSearch
}

func (h *AdminHandler) Quote(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "admin.quote")

	actor, err := loadActor(c, h.DB)
	if err != nil {
		return err
	}
	id, err := uintParam(c, "id")
	if err != nil {
		return err
	}

	var req struct {
		ItemCost         string `json:"item_cost"`
		ServiceFee       string `json:"service_fee"`
		ShippingEstimate string `json:"shipping_estimate"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	item, err1 := decimal.NewFromString(req.ItemCost)
	fee, err2 := decimal.NewFromString(req.ServiceFee)
	shipping, err3 := decimal.NewFromString(req.ShippingEstimate)
	if err1 != nil || err2 != nil || err3 != nil {
		l.Warn("quote_error", "order_id", id, "reason", "bad amounts")
		return echo.NewHTTPError(http.StatusBadRequest, "item_cost, service_fee and shipping_estimate must be decimal strings")
	}

	o, err := h.Orders.ProvideQuote(ctx, actor, id, item, fee, shipping)
	if err != nil {
		l.Warn("quote_error", "order_id", id, "error", err)
		return httpError(err)
	}

	l.Info("quote_success", "order_id", id, "total", o.TotalCost.Decimal.StringFixed(2))
	return c.JSON(http.StatusOK, map[string]interface{}{"order": o})
}

func (h *AdminHandler) UpdateStatus(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "admin.update_status")

	actor, err := loadActor(c, h.DB)
	if err != nil {
		return err
	}
	id, err := uintParam(c, "id")
	if err != nil {
		return err
	}

	var req struct {
		Status string `json:"status"`
	}
	if err := c.Bind(&req); err != nil || req.Status == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "status is required")
	}

	o, err := h.Orders.UpdateStatus(ctx, actor, id, req.Status)
	if err != nil {
		l.Warn("update_status_error", "order_id", id, "status", req.Status, "error", err)
		return httpError(err)
	}

	l.Info("update_status_success", "order_id", id, "status", o.Status)
	return c.JSON(http.StatusOK, map[string]interface{}{"order": o})
}

func (h *AdminHandler) AttachLogistics(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "admin.logistics")

	actor, err := loadActor(c, h.DB)
	if err != nil {
		return err
	}
	id, err := uintParam(c, "id")
	if err != nil {
		return err
	}

	var req order.LogisticsInput
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	logistics, err := h.Orders.AttachLogistics(ctx, actor, id, req)
	if err != nil {
		l.Warn("logistics_error", "order_id", id, "error", err)
		return httpError(err)
	}

	l.Info("logistics_success", "order_id", id, "tracking_number", logistics.TrackingNumber)
	return c.JSON(http.StatusOK, map[string]interface{}{"logistics": logistics})
}

func (h *AdminHandler) ListOrders(c echo.Context) error {
	ctx := c.Request().Context()

	if _, err := loadActor(c, h.DB); err != nil {
		return err
	}

	page, size := pageParams(c)
	orders, total, err := h.Orders.ListAllOrders(ctx, c.QueryParam("status"), page, size)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"orders": orders,
		"total":  total,
		"page":   page,
	})
}

func (h *AdminHandler) SearchOrders(c echo.Context) error {
	ctx := c.Request().Context()

	if _, err := loadActor(c, h.DB); err != nil {
		return err
	}

	query := c.QueryParam("q")
	if query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "q is required")
	}

	page, size := pageParams(c)
	from, limit := util.Paginate(page, size)
	total, orders, err := h.Search.SearchOrders(ctx, query, from, limit)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"orders": orders,
		"total":  total,
		"page":   page,
	})
}

func (h *AdminHandler) ListUsers(c echo.Context) error {
	ctx := c.Request().Context()

	actor, err := loadActor(c, h.DB)
	if err != nil {
		return err
	}

	page, size := pageParams(c)
	users, total, err := h.Users.ListUsers(ctx, actor, page, size)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"users": users,
		"total": total,
		"page":  page,
	})
}

func (h *AdminHandler) AdjustBalance(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "admin.adjust_balance")

	actor, err := loadActor(c, h.DB)
	if err != nil {
		return err
	}
	id, err := uintParam(c, "id")
	if err != nil {
		return err
	}

	var req struct {
		Delta string `json:"delta"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	delta, err := decimal.NewFromString(req.Delta)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "delta must be a decimal string")
	}

	u, err := h.Users.AdjustBalance(ctx, actor, id, delta)
	if err != nil {
		l.Warn("adjust_balance_error", "user_id", id, "error", err)
		return httpError(err)
	}

	l.Info("adjust_balance_success", "user_id", id, "balance", u.Balance.StringFixed(2))
	return c.JSON(http.StatusOK, map[string]interface{}{"user": u})
}
