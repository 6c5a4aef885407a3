package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"github.com/shopagent/shopagent/internal/logging"
	"github.com/shopagent/shopagent/internal/service/order"
)

type OrderHandler struct {
	DB  *gorm.DB
	Svc *order.Service
}

func (h *OrderHandler) Submit(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "order.submit")

	actor, err := loadActor(c, h.DB)
	if err != nil {
		return err
	}

	var req order.SubmitInput
	if err := c.Bind(&req); err != nil {
		l.Warn("submit_order_error", "status", 400, "reason", "invalid body", "error", err)
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	o, err := h.Svc.SubmitOrder(ctx, actor, req)
	if err != nil {
		l.Warn("submit_order_error", "error", err)
		return httpError(err)
	}

	l.Info("submit_order_success", "order_id", o.ID, "order_number", o.OrderNumber)
	return c.JSON(http.StatusCreated, map[string]interface{}{"order": o})
}

func (h *OrderHandler) List(c echo.Context) error {
	ctx := c.Request().Context()

	actor, err := loadActor(c, h.DB)
	if err != nil {
		return err
	}

	page, size := pageParams(c)
	orders, total, err := h.Svc.ListOrders(ctx, actor.ID, page, size)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"orders": orders,
		"total":  total,
		"page":   page,
	})
}

func (h *OrderHandler) Get(c echo.Context) error {
	ctx := c.Request().Context()

	actor, err := loadActor(c, h.DB)
	if err != nil {
		return err
	}
	id, err := uintParam(c, "id")
	if err != nil {
		return err
	}

	o, err := h.Svc.GetOrder(ctx, actor, id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"order": o})
}

// NewForm returns the constraints the order creation form needs.
func (h *OrderHandler) NewForm(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"max_images":  5,
		"image_types": []string{".jpg", ".jpeg", ".png", ".gif", ".webp"},
	})
}

func (h *OrderHandler) AcceptQuote(c echo.Context) error {
	return h.resolveQuote(c, "accept")
}

func (h *OrderHandler) RejectQuote(c echo.Context) error {
	return h.resolveQuote(c, "reject")
}

func (h *OrderHandler) resolveQuote(c echo.Context, action string) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "order."+action+"_quote")

	actor, err := loadActor(c, h.DB)
	if err != nil {
		return err
	}
	id, err := uintParam(c, "id")
	if err != nil {
		return err
	}

	var o interface{}
	if action == "accept" {
		o, err = h.Svc.AcceptQuote(ctx, actor, id)
	} else {
		o, err = h.Svc.RejectQuote(ctx, actor, id)
	}
	if err != nil {
		l.Warn(action+"_quote_error", "order_id", id, "error", err)
		return httpError(err)
	}

	l.Info(action+"_quote_success", "order_id", id)
	return c.JSON(http.StatusOK, map[string]interface{}{"order": o})
}

func (h *OrderHandler) Pay(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "order.pay")

	actor, err := loadActor(c, h.DB)
	if err != nil {
		return err
	}
	id, err := uintParam(c, "id")
	if err != nil {
		return err
	}

	var req struct {
		Method string `json:"method"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if req.Method == "" {
		req.Method = order.PayMethodBalance
	}

	o, checkout, err := h.Svc.PayOrder(ctx, actor, id, req.Method)
	if err != nil {
		l.Warn("pay_order_error", "order_id", id, "method", req.Method, "error", err)
		return httpError(err)
	}

	l.Info("pay_order_success", "order_id", id, "method", req.Method, "status", o.Status)
	resp := map[string]interface{}{"order": o}
	if checkout != nil {
		resp["checkout"] = checkout
	}
	return c.JSON(http.StatusOK, resp)
}
