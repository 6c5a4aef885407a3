package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/shopagent/shopagent/internal/logging"
	"github.com/shopagent/shopagent/internal/service/membership"
	"github.com/shopagent/shopagent/internal/service/payment"
)

type MembershipHandler struct {
	DB  *gorm.DB
	Svc *membership.Service
}

func (h *MembershipHandler) StartTrial(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "membership.trial")

	actor, err := loadActor(c, h.DB)
	if err != nil {
		return err
	}

	m, err := h.Svc.StartTrial(ctx, actor)
	if err != nil {
		l.Warn("trial_error", "user_id", actor.ID, "error", err)
		return httpError(err)
	}

	l.Info("trial_success", "user_id", actor.ID, "membership_id", m.ID)
	return c.JSON(http.StatusCreated, map[string]interface{}{"membership": m})
}

func (h *MembershipHandler) Purchase(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "membership.purchase")

	actor, err := loadActor(c, h.DB)
	if err != nil {
		return err
	}

	var req struct {
		Price string `json:"price"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	price, err := decimal.NewFromString(req.Price)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "price must be a decimal string")
	}

	m, err := h.Svc.Purchase(ctx, actor, price)
	if err != nil {
		l.Warn("purchase_error", "user_id", actor.ID, "error", err)
		return httpError(err)
	}

	l.Info("purchase_success", "user_id", actor.ID, "membership_id", m.ID)
	return c.JSON(http.StatusCreated, map[string]interface{}{"membership": m})
}

func (h *MembershipHandler) Cancel(c echo.Context) error {
	ctx := c.Request().Context()

	actor, err := loadActor(c, h.DB)
	if err != nil {
		return err
	}

	m, err := h.Svc.Cancel(ctx, actor)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"membership": m})
}

// ExpireDue sweeps memberships past their expiry. Admin-only; meant to be
// hit by a scheduler.
func (h *MembershipHandler) ExpireDue(c echo.Context) error {
	ctx := c.Request().Context()

	n, err := h.Svc.ExpireDue(ctx)
	if err != nil {
		return httpError(err)
	}

	logging.FromContext(ctx).Info("memberships_expired", "count", n)
	return c.JSON(http.StatusOK, map[string]interface{}{"expired": n})
}

type PaymentHandler struct {
	DB  *gorm.DB
	Svc *payment.Service
}

func (h *PaymentHandler) Deposit(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "payment.deposit")

	actor, err := loadActor(c, h.DB)
	if err != nil {
		return err
	}

	var req struct {
		Amount string `json:"amount"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "amount must be a decimal string")
	}

	p, checkout, err := h.Svc.Deposit(ctx, actor, amount)
	if err != nil {
		l.Warn("deposit_error", "user_id", actor.ID, "error", err)
		return httpError(err)
	}

	l.Info("deposit_created", "user_id", actor.ID, "reference", p.Reference)
	return c.JSON(http.StatusCreated, map[string]interface{}{
		"payment":  p,
		"checkout": checkout,
	})
}

// Confirm is the gateway webhook callback; it carries no session, only the
// payment reference.
func (h *PaymentHandler) Confirm(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "payment.confirm")

	var req struct {
		Reference string `json:"reference"`
	}
	if err := c.Bind(&req); err != nil || req.Reference == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "reference is required")
	}

	p, err := h.Svc.Confirm(ctx, req.Reference)
	if err != nil {
		l.Warn("confirm_error", "reference", req.Reference, "error", err)
		return httpError(err)
	}

	l.Info("confirm_success", "reference", req.Reference, "status", p.Status)
	return c.JSON(http.StatusOK, map[string]interface{}{"payment": p})
}
