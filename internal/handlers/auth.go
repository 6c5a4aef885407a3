package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"github.com/shopagent/shopagent/internal/hash"
	"github.com/shopagent/shopagent/internal/logging"
	"github.com/shopagent/shopagent/internal/middleware/auth"
	"github.com/shopagent/shopagent/internal/models"
	"github.com/shopagent/shopagent/internal/service/user"
)

type AuthHandler struct {
	DB     *gorm.DB
	Users  *user.Service
	Tokens *auth.TokenService
}

func (h *AuthHandler) Register(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth.register")

	var req user.RegisterInput
	if err := c.Bind(&req); err != nil {
		l.Warn("register_error", "status", 400, "error", err)
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	u, code, err := h.Users.Register(ctx, req)
	if err != nil {
		l.Warn("register_error", "error", err)
		return httpError(err)
	}

	// The code travels to the email notifier, never into the response, but
	// an empty code means delivery was skipped and the account auto-verifies.
	l.Info("register_success", "user_id", u.ID, "code_issued", code != "")
	return c.JSON(http.StatusCreated, map[string]interface{}{"user": u})
}

func (h *AuthHandler) Login(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth.login")

	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	var u models.User
	if err := h.DB.WithContext(ctx).Where("email = ?", req.Email).First(&u).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			l.Warn("login_failed", "reason", "unknown email")
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid credentials")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
	if !hash.CheckPassword(u.PasswordHash, req.Password) {
		l.Warn("login_failed", "user_id", u.ID, "reason", "bad password")
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid credentials")
	}

	access, err := h.Tokens.SignAccessToken(u.ID, u.Role)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
	refresh, err := h.Tokens.SignRefreshToken(u.ID, u.Role)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}

	c.SetCookie(auth.NewCookie("accessToken", access, time.Now().Add(15*time.Minute)))
	c.SetCookie(auth.NewCookie("refreshToken", refresh, time.Now().Add(7*24*time.Hour)))

	if err := h.Users.TouchPresence(ctx, u.ID, true); err != nil {
		l.Warn("presence_touch_failed", "user_id", u.ID, "error", err)
	}

	l.Info("login_success", "user_id", u.ID)
	return c.JSON(http.StatusOK, map[string]interface{}{"user": u})
}

func (h *AuthHandler) Logout(c echo.Context) error {
	ctx := c.Request().Context()

	if p, err := auth.PrincipalFrom(c); err == nil && !p.Demo {
		if err := h.Users.TouchPresence(ctx, p.User.ID, false); err != nil {
			logging.FromContext(ctx).Warn("presence_touch_failed", "user_id", p.User.ID, "error", err)
		}
	}
	if cookie, err := c.Cookie("refreshToken"); err == nil {
		_ = h.Tokens.Revoke(cookie.Value)
	}

	c.SetCookie(auth.NewCookie("accessToken", "", time.Unix(0, 0)))
	c.SetCookie(auth.NewCookie("refreshToken", "", time.Unix(0, 0)))
	return c.NoContent(http.StatusNoContent)
}

func (h *AuthHandler) VerifyEmail(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth.verify_email")

	actor, err := loadActor(c, h.DB)
	if err != nil {
		return err
	}

	var req struct {
		Code string `json:"code"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	if err := h.Users.VerifyEmail(ctx, actor.ID, req.Code); err != nil {
		l.Warn("verify_email_error", "user_id", actor.ID, "error", err)
		return httpError(err)
	}

	l.Info("verify_email_success", "user_id", actor.ID)
	return c.NoContent(http.StatusNoContent)
}
