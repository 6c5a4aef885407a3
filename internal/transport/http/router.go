package httpserver

import (
	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"github.com/shopagent/shopagent/internal/handlers"
	"github.com/shopagent/shopagent/internal/middleware/auth"
)

type Deps struct {
	DB                *gorm.DB
	Tokens            *auth.TokenService
	AuthHandler       *handlers.AuthHandler
	OrderHandler      *handlers.OrderHandler
	AdminHandler      *handlers.AdminHandler
	ChatHandler       *handlers.ChatHandler
	MembershipHandler *handlers.MembershipHandler
	PaymentHandler    *handlers.PaymentHandler
	DashboardHandler  *handlers.DashboardHandler
}

func Register(e *echo.Echo, d *Deps) {
	e.GET("/health/live", func(c echo.Context) error { return c.NoContent(200) })
	e.GET("/health/ready", func(c echo.Context) error { return c.NoContent(200) })

	api := e.Group("/api")

	api.POST("/register", d.AuthHandler.Register)
	api.POST("/login", d.AuthHandler.Login)
	api.POST("/logout", d.AuthHandler.Logout)

	// Gateway webhook: authenticated by payment reference, not by session.
	api.POST("/payments/confirm", d.PaymentHandler.Confirm)

	user := api.Group("", d.Tokens.RequireLogin)

	user.POST("/verify-email", d.AuthHandler.VerifyEmail)
	user.GET("/dashboard", d.DashboardHandler.Show)
	user.POST("/locale", d.DashboardHandler.SetLocale)

	user.GET("/orders", d.OrderHandler.List)
	user.GET("/orders/new", d.OrderHandler.NewForm)
	user.GET("/orders/:id", d.OrderHandler.Get)
	user.POST("/orders", d.OrderHandler.Submit)
	user.POST("/orders/:id/accept-quote", d.OrderHandler.AcceptQuote)
	user.POST("/orders/:id/reject-quote", d.OrderHandler.RejectQuote)
	user.POST("/orders/:id/pay", d.OrderHandler.Pay)

	user.POST("/chats", d.ChatHandler.Create)
	user.GET("/chats", d.ChatHandler.List)
	user.GET("/chats/:id/messages", d.ChatHandler.Messages)
	user.POST("/chats/:id/messages", d.ChatHandler.Send)
	user.POST("/chats/:id/read", d.ChatHandler.MarkRead)
	user.POST("/chats/:id/typing", d.ChatHandler.Typing)

	user.POST("/memberships/trial", d.MembershipHandler.StartTrial)
	user.POST("/memberships", d.MembershipHandler.Purchase)
	user.POST("/memberships/cancel", d.MembershipHandler.Cancel)

	user.POST("/deposit", d.PaymentHandler.Deposit)

	admin := api.Group("/admin", d.Tokens.AdminOnly)

	admin.GET("/orders", d.AdminHandler.ListOrders)
	admin.GET("/orders/search", d.AdminHandler.SearchOrders)
	admin.POST("/orders/:id/quote", d.AdminHandler.Quote)
	admin.POST("/orders/:id/status", d.AdminHandler.UpdateStatus)
	admin.PUT("/orders/:id/logistics", d.AdminHandler.AttachLogistics)

	admin.GET("/users", d.AdminHandler.ListUsers)
	admin.POST("/users/:id/balance", d.AdminHandler.AdjustBalance)

	admin.POST("/chats/:id/close", d.ChatHandler.Close)
	admin.POST("/memberships/expire", d.MembershipHandler.ExpireDue)
}
