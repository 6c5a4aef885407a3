package fallback

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/shopagent/shopagent/internal/middleware/auth"
	"github.com/shopagent/shopagent/internal/models"
)

// Synthetic records reuse the real model structs, so the demo payloads can
// never drift from the persisted schema.

var demoEpoch = time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC)

func demoOrders() []models.Order {
	quoted := demoEpoch.Add(2 * time.Hour)
	paid := demoEpoch.Add(26 * time.Hour)

	return []models.Order{
		{
			ID:          1,
			OrderNumber: "SA-20250115-DEMO01",
			UserID:      1,
			ProductLink: "https://example.com/items/1001",
			Notes:       "size M, blue if available",
			Status:      models.OrderStatusRequested,
			CreatedAt:   demoEpoch,
			UpdatedAt:   demoEpoch,
		},
		{
			ID:               2,
			OrderNumber:      "SA-20250115-DEMO02",
			UserID:           1,
			ProductLink:      "https://example.com/items/2002",
			Status:           models.OrderStatusQuoted,
			ItemCost:         demoDec("120.00"),
			ServiceFee:       demoDec("12.00"),
			ShippingEstimate: demoDec("18.50"),
			TotalCost:        demoDec("150.50"),
			QuotedAt:         &quoted,
			CreatedAt:        demoEpoch,
			UpdatedAt:        quoted,
		},
		{
			ID:               3,
			OrderNumber:      "SA-20250114-DEMO03",
			UserID:           1,
			ProductLink:      "https://example.com/items/3003",
			Status:           models.OrderStatusPaid,
			ItemCost:         demoDec("45.00"),
			ServiceFee:       demoDec("5.00"),
			ShippingEstimate: demoDec("10.00"),
			TotalCost:        demoDec("60.00"),
			QuotedAt:         &quoted,
			PaidAt:           &paid,
			PaymentStatus:    models.PaymentStatusCompleted,
			CreatedAt:        demoEpoch.Add(-24 * time.Hour),
			UpdatedAt:        paid,
		},
	}
}

func demoUsers() []models.User {
	return []models.User{
		{ID: 1, Name: "Demo Customer", Email: "customer@example.com", Role: models.RoleUser,
			Balance: decimal.RequireFromString("85.00"), Language: "en", CreatedAt: demoEpoch},
		{ID: 2, Name: "Demo Admin", Email: "admin@example.com", Role: models.RoleAdmin,
			Balance: decimal.Zero, Language: "en", CreatedAt: demoEpoch},
	}
}

func demoDec(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(s))
}

func demoOrderList(c echo.Context) error {
	orders := demoOrders()
	return c.JSON(http.StatusOK, map[string]interface{}{
		"demo":   true,
		"orders": orders,
		"total":  len(orders),
		"page":   1,
	})
}

func demoOrderDetail(c echo.Context) error {
	orders := demoOrders()
	order := orders[0]
	if id, err := strconv.Atoi(c.Param("id")); err == nil {
		for _, o := range orders {
			if int(o.ID) == id {
				order = o
				break
			}
		}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"demo":  true,
		"order": order,
	})
}

func demoOrderForm(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"demo":       true,
		"max_images": 5,
		"image_types": []string{
			".jpg", ".jpeg", ".png", ".gif", ".webp",
		},
	})
}

func demoDashboard(c echo.Context) error {
	p, err := auth.PrincipalFrom(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"demo": true,
		"user": p.User.Name,
		"orders_by_status": map[string]int{
			models.OrderStatusRequested: 1,
			models.OrderStatusQuoted:    1,
			models.OrderStatusPaid:      1,
		},
		"balance":           "85.00",
		"active_membership": nil,
	})
}

func demoUserList(c echo.Context) error {
	users := demoUsers()
	return c.JSON(http.StatusOK, map[string]interface{}{
		"demo":  true,
		"users": users,
		"total": len(users),
		"page":  1,
	})
}

// demoOrderSubmit acknowledges without persisting anything. The demo tag is
// the caller's only signal that no real order exists.
func demoOrderSubmit(c echo.Context) error {
	p, err := auth.PrincipalFrom(c)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	return c.JSON(http.StatusCreated, map[string]interface{}{
		"demo": true,
		"order": models.Order{
			ID:          0,
			OrderNumber: "SA-" + now.Format("20060102") + "-DEMO00",
			UserID:      p.User.ID,
			Status:      models.OrderStatusRequested,
			CreatedAt:   now,
			UpdatedAt:   now,
		},
	})
}
