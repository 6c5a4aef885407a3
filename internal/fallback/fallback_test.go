package fallback

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/shopagent/shopagent/internal/middleware/auth"
	"github.com/shopagent/shopagent/internal/service"
)

func openProbeDB(t *testing.T) *Prober {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to connect to in-memory db: %v", err)
	}
	sqlDB, err := db.DB()
	require.NoError(t, err)
	return NewProber(sqlDB)
}

func newTestEcho(probe *Prober) *echo.Echo {
	e := echo.New()
	e.Use(Middleware(probe))

	live := func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{"live": true})
	}
	e.GET("/api/orders", live)
	e.GET("/api/orders/:id", live)
	e.GET("/api/orders/new", live)
	e.GET("/api/dashboard", live)
	e.GET("/api/admin/users", live)
	e.POST("/api/orders", live)
	e.POST("/api/orders/:id/pay", live)
	e.GET("/api/chats", live)
	return e
}

func do(e *echo.Echo, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader("{}"))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestMiddlewarePassesWhenStorageIsUp(t *testing.T) {
	probe := openProbeDB(t)
	e := newTestEcho(probe)

	rec := do(e, http.MethodGet, "/api/orders")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, true, body["live"])
	require.NotContains(t, body, "demo")
}

func TestMiddlewareServesDemoDataWhenStorageIsDown(t *testing.T) {
	probe := openProbeDB(t)
	require.NoError(t, probe.DB.Close())
	e := newTestEcho(probe)

	for _, path := range []string{"/api/orders", "/api/orders/2", "/api/orders/new", "/api/dashboard", "/api/admin/users"} {
		rec := do(e, http.MethodGet, path)
		require.Equal(t, http.StatusOK, rec.Code, path)

		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.Equal(t, true, body["demo"], path)
	}
}

func TestDemoOrderDetailPicksTheRequestedID(t *testing.T) {
	probe := openProbeDB(t)
	require.NoError(t, probe.DB.Close())
	e := newTestEcho(probe)

	rec := do(e, http.MethodGet, "/api/orders/3")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Demo  bool `json:"demo"`
		Order struct {
			ID          uint   `json:"id"`
			OrderNumber string `json:"order_number"`
			Status      string `json:"status"`
		} `json:"order"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.True(t, body.Demo)
	require.EqualValues(t, 3, body.Order.ID)
	require.Equal(t, "paid", body.Order.Status)
}

func TestMiddlewareAcknowledgesAllowlistedSubmit(t *testing.T) {
	probe := openProbeDB(t)
	require.NoError(t, probe.DB.Close())
	e := newTestEcho(probe)

	rec := do(e, http.MethodPost, "/api/orders")
	require.Equal(t, http.StatusCreated, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, true, body["demo"])
}

func TestMiddlewareRejectsOtherMutationsWhenStorageIsDown(t *testing.T) {
	probe := openProbeDB(t)
	require.NoError(t, probe.DB.Close())
	e := newTestEcho(probe)

	rec := do(e, http.MethodPost, "/api/orders/1/pay")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "service unavailable", body["error"])
}

func TestMiddlewarePassesNonDemoReadsThrough(t *testing.T) {
	probe := openProbeDB(t)
	require.NoError(t, probe.DB.Close())
	e := newTestEcho(probe)

	// reads outside the allow-list reach the real handler and fail there
	rec := do(e, http.MethodGet, "/api/chats")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, true, body["live"])
}

func TestDemoRoutesRunUnderTheSyntheticPrincipal(t *testing.T) {
	probe := openProbeDB(t)
	require.NoError(t, probe.DB.Close())
	e := newTestEcho(probe)

	rec := do(e, http.MethodGet, "/api/dashboard")
	require.Equal(t, http.StatusOK, rec.Code)

	var dash map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dash))
	require.Equal(t, true, dash["demo"])
	require.Equal(t, auth.DemoPrincipal().User.Name, dash["user"])

	rec = do(e, http.MethodPost, "/api/orders")
	require.Equal(t, http.StatusCreated, rec.Code)

	var body struct {
		Demo  bool `json:"demo"`
		Order struct {
			UserID uint `json:"user_id"`
		} `json:"order"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.True(t, body.Demo)
	require.EqualValues(t, auth.DemoPrincipal().User.ID, body.Order.UserID)
}

func TestMiddlewareTranslatesPassthroughFailures(t *testing.T) {
	probe := openProbeDB(t)
	require.NoError(t, probe.DB.Close())

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/chats", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath("/api/chats")

	h := Middleware(probe)(func(c echo.Context) error {
		return errors.New("dial tcp: connection refused")
	})
	err := h(c)
	require.Error(t, err)

	var he *echo.HTTPError
	require.ErrorAs(t, err, &he)
	require.Equal(t, http.StatusServiceUnavailable, he.Code)
	require.ErrorIs(t, he.Internal, service.ErrStorageUnavailable)
}

func TestProberCachesResults(t *testing.T) {
	probe := openProbeDB(t)
	ctx := context.Background()

	require.True(t, probe.Available(ctx))

	// within the cache window a closed handle still reads as available
	require.NoError(t, probe.DB.Close())
	require.True(t, probe.Available(ctx))
}
