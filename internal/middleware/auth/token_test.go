package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/shopagent/shopagent/internal/models"
)

func newTokenService(t *testing.T) *TokenService {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to connect to in-memory db: %v", err)
	}
	if err := db.AutoMigrate(models.All()...); err != nil {
		t.Fatalf("failed to migrate tables: %v", err)
	}
	return &TokenService{DB: db, JWTSecret: []byte("test-jwt"), RefreshSecret: []byte("test-refresh")}
}

func TestRefreshRotation(t *testing.T) {
	ts := newTokenService(t)

	refresh, err := ts.SignRefreshToken(7, models.RoleUser)
	require.NoError(t, err)

	access, newRefresh, claims, err := ts.Rotate(refresh)
	require.NoError(t, err)
	require.NotEmpty(t, access)
	require.NotEmpty(t, newRefresh)
	require.NotEqual(t, refresh, newRefresh)
	require.EqualValues(t, 7, claims["sub"].(float64))

	// the old refresh token is burned by rotation
	_, _, _, err = ts.Rotate(refresh)
	require.Error(t, err)

	// the new one still works
	_, _, _, err = ts.Rotate(newRefresh)
	require.NoError(t, err)
}

func TestValidateRefreshRejectsAccessToken(t *testing.T) {
	ts := newTokenService(t)

	access, err := ts.SignAccessToken(7, models.RoleUser)
	require.NoError(t, err)

	_, err = ts.ValidateRefresh(access)
	require.Error(t, err)
}

func TestRevoke(t *testing.T) {
	ts := newTokenService(t)

	refresh, err := ts.SignRefreshToken(7, models.RoleUser)
	require.NoError(t, err)
	require.NoError(t, ts.Revoke(refresh))

	_, err = ts.ValidateRefresh(refresh)
	require.Error(t, err)
}

func TestRequireLogin(t *testing.T) {
	ts := newTokenService(t)
	e := echo.New()

	handler := ts.RequireLogin(func(c echo.Context) error {
		p, err := PrincipalFrom(c)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, map[string]interface{}{"user_id": p.User.ID, "role": p.User.Role})
	})

	// no cookies at all
	req := httptest.NewRequest(http.MethodGet, "/api/orders", nil)
	rec := httptest.NewRecorder()
	err := handler(e.NewContext(req, rec))
	he, ok := err.(*echo.HTTPError)
	require.True(t, ok, "expected HTTPError")
	require.Equal(t, http.StatusUnauthorized, he.Code)

	// valid access cookie
	access, err := ts.SignAccessToken(7, models.RoleUser)
	require.NoError(t, err)

	req = httptest.NewRequest(http.MethodGet, "/api/orders", nil)
	req.AddCookie(NewCookie("accessToken", access, time.Now().Add(15*time.Minute)))
	rec = httptest.NewRecorder()
	require.NoError(t, handler(e.NewContext(req, rec)))
	require.Equal(t, http.StatusOK, rec.Code)

	// garbage access cookie
	req = httptest.NewRequest(http.MethodGet, "/api/orders", nil)
	req.AddCookie(NewCookie("accessToken", "garbage", time.Now().Add(time.Minute)))
	rec = httptest.NewRecorder()
	err = handler(e.NewContext(req, rec))
	he, ok = err.(*echo.HTTPError)
	require.True(t, ok, "expected HTTPError")
	require.Equal(t, http.StatusUnauthorized, he.Code)
}

func TestRequireLoginRotatesThroughRefreshCookie(t *testing.T) {
	ts := newTokenService(t)
	e := echo.New()

	handler := ts.RequireLogin(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})

	refresh, err := ts.SignRefreshToken(7, models.RoleUser)
	require.NoError(t, err)

	// only the refresh cookie is present; the middleware rotates and sets a
	// fresh pair
	req := httptest.NewRequest(http.MethodGet, "/api/orders", nil)
	req.AddCookie(NewCookie("refreshToken", refresh, time.Now().Add(time.Hour)))
	rec := httptest.NewRecorder()
	require.NoError(t, handler(e.NewContext(req, rec)))
	require.Equal(t, http.StatusOK, rec.Code)

	names := map[string]bool{}
	for _, ck := range rec.Result().Cookies() {
		names[ck.Name] = ck.Value != ""
	}
	require.True(t, names["accessToken"])
	require.True(t, names["refreshToken"])
}

func TestAdminOnly(t *testing.T) {
	ts := newTokenService(t)
	e := echo.New()

	handler := ts.AdminOnly(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})

	userToken, err := ts.SignAccessToken(7, models.RoleUser)
	require.NoError(t, err)
	adminToken, err := ts.SignAccessToken(1, models.RoleAdmin)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/admin/orders", nil)
	req.AddCookie(NewCookie("accessToken", userToken, time.Now().Add(time.Minute)))
	rec := httptest.NewRecorder()
	err = handler(e.NewContext(req, rec))
	he, ok := err.(*echo.HTTPError)
	require.True(t, ok, "expected HTTPError")
	require.Equal(t, http.StatusForbidden, he.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/admin/orders", nil)
	req.AddCookie(NewCookie("accessToken", adminToken, time.Now().Add(time.Minute)))
	rec = httptest.NewRecorder()
	require.NoError(t, handler(e.NewContext(req, rec)))
	require.Equal(t, http.StatusOK, rec.Code)
}
