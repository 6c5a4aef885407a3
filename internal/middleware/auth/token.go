package auth

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"github.com/shopagent/shopagent/internal/models"
)

const (
	accessTTL  = 15 * time.Minute
	refreshTTL = 7 * 24 * time.Hour
)

type TokenService struct {
	DB            *gorm.DB
	JWTSecret     []byte
	RefreshSecret []byte
}

func (t *TokenService) SignAccessToken(userID uint, role string) (string, error) {
	claims := jwt.MapClaims{
		"sub":  float64(userID),
		"role": role,
		"exp":  time.Now().Add(accessTTL).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.JWTSecret)
}

func (t *TokenService) SignRefreshToken(userID uint, role string) (string, error) {
	claims := jwt.MapClaims{
		"sub":  float64(userID),
		"role": role,
		"exp":  time.Now().Add(refreshTTL).Unix(),
		"typ":  "refresh",
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.RefreshSecret)
	if err != nil {
		return "", err
	}

	rec := models.RefreshToken{
		Token:     token,
		UserID:    userID,
		ExpiresAt: time.Now().Add(refreshTTL).Unix(),
	}
	if err := t.DB.Create(&rec).Error; err != nil {
		return "", fmt.Errorf("save refresh token: %w", err)
	}
	return token, nil
}

func (t *TokenService) ValidateRefresh(raw string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(raw, func(tok *jwt.Token) (interface{}, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
		}
		return t.RefreshSecret, nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("invalid refresh token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || claims["typ"] != "refresh" {
		return nil, errors.New("not a refresh token")
	}

	var stored models.RefreshToken
	if err := t.DB.Where("token = ?", raw).First(&stored).Error; err != nil {
		return nil, errors.New("refresh token not found")
	}
	if stored.Revoked || time.Now().Unix() > stored.ExpiresAt {
		return nil, errors.New("refresh token expired or revoked")
	}
	return claims, nil
}

// Rotate issues a fresh access/refresh pair and revokes the old refresh
// token.
func (t *TokenService) Rotate(raw string) (string, string, jwt.MapClaims, error) {
	claims, err := t.ValidateRefresh(raw)
	if err != nil {
		return "", "", nil, err
	}

	userID := uint(claims["sub"].(float64))
	role, _ := claims["role"].(string)

	access, err := t.SignAccessToken(userID, role)
	if err != nil {
		return "", "", nil, err
	}
	refresh, err := t.SignRefreshToken(userID, role)
	if err != nil {
		return "", "", nil, err
	}
	if err := t.DB.Model(&models.RefreshToken{}).Where("token = ?", raw).
		Update("revoked", true).Error; err != nil {
		return "", "", nil, err
	}
	return access, refresh, claims, nil
}

func (t *TokenService) Revoke(raw string) error {
	return t.DB.Model(&models.RefreshToken{}).Where("token = ?", raw).
		Update("revoked", true).Error
}

// resolve parses the access cookie, rotating via the refresh cookie when the
// access token is expired. It returns the resolved claims and new cookies to
// set, if a rotation happened.
func (t *TokenService) resolve(c echo.Context) (jwt.MapClaims, error) {
	if cookie, err := c.Cookie("accessToken"); err == nil {
		token, err := jwt.Parse(cookie.Value, func(tok *jwt.Token) (interface{}, error) {
			return t.JWTSecret, nil
		})
		if err == nil && token.Valid {
			return token.Claims.(jwt.MapClaims), nil
		}
		if !errors.Is(err, jwt.ErrTokenExpired) {
			return nil, echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
		}
	}

	rfCookie, err := c.Cookie("refreshToken")
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusUnauthorized, "not authenticated")
	}

	access, refresh, claims, err := t.Rotate(rfCookie.Value)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusUnauthorized, "not authenticated")
	}

	c.SetCookie(NewCookie("accessToken", access, time.Now().Add(accessTTL)))
	c.SetCookie(NewCookie("refreshToken", refresh, time.Now().Add(refreshTTL)))
	return claims, nil
}

func NewCookie(name, value string, expires time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}
