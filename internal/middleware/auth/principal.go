package auth

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/shopagent/shopagent/internal/models"
)

const principalKey = "principal"

// Principal is the authenticated actor threaded through request handling.
// Demo marks the synthetic principal used while storage is unreachable; it
// is an explicit variant, never a mutated global.
type Principal struct {
	User models.User
	Demo bool
}

func SetPrincipal(c echo.Context, p Principal) {
	c.Set(principalKey, p)
}

func PrincipalFrom(c echo.Context) (Principal, error) {
	v := c.Get(principalKey)
	p, ok := v.(Principal)
	if !ok {
		return Principal{}, echo.NewHTTPError(http.StatusUnauthorized, "not authenticated")
	}
	return p, nil
}

// DemoPrincipal is the fixed synthetic actor for degraded-mode requests.
func DemoPrincipal() Principal {
	return Principal{
		User: models.User{ID: 1, Name: "Demo Customer", Role: models.RoleUser},
		Demo: true,
	}
}

func (p Principal) String() string {
	if p.Demo {
		return fmt.Sprintf("demo:%d", p.User.ID)
	}
	return fmt.Sprintf("user:%d", p.User.ID)
}
