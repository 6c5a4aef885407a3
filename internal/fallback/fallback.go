package fallback

import (
	"context"
	"database/sql"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/shopagent/shopagent/internal/logging"
	"github.com/shopagent/shopagent/internal/middleware/auth"
	"github.com/shopagent/shopagent/internal/service"
)

const (
	probeTimeout = 500 * time.Millisecond
	probeCache   = 2 * time.Second
)

// Prober reports whether the persistent store is reachable. Probe results
// are cached briefly so a burst of requests costs one ping.
type Prober struct {
	DB *sql.DB

	mu        sync.Mutex
	lastCheck time.Time
	lastOK    bool
}

func NewProber(db *sql.DB) *Prober {
	return &Prober{DB: db, lastOK: true}
}

func (p *Prober) Available(ctx context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if time.Since(p.lastCheck) < probeCache {
		return p.lastOK
	}

	pctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	err := p.DB.PingContext(pctx)

	p.lastCheck = time.Now()
	p.lastOK = err == nil
	return p.lastOK
}

// demoRoutes is the fixed allow-list served synthetically while the store is
// down. Keys are echo route patterns.
var demoRoutes = map[string]func(echo.Context) error{
	"GET /api/orders":      demoOrderList,
	"GET /api/orders/:id":  demoOrderDetail,
	"GET /api/orders/new":  demoOrderForm,
	"GET /api/dashboard":   demoDashboard,
	"GET /api/admin/users": demoUserList,
	"POST /api/orders":     demoOrderSubmit,
}

// Middleware intercepts requests while the store is unavailable: allow-listed
// routes get synthetic responses, other mutations get a structured 503, and
// everything else passes through to fail on the real storage error.
func Middleware(probe *Prober) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			if probe.Available(ctx) {
				return next(c)
			}

			l := logging.FromContext(ctx)
			key := c.Request().Method + " " + c.Path()

			if handler, ok := demoRoutes[key]; ok {
				l.Warn("fallback_activated", "route", key, "mode", "demo")
				// The auth middleware cannot verify anyone without storage,
				// so demo routes run under the synthetic principal.
				auth.SetPrincipal(c, auth.DemoPrincipal())
				return handler(c)
			}

			if c.Request().Method != http.MethodGet {
				l.Warn("fallback_activated", "route", key, "mode", "reject")
				return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "service unavailable"})
			}

			l.Warn("fallback_passthrough", "route", key)
			if err := next(c); err != nil {
				return echo.NewHTTPError(http.StatusServiceUnavailable,
					map[string]string{"error": "service unavailable"}).SetInternal(service.ErrStorageUnavailable)
			}
			return nil
		}
	}
}
