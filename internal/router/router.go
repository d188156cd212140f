package router // package router defines how HTTP routes are registered for the API

import (
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/cruisesync/internal/clock"
	"github.com/iliyamo/cruisesync/internal/config"
	"github.com/iliyamo/cruisesync/internal/handler"
	"github.com/iliyamo/cruisesync/internal/logger"
	"github.com/iliyamo/cruisesync/internal/middleware"
	"github.com/iliyamo/cruisesync/internal/utils"
)

// Handlers groups everything the routes dispatch to.
type Handlers struct {
	Sync    *handler.SyncHandler
	Locks   *handler.LockHandler
	Status  *handler.StatusHandler
	Sailing *handler.SailingHandler
}

// New builds the echo instance with the shared middleware chain.
func New(log logger.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(log))
	return e
}

// RegisterRoutes registers routes that do not require authentication:
// liveness and Prometheus metrics.
func RegisterRoutes(e *echo.Echo, gatherer prometheus.Gatherer) {
	e.GET("/healthz", handler.Health)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
}

// RegisterWebhook registers the supplier webhook behind the Redis token
// bucket.
func RegisterWebhook(e *echo.Echo, h *handler.SyncHandler, cfg config.RateLimitConfig, rdb redis.UniversalClient, log logger.Logger) {
	e.POST("/webhooks/traveltek", h.Webhook, middleware.NewTokenBucket(cfg, rdb, clock.NewRealClock(), log))
}

// RegisterAdmin registers operator endpoints.  Every route requires a valid
// access token carrying the ADMIN role.
func RegisterAdmin(e *echo.Echo, h Handlers, jwtSecret string) {
	g := e.Group("/admin")
	g.Use(middleware.JWTAuth(jwtSecret))
	g.Use(middleware.RequireRole(utils.RoleAdmin))

	g.POST("/sync", h.Sync.AdminSync)
	g.POST("/runs/:runID/cancel", h.Sync.CancelRun)
	g.GET("/locks", h.Locks.List)
	g.POST("/locks/clear", h.Locks.Clear)
	g.GET("/status", h.Status.Status)
}

// RegisterPublic registers the read model consumed by downstream services,
// cached in Redis.
func RegisterPublic(e *echo.Echo, h *handler.SailingHandler, cfg config.CacheConfig, rdb redis.UniversalClient, log logger.Logger) {
	e.GET("/v1/sailings/:sailingId", h.GetSailing, middleware.NewRedisCache(cfg, rdb, log))
}

// Register wires every route group.
func Register(e *echo.Echo, h Handlers, cfg config.Config, rdb redis.UniversalClient, gatherer prometheus.Gatherer, log logger.Logger) {
	RegisterRoutes(e, gatherer)
	RegisterWebhook(e, h.Sync, cfg.RateLimit, rdb, log)
	RegisterAdmin(e, h, cfg.JWT.Secret)
	RegisterPublic(e, h.Sailing, cfg.Cache, rdb, log)
	e.RouteNotFound("/*", func(c echo.Context) error {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "not found"})
	})
}
