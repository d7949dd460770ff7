package routes

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/cofrap/cofrap_auth/internal/audit"
	"github.com/cofrap/cofrap_auth/internal/config"
	"github.com/cofrap/cofrap_auth/internal/flow"
	"github.com/cofrap/cofrap_auth/internal/gateway"
	"github.com/cofrap/cofrap_auth/internal/middleware"
	"github.com/cofrap/cofrap_auth/internal/proxy"
	"github.com/cofrap/cofrap_auth/internal/session"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Logger *slog.Logger
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	if !d.Cfg.IsDev() && d.Cache == nil {
		return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
	}

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(logger.New(logger.Config{
		Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
		TimeFormat: "15:04:05",
		TimeZone:   "Local",
	}))
	app.Use(middleware.Session(d.Cfg.CookieSecure, d.Cfg.SessionTTL))
	app.Use(middleware.Audit(d.Logger))

	RegisterHealthRoutes(app, d)

	if d.Cfg.DevUpstream {
		if err := RegisterFunctionRoutes(app, d); err != nil {
			return err
		}
	}

	upstream := gateway.New(d.Cfg.GatewayURL, d.Cfg.UpstreamTimeout, gateway.WithLogger(d.Logger))

	recorder := audit.Multi{audit.NewLoggerRecorder(d.Logger)}
	var persister session.Persister
	if d.Cache != nil {
		recorder = append(recorder, audit.NewRedisRecorder(d.Cache, audit.DefaultStream))
		persister = session.NewRedisPersister(d.Cache)
	}
	sessions := session.NewManager(persister, d.Cfg.SessionTTL, d.Logger)

	flows := flow.NewRegistry(func(key string) *flow.Machine {
		return flow.New(upstream, sessions.Store(context.Background(), key),
			flow.WithRecorder(recorder),
			flow.WithLogger(d.Logger),
			flow.WithSessionKey(key),
		)
	}, d.Cfg.SessionTTL)

	guard := middleware.InFlight(d.Cache, d.Cfg.InFlightTTL, d.Logger)
	logins := middleware.NewLoginLimiter(d.Cache, d.Cfg.LoginRateLimit)

	api := app.Group("/api")
	proxyHandler := proxy.NewHandler(upstream, d.Cfg.AppName, d.Cfg.GatewayURL, d.Logger)
	api.Get("/status", proxyHandler.Status)
	api.Get("/version", proxyHandler.VersionInfo)

	RegisterAuthRoutes(api, proxyHandler, guard, logins.Handler())
	RegisterFlowRoutes(api, flow.NewHandler(flows, logins), guard)
	RegisterSessionRoutes(api, session.NewHandler(sessions, middleware.SessionID))

	d.Logger.Info("routes ready",
		slog.String("gateway", d.Cfg.GatewayURL),
		slog.Bool("dev_upstream", d.Cfg.DevUpstream),
		slog.Bool("redis", d.Cache != nil),
		slog.Duration("upstream_timeout", d.Cfg.UpstreamTimeout.Round(time.Millisecond)),
	)
	return nil
}
