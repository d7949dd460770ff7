package routes

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/cofrap/cofrap_auth/internal/devfaas"
)

// RegisterFunctionRoutes mounts the in-process identity functions under
// /function so the proxy can run without an OpenFaaS gateway. Users live in
// Postgres when DATABASE_URL is set, in memory otherwise.
func RegisterFunctionRoutes(app *fiber.App, d Deps) error {
	var repo devfaas.Repository
	if d.DB != nil {
		pg := devfaas.NewPostgresRepository(d.DB)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := pg.EnsureSchema(ctx); err != nil {
			return err
		}
		repo = pg
	} else {
		repo = devfaas.NewMemoryRepository()
	}

	svc := devfaas.NewService(repo, d.Cfg.TOTPIssuer)
	devfaas.NewHandler(svc, d.Logger).Register(app.Group("/function"))
	d.Logger.Warn("serving development identity functions", "path", "/function", "postgres", d.DB != nil)
	return nil
}
