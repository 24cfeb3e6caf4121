// Package backend is the HTTP surface of the BPP: the protocol endpoints
// the network calls, the ledger push endpoint and a few diagnostics routes.
package backend

import (
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/gridshare/energy-bpp/backend/handlers"
	"github.com/gridshare/energy-bpp/backend/middleware"
	"github.com/gridshare/energy-bpp/backend/utils"
	"github.com/gridshare/energy-bpp/bpp"
	"github.com/gridshare/energy-bpp/bpp/protocol"
)

const maxBodySize = 1 << 20

// NewApp builds the fiber application. The returned limiter must be closed
// on shutdown.
func NewApp(cfg bpp.WebConfig, webApp *handlers.WebApp) (*fiber.App, *middleware.RateLimiter) {
	app := fiber.New(fiber.Config{
		AppName:               "Energy BPP",
		ServerHeader:          "energy-bpp",
		BodyLimit:             maxBodySize,
		ErrorHandler:          middleware.CustomErrorHandler,
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	app.Use(middleware.SecurityHeaders())
	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
	}))
	if cfg.AllowedOrigins != "" {
		app.Use(cors.New(cors.Config{
			AllowOrigins: cfg.AllowedOrigins,
			AllowMethods: "GET,POST,OPTIONS",
			AllowHeaders: "Origin,Content-Type,Accept,Authorization",
		}))
	}
	app.Use(middleware.LoggingMiddleware())

	var limiter *middleware.RateLimiter
	if cfg.RateLimit > 0 {
		limiter = middleware.NewRateLimiter(cfg.RateLimit, time.Duration(cfg.RateWindowSeconds)*time.Second)
		app.Use(middleware.RateLimit(limiter))
	}

	setupRoutes(app, cfg, webApp)
	return app, limiter
}

func setupRoutes(app *fiber.App, cfg bpp.WebConfig, webApp *handlers.WebApp) {
	app.Get("/health", handlers.HealthCheck(webApp))

	// Protocol actions
	for _, action := range []string{
		protocol.ActionSelect,
		protocol.ActionInit,
		protocol.ActionConfirm,
		protocol.ActionStatus,
	} {
		app.Post("/"+action, handlers.ProtocolAction(webApp, action))
	}
	for _, action := range protocol.TemplateActions {
		app.Post("/"+action, handlers.ProtocolAction(webApp, action))
	}

	ledgerGroup := app.Group("/ledger")
	ledgerGroup.Post("/callback", middleware.LedgerSignatureRequired(webApp.LedgerKey), handlers.LedgerCallback(webApp))
	ledgerGroup.Get("/health", handlers.LedgerHealth(webApp))
	ledgerGroup.Get("/trades", handlers.LedgerTrades(webApp))

	app.Get("/settlements/:transaction_id", handlers.SettlementByTransaction(webApp))
	app.Post("/settlements/:transaction_id/reconcile", handlers.ReconcileSettlement(webApp))
	app.Get("/sellers/:id/earnings", handlers.SellerEarnings(webApp))

	// Operator routes
	admin := app.Group("/admin", middleware.AdminRequired(cfg.AdminToken))
	admin.Post("/offers/:id/gift", handlers.IssueGift(webApp))
	admin.Post("/offers/:id/gift/revoke", handlers.RevokeGift(webApp))

	app.Use(func(c *fiber.Ctx) error {
		slog.Warn("No route matched for request",
			slog.String("type", "api"),
			slog.String("method", c.Method()),
			slog.String("path", c.Path()),
			slog.String("ip", utils.GetIPAddress(c)),
		)
		return utils.SendNotFound(c, "The requested endpoint does not exist")
	})
}
