package handlers

import (
	"context"
	"crypto/ed25519"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/gridshare/energy-bpp/backend/models"
	"github.com/gridshare/energy-bpp/backend/utils"
	"github.com/gridshare/energy-bpp/bpp/database/repositories"
	"github.com/gridshare/energy-bpp/bpp/protocol"
	"github.com/gridshare/energy-bpp/internal/domain/settlement"
)

const healthTimeout = 2 * time.Second

type ProtocolEngine interface {
	Handle(ctx context.Context, action string, req *protocol.Request, persona string) (protocol.Response, func())
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// WebApp holds the dependencies of the HTTP handlers.
type WebApp struct {
	Engine      ProtocolEngine
	Settlements settlement.Service
	Orders      repositories.OrderRepository
	Inventory   repositories.InventoryRepository
	// Catalogs is optional; gift changes are republished through it.
	Catalogs protocol.CatalogSink
	// LedgerKey verifies pushes from the ledger.
	LedgerKey     ed25519.PublicKey
	DB            Pinger
	PersonaHeader string
	Version       string
	Commit        string
}

func HealthCheck(webApp *WebApp) fiber.Handler {
	return func(c *fiber.Ctx) error {
		health := models.NewHealthCheck(webApp.Version, webApp.Commit)

		if webApp.DB != nil {
			ctx, cancel := context.WithTimeout(c.UserContext(), healthTimeout)
			defer cancel()

			start := time.Now()
			if err := webApp.DB.Ping(ctx); err != nil {
				slog.Error("Database health check failed", slog.String("type", "db"), slog.Any("error", err))
				health.AddComponent("database", "unhealthy", err.Error(), nil)
			} else {
				health.AddComponent("database", "healthy", "", map[string]interface{}{
					"latency_ms": time.Since(start).Milliseconds(),
				})
			}
		}

		if health.Status != "healthy" {
			resp := models.NewErrorResponse("UNHEALTHY", "Health check failed", nil)
			resp.Data = health
			return utils.SendJSON(c, fiber.StatusServiceUnavailable, resp)
		}
		return utils.SendSuccess(c, health, "Health check successful")
	}
}
