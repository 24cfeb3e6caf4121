package middleware

import (
	"crypto/ed25519"
	"crypto/subtle"
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/gridshare/energy-bpp/backend/utils"
	"github.com/gridshare/energy-bpp/bpp/ledger"
)

// LedgerSignatureRequired accepts only requests whose Authorization header
// carries a valid ledger signature over the body. Without a key nothing is
// accepted.
func LedgerSignatureRequired(key ed25519.PublicKey) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if len(key) == 0 {
			slog.Warn("Ledger push refused: no ledger public key configured",
				slog.String("type", "ledger"),
				slog.String("ip", utils.GetIPAddress(c)))
			return utils.SendServiceUnavailable(c, "Ledger pushes are not accepted")
		}

		if err := ledger.Verify(c.Get(fiber.HeaderAuthorization), c.Body(), key, time.Now()); err != nil {
			slog.Warn("Ledger push refused",
				slog.String("type", "ledger"),
				slog.String("ip", utils.GetIPAddress(c)),
				slog.Any("error", err))
			return utils.SendUnauthorized(c, "Invalid ledger signature")
		}
		return c.Next()
	}
}

// AdminRequired guards operator routes with a static bearer token.
func AdminRequired(token string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if token == "" {
			return utils.SendServiceUnavailable(c, "Admin API is disabled")
		}

		got, ok := strings.CutPrefix(c.Get(fiber.HeaderAuthorization), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			slog.Warn("Admin required: bad or missing token",
				slog.String("path", c.Path()),
				slog.String("ip", utils.GetIPAddress(c)))
			return utils.SendUnauthorized(c, "Admin token required")
		}
		return c.Next()
	}
}
