package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/gridshare/energy-bpp/backend/utils"
	"github.com/gridshare/energy-bpp/bpp/database/repositories"
	"github.com/gridshare/energy-bpp/bpp/gift"
)

type issueGiftRequest struct {
	RecipientPhone string `json:"recipientPhone"`
}

// IssueGift turns a regular offer into an unclaimed gift and returns the
// claim secret the sender passes on to the recipient.
func IssueGift(webApp *WebApp) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req issueGiftRequest
		if err := json.Unmarshal(c.Body(), &req); err != nil {
			return utils.SendBadRequest(c, "Invalid gift request", map[string]string{"body": err.Error()})
		}
		req.RecipientPhone = strings.TrimSpace(req.RecipientPhone)
		if req.RecipientPhone == "" {
			return utils.SendBadRequest(c, "recipientPhone is required", nil)
		}

		ctx := c.UserContext()
		offerID := c.Params("id")
		offer, err := webApp.Inventory.GetOffer(ctx, offerID)
		switch {
		case errors.Is(err, repositories.ErrNotFound):
			return utils.SendNotFound(c, "No offer "+offerID)
		case err != nil:
			slog.Error("Failed to load offer", slog.String("type", "db"), slog.Any("error", err))
			return utils.SendInternalServerError(c, "Failed to load offer")
		case offer.IsGift:
			return utils.SendConflict(c, "Offer is already a gift")
		case offer.Exhausted():
			return utils.SendConflict(c, "Offer has no quantity left to give")
		}

		now := time.Now().UTC()
		secret, err := gift.MakeGift(offer, req.RecipientPhone, now)
		if err != nil {
			slog.Error("Failed to make gift", slog.Any("error", err))
			return utils.SendInternalServerError(c, "Failed to issue gift")
		}
		if err := webApp.Inventory.IssueGift(ctx, offer); err != nil {
			if errors.Is(err, repositories.ErrGiftUnavailable) {
				return utils.SendConflict(c, "Offer is already a gift")
			}
			slog.Error("Failed to issue gift", slog.String("type", "db"), slog.Any("error", err))
			return utils.SendInternalServerError(c, "Failed to issue gift")
		}

		slog.Info("Gift issued", slog.String("offer_id", offer.ID), slog.Time("expires_at", offer.GiftExpiresAt))
		republishCatalog(ctx, webApp, offer.CatalogID, now)

		return utils.SendSuccess(c, fiber.Map{
			"offerId":     offer.ID,
			"claimSecret": secret,
			"expiresAt":   offer.GiftExpiresAt,
		}, "Gift issued")
	}
}

func RevokeGift(webApp *WebApp) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx := c.UserContext()
		offerID := c.Params("id")

		err := webApp.Inventory.RevokeGift(ctx, offerID)
		switch {
		case errors.Is(err, repositories.ErrNotFound):
			return utils.SendNotFound(c, "No offer "+offerID)
		case errors.Is(err, repositories.ErrGiftUnavailable):
			return utils.SendConflict(c, "Only an unclaimed gift can be revoked")
		case err != nil:
			slog.Error("Failed to revoke gift", slog.String("type", "db"), slog.Any("error", err))
			return utils.SendInternalServerError(c, "Failed to revoke gift")
		}

		if offer, err := webApp.Inventory.GetOffer(ctx, offerID); err == nil {
			republishCatalog(ctx, webApp, offer.CatalogID, time.Now().UTC())
		}
		slog.Info("Gift revoked", slog.String("offer_id", offerID))
		return utils.SendSuccess(c, fiber.Map{"offerId": offerID}, "Gift revoked")
	}
}

// republishCatalog pushes a fresh snapshot after a gift changed. Failures are
// logged only.
func republishCatalog(ctx context.Context, webApp *WebApp, catalogID string, now time.Time) {
	if webApp.Catalogs == nil || catalogID == "" {
		return
	}
	snapshot, err := webApp.Inventory.RebuildCatalog(ctx, catalogID, now)
	if err == nil {
		err = webApp.Catalogs.Publish(ctx, snapshot)
	}
	if err != nil {
		slog.Warn("Catalog republish failed", slog.String("catalog_id", catalogID), slog.Any("error", err))
	}
}
