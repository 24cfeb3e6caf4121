// Package gift validates and issues claimable gift offers.
//
// A gift is an offer whose energy is given away to whoever presents the
// claim secret before the gift expires. Only the SHA-256 of the secret is
// used for verification.
package gift

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/gridshare/energy-bpp/bpp"
	"github.com/gridshare/energy-bpp/bpp/database/models"
)

const (
	CodeClaimFailed    = "GIFT_CLAIM_FAILED"
	CodeAlreadyClaimed = "GIFT_ALREADY_CLAIMED"
	CodeRevoked        = "GIFT_REVOKED"
	CodeExpired        = "GIFT_EXPIRED"

	SecretLength = 8
)

// unambiguous characters only
const secretAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnpqrstuvwxyz23456789"

type ClaimError struct {
	Code    string
	Message string
	OfferID string
}

func (e *ClaimError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ValidateClaim checks whether secret may claim offer at now. The checks run
// in a fixed order so that an expired gift reports expiry even when the
// secret is also wrong. A nil result means the claim may proceed; offers that
// are not gifts always pass.
func ValidateClaim(offer *models.Offer, secret string, now time.Time) *ClaimError {
	if offer == nil || !offer.IsGift {
		return nil
	}

	switch offer.GiftStatus {
	case models.GiftClaimed:
		return &ClaimError{Code: CodeAlreadyClaimed, Message: "gift has already been claimed", OfferID: offer.ID}
	case models.GiftRevoked:
		return &ClaimError{Code: CodeRevoked, Message: "gift has been revoked by the sender", OfferID: offer.ID}
	}

	if offer.Expired(now) {
		return &ClaimError{
			Code:    CodeExpired,
			Message: fmt.Sprintf("gift expired at %s", offer.GiftExpiresAt.UTC().Format(time.RFC3339)),
			OfferID: offer.ID,
		}
	}

	secret = strings.TrimSpace(secret)
	if secret == "" {
		return &ClaimError{Code: CodeClaimFailed, Message: "claim secret is required", OfferID: offer.ID}
	}
	if !Verify(secret, offer.ClaimVerifier) {
		return &ClaimError{Code: CodeClaimFailed, Message: "claim secret does not match", OfferID: offer.ID}
	}
	return nil
}

// HashSecret returns the lowercase hex SHA-256 of secret.
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

func Verify(secret, verifier string) bool {
	if verifier == "" {
		return false
	}
	got := HashSecret(secret)
	return subtle.ConstantTimeCompare([]byte(got), []byte(strings.ToLower(verifier))) == 1
}

func GenerateSecret() (string, error) {
	var b strings.Builder
	limit := big.NewInt(int64(len(secretAlphabet)))
	for i := 0; i < SecretLength; i++ {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("failed to generate claim secret: %w", err)
		}
		b.WriteByte(secretAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// MakeGift turns offer into an unclaimed gift for recipientPhone, issuing a
// fresh secret. The plaintext secret stays on the offer so the sender can
// share it.
func MakeGift(offer *models.Offer, recipientPhone string, now time.Time) (string, error) {
	secret, err := GenerateSecret()
	if err != nil {
		return "", err
	}

	offer.IsGift = true
	offer.GiftStatus = models.GiftUnclaimed
	offer.ClaimSecret = secret
	offer.ClaimVerifier = HashSecret(secret)
	offer.RecipientPhone = recipientPhone
	offer.GiftExpiresAt = now.Add(bpp.GiftExpiry).UTC()
	return secret, nil
}
