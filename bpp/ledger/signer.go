package ledger

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/gridshare/energy-bpp/bpp"
)

const signatureAlgorithm = "ed25519"

var ErrInvalidSignature = errors.New("invalid signature")

// Signer builds the Authorization header the ledger expects: a BLAKE2b-512
// digest of the body and its validity window, signed with Ed25519.
type Signer struct {
	subscriberID string
	keyID        string
	key          ed25519.PrivateKey
	now          func() time.Time
}

// NewSigner accepts either a 32 byte seed or a 64 byte private key.
func NewSigner(subscriberID, keyID string, rawKey []byte) (*Signer, error) {
	var key ed25519.PrivateKey
	switch len(rawKey) {
	case ed25519.SeedSize:
		key = ed25519.NewKeyFromSeed(rawKey)
	case ed25519.PrivateKeySize:
		key = ed25519.PrivateKey(rawKey)
	default:
		return nil, fmt.Errorf("signing key must be %d or %d bytes, got %d",
			ed25519.SeedSize, ed25519.PrivateKeySize, len(rawKey))
	}

	return &Signer{
		subscriberID: subscriberID,
		keyID:        keyID,
		key:          key,
		now:          time.Now,
	}, nil
}

func (s *Signer) PublicKey() ed25519.PublicKey {
	return s.key.Public().(ed25519.PublicKey)
}

func (s *Signer) KeyID() string {
	return fmt.Sprintf("%s|%s|%s", s.subscriberID, s.keyID, signatureAlgorithm)
}

// Sign returns the Authorization header value for body.
func (s *Signer) Sign(body []byte) string {
	created := s.now().Unix()
	expires := created + int64(bpp.SignatureValidity/time.Second)
	signingString := SigningString(created, expires, Digest(body))
	signature := base64.StdEncoding.EncodeToString(ed25519.Sign(s.key, []byte(signingString)))

	return fmt.Sprintf(
		`Signature keyId="%s",algorithm="%s",created="%d",expires="%d",headers="(created) (expires) digest",signature="%s"`,
		s.KeyID(), signatureAlgorithm, created, expires, signature,
	)
}

// Digest is the base64 BLAKE2b-512 of body.
func Digest(body []byte) string {
	sum := blake2b.Sum512(body)
	return base64.StdEncoding.EncodeToString(sum[:])
}

func SigningString(created, expires int64, digest string) string {
	return fmt.Sprintf("(created): %d\n(expires): %d\ndigest: BLAKE-512=%s", created, expires, digest)
}

// ParseHeader splits a Signature header into its parameters.
func ParseHeader(header string) (map[string]string, error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(header), "Signature ")
	if !ok {
		return nil, fmt.Errorf("%w: missing Signature scheme", ErrInvalidSignature)
	}

	params := make(map[string]string)
	for _, part := range strings.Split(rest, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			return nil, fmt.Errorf("%w: malformed parameter %q", ErrInvalidSignature, part)
		}
		params[key] = strings.Trim(value, `"`)
	}
	return params, nil
}

// Verify checks header against body with pub at now.
func Verify(header string, body []byte, pub ed25519.PublicKey, now time.Time) error {
	params, err := ParseHeader(header)
	if err != nil {
		return err
	}

	created, err := strconv.ParseInt(params["created"], 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad created", ErrInvalidSignature)
	}
	expires, err := strconv.ParseInt(params["expires"], 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad expires", ErrInvalidSignature)
	}
	if unix := now.Unix(); unix < created || unix > expires {
		return fmt.Errorf("%w: outside validity window", ErrInvalidSignature)
	}

	sig, err := base64.StdEncoding.DecodeString(params["signature"])
	if err != nil {
		return fmt.Errorf("%w: signature is not base64", ErrInvalidSignature)
	}
	if !ed25519.Verify(pub, []byte(SigningString(created, expires, Digest(body))), sig) {
		return ErrInvalidSignature
	}
	return nil
}
