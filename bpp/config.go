package bpp

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/shopspring/decimal"
)

const (
	// GiftExpiry is how long a published gift offer stays claimable.
	GiftExpiry = 7 * 24 * time.Hour
	// DeliveryWindow is the simulated delivery duration measured from confirmation.
	DeliveryWindow = 24 * time.Hour
	// SignatureValidity bounds the (created, expires) pair of a ledger signature.
	SignatureValidity = 5 * time.Minute
)

func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config: %w", err)
	}
	defer file.Close()

	// keys absent from the file keep their defaults; explicit zeros stay zero
	cfg := DefaultConfig()
	if err = toml.NewDecoder(file).Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err = cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

type Config struct {
	Log       LogConfig       `toml:"log"`
	DB        DBConfig        `toml:"db"`
	Web       WebConfig       `toml:"web"`
	Protocol  ProtocolConfig  `toml:"protocol"`
	Ledger    LedgerConfig    `toml:"ledger"`
	Catalog   CatalogConfig   `toml:"catalog"`
	Templates TemplatesConfig `toml:"templates"`
	Notify    NotifyConfig    `toml:"notify"`
}

type LogConfig struct {
	Level     slog.Level `toml:"level"`
	Format    string     `toml:"format"`
	AddSource bool       `toml:"add_source"`
}

type DBConfig struct {
	Host         string `toml:"host"`
	Port         int    `toml:"port"`
	User         string `toml:"user"`
	Password     string `toml:"password"`
	Database     string `toml:"database"`
	PoolSize     int    `toml:"pool_size"`
	MaxIdleConns int    `toml:"max_idle_conns"`
	MaxLifetime  int    `toml:"max_lifetime"`
}

type WebConfig struct {
	Host              string `toml:"host"`
	Port              int    `toml:"port"`
	RateLimit         int    `toml:"rate_limit"`
	RateWindowSeconds int    `toml:"rate_window_seconds"`
	AllowedOrigins    string `toml:"allowed_origins"`
	// AdminToken enables the operator routes under /admin.
	AdminToken string `toml:"admin_token"`
}

// ProtocolConfig identifies this participant on the network and prices its orders.
type ProtocolConfig struct {
	BppID            string `toml:"bpp_id"`
	BppURI           string `toml:"bpp_uri"`
	Domain           string `toml:"domain"`
	CallbackEndpoint string `toml:"callback_endpoint"`
	// WheelingRate is the grid transport charge per kWh.
	WheelingRate  float64 `toml:"wheeling_rate"`
	Currency      string  `toml:"currency"`
	PersonaHeader string  `toml:"persona_header"`
	WorkerLimit   int     `toml:"worker_limit"`
}

func (p ProtocolConfig) Wheeling() decimal.Decimal {
	return decimal.NewFromFloat(p.WheelingRate)
}

type LedgerConfig struct {
	BaseURL           string `toml:"base_url"`
	TimeoutSeconds    int    `toml:"timeout_seconds"`
	RetryCount        int    `toml:"retry_count"`
	RetryDelayMs      int    `toml:"retry_delay_ms"`
	SubscriberID      string `toml:"subscriber_id"`
	UniqueKeyID       string `toml:"unique_key_id"`
	SigningPrivateKey string `toml:"signing_private_key"`
	// LedgerPublicKey verifies the signature on pushes to /ledger/callback.
	LedgerPublicKey string `toml:"ledger_public_key"`
	// ReconcileIntervalMinutes of 0 turns the background reconciler off.
	ReconcileIntervalMinutes int `toml:"reconcile_interval_minutes"`
}

func (l LedgerConfig) Timeout() time.Duration {
	return time.Duration(l.TimeoutSeconds) * time.Second
}

func (l LedgerConfig) RetryDelay() time.Duration {
	return time.Duration(l.RetryDelayMs) * time.Millisecond
}

// PrivateKey decodes the base64 signing key. Both a 32 byte seed and a
// 64 byte expanded key are accepted.
func (l LedgerConfig) PrivateKey() ([]byte, error) {
	if l.SigningPrivateKey == "" {
		return nil, nil
	}
	raw, err := base64.StdEncoding.DecodeString(l.SigningPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decode signing key: %w", err)
	}
	return raw, nil
}

// PushKey decodes the base64 Ed25519 public key of the ledger. It is nil
// when none is configured.
func (l LedgerConfig) PushKey() (ed25519.PublicKey, error) {
	if l.LedgerPublicKey == "" {
		return nil, nil
	}
	raw, err := base64.StdEncoding.DecodeString(l.LedgerPublicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decode ledger public key: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("ledger public key must be %d bytes, got %d", ed25519.PublicKeySize, len(raw))
	}
	return ed25519.PublicKey(raw), nil
}

type CatalogConfig struct {
	Key      string `toml:"key"`
	Secret   string `toml:"secret"`
	Region   string `toml:"region"`
	Bucket   string `toml:"bucket"`
	Endpoint string `toml:"endpoint"`
	Prefix   string `toml:"prefix"`
}

type TemplatesConfig struct {
	MongoURI   string `toml:"mongo_uri"`
	Database   string `toml:"database"`
	Collection string `toml:"collection"`
	CacheSize  int    `toml:"cache_size"`
}

type NotifyConfig struct {
	WebhookURL string `toml:"webhook_url"`
}

func DefaultConfig() *Config {
	return &Config{
		Web: WebConfig{
			Host:              "0.0.0.0",
			Port:              8081,
			RateLimit:         300,
			RateWindowSeconds: 60,
		},
		Protocol: ProtocolConfig{
			Domain:        "beckn.one:deg:p2p-trading:2.0.0",
			Currency:      "INR",
			PersonaHeader: "X-Persona",
			WorkerLimit:   64,
		},
		Ledger: LedgerConfig{
			TimeoutSeconds:           10,
			RetryCount:               3,
			RetryDelayMs:             500,
			ReconcileIntervalMinutes: 15,
		},
		Templates: TemplatesConfig{
			Collection: "callback_templates",
			CacheSize:  512,
		},
	}
}

func (c *Config) Validate() error {
	if c.Protocol.BppID == "" {
		return errors.New("protocol.bpp_id is required")
	}
	if c.Protocol.WheelingRate < 0 {
		return fmt.Errorf("protocol.wheeling_rate must not be negative, got %v", c.Protocol.WheelingRate)
	}
	if c.Protocol.WorkerLimit < 1 {
		return fmt.Errorf("protocol.worker_limit must be at least 1, got %d", c.Protocol.WorkerLimit)
	}
	if c.Ledger.TimeoutSeconds <= 0 {
		return fmt.Errorf("ledger.timeout_seconds must be positive, got %d", c.Ledger.TimeoutSeconds)
	}
	if c.Ledger.RetryCount < 0 {
		return fmt.Errorf("ledger.retry_count must not be negative, got %d", c.Ledger.RetryCount)
	}
	if c.Ledger.ReconcileIntervalMinutes < 0 {
		return fmt.Errorf("ledger.reconcile_interval_minutes must not be negative, got %d", c.Ledger.ReconcileIntervalMinutes)
	}
	if _, err := c.Ledger.PushKey(); err != nil {
		return err
	}
	return nil
}
