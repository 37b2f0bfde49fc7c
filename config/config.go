/*
Package config loads server configuration from a TOML file.

PURPOSE:
  One Config struct covers the whole binary: HTTP server, database
  path, payment processor credentials, and the course catalog source.
  Everything has a sensible default so `server serve` works with no
  config file at all (in-memory-friendly dev defaults, NOT production
  settings).

PRECEDENCE:
  defaults < config file. There is deliberately no env-var layer;
  deployments template the TOML file instead.

SEE ALSO:
  - cmd/server/main.go: the only consumer
*/
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/shopspring/decimal"
)

// Config is the root configuration.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Payment PaymentConfig `toml:"payment"`
	Catalog CatalogConfig `toml:"catalog"`
}

// ServerConfig covers the HTTP listener and storage.
type ServerConfig struct {
	Port   int    `toml:"port"`
	DBPath string `toml:"db_path"` // ":memory:" for ephemeral storage
}

// PaymentConfig covers the external payment processor.
type PaymentConfig struct {
	APIURL         string   `toml:"api_url"`
	SecretKey      string   `toml:"secret_key"`
	Recipient      string   `toml:"recipient"`
	ConversionRate string   `toml:"conversion_rate"` // external currency per credit
	RequestTimeout duration `toml:"request_timeout"`
	WebhookSecret  string   `toml:"webhook_secret"` // empty disables signature checks
	IntentTTL      duration `toml:"intent_ttl"`     // 0 disables the expiry sweep
}

// CatalogConfig covers course pricing. When URL is set the external
// catalog service is queried; otherwise StaticPrices is used.
type CatalogConfig struct {
	URL          string           `toml:"url"`
	StaticPrices map[string]int64 `toml:"static_prices"`
}

// duration lets TOML carry values like "5s" or "48h".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// Default returns the dev-friendly defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:   8080,
			DBPath: "credits.db",
		},
		Payment: PaymentConfig{
			ConversionRate: "0.00000261",
			RequestTimeout: duration{10 * time.Second},
			IntentTTL:      duration{48 * time.Hour},
		},
		Catalog: CatalogConfig{
			StaticPrices: map[string]int64{},
		},
	}
}

// Load reads the TOML file at path over the defaults. An empty path
// returns the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := toml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if _, err := c.Rate(); err != nil {
		return fmt.Errorf("invalid conversion_rate %q: %w", c.Payment.ConversionRate, err)
	}
	for course, price := range c.Catalog.StaticPrices {
		if price < 0 {
			return fmt.Errorf("negative price for course %q", course)
		}
	}
	return nil
}

// Rate parses the conversion rate as a decimal.
func (c Config) Rate() (decimal.Decimal, error) {
	return decimal.NewFromString(c.Payment.ConversionRate)
}

// RequestTimeout returns the processor call timeout.
func (c Config) RequestTimeout() time.Duration {
	return c.Payment.RequestTimeout.Duration
}

// IntentTTL returns how long a created intent stays confirmable.
func (c Config) IntentTTL() time.Duration {
	return c.Payment.IntentTTL.Duration
}
