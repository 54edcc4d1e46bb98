// Package config loads OPNODE configuration from the environment.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all runtime configuration for the OPNODE backend.
type Config struct {
	ListenAddr   string `env:"OPNODE_LISTEN_ADDR,default=:8080"`
	PublicAppURL string `env:"OPNODE_PUBLIC_APP_URL,default=http://localhost:3000"`
	LogLevel     string `env:"OPNODE_LOG_LEVEL,default=info"`
	LogFormat    string `env:"OPNODE_LOG_FORMAT,default=json"`

	// Hosted document store (all server-side data access).
	StoreURL        string `env:"OPNODE_STORE_URL,required"`
	StoreServiceKey string `env:"OPNODE_STORE_SERVICE_KEY,required"`

	// Video platform (Mux). Empty token disables stream creation/deletion.
	MuxTokenID       string `env:"MUX_TOKEN_ID"`
	MuxTokenSecret   string `env:"MUX_TOKEN_SECRET"`
	MuxWebhookSecret string `env:"MUX_WEBHOOK_SECRET"`
	InsecureWebhooks bool   `env:"OPNODE_INSECURE_WEBHOOKS,default=false"`

	// Wallet SDK daemon.
	WalletAPIKey  string `env:"WALLET_API_KEY"`
	WalletNetwork string `env:"WALLET_NETWORK,default=mainnet"`
	WalletAPIURL  string `env:"WALLET_API_URL,default=http://localhost:8790"`

	// Symmetric secret for wallet seed and stream key encryption.
	WalletEncryptionSecret string `env:"WALLET_ENCRYPTION_SECRET,required"`

	// Optional redis for the viewer-count cache.
	RedisAddr string `env:"OPNODE_REDIS_ADDR"`

	// JWT signing secret for viewer session tokens.
	SessionSecret string `env:"OPNODE_SESSION_SECRET,default=dev-session-secret"`

	Tuning Tuning `env:"-"`
}

// Tuning holds operational knobs that may also be overridden from a YAML
// file (OPNODE_TUNING_FILE).
type Tuning struct {
	ReconcileInterval  time.Duration `yaml:"reconcile_interval"`
	PendingGiftTimeout time.Duration `yaml:"pending_gift_timeout"`
	ViewerCacheTTL     time.Duration `yaml:"viewer_cache_ttl"`
	WebhookTolerance   time.Duration `yaml:"webhook_tolerance"`
	RateLimitPerSecond int           `yaml:"rate_limit_per_second"`
	RateLimitBurst     int           `yaml:"rate_limit_burst"`
}

// DefaultTuning returns the built-in operational defaults.
func DefaultTuning() Tuning {
	return Tuning{
		ReconcileInterval:  time.Minute,
		PendingGiftTimeout: 5 * time.Minute,
		ViewerCacheTTL:     10 * time.Second,
		WebhookTolerance:   5 * time.Minute,
		RateLimitPerSecond: 20,
		RateLimitBurst:     40,
	}
}

// Load reads configuration from the environment. A .env file is applied
// first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envdecode.StrictDecode(&cfg); err != nil {
		return nil, fmt.Errorf("decode environment: %w", err)
	}

	cfg.Tuning = DefaultTuning()
	if path := os.Getenv("OPNODE_TUNING_FILE"); path != "" {
		if err := cfg.Tuning.loadFile(path); err != nil {
			return nil, fmt.Errorf("load tuning file: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate enforces constraints envdecode cannot express.
func (c *Config) Validate() error {
	switch c.WalletNetwork {
	case "mainnet", "testnet", "regtest":
	default:
		return fmt.Errorf("WALLET_NETWORK must be mainnet, testnet or regtest, got %q", c.WalletNetwork)
	}

	// A missing webhook secret is only tolerated when insecure mode is
	// explicitly requested; silent skip-verification is not an option.
	if c.MuxWebhookSecret == "" && !c.InsecureWebhooks {
		return fmt.Errorf("MUX_WEBHOOK_SECRET is required unless OPNODE_INSECURE_WEBHOOKS=true")
	}

	return nil
}

func (t *Tuning) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, t); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	if t.ReconcileInterval <= 0 || t.PendingGiftTimeout <= 0 {
		return fmt.Errorf("%s: intervals must be positive", path)
	}
	return nil
}
