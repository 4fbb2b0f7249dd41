// Package config holds OPERATOR-LEVEL configuration for an assistant
// installation.
//
// This is infrastructure config set by the admin who deploys the service,
// not tenant configuration. The boundary is:
//
//   - Operator config (this package): data directory, vault encryption key,
//     audit signing key, rate limits, approval horizon, classifier model.
//     Set via env vars (ASSIST_*) or config file (assistant.config.yaml).
//
//   - Tenant config: policy settings (internal/policy) and per-tenant
//     credentials such as the messaging provider token, stored only in the
//     encrypted secrets vault (internal/secrets).
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Viper keys. Each maps to an env var with the ASSIST_ prefix
// (e.g. "signing_key" → ASSIST_SIGNING_KEY) and to a YAML field in
// assistant.config.yaml.
const (
	KeyDataDir          = "data_dir"
	KeySecretsKey       = "secrets_key"
	KeySigningKey       = "signing_key"
	KeyListenAddr       = "listen_addr"
	KeyRatePerSecond    = "rate_per_second"
	KeyRateBurst        = "rate_burst"
	KeyRateMaxWaitMS    = "rate_max_wait_ms"
	KeyApprovalHorizonH = "approval_horizon_hours"
	KeyExpireCronSpec   = "expire_cron_spec"
	KeyClassifierModel  = "classifier_model"
	KeyOpenAIAPIKey     = "openai_api_key"
	KeyMessagingBaseURL = "messaging_base_url"
	KeyOTelEnabled      = "otel_enabled"
)

// Defaults that do not involve crypto material. Crypto keys intentionally
// have no baked-in defaults; when unset we generate a deterministic
// per-machine fallback and warn loudly.
const (
	DefaultListenAddr      = ":8080"
	DefaultRatePerSecond   = 5.0
	DefaultRateBurst       = 10
	DefaultRateMaxWaitMS   = 2000
	DefaultApprovalHorizon = 72
	DefaultExpireCronSpec  = "@every 15m"
	DefaultClassifierModel = "gpt-4o-mini"
)

// Config holds resolved operator-level configuration for one process.
type Config struct {
	DataDir          string
	SecretsKey       string // secretbox key for the vault (32 bytes or 64 hex)
	SigningKey       string // HMAC-SHA256 key for audit signing (≥32 bytes)
	ListenAddr       string
	RatePerSecond    float64
	RateBurst        int
	RateMaxWait      time.Duration
	ApprovalHorizon  time.Duration // pending cards older than this expire
	ExpireCronSpec   string
	ClassifierModel  string
	OpenAIAPIKey     string // empty disables the LLM classifier (keyword fallback only)
	MessagingBaseURL string // empty disables outbound events (log sender)
	OTelEnabled      bool

	usingDefaultSecretsKey bool
	usingDefaultSigningKey bool
}

// UsingDefaultKeys reports whether either crypto key fell back to a
// generated default. Commands should warn when this is the case.
func (c *Config) UsingDefaultKeys() bool {
	return c.usingDefaultSecretsKey || c.usingDefaultSigningKey
}

// DBPath returns the full path to the assistant SQLite database.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "assistant.db")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func (c *Config) EnsureDataDir() error {
	return os.MkdirAll(c.DataDir, 0o700)
}

// WarnIfDefaultKeys logs a warning when crypto keys are not explicitly set.
func (c *Config) WarnIfDefaultKeys() {
	if c.usingDefaultSecretsKey {
		log.Warn().Msg("Using generated default ASSIST_SECRETS_KEY; set via env var or config file for production")
	}
	if c.usingDefaultSigningKey {
		log.Warn().Msg("Using generated default ASSIST_SIGNING_KEY; set via env var or config file for production")
	}
}

func init() {
	viper.SetEnvPrefix("ASSIST")
	viper.AutomaticEnv()
	viper.SetDefault(KeyListenAddr, DefaultListenAddr)
	viper.SetDefault(KeyRatePerSecond, DefaultRatePerSecond)
	viper.SetDefault(KeyRateBurst, DefaultRateBurst)
	viper.SetDefault(KeyRateMaxWaitMS, DefaultRateMaxWaitMS)
	viper.SetDefault(KeyApprovalHorizonH, DefaultApprovalHorizon)
	viper.SetDefault(KeyExpireCronSpec, DefaultExpireCronSpec)
	viper.SetDefault(KeyClassifierModel, DefaultClassifierModel)
}

// Load reads configuration from Viper (which merges env vars, config file,
// and defaults) and returns a validated Config.
func Load() (*Config, error) {
	cfg := &Config{
		DataDir:          resolveDataDir(),
		SecretsKey:       viper.GetString(KeySecretsKey),
		SigningKey:       viper.GetString(KeySigningKey),
		ListenAddr:       viper.GetString(KeyListenAddr),
		RatePerSecond:    viper.GetFloat64(KeyRatePerSecond),
		RateBurst:        viper.GetInt(KeyRateBurst),
		RateMaxWait:      time.Duration(viper.GetInt(KeyRateMaxWaitMS)) * time.Millisecond,
		ApprovalHorizon:  time.Duration(viper.GetInt(KeyApprovalHorizonH)) * time.Hour,
		ExpireCronSpec:   viper.GetString(KeyExpireCronSpec),
		ClassifierModel:  viper.GetString(KeyClassifierModel),
		OpenAIAPIKey:     viper.GetString(KeyOpenAIAPIKey),
		MessagingBaseURL: viper.GetString(KeyMessagingBaseURL),
		OTelEnabled:      viper.GetBool(KeyOTelEnabled),
	}

	if cfg.SecretsKey == "" {
		cfg.SecretsKey = deriveDefaultKey(cfg.DataDir, "secrets-encryption")
		cfg.usingDefaultSecretsKey = true
	}
	if cfg.SigningKey == "" {
		cfg.SigningKey = deriveDefaultKey(cfg.DataDir, "audit-signing-----")
		cfg.usingDefaultSigningKey = true
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func resolveDataDir() string {
	if dir := viper.GetString(KeyDataDir); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".assistant"
	}
	return filepath.Join(home, ".assistant")
}

// deriveDefaultKey produces a deterministic 32-byte fallback key from the
// data directory path and a salt. Not cryptographically strong; it exists
// solely so the service runs out of the box while still encrypting data at
// rest with a per-machine-unique key.
func deriveDefaultKey(dataDir, salt string) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("assistant:%s:%s", dataDir, salt)))
	return hex.EncodeToString(h[:])
}

func (c *Config) validate() error {
	if err := validateKey("secrets_key", c.SecretsKey); err != nil {
		return err
	}
	if err := validateKey("signing_key", c.SigningKey); err != nil {
		return err
	}
	if c.RatePerSecond <= 0 {
		return fmt.Errorf("rate_per_second must be positive")
	}
	if c.RateBurst < 1 {
		return fmt.Errorf("rate_burst must be at least 1")
	}
	if c.ApprovalHorizon < time.Hour {
		return fmt.Errorf("approval_horizon_hours must be at least 1")
	}
	return nil
}

// validateKey accepts either ≥32 raw bytes or 64 hex characters.
func validateKey(name, key string) error {
	n := len(key)
	if n == 64 && isHex(key) {
		return nil
	}
	if n >= 32 {
		return nil
	}
	return fmt.Errorf("%s must be at least 32 bytes or 64 hex characters (got %d)", name, n)
}

func isHex(s string) bool {
	_, err := hex.DecodeString(s)
	return err == nil
}
