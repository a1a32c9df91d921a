package config

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string `mapstructure:"PORT"`
	Env         string `mapstructure:"ENV"`
	LogLevel    string `mapstructure:"LOG_LEVEL"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`

	AuthIssuer   string `mapstructure:"AUTH_ISSUER"`
	AuthAudience string `mapstructure:"AUTH_AUDIENCE"`
	AuthJWKSURL  string `mapstructure:"AUTH_JWKS_URL"`
	// AuthSigningKey enables HS256 verification in development and tests.
	AuthSigningKey string `mapstructure:"AUTH_SIGNING_KEY"`

	// PHIMasterKey is the 32-byte master encryption key, hex encoded.
	PHIMasterKey string `mapstructure:"PHI_MASTER_KEY"`
	// PHIMasterKeyVersion tags ciphertext written under the current key.
	PHIMasterKeyVersion int `mapstructure:"PHI_MASTER_KEY_VERSION"`
	// PHIPreviousKeys holds retired master keys as "version:hexkey" pairs,
	// comma separated, kept so ciphertext written under them stays readable.
	PHIPreviousKeys []string `mapstructure:"PHI_PREVIOUS_KEYS"`
	// PHIHashSecret seeds the keyed search-hash derivation.
	PHIHashSecret string `mapstructure:"PHI_HASH_SECRET"`

	RateLimitRPS   float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int           `mapstructure:"RATE_LIMIT_BURST"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	BodyLimit      string        `mapstructure:"BODY_LIMIT"`

	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("PHI_MASTER_KEY_VERSION", 1)
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("BODY_LIMIT", "1M")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range []string{
		"PORT", "ENV", "LOG_LEVEL",
		"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
		"AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_JWKS_URL", "AUTH_SIGNING_KEY",
		"PHI_MASTER_KEY", "PHI_MASTER_KEY_VERSION", "PHI_PREVIOUS_KEYS", "PHI_HASH_SECRET",
		"RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "REQUEST_TIMEOUT", "BODY_LIMIT",
		"CORS_ORIGINS",
	} {
		v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		if origins := v.GetString("CORS_ORIGINS"); origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}
	if cfg.PHIPreviousKeys == nil {
		if keys := v.GetString("PHI_PREVIOUS_KEYS"); keys != "" {
			cfg.PHIPreviousKeys = strings.Split(keys, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// MasterKey decodes the hex-encoded PHI master key.
func (c *Config) MasterKey() ([]byte, error) {
	return decodeKey("PHI_MASTER_KEY", c.PHIMasterKey)
}

// PreviousKeys decodes retired master keys keyed by version.
func (c *Config) PreviousKeys() (map[int][]byte, error) {
	if len(c.PHIPreviousKeys) == 0 {
		return nil, nil
	}
	keys := make(map[int][]byte, len(c.PHIPreviousKeys))
	for _, pair := range c.PHIPreviousKeys {
		var version int
		var hexKey string
		if _, err := fmt.Sscanf(strings.TrimSpace(pair), "%d:%s", &version, &hexKey); err != nil {
			return nil, fmt.Errorf("PHI_PREVIOUS_KEYS entry %q is not version:hexkey", pair)
		}
		key, err := decodeKey("PHI_PREVIOUS_KEYS", hexKey)
		if err != nil {
			return nil, err
		}
		keys[version] = key
	}
	return keys, nil
}

func decodeKey(name, hexKey string) ([]byte, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("%s is not valid hex: %w", name, err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("%s must be 32 bytes (64 hex chars), got %d bytes", name, len(key))
	}
	return key, nil
}

// Validate checks that the configuration is safe to run. Production requires
// real JWT verification material, the PHI master key, and the hash secret;
// development may fall back to the shared signing key and generated keys.
func (c *Config) Validate() error {
	if c.IsProduction() {
		if c.AuthIssuer == "" || c.AuthJWKSURL == "" {
			return fmt.Errorf("AUTH_ISSUER and AUTH_JWKS_URL are required in production; " +
				"refusing to start without real credential verification")
		}
		if c.AuthSigningKey != "" {
			return fmt.Errorf("AUTH_SIGNING_KEY must not be set in production")
		}
		if c.PHIMasterKey == "" {
			return fmt.Errorf("PHI_MASTER_KEY is required in production")
		}
		if c.PHIHashSecret == "" {
			return fmt.Errorf("PHI_HASH_SECRET is required in production")
		}
	}

	if !c.IsProduction() && c.AuthJWKSURL == "" && c.AuthSigningKey == "" {
		return fmt.Errorf("one of AUTH_JWKS_URL or AUTH_SIGNING_KEY must be set")
	}

	if c.PHIMasterKey != "" {
		if _, err := c.MasterKey(); err != nil {
			return err
		}
	}
	if _, err := c.PreviousKeys(); err != nil {
		return err
	}

	return nil
}
