package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// minSigningKeyLen is the shortest HS256 key accepted.
const minSigningKeyLen = 32

type Config struct {
	Port           string   `mapstructure:"PORT"`
	Env            string   `mapstructure:"ENV"`
	DatabaseURL    string   `mapstructure:"DATABASE_URL"`
	DBMaxConns     int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32    `mapstructure:"DB_MIN_CONNS"`
	DefaultTenant  string   `mapstructure:"DEFAULT_TENANT"`
	CORSOrigins    []string `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS   float64  `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int      `mapstructure:"RATE_LIMIT_BURST"`

	AuthSigningKey string `mapstructure:"AUTH_SIGNING_KEY"`
	AuthIssuer     string `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string `mapstructure:"AUTH_AUDIENCE"`

	GeminiAPIKey          string        `mapstructure:"GEMINI_API_KEY"`
	PredictionModel       string        `mapstructure:"PREDICTION_MODEL"`
	PredictionTimeout     time.Duration `mapstructure:"PREDICTION_TIMEOUT"`
	PredictionConcurrency int           `mapstructure:"PREDICTION_CONCURRENCY"`
	PredictionRPS         float64       `mapstructure:"PREDICTION_RPS"`

	RulesFile string `mapstructure:"RULES_FILE"`
}

var envKeys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "DEFAULT_TENANT",
	"CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"AUTH_SIGNING_KEY", "AUTH_ISSUER", "AUTH_AUDIENCE",
	"GEMINI_API_KEY", "PREDICTION_MODEL", "PREDICTION_TIMEOUT", "PREDICTION_CONCURRENCY", "PREDICTION_RPS",
	"RULES_FILE",
}

// Load reads the configuration from the environment and an optional .env
// file. DATABASE_URL may be empty, in which case the server runs without
// analysis history.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("DEFAULT_TENANT", "default")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)
	v.SetDefault("PREDICTION_TIMEOUT", "15s")
	v.SetDefault("PREDICTION_CONCURRENCY", 4)
	v.SetDefault("PREDICTION_RPS", 2)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(v.GetString("CORS_ORIGINS"))

	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Persistent reports whether analysis history is stored.
func (c *Config) Persistent() bool {
	return c.DatabaseURL != ""
}

// PredictionEnabled reports whether the Gemini predictor should be wired.
func (c *Config) PredictionEnabled() bool {
	return c.GeminiAPIKey != ""
}

// Validate checks that the configuration is safe to run. Outside development
// a signing key is mandatory, so every request is authenticated.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_SIGNING_KEY is required when ENV=%q", c.Env)
	}
	if c.AuthSigningKey != "" && len(c.AuthSigningKey) < minSigningKeyLen {
		return fmt.Errorf("AUTH_SIGNING_KEY must be at least %d bytes, got %d", minSigningKeyLen, len(c.AuthSigningKey))
	}
	if c.DBMaxConns < 1 {
		return fmt.Errorf("DB_MAX_CONNS must be positive, got %d", c.DBMaxConns)
	}
	if c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS must be between 0 and DB_MAX_CONNS (%d), got %d", c.DBMaxConns, c.DBMinConns)
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst < 1 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}
	if c.PredictionTimeout <= 0 {
		return fmt.Errorf("PREDICTION_TIMEOUT must be positive, got %s", c.PredictionTimeout)
	}
	if c.PredictionConcurrency < 1 {
		return fmt.Errorf("PREDICTION_CONCURRENCY must be at least 1, got %d", c.PredictionConcurrency)
	}
	if c.PredictionRPS < 0 {
		return fmt.Errorf("PREDICTION_RPS must not be negative, got %v", c.PredictionRPS)
	}
	return nil
}
