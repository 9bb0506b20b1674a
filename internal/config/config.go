package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"github.com/subosito/gotenv"

	"github.com/leafsii/nft-marketplace/internal/address"
	"github.com/leafsii/nft-marketplace/internal/calc"
)

type Config struct {
	Env      string `mapstructure:"MKT_ENV"`
	HTTPAddr string `mapstructure:"MKT_HTTP_ADDR"`

	Chain    ChainConfig    `mapstructure:",squash"`
	Database DBConfig       `mapstructure:",squash"`
	Cache    CacheConfig    `mapstructure:",squash"`
	Events   EventsConfig   `mapstructure:",squash"`
	Security SecurityConfig `mapstructure:",squash"`
}

// ChainConfig describes the genesis state of the in-process ledgers.
type ChainConfig struct {
	DeployerAddress string `mapstructure:"MKT_DEPLOYER_ADDRESS"`
	OperatorAddress string `mapstructure:"MKT_OPERATOR_ADDRESS"`
	TokenName       string `mapstructure:"MKT_TOKEN_NAME"`
	TokenSymbol     string `mapstructure:"MKT_TOKEN_SYMBOL"`
	TokenDecimals   int32  `mapstructure:"MKT_TOKEN_DECIMALS"`
	InitialSupply   string `mapstructure:"MKT_INITIAL_SUPPLY"`
	OnrampRate      string `mapstructure:"MKT_ONRAMP_RATE"`
}

type DBConfig struct {
	// PostgresDSN enables the event archive when set.
	PostgresDSN string `mapstructure:"MKT_POSTGRES_DSN"`
}

type CacheConfig struct {
	RedisAddr string `mapstructure:"MKT_REDIS_ADDR"`
}

type EventsConfig struct {
	// NATSURL enables the JetStream event sink when set.
	NATSURL string `mapstructure:"MKT_NATS_URL"`
}

type SecurityConfig struct {
	RequireSignatures  bool     `mapstructure:"MKT_REQUIRE_SIGNATURES"`
	RateLimitRPM       int      `mapstructure:"MKT_RATE_LIMIT_RPM"`
	CORSAllowedOrigins []string `mapstructure:"MKT_CORS_ALLOWED_ORIGINS"`
}

func loadDotEnvFiles() {
	candidates := []string{
		".env",
		"config.env",
		filepath.Join("..", ".env"),
		filepath.Join("..", "config.env"),
	}

	seen := make(map[string]struct{})
	for _, path := range candidates {
		abs := path
		if resolved, err := filepath.Abs(path); err == nil {
			abs = resolved
		}
		if _, ok := seen[abs]; ok {
			continue
		}
		seen[abs] = struct{}{}

		if _, err := os.Stat(path); err == nil {
			_ = gotenv.Load(path) // env vars already set take precedence
		}
	}
}

// Load reads .env files, then the environment, and validates the result.
func Load() (*Config, error) {
	loadDotEnvFiles()
	return load(viper.New())
}

func load(v *viper.Viper) (*Config, error) {
	v.SetConfigType("env")
	v.AutomaticEnv()

	setDefaults(v)

	// viper does not split comma-separated env values on its own
	if origins := v.GetString("MKT_CORS_ALLOWED_ORIGINS"); origins != "" {
		v.Set("MKT_CORS_ALLOWED_ORIGINS", splitList(origins))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("MKT_ENV", "dev")
	v.SetDefault("MKT_HTTP_ADDR", ":8080")
	v.SetDefault("MKT_REDIS_ADDR", "")
	v.SetDefault("MKT_POSTGRES_DSN", "")
	v.SetDefault("MKT_NATS_URL", "")
	v.SetDefault("MKT_DEPLOYER_ADDRESS", "0x00000000000000000000000000000000000d3b10")
	v.SetDefault("MKT_OPERATOR_ADDRESS", "")
	v.SetDefault("MKT_TOKEN_NAME", "Marketplace Token")
	v.SetDefault("MKT_TOKEN_SYMBOL", "MKT")
	v.SetDefault("MKT_TOKEN_DECIMALS", 18)
	v.SetDefault("MKT_INITIAL_SUPPLY", "1000000000000000000000000")
	v.SetDefault("MKT_ONRAMP_RATE", "1")
	v.SetDefault("MKT_REQUIRE_SIGNATURES", false)
	v.SetDefault("MKT_RATE_LIMIT_RPM", 120)
	v.SetDefault("MKT_CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173")
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) validate() error {
	switch c.Env {
	case "dev", "test", "prod":
	default:
		return fmt.Errorf("invalid MKT_ENV %q (must be dev, test, or prod)", c.Env)
	}
	if c.HTTPAddr == "" {
		return fmt.Errorf("MKT_HTTP_ADDR is required")
	}

	deployer, err := address.Parse(c.Chain.DeployerAddress)
	if err != nil {
		return fmt.Errorf("MKT_DEPLOYER_ADDRESS: %w", err)
	}
	if deployer.IsZero() {
		return fmt.Errorf("MKT_DEPLOYER_ADDRESS must not be the zero address")
	}
	if c.Chain.OperatorAddress != "" {
		if _, err := address.Parse(c.Chain.OperatorAddress); err != nil {
			return fmt.Errorf("MKT_OPERATOR_ADDRESS: %w", err)
		}
	}

	if _, err := calc.ParseTokenAmount(c.Chain.InitialSupply, "initial supply"); err != nil {
		return fmt.Errorf("MKT_INITIAL_SUPPLY: %w", err)
	}
	rate, err := calc.ParseTokenAmount(c.Chain.OnrampRate, "on-ramp rate")
	if err != nil {
		return fmt.Errorf("MKT_ONRAMP_RATE: %w", err)
	}
	if !rate.IsPositive() {
		return fmt.Errorf("MKT_ONRAMP_RATE must be positive")
	}
	if c.Chain.TokenDecimals < 0 {
		return fmt.Errorf("MKT_TOKEN_DECIMALS must not be negative")
	}
	if c.Security.RateLimitRPM < 0 {
		return fmt.Errorf("MKT_RATE_LIMIT_RPM must not be negative")
	}
	return nil
}

func (c *Config) IsDev() bool {
	return c.Env == "dev"
}

func (c *Config) IsProd() bool {
	return c.Env == "prod"
}

// Deployer returns the validated deployer address.
func (c *ChainConfig) Deployer() address.Address {
	return address.MustParse(c.DeployerAddress)
}

// Operator returns the operator address, or the zero address when unset.
func (c *ChainConfig) Operator() address.Address {
	if c.OperatorAddress == "" {
		return address.Zero
	}
	return address.MustParse(c.OperatorAddress)
}

func (c *ChainConfig) Supply() decimal.Decimal {
	return decimal.RequireFromString(c.InitialSupply)
}

func (c *ChainConfig) Rate() decimal.Decimal {
	return decimal.RequireFromString(c.OnrampRate)
}
