// Package config loads process configuration from the environment and the
// game policy file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"

	"github.com/R3E-Network/scratchcards/pkg/logger"
)

// Storage backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendRedis    = "redis"
)

// Config is the full process configuration.
type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Logging   LoggingConfig
	Chain     ChainConfig
	Signer    SignerConfig
	Claims    ClaimsConfig
	RateLimit RateLimitConfig

	PolicyFile string `env:"POLICY_FILE"`
	// Policy is loaded from PolicyFile after decoding.
	Policy *Policy
}

type ServerConfig struct {
	Addr            string        `env:"HTTP_ADDR,default=:8080"`
	ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT,default=10s"`
	WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT,default=30s"`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT,default=15s"`
	CORSOrigins     string        `env:"CORS_ALLOWED_ORIGINS"` // comma separated
}

type StorageConfig struct {
	Backend     string `env:"STORAGE_BACKEND,default=memory"`
	AutoMigrate bool   `env:"STORAGE_AUTO_MIGRATE,default=true"`
}

type DatabaseConfig struct {
	DSN             string        `env:"DATABASE_URL"`
	MaxOpenConns    int           `env:"DATABASE_MAX_OPEN_CONNS,default=20"`
	MaxIdleConns    int           `env:"DATABASE_MAX_IDLE_CONNS,default=5"`
	ConnMaxLifetime time.Duration `env:"DATABASE_CONN_MAX_LIFETIME,default=30m"`
}

type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR,default=localhost:6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB,default=0"`
}

type LoggingConfig struct {
	Level  string `env:"LOG_LEVEL,default=info"`
	Format string `env:"LOG_FORMAT,default=text"`
	Output string `env:"LOG_OUTPUT,default=stdout"`
}

// ChainConfig points at the claim contract. An empty RPC URL disables remote
// hashing and verification.
type ChainConfig struct {
	RPCURL        string        `env:"CHAIN_RPC_URL"`
	ClaimContract string        `env:"CLAIM_CONTRACT_ADDRESS"`
	CallTimeout   time.Duration `env:"CHAIN_CALL_TIMEOUT,default=5s"`
}

// SignerConfig selects the claim signing key: an explicit private key, or a
// key derived from a master seed and version.
type SignerConfig struct {
	PrivateKey string `env:"CLAIM_SIGNER_KEY"`
	MasterSeed string `env:"CLAIM_SIGNER_SEED"`
	KeyVersion string `env:"CLAIM_SIGNER_KEY_VERSION"`
}

type ClaimsConfig struct {
	DeadlineOffset   time.Duration `env:"CLAIM_DEADLINE_OFFSET,default=15m"`
	BatchConcurrency int           `env:"CLAIM_BATCH_CONCURRENCY,default=8"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `env:"RATE_LIMIT_RPS,default=20"`
	Burst             int     `env:"RATE_LIMIT_BURST,default=40"`
}

// Load reads .env when present, decodes the environment and loads the game
// policy.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv()
}

// FromEnv decodes the current environment without reading .env.
func FromEnv() (*Config, error) {
	cfg := &Config{}
	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	policy, err := LoadPolicy(cfg.PolicyFile)
	if err != nil {
		return nil, err
	}
	cfg.Policy = policy
	return cfg, nil
}

// applyDefaults fills zero values, for the case where no variable was set and
// envdecode left the struct untouched.
func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 10 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 30 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 15 * time.Second
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = BackendMemory
	}
	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 20
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Chain.CallTimeout == 0 {
		c.Chain.CallTimeout = 5 * time.Second
	}
	if c.Claims.DeadlineOffset == 0 {
		c.Claims.DeadlineOffset = 15 * time.Minute
	}
	if c.Claims.BatchConcurrency == 0 {
		c.Claims.BatchConcurrency = 8
	}
	if c.RateLimit.RequestsPerSecond == 0 {
		c.RateLimit.RequestsPerSecond = 20
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 40
	}
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendMemory, BackendRedis:
	case BackendPostgres, BackendSQLite:
		if strings.TrimSpace(c.Database.DSN) == "" {
			return fmt.Errorf("DATABASE_URL is required for the %s backend", c.Storage.Backend)
		}
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q", c.Storage.Backend)
	}
	if c.Claims.DeadlineOffset < 0 {
		return fmt.Errorf("CLAIM_DEADLINE_OFFSET must not be negative")
	}
	if c.RateLimit.RequestsPerSecond < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("rate limit settings must not be negative")
	}
	if c.Chain.RPCURL != "" && c.Chain.ClaimContract == "" {
		return fmt.Errorf("CLAIM_CONTRACT_ADDRESS is required when CHAIN_RPC_URL is set")
	}
	if c.Signer.PrivateKey != "" && c.Signer.MasterSeed != "" {
		return fmt.Errorf("set either CLAIM_SIGNER_KEY or CLAIM_SIGNER_SEED, not both")
	}
	return nil
}

// Origins splits CORSOrigins.
func (s ServerConfig) Origins() []string {
	if strings.TrimSpace(s.CORSOrigins) == "" {
		return nil
	}
	var out []string
	for _, o := range strings.Split(s.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// LoggerConfig converts the logging section for pkg/logger.
func (l LoggingConfig) LoggerConfig() logger.LoggingConfig {
	return logger.LoggingConfig{Level: l.Level, Format: l.Format, Output: l.Output}
}
