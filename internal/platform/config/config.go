package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Backend names accepted in HEALTHVAULT_BACKEND.
const (
	BackendFile     = "file"
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Config is loaded from HEALTHVAULT_* environment variables.
type Config struct {
	Backend  string `envconfig:"BACKEND" default:"file"`
	DataDir  string `envconfig:"DATA_DIR" default:"./data"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// Sub-configs are processed one by one so their variables keep the flat
	// HEALTHVAULT_<NAME> form instead of a nested prefix.
	Keys     KeyConfig      `ignored:"true"`
	Redis    RedisConfig    `ignored:"true"`
	Postgres PostgresConfig `ignored:"true"`
	Profile  ProfileConfig  `ignored:"true"`
	Consent  ConsentConfig  `ignored:"true"`
	Server   ServerConfig   `ignored:"true"`
}

// KeyConfig selects where the device master key comes from. A passphrase
// takes precedence over the key file when both are set.
type KeyConfig struct {
	File       string `envconfig:"KEY_FILE"`
	Passphrase string `envconfig:"KEY_PASSPHRASE"`
}

// RedisConfig captures go-redis connection settings.
type RedisConfig struct {
	URL          string        `envconfig:"REDIS_URL"`
	PoolSize     int           `envconfig:"REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"REDIS_READ_TIMEOUT" default:"3s"`
	WriteTimeout time.Duration `envconfig:"REDIS_WRITE_TIMEOUT" default:"3s"`
	AuditStream  string        `envconfig:"REDIS_AUDIT_STREAM" default:"healthvault:audit"`
}

// PostgresConfig captures database/sql settings for the postgres backend.
type PostgresConfig struct {
	DSN          string        `envconfig:"POSTGRES_DSN"`
	MaxOpenConns int           `envconfig:"POSTGRES_MAX_OPEN_CONNS" default:"5"`
	MaxIdleConns int           `envconfig:"POSTGRES_MAX_IDLE_CONNS" default:"2"`
	ConnLifetime time.Duration `envconfig:"POSTGRES_CONN_LIFETIME" default:"30m"`
}

// ProfileConfig tunes the profile service.
type ProfileConfig struct {
	CacheTTL        time.Duration `envconfig:"PROFILE_CACHE_TTL" default:"30s"`
	CacheMaxEntries int           `envconfig:"PROFILE_CACHE_MAX_ENTRIES" default:"64"`
	LockTimeout     time.Duration `envconfig:"PROFILE_LOCK_TIMEOUT" default:"5s"`
}

// ConsentConfig carries the privacy policy version users must have accepted.
type ConsentConfig struct {
	PolicyVersion string `envconfig:"POLICY_VERSION" default:"2025-01"`
}

// ServerConfig is the diagnostics listener.
type ServerConfig struct {
	Addr string `envconfig:"ADDR" default:"127.0.0.1:9464"`
}

// FromEnv loads configuration so main stays lean.
func FromEnv() (Config, error) {
	var cfg Config
	for _, spec := range []any{&cfg, &cfg.Keys, &cfg.Redis, &cfg.Postgres, &cfg.Profile, &cfg.Consent, &cfg.Server} {
		if err := envconfig.Process("healthvault", spec); err != nil {
			return Config{}, fmt.Errorf("load config: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field requirements envconfig cannot express.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendFile, BackendMemory:
	case BackendRedis:
		if c.Redis.URL == "" {
			return fmt.Errorf("HEALTHVAULT_REDIS_URL is required for the redis backend")
		}
	case BackendPostgres:
		if c.Postgres.DSN == "" {
			return fmt.Errorf("HEALTHVAULT_POSTGRES_DSN is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	if c.Profile.CacheTTL <= 0 {
		return fmt.Errorf("profile cache TTL must be positive")
	}
	if c.Consent.PolicyVersion == "" {
		return fmt.Errorf("policy version must not be empty")
	}
	return nil
}
