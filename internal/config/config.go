// Package config provides configuration management for qrcore.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

const (
	// DriverPostgres selects the PostgreSQL store.
	DriverPostgres = "postgres"
	// DriverMemory selects the in-process store used for local runs.
	DriverMemory = "memory"
)

// Config holds all configuration for the service.
type Config struct {
	Server      ServerConfig      `mapstructure:"server" yaml:"server"`
	Database    DatabaseConfig    `mapstructure:"database" yaml:"database"`
	Redis       RedisConfig       `mapstructure:"redis" yaml:"redis"`
	Auth        AuthConfig        `mapstructure:"auth" yaml:"auth"`
	RateLimiter RateLimiterConfig `mapstructure:"rate_limiter" yaml:"rate_limiter"`
	Idempotency IdempotencyConfig `mapstructure:"idempotency" yaml:"idempotency"`
	Attribution AttributionConfig `mapstructure:"attribution" yaml:"attribution"`
	Metrics     MetricsConfig     `mapstructure:"metrics" yaml:"metrics"`
	Logging     LoggingConfig     `mapstructure:"logging" yaml:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int           `mapstructure:"port" yaml:"port"`
	BasePath        string        `mapstructure:"base_path" yaml:"base_path"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins" yaml:"cors_origins"`
	TrustedProxies  []string      `mapstructure:"trusted_proxies" yaml:"trusted_proxies"`
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver" yaml:"driver"`
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	Database        string        `mapstructure:"database" yaml:"database"`
	User            string        `mapstructure:"user" yaml:"user"`
	Password        string        `mapstructure:"password" yaml:"-"`
	SSLMode         string        `mapstructure:"sslmode" yaml:"sslmode"`
	Schema          string        `mapstructure:"schema" yaml:"schema"`
	LegacySchema    string        `mapstructure:"legacy_schema" yaml:"legacy_schema"`
	MaxConnections  int           `mapstructure:"max_connections" yaml:"max_connections"`
	MinConnections  int           `mapstructure:"min_connections" yaml:"min_connections"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime"`
}

// RedisConfig holds the idempotency replay cache configuration.
type RedisConfig struct {
	Enabled      bool   `mapstructure:"enabled" yaml:"enabled"`
	Host         string `mapstructure:"host" yaml:"host"`
	Port         int    `mapstructure:"port" yaml:"port"`
	Password     string `mapstructure:"password" yaml:"-"`
	DB           int    `mapstructure:"db" yaml:"db"`
	MaxRetries   int    `mapstructure:"max_retries" yaml:"max_retries"`
	PoolSize     int    `mapstructure:"pool_size" yaml:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns" yaml:"min_idle_conns"`
}

// AuthConfig holds token verification configuration.
type AuthConfig struct {
	JWKSURL          string        `mapstructure:"jwks_url" yaml:"jwks_url"`
	Issuer           string        `mapstructure:"issuer" yaml:"issuer"`
	Audience         string        `mapstructure:"audience" yaml:"audience"`
	JWKSCacheTTL     time.Duration `mapstructure:"jwks_cache_ttl" yaml:"jwks_cache_ttl"`
	JWKSMinRefresh   time.Duration `mapstructure:"jwks_min_refresh" yaml:"jwks_min_refresh"`
	JWKSFetchTimeout time.Duration `mapstructure:"jwks_fetch_timeout" yaml:"jwks_fetch_timeout"`
	TenantClaims     []string      `mapstructure:"tenant_claims" yaml:"tenant_claims"`
}

// RateLimiterConfig holds rate limiter configuration.
type RateLimiterConfig struct {
	CreatePerSecond   int           `mapstructure:"create_per_second" yaml:"create_per_second"`
	ListPerSecond     int           `mapstructure:"list_per_second" yaml:"list_per_second"`
	ScanPerMinute     int           `mapstructure:"scan_per_minute" yaml:"scan_per_minute"`
	ScanSweepInterval time.Duration `mapstructure:"scan_sweep_interval" yaml:"scan_sweep_interval"`
	GlobalEnabled     bool          `mapstructure:"global_enabled" yaml:"global_enabled"`
	GlobalRPS         float64       `mapstructure:"global_rps" yaml:"global_rps"`
	GlobalBurst       int           `mapstructure:"global_burst" yaml:"global_burst"`
}

// IdempotencyConfig holds idempotency record retention configuration.
type IdempotencyConfig struct {
	Retention     time.Duration `mapstructure:"retention" yaml:"retention"`
	PurgeEnabled  bool          `mapstructure:"purge_enabled" yaml:"purge_enabled"`
	PurgeInterval time.Duration `mapstructure:"purge_interval" yaml:"purge_interval"`
}

// AttributionConfig holds scan attribution configuration.
type AttributionConfig struct {
	Lookback time.Duration `mapstructure:"lookback" yaml:"lookback"`
}

// MetricsConfig holds the metrics server configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Port    int    `mapstructure:"port" yaml:"port"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Load reads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/qrcore/")
	}

	v.SetEnvPrefix("QRCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (ignore if not found, use defaults/env)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.base_path", "/v1")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.trusted_proxies", []string{})

	// Database defaults
	v.SetDefault("database.driver", DriverPostgres)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.database", "qrcore")
	v.SetDefault("database.user", "qrcore")
	v.SetDefault("database.password", "")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.schema", "qrcore")
	v.SetDefault("database.legacy_schema", "public")
	v.SetDefault("database.max_connections", 20)
	v.SetDefault("database.min_connections", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")

	// Redis defaults
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.pool_size", 20)
	v.SetDefault("redis.min_idle_conns", 2)

	// Auth defaults
	v.SetDefault("auth.jwks_url", "")
	v.SetDefault("auth.issuer", "")
	v.SetDefault("auth.audience", "")
	v.SetDefault("auth.jwks_cache_ttl", "10m")
	v.SetDefault("auth.jwks_min_refresh", "30s")
	v.SetDefault("auth.jwks_fetch_timeout", "5s")
	v.SetDefault("auth.tenant_claims", []string{"tenant_id", "tid"})

	// Rate limiter defaults
	v.SetDefault("rate_limiter.create_per_second", 20)
	v.SetDefault("rate_limiter.list_per_second", 50)
	v.SetDefault("rate_limiter.scan_per_minute", 120)
	v.SetDefault("rate_limiter.scan_sweep_interval", "1m")
	v.SetDefault("rate_limiter.global_enabled", false)
	v.SetDefault("rate_limiter.global_rps", 1000.0)
	v.SetDefault("rate_limiter.global_burst", 100)

	// Idempotency defaults
	v.SetDefault("idempotency.retention", "24h")
	v.SetDefault("idempotency.purge_enabled", true)
	v.SetDefault("idempotency.purge_interval", "1h")

	// Attribution defaults
	v.SetDefault("attribution.lookback", "720h")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)
	v.SetDefault("metrics.path", "/metrics")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks if the configuration is valid. All problems are reported together.
func (c *Config) Validate() error {
	var err error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		err = multierr.Append(err, fmt.Errorf("invalid server port: %d", c.Server.Port))
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		err = multierr.Append(err, fmt.Errorf("server.base_path must start with '/': %q", c.Server.BasePath))
	}

	if _, perr := c.Server.TrustedProxyPrefixes(); perr != nil {
		err = multierr.Append(err, perr)
	}

	switch c.Database.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Database.Host == "" {
			err = multierr.Append(err, errors.New("database.host is required"))
		}
		if c.Database.Database == "" {
			err = multierr.Append(err, errors.New("database.database is required"))
		}
		if c.Database.Schema == "" {
			err = multierr.Append(err, errors.New("database.schema is required"))
		}
		if c.Database.MaxConnections <= 0 {
			err = multierr.Append(err, errors.New("database.max_connections must be positive"))
		}
	default:
		err = multierr.Append(err, fmt.Errorf("unknown database.driver %q", c.Database.Driver))
	}

	if c.Redis.Enabled && c.Redis.Host == "" {
		err = multierr.Append(err, errors.New("redis.host is required when redis is enabled"))
	}

	if c.Auth.JWKSURL == "" {
		err = multierr.Append(err, errors.New("auth.jwks_url is required"))
	}
	if c.Auth.Issuer == "" {
		err = multierr.Append(err, errors.New("auth.issuer is required"))
	}
	if c.Auth.Audience == "" {
		err = multierr.Append(err, errors.New("auth.audience is required"))
	}
	if c.Auth.JWKSCacheTTL <= 0 {
		err = multierr.Append(err, errors.New("auth.jwks_cache_ttl must be positive"))
	}
	if len(c.Auth.TenantClaims) == 0 {
		err = multierr.Append(err, errors.New("auth.tenant_claims must name at least one claim"))
	}

	if c.RateLimiter.CreatePerSecond < 0 || c.RateLimiter.ListPerSecond < 0 || c.RateLimiter.ScanPerMinute < 0 {
		err = multierr.Append(err, errors.New("rate limiter ceilings must not be negative"))
	}
	if c.RateLimiter.ScanSweepInterval <= 0 {
		err = multierr.Append(err, errors.New("rate_limiter.scan_sweep_interval must be positive"))
	}
	if c.RateLimiter.GlobalEnabled {
		if c.RateLimiter.GlobalRPS <= 0 {
			err = multierr.Append(err, errors.New("rate limiter requests per second must be positive"))
		}
		if c.RateLimiter.GlobalBurst <= 0 {
			err = multierr.Append(err, errors.New("rate limiter burst size must be positive"))
		}
	}

	if c.Idempotency.Retention <= 0 {
		err = multierr.Append(err, errors.New("idempotency.retention must be positive"))
	}
	if c.Idempotency.PurgeEnabled && c.Idempotency.PurgeInterval <= 0 {
		err = multierr.Append(err, errors.New("idempotency.purge_interval must be positive"))
	}

	if c.Attribution.Lookback < 0 {
		err = multierr.Append(err, errors.New("attribution.lookback must not be negative"))
	}

	if c.Metrics.Enabled && (c.Metrics.Port <= 0 || c.Metrics.Port > 65535) {
		err = multierr.Append(err, fmt.Errorf("invalid metrics port: %d", c.Metrics.Port))
	}

	return err
}

// TrustedProxyPrefixes parses TrustedProxies. Entries are CIDR prefixes or single addresses.
func (c ServerConfig) TrustedProxyPrefixes() ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(c.TrustedProxies))
	for _, entry := range c.TrustedProxies {
		entry = strings.TrimSpace(entry)
		if p, err := netip.ParsePrefix(entry); err == nil {
			prefixes = append(prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid server.trusted_proxies entry %q", entry)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

// YAML renders the effective configuration. Secrets are omitted.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}
