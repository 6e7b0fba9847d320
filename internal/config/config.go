package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the dandi server.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Registry RegistryConfig
}

type ServerConfig struct {
	Port int
	Env  string
	// TrustedProxies lists the peers allowed to set X-Forwarded-For and
	// X-Real-IP. Empty means forwarded headers are ignored.
	TrustedProxies []netip.Prefix
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	MigrationsDir   string
}

type RedisConfig struct {
	URL string
}

// RegistryConfig controls key issuance and validation.
type RegistryConfig struct {
	KeyPrefix         string
	SecretBytes       int
	CreateAttempts    int
	ValidateRateLimit int
}

const minSecretBytes = 16

var keyPrefixPattern = regexp.MustCompile(`^[a-z0-9]+$`)

// Load reads configuration from environment variables and returns a validated Config.
// A .env file in the working directory is loaded first; variables already set
// in the process environment take precedence over it.
func Load() (*Config, error) {
	_ = godotenv.Load()

	env := &envReader{}
	cfg := &Config{
		Server: ServerConfig{
			Port:           env.int("DANDI_PORT", 8080),
			Env:            envString("DANDI_ENV", "development"),
			TrustedProxies: env.prefixes("DANDI_TRUSTED_PROXIES"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    env.int("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    env.int("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: env.duration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
			MigrationsDir:   envString("DANDI_MIGRATIONS_DIR", "migrations"),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Registry: RegistryConfig{
			KeyPrefix:         envString("DANDI_KEY_PREFIX", "dandi"),
			SecretBytes:       env.int("DANDI_SECRET_BYTES", 24),
			CreateAttempts:    env.int("DANDI_CREATE_ATTEMPTS", 3),
			ValidateRateLimit: env.int("DANDI_VALIDATE_RATE_LIMIT", 60),
		},
	}
	if err := env.err(); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("DANDI_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if !keyPrefixPattern.MatchString(c.Registry.KeyPrefix) {
		return fmt.Errorf("DANDI_KEY_PREFIX must be lowercase letters and digits, got %q", c.Registry.KeyPrefix)
	}
	if c.Registry.SecretBytes < minSecretBytes {
		return fmt.Errorf("DANDI_SECRET_BYTES must be at least %d, got %d", minSecretBytes, c.Registry.SecretBytes)
	}
	if c.Registry.CreateAttempts < 1 {
		return fmt.Errorf("DANDI_CREATE_ATTEMPTS must be at least 1, got %d", c.Registry.CreateAttempts)
	}
	if c.Registry.ValidateRateLimit < 1 {
		return fmt.Errorf("DANDI_VALIDATE_RATE_LIMIT must be at least 1, got %d", c.Registry.ValidateRateLimit)
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// envReader parses typed variables and collects every malformed value, so
// a typo is reported instead of silently replaced by the default.
type envReader struct {
	errs []error
}

func (e *envReader) err() error {
	return errors.Join(e.errs...)
}

func (e *envReader) int(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s must be an integer, got %q", key, v))
		return defaultVal
	}
	return i
}

func (e *envReader) duration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s must be a duration, got %q", key, v))
		return defaultVal
	}
	return d
}

// prefixes reads a comma-separated list of IP addresses or CIDR ranges.
func (e *envReader) prefixes(key string) []netip.Prefix {
	var out []netip.Prefix
	for _, item := range strings.Split(os.Getenv(key), ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if strings.Contains(item, "/") {
			p, err := netip.ParsePrefix(item)
			if err != nil {
				e.errs = append(e.errs, fmt.Errorf("%s: invalid CIDR %q", key, item))
				continue
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(item)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: invalid IP %q", key, item))
			continue
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out
}
