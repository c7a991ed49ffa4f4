package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/united-manufacturing-hub/umh-utils/env"
)

const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Config holds the process configuration. It is loaded once at startup and
// never mutated afterwards.
type Config struct {
	ServerAddr     string
	StorageBackend string
	LogLevel       string

	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDatabase string
	PostgresSSLMode  string
	LockTimeout      time.Duration

	JWTSecret []byte
	JWTIssuer string

	ClientSendBuffer        int
	MaxMessageBytes         int64
	LockMaxRetry            int
	MaterializerTTL         time.Duration
	SnapshotRefreshInterval int

	RedisAddr          string
	RedisPassword      string
	RedisDB            int
	RedisChannelPrefix string

	AllowedOrigins []string
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}
	return fromEnv()
}

func fromEnv() (*Config, error) {
	var (
		cfg Config
		err error
	)

	if cfg.ServerAddr, err = env.GetAsString("SERVER_ADDR", false, ":8080"); err != nil {
		return nil, err
	}
	if cfg.StorageBackend, err = env.GetAsString("STORAGE_BACKEND", false, BackendPostgres); err != nil {
		return nil, err
	}
	if cfg.StorageBackend != BackendPostgres && cfg.StorageBackend != BackendMemory {
		return nil, fmt.Errorf("unknown STORAGE_BACKEND %q", cfg.StorageBackend)
	}
	if cfg.LogLevel, err = env.GetAsString("LOGGING_LEVEL", false, "PRODUCTION"); err != nil {
		return nil, err
	}

	if cfg.PostgresHost, err = env.GetAsString("POSTGRES_HOST", false, "localhost"); err != nil {
		return nil, err
	}
	if cfg.PostgresPort, err = env.GetAsInt("POSTGRES_PORT", false, 5432); err != nil {
		return nil, err
	}
	if cfg.PostgresUser, err = env.GetAsString("POSTGRES_USER", false, "postgres"); err != nil {
		return nil, err
	}
	if cfg.PostgresPassword, err = env.GetAsString("POSTGRES_PASSWORD", false, ""); err != nil {
		return nil, err
	}
	if cfg.PostgresDatabase, err = env.GetAsString("POSTGRES_DATABASE", false, "docsync"); err != nil {
		return nil, err
	}
	if cfg.PostgresSSLMode, err = env.GetAsString("POSTGRES_SSLMODE", false, "disable"); err != nil {
		return nil, err
	}
	lockTimeoutMs, err := env.GetAsInt("POSTGRES_LOCK_TIMEOUT_MS", false, 5000)
	if err != nil {
		return nil, err
	}
	cfg.LockTimeout = time.Duration(lockTimeoutMs) * time.Millisecond

	secret, err := env.GetAsString("JWT_SECRET", true, "")
	if err != nil {
		return nil, err
	}
	if secret == "" {
		return nil, errors.New("JWT_SECRET must not be empty")
	}
	cfg.JWTSecret = []byte(secret)
	if cfg.JWTIssuer, err = env.GetAsString("JWT_ISSUER", false, ""); err != nil {
		return nil, err
	}

	if cfg.ClientSendBuffer, err = env.GetAsInt("CLIENT_SEND_BUFFER", false, 256); err != nil {
		return nil, err
	}
	maxMessage, err := env.GetAsInt("MAX_MESSAGE_BYTES", false, 1<<20)
	if err != nil {
		return nil, err
	}
	cfg.MaxMessageBytes = int64(maxMessage)
	if cfg.LockMaxRetry, err = env.GetAsInt("LOCK_MAX_RETRY", false, 200); err != nil {
		return nil, err
	}
	ttl, err := env.GetAsInt("MATERIALIZER_TTL_SECONDS", false, 600)
	if err != nil {
		return nil, err
	}
	cfg.MaterializerTTL = time.Duration(ttl) * time.Second
	if cfg.SnapshotRefreshInterval, err = env.GetAsInt("SNAPSHOT_REFRESH_INTERVAL", false, 1); err != nil {
		return nil, err
	}

	if cfg.RedisAddr, err = env.GetAsString("REDIS_ADDR", false, ""); err != nil {
		return nil, err
	}
	if cfg.RedisPassword, err = env.GetAsString("REDIS_PASSWORD", false, ""); err != nil {
		return nil, err
	}
	if cfg.RedisDB, err = env.GetAsInt("REDIS_DB", false, 0); err != nil {
		return nil, err
	}
	if cfg.RedisChannelPrefix, err = env.GetAsString("REDIS_CHANNEL_PREFIX", false, "docsync"); err != nil {
		return nil, err
	}

	origins, err := env.GetAsString("ALLOWED_ORIGINS", false, "*")
	if err != nil {
		return nil, err
	}
	for _, origin := range strings.Split(origins, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			cfg.AllowedOrigins = append(cfg.AllowedOrigins, origin)
		}
	}

	return &cfg, nil
}

// GetDatabaseConnectionString returns the lib/pq connection string.
func (c *Config) GetDatabaseConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.PostgresHost, c.PostgresPort, c.PostgresUser, c.PostgresPassword, c.PostgresDatabase, c.PostgresSSLMode)
}

// GetServerAddr returns the HTTP listen address.
func (c *Config) GetServerAddr() string {
	return c.ServerAddr
}

// RelayEnabled reports whether a Redis relay should be started.
func (c *Config) RelayEnabled() bool {
	return c.RedisAddr != ""
}

// OriginAllowed reports whether a browser origin may open connections.
func (c *Config) OriginAllowed(origin string) bool {
	if origin == "" {
		return true
	}
	for _, allowed := range c.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}
