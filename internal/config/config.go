package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config holds all application configuration
type Config struct {
	Server  ServerConfig
	Store   StoreConfig
	Redis   RedisConfig
	Lockout LockoutConfig
	Hash    HashConfig
	Session SessionConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host              string `validate:"required"`
	Port              string `validate:"required,numeric"`
	TrustProxyHeaders bool
	AllowedOrigins    []string
}

// StoreConfig selects and configures the durable store
type StoreConfig struct {
	Driver     string `validate:"oneof=postgres sqlite"`
	SQLitePath string `validate:"required_if=Driver sqlite"`
	Database   DatabaseConfig
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig configures the optional session cache. An empty URL disables it.
type RedisConfig struct {
	URL      string        `validate:"omitempty,url"`
	CacheTTL time.Duration `validate:"gt=0"`
}

// LockoutConfig holds brute force protection settings
type LockoutConfig struct {
	MaxAttempts    int           `validate:"gte=1"`
	Window         time.Duration `validate:"gte=1s"`
	RetentionGrace time.Duration `validate:"gte=0"`
}

// HashConfig holds Argon2id cost factors and the hash pool bounds
type HashConfig struct {
	MemoryKiB     uint32        `validate:"gte=8192"`
	Iterations    uint32        `validate:"gte=1"`
	Parallelism   uint8         `validate:"gte=1"`
	MaxConcurrent int           `validate:"gte=1"`
	QueueTimeout  time.Duration `validate:"gte=0"`
}

// SessionConfig holds session lifetime settings
type SessionConfig struct {
	TTL             time.Duration `validate:"gte=1m"`
	Sliding         bool
	RefreshInterval time.Duration `validate:"gt=0"`
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Host:              getEnv("SERVER_HOST", "0.0.0.0"),
			Port:              getEnv("SERVER_PORT", "8080"),
			TrustProxyHeaders: getBoolEnv("TRUST_PROXY_HEADERS", false),
			AllowedOrigins:    getListEnv("CORS_ALLOWED_ORIGINS", []string{"*"}),
		},
		Store: StoreConfig{
			Driver:     strings.ToLower(getEnv("STORE_DRIVER", "postgres")),
			SQLitePath: getEnv("SQLITE_PATH", "authguard.db"),
			Database: DatabaseConfig{
				Host:     getEnv("DB_HOST", "localhost"),
				Port:     getEnv("DB_PORT", "5432"),
				User:     getEnv("DB_USER", "postgres"),
				Password: getEnv("DB_PASSWORD", ""),
				DBName:   getEnv("DB_NAME", "authguard"),
				SSLMode:  getEnv("DB_SSLMODE", "disable"),
			},
		},
		Redis: RedisConfig{
			URL:      getEnv("REDIS_URL", ""),
			CacheTTL: getDurationEnv("SESSION_CACHE_TTL", time.Minute),
		},
		Lockout: LockoutConfig{
			MaxAttempts:    getIntEnv("LOCKOUT_MAX_ATTEMPTS", 5),
			Window:         getDurationEnv("LOCKOUT_WINDOW", 15*time.Minute),
			RetentionGrace: getDurationEnv("ATTEMPT_RETENTION_GRACE", time.Hour),
		},
		Hash: HashConfig{
			MemoryKiB:     uint32(getIntEnv("HASH_MEMORY_KIB", 64*1024)),
			Iterations:    uint32(getIntEnv("HASH_ITERATIONS", 3)),
			Parallelism:   uint8(getIntEnv("HASH_PARALLELISM", 2)),
			MaxConcurrent: getIntEnv("HASH_MAX_CONCURRENT", runtime.GOMAXPROCS(0)),
			QueueTimeout:  getDurationEnv("HASH_QUEUE_TIMEOUT", 2*time.Second),
		},
		Session: SessionConfig{
			TTL:             getDurationEnv("SESSION_TTL", 24*time.Hour),
			Sliding:         getBoolEnv("SESSION_SLIDING", false),
			RefreshInterval: getDurationEnv("SESSION_REFRESH_INTERVAL", 5*time.Second),
		},
	}
}

// Validate checks the configuration with struct tags
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// AttemptRetention is how long attempts are kept: the lockout window plus
// the grace margin
func (c *Config) AttemptRetention() time.Duration {
	return c.Lockout.Window + c.Lockout.RetentionGrace
}

// DSN returns the PostgreSQL connection string
func (d *DatabaseConfig) DSN() string {
	return "host=" + d.Host +
		" port=" + d.Port +
		" user=" + d.User +
		" password=" + d.Password +
		" dbname=" + d.DBName +
		" sslmode=" + d.SSLMode
}

// URL returns the PostgreSQL connection URL used by golang-migrate
func (d *DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode)
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getIntEnv returns integer from environment variable or default
func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

// getBoolEnv returns boolean from environment variable or default
func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(value) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
	}
	return defaultValue
}

// getDurationEnv returns duration from environment variable or default.
// Accepts Go duration syntax ("15m", "90s") or a bare number of minutes.
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		if minutes, err := strconv.Atoi(value); err == nil {
			return time.Duration(minutes) * time.Minute
		}
	}
	return defaultValue
}

// getListEnv splits a comma separated environment variable
func getListEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
