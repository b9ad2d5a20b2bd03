package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server       ServerConfig
	Database     DatabaseConfig
	Redis        RedisConfig
	KurrentDB    KurrentDBConfig
	Auth         AuthConfig
	Log          LogConfig
	Inventory    InventoryConfig
	Escalation   EscalationConfig
	Notification NotificationConfig
	RateLimit    RateLimitConfig
}

type ServerConfig struct {
	Port        int
	Env         string
	CORSOrigins []string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int32
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Database, d.SSLMode,
	)
}

// RedisConfig configures the lock backend used by the escalation sweep.
// An empty Addr selects the in-process lock.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// KurrentDBConfig holds configuration for KurrentDB (EventStoreDB).
type KurrentDBConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Insecure bool
	Username string
	Password string
}

// AuthConfig configures bearer token checks on the API. Required is forced
// on in production.
type AuthConfig struct {
	Required  bool
	JWTSecret string
	Issuer    string
}

// LogConfig selects zap encoding and the optional rotating file sink.
type LogConfig struct {
	Level      string
	Format     string // json or console
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

type InventoryConfig struct {
	LowStockThreshold int
}

// EscalationConfig drives the periodic alert sweep.
type EscalationConfig struct {
	Enabled  bool
	Schedule string
	LockTTL  time.Duration
}

// NotificationConfig configures the outbound mail pipeline.
type NotificationConfig struct {
	Provider      string // log or http
	RelayURL      string
	RelayToken    string
	FromAddress   string
	Workers       int
	BufferSize    int
	RetryAttempts int
	RetryDelay    time.Duration
}

type RateLimitConfig struct {
	RequestsPerSecond int
	Burst             int
}

func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	setDefaults(v)

	cfg := &Config{
		Server: ServerConfig{
			Port:        v.GetInt("SERVER_PORT"),
			Env:         v.GetString("ENV"),
			CORSOrigins: splitList(v.GetString("CORS_ALLOWED_ORIGINS")),
		},
		Database: DatabaseConfig{
			Host:     v.GetString("DB_HOST"),
			Port:     v.GetInt("DB_PORT"),
			User:     v.GetString("DB_USER"),
			Password: v.GetString("DB_PASSWORD"),
			Database: v.GetString("DB_NAME"),
			SSLMode:  v.GetString("DB_SSLMODE"),
			MaxConns: v.GetInt32("DB_MAX_CONNS"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("REDIS_ADDR"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
		},
		KurrentDB: KurrentDBConfig{
			Enabled:  v.GetBool("KURRENTDB_ENABLED"),
			Host:     v.GetString("KURRENTDB_HOST"),
			Port:     v.GetInt("KURRENTDB_PORT"),
			Insecure: v.GetBool("KURRENTDB_INSECURE"),
			Username: v.GetString("KURRENTDB_USERNAME"),
			Password: v.GetString("KURRENTDB_PASSWORD"),
		},
		Auth: AuthConfig{
			Required:  v.GetBool("AUTH_REQUIRED") || v.GetString("ENV") == "production",
			JWTSecret: v.GetString("JWT_SECRET"),
			Issuer:    v.GetString("JWT_ISSUER"),
		},
		Log: LogConfig{
			Level:      v.GetString("LOG_LEVEL"),
			Format:     v.GetString("LOG_FORMAT"),
			File:       v.GetString("LOG_FILE"),
			MaxSizeMB:  v.GetInt("LOG_MAX_SIZE_MB"),
			MaxBackups: v.GetInt("LOG_MAX_BACKUPS"),
			MaxAgeDays: v.GetInt("LOG_MAX_AGE_DAYS"),
		},
		Inventory: InventoryConfig{
			LowStockThreshold: v.GetInt("INVENTORY_LOW_STOCK_THRESHOLD"),
		},
		Escalation: EscalationConfig{
			Enabled:  v.GetBool("ESCALATION_ENABLED"),
			Schedule: v.GetString("ESCALATION_SCHEDULE"),
			LockTTL:  v.GetDuration("ESCALATION_LOCK_TTL"),
		},
		Notification: NotificationConfig{
			Provider:      v.GetString("NOTIFY_PROVIDER"),
			RelayURL:      v.GetString("NOTIFY_RELAY_URL"),
			RelayToken:    v.GetString("NOTIFY_RELAY_TOKEN"),
			FromAddress:   v.GetString("NOTIFY_FROM"),
			Workers:       v.GetInt("NOTIFY_WORKERS"),
			BufferSize:    v.GetInt("NOTIFY_BUFFER_SIZE"),
			RetryAttempts: v.GetInt("NOTIFY_RETRY_ATTEMPTS"),
			RetryDelay:    v.GetDuration("NOTIFY_RETRY_DELAY"),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: v.GetInt("RATE_LIMIT_RPS"),
			Burst:             v.GetInt("RATE_LIMIT_BURST"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("SERVER_PORT", 8080)
	v.SetDefault("ENV", "development")
	v.SetDefault("CORS_ALLOWED_ORIGINS", "*")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "bloodnet")
	v.SetDefault("DB_PASSWORD", "bloodnet")
	v.SetDefault("DB_NAME", "bloodnet")
	v.SetDefault("DB_SSLMODE", "disable")
	v.SetDefault("DB_MAX_CONNS", 25)

	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("KURRENTDB_ENABLED", false)
	v.SetDefault("KURRENTDB_HOST", "localhost")
	v.SetDefault("KURRENTDB_PORT", 2113)
	v.SetDefault("KURRENTDB_INSECURE", true)
	v.SetDefault("KURRENTDB_USERNAME", "")
	v.SetDefault("KURRENTDB_PASSWORD", "")

	v.SetDefault("AUTH_REQUIRED", false)
	v.SetDefault("JWT_SECRET", "dev-secret-change-in-prod")
	v.SetDefault("JWT_ISSUER", "bloodnet")

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("LOG_FILE", "")
	v.SetDefault("LOG_MAX_SIZE_MB", 100)
	v.SetDefault("LOG_MAX_BACKUPS", 10)
	v.SetDefault("LOG_MAX_AGE_DAYS", 7)

	v.SetDefault("INVENTORY_LOW_STOCK_THRESHOLD", 10)

	v.SetDefault("ESCALATION_ENABLED", true)
	v.SetDefault("ESCALATION_SCHEDULE", "@every 15m")
	v.SetDefault("ESCALATION_LOCK_TTL", 10*time.Minute)

	v.SetDefault("NOTIFY_PROVIDER", "log")
	v.SetDefault("NOTIFY_RELAY_URL", "http://localhost:8025")
	v.SetDefault("NOTIFY_RELAY_TOKEN", "")
	v.SetDefault("NOTIFY_FROM", "alerts@bloodnet.local")
	v.SetDefault("NOTIFY_WORKERS", 4)
	v.SetDefault("NOTIFY_BUFFER_SIZE", 1000)
	v.SetDefault("NOTIFY_RETRY_ATTEMPTS", 3)
	v.SetDefault("NOTIFY_RETRY_DELAY", 5*time.Second)

	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)
}

// Validate rejects settings the services cannot start with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid SERVER_PORT %d", c.Server.Port)
	}
	if c.Inventory.LowStockThreshold <= 0 {
		return fmt.Errorf("INVENTORY_LOW_STOCK_THRESHOLD must be positive")
	}
	if c.Notification.Workers <= 0 {
		return fmt.Errorf("NOTIFY_WORKERS must be positive")
	}
	switch c.Notification.Provider {
	case "log", "http":
	default:
		return fmt.Errorf("unknown NOTIFY_PROVIDER %q", c.Notification.Provider)
	}
	if c.Server.Env == "production" && c.Auth.JWTSecret == "dev-secret-change-in-prod" {
		return fmt.Errorf("JWT_SECRET must be set in production")
	}
	return nil
}

// splitList parses comma separated env values, dropping blanks
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
