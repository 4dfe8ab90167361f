package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"
)

const envPrefix = "SETTLEMENT"

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	JWT        JWTConfig        `mapstructure:"jwt"`
	Outbox     OutboxConfig     `mapstructure:"outbox"`
	Payout     PayoutConfig     `mapstructure:"payout"`
	Settlement SettlementConfig `mapstructure:"settlement"`
	Security   SecurityConfig   `mapstructure:"security"`
	Log        LogConfig        `mapstructure:"log"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	Mode            string        `mapstructure:"mode"`
}

type DatabaseConfig struct {
	// Driver selects the store: "postgres" or "memory".
	Driver          string        `mapstructure:"driver"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	Migrate         bool          `mapstructure:"migrate"`
}

// DSN renders the lib/pq connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

type RedisConfig struct {
	URL          string        `mapstructure:"url"`
	MaxRetries   int           `mapstructure:"max_retries"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
	Issuer string `mapstructure:"issuer"`
}

type OutboxConfig struct {
	BatchSize        int           `mapstructure:"batch_size"`
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	RetryAttempts    int           `mapstructure:"retry_attempts"`
	RetryDelay       time.Duration `mapstructure:"retry_delay"`
	PublishPerSecond float64       `mapstructure:"publish_per_second"`
	PublishBurst     int           `mapstructure:"publish_burst"`
	Retention        time.Duration `mapstructure:"retention"`
}

type PayoutConfig struct {
	Cron        string `mapstructure:"cron"`
	Cycle       string `mapstructure:"cycle"`
	Queue       string `mapstructure:"queue"`
	Concurrency int    `mapstructure:"concurrency"`
}

type SettlementConfig struct {
	// RoundingUnit is the multiple, in paise, each fee component rounds to.
	RoundingUnit   int64         `mapstructure:"rounding_unit"`
	ConfigCacheTTL time.Duration `mapstructure:"config_cache_ttl"`
}

type SecurityConfig struct {
	EncryptionKey string `mapstructure:"encryption_key"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Path      string `mapstructure:"path"`
	Namespace string `mapstructure:"namespace"`
}

// secrets are read from SETTLEMENT_* variables and win over the file.
type secrets struct {
	DBPassword    string `envconfig:"DB_PASSWORD"`
	JWTSecret     string `envconfig:"JWT_SECRET"`
	EncryptionKey string `envconfig:"ENCRYPTION_KEY"`
	RedisURL      string `envconfig:"REDIS_URL"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.request_timeout", 10*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.mode", "release")

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.name", "settlement")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.migrate", true)

	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)
	v.SetDefault("redis.dial_timeout", 5*time.Second)

	v.SetDefault("jwt.issuer", "settlement-api")

	v.SetDefault("outbox.batch_size", 100)
	v.SetDefault("outbox.poll_interval", 5*time.Second)
	v.SetDefault("outbox.retry_attempts", 5)
	v.SetDefault("outbox.retry_delay", 30*time.Second)
	v.SetDefault("outbox.publish_per_second", 50.0)
	v.SetDefault("outbox.publish_burst", 10)
	v.SetDefault("outbox.retention", 7*24*time.Hour)

	v.SetDefault("payout.cron", "0 2 * * 1")
	v.SetDefault("payout.cycle", "weekly")
	v.SetDefault("payout.queue", "payouts")
	v.SetDefault("payout.concurrency", 2)

	v.SetDefault("settlement.rounding_unit", 100)
	v.SetDefault("settlement.config_cache_ttl", time.Minute)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.namespace", "settlement")
}

// LoadConfig reads config.yaml from the usual locations, falling back to
// defaults when no file exists, then applies environment overrides.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{".", "./config", "/app/config"}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

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

	var s secrets
	if err := envconfig.Process(envPrefix, &s); err != nil {
		return nil, fmt.Errorf("failed to read secrets: %w", err)
	}
	if s.DBPassword != "" {
		cfg.Database.Password = s.DBPassword
	}
	if s.JWTSecret != "" {
		cfg.JWT.Secret = s.JWTSecret
	}
	if s.EncryptionKey != "" {
		cfg.Security.EncryptionKey = s.EncryptionKey
	}
	if s.RedisURL != "" {
		cfg.Redis.URL = s.RedisURL
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the process cannot start with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	switch c.Payout.Cycle {
	case "weekly", "biweekly", "monthly":
	default:
		return fmt.Errorf("unsupported payout cycle %q", c.Payout.Cycle)
	}
	if c.Settlement.RoundingUnit <= 0 {
		return fmt.Errorf("settlement.rounding_unit must be positive")
	}
	return nil
}
