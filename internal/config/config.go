// Package config loads platform configuration from file and environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all platform configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Match    MatchConfig    `mapstructure:"match"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Addr     string `mapstructure:"addr"`
	LogLevel string `mapstructure:"log_level"`
}

// DatabaseConfig holds the store settings. Driver is "postgres" or "sqlite";
// sqlite is the dev/test store and uses Path instead of DSN.
type DatabaseConfig struct {
	Driver          string `mapstructure:"driver"`
	DSN             string `mapstructure:"dsn"`
	Path            string `mapstructure:"path"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
}

// RedisConfig enables the redis-backed match cache when Addr is set
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig holds JWT settings
type AuthConfig struct {
	JWTSecret          string `mapstructure:"jwt_secret"`
	JWTExpirationHours int    `mapstructure:"jwt_expiration_hours"`
}

// MatchConfig holds the order matching knobs. All have safe defaults so the
// platform runs with no configuration rows present.
type MatchConfig struct {
	MinRatio      float64       `mapstructure:"min_ratio"`      // lower bound of the balance ratio window
	MaxRatio      float64       `mapstructure:"max_ratio"`      // upper bound of the balance ratio window
	BalanceFloor  float64       `mapstructure:"balance_floor"`  // minimum balance to match at all
	MinLineTotal  float64       `mapstructure:"min_line_total"` // minimum order amount
	MaxQuantity   int           `mapstructure:"max_quantity"`   // cap on product quantity
	TokenTTL      time.Duration `mapstructure:"token_ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// LoadConfig reads configuration from config.yaml (if present) and the
// TASKORA_* environment, applying defaults for everything else.
func LoadConfig() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/taskora")

	v.SetEnvPrefix("TASKORA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Match.MinRatio <= 0 || cfg.Match.MaxRatio < cfg.Match.MinRatio {
		return nil, fmt.Errorf("invalid match ratio window [%v, %v]", cfg.Match.MinRatio, cfg.Match.MaxRatio)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.log_level", "info")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "taskora.db")
	v.SetDefault("database.max_open_conns", 100)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.conn_max_lifetime", 3600)

	v.SetDefault("auth.jwt_secret", "change-me-in-production")
	v.SetDefault("auth.jwt_expiration_hours", 24)

	v.SetDefault("match.min_ratio", 0.1)
	v.SetDefault("match.max_ratio", 0.7)
	v.SetDefault("match.balance_floor", 10.0)
	v.SetDefault("match.min_line_total", 10.0)
	v.SetDefault("match.max_quantity", 1000)
	v.SetDefault("match.token_ttl", 5*time.Minute)
	v.SetDefault("match.sweep_interval", time.Minute)
}
