package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Token     TokenConfig
	JWT       JWTConfig
	SMTP      SMTPConfig
	Outbox    OutboxConfig
	Sweeper   SweeperConfig
	RateLimit RateLimitConfig
}

type ServerConfig struct {
	Port           int `mapstructure:"port"`
	TimeoutSeconds int `mapstructure:"timeoutSeconds"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
}

type RedisConfig struct {
	URL          string `mapstructure:"url"`
	MaxRetries   int    `mapstructure:"max_retries"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
}

// TokenConfig holds the QR token secrets and lifetime. The secret is
// treated as opaque key material and must never be logged.
type TokenConfig struct {
	Secret   string `mapstructure:"secret"`
	KeySalt  string `mapstructure:"key_salt"`
	TTLHours int    `mapstructure:"ttl_hours"`
}

func (c TokenConfig) TTL() time.Duration {
	return time.Duration(c.TTLHours) * time.Hour
}

type JWTConfig struct {
	Secret      string `mapstructure:"secret"`
	ExpiryHours int    `mapstructure:"expiry_hours"`
}

type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

type OutboxConfig struct {
	BatchSize           int `mapstructure:"batch_size"`
	PollIntervalSeconds int `mapstructure:"poll_interval_seconds"`
	RetryAttempts       int `mapstructure:"retry_attempts"`
	RetryDelaySeconds   int `mapstructure:"retry_delay_seconds"`
}

type SweeperConfig struct {
	IntervalSeconds int `mapstructure:"interval_seconds"`
	BatchSize       int `mapstructure:"batch_size"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}
