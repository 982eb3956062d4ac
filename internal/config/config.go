// Package config provides configuration management for the fund analytics engine.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Calendar  CalendarConfig
	Analytics AnalyticsConfig
	Tasks     TasksConfig
	Producer  ProducerConfig
	Logging   LoggingConfig
}

// ServerConfig holds ops server configuration
type ServerConfig struct {
	Port           string
	Host           string
	RequestsPerSec int
	Burst          int
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres PostgresConfig
	Redis    RedisConfig
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// URL returns the connection URL used by the migration tool
func (c PostgresConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
	CacheTTL       time.Duration
}

// CalendarConfig holds the trading calendar resource location
type CalendarConfig struct {
	Path string
}

// AnalyticsConfig holds defaults for the analytics engine.
// RiskFreeRate is overridden per user when user settings carry one.
type AnalyticsConfig struct {
	RiskFreeRate         float64
	AnnualizationFactor  int
	MinAnnualizationDays int
	XIRRMinDays          int
	XIRRLow              float64
	XIRRHigh             float64
	Epsilon              float64
}

// TasksConfig holds task producer/consumer configuration
type TasksConfig struct {
	BatchSize       int
	Workers         int
	PollInterval    time.Duration
	MaxRetries      int
	Timeout         time.Duration
	DependencyDelay time.Duration
	DispatchRate    float64 // tasks per second, 0 disables limiting
	LockTTL         time.Duration
}

// ProducerConfig holds the daily enqueue schedule
type ProducerConfig struct {
	RunHour int // UTC hour the daily batch is enqueued at
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// Load .env file (optional in production)
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Port:           getEnv("SERVER_PORT", "8080"),
			Host:           getEnv("SERVER_HOST", "0.0.0.0"),
			RequestsPerSec: getEnvAsInt("SERVER_RPS", 20),
			Burst:          getEnvAsInt("SERVER_BURST", 40),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "fund_analytics"),
				User:           getEnv("POSTGRES_USER", "analytics"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 20),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 20),
				CacheTTL:       getEnvAsDuration("REDIS_CACHE_TTL", 10*time.Minute),
			},
		},
		Calendar: CalendarConfig{
			Path: getEnv("CALENDAR_PATH", "data/trading_days.csv"),
		},
		Analytics: AnalyticsConfig{
			RiskFreeRate:         getEnvAsFloat("ANALYTICS_RISK_FREE_RATE", 0.02),
			AnnualizationFactor:  getEnvAsInt("ANALYTICS_ANNUALIZATION_FACTOR", 252),
			MinAnnualizationDays: getEnvAsInt("ANALYTICS_MIN_ANNUALIZATION_DAYS", 30),
			XIRRMinDays:          getEnvAsInt("ANALYTICS_XIRR_MIN_DAYS", 30),
			XIRRLow:              getEnvAsFloat("ANALYTICS_XIRR_LOW", -0.999),
			XIRRHigh:             getEnvAsFloat("ANALYTICS_XIRR_HIGH", 50.0),
			Epsilon:              getEnvAsFloat("ANALYTICS_EPSILON", 1e-6),
		},
		Tasks: TasksConfig{
			BatchSize:       getEnvAsInt("TASKS_BATCH_SIZE", 50),
			Workers:         getEnvAsInt("TASKS_WORKERS", 4),
			PollInterval:    getEnvAsDuration("TASKS_POLL_INTERVAL", 5*time.Second),
			MaxRetries:      getEnvAsInt("TASKS_MAX_RETRIES", 5),
			Timeout:         getEnvAsDuration("TASKS_TIMEOUT", 10*time.Minute),
			DependencyDelay: getEnvAsDuration("TASKS_DEPENDENCY_DELAY", 30*time.Second),
			DispatchRate:    getEnvAsFloat("TASKS_DISPATCH_RATE", 20),
			LockTTL:         getEnvAsDuration("TASKS_LOCK_TTL", 11*time.Minute),
		},
		Producer: ProducerConfig{
			RunHour: getEnvAsInt("PRODUCER_RUN_HOUR", 1),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks the configuration for values the engine cannot run with
func (c *Config) Validate() error {
	if c.Analytics.AnnualizationFactor <= 0 {
		return fmt.Errorf("ANALYTICS_ANNUALIZATION_FACTOR must be positive, got %d", c.Analytics.AnnualizationFactor)
	}
	if c.Analytics.XIRRLow <= -1 || c.Analytics.XIRRLow >= c.Analytics.XIRRHigh {
		return fmt.Errorf("invalid XIRR bracket [%v, %v]", c.Analytics.XIRRLow, c.Analytics.XIRRHigh)
	}
	if c.Tasks.BatchSize <= 0 || c.Tasks.Workers <= 0 {
		return fmt.Errorf("TASKS_BATCH_SIZE and TASKS_WORKERS must be positive")
	}
	if c.Tasks.MaxRetries < 0 {
		return fmt.Errorf("TASKS_MAX_RETRIES cannot be negative")
	}
	if c.Producer.RunHour < 0 || c.Producer.RunHour > 23 {
		return fmt.Errorf("PRODUCER_RUN_HOUR must be within 0-23, got %d", c.Producer.RunHour)
	}
	return nil
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat gets an environment variable as a float with a default value
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
