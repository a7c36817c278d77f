package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Database  DatabaseConfig
	Matcher   MatcherConfig
	Budget    BudgetConfig
	Logging   LoggingConfig
	Telemetry TelemetryConfig
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type MatcherConfig struct {
	WindowDays int
	PageSize   int
}

type BudgetConfig struct {
	Concurrency int
}

type LoggingConfig struct {
	Level  string
	Pretty bool
}

type TelemetryConfig struct {
	Enabled      bool
	ServiceName  string
	Environment  string
	OTLPEndpoint string
	MetricsPort  string
}

func Load() (*Config, error) {

	dbPort, err := strconv.Atoi(getEnv("DB_PORT", "5432"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_PORT: %w", err)
	}

	matcherWindowDays, err := strconv.Atoi(getEnv("MATCHER_WINDOW_DAYS", "3"))
	if err != nil {
		return nil, fmt.Errorf("invalid MATCHER_WINDOW_DAYS: %w", err)
	}
	matcherPageSize, err := strconv.Atoi(getEnv("MATCHER_PAGE_SIZE", "200"))
	if err != nil {
		return nil, fmt.Errorf("invalid MATCHER_PAGE_SIZE: %w", err)
	}

	budgetConcurrency, err := strconv.Atoi(getEnv("BUDGET_CONCURRENCY", "4"))
	if err != nil {
		return nil, fmt.Errorf("invalid BUDGET_CONCURRENCY: %w", err)
	}

	cfg := &Config{
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     dbPort,
			User:     getEnv("DB_USER", "tally"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "tally"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Matcher: MatcherConfig{
			WindowDays: matcherWindowDays,
			PageSize:   matcherPageSize,
		},
		Budget: BudgetConfig{
			Concurrency: budgetConcurrency,
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Pretty: getBoolEnv("LOG_PRETTY", false),
		},
		Telemetry: TelemetryConfig{
			Enabled:      getBoolEnv("OTEL_ENABLED", false),
			ServiceName:  getEnv("OTEL_SERVICE_NAME", "tally"),
			Environment:  getEnv("OTEL_ENVIRONMENT", "development"),
			OTLPEndpoint: getEnv("OTEL_EXPORTER_ENDPOINT", "localhost:4318"),
			MetricsPort:  getEnv("OTEL_METRICS_PORT", "9091"),
		},
	}

	// Validate matcher tuning
	if cfg.Matcher.WindowDays < 0 {
		return nil, fmt.Errorf("MATCHER_WINDOW_DAYS must not be negative")
	}
	if cfg.Matcher.PageSize <= 0 {
		return nil, fmt.Errorf("MATCHER_PAGE_SIZE must be positive")
	}
	if cfg.Budget.Concurrency <= 0 {
		return nil, fmt.Errorf("BUDGET_CONCURRENCY must be positive")
	}

	return cfg, nil
}

func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	// Accept: true, false, 1, 0, yes, no (case-insensitive)
	switch strings.ToLower(value) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return defaultValue
	}
}
