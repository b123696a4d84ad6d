package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
// ⭐ SSOT: 모든 환경변수는 여기서만 읽음
type Config struct {
	// Server
	Port string
	Env  string // development, staging, production

	// Database
	Database DatabaseConfig

	// Redis
	Redis RedisConfig

	// Alternative data feed
	AltData AltDataConfig

	// Optimizer
	Optimizer OptimizerConfig

	// Result store backend: memory | postgres
	StoreBackend string

	// Optimization presets (YAML)
	PresetsPath string

	// Logging
	LogLevel  string
	LogFormat string

	// Monitoring
	MetricsEnabled bool
	MetricsPort    string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
	Enabled  bool
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host     string
	Port     string
	Name     string
	User     string
	Password string
	URL      string

	// Connection Pool
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// AltDataConfig holds the external series feed configuration
type AltDataConfig struct {
	BaseURL          string
	APIKey           string
	RequestsPerSec   float64
	FetchConcurrency int
	CacheTTL         time.Duration
	Watchlist        []string // indicator ids re-scored by the quality refresh job
}

// DSN returns URL when set, otherwise a key/value DSN built from the parts.
// Empty when neither form is complete.
func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	if d.Host == "" || d.Name == "" {
		return ""
	}
	dsn := fmt.Sprintf("host=%s port=%s dbname=%s", d.Host, d.Port, d.Name)
	if d.User != "" {
		dsn += " user=" + d.User
	}
	if d.Password != "" {
		dsn += " password=" + d.Password
	}
	return dsn
}

// OptimizerConfig holds grid search defaults
type OptimizerConfig struct {
	DefaultWorkers  int
	MaxCombinations int
	Timeout         time.Duration
	ResultBatchSize int
	StaleRunAfter   time.Duration
}

// Load reads configuration from environment variables
// ⭐ SSOT: 이 함수만 os.Getenv()를 호출함
func Load() (*Config, error) {
	// Try multiple paths for .env file
	loadEnvFile()

	cfg := &Config{
		// Server
		Port: getEnv("PORT", "8089"),
		Env:  getEnv("ENV", "development"),

		// Database
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnv("DB_PORT", "5432"),
			Name:            getEnv("DB_NAME", "altquant"),
			User:            getEnv("DB_USER", "altquant"),
			Password:        getEnv("DB_PASSWORD", ""),
			URL:             getEnv("DATABASE_URL", ""),
			MaxConns:        getEnvAsInt("DB_MAX_CONNS", 25),
			MinConns:        getEnvAsInt("DB_MIN_CONNS", 5),
			MaxConnLifetime: getEnvAsDuration("DB_MAX_CONN_LIFETIME", "1h"),
			MaxConnIdleTime: getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", "30m"),
		},

		// Redis
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
		},

		AltData: AltDataConfig{
			BaseURL:          getEnv("ALTDATA_BASE_URL", "http://localhost:8090"),
			APIKey:           getEnv("ALTDATA_API_KEY", ""),
			RequestsPerSec:   getEnvAsFloat("ALTDATA_RPS", 5),
			FetchConcurrency: getEnvAsInt("ALTDATA_FETCH_CONCURRENCY", 4),
			CacheTTL:         getEnvAsDuration("ALTDATA_CACHE_TTL", "1h"),
			Watchlist:        getEnvAsList("ALTDATA_WATCHLIST"),
		},

		Optimizer: OptimizerConfig{
			DefaultWorkers:  getEnvAsInt("OPTIMIZER_WORKERS", 4),
			MaxCombinations: getEnvAsInt("OPTIMIZER_MAX_COMBINATIONS", 100000),
			Timeout:         getEnvAsDuration("OPTIMIZER_TIMEOUT", "30m"),
			ResultBatchSize: getEnvAsInt("OPTIMIZER_RESULT_BATCH", 100),
			StaleRunAfter:   getEnvAsDuration("OPTIMIZER_STALE_RUN_AFTER", "6h"),
		},

		StoreBackend: getEnv("STORE_BACKEND", "memory"),
		PresetsPath:  getEnv("PRESETS_PATH", "config/presets.yaml"),

		// Logging
		LogLevel:  getEnv("LOG_LEVEL", "debug"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		// Monitoring
		MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
		MetricsPort:    getEnv("METRICS_PORT", "9090"),
	}

	// Validate configuration
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// validate checks if required configuration values are set
func (c *Config) validate() error {
	switch c.StoreBackend {
	case "memory":
	case "postgres":
		// DB 접속 정보는 postgres 저장소에서만 필수
		if c.Database.DSN() == "" {
			return fmt.Errorf("DATABASE_URL (or DB_HOST and DB_NAME) is required when STORE_BACKEND=postgres")
		}
	default:
		return fmt.Errorf("STORE_BACKEND must be one of: memory, postgres")
	}

	// Validate environment
	if c.Env != "development" && c.Env != "staging" && c.Env != "production" {
		return fmt.Errorf("ENV must be one of: development, staging, production")
	}

	if c.Optimizer.DefaultWorkers < 1 {
		return fmt.Errorf("OPTIMIZER_WORKERS must be positive")
	}
	if c.AltData.FetchConcurrency < 1 {
		return fmt.Errorf("ALTDATA_FETCH_CONCURRENCY must be positive")
	}

	return nil
}

// Helper functions (private, only used within this file)

// loadEnvFile tries to load .env from multiple locations
func loadEnvFile() {
	// Try paths in order of priority
	paths := []string{
		".env",         // Current directory
		"backend/.env", // From project root
	}

	// Also try relative to executable
	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		paths = append(paths,
			filepath.Join(exeDir, ".env"),
			filepath.Join(exeDir, "..", ".env"),
		)
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
			return
		}
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		valueStr = defaultValue
	}

	duration, err := time.ParseDuration(valueStr)
	if err != nil {
		// Fallback to default
		duration, _ = time.ParseDuration(defaultValue)
	}

	return duration
}

// getEnvAsList splits a comma separated value, dropping empty items
func getEnvAsList(key string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return nil
	}

	var out []string
	for _, item := range strings.Split(valueStr, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
