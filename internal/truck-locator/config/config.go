package config

import (
	"fmt"
	"os"
	"strconv"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Store    StoreConfig
	Scanner  ScannerConfig
}

type ServerConfig struct {
	Port int
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	MaxConns int32
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// StoreConfig configures the remote spreadsheet store client
type StoreConfig struct {
	BaseURL           string
	SheetID           string
	TimeoutSeconds    int
	RequestsPerMinute int
}

// ScannerConfig configures manifest scanning behavior
type ScannerConfig struct {
	PollIntervalSeconds int
	MaxPollAttempts     int
	MutationDebounceMS  int
	Placeholder         string
	ManifestURL         string
	Headless            bool
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: getEnvInt("PORT", 8086),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			Name:     getEnv("DB_NAME", "truck_locator"),
			MaxConns: int32(getEnvInt("DB_MAX_CONNS", 20)),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Store: StoreConfig{
			BaseURL:           getEnv("STORE_BASE_URL", ""),
			SheetID:           getEnv("STORE_SHEET_ID", ""),
			TimeoutSeconds:    getEnvInt("STORE_TIMEOUT", 10),
			RequestsPerMinute: getEnvInt("STORE_RATE_LIMIT", 60),
		},
		Scanner: ScannerConfig{
			PollIntervalSeconds: getEnvInt("SCANNER_POLL_INTERVAL", 1),
			MaxPollAttempts:     getEnvInt("SCANNER_MAX_POLL_ATTEMPTS", 60),
			MutationDebounceMS:  getEnvInt("SCANNER_MUTATION_DEBOUNCE_MS", 500),
			Placeholder:         getEnv("SCANNER_PLACEHOLDER", "未設定"),
			ManifestURL:         getEnv("SCANNER_MANIFEST_URL", ""),
			Headless:            getEnvBool("SCANNER_HEADLESS", true),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Name == "" {
		return fmt.Errorf("database name is required")
	}

	if c.Store.BaseURL == "" {
		return fmt.Errorf("store base URL is required")
	}

	if c.Store.SheetID == "" {
		return fmt.Errorf("store sheet ID is required")
	}

	if c.Scanner.MaxPollAttempts < 1 {
		return fmt.Errorf("at least 1 poll attempt is required")
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
