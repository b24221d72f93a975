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

// Config holds all configuration for the agent
type Config struct {
	// Server settings
	Port         int
	Host         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Security
	AllowedOrigins []string
	RateLimitRPS   int

	// Container engine
	DockerEnabled bool
	DockerSocket  string
	EngineTimeout time.Duration
	CacheLifetime time.Duration
	StopTimeout   time.Duration

	// Compose
	ComposeBinary  string
	ComposeTimeout time.Duration

	// Host telemetry
	MetricsCacheLifetime time.Duration

	// Logging
	LogLevel string

	EnvFile string
}

// Load reads configuration from the environment. Values from envFile are
// applied first without overriding variables already set in the process.
// An empty envFile falls back to ENV_FILE, then .env beside the binary.
func Load(envFile string) (*Config, error) {
	if envFile == "" {
		envFile = findEnvFile()
	}

	if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load env file %s: %w", envFile, err)
	}

	cfg := &Config{
		Port:                 getEnvInt("PORT", 8091),
		Host:                 getEnv("HOST", "0.0.0.0"),
		ReadTimeout:          getEnvSeconds("READ_TIMEOUT_SECONDS", 30),
		WriteTimeout:         getEnvSeconds("WRITE_TIMEOUT_SECONDS", 0),
		AllowedOrigins:       getEnvSlice("ALLOWED_ORIGINS", []string{"*"}),
		RateLimitRPS:         getEnvInt("RATE_LIMIT_RPS", 100),
		DockerEnabled:        getEnvBool("DOCKER_ENABLED", true),
		DockerSocket:         getEnv("DOCKER_SOCKET", "/var/run/docker.sock"),
		EngineTimeout:        getEnvSeconds("ENGINE_TIMEOUT_SECONDS", 30),
		CacheLifetime:        getEnvSeconds("CACHE_LIFETIME_SECONDS", 5),
		StopTimeout:          getEnvSeconds("STOP_TIMEOUT_SECONDS", 10),
		ComposeBinary:        getEnv("COMPOSE_BINARY", "docker compose"),
		ComposeTimeout:       getEnvSeconds("COMPOSE_TIMEOUT_SECONDS", 300),
		MetricsCacheLifetime: getEnvSeconds("METRICS_CACHE_SECONDS", 2),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		EnvFile:              envFile,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail later at runtime
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid PORT %d", c.Port)
	}
	if c.RateLimitRPS < 0 {
		return fmt.Errorf("invalid RATE_LIMIT_RPS %d", c.RateLimitRPS)
	}
	if c.DockerEnabled && !filepath.IsAbs(c.DockerSocket) {
		return fmt.Errorf("DOCKER_SOCKET must be an absolute path, got %q", c.DockerSocket)
	}
	if c.EngineTimeout <= 0 {
		return fmt.Errorf("ENGINE_TIMEOUT_SECONDS must be positive")
	}
	if c.CacheLifetime < 0 || c.MetricsCacheLifetime < 0 {
		return fmt.Errorf("cache lifetimes must not be negative")
	}
	return nil
}

func findEnvFile() string {
	if envFile := os.Getenv("ENV_FILE"); envFile != "" {
		return envFile
	}

	if _, err := os.Stat(".env"); err == nil {
		return ".env"
	}

	if exe, err := os.Executable(); err == nil {
		envPath := filepath.Join(filepath.Dir(exe), ".env")
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	return ".env"
}

// LoadWithDefaults returns config with defaults for testing
func LoadWithDefaults() *Config {
	return &Config{
		Port:                 8091,
		Host:                 "127.0.0.1",
		ReadTimeout:          30 * time.Second,
		AllowedOrigins:       []string{"*"},
		RateLimitRPS:         100,
		DockerEnabled:        true,
		DockerSocket:         "/var/run/docker.sock",
		EngineTimeout:        5 * time.Second,
		CacheLifetime:        5 * time.Second,
		StopTimeout:          10 * time.Second,
		ComposeBinary:        "docker compose",
		ComposeTimeout:       time.Minute,
		MetricsCacheLifetime: 2 * time.Second,
		LogLevel:             "info",
	}
}

// Addr returns the server address string
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvSeconds(key string, defaultValue int) time.Duration {
	return time.Duration(getEnvInt(key, defaultValue)) * time.Second
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
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
