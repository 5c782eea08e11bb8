package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"

	"tileproxy/internal/upstream"
)

type Config struct {
	Port            int
	Workers         int
	LogLevel        string
	UpstreamURL     string
	UpstreamTimeout time.Duration
	UserAgent       string
	AllowedOrigin   string
	ShutdownTimeout time.Duration
	MetricsEnabled  bool
}

func Load() *Config {
	cfg := &Config{
		Port:            getEnvInt("PORT", 8080),
		Workers:         getEnvInt("WORKERS", 4),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		UpstreamURL:     getEnv("UPSTREAM_URL_TEMPLATE", upstream.DefaultURLTemplate),
		UpstreamTimeout: getEnvDuration("UPSTREAM_TIMEOUT", upstream.DefaultTimeout),
		UserAgent:       getEnv("USER_AGENT", upstream.DefaultUserAgent),
		AllowedOrigin:   getEnv("ALLOWED_ORIGIN", "*"),
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		MetricsEnabled:  getEnvBool("METRICS_ENABLED", true),
	}

	return cfg
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var result error

	if c.Port < 1 || c.Port > 65535 {
		result = multierror.Append(result, fmt.Errorf("PORT must be in 1..65535, got %d", c.Port))
	}
	if c.Workers < 1 {
		result = multierror.Append(result, fmt.Errorf("WORKERS must be >= 1, got %d", c.Workers))
	}
	if c.UpstreamTimeout <= 0 {
		result = multierror.Append(result, fmt.Errorf("UPSTREAM_TIMEOUT must be > 0, got %s", c.UpstreamTimeout))
	}
	if c.ShutdownTimeout <= 0 {
		result = multierror.Append(result, fmt.Errorf("SHUTDOWN_TIMEOUT must be > 0, got %s", c.ShutdownTimeout))
	}
	if !strings.Contains(c.UpstreamURL, upstream.QuadkeyPlaceholder) {
		result = multierror.Append(result, fmt.Errorf("UPSTREAM_URL_TEMPLATE must contain %s", upstream.QuadkeyPlaceholder))
	}
	if u, err := url.Parse(strings.ReplaceAll(c.UpstreamURL, upstream.QuadkeyPlaceholder, "0")); err != nil {
		result = multierror.Append(result, fmt.Errorf("UPSTREAM_URL_TEMPLATE: %w", err))
	} else if u.Scheme != "http" && u.Scheme != "https" {
		result = multierror.Append(result, fmt.Errorf("UPSTREAM_URL_TEMPLATE must be http or https, got %q", u.Scheme))
	}

	return result
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
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

// getEnvDuration accepts Go durations ("750ms") or plain seconds ("10").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
