package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	OTel            OTelConfig
	MyMdC           MyMdCConfig
	Zulip           ZulipConfig
	Events          EventsConfig
	Env             string
	Port            string
	ConfigDir       string
	ProxyRoot       string
	AdminAPIKey     string
	ExternalTimeout time.Duration
}

type OTelConfig struct {
	Endpoint       string
	Headers        string
	ServiceName    string
	ServiceVersion string
}

type MyMdCConfig struct {
	ClientID     string
	ClientSecret string
	Email        string
	TokenURL     string
	BaseURL      string
}

type ZulipConfig struct {
	DefaultSite string
}

type EventsConfig struct {
	RedisURL    string
	RedisStream string
}

type ServiceType string

const (
	ServiceTypeServer ServiceType = "server"
	ServiceTypeCLI    ServiceType = "cli"
)

// Load loads configuration from environment variables.
// In development, it loads from service-specific .env files:
//   - .env.server for the HTTP server
//   - .env.cli for zwopctl
//
// Falls back to .env if service-specific file doesn't exist.
func Load(serviceType ServiceType) (Config, error) {
	if getEnv("ZWOP_ENV", "development") == "development" {
		envFile := fmt.Sprintf(".env.%s", serviceType)
		if err := godotenv.Load(envFile); err != nil {
			_ = godotenv.Load(".env")
		}
	}

	cfg := Config{
		Env:             getEnv("ZWOP_ENV", "development"),
		Port:            getEnv("PORT", "8000"),
		ConfigDir:       getEnv("ZWOP_CONFIG_DIR", "config"),
		ProxyRoot:       getEnv("ZWOP_PROXY_ROOT", ""),
		AdminAPIKey:     getEnv("ZWOP_ADMIN_API_KEY", ""),
		ExternalTimeout: getEnvDuration("ZWOP_EXTERNAL_TIMEOUT", 10*time.Second),
		OTel: OTelConfig{
			Endpoint:       getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			Headers:        getEnv("OTEL_EXPORTER_OTLP_HEADERS", ""),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "zulip-write-only-proxy"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "dev"),
		},
		MyMdC: MyMdCConfig{
			ClientID:     getEnv("ZWOP_MYMDC__ID", ""),
			ClientSecret: getEnv("ZWOP_MYMDC__SECRET", ""),
			Email:        getEnv("ZWOP_MYMDC__EMAIL", ""),
			TokenURL:     getEnv("ZWOP_MYMDC__TOKEN_URL", "https://in.xfel.eu/metadata/oauth/token"),
			BaseURL:      getEnv("ZWOP_MYMDC__BASE_URL", "https://in.xfel.eu/metadata/"),
		},
		Zulip: ZulipConfig{
			DefaultSite: getEnv("ZWOP_ZULIP_SITE", "https://mylog.connect.xfel.eu/"),
		},
		Events: EventsConfig{
			RedisURL:    getEnv("REDIS_URL", ""),
			RedisStream: getEnv("REDIS_STREAM", "zwop_events"),
		},
	}

	if cfg.ConfigDir == "" {
		return Config{}, fmt.Errorf("ZWOP_CONFIG_DIR must not be empty")
	}

	// zwopctl can list and create admin clients without MyMdC access
	if serviceType == ServiceTypeServer && !cfg.MyMdC.Enabled() {
		return Config{}, fmt.Errorf("ZWOP_MYMDC__ID and ZWOP_MYMDC__SECRET are required")
	}

	return cfg, nil
}

func (c Config) IsProduction() bool {
	return c.Env == "production"
}

func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}

func (c OTelConfig) Enabled() bool {
	return c.Endpoint != ""
}

func (c MyMdCConfig) Enabled() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

func (c EventsConfig) Enabled() bool {
	return c.RedisURL != ""
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		if secs, err := strconv.Atoi(value); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return fallback
}
