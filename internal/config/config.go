package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config struct for environment variables.
type Config struct {
	LogLevel          string        `envconfig:"LOG_LEVEL" default:"INFO"`
	DBPath            string        `envconfig:"DB_PATH" default:"library.db"`
	KeepLinksFor      time.Duration `envconfig:"KEEP_LINKS_FOR" default:"24h"`
	CleanupInterval   time.Duration `envconfig:"CLEANUP_INTERVAL" default:"10m"`
	DiscordWebhookURL string        `envconfig:"DISCORD_WEBHOOK_URL"`

	// Provider selects the debrid backend used when a request does not name one.
	Provider string `envconfig:"DEBRID_PROVIDER" default:"realdebrid"`

	RealDebrid struct {
		BaseURL        string        `split_words:"true" default:"https://api.real-debrid.com/rest/1.0"`
		RequestTimeout time.Duration `split_words:"true" default:"15s"`
		RequestsPerMin int           `split_words:"true" default:"250"`
		Burst          int           `default:"5"`
	}

	Putio struct {
		BaseURL string `split_words:"true"`
	}

	Acquisition struct {
		PollInterval          time.Duration `split_words:"true" default:"2s"`
		MaxAttempts           int           `split_words:"true" default:"20"`
		MaxParallelUnrestrict int           `split_words:"true" default:"8"`
	}

	Search struct {
		ApibayURL string        `split_words:"true" default:"https://apibay.org"`
		Timeout   time.Duration `default:"10s"`
		Limit     int           `default:"20"`
	}

	Stream struct {
		HeaderTimeout time.Duration `split_words:"true" default:"30s"`
		AllowedHosts  []string      `split_words:"true" default:"real-debrid.com,rdeb.io,put.io"`
	}

	Telemetry struct {
		Enabled      bool   `default:"true"`
		ServiceName  string `split_words:"true" default:"debrid_streamer"`
		OTLPEndpoint string `envconfig:"OTLP_ENDPOINT"`
	}

	Web struct {
		BindAddress     string        `split_words:"true" default:"0.0.0.0:8080"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"120s"`
		IdleTimeout     time.Duration `split_words:"true" default:"5s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
		AllowedOrigins  []string      `split_words:"true" default:"*"`
	}
}

// LoadConfig reads environment variables and populates the Config struct.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Provider {
	case "realdebrid", "putio":
	default:
		return fmt.Errorf("invalid debrid provider: %s", c.Provider)
	}

	if c.Acquisition.MaxAttempts < 1 {
		return fmt.Errorf("acquisition max attempts must be positive, got %d", c.Acquisition.MaxAttempts)
	}

	if c.Acquisition.MaxParallelUnrestrict < 1 {
		return fmt.Errorf("acquisition max parallel unrestrict must be positive, got %d", c.Acquisition.MaxParallelUnrestrict)
	}

	if c.CleanupInterval <= 0 {
		return fmt.Errorf("cleanup interval must be positive, got %s", c.CleanupInterval)
	}

	return nil
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
