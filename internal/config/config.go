package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration from defaults, an optional YAML
// file and environment variables, in that order of precedence.
type Config struct {
	FeedURL      string        `yaml:"feed_url" validate:"required,url"`
	APIKey       string        `yaml:"api_key"`
	StopID       string        `yaml:"stop_id" validate:"required"`
	StopName     string        `yaml:"stop_name"`
	Limit        int           `yaml:"limit" validate:"gt=0,lte=50"`
	Timezone     string        `yaml:"timezone"`
	PollInterval time.Duration `yaml:"poll_interval" validate:"gte=1s"`
	FetchTimeout time.Duration `yaml:"fetch_timeout" validate:"gt=0"`
	LogLevel     string        `yaml:"log_level" validate:"oneof=debug info warn error"`

	Port    int    `yaml:"port" validate:"gt=0,lte=65535"`
	DBPath  string `yaml:"db_path" validate:"required"`
	GTFSDir string `yaml:"gtfs_dir" validate:"required"`
	GTFSURL string `yaml:"gtfs_url" validate:"omitempty,url"`

	NATSURL     string `yaml:"nats_url" validate:"omitempty,url"`
	NATSSubject string `yaml:"nats_subject" validate:"required"`
}

// Defaults returns the built-in configuration: LIRR arrivals at Grand Central.
func Defaults() *Config {
	return &Config{
		FeedURL:      "https://api-endpoint.mta.info/Dataservice/mtagtfsfeeds/lirr%2Fgtfs-lirr",
		StopID:       "1",
		StopName:     "Grand Central",
		Limit:        5,
		PollInterval: 30 * time.Second,
		FetchTimeout: 15 * time.Second,
		LogLevel:     "info",
		Port:         8080,
		DBPath:       "./nexttrain.db",
		GTFSDir:      "./data",
		GTFSURL:      "https://rrgtfsfeeds.s3.amazonaws.com/gtfslirr.zip",
		NATSSubject:  "nexttrain.arrivals",
	}
}

// Load builds the configuration. A .env file in the working directory is
// loaded into the environment first if present. path may be empty.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.FeedURL = envStr("NEXTTRAIN_FEED_URL", cfg.FeedURL)
	cfg.APIKey = envStr("NEXTTRAIN_API_KEY", cfg.APIKey)
	cfg.StopID = envStr("NEXTTRAIN_STOP_ID", cfg.StopID)
	cfg.StopName = envStr("NEXTTRAIN_STOP_NAME", cfg.StopName)
	cfg.Limit = envInt("NEXTTRAIN_LIMIT", cfg.Limit)
	cfg.Timezone = envStr("NEXTTRAIN_TZ", cfg.Timezone)
	cfg.PollInterval = envDuration("NEXTTRAIN_POLL_INTERVAL", cfg.PollInterval)
	cfg.FetchTimeout = envDuration("NEXTTRAIN_FETCH_TIMEOUT", cfg.FetchTimeout)
	cfg.LogLevel = strings.ToLower(envStr("NEXTTRAIN_LOG_LEVEL", cfg.LogLevel))
	cfg.Port = envInt("NEXTTRAIN_PORT", cfg.Port)
	cfg.DBPath = envStr("NEXTTRAIN_DB_PATH", cfg.DBPath)
	cfg.GTFSDir = envStr("NEXTTRAIN_GTFS_DIR", cfg.GTFSDir)
	cfg.GTFSURL = envStr("NEXTTRAIN_GTFS_URL", cfg.GTFSURL)
	cfg.NATSURL = envStr("NEXTTRAIN_NATS_URL", cfg.NATSURL)
	cfg.NATSSubject = envStr("NEXTTRAIN_NATS_SUBJECT", cfg.NATSSubject)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = validator.New()

// Validate checks field constraints and that the timezone resolves.
// Call it again after overriding fields from flags.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves Timezone; empty means the system local zone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// SlogLevel maps LogLevel to a slog level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
