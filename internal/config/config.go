package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultPath is read when CONFIG_PATH is unset.
const DefaultPath = "configs/serramenti.yaml"

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverDynamoDB = "dynamodb"
)

// Rate table sources.
const (
	RatesFromFile     = "file"
	RatesFromPostgres = "postgres"
)

// Config is the service configuration.
type Config struct {
	HTTP       HTTPConfig      `yaml:"http"`
	Log        LogConfig       `yaml:"log"`
	Storage    StorageConfig   `yaml:"storage"`
	Catalog    CatalogConfig   `yaml:"catalog"`
	RateTables RateTableConfig `yaml:"rate_tables"`
	Auth       AuthConfig      `yaml:"auth"`
	Session    SessionConfig   `yaml:"session"`
	Notify     NotifyConfig    `yaml:"notify"`
}

type HTTPConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type StorageConfig struct {
	Driver      string         `yaml:"driver"`
	PostgresDSN string         `yaml:"postgres_dsn"`
	SQLitePath  string         `yaml:"sqlite_path"`
	Migrate     bool           `yaml:"migrate"`
	DynamoDB    DynamoDBConfig `yaml:"dynamodb"`
}

type DynamoDBConfig struct {
	QuotesTable   string `yaml:"quotes_table"`
	CountersTable string `yaml:"counters_table"`
	OwnerIndex    string `yaml:"owner_index"`
	Region        string `yaml:"region"`
	Endpoint      string `yaml:"endpoint"`
}

type CatalogConfig struct {
	Path string `yaml:"path"`
}

type RateTableConfig struct {
	Source string `yaml:"source"`
	Path   string `yaml:"path"`
}

type AuthConfig struct {
	Enabled   bool   `yaml:"enabled"`
	JWTSecret string `yaml:"jwt_secret"`
}

type SessionConfig struct {
	Debounce time.Duration `yaml:"debounce"`
}

type NotifyConfig struct {
	WebhookURL    string        `yaml:"webhook_url"`
	WebhookSecret string        `yaml:"webhook_secret"`
	FinalizedOnly bool          `yaml:"finalized_only"`
	DedupeWindow  time.Duration `yaml:"dedupe_window"`
	Template      string        `yaml:"template"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() Config {
	return Config{
		HTTP: HTTPConfig{
			Addr:         ":8080",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Log: LogConfig{Level: "info", Format: "json"},
		Storage: StorageConfig{
			Driver:     DriverMemory,
			SQLitePath: "var/serramenti.db",
			Migrate:    true,
			DynamoDB: DynamoDBConfig{
				QuotesTable:   "quotes",
				CountersTable: "quote_counters",
				OwnerIndex:    "owner_id-number-index",
				Region:        "eu-south-1",
			},
		},
		Catalog:    CatalogConfig{Path: "configs/catalog.yaml"},
		RateTables: RateTableConfig{Source: RatesFromFile, Path: "configs/rate_tables.yaml"},
		Session:    SessionConfig{Debounce: 800 * time.Millisecond},
		Notify:     NotifyConfig{DedupeWindow: time.Minute},
	}
}

// Load reads .env when present, then the yaml file at CONFIG_PATH (or
// DefaultPath when it exists), then environment overrides.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("config: load .env: %w", err)
	}
	path := os.Getenv("CONFIG_PATH")
	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}
	return LoadFile(path, explicit)
}

// LoadFile reads the yaml file at path and applies environment overrides.
// A missing file is an error only when required is set.
func LoadFile(path string, required bool) (Config, error) {
	cfg := Defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("config: parse %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist) && !required:
		default:
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	cfg.HTTP.Addr = getenvDefault("HTTP_ADDR", cfg.HTTP.Addr)
	cfg.Log.Level = getenvDefault("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getenvDefault("LOG_FORMAT", cfg.Log.Format)
	cfg.Storage.Driver = getenvDefault("STORAGE_DRIVER", cfg.Storage.Driver)
	cfg.Storage.PostgresDSN = getenvDefault("DATABASE_URL", cfg.Storage.PostgresDSN)
	cfg.Storage.SQLitePath = getenvDefault("SQLITE_PATH", cfg.Storage.SQLitePath)
	cfg.Storage.DynamoDB.QuotesTable = getenvDefault("DYNAMODB_QUOTES_TABLE", cfg.Storage.DynamoDB.QuotesTable)
	cfg.Storage.DynamoDB.CountersTable = getenvDefault("DYNAMODB_COUNTERS_TABLE", cfg.Storage.DynamoDB.CountersTable)
	cfg.Storage.DynamoDB.Region = getenvDefault("AWS_REGION", cfg.Storage.DynamoDB.Region)
	cfg.Storage.DynamoDB.Endpoint = getenvDefault("DYNAMODB_ENDPOINT", cfg.Storage.DynamoDB.Endpoint)
	cfg.Catalog.Path = getenvDefault("CATALOG_PATH", cfg.Catalog.Path)
	cfg.RateTables.Source = getenvDefault("RATE_TABLES_SOURCE", cfg.RateTables.Source)
	cfg.RateTables.Path = getenvDefault("RATE_TABLES_PATH", cfg.RateTables.Path)
	cfg.Auth.JWTSecret = getenvDefault("AUTH_JWT_SECRET", cfg.Auth.JWTSecret)
	cfg.Notify.WebhookURL = getenvDefault("NOTIFY_WEBHOOK_URL", cfg.Notify.WebhookURL)
	cfg.Notify.WebhookSecret = getenvDefault("NOTIFY_WEBHOOK_SECRET", cfg.Notify.WebhookSecret)

	var err error
	if cfg.Storage.Migrate, err = getenvBool("STORAGE_MIGRATE", cfg.Storage.Migrate); err != nil {
		return err
	}
	if cfg.Auth.Enabled, err = getenvBool("AUTH_ENABLED", cfg.Auth.Enabled); err != nil {
		return err
	}
	if cfg.Session.Debounce, err = getenvDuration("SESSION_DEBOUNCE", cfg.Session.Debounce); err != nil {
		return err
	}
	return nil
}

// Validate checks the configuration is usable.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.HTTP.Addr) == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}
	switch c.Storage.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Storage.PostgresDSN == "" {
			errs = append(errs, errors.New("storage.postgres_dsn is required for the postgres driver"))
		}
	case DriverSQLite:
		if c.Storage.SQLitePath == "" {
			errs = append(errs, errors.New("storage.sqlite_path is required for the sqlite driver"))
		}
	case DriverDynamoDB:
		if c.Storage.DynamoDB.QuotesTable == "" || c.Storage.DynamoDB.CountersTable == "" {
			errs = append(errs, errors.New("storage.dynamodb tables are required for the dynamodb driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.driver %q", c.Storage.Driver))
	}
	if c.Catalog.Path == "" {
		errs = append(errs, errors.New("catalog.path is required"))
	}
	switch c.RateTables.Source {
	case RatesFromFile:
		if c.RateTables.Path == "" {
			errs = append(errs, errors.New("rate_tables.path is required for the file source"))
		}
	case RatesFromPostgres:
		if c.Storage.PostgresDSN == "" {
			errs = append(errs, errors.New("rate_tables.source postgres needs storage.postgres_dsn"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown rate_tables.source %q", c.RateTables.Source))
	}
	if c.Auth.Enabled && len(c.Auth.JWTSecret) < 16 {
		errs = append(errs, errors.New("auth.jwt_secret must be at least 16 bytes when auth is enabled"))
	}
	if c.Session.Debounce <= 0 {
		errs = append(errs, errors.New("session.debounce must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvBool(key string, fallback bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback, fmt.Errorf("config: %s: %w", key, err)
	}
	return parsed, nil
}

func getenvDuration(key string, fallback time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback, fmt.Errorf("config: %s: %w", key, err)
	}
	return parsed, nil
}
