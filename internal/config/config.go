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

// Config is the root configuration structure.
// It is read-only after Load() returns and thread-safe for concurrent reads.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Stats    StatsConfig    `yaml:"stats"`
	Import   ImportConfig   `yaml:"import"`
	Scryfall ScryfallConfig `yaml:"scryfall"`
	Backup   BackupConfig   `yaml:"backup"`
	Auth     AuthConfig     `yaml:"auth"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int      `yaml:"port"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
	CORSOrigins     []string `yaml:"cors_origins"`
}

// DatabaseConfig contains database settings.
type DatabaseConfig struct {
	Path                string `yaml:"path"`
	BackupBeforeMigrate bool   `yaml:"backup_before_migrate"`
	MaxOpenConns        int    `yaml:"max_open_conns"`
}

// StatsConfig controls the global stats cache.
type StatsConfig struct {
	CacheTTL      Duration `yaml:"cache_ttl"`
	Cache         string   `yaml:"cache"` // memory | redis
	RedisAddr     string   `yaml:"redis_addr"`
	RedisPassword string   `yaml:"-"` // env-only, never in YAML
	RedisDB       int      `yaml:"redis_db"`
}

// ImportConfig contains import merger settings.
type ImportConfig struct {
	SnapshotPath       string `yaml:"snapshot_path"`
	InventoryDir       string `yaml:"inventory_dir"`
	Medium             string `yaml:"medium"`
	Refresh            string `yaml:"refresh"` // none | prices | metadata
	ResolveMissing     bool   `yaml:"resolve_missing"`
	ResolveConcurrency int    `yaml:"resolve_concurrency"`
}

// ScryfallConfig contains catalog API client limits.
type ScryfallConfig struct {
	BaseURL           string  `yaml:"base_url"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
	MaxConcurrency    int     `yaml:"max_concurrency"`
	MaxRetries        int     `yaml:"max_retries"`
	AnnotateWorkers   int     `yaml:"annotate_workers"`
}

// BackupConfig contains periodic backup settings. A zero interval disables
// the worker; an empty bucket keeps backups local.
type BackupConfig struct {
	Interval  Duration `yaml:"interval"`
	Dir       string   `yaml:"dir"`
	Retain    int      `yaml:"retain"`
	Bucket    string   `yaml:"bucket"`
	Endpoint  string   `yaml:"endpoint"`
	Region    string   `yaml:"region"`
	UseSSL    *bool    `yaml:"use_ssl"`
	URLExpiry Duration `yaml:"url_expiry"`
	AccessKey string   `yaml:"-"` // env-only, never in YAML
	SecretKey string   `yaml:"-"` // env-only, never in YAML
}

// AuthConfig contains authentication settings. An empty key leaves writes open.
type AuthConfig struct {
	APIKey string `yaml:"-"` // env-only, never in YAML
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Duration is a wrapper around time.Duration that supports YAML string parsing.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Load loads configuration with precedence: defaults → YAML file → env vars.
// A .env file in the working directory is read first; it never overrides
// variables already set in the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("reading .env: %w", err)
	}

	cfg := newDefaults()

	// Determine config path
	configPath := getEnv("CARDVAULT_CONFIG_PATH", "config/cardvault.yaml")

	// Load YAML file if it exists (missing file is not an error)
	if err := loadYAMLFile(cfg, configPath); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromFile loads configuration from a specific path.
// Used by tests and the --config flag.
func LoadFromFile(path string) (*Config, error) {
	cfg := newDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// newDefaults returns a Config with all default values.
func newDefaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(30 * time.Second),
			ShutdownTimeout: Duration(15 * time.Second),
			CORSOrigins:     []string{"http://localhost:5173"},
		},
		Database: DatabaseConfig{
			Path:                "data/cards.db",
			BackupBeforeMigrate: true,
			MaxOpenConns:        4,
		},
		Stats: StatsConfig{
			CacheTTL:  Duration(5 * time.Second),
			Cache:     "memory",
			RedisAddr: "localhost:6379",
		},
		Import: ImportConfig{
			SnapshotPath:       "data/default-cards.json",
			InventoryDir:       "organized_sets",
			Medium:             "paper",
			Refresh:            "none",
			ResolveConcurrency: 4,
		},
		Scryfall: ScryfallConfig{
			BaseURL:           "https://api.scryfall.com",
			RequestsPerSecond: 10,
			Burst:             1,
			MaxConcurrency:    5,
			MaxRetries:        5,
			AnnotateWorkers:   3,
		},
		Backup: BackupConfig{
			Interval:  Duration(24 * time.Hour),
			Dir:       "data/backups",
			Retain:    7,
			URLExpiry: Duration(15 * time.Minute),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// loadYAMLFile loads configuration from a YAML file if it exists.
// Missing file is not an error; we just use defaults.
func loadYAMLFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// Only non-empty env vars override config values; unparseable values are ignored.
func applyEnvOverrides(cfg *Config) {
	// Server
	envInt("CARDVAULT_PORT", &cfg.Server.Port)
	envDuration("CARDVAULT_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	envDuration("CARDVAULT_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	envDuration("CARDVAULT_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)
	if v := os.Getenv("CARDVAULT_CORS_ORIGINS"); v != "" {
		cfg.Server.CORSOrigins = splitList(v)
	}

	// Database
	envString("CARDVAULT_DB_PATH", &cfg.Database.Path)
	envBool("CARDVAULT_BACKUP_BEFORE_MIGRATE", &cfg.Database.BackupBeforeMigrate)
	envInt("CARDVAULT_DB_MAX_OPEN_CONNS", &cfg.Database.MaxOpenConns)

	// Stats
	envDuration("CARDVAULT_STATS_CACHE_TTL", &cfg.Stats.CacheTTL)
	envString("CARDVAULT_STATS_CACHE", &cfg.Stats.Cache)
	envString("CARDVAULT_REDIS_ADDR", &cfg.Stats.RedisAddr)
	envString("CARDVAULT_REDIS_PASSWORD", &cfg.Stats.RedisPassword)
	envInt("CARDVAULT_REDIS_DB", &cfg.Stats.RedisDB)

	// Import
	envString("CARDVAULT_SNAPSHOT_PATH", &cfg.Import.SnapshotPath)
	envString("CARDVAULT_INVENTORY_DIR", &cfg.Import.InventoryDir)
	envString("CARDVAULT_IMPORT_MEDIUM", &cfg.Import.Medium)
	envString("CARDVAULT_IMPORT_REFRESH", &cfg.Import.Refresh)
	envBool("CARDVAULT_RESOLVE_MISSING", &cfg.Import.ResolveMissing)

	// Scryfall
	envString("CARDVAULT_SCRYFALL_URL", &cfg.Scryfall.BaseURL)
	if v := os.Getenv("CARDVAULT_SCRYFALL_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Scryfall.RequestsPerSecond = f
		}
	}
	envInt("CARDVAULT_SCRYFALL_MAX_CONCURRENCY", &cfg.Scryfall.MaxConcurrency)
	envInt("CARDVAULT_SCRYFALL_MAX_RETRIES", &cfg.Scryfall.MaxRetries)

	// Backup
	envDuration("CARDVAULT_BACKUP_INTERVAL", &cfg.Backup.Interval)
	envString("CARDVAULT_BACKUP_DIR", &cfg.Backup.Dir)
	envInt("CARDVAULT_BACKUP_RETAIN", &cfg.Backup.Retain)
	envString("CARDVAULT_BACKUP_BUCKET", &cfg.Backup.Bucket)
	envString("CARDVAULT_S3_ENDPOINT", &cfg.Backup.Endpoint)
	envString("CARDVAULT_S3_REGION", &cfg.Backup.Region)
	envString("CARDVAULT_S3_ACCESS_KEY", &cfg.Backup.AccessKey)
	envString("CARDVAULT_S3_SECRET_KEY", &cfg.Backup.SecretKey)
	envDuration("CARDVAULT_S3_URL_EXPIRY", &cfg.Backup.URLExpiry)
	if v := os.Getenv("CARDVAULT_S3_USE_SSL"); v != "" {
		b := v == "true" || v == "1"
		cfg.Backup.UseSSL = &b
	}

	// Auth
	envString("CARDVAULT_API_KEY", &cfg.Auth.APIKey)

	// Log
	envString("CARDVAULT_LOG_LEVEL", &cfg.Log.Level)
	envString("CARDVAULT_LOG_FORMAT", &cfg.Log.Format)
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		*dst = v == "true" || v == "1"
	}
}

func envDuration(key string, dst *Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = Duration(d)
		}
	}
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// validate rejects values the service cannot run with.
func (c *Config) validate() error {
	var errs []error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path is required"))
	}
	if c.Stats.CacheTTL <= 0 {
		errs = append(errs, errors.New("stats.cache_ttl must be positive"))
	}
	switch c.Stats.Cache {
	case "memory":
	case "redis":
		if c.Stats.RedisAddr == "" {
			errs = append(errs, errors.New("stats.redis_addr is required for the redis cache"))
		}
	default:
		errs = append(errs, fmt.Errorf("stats.cache must be memory or redis, got %q", c.Stats.Cache))
	}
	switch c.Import.Refresh {
	case "none", "prices", "metadata":
	default:
		errs = append(errs, fmt.Errorf("import.refresh must be none, prices or metadata, got %q", c.Import.Refresh))
	}
	if c.Scryfall.RequestsPerSecond <= 0 {
		errs = append(errs, errors.New("scryfall.requests_per_second must be positive"))
	}
	if c.Scryfall.MaxConcurrency < 1 {
		errs = append(errs, errors.New("scryfall.max_concurrency must be at least 1"))
	}
	if c.Scryfall.MaxRetries < 0 {
		errs = append(errs, errors.New("scryfall.max_retries must not be negative"))
	}
	if c.Backup.Interval < 0 || c.Backup.Retain < 0 {
		errs = append(errs, errors.New("backup.interval and backup.retain must not be negative"))
	}
	if c.Backup.Bucket != "" && c.Backup.Endpoint == "" {
		errs = append(errs, errors.New("backup.endpoint is required when backup.bucket is set"))
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level))
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format must be json or text, got %q", c.Log.Format))
	}

	return errors.Join(errs...)
}

// getEnv returns the value of an environment variable or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
