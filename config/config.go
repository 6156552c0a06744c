package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"tripdemand.dev/trips/downloader"
)

const (
	DefaultAddr       = ":8080"
	DefaultCSVHandle  = "1kDfy_hhFBPdmYb4qyY68EyT9dRHA4gPS"
	DefaultJSONHandle = "1FkHtwdzjCwzRhOoM1zRBUt68RA5xZKE7"
	DefaultStorage    = "memory"
)

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Addr    string `yaml:"addr" validate:"required"`
	GinMode string `yaml:"gin_mode" validate:"omitempty,oneof=debug release test"`

	ReadTimeoutSeconds     int `yaml:"read_timeout_seconds" validate:"gt=0"`
	WriteTimeoutSeconds    int `yaml:"write_timeout_seconds" validate:"gt=0"`
	IdleTimeoutSeconds     int `yaml:"idle_timeout_seconds" validate:"gt=0"`
	ShutdownTimeoutSeconds int `yaml:"shutdown_timeout_seconds" validate:"gt=0"`

	AllowedOrigins []string `yaml:"allowed_origins" validate:"dive,required,url"`
}

// DatasetConfig says where the trip CSV and auxiliary JSON come from
type DatasetConfig struct {
	CSVHandle      string `yaml:"csv_id" validate:"required"`
	JSONHandle     string `yaml:"json_id"`
	BaseURL        string `yaml:"base_url" validate:"required,url"`
	TimeoutSeconds int    `yaml:"timeout_seconds" validate:"gt=0"`
	MaxSizeMB      int    `yaml:"max_size_mb" validate:"gt=0"`

	// Optional on-disk download cache.
	CacheFile     string `yaml:"cache_file"`
	CacheTTLHours int    `yaml:"cache_ttl_hours" validate:"gte=0"`
}

// StorageConfig selects where parsed snapshots are kept
type StorageConfig struct {
	Backend     string `yaml:"backend" validate:"oneof=memory sqlite postgres"`
	SQLiteDir   string `yaml:"sqlite_dir" validate:"required_if=Backend sqlite"`
	PostgresDSN string `yaml:"postgres_dsn" validate:"required_if=Backend postgres"`
}

// Config is the root configuration structure
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Dataset DatasetConfig `yaml:"dataset"`
	Storage StorageConfig `yaml:"storage"`
}

func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:                   DefaultAddr,
			ReadTimeoutSeconds:     20,
			WriteTimeoutSeconds:    20,
			IdleTimeoutSeconds:     60,
			ShutdownTimeoutSeconds: 10,
		},
		Dataset: DatasetConfig{
			CSVHandle:      DefaultCSVHandle,
			JSONHandle:     DefaultJSONHandle,
			BaseURL:        downloader.DefaultDriveBaseURL,
			TimeoutSeconds: int(downloader.DefaultDriveTimeout / time.Second),
			MaxSizeMB:      downloader.DefaultDriveMaxSize >> 20,
			CacheTTLHours:  24,
		},
		Storage: StorageConfig{
			Backend:   DefaultStorage,
			SQLiteDir: ".",
		},
	}
}

// Load reads the YAML file at path on top of the defaults, applies
// environment overrides and validates the result. A missing file is not
// an error; an empty path skips the file entirely.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("reading %s: %w", path, err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parsing %s: %w", path, err)
			}
		}
	}

	applyEnv(&cfg, os.LookupEnv)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) {
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get("APP_ADDR"); ok {
		cfg.Server.Addr = v
	}
	if v, ok := get("GIN_MODE"); ok {
		cfg.Server.GinMode = v
	}
	if v, ok := get("CORS_ALLOWED_ORIGINS"); ok {
		cfg.Server.AllowedOrigins = []string{}
		for _, o := range strings.Split(v, ",") {
			o = strings.TrimSpace(o)
			if o != "" {
				cfg.Server.AllowedOrigins = append(cfg.Server.AllowedOrigins, o)
			}
		}
	}
	if v, ok := get("TRIPS_CSV_ID"); ok {
		cfg.Dataset.CSVHandle = v
	}
	if v, ok := get("TRIPS_JSON_ID"); ok {
		cfg.Dataset.JSONHandle = v
	}
	if v, ok := get("TRIPS_STORAGE"); ok {
		cfg.Storage.Backend = v
	}
	if v, ok := get("TRIPS_POSTGRES_DSN"); ok {
		cfg.Storage.PostgresDSN = v
	}
}

func (c Config) Validate() error {
	v := validator.New()
	for _, s := range []interface{}{c.Server, c.Dataset, c.Storage} {
		if err := v.Struct(s); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
	}
	return nil
}

func (c ServerConfig) ReadTimeout() time.Duration {
	return time.Duration(c.ReadTimeoutSeconds) * time.Second
}

func (c ServerConfig) WriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutSeconds) * time.Second
}

func (c ServerConfig) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutSeconds) * time.Second
}

func (c ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSeconds) * time.Second
}

func (c DatasetConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func (c DatasetConfig) MaxSize() int {
	return c.MaxSizeMB << 20
}

func (c DatasetConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLHours) * time.Hour
}
