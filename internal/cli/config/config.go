package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/viper"

	flexilite "github.com/slanska/flexilite-sub000"
)

// Config represents the flexictl configuration
type Config struct {
	Storage StorageConfig `mapstructure:"storage"`
	Alter   AlterConfig   `mapstructure:"alter"`
	Log     LogConfig     `mapstructure:"log"`
}

// StorageConfig selects the storage engine and database file
type StorageConfig struct {
	Engine string `mapstructure:"engine"`
	Path   string `mapstructure:"path"`
}

// AlterConfig holds defaults for schema alterations
type AlterConfig struct {
	ValidationMode string `mapstructure:"validation_mode"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Verbose bool `mapstructure:"verbose"`
}

const (
	EngineBolt   = "bolt"
	EngineSQLite = "sqlite"
	EngineMemory = "memory"
)

// Load loads the configuration from configFile, or from flexictl.yaml in the
// current directory when configFile is empty. FLEXICTL_* environment
// variables override file values (FLEXICTL_STORAGE_PATH and so on).
func Load(configFile string) (*Config, error) {
	v := viper.New()

	v.SetDefault("storage.engine", EngineBolt)
	v.SetDefault("storage.path", "flexilite.db")
	v.SetDefault("alter.validation_mode", "ABORT")
	v.SetDefault("log.verbose", false)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("flexictl")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("FLEXICTL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || configFile != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

// ValidationMode returns the parsed alter.validation_mode
func (cfg *Config) ValidationMode() flexilite.ValidationMode {
	mode, err := flexilite.ParseValidationMode(cfg.Alter.ValidationMode)
	if err != nil {
		return flexilite.ValidateDefault
	}
	return mode
}

// Logger builds the logger handed to the database
func (cfg *Config) Logger(w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if cfg.Log.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// Open opens the configured database
func (cfg *Config) Open() (*flexilite.DB, error) {
	opt := flexilite.Options{
		Logger:                cfg.Logger(os.Stderr),
		Verbose:               cfg.Log.Verbose,
		DefaultValidationMode: cfg.ValidationMode(),
	}
	switch cfg.Storage.Engine {
	case EngineBolt:
		return flexilite.Open(cfg.Storage.Path, opt)
	case EngineSQLite:
		return flexilite.OpenSQLite(cfg.Storage.Path, opt)
	case EngineMemory:
		return flexilite.OpenMemory(opt)
	}
	return nil, fmt.Errorf("unknown storage engine %q", cfg.Storage.Engine)
}

// validateConfig validates the configuration
func validateConfig(cfg *Config) error {
	cfg.Storage.Engine = strings.ToLower(cfg.Storage.Engine)
	switch cfg.Storage.Engine {
	case EngineBolt, EngineSQLite, EngineMemory:
	default:
		return fmt.Errorf("storage.engine must be one of bolt, sqlite, memory, got: %s", cfg.Storage.Engine)
	}
	if cfg.Storage.Engine != EngineMemory && cfg.Storage.Path == "" {
		return fmt.Errorf("storage.path is required for the %s engine", cfg.Storage.Engine)
	}
	if _, err := flexilite.ParseValidationMode(cfg.Alter.ValidationMode); err != nil {
		return fmt.Errorf("alter.validation_mode: %w", err)
	}
	return nil
}
