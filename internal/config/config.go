// Package config holds the run configuration and the versioned table
// layout for the admissions report pipeline.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	// Default values
	DefaultLogLevel   = "info"
	DefaultWorkers    = 4
	DefaultTopGrades  = 3
	DefaultBandWidth  = 0.5
	DefaultLayoutPath = "layout.yaml"

	// Directory permissions
	DefaultDirPerm = 0o750
)

// Config holds all run configuration for the extraction pipeline.
type Config struct {
	// Input and output
	InputPath    string
	LayoutPath   string
	DatabasePath string
	OutputDir    string

	// Run parameters
	Year       int
	Workers    int
	StrictRows bool

	// Aggregation parameters
	TopGrades int     // grade bucket size (top-N predicted grades)
	BandWidth float64 // TMUA band width

	// Application configuration
	LogLevel string
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	currentDir, err := os.Getwd()
	if err != nil {
		currentDir = "."
	}

	return &Config{
		LayoutPath: DefaultLayoutPath,
		OutputDir:  currentDir,
		Workers:    DefaultWorkers,
		StrictRows: false,
		TopGrades:  DefaultTopGrades,
		BandWidth:  DefaultBandWidth,
		LogLevel:   DefaultLogLevel,
	}
}

// LoadFromFlags parses command line flags and returns a configuration.
func LoadFromFlags() (*Config, error) {
	cfg := DefaultConfig()

	setupViperEnvironment(cfg)
	defineCommandLineFlags(cfg)
	bindFlagsToViper()

	pflag.Parse()

	populateConfigFromViper(cfg)

	// Expand paths if needed
	if cfg.OutputDir != "" {
		if expandedPath, err := filepath.Abs(cfg.OutputDir); err == nil {
			cfg.OutputDir = expandedPath
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// setupViperEnvironment configures viper with environment variables and defaults.
func setupViperEnvironment(cfg *Config) {
	viper.SetEnvPrefix("ADMISSIONS")
	viper.AutomaticEnv()

	viper.SetDefault("input", cfg.InputPath)
	viper.SetDefault("layout", cfg.LayoutPath)
	viper.SetDefault("db", cfg.DatabasePath)
	viper.SetDefault("out", cfg.OutputDir)
	viper.SetDefault("year", cfg.Year)
	viper.SetDefault("workers", cfg.Workers)
	viper.SetDefault("strict", cfg.StrictRows)
	viper.SetDefault("topgrades", cfg.TopGrades)
	viper.SetDefault("bandwidth", cfg.BandWidth)
	viper.SetDefault("loglevel", cfg.LogLevel)
}

// defineCommandLineFlags sets up all command line flags.
func defineCommandLineFlags(cfg *Config) {
	pflag.String("input", cfg.InputPath, "Path to the admissions report PDF")
	pflag.String("layout", cfg.LayoutPath, "Path to the table layout file")
	pflag.String("db", cfg.DatabasePath, "SQLite database path (empty for in-memory only)")
	pflag.String("out", cfg.OutputDir, "Directory for rendered reports")
	pflag.Int("year", cfg.Year, "Admission cycle year of the report")
	pflag.Int("workers", cfg.Workers, "Page extraction workers")
	pflag.Bool("strict", cfg.StrictRows, "Abort on the first row validation failure instead of skip-and-log")
	pflag.Int("topgrades", cfg.TopGrades, "Predicted grade bucket size")
	pflag.Float64("bandwidth", cfg.BandWidth, "TMUA score band width")
	pflag.String("loglevel", cfg.LogLevel, "Log level (debug, info, warn, error)")
}

// bindFlagsToViper binds command line flags to viper configuration.
func bindFlagsToViper() {
	for _, name := range []string{
		"input", "layout", "db", "out", "year", "workers",
		"strict", "topgrades", "bandwidth", "loglevel",
	} {
		_ = viper.BindPFlag(name, pflag.Lookup(name))
	}
}

// populateConfigFromViper fills the config struct with values from viper.
func populateConfigFromViper(cfg *Config) {
	cfg.InputPath = viper.GetString("input")
	cfg.LayoutPath = viper.GetString("layout")
	cfg.DatabasePath = viper.GetString("db")
	cfg.OutputDir = viper.GetString("out")
	cfg.Year = viper.GetInt("year")
	cfg.Workers = viper.GetInt("workers")
	cfg.StrictRows = viper.GetBool("strict")
	cfg.TopGrades = viper.GetInt("topgrades")
	cfg.BandWidth = viper.GetFloat64("bandwidth")
	cfg.LogLevel = viper.GetString("loglevel")
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.InputPath == "" {
		return errors.New("input PDF path cannot be empty")
	}
	if c.LayoutPath == "" {
		return errors.New("layout path cannot be empty")
	}
	if c.Year < 2000 || c.Year > 2100 {
		return fmt.Errorf("implausible admission year: %d", c.Year)
	}
	if c.Workers < 1 {
		return errors.New("workers must be at least 1")
	}
	if c.TopGrades < 1 {
		return errors.New("grade bucket size must be at least 1")
	}
	if c.BandWidth <= 0 {
		return errors.New("band width must be positive")
	}

	if c.OutputDir != "" {
		if _, err := os.Stat(c.OutputDir); os.IsNotExist(err) {
			if err := os.MkdirAll(c.OutputDir, DefaultDirPerm); err != nil {
				return fmt.Errorf("cannot create output directory %s: %w", c.OutputDir, err)
			}
		} else if err != nil {
			return fmt.Errorf("cannot access output directory %s: %w", c.OutputDir, err)
		}
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be one of: debug, info, warn, error)", c.LogLevel)
	}

	return nil
}

// IsDebug returns true if debug logging is enabled.
func (c *Config) IsDebug() bool {
	return c.LogLevel == "debug"
}

// String returns a string representation of the configuration.
func (c *Config) String() string {
	return fmt.Sprintf("Config{Input: %s, Layout: %s, DB: %s, Year: %d, Workers: %d, Strict: %t}",
		c.InputPath, c.LayoutPath, c.DatabasePath, c.Year, c.Workers, c.StrictRows)
}
