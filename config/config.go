// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Build   BuildConfig   `yaml:"build"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// StorageConfig configures the workspace store backing the physical
// namespace. Use "sqlite" for a persistent workspace or "memory" for an
// ephemeral one.
type StorageConfig struct {
	Driver string `yaml:"driver"` // "sqlite" or "memory"
	DSN    string `yaml:"dsn"`
}

// BuildConfig configures the compile pipeline.
type BuildConfig struct {
	Target             string   `yaml:"target"`               // syntax target, e.g. "es2020"
	Minify             bool     `yaml:"minify"`               // minify bundled output
	Development        bool     `yaml:"development"`          // development JSX runtime
	VirtualPackageRoot string   `yaml:"virtual_package_root"` // bare-package root in the virtual namespace
	LibraryRoot        string   `yaml:"library_root"`         // bare-package root in the physical namespace
	Externals          []string `yaml:"externals"`            // resource URLs injected into assembled documents
	PreserveHosts      []string `yaml:"preserve_hosts"`       // extra hosts kept during template stripping; empty = built-in defaults
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "console"
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // Enable /metrics endpoint
	Path    string `yaml:"path"`    // Custom path (default: /metrics)
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(&cfg)

	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadFromEnv creates configuration entirely from environment variables.
// This is useful for Docker deployments where no config file is needed.
//
// Environment variables:
//
//	KILN_SERVER_HOST       - Server host (default: 0.0.0.0)
//	KILN_SERVER_PORT       - Server port (default: 7420)
//	KILN_STORAGE_DRIVER    - Workspace store: sqlite or memory (default: sqlite)
//	KILN_STORAGE_DSN       - Workspace database path (default: kiln.db)
//	KILN_BUILD_TARGET      - Syntax target (default: es2020)
//	KILN_BUILD_MINIFY      - Minify bundled output (default: false)
//	KILN_BUILD_DEVELOPMENT - Development JSX runtime (default: false)
//	KILN_BUILD_EXTERNALS   - Comma-separated resource URLs for the document
//	KILN_LOG_LEVEL         - Log level: debug, info, warn, error (default: info)
//	KILN_LOG_FORMAT        - Log format: json or console (default: json)
//	KILN_METRICS_ENABLED   - Enable /metrics endpoint (default: false)
//	KILN_METRICS_PATH      - Metrics endpoint path (default: /metrics)
func LoadFromEnv() (*Config, error) {
	var cfg Config

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadWithFallback tries to load from file, falls back to environment
// variables. Every setting has a default, so the fallback always yields a
// runnable configuration.
func LoadWithFallback(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	return LoadFromEnv()
}

// applyEnvOverrides applies KILN_* environment variables to the config.
// Environment variables always override file-based configuration.
func applyEnvOverrides(cfg *Config) {
	// Server configuration
	if v := os.Getenv("KILN_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("KILN_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("KILN_SERVER_READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.ReadTimeout = d
		}
	}
	if v := os.Getenv("KILN_SERVER_WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.WriteTimeout = d
		}
	}

	// Storage configuration
	if v := os.Getenv("KILN_STORAGE_DRIVER"); v != "" {
		cfg.Storage.Driver = v
	}
	if v := os.Getenv("KILN_STORAGE_DSN"); v != "" {
		cfg.Storage.DSN = v
	}

	// Build configuration
	if v := os.Getenv("KILN_BUILD_TARGET"); v != "" {
		cfg.Build.Target = v
	}
	if v := os.Getenv("KILN_BUILD_MINIFY"); v != "" {
		cfg.Build.Minify = parseBool(v)
	}
	if v := os.Getenv("KILN_BUILD_DEVELOPMENT"); v != "" {
		cfg.Build.Development = parseBool(v)
	}
	if v := os.Getenv("KILN_BUILD_EXTERNALS"); v != "" {
		cfg.Build.Externals = parseList(v)
	}

	// Logging configuration
	if v := os.Getenv("KILN_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("KILN_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	// Metrics configuration
	if v := os.Getenv("KILN_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = parseBool(v)
	}
	if v := os.Getenv("KILN_METRICS_PATH"); v != "" {
		cfg.Metrics.Path = v
	}
}

// parseBool parses a boolean from common string values.
func parseBool(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "true" || v == "1" || v == "yes" || v == "on"
}

// parseList splits a comma-separated value, trimming whitespace and
// dropping empty entries.
func parseList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// DefaultExternals are the runtime libraries the preview document loads as
// globals. The shim modules bind import sites to window.React and
// window.ReactDOM, so these must arrive before the compiled script runs.
var DefaultExternals = []string{
	"https://unpkg.com/react@18/umd/react.production.min.js",
	"https://unpkg.com/react-dom@18/umd/react-dom.production.min.js",
}

func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 7420
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 60 * time.Second
	}

	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "sqlite"
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "kiln.db"
	}

	if cfg.Build.Target == "" {
		cfg.Build.Target = "es2020"
	}
	if cfg.Build.VirtualPackageRoot == "" {
		cfg.Build.VirtualPackageRoot = "/node_modules"
	}
	if cfg.Build.LibraryRoot == "" {
		cfg.Build.LibraryRoot = "/lib"
	}
	if cfg.Build.Externals == nil {
		cfg.Build.Externals = DefaultExternals
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}

var validTargets = map[string]bool{
	"es2015": true, "es2016": true, "es2017": true, "es2018": true,
	"es2019": true, "es2020": true, "es2021": true, "es2022": true,
	"es2023": true, "esnext": true,
}

func validate(cfg *Config) error {
	validDrivers := map[string]bool{"sqlite": true, "memory": true}
	if !validDrivers[cfg.Storage.Driver] {
		return fmt.Errorf("storage.driver must be 'sqlite' or 'memory', got %q", cfg.Storage.Driver)
	}
	if cfg.Storage.Driver == "sqlite" && cfg.Storage.DSN == "" {
		return fmt.Errorf("storage.dsn is required when storage.driver is 'sqlite'")
	}

	if !validTargets[strings.ToLower(cfg.Build.Target)] {
		return fmt.Errorf("build.target must be es2015..es2023 or esnext, got %q", cfg.Build.Target)
	}
	if !strings.HasPrefix(cfg.Build.VirtualPackageRoot, "/") {
		return fmt.Errorf("build.virtual_package_root must be an absolute path, got %q", cfg.Build.VirtualPackageRoot)
	}
	if !strings.HasPrefix(cfg.Build.LibraryRoot, "/") {
		return fmt.Errorf("build.library_root must be an absolute path, got %q", cfg.Build.LibraryRoot)
	}
	for i, u := range cfg.Build.Externals {
		if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
			return fmt.Errorf("build.externals[%d] must be an http(s) URL, got %q", i, u)
		}
	}

	return nil
}
