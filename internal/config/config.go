package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"github.com/sirupsen/logrus"
)

// Config represents the application configuration
type Config struct {
	Server ServerConfig `koanf:"server" yaml:"server"`
	Cache  CacheConfig  `koanf:"cache" yaml:"cache"`
	Scope  ScopeConfig  `koanf:"scope" yaml:"scope"`
	Log    LogConfig    `koanf:"log" yaml:"log"`
}

// ServerConfig contains server-related configuration
type ServerConfig struct {
	Port  int         `koanf:"port" yaml:"port"`
	HTTPS HTTPSConfig `koanf:"https" yaml:"https"`
}

// HTTPSConfig controls TLS interception of CONNECT tunnels
type HTTPSConfig struct {
	Enabled    bool   `koanf:"enabled" yaml:"enabled"`
	CACertFile string `koanf:"ca_cert_file" yaml:"ca_cert_file"`
	CAKeyFile  string `koanf:"ca_key_file" yaml:"ca_key_file"`
	// Address of an optional transparent HTTPS listener (e.g. ":8443")
	TransparentAddr string `koanf:"transparent_addr" yaml:"transparent_addr"`
}

// CacheConfig contains cache-related configuration
type CacheConfig struct {
	Backend string `koanf:"backend" yaml:"backend"` // "disk", "sqlite" or "memory"
	// Folder of the disk backend
	Folder string `koanf:"folder" yaml:"folder"`
	// Database file of the sqlite backend, in-memory when empty
	Database string `koanf:"database" yaml:"database"`
	// Version names the current cache generation. Changing it drops every cached entry
	Version          string  `koanf:"version" yaml:"version"`
	FreshnessWindow  string  `koanf:"freshness_window" yaml:"freshness_window"`
	SweepProbability float64 `koanf:"sweep_probability" yaml:"sweep_probability"`
}

// ScopeConfig selects the requests that go through the cache
type ScopeConfig struct {
	// Origin of the application, as scheme://host[:port]
	Origin string `koanf:"origin" yaml:"origin"`
	// Requests whose host contains one of these are cached too
	AllowedHosts []string `koanf:"allowed_hosts" yaml:"allowed_hosts"`
}

// LogConfig contains logging configuration
type LogConfig struct {
	Level  string `koanf:"level" yaml:"level"`
	Format string `koanf:"format" yaml:"format"` // "text" or "json"
	// Log file, rotated by size. Logs go to stdout when empty
	File       string `koanf:"file" yaml:"file"`
	MaxSizeMB  int    `koanf:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `koanf:"max_backups" yaml:"max_backups"`
	Compress   bool   `koanf:"compress" yaml:"compress"`
}

// Default returns the configuration used for every setting missing from the file
func Default() Config {
	return Config{
		Server: ServerConfig{Port: 8080},
		Cache: CacheConfig{
			Backend:          "disk",
			Folder:           "./cache",
			Database:         "./cache.db",
			Version:          "offline-cache-v1",
			FreshnessWindow:  "48h",
			SweepProbability: 0.01,
		},
		Scope: ScopeConfig{
			Origin:       "http://localhost:3000",
			AllowedHosts: []string{"jsonplaceholder.typicode.com"},
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  100,
			MaxBackups: 3,
		},
	}
}

// Load loads configuration from a YAML file, on top of Default()
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading default config: %w", err)
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var config Config
	if err := k.Unmarshal("", &config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	return &config, nil
}

// GetFreshnessWindow parses and returns the freshness window duration
func (c *Config) GetFreshnessWindow() (time.Duration, error) {
	return time.ParseDuration(c.Cache.FreshnessWindow)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}

	if (c.Server.HTTPS.CACertFile == "") != (c.Server.HTTPS.CAKeyFile == "") {
		return fmt.Errorf("https CA certificate and key must be set together")
	}

	if c.Server.HTTPS.TransparentAddr != "" && !c.Server.HTTPS.Enabled {
		return fmt.Errorf("transparent HTTPS requires https to be enabled")
	}

	switch c.Cache.Backend {
	case "disk":
		if c.Cache.Folder == "" {
			return fmt.Errorf("cache folder is required")
		}
	case "sqlite", "memory":
	default:
		return fmt.Errorf("cache backend must be 'disk', 'sqlite' or 'memory', got: %s", c.Cache.Backend)
	}

	if c.Cache.Version == "" {
		return fmt.Errorf("cache version is required")
	}

	if c.Cache.FreshnessWindow == "" {
		return fmt.Errorf("cache freshness window is required")
	}

	window, err := c.GetFreshnessWindow()
	if err != nil {
		return fmt.Errorf("invalid cache freshness window format: %w", err)
	}
	if window <= 0 {
		return fmt.Errorf("cache freshness window must be positive, got: %s", c.Cache.FreshnessWindow)
	}

	if c.Cache.SweepProbability < 0 || c.Cache.SweepProbability > 1 {
		return fmt.Errorf("cache sweep probability must be between 0 and 1, got: %v", c.Cache.SweepProbability)
	}

	if c.Scope.Origin != "" {
		origin, err := url.Parse(c.Scope.Origin)
		if err != nil {
			return fmt.Errorf("invalid scope origin: %w", err)
		}
		if origin.Scheme == "" || origin.Host == "" {
			return fmt.Errorf("scope origin must be scheme://host[:port], got: %s", c.Scope.Origin)
		}
	}

	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}

	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log format must be 'text' or 'json', got: %s", c.Log.Format)
	}

	return nil
}
