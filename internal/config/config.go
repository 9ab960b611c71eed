// Package config loads aptos-compose settings from YAML with environment
// overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aperturerobotics/go-aptos-composer-wasi/node"
)

// Config holds all aptos-compose settings.
type Config struct {
	// Network is a preset name (mainnet, testnet, devnet, local).
	Network string `yaml:"network"`
	// NodeURL overrides the preset endpoint of Network.
	NodeURL string `yaml:"node_url,omitempty"`
	APIKey  string `yaml:"api_key,omitempty"`

	// ComposerWASM is the path of the script composer WASM build.
	ComposerWASM string `yaml:"composer_wasm"`
	// CacheDir holds the module cache. Empty disables caching on disk.
	CacheDir string `yaml:"cache_dir,omitempty"`
	// FetchConcurrency bounds parallel module fetches.
	FetchConcurrency int `yaml:"fetch_concurrency"`

	Server  ServerConfig  `yaml:"server"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig configures the compose HTTP service.
type ServerConfig struct {
	Listen       string `yaml:"listen"`
	ReadTimeout  string `yaml:"read_timeout"`
	WriteTimeout string `yaml:"write_timeout"`
	MaxBodyBytes int64  `yaml:"max_body_bytes"`
}

// LoggingConfig configures zap.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Network:          node.Testnet,
		ComposerWASM:     "script_composer.wasm",
		FetchConcurrency: 8,

		Server: ServerConfig{
			Listen:       "127.0.0.1:8090",
			ReadTimeout:  "10s",
			WriteTimeout: "30s",
			MaxBodyBytes: 1 << 20,
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults. Environment variables override both.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	// Override with environment variables
	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() error {
	if v := os.Getenv("APTOS_NETWORK"); v != "" {
		c.Network = v
	}
	if v := os.Getenv("APTOS_NODE_URL"); v != "" {
		c.NodeURL = v
	}
	if v := os.Getenv("APTOS_API_KEY"); v != "" {
		c.APIKey = v
	}
	if v := os.Getenv("COMPOSER_WASM"); v != "" {
		c.ComposerWASM = v
	}
	if v := os.Getenv("COMPOSER_CACHE_DIR"); v != "" {
		c.CacheDir = v
	}
	if v := os.Getenv("COMPOSER_LISTEN"); v != "" {
		c.Server.Listen = v
	}
	if v := os.Getenv("COMPOSER_FETCH_CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid COMPOSER_FETCH_CONCURRENCY %q: %w", v, err)
		}
		c.FetchConcurrency = n
	}
	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if _, err := c.NodeEndpoint(); err != nil {
		return err
	}
	if c.ComposerWASM == "" {
		return fmt.Errorf("composer wasm path not configured (set composer_wasm or COMPOSER_WASM)")
	}
	if c.FetchConcurrency < 1 {
		return fmt.Errorf("fetch_concurrency must be at least 1, got %d", c.FetchConcurrency)
	}
	if _, err := time.ParseDuration(c.Server.ReadTimeout); err != nil {
		return fmt.Errorf("invalid server.read_timeout: %w", err)
	}
	if _, err := time.ParseDuration(c.Server.WriteTimeout); err != nil {
		return fmt.Errorf("invalid server.write_timeout: %w", err)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging.level: %s", c.Logging.Level)
	}
	return nil
}

// NodeEndpoint returns NodeURL when set, else the preset URL of Network.
func (c *Config) NodeEndpoint() (string, error) {
	if c.NodeURL != "" {
		return node.ResolveURL(c.NodeURL)
	}
	return node.ResolveURL(c.Network)
}

// GetReadTimeout returns the server read timeout as a duration.
func (c *Config) GetReadTimeout() time.Duration {
	d, err := time.ParseDuration(c.Server.ReadTimeout)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

// GetWriteTimeout returns the server write timeout as a duration.
func (c *Config) GetWriteTimeout() time.Duration {
	d, err := time.ParseDuration(c.Server.WriteTimeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}
