package infra

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds every application setting. Secrets may be overridden through
// environment variables after the file is loaded.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Feed struct {
		WSURL      string   `yaml:"ws_url"`
		Symbols    []string `yaml:"symbols"`
		DepthLimit int      `yaml:"depth_limit"`
		TapeLimit  int      `yaml:"tape_limit"`
	} `yaml:"feed"`

	API struct {
		RestURL            string `yaml:"rest_url"`
		Key                string `yaml:"key"`
		Secret             string `yaml:"secret"`
		SecretsFile        string `yaml:"secrets_file"`
		RefreshIntervalSec int    `yaml:"refresh_interval_sec"`
		TimeoutSec         int    `yaml:"timeout_sec"`
	} `yaml:"api"`

	Journal struct {
		Enabled bool   `yaml:"enabled"`
		Dir     string `yaml:"dir"`
		Buffer  int    `yaml:"buffer"` // pending writes held before samples drop; 0 uses the default
	} `yaml:"journal"`

	Metrics struct {
		Addr string `yaml:"addr"` // empty disables the endpoint
	} `yaml:"metrics"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"` // "text" or "json"
	} `yaml:"logging"`
}

// LoadConfig reads and parses the config file, applies env overrides and
// validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	if cfg.API.Key != "" || cfg.API.Secret != "" {
		fmt.Println("⚠️  SECURITY WARNING: API credentials found in config file.")
		fmt.Println("   Recommendation: use a secrets_file or DESK_API_KEY / DESK_API_SECRET.")
	}

	if cfg.API.SecretsFile != "" {
		secrets, err := LoadSecretConfig(cfg.API.SecretsFile)
		if err != nil {
			return nil, err
		}
		cfg.API.Key = secrets.API.Key
		cfg.API.Secret = secrets.API.Secret
	}

	overrideWithEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if !strings.HasPrefix(c.Feed.WSURL, "ws://") && !strings.HasPrefix(c.Feed.WSURL, "wss://") {
		return fmt.Errorf("invalid feed WS URL: %s", c.Feed.WSURL)
	}
	if len(c.Feed.Symbols) == 0 {
		return fmt.Errorf("at least one feed symbol is required")
	}
	if !strings.HasPrefix(c.API.RestURL, "http://") && !strings.HasPrefix(c.API.RestURL, "https://") {
		return fmt.Errorf("invalid API REST URL: %s", c.API.RestURL)
	}
	if c.API.RefreshIntervalSec < 0 {
		return fmt.Errorf("refresh interval must not be negative")
	}
	if c.Feed.DepthLimit < 0 || c.Feed.TapeLimit < 0 {
		return fmt.Errorf("feed limits must not be negative")
	}
	return nil
}

// overrideWithEnv prefers environment variables over file values for secrets.
func overrideWithEnv(cfg *Config) {
	if key := os.Getenv("DESK_API_KEY"); key != "" {
		cfg.API.Key = key
	}
	if secret := os.Getenv("DESK_API_SECRET"); secret != "" {
		cfg.API.Secret = secret
	}
	if url := os.Getenv("DESK_REST_URL"); url != "" {
		cfg.API.RestURL = url
	}
	if url := os.Getenv("DESK_WS_URL"); url != "" {
		cfg.Feed.WSURL = url
	}
}
