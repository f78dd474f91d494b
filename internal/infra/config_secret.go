package infra

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SecretConfig is the shape of a standalone secrets file, kept out of the
// main config so the latter can live in version control.
type SecretConfig struct {
	API struct {
		Key    string `yaml:"key"`
		Secret string `yaml:"secret"`
	} `yaml:"api"`
}

// LoadSecretConfig loads API credentials from a separate yaml file.
// It returns error if file is missing (Fail Fast).
func LoadSecretConfig(path string) (*SecretConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read secret config: %w", err)
	}

	var cfg SecretConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse secret config: %w", err)
	}

	return &cfg, nil
}
