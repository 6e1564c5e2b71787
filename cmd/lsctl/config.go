package main

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// CLIConfig is the persistent CLI configuration. The signing pair is the
// operator provider's sign_iv/sign_key as printed at create time.
type CLIConfig struct {
	Address   string `yaml:"address"`
	Provider  string `yaml:"provider"`
	SignIV    string `yaml:"sign_iv"`
	SignKey   string `yaml:"sign_key"`
	TLSCACert string `yaml:"tls_ca_cert"`
}

var cfg CLIConfig

func configPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".licenseserver", "config.yaml")
}

// loadConfig loads the CLI config from disk, falling back to defaults.
func loadConfig() {
	cfg = CLIConfig{
		Address: "https://127.0.0.1:8300",
	}
	data, err := os.ReadFile(configPath())
	if err != nil {
		return
	}
	yaml.Unmarshal(data, &cfg) //nolint:errcheck
}

// saveConfig persists the CLI config to disk.
func saveConfig() error {
	path := configPath()
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
