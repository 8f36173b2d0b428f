package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/fleetform/cascade/pkg/logging"
)

// Load reads a YAML configuration file at path, applying defaults for any
// field the file leaves unset, then resolves secret files and validates
// the result.
func Load(path string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logging.Info("Config", "no config file found at %s, using defaults", path)
			return cfg, Validate(cfg)
		}
		return Config{}, fmt.Errorf("reading config from %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config from %s: %w", path, err)
	}
	logging.Info("Config", "loaded configuration from %s", path)

	if err := resolveSecretFiles(&cfg); err != nil {
		return Config{}, fmt.Errorf("resolving secret files: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// resolveSecretFiles reads secrets from file paths specified in *File
// config options, keeping credentials out of the config file itself.
func resolveSecretFiles(cfg *Config) error {
	if cfg.Store.PasswordFile != "" && cfg.Store.Password == "" {
		secret, err := readSecretFile(cfg.Store.PasswordFile)
		if err != nil {
			return fmt.Errorf("reading store password from %s: %w", cfg.Store.PasswordFile, err)
		}
		cfg.Store.Password = secret
		logging.Info("Config", "loaded store password from file")
	}

	if cfg.Remediation.OAuth2 != nil {
		o := cfg.Remediation.OAuth2
		if o.ClientSecretFile != "" && o.ClientSecret == "" {
			secret, err := readSecretFile(o.ClientSecretFile)
			if err != nil {
				return fmt.Errorf("reading oauth2 client secret from %s: %w", o.ClientSecretFile, err)
			}
			o.ClientSecret = secret
			logging.Info("Config", "loaded oauth2 client secret from file")
		}
	}

	return nil
}

// readSecretFile reads a secret from a file, trimming trailing whitespace
// that commonly appears in mounted secrets.
func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
