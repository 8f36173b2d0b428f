package cmd

import (
	"fmt"

	"github.com/fleetform/cascade/internal/config"
	"github.com/fleetform/cascade/internal/store"
)

const defaultConfigPath = "/etc/cascaded/config.yaml"

// loadConfig loads the configuration from --config, or defaultConfigPath
// if unset, wrapping any failure so the root command can map it to
// ExitCodeConfigInvalid.
func loadConfig() (config.Config, error) {
	path := configPath
	if path == "" {
		path = defaultConfigPath
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, &configLoadError{cause: err}
	}
	return cfg, nil
}

// openStore constructs the store adapter named by cfg.Store.Backend. It is
// shared by serve, status, watch and shell so every read-only command sees
// the same data a running engine would.
func openStore(cfg config.Config) (store.Adapter, func(), error) {
	switch cfg.Store.Backend {
	case "memory":
		return store.NewMemory(), func() {}, nil
	case "valkey":
		v, err := store.NewValkey(cfg.Store.Addresses, cfg.Store.Password,
			store.WithDeadline(cfg.Store.Deadline),
			store.WithRetries(cfg.Store.Retries),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to valkey: %w", err)
		}
		return v, func() { v.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}
