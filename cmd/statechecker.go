package cmd

import (
	"context"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/fleetform/cascade/internal/config"
	"github.com/fleetform/cascade/internal/store"
	"github.com/fleetform/cascade/internal/types"
)

// storeStateChecker adapts a store.Adapter to remediation.StateChecker so
// the dispatcher can poll current package state between retries without
// depending on the cascade engine.
type storeStateChecker struct {
	adapter store.Adapter
}

func newStateChecker(adapter store.Adapter) *storeStateChecker {
	return &storeStateChecker{adapter: adapter}
}

func (c *storeStateChecker) IsPackageInError(ctx context.Context, packageName string) (bool, error) {
	state, err := c.adapter.ReadPackageState(ctx, packageName)
	if err != nil {
		return false, err
	}
	return state == types.PackageError, nil
}

// oauth2ConfigFrom translates the YAML-sourced OAuth2 config into the
// clientcredentials.Config the remediation dispatcher's HTTP client wraps.
func oauth2ConfigFrom(cfg *config.OAuth2Config) *clientcredentials.Config {
	if cfg == nil {
		return nil
	}
	return &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		Scopes:       cfg.Scopes,
	}
}
