// Package config loads and validates the cascade engine's configuration:
// the store and remediation endpoints named in the external interfaces,
// and the tunables governing timeouts, backoff and worker concurrency.
package config

import "time"

// Config is the top-level configuration for the cascade engine.
type Config struct {
	// Store configures the distributed key-value store adapter (C1).
	Store StoreConfig `yaml:"store"`

	// Remediation configures the outbound reconcile RPC (C5).
	Remediation RemediationConfig `yaml:"remediation"`

	// Ingress configures the inbound HTTP server (C4).
	Ingress IngressConfig `yaml:"ingress"`

	// Workers bounds the fan-out concurrency used by the cascade engine's
	// read-and-evaluate phase.
	Workers int `yaml:"workers,omitempty"`
}

// StoreConfig names the store endpoint and its call tunables.
type StoreConfig struct {
	// Backend selects the adapter implementation: "valkey" (default) or
	// "memory" for local/dev runs.
	Backend string `yaml:"backend,omitempty"`

	// Addresses are the Valkey/Redis-protocol cluster addresses. Required
	// when Backend is "valkey".
	Addresses []string `yaml:"addresses,omitempty"`

	// Password authenticates to the store directly. Prefer PasswordFile in
	// production deployments.
	Password string `yaml:"password,omitempty"`

	// PasswordFile names a file whose trimmed contents are the store
	// password, resolved at load time and kept out of the config file
	// itself.
	PasswordFile string `yaml:"passwordFile,omitempty"`

	// Deadline bounds every individual store call.
	Deadline time.Duration `yaml:"deadline,omitempty"`

	// Retries bounds the number of retry attempts before a call surfaces
	// StoreUnavailable.
	Retries uint64 `yaml:"retries,omitempty"`
}

// RemediationConfig names the remediation service endpoint and its call
// tunables.
type RemediationConfig struct {
	// Endpoint is the reconcile RPC URL of the external remediation
	// service.
	Endpoint string `yaml:"endpoint"`

	// Timeout bounds each reconcile RPC attempt.
	Timeout time.Duration `yaml:"timeout,omitempty"`

	// Cooldown is the dedup window during which repeated triggers for the
	// same package collapse into one outstanding call.
	Cooldown time.Duration `yaml:"cooldown,omitempty"`

	// OAuth2, if set, authenticates outbound calls with a client
	// credentials token.
	OAuth2 *OAuth2Config `yaml:"oauth2,omitempty"`
}

// OAuth2Config configures client-credentials auth for the remediation RPC.
type OAuth2Config struct {
	TokenURL         string   `yaml:"tokenUrl"`
	ClientID         string   `yaml:"clientId"`
	ClientSecret     string   `yaml:"clientSecret,omitempty"`
	ClientSecretFile string   `yaml:"clientSecretFile,omitempty"`
	Scopes           []string `yaml:"scopes,omitempty"`
}

// IngressConfig names the inbound HTTP listen address.
type IngressConfig struct {
	ListenAddress string `yaml:"listenAddress,omitempty"`
}
