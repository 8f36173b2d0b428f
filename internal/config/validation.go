package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a single configuration validation failure.
type ValidationError struct {
	Field   string
	Message string
}

func (ve ValidationError) Error() string {
	return fmt.Sprintf("field '%s': %s", ve.Field, ve.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "no validation errors"
	}
	if len(ve) == 1 {
		return ve[0].Error()
	}
	messages := make([]string, len(ve))
	for i, e := range ve {
		messages[i] = e.Error()
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(messages, "; "))
}

func (ve *ValidationErrors) add(field, message string) {
	*ve = append(*ve, ValidationError{Field: field, Message: message})
}

// Validate rejects a Config missing either of the two required endpoints
// (spec §6: "Two endpoints configured at startup: the store endpoint and
// the remediation service endpoint. No other configuration is required.")
// or carrying tunables that cannot produce a working engine.
func Validate(cfg Config) error {
	var errs ValidationErrors

	switch cfg.Store.Backend {
	case "valkey":
		if len(cfg.Store.Addresses) == 0 {
			errs.add("store.addresses", "required when store.backend is valkey")
		}
	case "memory":
		// no endpoint required
	case "":
		errs.add("store.backend", "must be set (valkey or memory)")
	default:
		errs.add("store.backend", "must be valkey or memory, got "+cfg.Store.Backend)
	}

	if cfg.Remediation.Endpoint == "" {
		errs.add("remediation.endpoint", "required")
	}

	if cfg.Workers <= 0 {
		errs.add("workers", "must be positive")
	}

	if cfg.Remediation.OAuth2 != nil {
		o := cfg.Remediation.OAuth2
		if o.TokenURL == "" {
			errs.add("remediation.oauth2.tokenUrl", "required when oauth2 is configured")
		}
		if o.ClientID == "" {
			errs.add("remediation.oauth2.clientId", "required when oauth2 is configured")
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
