// Package logging provides the structured logging used across the cascade
// engine: a thin wrapper over log/slog with named subsystems (Store,
// Evaluator, Cascade, Ingress, Remediation, Config, Bootstrap) so log lines
// can be filtered and correlated by component without pulling in a heavier
// logging framework.
//
// # Log levels
//
//   - Debug: fine-grained tracing of cascade steps, useful when diagnosing
//     why a write did or did not happen
//   - Info: lifecycle and state-transition events
//   - Warn: recoverable failures (a store read falling back to the
//     absent-key default, a remediation attempt being retried)
//   - Error: failures that aborted a branch of a cascade or a dispatch
//
// # Usage
//
//	logging.InitForCLI(logging.LevelInfo, os.Stdout)
//	logging.Info("Cascade", "package %s transitioned to %s", name, state)
//	logging.Error("Store", err, "write failed for model %s", name)
//
// Security- and operations-sensitive events (a remediation dispatch, an
// explicit state-change request accepted from another service) should
// additionally call Audit, which emits a distinctly-prefixed, greppable
// line intended for collection by an external audit pipeline.
//
// The engine is a headless daemon with no terminal UI, so only the
// direct-output half of this design is implemented; there is no
// channel-based mode to feed a TUI.
package logging
