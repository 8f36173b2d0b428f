package config

import (
	"context"

	"github.com/fsnotify/fsnotify"

	"github.com/fleetform/cascade/pkg/logging"
)

// Watcher reloads the tunables that are safe to change at runtime
// (timeouts, backoff cooldown, worker count) whenever the config file
// changes on disk. The two endpoint URLs require a restart to take effect;
// a change to either is logged but not applied.
type Watcher struct {
	path    string
	current Config
	onApply func(Config)
}

// NewWatcher constructs a Watcher seeded with the currently loaded config.
func NewWatcher(path string, initial Config, onApply func(Config)) *Watcher {
	return &Watcher{path: path, current: initial, onApply: onApply}
}

// Run watches the config file until ctx is canceled. It never returns an
// error for a single malformed reload; it logs and keeps the previous
// configuration in effect.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	if err := fsw.Add(w.path); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.reload()
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			logging.Warn("Config", "watcher error: %v", err)
		}
	}
}

func (w *Watcher) reload() {
	next, err := Load(w.path)
	if err != nil {
		logging.Warn("Config", "hot reload of %s failed, keeping previous configuration: %v", w.path, err)
		return
	}

	if next.Store.Backend != w.current.Store.Backend ||
		!equalAddresses(next.Store.Addresses, w.current.Store.Addresses) ||
		next.Remediation.Endpoint != w.current.Remediation.Endpoint ||
		next.Ingress.ListenAddress != w.current.Ingress.ListenAddress {
		logging.Warn("Config", "endpoint or listen address changed in %s; restart the process to apply it", w.path)
	}

	w.current = next
	logging.Info("Config", "applied hot-reloaded tunables from %s", w.path)
	if w.onApply != nil {
		w.onApply(next)
	}
}

func equalAddresses(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
