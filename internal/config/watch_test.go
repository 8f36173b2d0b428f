package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, path string, workers int) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf(`
store:
  backend: memory
remediation:
  endpoint: "http://remediation.internal/reconcile"
workers: %d
`, workers)), 0o600))
}

// TestWatcher_ReloadAppliesChangedTunables seeds a temp config file, starts
// the watcher, rewrites the file with a different worker count, and asserts
// onApply fires with the new value. fsnotify delivery is asynchronous, so the
// assertion polls with a generous timeout rather than expecting the callback
// on the first observation.
func TestWatcher_ReloadAppliesChangedTunables(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeConfig(t, path, 2)

	initial, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 2, initial.Workers)

	var mu sync.Mutex
	var applied []Config
	w := NewWatcher(path, initial, func(next Config) {
		mu.Lock()
		applied = append(applied, next)
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Give the watcher a moment to install its fsnotify handle before the
	// file is rewritten, since Add happens inside Run.
	time.Sleep(50 * time.Millisecond)

	writeConfig(t, path, 7)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(applied) > 0
	}, 5*time.Second, 20*time.Millisecond, "onApply was never invoked after the config file changed")

	mu.Lock()
	last := applied[len(applied)-1]
	mu.Unlock()
	assert.Equal(t, 7, last.Workers)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop after context cancellation")
	}
}

// TestWatcher_ReloadKeepsPreviousConfigOnInvalidFile asserts that rewriting
// the config file with invalid content does not invoke onApply and does not
// crash the watcher loop; Watcher.reload logs and keeps the last-good config.
func TestWatcher_ReloadKeepsPreviousConfigOnInvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeConfig(t, path, 2)

	initial, err := Load(path)
	require.NoError(t, err)

	var mu sync.Mutex
	calls := 0
	w := NewWatcher(path, initial, func(Config) {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = w.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)

	// Missing remediation.endpoint fails validation, so Load (and thus
	// reload) should reject it and leave onApply uncalled.
	require.NoError(t, os.WriteFile(path, []byte(`
store:
  backend: memory
`), 0o600))

	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 0, calls, "onApply must not fire for a config file that fails validation")
}
