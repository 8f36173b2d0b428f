// Package remediation implements the outbound reconcile call (C5): invoked
// by the cascade engine exactly when a package's stored state transitions
// into Error, it retries on transport failure with a bounded exponential
// backoff and collapses repeated triggers for the same package within a
// cool-down window into one outstanding call.
package remediation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/fleetform/cascade/pkg/logging"
)

// StateChecker reports whether a package is still in the Error state. The
// dispatcher consults it between retries so that retries cease once the
// package's state departs Error, per the concurrency model's retry policy.
type StateChecker interface {
	IsPackageInError(ctx context.Context, packageName string) (bool, error)
}

// reconcileRequest is the wire body of the outbound reconcile RPC.
type reconcileRequest struct {
	PackageName      string `json:"package_name"`
	ObservedState    string `json:"observed_state"`
	TriggerTimestamp int64  `json:"trigger_timestamp_ns"`
}

// Config configures a Dispatcher.
type Config struct {
	Endpoint string
	Timeout  time.Duration
	Cooldown time.Duration

	// OAuth2, if non-nil, wraps outbound calls with a client-credentials
	// bearer token.
	OAuth2 *clientcredentials.Config
}

// Dispatcher issues the outbound reconcile RPC on a background worker per
// dispatch, honoring the bounded backoff schedule and a dedup cool-down.
type Dispatcher struct {
	endpoint string
	timeout  atomic.Int64 // time.Duration nanoseconds
	cooldown atomic.Int64 // time.Duration nanoseconds
	client   *http.Client
	checker  StateChecker
	metrics  *Metrics

	mu          sync.Mutex
	outstanding map[string]time.Time // packageName -> cooldown expiry

	wg          sync.WaitGroup
	shutdownCtx context.Context
	shutdown    context.CancelFunc
}

// New constructs a Dispatcher. checker may be nil, in which case the
// dispatcher does not poll current package state between attempts. Retry
// loops have no attempt limit: a loop ends when a call succeeds, when the
// service rejects the request with a 4xx status, when the checker reports
// the package has left Error, or when Close is called; an individual RPC caller's context cancellation never interrupts an
// in-flight retry loop, per the concurrency model.
func New(cfg Config, checker StateChecker, reg prometheus.Registerer) *Dispatcher {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	cooldown := cfg.Cooldown
	if cooldown == 0 {
		cooldown = 30 * time.Second
	}

	var httpClient *http.Client
	if cfg.OAuth2 != nil {
		httpClient = cfg.OAuth2.Client(context.Background())
	} else {
		httpClient = &http.Client{}
	}

	shutdownCtx, shutdown := context.WithCancel(context.Background())

	d := &Dispatcher{
		endpoint:    cfg.Endpoint,
		client:      httpClient,
		checker:     checker,
		metrics:     NewMetrics(reg),
		outstanding: make(map[string]time.Time),
		shutdownCtx: shutdownCtx,
		shutdown:    shutdown,
	}
	d.timeout.Store(int64(timeout))
	d.cooldown.Store(int64(cooldown))
	return d
}

// SetTunables updates the per-call timeout and dedup cool-down window used by
// subsequent dispatches. Safe to call concurrently with Dispatch; retry loops
// already in flight pick up the new timeout on their next attempt and keep
// their already-recorded cool-down expiry until it lapses naturally. Called
// by the configuration watcher when either tunable changes on disk. A
// non-positive value for either argument leaves that tunable unchanged.
func (d *Dispatcher) SetTunables(timeout, cooldown time.Duration) {
	if timeout > 0 {
		d.timeout.Store(int64(timeout))
	}
	if cooldown > 0 {
		d.cooldown.Store(int64(cooldown))
	}
}

// Close cancels all in-flight retry loops and waits for their goroutines to
// return. Call during service shutdown.
func (d *Dispatcher) Close() {
	d.shutdown()
	d.wg.Wait()
}

// Dispatch triggers a reconcile call for packageName. Per the dedup window,
// a call already outstanding (or completed within the cool-down) for this
// package collapses this trigger into the existing one.
func (d *Dispatcher) Dispatch(_ context.Context, packageName string) {
	now := time.Now()

	d.mu.Lock()
	if expiry, ok := d.outstanding[packageName]; ok && now.Before(expiry) {
		d.mu.Unlock()
		d.metrics.DedupCollapsed.Inc()
		logging.Debug("Remediation", "dedup-collapsed trigger for package %s", packageName)
		return
	}
	d.outstanding[packageName] = now.Add(time.Duration(d.cooldown.Load()))
	d.mu.Unlock()

	logging.Audit(logging.AuditEvent{
		Action:   "remediation_dispatch",
		Outcome:  "started",
		Resource: "package/" + packageName,
	})

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.run(d.shutdownCtx, packageName, now.UnixNano())
	}()
}

func (d *Dispatcher) run(ctx context.Context, packageName string, triggerTimestampNs int64) {
	bo := backoff.WithContext(newBoundedBackOff(), ctx)

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++

		if d.checker != nil {
			stillError, checkErr := d.checker.IsPackageInError(ctx, packageName)
			if checkErr == nil && !stillError {
				logging.Debug("Remediation", "package %s left Error state, stopping retries", packageName)
				return nil
			}
		}

		d.metrics.Attempts.Inc()
		callErr := d.call(ctx, packageName, triggerTimestampNs)
		if callErr != nil {
			logging.Warn("Remediation", "reconcile call for %s failed (attempt %d): %v", packageName, attempt, callErr)
			return callErr
		}
		return nil
	}, bo)

	if err != nil {
		d.metrics.Failures.Inc()
		logging.Error("Remediation", err, "reconcile call for %s failed after backoff, leaving package in Error", packageName)
		logging.Audit(logging.AuditEvent{
			Action:   "remediation_dispatch",
			Outcome:  "failure",
			Resource: "package/" + packageName,
			Error:    err.Error(),
		})
		return
	}

	logging.Audit(logging.AuditEvent{
		Action:   "remediation_dispatch",
		Outcome:  "success",
		Resource: "package/" + packageName,
	})
}

func (d *Dispatcher) call(ctx context.Context, packageName string, triggerTimestampNs int64) error {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(d.timeout.Load()))
	defer cancel()

	body, err := json.Marshal(reconcileRequest{
		PackageName:      packageName,
		ObservedState:    "Error",
		TriggerTimestamp: triggerTimestampNs,
	})
	if err != nil {
		return fmt.Errorf("encode reconcile request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build reconcile request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("reconcile call transport error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("reconcile service returned %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return backoff.Permanent(fmt.Errorf("reconcile service rejected request: %d", resp.StatusCode))
	}
	return nil
}
