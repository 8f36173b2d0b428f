package cmd

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/coreos/go-systemd/v22/activation"
	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/fleetform/cascade/internal/cascade"
	"github.com/fleetform/cascade/internal/config"
	"github.com/fleetform/cascade/internal/ingress"
	"github.com/fleetform/cascade/internal/remediation"
	"github.com/fleetform/cascade/pkg/logging"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the cascade engine, accepting observations and state changes over HTTP",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
}

// runServe wires the store adapter, remediation dispatcher and cascade
// engine together behind the ingress router, then blocks until SIGINT or
// SIGTERM. Service shutdown is the only point at which the remediation
// dispatcher's retry loop is canceled.
func runServe(cmd *cobra.Command, args []string) error {
	logging.InitForCLI(logging.LevelInfo, os.Stdout)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	adapter, closeStore, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer closeStore()

	metrics := cascade.NewMetrics(prometheus.DefaultRegisterer)

	dispatcher := remediation.New(remediation.Config{
		Endpoint: cfg.Remediation.Endpoint,
		Timeout:  cfg.Remediation.Timeout,
		Cooldown: cfg.Remediation.Cooldown,
		OAuth2:   oauth2ConfigFrom(cfg.Remediation.OAuth2),
	}, newStateChecker(adapter), prometheus.DefaultRegisterer)
	defer dispatcher.Close()

	engine := cascade.NewEngine(adapter, dispatcher,
		cascade.WithWorkers(cfg.Workers),
		cascade.WithMetrics(metrics),
	)

	router := ingress.NewRouter(engine)

	listener, err := serveListener(cfg.Ingress.ListenAddress)
	if err != nil {
		return fmt.Errorf("binding ingress listener: %w", err)
	}

	server := &http.Server{Handler: router}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	watcher := config.NewWatcher(effectiveConfigPath(), cfg, func(next config.Config) {
		engine.SetWorkers(next.Workers)
		dispatcher.SetTunables(next.Remediation.Timeout, next.Remediation.Cooldown)
	})
	go func() {
		if err := watcher.Run(ctx); err != nil {
			logging.Warn("Bootstrap", "configuration watcher stopped: %v", err)
		}
	}()

	serveErr := make(chan error, 1)
	go func() {
		logging.Info("Bootstrap", "ingress listening on %s", listener.Addr())
		serveErr <- server.Serve(listener)
	}()

	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		logging.Warn("Bootstrap", "sd_notify READY failed: %v", err)
	} else if sent {
		logging.Info("Bootstrap", "notified systemd of readiness")
	}

	select {
	case <-ctx.Done():
		logging.Info("Bootstrap", "shutdown signal received")
	case err := <-serveErr:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("ingress server: %w", err)
		}
	}

	if _, err := daemon.SdNotify(false, daemon.SdNotifyStopping); err != nil {
		logging.Warn("Bootstrap", "sd_notify STOPPING failed: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Remediation.Timeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// serveListener prefers a systemd-activated socket (named "cascaded") when
// present, falling back to binding addr directly. This lets the unit file
// own the listening socket across restarts without dropping connections.
func serveListener(addr string) (net.Listener, error) {
	listeners, err := activation.ListenersWithNames()
	if err == nil {
		if ls, ok := listeners["cascaded"]; ok && len(ls) > 0 {
			logging.Info("Bootstrap", "using systemd socket activation")
			return ls[0], nil
		}
	}
	return net.Listen("tcp", addr)
}

func effectiveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return defaultConfigPath
}
