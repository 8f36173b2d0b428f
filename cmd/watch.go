package cmd

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"
)

var watchInterval time.Duration

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch <package> [package...]",
		Short: "Poll status on an interval, showing a spinner between refreshes",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runWatch,
	}
	cmd.Flags().DurationVar(&watchInterval, "interval", 2*time.Second, "polling interval")
	return cmd
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	adapter, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = " refreshing status..."

	ticker := time.NewTicker(watchInterval)
	defer ticker.Stop()

	for {
		s.Start()
		if err := printStatus(ctx, adapter, args, os.Stdout); err != nil {
			s.Stop()
			return err
		}
		s.Stop()

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
