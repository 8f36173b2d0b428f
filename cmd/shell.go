package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/fleetform/cascade/internal/store"
)

func newShellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Open a read-only REPL for ad-hoc get model/package queries",
		Long: `shell never writes to the store: authoring state is not an
interactive concern, only the cascade engine and explicit state-change
requests mutate model and package state.`,
		Args: cobra.NoArgs,
		RunE: runShell,
	}
}

func runShell(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	adapter, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	historyFile := filepath.Join(os.TempDir(), ".cascaded_shell_history")
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "cascade» ",
		HistoryFile:     historyFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("creating readline instance: %w", err)
	}
	defer rl.Close()

	fmt.Fprintln(rl.Stdout(), "cascaded shell. Commands: get model <name>, get package <name>, exit")

	ctx := cmd.Context()
	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("readline error: %w", err)
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			return nil
		}

		if err := runShellCommand(ctx, adapter, rl.Stdout(), input); err != nil {
			fmt.Fprintln(rl.Stdout(), "error:", err)
		}
	}
}

func runShellCommand(ctx context.Context, adapter store.Adapter, out io.Writer, input string) error {
	fields := strings.Fields(input)
	if len(fields) != 3 || fields[0] != "get" {
		return fmt.Errorf("usage: get model <name> | get package <name>")
	}

	kind, name := fields[1], fields[2]
	switch kind {
	case "model":
		state, err := adapter.ReadModelState(ctx, name)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "model %s: %s\n", name, state)
	case "package":
		state, err := adapter.ReadPackageState(ctx, name)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "package %s: %s\n", name, state)
		models, err := adapter.ListModelsOfPackage(ctx, name)
		if err != nil {
			return err
		}
		for _, m := range models {
			fmt.Fprintf(out, "  - %s\n", m)
		}
	default:
		return fmt.Errorf("unknown resource kind %q, want model or package", kind)
	}
	return nil
}
