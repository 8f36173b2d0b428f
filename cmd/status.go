package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/fleetform/cascade/internal/store"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <package> [package...]",
		Short: "Print the current package and model state for one or more packages",
		Long: `status connects to the store read-only and renders a table of each
named package's state and its member models' states. There is no
"list all packages" primitive: the membership keyspace is externally
authored, so packages must be named explicitly.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runStatus,
	}
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	adapter, closeStore, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer closeStore()

	return printStatus(cmd.Context(), adapter, args, os.Stdout)
}

func printStatus(ctx context.Context, adapter store.Adapter, packageNames []string, out *os.File) error {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"PACKAGE", "STATE", "MODEL", "MODEL STATE"})

	for _, pkgName := range packageNames {
		pkgState, err := adapter.ReadPackageState(ctx, pkgName)
		if err != nil {
			return fmt.Errorf("reading package %s: %w", pkgName, err)
		}

		models, err := adapter.ListModelsOfPackage(ctx, pkgName)
		if err != nil {
			return fmt.Errorf("listing models of %s: %w", pkgName, err)
		}

		if len(models) == 0 {
			t.AppendRow(table.Row{pkgName, pkgState, "-", "-"})
			continue
		}

		for i, modelName := range models {
			modelState, err := adapter.ReadModelState(ctx, modelName)
			if err != nil {
				return fmt.Errorf("reading model %s: %w", modelName, err)
			}
			row := table.Row{"", "", modelName, modelState}
			if i == 0 {
				row[0] = pkgName
				row[1] = pkgState
			}
			t.AppendRow(row)
		}
		t.AppendSeparator()
	}

	t.Render()
	return nil
}
