package cmd

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fleetform/cascade/internal/store"
	"github.com/fleetform/cascade/internal/types"
)

func TestPrintStatus_PackageWithModels(t *testing.T) {
	mem := store.NewMemory()
	mem.SeedMembership("checkout", "api", "worker")
	require.NoError(t, mem.WritePackageState(t.Context(), "checkout", types.PackageRunning))
	require.NoError(t, mem.WriteModelState(t.Context(), "api", types.ModelRunning))
	require.NoError(t, mem.WriteModelState(t.Context(), "worker", types.ModelPaused))

	tmp, err := os.CreateTemp(t.TempDir(), "status")
	require.NoError(t, err)
	defer tmp.Close()

	require.NoError(t, printStatus(t.Context(), mem, []string{"checkout"}, tmp))

	tmp.Seek(0, 0)
	var buf bytes.Buffer
	buf.ReadFrom(tmp)
	out := buf.String()

	require.Contains(t, out, "checkout")
	require.Contains(t, out, "Running")
	require.Contains(t, out, "api")
	require.Contains(t, out, "worker")
	require.Contains(t, out, "Paused")
}

func TestPrintStatus_PackageWithNoModels(t *testing.T) {
	mem := store.NewMemory()
	tmp, err := os.CreateTemp(t.TempDir(), "status")
	require.NoError(t, err)
	defer tmp.Close()

	require.NoError(t, printStatus(t.Context(), mem, []string{"empty"}, tmp))

	tmp.Seek(0, 0)
	var buf bytes.Buffer
	buf.ReadFrom(tmp)
	require.True(t, strings.Contains(buf.String(), "Idle"))
}
