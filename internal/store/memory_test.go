package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetform/cascade/internal/types"
)

func TestMemory_AbsentKeyReturnsInitialState(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	modelState, err := m.ReadModelState(ctx, "unknown-model")
	require.NoError(t, err)
	assert.Equal(t, types.ModelCreated, modelState)

	pkgState, err := m.ReadPackageState(ctx, "unknown-package")
	require.NoError(t, err)
	assert.Equal(t, types.PackageIdle, pkgState)
}

func TestMemory_WriteThenRead(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.WriteModelState(ctx, "m1", types.ModelRunning))
	got, err := m.ReadModelState(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, types.ModelRunning, got)

	require.NoError(t, m.WritePackageState(ctx, "p1", types.PackageDegraded))
	gotPkg, err := m.ReadPackageState(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, types.PackageDegraded, gotPkg)
}

func TestMemory_MembershipIsReadOnlyFromAdapterPerspective(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	m.SeedMembership("p1", "m1", "m2")

	members, err := m.ListModelsOfPackage(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2"}, members)

	parent, ok, err := m.ReadParentPackage(ctx, "m1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "p1", parent)

	_, ok, err = m.ReadParentPackage(ctx, "unregistered")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemory_ListModelsOfUnknownPackageIsEmpty(t *testing.T) {
	m := NewMemory()
	members, err := m.ListModelsOfPackage(context.Background(), "nope")
	require.NoError(t, err)
	assert.Empty(t, members)
}
