// Package store provides typed key-value access to the distributed store
// that backs model and package state, behind the narrow interface the
// cascade engine depends on. The key schema is fixed:
//
//	/model/{name}/state
//	/package/{name}/state
//	/package/{name}/models/{modelName}
package store

import (
	"context"

	"github.com/fleetform/cascade/internal/types"
)

// Adapter is the narrow, typed interface the cascade engine uses to read
// and write model/package state and to walk the membership relation. Reads
// of an absent key return the initial state for that entity; they never
// return an error for absence.
type Adapter interface {
	ReadModelState(ctx context.Context, name string) (types.ModelState, error)
	WriteModelState(ctx context.Context, name string, state types.ModelState) error
	ReadPackageState(ctx context.Context, name string) (types.PackageState, error)
	WritePackageState(ctx context.Context, name string, state types.PackageState) error

	// ListModelsOfPackage returns the member model names of a package. The
	// membership keyspace is externally authored and read-only from here.
	ListModelsOfPackage(ctx context.Context, packageName string) ([]string, error)

	// ReadParentPackage returns the package name that owns modelName, or
	// ok=false if the model has no recorded parent.
	ReadParentPackage(ctx context.Context, modelName string) (name string, ok bool, err error)
}

func modelStateKey(name string) string   { return "/model/" + name + "/state" }
func packageStateKey(name string) string { return "/package/" + name + "/state" }
func membersPrefix(packageName string) string {
	return "/package/" + packageName + "/models/"
}

// modelParentKey is a reverse index alongside the membership keyspace, kept
// under the same /package/.../models/... namespace's counterpart on the
// model side so the externally-authored membership tool can populate both
// directions without a scan. Not itself part of the forward schema in
// spec, needed because ReadParentPackage must not require scanning every
// package's membership set.
func modelParentKey(modelName string) string { return "/model/" + modelName + "/package" }

