// Package rules implements the pure, total rule table that maps container
// observations to model state and model state to package state. Every
// function here is side-effect-free and never touches context.Context:
// evaluation never suspends.
package rules

import (
	"strings"

	"github.com/fleetform/cascade/internal/types"
)

// NormalizeStatus maps a raw runtime-reported status string to the
// normalized ContainerStatus enum, case-insensitively. An unrecognized
// string fails closed to Dead, since an unknown status is treated as lost
// information rather than assumed healthy.
func NormalizeStatus(raw string) types.ContainerStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "created":
		return types.ContainerCreated
	case "running":
		return types.ContainerRunning
	case "stopped":
		return types.ContainerStopped
	case "exited":
		return types.ContainerExited
	case "dead":
		return types.ContainerDead
	case "paused":
		return types.ContainerPaused
	default:
		return types.ContainerDead
	}
}

// ModelState computes a model's aggregated state from its containers'
// normalized statuses. First match wins:
//
//  1. empty -> Created
//  2. any Dead -> Dead
//  3. all Paused -> Paused
//  4. all Exited -> Exited
//  5. otherwise -> Running
func ModelState(statuses []types.ContainerStatus) types.ModelState {
	if len(statuses) == 0 {
		return types.ModelCreated
	}

	allPaused := true
	allExited := true
	for _, s := range statuses {
		if s == types.ContainerDead {
			return types.ModelDead
		}
		if s != types.ContainerPaused {
			allPaused = false
		}
		if s != types.ContainerExited {
			allExited = false
		}
	}

	switch {
	case allPaused:
		return types.ModelPaused
	case allExited:
		return types.ModelExited
	default:
		return types.ModelRunning
	}
}

// PackageState computes a package's aggregated state from its models'
// states. First match wins:
//
//  1. empty -> Idle
//  2. all Dead -> Error
//  3. some (not all) Dead -> Degraded
//  4. all Paused -> Paused
//  5. all Exited -> Exited
//  6. otherwise -> Running
func PackageState(states []types.ModelState) types.PackageState {
	if len(states) == 0 {
		return types.PackageIdle
	}

	deadCount := 0
	allPaused := true
	allExited := true
	for _, s := range states {
		if s == types.ModelDead {
			deadCount++
		}
		if s != types.ModelPaused {
			allPaused = false
		}
		if s != types.ModelExited {
			allExited = false
		}
	}

	switch {
	case deadCount == len(states):
		return types.PackageError
	case deadCount > 0:
		return types.PackageDegraded
	case allPaused:
		return types.PackagePaused
	case allExited:
		return types.PackageExited
	default:
		return types.PackageRunning
	}
}
