package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/fleetform/cascade/internal/types"
)

// Memory is an in-memory Adapter backed by a single map guarded by one
// RWMutex, used for tests and for local/dev runs with store.backend set to
// "memory". It honors the same absent-key contract as the Valkey-backed
// adapter.
type Memory struct {
	mu      sync.RWMutex
	kv      map[string]string
	members map[string]map[string]struct{} // packageName -> set of model names
	parent  map[string]string              // modelName -> packageName
}

// NewMemory constructs an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		kv:      make(map[string]string),
		members: make(map[string]map[string]struct{}),
		parent:  make(map[string]string),
	}
}

// SeedMembership registers packageName as the parent of each of modelNames,
// for use by tests and local dev setups. It is not part of the Adapter
// interface because membership authoring is out of scope for the engine.
func (m *Memory) SeedMembership(packageName string, modelNames ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	set, ok := m.members[packageName]
	if !ok {
		set = make(map[string]struct{})
		m.members[packageName] = set
	}
	for _, mn := range modelNames {
		set[mn] = struct{}{}
		m.parent[mn] = packageName
	}
}

func (m *Memory) ReadModelState(_ context.Context, name string) (types.ModelState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.kv[modelStateKey(name)]
	if !ok {
		return types.ModelCreated, nil
	}
	return types.ModelState(v), nil
}

func (m *Memory) WriteModelState(_ context.Context, name string, state types.ModelState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.kv[modelStateKey(name)] = string(state)
	return nil
}

func (m *Memory) ReadPackageState(_ context.Context, name string) (types.PackageState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.kv[packageStateKey(name)]
	if !ok {
		return types.PackageIdle, nil
	}
	return types.PackageState(v), nil
}

func (m *Memory) WritePackageState(_ context.Context, name string, state types.PackageState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.kv[packageStateKey(name)] = string(state)
	return nil
}

func (m *Memory) ListModelsOfPackage(_ context.Context, packageName string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	set := m.members[packageName]
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

func (m *Memory) ReadParentPackage(_ context.Context, modelName string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	name, ok := m.parent[modelName]
	return name, ok, nil
}

var _ Adapter = (*Memory)(nil)

// keysWithPrefix is a small helper used by tests inspecting raw state.
func (m *Memory) keysWithPrefix(prefix string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []string
	for k := range m.kv {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// KeysForTest returns every raw key currently stored, for use by tests in
// other packages that need to assert "zero additional writes" without
// depending on the key schema directly.
func (m *Memory) KeysForTest() []string {
	return m.keysWithPrefix("")
}

// RawGetForTest returns the raw value stored at key, for use by tests.
func (m *Memory) RawGetForTest(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.kv[key]
	return v, ok
}
