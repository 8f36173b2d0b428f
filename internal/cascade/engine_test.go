package cascade

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetform/cascade/internal/rules"
	"github.com/fleetform/cascade/internal/store"
	"github.com/fleetform/cascade/internal/types"
)

type recordingDispatcher struct {
	mu       sync.Mutex
	packages []string
}

func (r *recordingDispatcher) Dispatch(_ context.Context, packageName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.packages = append(r.packages, packageName)
}

func (r *recordingDispatcher) calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.packages...)
}

func newTestEngine(t *testing.T) (*Engine, *store.Memory, *recordingDispatcher) {
	t.Helper()
	mem := store.NewMemory()
	dispatcher := &recordingDispatcher{}
	engine := NewEngine(mem, dispatcher, WithMetrics(NewMetrics(nil)))
	return engine, mem, dispatcher
}

func obs(containerID, model string, status types.ContainerStatus) NormalizedObservation {
	return NormalizedObservation{ContainerID: containerID, ModelName: model, Status: status}
}

// Scenario 1: two running models converge their package to Running, no remediation.
func TestScenario1_TwoRunningModels(t *testing.T) {
	engine, mem, dispatcher := newTestEngine(t)
	mem.SeedMembership("p1", "m1", "m2")
	ctx := context.Background()

	batch := []NormalizedObservation{
		obs("c1", "m1", types.ContainerRunning),
		obs("c2", "m1", types.ContainerRunning),
		obs("c3", "m2", types.ContainerRunning),
	}

	results, err := engine.ProcessObservationBatch(ctx, batch)
	require.NoError(t, err)
	assert.Len(t, results, 2)

	m1, _ := mem.ReadModelState(ctx, "m1")
	m2, _ := mem.ReadModelState(ctx, "m2")
	p1, _ := mem.ReadPackageState(ctx, "p1")
	assert.Equal(t, types.ModelRunning, m1)
	assert.Equal(t, types.ModelRunning, m2)
	assert.Equal(t, types.PackageRunning, p1)
	assert.Empty(t, dispatcher.calls())
}

// Scenario 2: c1 goes dead -> m1 Dead, package Degraded, no remediation.
func TestScenario2_PartialDeathIsDegraded(t *testing.T) {
	engine, mem, dispatcher := newTestEngine(t)
	mem.SeedMembership("p1", "m1", "m2")
	ctx := context.Background()

	_, err := engine.ProcessObservationBatch(ctx, []NormalizedObservation{
		obs("c1", "m1", types.ContainerRunning),
		obs("c2", "m1", types.ContainerRunning),
		obs("c3", "m2", types.ContainerRunning),
	})
	require.NoError(t, err)

	_, err = engine.ProcessObservationBatch(ctx, []NormalizedObservation{
		obs("c1", "m1", types.ContainerDead),
		obs("c2", "m1", types.ContainerRunning),
	})
	require.NoError(t, err)

	m1, _ := mem.ReadModelState(ctx, "m1")
	m2, _ := mem.ReadModelState(ctx, "m2")
	p1, _ := mem.ReadPackageState(ctx, "p1")
	assert.Equal(t, types.ModelDead, m1)
	assert.Equal(t, types.ModelRunning, m2)
	assert.Equal(t, types.PackageDegraded, p1)
	assert.Empty(t, dispatcher.calls())
}

// Scenario 3/4: full death triggers exactly one remediation call, replay is a no-op.
func TestScenario3And4_FullDeathTriggersRemediationOnceThenIdempotent(t *testing.T) {
	engine, mem, dispatcher := newTestEngine(t)
	mem.SeedMembership("p1", "m1", "m2")
	ctx := context.Background()

	_, err := engine.ProcessObservationBatch(ctx, []NormalizedObservation{
		obs("c1", "m1", types.ContainerRunning),
		obs("c2", "m1", types.ContainerRunning),
		obs("c3", "m2", types.ContainerRunning),
	})
	require.NoError(t, err)

	_, err = engine.ProcessObservationBatch(ctx, []NormalizedObservation{
		obs("c1", "m1", types.ContainerDead),
	})
	require.NoError(t, err)

	finalBatch := []NormalizedObservation{obs("c3", "m2", types.ContainerDead)}
	_, err = engine.ProcessObservationBatch(ctx, finalBatch)
	require.NoError(t, err)

	m2, _ := mem.ReadModelState(ctx, "m2")
	p1, _ := mem.ReadPackageState(ctx, "p1")
	assert.Equal(t, types.ModelDead, m2)
	assert.Equal(t, types.PackageError, p1)
	assert.Equal(t, []string{"p1"}, dispatcher.calls())

	// Replay: zero additional writes, zero additional remediation calls.
	before := snapshotKeys(mem)
	_, err = engine.ProcessObservationBatch(ctx, finalBatch)
	require.NoError(t, err)
	after := snapshotKeys(mem)

	assert.Equal(t, before, after)
	assert.Equal(t, []string{"p1"}, dispatcher.calls())
}

// Scenario 5: all-paused models converge package to Paused.
func TestScenario5_AllPausedConvergesToPaused(t *testing.T) {
	engine, mem, _ := newTestEngine(t)
	mem.SeedMembership("p2", "m3", "m4", "m5")
	ctx := context.Background()

	_, err := engine.ProcessObservationBatch(ctx, []NormalizedObservation{
		obs("c1", "m3", types.ContainerPaused),
		obs("c2", "m4", types.ContainerPaused),
		obs("c3", "m5", types.ContainerPaused),
	})
	require.NoError(t, err)

	for _, m := range []string{"m3", "m4", "m5"} {
		s, _ := mem.ReadModelState(ctx, m)
		assert.Equal(t, types.ModelPaused, s)
	}
	p2, _ := mem.ReadPackageState(ctx, "p2")
	assert.Equal(t, types.PackagePaused, p2)
}

// Scenario 6: single-model, all-exited package converges to Exited.
func TestScenario6_AllExitedConvergesToExited(t *testing.T) {
	engine, mem, _ := newTestEngine(t)
	mem.SeedMembership("p3", "m6")
	ctx := context.Background()

	_, err := engine.ProcessObservationBatch(ctx, []NormalizedObservation{
		obs("c1", "m6", types.ContainerExited),
		obs("c2", "m6", types.ContainerExited),
	})
	require.NoError(t, err)

	m6, _ := mem.ReadModelState(ctx, "m6")
	p3, _ := mem.ReadPackageState(ctx, "p3")
	assert.Equal(t, types.ModelExited, m6)
	assert.Equal(t, types.PackageExited, p3)
}

func TestProcessObservationBatch_Empty(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	results, err := engine.ProcessObservationBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestProcessObservationBatch_ModelWithoutPackage(t *testing.T) {
	engine, mem, dispatcher := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.ProcessObservationBatch(ctx, []NormalizedObservation{
		obs("c1", "orphan", types.ContainerRunning),
	})
	require.NoError(t, err)

	s, _ := mem.ReadModelState(ctx, "orphan")
	assert.Equal(t, types.ModelRunning, s)
	assert.Empty(t, dispatcher.calls())
}

// P6 (Convergence): splitting one batch into several sequential batches
// that collectively report each container yields the same terminal states.
func TestConvergence_SplitBatchesMatchSingleBatch(t *testing.T) {
	ctx := context.Background()

	oneShot, mem1, _ := newTestEngine(t)
	mem1.SeedMembership("p1", "m1", "m2")
	_, err := oneShot.ProcessObservationBatch(ctx, []NormalizedObservation{
		obs("c1", "m1", types.ContainerRunning),
		obs("c2", "m1", types.ContainerDead),
		obs("c3", "m2", types.ContainerPaused),
	})
	require.NoError(t, err)

	split, mem2, _ := newTestEngine(t)
	mem2.SeedMembership("p1", "m1", "m2")
	_, err = split.ProcessObservationBatch(ctx, []NormalizedObservation{obs("c1", "m1", types.ContainerRunning)})
	require.NoError(t, err)
	_, err = split.ProcessObservationBatch(ctx, []NormalizedObservation{obs("c3", "m2", types.ContainerPaused)})
	require.NoError(t, err)
	_, err = split.ProcessObservationBatch(ctx, []NormalizedObservation{obs("c2", "m1", types.ContainerDead)})
	require.NoError(t, err)

	m1a, _ := mem1.ReadModelState(ctx, "m1")
	m1b, _ := mem2.ReadModelState(ctx, "m1")
	p1a, _ := mem1.ReadPackageState(ctx, "p1")
	p1b, _ := mem2.ReadPackageState(ctx, "p1")

	assert.Equal(t, m1a, m1b)
	assert.Equal(t, p1a, p1b)
}

func TestProcessStateChangeRequest_InvalidTransition(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	result := engine.ProcessStateChangeRequest(context.Background(), types.StateChangeRequest{
		ResourceKind: types.ResourceModel,
		ResourceName: "m1",
		TargetState:  "NotAState",
	})
	assert.Equal(t, types.OutcomeInvalidTransition, result.Outcome)
}

func TestProcessStateChangeRequest_UnknownResource(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	result := engine.ProcessStateChangeRequest(context.Background(), types.StateChangeRequest{
		ResourceKind: types.ResourceModel,
		ResourceName: "ghost",
		TargetState:  string(types.ModelRunning),
	})
	assert.Equal(t, types.OutcomeUnknownResource, result.Outcome)
}

func TestProcessStateChangeRequest_DirectPackageErrorTriggersRemediation(t *testing.T) {
	engine, _, dispatcher := newTestEngine(t)
	mem := store.NewMemory()
	mem.SeedMembership("p9", "m9")
	engine = NewEngine(mem, dispatcher, WithMetrics(NewMetrics(nil)))

	result := engine.ProcessStateChangeRequest(context.Background(), types.StateChangeRequest{
		ResourceKind: types.ResourcePackage,
		ResourceName: "p9",
		TargetState:  string(types.PackageError),
		TransitionID: "t-1",
	})
	assert.Equal(t, types.OutcomeSuccess, result.Outcome)
	assert.Equal(t, "t-1", result.TransitionID)
	assert.Equal(t, []string{"p9"}, dispatcher.calls())

	// Replaying the identical request is a no-op and triggers no further dispatch.
	result2 := engine.ProcessStateChangeRequest(context.Background(), types.StateChangeRequest{
		ResourceKind: types.ResourcePackage,
		ResourceName: "p9",
		TargetState:  string(types.PackageError),
	})
	assert.Equal(t, types.OutcomeUnchanged, result2.Outcome)
	assert.Equal(t, []string{"p9"}, dispatcher.calls())
}

func snapshotKeys(mem *store.Memory) map[string]string {
	out := make(map[string]string)
	for _, k := range mem.KeysForTest() {
		v, _ := mem.RawGetForTest(k)
		out[k] = v
	}
	return out
}

// sanity check that an unrecognized-but-present single container status
// evaluates to a Dead model (boundary: unrecognized status normalizes to
// Dead upstream of the engine, never inside it).
func TestEngineTrustsPrenormalizedStatus(t *testing.T) {
	assert.Equal(t, types.ModelDead, rules.ModelState([]types.ContainerStatus{rules.NormalizeStatus("bogus")}))
}
