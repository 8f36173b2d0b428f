// Package cascade implements the single authority for state change: the
// engine that reads container observations and explicit state-change
// requests, evaluates the rule table, and persists the resulting model and
// package states, triggering remediation when a package becomes Error.
//
// Concurrency is serialized per resource name: a resourceLocks table hashes
// a model or package name to its own mutex so that, for a given resource,
// reads and writes appear strictly sequential, while different resources
// proceed in parallel. Within a single batch, the set of models to
// re-evaluate is read and evaluated concurrently via errgroup, bounded by
// the engine's worker count, but each resource's write still passes through
// its own lock so the causal ordering required by the concurrency model
// holds: a model write always precedes any package write that depends on
// it within the same cascade.
package cascade

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/fleetform/cascade/internal/errtax"
	"github.com/fleetform/cascade/internal/rules"
	"github.com/fleetform/cascade/internal/store"
	"github.com/fleetform/cascade/internal/types"
	"github.com/fleetform/cascade/pkg/logging"
)

// RemediationDispatcher is invoked by the engine exactly when a package's
// state transitions into Error. It must not block the cascade on remote
// completion; the dispatcher owns its own retry and dedup policy.
type RemediationDispatcher interface {
	Dispatch(ctx context.Context, packageName string)
}

// NormalizedObservation is a container observation after status
// normalization (see rules.NormalizeStatus), the unit the engine consumes.
type NormalizedObservation struct {
	ContainerID string
	ModelName   string
	Status      types.ContainerStatus
}

// Engine is the cascade engine (C3). It is safe for concurrent use.
type Engine struct {
	store       store.Adapter
	remediation RemediationDispatcher
	locks       *resourceLocks
	metrics     *Metrics
	workers     atomic.Int32
}

// Option configures an Engine.
type Option func(*Engine)

// WithWorkers bounds the fan-out concurrency used for the read-and-evaluate
// phase of a batch. Default is 8.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers.Store(int32(n))
		}
	}
}

// WithMetrics overrides the metrics sink. Default is cascade.GlobalMetrics().
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine constructs a cascade engine over adapter and dispatcher.
func NewEngine(adapter store.Adapter, dispatcher RemediationDispatcher, opts ...Option) *Engine {
	e := &Engine{
		store:       adapter,
		remediation: dispatcher,
		locks:       newResourceLocks(),
		metrics:     GlobalMetrics(),
	}
	e.workers.Store(8)
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetWorkers updates the fan-out concurrency bound used by subsequent
// batches. Safe to call concurrently with ProcessObservationBatch; it takes
// effect on the next call to errgroup.SetLimit, not on batches already in
// flight. Called by the configuration watcher when the worker count tunable
// changes.
func (e *Engine) SetWorkers(n int) {
	if n > 0 {
		e.workers.Store(int32(n))
	}
}

// ProcessObservationBatch implements spec §4.3's process_observation_batch:
// group by model, evaluate, write on change, then cascade to owning
// packages. Returns one transition result per distinct model named in the
// batch, in lexicographic order of model name.
func (e *Engine) ProcessObservationBatch(ctx context.Context, batch []NormalizedObservation) ([]types.TransitionResult, error) {
	grouped := groupByModel(batch)

	modelNames := make([]string, 0, len(grouped))
	for name := range grouped {
		modelNames = append(modelNames, name)
	}
	sort.Strings(modelNames)

	e.metrics.QueueDepth.Set(float64(len(modelNames)))
	defer e.metrics.QueueDepth.Set(0)

	results := make([]types.TransitionResult, len(modelNames))
	changedParents := make(map[string]struct{})
	var changedParentsMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(int(e.workers.Load()))

	for i, name := range modelNames {
		i, name := i, name
		statuses := grouped[name]
		g.Go(func() error {
			result, parent, hasParent, changed := e.evaluateAndWriteModel(gctx, name, statuses)
			results[i] = result
			if changed && hasParent {
				changedParentsMu.Lock()
				changedParents[parent] = struct{}{}
				changedParentsMu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}

	if err := e.cascadeToPackages(ctx, changedParents); err != nil {
		return results, err
	}

	return results, nil
}

// ProcessStateChangeRequest implements spec §4.3's
// process_state_change_request: a direct write targeting a model or
// package, followed by the same upward cascade as an observation.
func (e *Engine) ProcessStateChangeRequest(ctx context.Context, req types.StateChangeRequest) types.TransitionResult {
	result := types.TransitionResult{TransitionID: req.TransitionID}
	if result.TransitionID == "" {
		result.TransitionID = uuid.NewString()
	}

	switch req.ResourceKind {
	case types.ResourceModel:
		e.applyModelStateChange(ctx, req, &result)
	case types.ResourcePackage:
		e.applyPackageStateChange(ctx, req, &result)
	default:
		result.Outcome = types.OutcomeInvalidTransition
		result.ErrorDetail = "unrecognized resource kind"
		e.metrics.InvalidRequest.Inc()
	}
	return result
}

func (e *Engine) applyModelStateChange(ctx context.Context, req types.StateChangeRequest, result *types.TransitionResult) {
	target, ok := types.ValidModelStates[req.TargetState]
	if !ok {
		result.Outcome = types.OutcomeInvalidTransition
		result.ErrorDetail = errtax.New(errtax.InvalidTransition, "unrecognized model state "+req.TargetState).Error()
		e.metrics.InvalidRequest.Inc()
		return
	}

	parent, hasParent, err := e.store.ReadParentPackage(ctx, req.ResourceName)
	if err != nil {
		e.metrics.StoreErrors.WithLabelValues("read_parent").Inc()
		result.Outcome = types.OutcomeStorageError
		result.ErrorDetail = errtax.SanitizeMessage(err)
		return
	}
	if !hasParent {
		result.Outcome = types.OutcomeUnknownResource
		result.ErrorDetail = errtax.New(errtax.UnknownResource, "model "+req.ResourceName+" has no membership entry").Error()
		return
	}

	unlock := e.locks.lock(modelLockKey(req.ResourceName))
	current, err := e.store.ReadModelState(ctx, req.ResourceName)
	if err != nil {
		unlock()
		e.metrics.StoreErrors.WithLabelValues("read_model").Inc()
		result.Outcome = types.OutcomeStorageError
		result.ErrorDetail = errtax.SanitizeMessage(err)
		return
	}

	changed := current != target
	if changed {
		if err := e.store.WriteModelState(ctx, req.ResourceName, target); err != nil {
			unlock()
			e.metrics.StoreErrors.WithLabelValues("write_model").Inc()
			result.Outcome = types.OutcomeStorageError
			result.ErrorDetail = errtax.SanitizeMessage(err)
			return
		}
		e.metrics.ModelWrites.WithLabelValues("model").Inc()
	} else {
		e.metrics.Unchanged.WithLabelValues("model").Inc()
	}
	unlock()

	if !changed {
		result.Outcome = types.OutcomeUnchanged
		return
	}
	result.Outcome = types.OutcomeSuccess

	if err := e.cascadeToPackages(ctx, map[string]struct{}{parent: {}}); err != nil {
		logging.Error("Cascade", err, "package cascade failed after direct model change %s", req.ResourceName)
	}
}

func (e *Engine) applyPackageStateChange(ctx context.Context, req types.StateChangeRequest, result *types.TransitionResult) {
	target, ok := types.ValidPackageStates[req.TargetState]
	if !ok {
		result.Outcome = types.OutcomeInvalidTransition
		result.ErrorDetail = errtax.New(errtax.InvalidTransition, "unrecognized package state "+req.TargetState).Error()
		e.metrics.InvalidRequest.Inc()
		return
	}

	members, err := e.store.ListModelsOfPackage(ctx, req.ResourceName)
	if err != nil {
		e.metrics.StoreErrors.WithLabelValues("list_members").Inc()
		result.Outcome = types.OutcomeStorageError
		result.ErrorDetail = errtax.SanitizeMessage(err)
		return
	}
	if len(members) == 0 {
		result.Outcome = types.OutcomeUnknownResource
		result.ErrorDetail = errtax.New(errtax.UnknownResource, "package "+req.ResourceName+" has no membership entry").Error()
		return
	}

	unlock := e.locks.lock(packageLockKey(req.ResourceName))
	defer unlock()

	current, err := e.store.ReadPackageState(ctx, req.ResourceName)
	if err != nil {
		e.metrics.StoreErrors.WithLabelValues("read_package").Inc()
		result.Outcome = types.OutcomeStorageError
		result.ErrorDetail = errtax.SanitizeMessage(err)
		return
	}

	if current == target {
		e.metrics.Unchanged.WithLabelValues("package").Inc()
		result.Outcome = types.OutcomeUnchanged
		return
	}

	if err := e.store.WritePackageState(ctx, req.ResourceName, target); err != nil {
		e.metrics.StoreErrors.WithLabelValues("write_package").Inc()
		result.Outcome = types.OutcomeStorageError
		result.ErrorDetail = errtax.SanitizeMessage(err)
		return
	}
	e.metrics.PackageWrites.WithLabelValues(string(target)).Inc()
	result.Outcome = types.OutcomeSuccess

	if target == types.PackageError && e.remediation != nil {
		e.remediation.Dispatch(ctx, req.ResourceName)
	}
}

// evaluateAndWriteModel performs the locked read-evaluate-write for a
// single model and reports whether a write occurred and, if so, its parent
// package (if registered).
func (e *Engine) evaluateAndWriteModel(ctx context.Context, name string, byContainer map[string]types.ContainerStatus) (result types.TransitionResult, parent string, hasParent bool, changed bool) {
	result.TransitionID = uuid.NewString()

	statuses := make([]types.ContainerStatus, 0, len(byContainer))
	for _, s := range byContainer {
		statuses = append(statuses, s)
	}
	newState := rules.ModelState(statuses)

	unlock := e.locks.lock(modelLockKey(name))
	defer unlock()

	current, err := e.store.ReadModelState(ctx, name)
	if err != nil {
		e.metrics.StoreErrors.WithLabelValues("read_model").Inc()
		logging.Warn("Cascade", "read model state for %s failed, treating as absent: %v", name, err)
		current = types.ModelCreated
	}

	if current == newState {
		e.metrics.Unchanged.WithLabelValues("model").Inc()
		result.Outcome = types.OutcomeUnchanged
		result.Message = "model " + name + " already " + string(newState)
		return result, "", false, false
	}

	if err := e.store.WriteModelState(ctx, name, newState); err != nil {
		e.metrics.StoreErrors.WithLabelValues("write_model").Inc()
		result.Outcome = types.OutcomeStorageError
		result.ErrorDetail = errtax.SanitizeMessage(errtax.Wrap(errtax.StoreUnavailable, "write model state", err))
		return result, "", false, false
	}
	e.metrics.ModelWrites.WithLabelValues("model").Inc()
	result.Outcome = types.OutcomeSuccess
	result.Message = "model " + name + " transitioned to " + string(newState)

	pkgName, ok, err := e.store.ReadParentPackage(ctx, name)
	if err != nil {
		e.metrics.StoreErrors.WithLabelValues("read_parent").Inc()
		logging.Warn("Cascade", "read parent package for %s failed: %v", name, err)
		return result, "", false, true
	}
	return result, pkgName, ok, true
}

// cascadeToPackages recomputes and, if needed, writes the aggregated state
// for each package named in parents, dispatching remediation on a
// transition into Error.
func (e *Engine) cascadeToPackages(ctx context.Context, parents map[string]struct{}) error {
	names := make([]string, 0, len(parents))
	for name := range parents {
		names = append(names, name)
	}
	sort.Strings(names)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(int(e.workers.Load()))
	for _, name := range names {
		name := name
		g.Go(func() error {
			e.evaluateAndWritePackage(gctx, name)
			return nil
		})
	}
	return g.Wait()
}

func (e *Engine) evaluateAndWritePackage(ctx context.Context, name string) {
	unlock := e.locks.lock(packageLockKey(name))
	defer unlock()

	members, err := e.store.ListModelsOfPackage(ctx, name)
	if err != nil {
		e.metrics.StoreErrors.WithLabelValues("list_members").Inc()
		logging.Warn("Cascade", "list members of package %s failed: %v", name, err)
		return
	}

	states := make([]types.ModelState, 0, len(members))
	for _, member := range members {
		s, err := e.store.ReadModelState(ctx, member)
		if err != nil {
			e.metrics.StoreErrors.WithLabelValues("read_model").Inc()
			logging.Warn("Cascade", "read model state for %s (member of %s) failed, treating as absent: %v", member, name, err)
			s = types.ModelCreated
		}
		states = append(states, s)
	}

	newState := rules.PackageState(states)

	current, err := e.store.ReadPackageState(ctx, name)
	if err != nil {
		e.metrics.StoreErrors.WithLabelValues("read_package").Inc()
		logging.Warn("Cascade", "read package state for %s failed, treating as absent: %v", name, err)
		current = types.PackageIdle
	}

	if current == newState {
		e.metrics.Unchanged.WithLabelValues("package").Inc()
		return
	}

	if err := e.store.WritePackageState(ctx, name, newState); err != nil {
		e.metrics.StoreErrors.WithLabelValues("write_package").Inc()
		logging.Error("Cascade", err, "write package state for %s failed, abandoning cascade for this branch", name)
		return
	}
	e.metrics.PackageWrites.WithLabelValues(string(newState)).Inc()

	if newState == types.PackageError && e.remediation != nil {
		e.remediation.Dispatch(ctx, name)
	}
}

// groupByModel groups observations by model name, deduplicating to
// (container id -> status) within each group and keeping the latest
// observation for a given container when duplicates appear in the batch.
func groupByModel(batch []NormalizedObservation) map[string]map[string]types.ContainerStatus {
	grouped := make(map[string]map[string]types.ContainerStatus)
	for _, obs := range batch {
		byContainer, ok := grouped[obs.ModelName]
		if !ok {
			byContainer = make(map[string]types.ContainerStatus)
			grouped[obs.ModelName] = byContainer
		}
		byContainer[obs.ContainerID] = obs.Status
	}
	return grouped
}
