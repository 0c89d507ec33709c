package persistence

import (
	"context"

	"github.com/workflowforge/forge/forgeconfig"
	"github.com/workflowforge/forge/foundry"
	"github.com/workflowforge/forge/observability"
)

// Middleware checkpoints a Foundry's progress after each step and restores
// + skips already-completed steps on resume. It participates as an ordinary
// foundry.Middleware; wrap it as the outermost entry in a Foundry's pipeline
// so a skip short-circuits before any inner middleware or the operation
// itself runs.
type Middleware struct {
	provider PersistenceProvider
	options  forgeconfig.PersistenceOptions
	observer observability.Observer

	restoredOnce map[string]bool // keyed by foundry_key+workflow_key, restore-once flag
	execCounters map[string]int  // fallback step counter when the advisory index is absent
}

// NewMiddleware builds a checkpointing Middleware backed by provider.
func NewMiddleware(provider PersistenceProvider, opts forgeconfig.PersistenceOptions) *Middleware {
	return &Middleware{
		provider:     provider,
		options:      opts,
		restoredOnce: make(map[string]bool),
		execCounters: make(map[string]int),
	}
}

func (m *Middleware) keys(fdy *foundry.Foundry) (foundryKey, workflowKey Key, cacheKey string) {
	instanceSeed := m.options.InstanceID
	if instanceSeed == "" {
		instanceSeed = fdy.ExecutionID
	}
	workflowSeed := m.options.WorkflowKey
	if workflowSeed == "" {
		workflowSeed = fdy.CurrentWorkflowID()
	}
	foundryKey = DeriveKey(instanceSeed)
	workflowKey = DeriveKey(workflowSeed)
	return foundryKey, workflowKey, foundryKey.String() + ":" + workflowKey.String()
}

func (m *Middleware) currentIndex(fdy *foundry.Foundry, cacheKey string) int {
	if v, ok := fdy.Properties.Get(foundry.KeyCurrentOperationIndex); ok {
		if idx, ok := v.(int); ok {
			return idx
		}
	}
	idx := m.execCounters[cacheKey]
	m.execCounters[cacheKey] = idx + 1
	return idx
}

// Execute implements foundry.Middleware.
func (m *Middleware) Execute(ctx context.Context, op foundry.Operation, fdy *foundry.Foundry, input any, next foundry.Next) (any, error) {
	foundryKey, workflowKey, cacheKey := m.keys(fdy)
	currentIndex := m.currentIndex(fdy, cacheKey)

	snapshot, found, err := m.provider.TryLoad(ctx, foundryKey, workflowKey)
	if err != nil {
		return nil, err
	}

	if found {
		if !m.restoredOnce[cacheKey] {
			fdy.Properties.Merge(snapshot.Properties)
			fdy.Properties.Set(foundry.KeyPersistenceRestored, true)
			m.restoredOnce[cacheKey] = true
		}

		if snapshot.NextOperationIndex > currentIndex {
			m.emit(ctx, fdy, observability.EventSnapshotSkip, map[string]any{
				"operation_id": op.ID(),
				"index":        currentIndex,
			})
			if prior, ok := fdy.Properties.Get(foundry.OperationOutputKey(currentIndex, op.Name())); ok {
				return prior, nil
			}
			return input, nil
		}
	}

	output, err := next(ctx, input)
	if err != nil {
		if m.options.PersistOnFailure() {
			m.save(ctx, fdy, foundryKey, workflowKey, currentIndex, len(fdy.Operations()))
		}
		return nil, err
	}

	if m.options.PersistOnOperationComplete() {
		m.save(ctx, fdy, foundryKey, workflowKey, currentIndex, len(fdy.Operations()))
	}
	return output, nil
}

func (m *Middleware) save(ctx context.Context, fdy *foundry.Foundry, foundryKey, workflowKey Key, currentIndex, totalOps int) {
	snap := Snapshot{
		FoundryKey:         foundryKey,
		WorkflowKey:        workflowKey,
		WorkflowName:       fdy.CurrentWorkflowName(),
		NextOperationIndex: currentIndex + 1,
		Properties:         fdy.Properties.Snapshot(),
	}
	if err := m.provider.Save(ctx, snap); err != nil {
		fdy.Logger.Error(ctx, "persistence: save failed", observability.F("error", err.Error()))
		return
	}
	m.emit(ctx, fdy, observability.EventSnapshotSave, map[string]any{
		"next_operation_index": snap.NextOperationIndex,
	})

	if snap.NextOperationIndex >= totalOps {
		if err := m.provider.Delete(ctx, foundryKey, workflowKey); err != nil {
			fdy.Logger.Error(ctx, "persistence: delete failed", observability.F("error", err.Error()))
			return
		}
		m.emit(ctx, fdy, observability.EventSnapshotPurge, nil)
	}
}

// DeleteOnCompensation removes the snapshot for fdy's current keys. A
// compensated run has no forward progress worth resuming, so it must not
// leave a resumable snapshot behind. Satisfies smith.CompensationHook;
// register it with Smith.AddCompensationHook alongside AddMiddleware so it
// runs automatically once a workflow's compensation pass finishes.
func (m *Middleware) DeleteOnCompensation(ctx context.Context, fdy *foundry.Foundry) error {
	foundryKey, workflowKey, cacheKey := m.keys(fdy)
	delete(m.restoredOnce, cacheKey)
	delete(m.execCounters, cacheKey)
	if err := m.provider.Delete(ctx, foundryKey, workflowKey); err != nil {
		return err
	}
	m.emit(ctx, fdy, observability.EventSnapshotPurge, map[string]any{"reason": "compensated"})
	return nil
}

func (m *Middleware) emit(ctx context.Context, fdy *foundry.Foundry, evType observability.EventType, data map[string]any) {
	if m.observer == nil {
		return
	}
	m.observer.OnEvent(ctx, observability.Event{
		Type:   evType,
		Level:  observability.LevelInfo,
		Source: fdy.Name,
		Data:   data,
	})
}

// WithObserver attaches an Observer used for persistence-specific event
// emission, independent of the Foundry's own operation-lifecycle observer.
func (m *Middleware) WithObserver(observer observability.Observer) *Middleware {
	m.observer = observer
	return m
}
