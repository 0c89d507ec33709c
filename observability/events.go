package observability

// Event types for the three disjoint event families fired during workflow
// execution. Workflow-lifecycle and compensation events are emitted by a
// Smith; operation-lifecycle events are emitted by a Foundry.
const (
	// Workflow lifecycle
	EventWorkflowStarted   EventType = "workflow.started"
	EventWorkflowCompleted EventType = "workflow.completed"
	EventWorkflowFailed    EventType = "workflow.failed"

	// Operation lifecycle
	EventOperationStarted   EventType = "operation.started"
	EventOperationCompleted EventType = "operation.completed"
	EventOperationFailed    EventType = "operation.failed"

	// Compensation lifecycle
	EventCompensationTriggered           EventType = "compensation.triggered"
	EventCompensationRestoreStarted      EventType = "compensation.restore.started"
	EventCompensationRestoreCompleted    EventType = "compensation.restore.completed"
	EventCompensationRestoreFailed       EventType = "compensation.restore.failed"
	EventCompensationCompleted           EventType = "compensation.completed"

	// Conditional operation routing (foundry.NewConditional)
	EventConditionEvaluate EventType = "operation.condition.evaluate"
	EventConditionSelect   EventType = "operation.condition.select"

	// For-each operation fan-out (foundry.NewForEach)
	EventForEachStarted      EventType = "operation.foreach.started"
	EventForEachCompleted    EventType = "operation.foreach.completed"
	EventForEachChildStarted EventType = "operation.foreach.child.started"
	EventForEachChildDone    EventType = "operation.foreach.child.done"

	// Persistence middleware
	EventSnapshotSkip  EventType = "persistence.skip"
	EventSnapshotSave  EventType = "persistence.save"
	EventSnapshotLoad  EventType = "persistence.load"
	EventSnapshotPurge EventType = "persistence.delete"

	// Recovery coordinator
	EventRecoveryAttempt EventType = "recovery.attempt"
	EventRecoverySuccess EventType = "recovery.success"
	EventRecoveryRetry   EventType = "recovery.retry"
	EventRecoveryExhausted EventType = "recovery.exhausted"
)
