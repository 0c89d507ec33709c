package forgeconfig

import "time"

// PersistenceOptions configures the checkpointing middleware.
type PersistenceOptions struct {
	// Provider names a persistence.PersistenceProvider registered with
	// memstore.Register ("memory" by default). persistence.NewMiddleware
	// does not read it; the caller resolves the name (e.g. memstore.Get) and
	// passes the provider in.
	Provider string `json:"provider"`

	PersistOnOperationCompleteNil *bool `json:"persist_on_operation_complete"`
	PersistOnWorkflowCompleteNil  *bool `json:"persist_on_workflow_complete"`
	PersistOnFailureNil           *bool `json:"persist_on_failure"`

	// MaxVersions is advisory for providers that retain historical copies.
	MaxVersions int `json:"max_versions"`

	// InstanceID, when set, seeds the foundry_key derivation
	// (persistence.DeriveKey) instead of the Foundry's ExecutionID.
	InstanceID string `json:"instance_id"`

	// WorkflowKey, when set, seeds the workflow_key derivation instead of
	// the Workflow's ID.
	WorkflowKey string `json:"workflow_key"`
}

func (c *PersistenceOptions) PersistOnOperationComplete() bool {
	return boolOr(c.PersistOnOperationCompleteNil, true)
}
func (c *PersistenceOptions) PersistOnWorkflowComplete() bool {
	return boolOr(c.PersistOnWorkflowCompleteNil, true)
}
func (c *PersistenceOptions) PersistOnFailure() bool {
	return boolOr(c.PersistOnFailureNil, false)
}

// DefaultPersistenceOptions defaults to the in-memory "memory" provider.
func DefaultPersistenceOptions() PersistenceOptions {
	return PersistenceOptions{
		Provider:    "memory",
		MaxVersions: 1,
	}
}

func (c *PersistenceOptions) Merge(source *PersistenceOptions) {
	if source.Provider != "" {
		c.Provider = source.Provider
	}
	if source.PersistOnOperationCompleteNil != nil {
		c.PersistOnOperationCompleteNil = source.PersistOnOperationCompleteNil
	}
	if source.PersistOnWorkflowCompleteNil != nil {
		c.PersistOnWorkflowCompleteNil = source.PersistOnWorkflowCompleteNil
	}
	if source.PersistOnFailureNil != nil {
		c.PersistOnFailureNil = source.PersistOnFailureNil
	}
	if source.MaxVersions > 0 {
		c.MaxVersions = source.MaxVersions
	}
	if source.InstanceID != "" {
		c.InstanceID = source.InstanceID
	}
	if source.WorkflowKey != "" {
		c.WorkflowKey = source.WorkflowKey
	}
}

// RecoveryPolicy configures the RecoveryCoordinator's bounded-retry loop.
type RecoveryPolicy struct {
	MaxAttempts         int           `json:"max_attempts"`
	BaseDelay           time.Duration `json:"base_delay"`
	ExponentialBackoff  bool          `json:"exponential_backoff"`
	MaxDelay            time.Duration `json:"max_delay"`
}

// DefaultRecoveryPolicy returns a moderate exponential-backoff policy.
func DefaultRecoveryPolicy() RecoveryPolicy {
	return RecoveryPolicy{
		MaxAttempts:        5,
		BaseDelay:          50 * time.Millisecond,
		ExponentialBackoff: true,
		MaxDelay:           1 * time.Second,
	}
}

func (c *RecoveryPolicy) Merge(source *RecoveryPolicy) {
	if source.MaxAttempts > 0 {
		c.MaxAttempts = source.MaxAttempts
	}
	if source.BaseDelay > 0 {
		c.BaseDelay = source.BaseDelay
	}
	if source.ExponentialBackoff {
		c.ExponentialBackoff = source.ExponentialBackoff
	}
	if source.MaxDelay > 0 {
		c.MaxDelay = source.MaxDelay
	}
}
