// Package forgeconfig defines the execution options recognized by the
// execution core. Configuration is plain JSON-tagged structs used only
// during initialization, then handed to domain constructors
// (smith.CreateSmith, foundry.CreateFoundry). Observer/logger selection is
// done by string name resolved against a registry.
package forgeconfig

import "time"

// SmithOptions controls workflow-level execution behavior.
type SmithOptions struct {
	// MaxConcurrentWorkflows is validated by smith.CreateSmith (it must be
	// >= 0; zero means unlimited). ForgeAsync does not enforce it: concurrent
	// ForgeAsync calls on one Smith are not limited by this value.
	MaxConcurrentWorkflows int `json:"max_concurrent_workflows"`

	// ContinueOnErrorNil controls whether a per-operation failure aborts the
	// run (default) or is recorded and traversal continues. Use the
	// ContinueOnError accessor; nil means the false default. The default is
	// false so a plain bool would do, but the pointer keeps JSON
	// round-tripping explicit about "unset" vs "explicitly false" for
	// layered config merges.
	ContinueOnErrorNil *bool `json:"continue_on_error"`

	// FailFastCompensationNil: stop compensating at the first failed restore
	// when true; attempt all restores when false (default).
	FailFastCompensationNil *bool `json:"fail_fast_compensation"`

	// ThrowOnCompensationErrorNil: surface compensation failures to the
	// caller when true; log and swallow when false (default).
	ThrowOnCompensationErrorNil *bool `json:"throw_on_compensation_error"`

	// EnableOutputChainingNil: chain previous operation output into the next
	// operation's input when true; pass nil input when false (default).
	EnableOutputChainingNil *bool `json:"enable_output_chaining"`

	// DefaultOperationTimeout bounds each step's forward call (including its
	// middleware chain). Compensation calls are not bounded by it. Zero
	// disables it.
	DefaultOperationTimeout time.Duration `json:"default_operation_timeout"`

	// WorkflowTimeout bounds an entire ForgeAsync call. Zero disables it.
	WorkflowTimeout time.Duration `json:"workflow_timeout"`

	// Observer names the registered observability.Observer used for
	// workflow/compensation event emission ("noop", "slog", ...).
	Observer string `json:"observer"`
}

func (c *SmithOptions) ContinueOnError() bool            { return boolOr(c.ContinueOnErrorNil, false) }
func (c *SmithOptions) FailFastCompensation() bool       { return boolOr(c.FailFastCompensationNil, false) }
func (c *SmithOptions) ThrowOnCompensationError() bool   { return boolOr(c.ThrowOnCompensationErrorNil, false) }
func (c *SmithOptions) EnableOutputChaining() bool       { return boolOr(c.EnableOutputChainingNil, false) }

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

// DefaultSmithOptions returns the conservative defaults: continue-on-error
// off, attempt-all-compensations, swallow-compensation-errors, no output
// chaining, no timeouts, "slog" observer.
func DefaultSmithOptions() SmithOptions {
	return SmithOptions{
		MaxConcurrentWorkflows: 0,
		Observer:               "slog",
	}
}

// Merge applies non-zero fields from source into c, in place: strings merge
// if non-empty, durations merge if positive, bool pointers merge if
// non-nil.
func (c *SmithOptions) Merge(source *SmithOptions) {
	if source.MaxConcurrentWorkflows > 0 {
		c.MaxConcurrentWorkflows = source.MaxConcurrentWorkflows
	}
	if source.ContinueOnErrorNil != nil {
		c.ContinueOnErrorNil = source.ContinueOnErrorNil
	}
	if source.FailFastCompensationNil != nil {
		c.FailFastCompensationNil = source.FailFastCompensationNil
	}
	if source.ThrowOnCompensationErrorNil != nil {
		c.ThrowOnCompensationErrorNil = source.ThrowOnCompensationErrorNil
	}
	if source.EnableOutputChainingNil != nil {
		c.EnableOutputChainingNil = source.EnableOutputChainingNil
	}
	if source.DefaultOperationTimeout > 0 {
		c.DefaultOperationTimeout = source.DefaultOperationTimeout
	}
	if source.WorkflowTimeout > 0 {
		c.WorkflowTimeout = source.WorkflowTimeout
	}
	if source.Observer != "" {
		c.Observer = source.Observer
	}
}

// FoundryOptions controls per-Foundry behavior not owned by SmithOptions.
type FoundryOptions struct {
	// AutoDisposeOperations disposes only operations the Foundry itself came
	// to own (e.g. dynamically constructed for-each children), never
	// caller-supplied operation references.
	AutoDisposeOperations bool `json:"auto_dispose_operations"`

	// Observer names the registered observability.Observer used for
	// operation-lifecycle event emission.
	Observer string `json:"observer"`
}

// DefaultFoundryOptions mirrors DefaultSmithOptions' observer default.
func DefaultFoundryOptions() FoundryOptions {
	return FoundryOptions{
		AutoDisposeOperations: true,
		Observer:              "slog",
	}
}

func (c *FoundryOptions) Merge(source *FoundryOptions) {
	if source.AutoDisposeOperations {
		c.AutoDisposeOperations = source.AutoDisposeOperations
	}
	if source.Observer != "" {
		c.Observer = source.Observer
	}
}

// ForEachOptions configures a for-each operation.
type ForEachOptions struct {
	// MaxConcurrency caps how many children run simultaneously. Zero means
	// unbounded (auto-detected as len(children): no point spinning up more
	// workers than items).
	MaxConcurrency int `json:"max_concurrency"`

	// Timeout bounds the entire fan-out. Zero disables it.
	Timeout time.Duration `json:"timeout"`

	// DataStrategy selects how input is distributed to children: "shared",
	// "split", or "none".
	DataStrategy DataStrategy `json:"data_strategy"`

	// ContinueOnErrorNil: when true, a failing child does not cancel its
	// siblings; when false (default), remaining children are cancelled on
	// the first failure.
	ContinueOnErrorNil *bool `json:"continue_on_error"`
}

func (c *ForEachOptions) ContinueOnError() bool { return boolOr(c.ContinueOnErrorNil, false) }

// DataStrategy is the for-each input distribution strategy.
type DataStrategy string

const (
	DataShared DataStrategy = "shared"
	DataSplit  DataStrategy = "split"
	DataNone   DataStrategy = "none"
)

// DefaultForEachOptions returns unbounded concurrency, no timeout, shared
// input — the semantics of the Parallel(ops...) convenience builder.
func DefaultForEachOptions() ForEachOptions {
	return ForEachOptions{
		MaxConcurrency: 0,
		DataStrategy:   DataShared,
	}
}
