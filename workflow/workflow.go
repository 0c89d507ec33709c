// Package workflow holds the immutable Workflow definition and its Builder.
// It depends one-directionally on foundry for the Operation type; foundry
// never imports workflow.
package workflow

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/workflowforge/forge/forgeconfig"
	"github.com/workflowforge/forge/forgeerrors"
	"github.com/workflowforge/forge/foundry"
)

// Workflow is an immutable, ordered list of operations with identity and
// metadata. Its operations sequence is frozen at Build() and never mutated
// afterwards; a Workflow may be bound to many Foundries over its lifetime.
type Workflow struct {
	id          string
	name        string
	version     string
	description string
	operations  []foundry.Operation
}

func (w *Workflow) ID() string          { return w.id }
func (w *Workflow) Name() string        { return w.name }
func (w *Workflow) Version() string     { return w.version }
func (w *Workflow) Description() string { return w.description }

// Operations returns a defensive copy of the operation sequence; its
// identity must be stable for the lifetime of any executing Foundry.
func (w *Workflow) Operations() []foundry.Operation {
	return append([]foundry.Operation(nil), w.operations...)
}

// Builder collects metadata and appends operations in order. Building with
// an empty operation sequence is permitted.
type Builder struct {
	id          string
	name        string
	version     string
	description string
	operations  []foundry.Operation
	seenIDs     map[string]bool
}

// CreateWorkflow starts a Builder. name may be empty; an id is always
// generated.
func CreateWorkflow(name string) *Builder {
	return &Builder{
		id:      uuid.New().String(),
		name:    name,
		seenIDs: make(map[string]bool),
	}
}

// WithVersion sets the workflow's optional version string.
func (b *Builder) WithVersion(version string) *Builder {
	b.version = version
	return b
}

// WithDescription sets the workflow's optional description.
func (b *Builder) WithDescription(description string) *Builder {
	b.description = description
	return b
}

// AddOperation appends op to the sequence under construction.
func (b *Builder) AddOperation(op foundry.Operation) *Builder {
	b.operations = append(b.operations, op)
	return b
}

// Build produces an immutable Workflow. Operation ids must be unique within
// a single workflow.
func (b *Builder) Build() (*Workflow, error) {
	seen := make(map[string]bool, len(b.operations))
	for _, op := range b.operations {
		if seen[op.ID()] {
			return nil, &forgeerrors.ConfigurationError{
				Field: "operations",
				Err:   fmt.Errorf("duplicate operation id %q", op.ID()),
			}
		}
		seen[op.ID()] = true
	}
	return &Workflow{
		id:          b.id,
		name:        b.name,
		version:     b.version,
		description: b.description,
		operations:  append([]foundry.Operation(nil), b.operations...),
	}, nil
}

// Sequential builds a workflow whose operations run in definition order,
// equivalent to a plain Builder with each op appended in turn.
func Sequential(name string, ops ...foundry.Operation) (*Workflow, error) {
	b := CreateWorkflow(name)
	for _, op := range ops {
		b.AddOperation(op)
	}
	return b.Build()
}

// Parallel builds a single-step workflow whose one operation is a for-each
// over ops, run concurrently with shared input.
func Parallel(name string, ops ...foundry.Operation) (*Workflow, error) {
	fe := foundry.NewForEach(uuid.New().String(), name+".fan-out", ops, forgeconfig.DefaultForEachOptions())
	return CreateWorkflow(name).AddOperation(fe).Build()
}
