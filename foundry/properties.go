package foundry

import "sync"

// Reserved property keys shared across components. The engine never embeds
// these under user namespaces.
const (
	// KeyCurrentOperationIndex is the advisory 0-based index of the step
	// currently executing, set at the top of the per-step protocol.
	KeyCurrentOperationIndex = "current_operation_index"

	// KeyOperationOutputPrefix prefixes the per-step output cache used for
	// restore/skip. The full key is fmt.Sprintf("%s%d,%s]",
	// KeyOperationOutputPrefix, index, operationName).
	KeyOperationOutputPrefix = "operation_output["

	// KeyPersistenceExecCounter is the fallback step counter used by the
	// persistence middleware when the advisory index property is absent.
	KeyPersistenceExecCounter = "persistence.exec_counter"

	// KeyPersistenceRestored flags that a snapshot has already been copied
	// into this Foundry's properties during the current run.
	KeyPersistenceRestored = "persistence.restored"
)

// Properties is the thread-safe key/value store shared by all operations and
// middleware running against a single Foundry. Keys are unique; iteration
// order is not guaranteed. Writes are last-writer-wins per key.
type Properties struct {
	mu   sync.RWMutex
	data map[string]any
}

// NewProperties creates an empty Properties, optionally seeded from initial.
// The initial map is copied, never aliased.
func NewProperties(initial map[string]any) *Properties {
	p := &Properties{data: make(map[string]any, len(initial))}
	for k, v := range initial {
		p.data[k] = v
	}
	return p
}

// Get returns the value stored under key and whether it was present.
func (p *Properties) Get(key string) (any, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.data[key]
	return v, ok
}

// Set stores value under key, overwriting any existing value.
func (p *Properties) Set(key string, value any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.data[key] = value
}

// Delete removes key. No-op if the key is absent.
func (p *Properties) Delete(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.data, key)
}

// Keys returns a snapshot of the currently stored keys.
func (p *Properties) Keys() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	keys := make([]string, 0, len(p.data))
	for k := range p.data {
		keys = append(keys, k)
	}
	return keys
}

// Snapshot returns a shallow copy of the underlying map, decoupling
// in-flight writers from the returned data. Used by the persistence
// middleware when building a Snapshot and by any consumer that wants a
// point-in-time read.
func (p *Properties) Snapshot() map[string]any {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]any, len(p.data))
	for k, v := range p.data {
		out[k] = v
	}
	return out
}

// Merge copies every key from src into p, overwriting existing keys
// (last-writer-wins), under the concurrent map's own lock.
func (p *Properties) Merge(src map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for k, v := range src {
		p.data[k] = v
	}
}
