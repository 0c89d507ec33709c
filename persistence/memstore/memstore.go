// Package memstore provides an in-memory persistence.PersistenceProvider
// with a named registry for resolving providers by configuration string.
package memstore

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"github.com/workflowforge/forge/persistence"
)

type entry struct {
	versions []persistence.Snapshot // oldest first; bounded by maxVersions
}

// Store is a process-local PersistenceProvider keyed by (foundry_key,
// workflow_key). It additionally implements persistence.RecoveryCatalog.
type Store struct {
	maxVersions int

	mu   sync.RWMutex
	data map[string]*entry
}

// New creates an empty Store. maxVersions <= 0 means keep only the latest.
func New(maxVersions int) *Store {
	if maxVersions <= 0 {
		maxVersions = 1
	}
	return &Store{maxVersions: maxVersions, data: make(map[string]*entry)}
}

func key(foundryKey, workflowKey persistence.Key) string {
	return foundryKey.String() + ":" + workflowKey.String()
}

func (s *Store) Save(_ context.Context, snap persistence.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(snap.FoundryKey, snap.WorkflowKey)
	e, ok := s.data[k]
	if !ok {
		e = &entry{}
		s.data[k] = e
	}

	snap.Properties = maps.Clone(snap.Properties)

	e.versions = append(e.versions, snap)
	if s.maxVersions > 0 && len(e.versions) > s.maxVersions {
		e.versions = e.versions[len(e.versions)-s.maxVersions:]
	}
	return nil
}

func (s *Store) TryLoad(_ context.Context, foundryKey, workflowKey persistence.Key) (persistence.Snapshot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.data[key(foundryKey, workflowKey)]
	if !ok || len(e.versions) == 0 {
		return persistence.Snapshot{}, false, nil
	}
	latest := e.versions[len(e.versions)-1]
	latest.Properties = maps.Clone(latest.Properties)
	return latest, true, nil
}

func (s *Store) Delete(_ context.Context, foundryKey, workflowKey persistence.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key(foundryKey, workflowKey))
	return nil
}

// ListPending implements persistence.RecoveryCatalog, returning the latest
// snapshot for every key currently stored.
func (s *Store) ListPending(context.Context) ([]persistence.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pending := make([]persistence.Snapshot, 0, len(s.data))
	for _, e := range s.data {
		if len(e.versions) == 0 {
			continue
		}
		latest := e.versions[len(e.versions)-1]
		latest.Properties = maps.Clone(latest.Properties)
		pending = append(pending, latest)
	}
	return pending, nil
}

var (
	registry      = map[string]persistence.PersistenceProvider{"memory": New(1)}
	registryMutex sync.RWMutex
)

// Get returns a registered persistence.PersistenceProvider by name.
func Get(name string) (persistence.PersistenceProvider, error) {
	registryMutex.RLock()
	defer registryMutex.RUnlock()
	p, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown persistence provider: %s", name)
	}
	return p, nil
}

// Register adds or replaces a named PersistenceProvider in the global
// registry; Get looks it up by the same name (for example the value of
// forgeconfig.PersistenceOptions.Provider).
func Register(name string, provider persistence.PersistenceProvider) {
	registryMutex.Lock()
	defer registryMutex.Unlock()
	registry[name] = provider
}
