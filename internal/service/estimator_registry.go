package service

import (
	"fmt"
	"sort"
	"sync"
)

// EstimatorRegistry maps names to signal estimators so the active one can be
// chosen from configuration. It is safe for concurrent use.
type EstimatorRegistry struct {
	mu         sync.RWMutex
	estimators map[string]SignalEstimator
}

// NewEstimatorRegistry returns an empty registry.
func NewEstimatorRegistry() *EstimatorRegistry {
	return &EstimatorRegistry{estimators: make(map[string]SignalEstimator)}
}

// Register adds e under name, replacing any previous entry.
func (r *EstimatorRegistry) Register(name string, e SignalEstimator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.estimators[name] = e
}

// Get returns the estimator registered under name.
func (r *EstimatorRegistry) Get(name string) (SignalEstimator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.estimators[name]
	if !ok {
		return nil, fmt.Errorf("estimator %q: not registered (have %v)", name, r.namesLocked())
	}
	return e, nil
}

// List returns the registered names in sorted order.
func (r *EstimatorRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.namesLocked()
}

func (r *EstimatorRegistry) namesLocked() []string {
	names := make([]string, 0, len(r.estimators))
	for n := range r.estimators {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
