package stage

import (
	"fmt"
	"sync"
)

// Registry maintains the known stages by name.
type Registry struct {
	mu     sync.RWMutex
	stages map[string]Stage
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{stages: map[string]Stage{}}
}

// Register installs a stage. Returns an error if the name already exists.
func (r *Registry) Register(s Stage) error {
	if s == nil {
		return fmt.Errorf("stage: stage is required")
	}
	info := s.Info()
	if err := info.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.stages[info.Name]; exists {
		return fmt.Errorf("stage: %s already registered", info.Name)
	}
	r.stages[info.Name] = s
	return nil
}

// Resolve returns the named stages in the order given.
func (r *Registry) Resolve(names ...string) ([]Stage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Stage, 0, len(names))
	for _, name := range names {
		s, ok := r.stages[name]
		if !ok {
			return nil, fmt.Errorf("stage: unknown stage %s", name)
		}
		out = append(out, s)
	}
	return out, nil
}
