package action

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Hook runs after a successful execution of the action it is registered for.
type Hook func(ctx context.Context, name string, opts Options, res Result)

// Registry maps job names to actions and their post-success hooks.
type Registry struct {
	mu      sync.RWMutex
	actions map[string]Action
	hooks   map[string][]Hook
}

func NewRegistry() *Registry {
	return &Registry{
		actions: map[string]Action{},
		hooks:   map[string][]Hook{},
	}
}

// Register adds or replaces the action for name.
func (r *Registry) Register(name string, a Action) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("action name required")
	}
	if a == nil {
		return fmt.Errorf("action %q is nil", name)
	}
	r.mu.Lock()
	r.actions[name] = a
	r.mu.Unlock()
	return nil
}

// Lookup returns ErrUnknownAction when nothing is registered for name.
func (r *Registry) Lookup(name string) (Action, error) {
	r.mu.RLock()
	a, ok := r.actions[strings.TrimSpace(name)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAction, name)
	}
	return a, nil
}

// OnSuccess appends a hook for name. Hooks run in registration order.
func (r *Registry) OnSuccess(name string, h Hook) {
	if h == nil {
		return
	}
	name = strings.TrimSpace(name)
	r.mu.Lock()
	r.hooks[name] = append(r.hooks[name], h)
	r.mu.Unlock()
}

func (r *Registry) Hooks(name string) []Hook {
	r.mu.RLock()
	defer r.mu.RUnlock()
	hs := r.hooks[strings.TrimSpace(name)]
	return append([]Hook(nil), hs...)
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.actions))
	for n := range r.actions {
		out = append(out, n)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}
