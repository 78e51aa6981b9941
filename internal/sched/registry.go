package sched

import (
	"sort"
	"strings"
	"sync"
)

// Registry maps stable names to notification and action callbacks.
//
// It is an explicit dependency (constructed once, injected where needed),
// never package state. The expected lifecycle is: populate during startup,
// read-mostly afterwards; registration stays safe at any time regardless.
type Registry struct {
	mu        sync.RWMutex
	notifiers map[string]NotifyFunc
	actions   map[string]ActionFunc
}

func NewRegistry() *Registry {
	return &Registry{
		notifiers: map[string]NotifyFunc{},
		actions:   map[string]ActionFunc{},
	}
}

// RegisterNotifier binds name to fn, replacing any previous binding.
// Empty names and nil funcs are ignored.
func (r *Registry) RegisterNotifier(name string, fn NotifyFunc) {
	name = strings.TrimSpace(name)
	if name == "" || fn == nil {
		return
	}
	r.mu.Lock()
	r.notifiers[name] = fn
	r.mu.Unlock()
}

// RegisterAction binds name to fn, replacing any previous binding.
// Empty names and nil funcs are ignored.
func (r *Registry) RegisterAction(name string, fn ActionFunc) {
	name = strings.TrimSpace(name)
	if name == "" || fn == nil {
		return
	}
	r.mu.Lock()
	r.actions[name] = fn
	r.mu.Unlock()
}

// Notifier resolves name. ok is false for unknown or empty names; callers
// treat that as a no-op, not an error.
func (r *Registry) Notifier(name string) (fn NotifyFunc, ok bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, false
	}
	r.mu.RLock()
	fn, ok = r.notifiers[name]
	r.mu.RUnlock()
	return fn, ok
}

// Action resolves name. ok is false for unknown or empty names; callers
// treat that as a no-op, not an error.
func (r *Registry) Action(name string) (fn ActionFunc, ok bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, false
	}
	r.mu.RLock()
	fn, ok = r.actions[name]
	r.mu.RUnlock()
	return fn, ok
}

// NotifierNames returns the registered notifier names, sorted.
func (r *Registry) NotifierNames() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.notifiers))
	for name := range r.notifiers {
		out = append(out, name)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

// ActionNames returns the registered action names, sorted.
func (r *Registry) ActionNames() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.actions))
	for name := range r.actions {
		out = append(out, name)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}
