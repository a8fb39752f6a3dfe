package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Registry fans a notification out to every registered Notifier.
type Registry struct {
	mu        sync.RWMutex
	notifiers []Notifier
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a notifier.
func (r *Registry) Register(n Notifier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifiers = append(r.notifiers, n)
}

// Len reports the number of registered notifiers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.notifiers)
}

// Notify delivers text to every notifier. One failing notifier does not stop
// the others; all failures are joined into the returned error.
func (r *Registry) Notify(ctx context.Context, text string) error {
	r.mu.RLock()
	notifiers := append([]Notifier(nil), r.notifiers...)
	r.mu.RUnlock()

	var errs []error
	for _, n := range notifiers {
		if err := n.Notify(ctx, text); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("notify.Registry.Notify: %w", err)
	}
	return nil
}
