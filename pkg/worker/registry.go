package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Registry owns the workers of one process.
type Registry struct {
	mu      sync.RWMutex
	workers []*Worker
}

func NewRegistry(workers ...*Worker) *Registry {
	r := &Registry{}
	r.Add(workers...)
	return r
}

func (r *Registry) Add(workers ...*Worker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, w := range workers {
		if w != nil {
			r.workers = append(r.workers, w)
		}
	}
}

func (r *Registry) Get(name string) (*Worker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, w := range r.workers {
		if w.Name() == name {
			return w, true
		}
	}
	return nil, false
}

// StartAll starts workers in registration order. If one fails to start the
// ones already started are stopped again.
func (r *Registry) StartAll(ctx context.Context) error {
	r.mu.RLock()
	workers := append([]*Worker(nil), r.workers...)
	r.mu.RUnlock()

	for i, w := range workers {
		if err := w.Start(ctx); err != nil {
			for j := i - 1; j >= 0; j-- {
				_ = workers[j].Stop(ctx)
			}
			return fmt.Errorf("start %s: %w", w.Name(), err)
		}
	}
	return nil
}

// StopAll stops workers in reverse order.
func (r *Registry) StopAll(ctx context.Context) error {
	r.mu.RLock()
	workers := append([]*Worker(nil), r.workers...)
	r.mu.RUnlock()

	var errs []error
	for i := len(workers) - 1; i >= 0; i-- {
		if err := workers[i].Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) Health() []Health {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Health, 0, len(r.workers))
	for _, w := range r.workers {
		out = append(out, w.Health())
	}
	return out
}
