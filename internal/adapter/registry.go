package adapter

import (
	"fmt"

	"github.com/amishk599/jobsync/internal/model"
)

// Registry holds the enabled source adapters in registration order.
type Registry struct {
	order    []string
	adapters map[string]model.SourceAdapter
}

// NewRegistry registers adapters in the given order. A later adapter with a
// duplicate name replaces the earlier one in place.
func NewRegistry(adapters ...model.SourceAdapter) *Registry {
	r := &Registry{adapters: make(map[string]model.SourceAdapter)}
	for _, a := range adapters {
		if _, ok := r.adapters[a.Name()]; !ok {
			r.order = append(r.order, a.Name())
		}
		r.adapters[a.Name()] = a
	}
	return r
}

// Get returns the adapter registered as name.
func (r *Registry) Get(name string) (model.SourceAdapter, error) {
	a, ok := r.adapters[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", model.ErrUnknownSource, name)
	}
	return a, nil
}

// All returns every adapter in registration order.
func (r *Registry) All() []model.SourceAdapter {
	out := make([]model.SourceAdapter, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.adapters[name])
	}
	return out
}

// Names returns the registered source names in order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// BoardFetcher returns the single-request fetcher behind a board source,
// used by the company prober.
func (r *Registry) BoardFetcher(name string) (model.BoardFetcher, error) {
	a, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	bs, ok := a.(*BoardSource)
	if !ok {
		return nil, fmt.Errorf("source %q has no company boards", name)
	}
	return bs.Fetcher(), nil
}
