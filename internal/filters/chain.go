// Package filters provides the ordered request filter chain applied between
// compilation and dispatch, and the built-in signing and credential filters.
package filters

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/fivetwenty-io/cloudcall/pkg/cloudcall"
)

// Registry maps filter names, as listed on descriptors, to filters.
type Registry struct {
	mu      sync.RWMutex
	filters map[string]cloudcall.Filter
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{filters: make(map[string]cloudcall.Filter)}
}

// Register adds or replaces the filter stored under name.
func (r *Registry) Register(name string, filter cloudcall.Filter) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.filters[name] = filter
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.filters[name]

	return ok
}

type link struct {
	name   string
	filter cloudcall.Filter
}

// Chain is an ordered list of filters resolved for one descriptor.
type Chain struct {
	links []link
}

// Chain resolves names in order. An unknown name is KindUnauthorized: a
// descriptor that asks for signing must never be sent unsigned.
func (r *Registry) Chain(names []string) (*Chain, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	chain := &Chain{links: make([]link, 0, len(names))}

	for _, name := range names {
		f, ok := r.filters[name]
		if !ok {
			return nil, &cloudcall.Error{
				Kind:   cloudcall.KindUnauthorized,
				Detail: "filter " + name + " is not configured",
				Err:    cloudcall.ErrUnknownFilter,
			}
		}

		chain.links = append(chain.links, link{name: name, filter: f})
	}

	return chain, nil
}

// Len returns the number of filters.
func (c *Chain) Len() int {
	return len(c.links)
}

// Apply runs every filter in order on a copy of req. The first failure stops
// the chain; failures without a kind are reported as KindUnauthorized.
func (c *Chain) Apply(ctx context.Context, req *cloudcall.Request) (*cloudcall.Request, error) {
	out := req.Clone()

	for _, l := range c.links {
		next, err := l.filter.Apply(ctx, out)
		if err != nil {
			return nil, filterError(req.Operation, l.name, err)
		}

		if next != nil {
			out = next
		}
	}

	return out, nil
}

func filterError(op, name string, err error) error {
	var e *cloudcall.Error
	if errors.As(err, &e) {
		out := *e
		if out.Op == "" {
			out.Op = op
		}

		return &out
	}

	return &cloudcall.Error{
		Kind:   cloudcall.KindUnauthorized,
		Op:     op,
		Detail: fmt.Sprintf("filter %s", name),
		Err:    err,
	}
}

// unauthorized is the failure of a filter whose credential is missing.
func unauthorized(detail string, cause error) error {
	return &cloudcall.Error{
		Kind:   cloudcall.KindUnauthorized,
		Detail: detail,
		Err:    cause,
	}
}
