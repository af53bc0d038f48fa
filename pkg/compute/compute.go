// Package compute defines the provider-neutral capability set of a compute
// cloud and a registry selecting one implementation per provider name.
package compute

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/fivetwenty-io/cloudcall/internal/constants"
	"github.com/fivetwenty-io/cloudcall/pkg/cloudcall"
	"github.com/fivetwenty-io/cloudcall/pkg/cloudclient"
)

// Template describes a node to create. Fields a provider does not use are
// ignored; Options carries provider-specific parameters.
type Template struct {
	Name    string
	Zone    string
	Image   string
	Size    string
	Options map[string]string
}

// Node is the provider-neutral view of a server.
type Node struct {
	ID    string
	Name  string
	State string
}

// Provider is the capability set every compute variant implements. Every
// method returns immediately; mutating methods resolve with the node payload
// when the client tracks jobs automatically and with a job handle otherwise.
type Provider interface {
	Name() string
	Submit(ctx context.Context, tpl Template) *cloudcall.Future
	Poll(ctx context.Context, handle *cloudcall.JobHandle) *cloudcall.Future
	Destroy(ctx context.Context, id string) *cloudcall.Future
	List(ctx context.Context) *cloudcall.Future
	Reboot(ctx context.Context, id string) *cloudcall.Future
	// Nodes converts a List result.
	Nodes(res *cloudcall.Result) ([]Node, error)
}

// Factory builds a provider over a configured client.
type Factory func(ctx context.Context, cli *cloudclient.Client) (Provider, error)

// Registry maps provider names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory under name.
func (r *Registry) Register(name string, factory Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.factories[name]; ok {
		return fmt.Errorf("%w: %s", constants.ErrProviderRegistered, name)
	}

	r.factories[name] = factory

	return nil
}

// New builds the provider registered under name.
func (r *Registry) New(ctx context.Context, name string, cli *cloudclient.Client) (Provider, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q", constants.ErrUnknownProvider, name)
	}

	return factory(ctx, cli)
}

// Names returns the registered provider names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// Then derives a future from f. Cancelling the derived future cancels f.
func Then(f *cloudcall.Future, fn func(*cloudcall.Result) (*cloudcall.Result, error)) *cloudcall.Future {
	out := cloudcall.NewPromise[*cloudcall.Result](func() { f.Cancel() })

	go func() {
		res, err := f.Await(0)
		if err == nil {
			res, err = fn(res)
		}

		out.Resolve(res, err)
	}()

	return out
}
