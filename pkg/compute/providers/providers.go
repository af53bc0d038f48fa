// Package providers wires the built-in compute variants into a registry and
// opens the one named by configuration.
package providers

import (
	"context"
	"fmt"

	"github.com/fivetwenty-io/cloudcall/internal/config"
	"github.com/fivetwenty-io/cloudcall/pkg/cloudcall"
	"github.com/fivetwenty-io/cloudcall/pkg/cloudclient"
	"github.com/fivetwenty-io/cloudcall/pkg/compute"
	"github.com/fivetwenty-io/cloudcall/pkg/compute/cloudstack"
	"github.com/fivetwenty-io/cloudcall/pkg/compute/vcloud"
)

// Registry returns a registry holding every built-in provider.
func Registry() *compute.Registry {
	reg := compute.NewRegistry()

	// Names are distinct constants; registration cannot collide.
	_ = reg.Register(cloudstack.Name, cloudstack.New)
	_ = reg.Register(vcloud.Name, vcloud.New)

	return reg
}

// Open creates a client from cfg and the provider named by cfg.Provider.
// The caller closes the returned client.
func Open(ctx context.Context, cfg *cloudcall.Config, opts ...cloudclient.Option) (compute.Provider, *cloudclient.Client, error) {
	if cfg == nil {
		return nil, nil, cloudcall.ErrConfigRequired
	}

	reg := Registry()

	cli, err := cloudclient.New(ctx, cfg, opts...)
	if err != nil {
		return nil, nil, err
	}

	provider, err := reg.New(ctx, cfg.Provider, cli)
	if err != nil {
		_ = cli.Close()

		return nil, nil, fmt.Errorf("opening provider: %w", err)
	}

	return provider, cli, nil
}

// OpenFile loads configuration with config.Load and opens its provider. An
// empty path searches the default locations and the environment.
func OpenFile(ctx context.Context, path string, opts ...cloudclient.Option) (compute.Provider, *cloudclient.Client, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}

	return Open(ctx, cfg, opts...)
}
