// Package cloudstack implements compute.Provider for CloudStack style APIs:
// query-signed GET commands, JSON envelopes two levels deep and async jobs
// polled with queryAsyncJobResult.
package cloudstack

import (
	"context"
	_ "embed"
	"fmt"
	"maps"
	"slices"

	"github.com/fivetwenty-io/cloudcall/internal/catalog"
	"github.com/fivetwenty-io/cloudcall/internal/constants"
	"github.com/fivetwenty-io/cloudcall/internal/interpret"
	"github.com/fivetwenty-io/cloudcall/pkg/cloudcall"
	"github.com/fivetwenty-io/cloudcall/pkg/cloudclient"
	"github.com/fivetwenty-io/cloudcall/pkg/compute"
)

// Name is the provider name used in configuration.
const Name = "cloudstack"

// Job status codes reported by queryAsyncJobResult.
const (
	jobPending   = 0
	jobSucceeded = 1
	jobFailed    = 2
)

//go:embed operations.yaml
var operations []byte

// Operations returns a fresh catalog of the CloudStack operations.
func Operations() (*cloudcall.Catalog, error) {
	cat := cloudcall.NewCatalog()

	err := catalog.Load(operations, cat)
	if err != nil {
		return nil, fmt.Errorf("loading cloudstack operations: %w", err)
	}

	return cat, nil
}

// Provider talks to one CloudStack endpoint.
type Provider struct {
	cli  *cloudclient.Client
	ops  *cloudcall.Catalog
	zone string
}

// New creates a provider and installs the job status decoder on cli. The
// configured zone is used by templates that name none.
func New(_ context.Context, cli *cloudclient.Client) (compute.Provider, error) {
	ops, err := Operations()
	if err != nil {
		return nil, err
	}

	cli.SetStatusDecoder(StatusDecoder)

	return &Provider{cli: cli, ops: ops, zone: cli.Config().Zone}, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return Name
}

// Submit deploys a virtual machine from tpl. Image is the template id and
// Size the service offering id; Options are passed as extra query pairs.
func (p *Provider) Submit(ctx context.Context, tpl compute.Template) *cloudcall.Future {
	zone := tpl.Zone
	if zone == "" {
		zone = p.zone
	}

	if zone == "" {
		return cloudcall.Resolved[*cloudcall.Result](nil, &cloudcall.Error{
			Kind: cloudcall.KindInvalidArguments,
			Op:   "deployVirtualMachine",
			Err:  constants.ErrZoneRequired,
		})
	}

	args := cloudcall.NewArgs().
		Bind("zone", zone).
		Bind("template", tpl.Image).
		Bind("offering", tpl.Size)

	if tpl.Name != "" {
		args.Bind("name", tpl.Name)
	}

	if len(tpl.Options) > 0 {
		opts := cloudcall.NewOptions()
		for _, key := range slices.Sorted(maps.Keys(tpl.Options)) {
			opts.Query(key, tpl.Options[key])
		}

		args.WithOptions(opts)
	}

	return p.invoke(ctx, "deployVirtualMachine", args)
}

// Poll tracks a job returned by Submit, Destroy or Reboot.
func (p *Provider) Poll(ctx context.Context, handle *cloudcall.JobHandle) *cloudcall.Future {
	return p.cli.Track(ctx, handle)
}

// Destroy destroys a virtual machine.
func (p *Provider) Destroy(ctx context.Context, id string) *cloudcall.Future {
	return p.invoke(ctx, "destroyVirtualMachine", cloudcall.NewArgs().Bind("id", id))
}

// Reboot reboots a virtual machine.
func (p *Provider) Reboot(ctx context.Context, id string) *cloudcall.Future {
	return p.invoke(ctx, "rebootVirtualMachine", cloudcall.NewArgs().Bind("id", id))
}

// List lists the virtual machines visible to the account. An account with
// none yields an empty collection.
func (p *Provider) List(ctx context.Context) *cloudcall.Future {
	return p.invoke(ctx, "listVirtualMachines", cloudcall.NewArgs())
}

// ListAsyncJobs lists the account's async jobs, optionally narrowed by
// options such as account or startdate.
func (p *Provider) ListAsyncJobs(ctx context.Context, opts ...*cloudcall.Options) *cloudcall.Future {
	return p.invoke(ctx, "listAsyncJobs", cloudcall.NewArgs().WithOptions(opts...))
}

// Job reads one async job. An unknown job yields an absent result.
func (p *Provider) Job(ctx context.Context, id string) *cloudcall.Future {
	return p.invoke(ctx, "queryAsyncJobResult", cloudcall.NewArgs().Bind("jobid", id))
}

// Nodes converts a List result.
func (p *Provider) Nodes(res *cloudcall.Result) ([]compute.Node, error) {
	var vms []struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		DisplayName string `json:"displayname"`
		State       string `json:"state"`
	}

	err := (&cloudcall.Result{Value: res.Items()}).Decode(&vms)
	if err != nil {
		return nil, err
	}

	nodes := make([]compute.Node, 0, len(vms))
	for _, vm := range vms {
		name := vm.DisplayName
		if name == "" {
			name = vm.Name
		}

		nodes = append(nodes, compute.Node{ID: vm.ID, Name: name, State: vm.State})
	}

	return nodes, nil
}

func (p *Provider) invoke(ctx context.Context, op string, args *cloudcall.Args) *cloudcall.Future {
	desc, err := p.ops.Get(op)
	if err != nil {
		return cloudcall.Resolved[*cloudcall.Result](nil, err)
	}

	return p.cli.Invoke(ctx, desc, args)
}

type asyncJob struct {
	Status *int `json:"jobstatus"`
	Result any  `json:"jobresult"`
}

type jobFailure struct {
	ErrorCode int    `json:"errorcode"`
	ErrorText string `json:"errortext"`
}

// StatusDecoder reads queryAsyncJobResult responses. A failed job's error
// code is classified like a CloudStack error response.
var StatusDecoder = cloudcall.StatusDecoderFunc(func(res *cloudcall.Result) (cloudcall.StatusReport, error) {
	var job asyncJob

	err := res.Decode(&job)
	if err != nil {
		return cloudcall.StatusReport{}, err
	}

	if job.Status == nil {
		return cloudcall.StatusReport{}, fmt.Errorf("%w: job without jobstatus", constants.ErrUnexpectedPayload)
	}

	switch *job.Status {
	case jobPending:
		return cloudcall.StatusReport{Status: cloudcall.JobInProgress}, nil
	case jobSucceeded:
		return cloudcall.StatusReport{Status: cloudcall.JobSucceeded, Result: job.Result}, nil
	case jobFailed:
		var failure jobFailure

		_ = (&cloudcall.Result{Value: job.Result}).Decode(&failure)

		return cloudcall.StatusReport{
			Status: cloudcall.JobFailed,
			Error: &cloudcall.JobError{
				Code:    failure.ErrorCode,
				Kind:    interpret.CloudStackKind(failure.ErrorCode),
				Message: failure.ErrorText,
			},
		}, nil
	default:
		return cloudcall.StatusReport{}, fmt.Errorf("%w: jobstatus %d", constants.ErrUnexpectedPayload, *job.Status)
	}
})

var _ compute.Provider = (*Provider)(nil)
