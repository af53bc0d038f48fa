// Package vcloud implements compute.Provider for vCloud style APIs with
// Terremark eCloud extensions: a session cookie obtained by basic-auth
// login, XML bodies, tasks polled by href and endpoints derived from VDC
// references.
package vcloud

import (
	"context"
	_ "embed"
	"encoding/xml"
	"fmt"
	"maps"
	"net/http"
	"net/url"
	"path"
	"slices"
	"strings"

	"github.com/spf13/cast"

	"github.com/fivetwenty-io/cloudcall/internal/auth"
	"github.com/fivetwenty-io/cloudcall/internal/catalog"
	"github.com/fivetwenty-io/cloudcall/internal/constants"
	"github.com/fivetwenty-io/cloudcall/internal/filters"
	"github.com/fivetwenty-io/cloudcall/internal/interpret"
	"github.com/fivetwenty-io/cloudcall/pkg/cloudcall"
	"github.com/fivetwenty-io/cloudcall/pkg/cloudclient"
	"github.com/fivetwenty-io/cloudcall/pkg/compute"
)

// Name is the provider name used in configuration.
const Name = "vcloud"

// Extension names referenced by operations.yaml.
const (
	MapperSession            = "vcloud-session"
	ResolverInternetServices = "vdc-internet-services"
)

const (
	// CookieName is the session cookie set by login.
	CookieName = "vcloud-token"
	// HeaderAuthorization carries the session on newer API versions.
	HeaderAuthorization = "x-vcloud-authorization"

	vAppType      = "application/vnd.vmware.vcloud.vApp+xml"
	vcloudXMLNS   = "http://www.vmware.com/vcloud/v1"
	taskQueued    = "queued"
	taskRunning   = "running"
	taskSuccess   = "success"
	taskError     = "error"
	taskCancelled = "cancelled"
	taskAborted   = "aborted"
)

//go:embed operations.yaml
var operations []byte

// Operations returns a fresh catalog of the vCloud operations.
func Operations() (*cloudcall.Catalog, error) {
	cat := cloudcall.NewCatalog()

	err := catalog.Load(operations, cat)
	if err != nil {
		return nil, fmt.Errorf("loading vcloud operations: %w", err)
	}

	return cat, nil
}

// Provider talks to one vCloud endpoint. The session is shared by every
// call and renewed when it expires or the server rejects it.
type Provider struct {
	cli     *cloudclient.Client
	ops     *cloudcall.Catalog
	session *auth.SessionManager
	vdc     string
}

// New creates a provider and installs its session filter, mapper, resolver
// and task decoder on cli. The configured zone is the default VDC id.
func New(_ context.Context, cli *cloudclient.Client) (compute.Provider, error) {
	ops, err := Operations()
	if err != nil {
		return nil, err
	}

	p := &Provider{cli: cli, ops: ops, vdc: cli.Config().Zone}
	p.session = auth.NewSessionManager(p.login, auth.WithLogger(cli.Logger()))

	cli.RegisterFilter(constants.FilterSession, filters.SessionCookie(CookieName, p.session))
	cli.RegisterMapper(MapperSession, cloudcall.MapperFunc(p.mapSession))
	cli.RegisterResolver(ResolverInternetServices, InternetServicesEndpoint)
	cli.SetStatusDecoder(StatusDecoder)

	return p, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return Name
}

// Logins returns how many sessions were opened.
func (p *Provider) Logins() int {
	return p.session.Logins()
}

func (p *Provider) login(ctx context.Context) (*auth.Token, error) {
	res, err := p.invoke(ctx, "login", cloudcall.NewArgs()).Wait(ctx)
	if err != nil {
		return nil, err
	}

	return &auth.Token{AccessToken: sessionToken(res.Headers)}, nil
}

func sessionToken(headers http.Header) string {
	for _, line := range headers.Values("Set-Cookie") {
		cookie, err := http.ParseSetCookie(line)
		if err == nil && cookie.Name == CookieName {
			return cookie.Value
		}
	}

	return headers.Get(HeaderAuthorization)
}

// mapSession drops a session the server no longer accepts and lets the
// response fail as unauthorized.
func (p *Provider) mapSession(_ *cloudcall.OperationDescriptor, resp *cloudcall.Response) (*cloudcall.Result, error) {
	if resp.StatusCode == http.StatusUnauthorized {
		p.session.Invalidate()
	}

	return nil, nil
}

type vAppTemplateRef struct {
	Href string `xml:"href,attr"`
}

type property struct {
	Key   string `xml:"key,attr"`
	Value string `xml:"value,attr"`
}

type instantiateParams struct {
	XMLName      xml.Name        `xml:"InstantiateVAppTemplateParams"`
	XMLNS        string          `xml:"xmlns,attr"`
	Name         string          `xml:"name,attr"`
	VAppTemplate vAppTemplateRef `xml:"VAppTemplate"`
	Properties   []property      `xml:"InstantiationParams>ProductSection>Property,omitempty"`
}

// Submit instantiates a vApp template. Image is the template href, Zone the
// VDC id and Options become product section properties. Size is sent as the
// "size" property when set.
func (p *Provider) Submit(ctx context.Context, tpl compute.Template) *cloudcall.Future {
	vdc := tpl.Zone
	if vdc == "" {
		vdc = p.vdc
	}

	if vdc == "" {
		return invalid(constants.ErrZoneRequired)
	}

	params := instantiateParams{
		XMLNS:        vcloudXMLNS,
		Name:         tpl.Name,
		VAppTemplate: vAppTemplateRef{Href: tpl.Image},
	}

	if tpl.Size != "" {
		params.Properties = append(params.Properties, property{Key: "size", Value: tpl.Size})
	}

	for _, key := range slices.Sorted(maps.Keys(tpl.Options)) {
		params.Properties = append(params.Properties, property{Key: key, Value: tpl.Options[key]})
	}

	body, err := xml.Marshal(params)
	if err != nil {
		return invalid(err)
	}

	args := cloudcall.NewArgs().
		Bind("vdc", vdc).
		Bind("params", xml.Header+string(body))

	return p.invoke(ctx, "instantiateVAppTemplate", args)
}

// Poll tracks a task returned by Submit, Destroy or Reboot.
func (p *Provider) Poll(ctx context.Context, handle *cloudcall.JobHandle) *cloudcall.Future {
	return p.cli.Track(ctx, handle)
}

// Destroy deletes a vApp. A vApp that is already gone yields an absent
// result.
func (p *Provider) Destroy(ctx context.Context, id string) *cloudcall.Future {
	return p.invoke(ctx, "deleteVApp", cloudcall.NewArgs().Bind("id", id))
}

// Reboot power-resets a vApp.
func (p *Provider) Reboot(ctx context.Context, id string) *cloudcall.Future {
	return p.invoke(ctx, "resetVApp", cloudcall.NewArgs().Bind("id", id))
}

// List lists the vApps of the default VDC.
func (p *Provider) List(ctx context.Context) *cloudcall.Future {
	if p.vdc == "" {
		return invalid(constants.ErrZoneRequired)
	}

	return compute.Then(p.VDC(ctx, p.vdc), func(res *cloudcall.Result) (*cloudcall.Result, error) {
		var vapps []any

		entities, _ := interpret.Lookup(res.Value, "ResourceEntities.ResourceEntity")
		for _, entity := range (&cloudcall.Result{Value: entities}).Items() {
			m, ok := entity.(map[string]any)
			if ok && m["@type"] == vAppType {
				vapps = append(vapps, m)
			}
		}

		if vapps == nil {
			vapps = []any{}
		}

		return &cloudcall.Result{Shape: cloudcall.ShapeCollection, Value: vapps, StatusCode: res.StatusCode}, nil
	})
}

// VDC reads a virtual datacenter. An unknown VDC yields an absent result.
func (p *Provider) VDC(ctx context.Context, id string) *cloudcall.Future {
	return p.invoke(ctx, "getVDC", cloudcall.NewArgs().Bind("vdc", id))
}

// VApp reads a vApp. An unknown vApp yields an absent result.
func (p *Provider) VApp(ctx context.Context, id string) *cloudcall.Future {
	return p.invoke(ctx, "getVApp", cloudcall.NewArgs().Bind("id", id))
}

// InternetServices lists the internet services of the VDC at vdcHref. A
// VDC without any yields an empty collection.
func (p *Provider) InternetServices(ctx context.Context, vdcHref string) *cloudcall.Future {
	return p.invoke(ctx, "getInternetServicesOnVDC", cloudcall.NewArgs().Bind("vdc", vdcHref))
}

// InternetService reads one internet service by href.
func (p *Provider) InternetService(ctx context.Context, href string) *cloudcall.Future {
	return p.invoke(ctx, "getInternetService", cloudcall.NewArgs().Bind("service", href))
}

// Nodes converts a List result or a single vApp.
func (p *Provider) Nodes(res *cloudcall.Result) ([]compute.Node, error) {
	var vapps []struct {
		Href   string `json:"@href"`
		Name   string `json:"@name"`
		Status string `json:"@status"`
	}

	err := (&cloudcall.Result{Value: res.Items()}).Decode(&vapps)
	if err != nil {
		return nil, err
	}

	nodes := make([]compute.Node, 0, len(vapps))
	for _, vapp := range vapps {
		nodes = append(nodes, compute.Node{ID: path.Base(vapp.Href), Name: vapp.Name, State: vapp.Status})
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

func invalid(err error) *cloudcall.Future {
	return cloudcall.Resolved[*cloudcall.Result](nil, &cloudcall.Error{Kind: cloudcall.KindInvalidArguments, Err: err})
}

// InternetServicesEndpoint maps a VDC href such as
// https://host/api/vdc/12 to https://host/api/extensions/vdc/12/internetServices.
func InternetServicesEndpoint(value any) (string, error) {
	raw, err := cast.ToStringE(value)
	if err != nil {
		return "", fmt.Errorf("%w: %w", constants.ErrNotVDCReference, err)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %w", constants.ErrNotVDCReference, err)
	}

	idx := strings.LastIndex(u.Path, "/vdc/")
	if idx < 0 || strings.TrimPrefix(u.Path[idx:], "/vdc/") == "" {
		return "", fmt.Errorf("%w: %s", constants.ErrNotVDCReference, raw)
	}

	u.Path = u.Path[:idx] + "/extensions" + strings.TrimRight(u.Path[idx:], "/") + "/internetServices"

	return u.String(), nil
}

type task struct {
	Status string `json:"@status"`
	Owner  any    `json:"Owner"`
	Error  *struct {
		Code    int    `json:"@majorErrorCode"`
		Message string `json:"@message"`
	} `json:"Error"`
}

// StatusDecoder reads task documents. A succeeded task resolves with its
// owner reference, or with the task when it names none.
var StatusDecoder = cloudcall.StatusDecoderFunc(func(res *cloudcall.Result) (cloudcall.StatusReport, error) {
	var t task

	err := res.Decode(&t)
	if err != nil {
		return cloudcall.StatusReport{}, err
	}

	switch strings.ToLower(t.Status) {
	case taskQueued:
		return cloudcall.StatusReport{Status: cloudcall.JobPending}, nil
	case taskRunning:
		return cloudcall.StatusReport{Status: cloudcall.JobInProgress}, nil
	case taskSuccess:
		result := t.Owner
		if result == nil {
			result = res.Value
		}

		return cloudcall.StatusReport{Status: cloudcall.JobSucceeded, Result: result}, nil
	case taskError:
		// The poller classifies by Code; majorErrorCode is not the poll's status.
		failure := &cloudcall.JobError{}
		if t.Error != nil {
			failure.Code = t.Error.Code
			failure.Message = t.Error.Message
		}

		return cloudcall.StatusReport{Status: cloudcall.JobFailed, Error: failure}, nil
	case taskCancelled, taskAborted:
		return cloudcall.StatusReport{
			Status: cloudcall.JobFailed,
			Error:  &cloudcall.JobError{Kind: cloudcall.KindCancelled, Message: "task " + t.Status},
		}, nil
	default:
		return cloudcall.StatusReport{}, fmt.Errorf("%w: task status %q", constants.ErrUnexpectedPayload, t.Status)
	}
})

var _ compute.Provider = (*Provider)(nil)
