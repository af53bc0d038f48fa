package cloudcall

import (
	"fmt"
	"net/http"
	"time"
)

// ParamRole says where a bound argument lands in the compiled request.
type ParamRole string

const (
	RolePath     ParamRole = "path"
	RoleQuery    ParamRole = "query"
	RoleHeader   ParamRole = "header"
	RoleForm     ParamRole = "form"
	RolePayload  ParamRole = "payload"
	RoleEndpoint ParamRole = "endpoint"
)

// ValueType is the declared coercion applied to a bound argument.
type ValueType string

const (
	TypeString ValueType = "string"
	TypeInt    ValueType = "int"
	TypeBool   ValueType = "bool"
	TypeURI    ValueType = "uri"
	TypeAny    ValueType = "any"
)

// ResultShape is the declared shape of a successful payload.
type ResultShape string

const (
	ShapeSingleton  ResultShape = "singleton"
	ShapeCollection ResultShape = "collection"
	ShapeVoid       ResultShape = "void"
	ShapeJob        ResultShape = "job"
)

// BodyEncoding selects how form parameters are serialized.
type BodyEncoding string

const (
	EncodingJSON BodyEncoding = "json"
	EncodingForm BodyEncoding = "form"
)

// Built-in exception mapper identifiers.
const (
	MapperAbsorbEmpty = "absorb-404-as-empty"
	MapperAbsorbNull  = "absorb-404-as-null"
	MapperAbsorbVoid  = "absorb-404-as-void"
	MapperRateLimit   = "rate-limit"
	MapperConflict    = "conflict"
	MapperCFErrors    = "cf-errors"
	MapperCloudStack  = "cloudstack-errors"
)

// Param binds one named call argument to a request location.
type Param struct {
	// Name is the argument name callers bind with Args.Bind.
	Name string
	// Key is the wire name; defaults to Name.
	Key         string
	Role        ParamRole
	Type        ValueType
	Required    bool
	MultiValued bool
	// Resolver names the endpoint resolver for RoleEndpoint parameters whose
	// value is a domain value rather than the URI itself.
	Resolver string
}

// WireKey returns the key written to the request.
func (p Param) WireKey() string {
	if p.Key != "" {
		return p.Key
	}

	return p.Name
}

// StatusCheck describes how to poll the job returned by a job-shaped operation.
type StatusCheck struct {
	Operation *OperationDescriptor
	// JobIDParam is the argument of Operation that receives the job identifier.
	JobIDParam string
	// ResultUnwrap strips envelopes from the payload of a succeeded job.
	ResultUnwrap int
}

// OperationDescriptor is static metadata for one remote call. Descriptors
// are registered once and shared read-only by every invocation.
type OperationDescriptor struct {
	Name   string
	Method string
	// Endpoint is the static base URI; empty means the engine default.
	Endpoint string
	// Path is a template with {name} placeholders bound by RolePath params.
	Path          string
	StaticQuery   []Pair
	StaticHeaders []Pair
	Params        []Param
	// Produces is the request body media type.
	Produces     string
	BodyEncoding BodyEncoding
	// Consumes is the expected response media type, sent as Accept.
	Consumes string
	// Filters run in this order before dispatch.
	Filters []string
	// Mappers run in this order against non-2xx responses.
	Mappers     []string
	UnwrapDepth int
	// Parser overrides the parser picked from the response content type.
	Parser string
	Shape  ResultShape
	// JobIDField names the field holding the job id in a job-shaped body;
	// empty means the Location header carries it.
	JobIDField  string
	StatusCheck *StatusCheck
	// Timeout overrides the engine default per call.
	Timeout time.Duration
}

// Validate checks structural soundness of the descriptor.
func (d *OperationDescriptor) Validate() error {
	if d.Name == "" {
		return ErrDescriptorNameMissing
	}

	switch d.Method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch,
		http.MethodDelete, http.MethodHead, http.MethodOptions:
	default:
		return fmt.Errorf("%w: %s %q", ErrDescriptorMethod, d.Name, d.Method)
	}

	err := d.CheckKeys()
	if err != nil {
		return err
	}

	if d.Shape == ShapeJob && d.StatusCheck != nil && d.StatusCheck.Operation == nil {
		return fmt.Errorf("%w: %s", ErrStatusCheckRequired, d.Name)
	}

	return nil
}

// CheckKeys rejects two query, header or form entries that share a wire key.
// Static pairs count as entries; header keys compare case-insensitively.
func (d *OperationDescriptor) CheckKeys() error {
	seen := make(map[string]bool)

	claim := func(role ParamRole, key string) error {
		if role == RoleHeader {
			key = http.CanonicalHeaderKey(key)
		}

		k := string(role) + ":" + key
		if seen[k] {
			return fmt.Errorf("%w: %s %s", ErrDuplicateParamKey, d.Name, k)
		}

		seen[k] = true

		return nil
	}

	for _, p := range d.StaticQuery {
		if err := claim(RoleQuery, p.Key); err != nil {
			return err
		}
	}

	for _, p := range d.StaticHeaders {
		if err := claim(RoleHeader, p.Key); err != nil {
			return err
		}
	}

	for _, p := range d.Params {
		switch p.Role {
		case RoleQuery, RoleHeader, RoleForm:
			if err := claim(p.Role, p.WireKey()); err != nil {
				return err
			}
		case RolePath, RoleEndpoint, RolePayload:
		}
	}

	return nil
}

// Clone returns a deep copy so registries can hand out values that share no
// backing arrays with the registered original.
func (d *OperationDescriptor) Clone() OperationDescriptor {
	out := *d
	out.StaticQuery = append([]Pair(nil), d.StaticQuery...)
	out.StaticHeaders = append([]Pair(nil), d.StaticHeaders...)
	out.Params = append([]Param(nil), d.Params...)
	out.Filters = append([]string(nil), d.Filters...)
	out.Mappers = append([]string(nil), d.Mappers...)

	if d.StatusCheck != nil {
		sc := *d.StatusCheck

		if sc.Operation != nil {
			op := sc.Operation.Clone()
			sc.Operation = &op
		}

		out.StatusCheck = &sc
	}

	return out
}

// ResultShapeOrDefault returns the declared shape, singleton when unset.
func (d *OperationDescriptor) ResultShapeOrDefault() ResultShape {
	if d.Shape == "" {
		return ShapeSingleton
	}

	return d.Shape
}
