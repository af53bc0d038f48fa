// Package compiler turns an operation descriptor and call arguments into a
// concrete request.
package compiler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/fivetwenty-io/cloudcall/internal/constants"
	"github.com/fivetwenty-io/cloudcall/pkg/cloudcall"
)

// Compiler builds requests. It is safe for concurrent use; resolvers are
// registered at start-up and read on every call.
type Compiler struct {
	endpoint  string
	mu        sync.RWMutex
	resolvers map[string]cloudcall.EndpointResolver
}

// New creates a compiler whose default base URI is endpoint.
func New(endpoint string) *Compiler {
	return &Compiler{
		endpoint:  endpoint,
		resolvers: make(map[string]cloudcall.EndpointResolver),
	}
}

// RegisterResolver makes an endpoint resolver available to descriptors.
func (c *Compiler) RegisterResolver(name string, resolver cloudcall.EndpointResolver) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.resolvers[name] = resolver
}

func (c *Compiler) resolver(name string) (cloudcall.EndpointResolver, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	r, ok := c.resolvers[name]

	return r, ok
}

// bound is a parameter with its coerced values.
type bound struct {
	param  cloudcall.Param
	raw    []any
	values []string
}

// Compile resolves desc with args. Every failure is KindInvalidArguments.
// Identical inputs always produce identical requests.
func (c *Compiler) Compile(desc *cloudcall.OperationDescriptor, args *cloudcall.Args) (*cloudcall.Request, error) {
	err := desc.CheckKeys()
	if err != nil {
		return nil, invalidCause(desc, err, "conflicting wire keys")
	}

	params, err := bindParams(desc, args)
	if err != nil {
		return nil, err
	}

	base, err := c.resolveEndpoint(desc, params)
	if err != nil {
		return nil, err
	}

	target, err := expandPath(desc, base, params)
	if err != nil {
		return nil, err
	}

	req := &cloudcall.Request{
		Operation: desc.Name,
		Method:    desc.Method,
		URL:       target,
		Query:     cloudcall.NewOrderedValues(),
		Headers:   make(http.Header),
		Metadata:  make(map[string]interface{}),
	}

	// Query keys already present on the endpoint URI come first.
	for _, p := range splitQuery(target.RawQuery) {
		req.Query.Add(p.Key, p.Value)
	}

	target.RawQuery = ""

	for _, p := range desc.StaticQuery {
		req.Query.Add(p.Key, p.Value)
	}

	for _, p := range desc.StaticHeaders {
		req.Headers.Set(p.Key, p.Value)
	}

	if desc.Consumes != "" {
		req.Headers.Set(constants.HeaderAccept, desc.Consumes)
	}

	form := cloudcall.NewOrderedValues()

	var payload *bound

	for i := range params {
		b := &params[i]

		switch b.param.Role {
		case cloudcall.RoleQuery:
			for _, v := range b.values {
				req.Query.Add(b.param.WireKey(), v)
			}
		case cloudcall.RoleHeader:
			for _, v := range b.values {
				req.Headers.Add(b.param.WireKey(), v)
			}
		case cloudcall.RoleForm:
			for _, v := range b.values {
				form.Add(b.param.WireKey(), v)
			}
		case cloudcall.RolePayload:
			if len(b.raw) > 0 {
				payload = b
			}
		case cloudcall.RolePath, cloudcall.RoleEndpoint:
		}
	}

	for _, opts := range args.Options() {
		for _, p := range opts.QueryPairs() {
			req.Query.Set(p.Key, p.Value)
		}

		for _, p := range opts.HeaderPairs() {
			req.Headers.Set(p.Key, p.Value)
		}

		for _, p := range opts.FormPairs() {
			form.Set(p.Key, p.Value)
		}
	}

	err = encodeBody(desc, req, form, payload)
	if err != nil {
		return nil, err
	}

	return req, nil
}

func bindParams(desc *cloudcall.OperationDescriptor, args *cloudcall.Args) ([]bound, error) {
	declared := make(map[string]bool, len(desc.Params))
	for _, p := range desc.Params {
		declared[p.Name] = true
	}

	for _, nv := range args.Bound() {
		if !declared[nv.Name] {
			return nil, invalid(desc, "unknown parameter %q", nv.Name)
		}
	}

	out := make([]bound, 0, len(desc.Params))

	for _, p := range desc.Params {
		raw := args.Lookup(p.Name)

		if len(raw) == 0 && p.Required {
			return nil, invalid(desc, "missing required parameter %q", p.Name)
		}

		if len(raw) > 1 && !p.MultiValued {
			return nil, invalid(desc, "parameter %q bound %d times", p.Name, len(raw))
		}

		b := bound{param: p, raw: raw}

		if p.Role != cloudcall.RolePayload && !(p.Role == cloudcall.RoleEndpoint && p.Resolver != "") {
			for _, v := range raw {
				s, err := coerce(p.Type, v)
				if err != nil {
					return nil, invalidCause(desc, err, "parameter %q", p.Name)
				}

				b.values = append(b.values, s)
			}
		}

		out = append(out, b)
	}

	return out, nil
}

func (c *Compiler) resolveEndpoint(desc *cloudcall.OperationDescriptor, params []bound) (*url.URL, error) {
	endpoint := desc.Endpoint
	if endpoint == "" {
		endpoint = c.endpoint
	}

	for _, b := range params {
		if b.param.Role != cloudcall.RoleEndpoint || len(b.raw) == 0 {
			continue
		}

		if b.param.Resolver == "" {
			endpoint = b.values[0]

			continue
		}

		resolve, ok := c.resolver(b.param.Resolver)
		if !ok {
			return nil, invalidCause(desc, cloudcall.ErrUnknownResolver, "%s", b.param.Resolver)
		}

		resolved, err := resolve(b.raw[0])
		if err != nil {
			return nil, invalidCause(desc, err, "resolving endpoint with %s", b.param.Resolver)
		}

		endpoint = resolved
	}

	if endpoint == "" {
		return nil, invalidCause(desc, cloudcall.ErrEndpointRequired, "no endpoint")
	}

	u, err := url.Parse(endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, invalid(desc, "invalid endpoint %q", endpoint)
	}

	return u, nil
}

// expandPath substitutes {name} placeholders and appends the result to the
// endpoint path.
func expandPath(desc *cloudcall.OperationDescriptor, base *url.URL, params []bound) (*url.URL, error) {
	if desc.Path == "" {
		return base, nil
	}

	values := make(map[string]string)

	for _, b := range params {
		if b.param.Role == cloudcall.RolePath && len(b.values) > 0 {
			values[b.param.Name] = b.values[0]
		}
	}

	var path strings.Builder

	rest := desc.Path
	for {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			path.WriteString(rest)

			break
		}

		end := strings.IndexByte(rest[open:], '}')
		if end < 0 {
			return nil, invalid(desc, "unterminated placeholder in %q", desc.Path)
		}

		name := rest[open+1 : open+end]

		value, ok := values[name]
		if !ok {
			return nil, invalid(desc, "unbound path placeholder %q", name)
		}

		if value == "" {
			return nil, invalid(desc, "empty path placeholder %q", name)
		}

		path.WriteString(rest[:open])
		path.WriteString(url.PathEscape(value))
		rest = rest[open+end+1:]
	}

	joined := strings.TrimSuffix(base.EscapedPath(), "/") + "/" + strings.TrimPrefix(path.String(), "/")

	ref, err := url.Parse(joined)
	if err != nil {
		return nil, invalidCause(desc, err, "path %q", joined)
	}

	out := *base
	out.Path = ref.Path
	out.RawPath = ref.RawPath

	if ref.RawQuery != "" {
		if out.RawQuery != "" {
			out.RawQuery += "&"
		}

		out.RawQuery += ref.RawQuery
	}

	return &out, nil
}

func encodeBody(desc *cloudcall.OperationDescriptor, req *cloudcall.Request, form *cloudcall.OrderedValues, payload *bound) error {
	if payload != nil && form.Len() > 0 {
		return invalid(desc, "payload and form parameters are exclusive")
	}

	switch {
	case payload != nil:
		body, contentType, err := payloadBytes(payload.raw[0])
		if err != nil {
			return invalidCause(desc, err, "encoding payload %q", payload.param.Name)
		}

		req.Body = body
		req.ContentType = firstNonEmpty(desc.Produces, contentType)
	case form.Len() > 0:
		if desc.BodyEncoding == cloudcall.EncodingForm {
			req.Body = []byte(form.Encode())
			req.ContentType = firstNonEmpty(desc.Produces, constants.ContentTypeForm)

			break
		}

		body, err := encodeJSONObject(form)
		if err != nil {
			return invalidCause(desc, err, "encoding body")
		}

		req.Body = body
		req.ContentType = firstNonEmpty(desc.Produces, constants.ContentTypeJSON)
	default:
		return nil
	}

	req.Headers.Set(constants.HeaderContentType, req.ContentType)

	return nil
}

func payloadBytes(v any) ([]byte, string, error) {
	switch body := v.(type) {
	case []byte:
		return append([]byte(nil), body...), constants.ContentTypeOctetStream, nil
	case string:
		return []byte(body), constants.ContentTypeOctetStream, nil
	default:
		data, err := json.Marshal(body)
		if err != nil {
			return nil, "", fmt.Errorf("marshaling payload: %w", err)
		}

		return data, constants.ContentTypeJSON, nil
	}
}

// encodeJSONObject writes form values as a JSON object with keys in
// insertion order; repeated keys become arrays.
func encodeJSONObject(form *cloudcall.OrderedValues) ([]byte, error) {
	var keys []string

	grouped := make(map[string][]string)

	for _, p := range form.Pairs() {
		if _, ok := grouped[p.Key]; !ok {
			keys = append(keys, p.Key)
		}

		grouped[p.Key] = append(grouped[p.Key], p.Value)
	}

	var buf bytes.Buffer

	buf.WriteByte('{')

	for i, key := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}

		k, err := json.Marshal(key)
		if err != nil {
			return nil, fmt.Errorf("marshaling key: %w", err)
		}

		var value any = grouped[key]
		if len(grouped[key]) == 1 {
			value = grouped[key][0]
		}

		v, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("marshaling value: %w", err)
		}

		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}

	buf.WriteByte('}')

	return buf.Bytes(), nil
}

func splitQuery(raw string) []cloudcall.Pair {
	if raw == "" {
		return nil
	}

	var out []cloudcall.Pair

	for _, part := range strings.Split(raw, "&") {
		if part == "" {
			continue
		}

		k, v, _ := strings.Cut(part, "=")

		key, err := url.QueryUnescape(k)
		if err != nil {
			key = k
		}

		value, err := url.QueryUnescape(v)
		if err != nil {
			value = v
		}

		out = append(out, cloudcall.Pair{Key: key, Value: value})
	}

	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}

	return ""
}

func invalid(desc *cloudcall.OperationDescriptor, format string, args ...any) error {
	return &cloudcall.Error{
		Kind:   cloudcall.KindInvalidArguments,
		Op:     desc.Name,
		Detail: fmt.Sprintf(format, args...),
	}
}

func invalidCause(desc *cloudcall.OperationDescriptor, cause error, format string, args ...any) error {
	return &cloudcall.Error{
		Kind:   cloudcall.KindInvalidArguments,
		Op:     desc.Name,
		Detail: fmt.Sprintf(format, args...),
		Err:    cause,
	}
}
