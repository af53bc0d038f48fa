package cloudcall

import "context"

// Filter mutates a compiled request before dispatch. Filters run in the order
// a descriptor lists them and each sees the previous filter's output.
type Filter interface {
	Apply(ctx context.Context, req *Request) (*Request, error)
}

// FilterFunc adapts a function to Filter.
type FilterFunc func(ctx context.Context, req *Request) (*Request, error)

// Apply implements Filter.
func (f FilterFunc) Apply(ctx context.Context, req *Request) (*Request, error) {
	return f(ctx, req)
}

// CredentialSource supplies the current credential (token, session id).
// Implementations must be safe for concurrent use.
type CredentialSource interface {
	Credential(ctx context.Context) (string, error)
}

// EndpointResolver maps a domain value to the endpoint URI of a call.
type EndpointResolver func(value any) (string, error)

// Parser decodes a response body into a generic document made of
// map[string]any, []any and scalars.
type Parser interface {
	Parse(body []byte) (any, error)
}

// ParserFunc adapts a function to Parser.
type ParserFunc func(body []byte) (any, error)

// Parse implements Parser.
func (f ParserFunc) Parse(body []byte) (any, error) {
	return f(body)
}

// ExceptionMapper inspects a non-2xx response. It claims the response by
// returning a non-nil result (absorb) or error; nil, nil passes it on.
type ExceptionMapper interface {
	Map(desc *OperationDescriptor, resp *Response) (*Result, error)
}

// MapperFunc adapts a function to ExceptionMapper.
type MapperFunc func(desc *OperationDescriptor, resp *Response) (*Result, error)

// Map implements ExceptionMapper.
func (f MapperFunc) Map(desc *OperationDescriptor, resp *Response) (*Result, error) {
	return f(desc, resp)
}

// StatusDecoder reads a job status from an interpreted status-check result.
type StatusDecoder interface {
	Decode(res *Result) (StatusReport, error)
}

// StatusDecoderFunc adapts a function to StatusDecoder.
type StatusDecoderFunc func(res *Result) (StatusReport, error)

// Decode implements StatusDecoder.
func (f StatusDecoderFunc) Decode(res *Result) (StatusReport, error) {
	return f(res)
}
