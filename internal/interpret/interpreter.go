// Package interpret turns raw responses into results or typed failures.
package interpret

import (
	"bytes"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/spf13/cast"

	"github.com/fivetwenty-io/cloudcall/internal/constants"
	"github.com/fivetwenty-io/cloudcall/pkg/cloudcall"
)

var (
	errAmbiguousEnvelope = errors.New("envelope has no single structured child")
	errJobIDMissing      = errors.New("job id not found")
)

// Interpreter maps responses through exception mappers and body parsers.
// Registration is safe while calls are in flight.
type Interpreter struct {
	mu      sync.RWMutex
	mappers map[string]cloudcall.ExceptionMapper
	parsers map[string]cloudcall.Parser
	logger  cloudcall.Logger
}

// Option configures the interpreter.
type Option func(*Interpreter)

// WithLogger sets the logger.
func WithLogger(logger cloudcall.Logger) Option {
	return func(i *Interpreter) {
		i.logger = logger
	}
}

// New creates an interpreter with the built-in mappers and the JSON, XML and
// YAML parsers registered.
func New(opts ...Option) *Interpreter {
	i := &Interpreter{
		mappers: builtinMappers(),
		parsers: map[string]cloudcall.Parser{
			constants.ParserJSON: cloudcall.ParserFunc(ParseJSON),
			constants.ParserXML:  cloudcall.ParserFunc(ParseXML),
			constants.ParserYAML: cloudcall.ParserFunc(ParseYAML),
		},
	}

	for _, opt := range opts {
		opt(i)
	}

	return i
}

// RegisterMapper adds or replaces an exception mapper.
func (i *Interpreter) RegisterMapper(name string, mapper cloudcall.ExceptionMapper) {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.mappers[name] = mapper
}

// RegisterParser adds or replaces a body parser.
func (i *Interpreter) RegisterParser(id string, parser cloudcall.Parser) {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.parsers[id] = parser
}

// Interpret produces the result of desc from resp. Non-2xx responses run the
// descriptor's mappers in order and the first to claim wins; unclaimed ones
// fail with the default kind for the status.
func (i *Interpreter) Interpret(desc *cloudcall.OperationDescriptor, resp *cloudcall.Response) (*cloudcall.Result, error) {
	if !resp.IsSuccess() {
		return i.failure(desc, resp)
	}

	return i.success(desc, resp)
}

func (i *Interpreter) failure(desc *cloudcall.OperationDescriptor, resp *cloudcall.Response) (*cloudcall.Result, error) {
	for _, name := range desc.Mappers {
		mapper, ok := i.mapper(name)
		if !ok {
			return nil, &cloudcall.Error{
				Kind:       cloudcall.KindMalformedResponse,
				Op:         desc.Name,
				StatusCode: resp.StatusCode,
				Err:        fmt.Errorf("%w: %s", cloudcall.ErrUnknownMapper, name),
			}
		}

		result, err := mapper.Map(desc, resp)
		if err != nil {
			err = completeError(err, desc.Name, resp.StatusCode)
			i.debug("response mapped to failure", desc, resp, map[string]interface{}{
				"mapper": name,
				"kind":   string(cloudcall.KindOf(err)),
			})

			return nil, err
		}

		if result != nil {
			i.debug("response absorbed", desc, resp, map[string]interface{}{"mapper": name})

			result.StatusCode = resp.StatusCode
			result.Headers = resp.Headers

			return result, nil
		}
	}

	err := &cloudcall.Error{
		Kind:       cloudcall.KindForStatus(resp.StatusCode),
		Op:         desc.Name,
		StatusCode: resp.StatusCode,
		Detail:     bodySnippet(resp.Body),
	}

	i.debug("response failed", desc, resp, map[string]interface{}{"kind": string(err.Kind)})

	return nil, err
}

func (i *Interpreter) success(desc *cloudcall.OperationDescriptor, resp *cloudcall.Response) (*cloudcall.Result, error) {
	shape := desc.ResultShapeOrDefault()
	result := &cloudcall.Result{
		Shape:      shape,
		StatusCode: resp.StatusCode,
		Headers:    resp.Headers,
	}

	if shape == cloudcall.ShapeVoid {
		result.Absent = true

		return result, nil
	}

	var (
		value  any
		absent = true
	)

	if len(bytes.TrimSpace(resp.Body)) > 0 {
		doc, err := i.parse(desc, resp)
		if err != nil {
			return nil, err
		}

		value, absent, err = Unwrap(doc, desc.UnwrapDepth)
		if err != nil {
			return nil, completeError(err, desc.Name, resp.StatusCode)
		}
	}

	switch shape {
	case cloudcall.ShapeCollection:
		result.Value = asList(value, absent)
	case cloudcall.ShapeJob:
		job, err := jobHandle(desc, resp, value)
		if err != nil {
			return nil, err
		}

		result.Job = job
		result.Value = value
		result.Absent = absent
	default:
		result.Value = value
		result.Absent = absent
	}

	return result, nil
}

// parse picks the descriptor's parser, else one matching the response
// content type, else one matching the declared Consumes type, else JSON.
func (i *Interpreter) parse(desc *cloudcall.OperationDescriptor, resp *cloudcall.Response) (any, error) {
	id := desc.Parser
	if id == "" {
		id = parserForContentType(resp.ContentType())
	}

	if id == "" {
		id = parserForContentType(desc.Consumes)
	}

	if id == "" {
		id = constants.ParserJSON
	}

	i.mu.RLock()
	parser, ok := i.parsers[id]
	i.mu.RUnlock()

	if !ok {
		return nil, &cloudcall.Error{
			Kind:       cloudcall.KindMalformedResponse,
			Op:         desc.Name,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%w: %s", cloudcall.ErrUnknownParser, id),
		}
	}

	doc, err := parser.Parse(resp.Body)
	if err != nil {
		return nil, &cloudcall.Error{
			Kind:       cloudcall.KindMalformedResponse,
			Op:         desc.Name,
			StatusCode: resp.StatusCode,
			Detail:     "parsing " + id + " body",
			Err:        err,
		}
	}

	return doc, nil
}

func parserForContentType(contentType string) string {
	contentType, _, _ = strings.Cut(contentType, ";")
	contentType = strings.ToLower(strings.TrimSpace(contentType))

	switch {
	case contentType == "":
		return ""
	case contentType == constants.ContentTypeJSON, strings.HasSuffix(contentType, "+json"):
		return constants.ParserJSON
	case contentType == constants.ContentTypeXML, contentType == "text/xml", strings.HasSuffix(contentType, "+xml"):
		return constants.ParserXML
	case contentType == constants.ContentTypeYAML, contentType == "application/x-yaml",
		contentType == "text/yaml", strings.HasSuffix(contentType, "+yaml"):
		return constants.ParserYAML
	default:
		return ""
	}
}

func asList(value any, absent bool) []any {
	if absent || value == nil {
		return []any{}
	}

	if list, ok := value.([]any); ok {
		return list
	}

	return []any{value}
}

// jobHandle reads the job id from JobIDField of the unwrapped body, or from
// the last segment of the Location header.
func jobHandle(desc *cloudcall.OperationDescriptor, resp *cloudcall.Response, value any) (*cloudcall.JobHandle, error) {
	var id string

	if desc.JobIDField != "" {
		if raw, ok := Lookup(value, desc.JobIDField); ok {
			id = cast.ToString(raw)
		}
	} else if location := resp.Headers.Get(constants.HeaderLocation); location != "" {
		id = path.Base(strings.TrimRight(location, "/"))
	}

	if id == "" || id == "." || id == "/" {
		return nil, &cloudcall.Error{
			Kind:       cloudcall.KindMalformedResponse,
			Op:         desc.Name,
			StatusCode: resp.StatusCode,
			Detail:     "job-shaped response",
			Err:        errJobIDMissing,
		}
	}

	return &cloudcall.JobHandle{
		ID:          id,
		Operation:   desc.Name,
		StatusCheck: desc.StatusCheck,
		Submitted:   value,
	}, nil
}

func (i *Interpreter) mapper(name string) (cloudcall.ExceptionMapper, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	mapper, ok := i.mappers[name]

	return mapper, ok
}

func (i *Interpreter) debug(msg string, desc *cloudcall.OperationDescriptor, resp *cloudcall.Response, fields map[string]interface{}) {
	if i.logger == nil {
		return
	}

	fields["operation"] = desc.Name
	fields["status"] = resp.StatusCode
	i.logger.Debug(msg, fields)
}

// completeError fills in the operation and status of a mapper error. Plain
// errors are classified by status.
func completeError(err error, op string, status int) error {
	var callErr *cloudcall.Error
	if !errors.As(err, &callErr) {
		return &cloudcall.Error{
			Kind:       cloudcall.KindForStatus(status),
			Op:         op,
			StatusCode: status,
			Err:        err,
		}
	}

	out := *callErr
	if out.Op == "" {
		out.Op = op
	}

	if out.StatusCode == 0 {
		out.StatusCode = status
	}

	return &out
}
