// Package catalog decodes YAML operation tables into validated descriptors.
package catalog

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/fivetwenty-io/cloudcall/pkg/cloudcall"
)

// Static errors for err113 compliance.
var (
	ErrInvalidTable          = errors.New("invalid operation table")
	ErrUnknownStatusCheck    = errors.New("status check names an unknown operation")
	ErrDuplicateOperation    = errors.New("operation declared twice")
	ErrStatusCheckParamUnset = errors.New("status check operation does not declare the job id parameter")
)

// Table is one YAML operation table. Defaults apply to every operation.
type Table struct {
	Provider   string   `validate:"omitempty,alphanum" yaml:"provider"`
	Defaults   Defaults `yaml:"defaults"`
	Operations []Entry  `validate:"required,min=1,dive" yaml:"operations"`
}

// Defaults are merged into every entry of a table. Default query pairs and
// mappers come after the entry's own; default headers and filters come before
// them.
type Defaults struct {
	Endpoint string        `validate:"omitempty,url"       yaml:"endpoint"`
	Query    []string      `validate:"dive,pair"           yaml:"query"`
	Headers  []string      `validate:"dive,pair"           yaml:"headers"`
	Consumes string        `yaml:"consumes"`
	Filters  []string      `validate:"dive,required"       yaml:"filters"`
	Mappers  []string      `validate:"dive,required"       yaml:"mappers"`
	Timeout  time.Duration `validate:"gte=0"               yaml:"timeout"`
}

// Entry declares one operation.
type Entry struct {
	Name        string            `validate:"required"                                            yaml:"name"`
	Method      string            `validate:"required,oneof=GET POST PUT PATCH DELETE HEAD"       yaml:"method"`
	Endpoint    string            `validate:"omitempty,url"                                       yaml:"endpoint"`
	Path        string            `yaml:"path"`
	Query       []string          `validate:"dive,pair"                                           yaml:"query"`
	Headers     []string          `validate:"dive,pair"                                           yaml:"headers"`
	Params      []ParamEntry      `validate:"dive"                                                yaml:"params"`
	Produces    string            `yaml:"produces"`
	Encoding    string            `validate:"omitempty,oneof=json form"                           yaml:"encoding"`
	Consumes    string            `yaml:"consumes"`
	Parser      string            `yaml:"parser"`
	Filters     []string          `validate:"dive,required"                                       yaml:"filters"`
	Mappers     []string          `validate:"dive,required"                                       yaml:"mappers"`
	Unwrap      int               `validate:"gte=0"                                               yaml:"unwrap"`
	Shape       string            `validate:"omitempty,oneof=singleton collection void job"       yaml:"shape"`
	JobIDField  string            `yaml:"job_id_field"`
	StatusCheck *StatusCheckEntry `validate:"omitempty"                                           yaml:"status_check"`
	Timeout     time.Duration     `validate:"gte=0"                                               yaml:"timeout"`
}

// ParamEntry declares one parameter of an operation.
type ParamEntry struct {
	Name     string `validate:"required"                                               yaml:"name"`
	Key      string `yaml:"key"`
	In       string `validate:"required,oneof=path query header form payload endpoint" yaml:"in"`
	Type     string `validate:"omitempty,oneof=string int bool uri any"                yaml:"type"`
	Required bool   `yaml:"required"`
	Multi    bool   `yaml:"multi"`
	Resolver string `yaml:"resolver"`
}

// StatusCheckEntry names the operation that polls a job-shaped entry.
type StatusCheckEntry struct {
	Operation    string `validate:"required" yaml:"operation"`
	JobIDParam   string `validate:"required" yaml:"job_id_param"`
	ResultUnwrap int    `validate:"gte=0"    yaml:"result_unwrap"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	// key=value with a non-empty key
	_ = v.RegisterValidation("pair", func(fl validator.FieldLevel) bool {
		key, _, ok := strings.Cut(fl.Field().String(), "=")

		return ok && key != ""
	})

	return v
}

// Parse decodes and validates a table. Unknown YAML keys are rejected.
func Parse(data []byte) (*Table, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	var table Table

	err := decoder.Decode(&table)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTable, err)
	}

	err = validate.Struct(&table)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTable, err)
	}

	return &table, nil
}

// Descriptors builds one descriptor per entry, in declaration order. Status
// checks are resolved by name against the same table, so an operation may be
// declared after the operations that poll with it.
func (t *Table) Descriptors() ([]*cloudcall.OperationDescriptor, error) {
	byName := make(map[string]*cloudcall.OperationDescriptor, len(t.Operations))
	out := make([]*cloudcall.OperationDescriptor, 0, len(t.Operations))

	for i := range t.Operations {
		entry := &t.Operations[i]

		if _, ok := byName[entry.Name]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateOperation, entry.Name)
		}

		desc := t.descriptor(entry)
		byName[entry.Name] = desc
		out = append(out, desc)
	}

	for i := range t.Operations {
		entry := &t.Operations[i]
		if entry.StatusCheck == nil {
			continue
		}

		check, ok := byName[entry.StatusCheck.Operation]
		if !ok {
			return nil, fmt.Errorf("%w: %s polls with %s", ErrUnknownStatusCheck, entry.Name, entry.StatusCheck.Operation)
		}

		if !declares(check, entry.StatusCheck.JobIDParam) {
			return nil, fmt.Errorf("%w: %s.%s", ErrStatusCheckParamUnset, check.Name, entry.StatusCheck.JobIDParam)
		}

		byName[entry.Name].StatusCheck = &cloudcall.StatusCheck{
			Operation:    check,
			JobIDParam:   entry.StatusCheck.JobIDParam,
			ResultUnwrap: entry.StatusCheck.ResultUnwrap,
		}
	}

	for _, desc := range out {
		err := desc.Validate()
		if err != nil {
			return nil, err
		}
	}

	return out, nil
}

func (t *Table) descriptor(entry *Entry) *cloudcall.OperationDescriptor {
	desc := &cloudcall.OperationDescriptor{
		Name:          entry.Name,
		Method:        entry.Method,
		Endpoint:      firstNonEmpty(entry.Endpoint, t.Defaults.Endpoint),
		Path:          entry.Path,
		StaticQuery:   append(pairs(entry.Query), pairs(t.Defaults.Query)...),
		StaticHeaders: append(pairs(t.Defaults.Headers), pairs(entry.Headers)...),
		Produces:      entry.Produces,
		BodyEncoding:  cloudcall.BodyEncoding(entry.Encoding),
		Consumes:      firstNonEmpty(entry.Consumes, t.Defaults.Consumes),
		Filters:       append(append([]string(nil), t.Defaults.Filters...), entry.Filters...),
		Mappers:       append(append([]string(nil), entry.Mappers...), t.Defaults.Mappers...),
		UnwrapDepth:   entry.Unwrap,
		Parser:        entry.Parser,
		Shape:         cloudcall.ResultShape(entry.Shape),
		JobIDField:    entry.JobIDField,
		Timeout:       entry.Timeout,
	}

	if desc.Timeout == 0 {
		desc.Timeout = t.Defaults.Timeout
	}

	for _, p := range entry.Params {
		desc.Params = append(desc.Params, cloudcall.Param{
			Name:        p.Name,
			Key:         p.Key,
			Role:        cloudcall.ParamRole(p.In),
			Type:        cloudcall.ValueType(p.Type),
			Required:    p.Required,
			MultiValued: p.Multi,
			Resolver:    p.Resolver,
		})
	}

	return desc
}

// Register builds the table's descriptors into cat.
func (t *Table) Register(cat *cloudcall.Catalog) error {
	descs, err := t.Descriptors()
	if err != nil {
		return err
	}

	for _, desc := range descs {
		err = cat.Register(desc)
		if err != nil {
			return err
		}
	}

	return nil
}

// Load parses data and registers its operations into cat.
func Load(data []byte, cat *cloudcall.Catalog) error {
	table, err := Parse(data)
	if err != nil {
		return err
	}

	return table.Register(cat)
}

// LoadFile reads a table from path and registers it into cat.
func LoadFile(path string, cat *cloudcall.Catalog) error {
	data, err := os.ReadFile(path) //nolint:gosec // Catalog paths come from configuration
	if err != nil {
		return fmt.Errorf("reading operation table: %w", err)
	}

	return Load(data, cat)
}

func declares(desc *cloudcall.OperationDescriptor, name string) bool {
	for _, p := range desc.Params {
		if p.Name == name {
			return true
		}
	}

	return false
}

func pairs(raw []string) []cloudcall.Pair {
	out := make([]cloudcall.Pair, 0, len(raw))

	for _, kv := range raw {
		key, value, _ := strings.Cut(kv, "=")
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
