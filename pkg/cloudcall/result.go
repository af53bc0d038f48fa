package cloudcall

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-viper/mapstructure/v2"
)

// JobHandle references work a provider completes asynchronously.
type JobHandle struct {
	ID string
	// Operation is the name of the submitting descriptor.
	Operation   string
	StatusCheck *StatusCheck
	// Submitted is the unwrapped body of the submitting call, if any.
	Submitted any
}

// Result is the successful outcome of a call.
type Result struct {
	Shape ResultShape
	// Value is the parsed, unwrapped payload: map[string]any, []any or a scalar.
	Value  any
	Absent bool
	Job    *JobHandle
	// StatusCode and Headers come from the response that produced the result.
	StatusCode int
	Headers    http.Header
}

// Items returns the payload as a collection. Absent payloads are empty and
// a single object is a one-element collection.
func (r *Result) Items() []any {
	if r == nil || r.Absent || r.Value == nil {
		return []any{}
	}

	if list, ok := r.Value.([]any); ok {
		return list
	}

	return []any{r.Value}
}

// Decode copies the payload into out, which must be a pointer. Field names
// follow json tags and scalar strings are converted to the target type.
// An absent payload leaves out untouched.
func (r *Result) Decode(out any) error {
	if r == nil || r.Absent || r.Value == nil {
		return nil
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           out,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeHookFunc(time.RFC3339),
			mapstructure.StringToTimeDurationHookFunc(),
		),
	})
	if err != nil {
		return fmt.Errorf("creating payload decoder: %w", err)
	}

	err = decoder.Decode(r.Value)
	if err != nil {
		return &Error{Kind: KindMalformedResponse, Detail: "decoding payload", Err: err}
	}

	return nil
}

// AbsentResult is the non-error outcome of an absorbed singleton or void call.
func AbsentResult(shape ResultShape) *Result {
	return &Result{Shape: shape, Absent: true}
}

// EmptyCollection is the non-error outcome of an absorbed collection call.
func EmptyCollection() *Result {
	return &Result{Shape: ShapeCollection, Value: []any{}}
}
