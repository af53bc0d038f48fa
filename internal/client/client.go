// Package client wires the request pipeline: compile, filter, dispatch,
// interpret and, for job-shaped operations, poll to completion.
package client

import (
	"context"
	"errors"
	"time"

	"github.com/fivetwenty-io/cloudcall/internal/compiler"
	"github.com/fivetwenty-io/cloudcall/internal/constants"
	"github.com/fivetwenty-io/cloudcall/internal/dispatch"
	"github.com/fivetwenty-io/cloudcall/internal/filters"
	"github.com/fivetwenty-io/cloudcall/internal/interpret"
	"github.com/fivetwenty-io/cloudcall/internal/jobs"
	"github.com/fivetwenty-io/cloudcall/pkg/cloudcall"
)

// Engine implements cloudcall.Invoker.
type Engine struct {
	compiler    *compiler.Compiler
	filters     *filters.Registry
	dispatcher  *dispatch.Dispatcher
	interpreter *interpret.Interpreter
	poller      *jobs.Poller
	logger      cloudcall.Logger
	callTimeout time.Duration
	autoTrack   bool

	decoder     cloudcall.StatusDecoder
	pollOptions []jobs.Option
}

// Option configures the engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger cloudcall.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithCallTimeout bounds every dispatch of a descriptor without its own
// timeout. Zero means no bound.
func WithCallTimeout(timeout time.Duration) Option {
	return func(e *Engine) {
		e.callTimeout = timeout
	}
}

// WithAutoTrack makes job-shaped invocations resolve with the job's final
// payload instead of the job handle.
func WithAutoTrack(enabled bool) Option {
	return func(e *Engine) {
		e.autoTrack = enabled
	}
}

// WithStatusDecoder sets the decoder used to read status checks.
func WithStatusDecoder(decoder cloudcall.StatusDecoder) Option {
	return func(e *Engine) {
		e.decoder = decoder
	}
}

// WithPollOptions configures the job poller.
func WithPollOptions(opts ...jobs.Option) Option {
	return func(e *Engine) {
		e.pollOptions = append(e.pollOptions, opts...)
	}
}

// New creates an engine. Status checks issued by the poller run through the
// engine itself.
func New(
	comp *compiler.Compiler,
	registry *filters.Registry,
	dispatcher *dispatch.Dispatcher,
	interpreter *interpret.Interpreter,
	opts ...Option,
) *Engine {
	e := &Engine{
		compiler:    comp,
		filters:     registry,
		dispatcher:  dispatcher,
		interpreter: interpreter,
		callTimeout: constants.DefaultCallTimeout,
	}

	for _, opt := range opts {
		opt(e)
	}

	pollOptions := append([]jobs.Option{jobs.WithLogger(e.logger)}, e.pollOptions...)
	e.poller = jobs.NewPoller(e, e.decoder, pollOptions...)

	return e
}

// Invoke compiles, filters and dispatches desc with args. It never blocks;
// the future resolves with exactly one result or error. Cancelling the
// future before the response arrives guarantees the response is never
// interpreted.
func (e *Engine) Invoke(ctx context.Context, desc *cloudcall.OperationDescriptor, args *cloudcall.Args) *cloudcall.Future {
	callCtx, cancel := context.WithCancel(ctx)
	future := cloudcall.NewPromise[*cloudcall.Result](cancel)

	stop := context.AfterFunc(ctx, func() {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			future.Expire()
		} else {
			future.Cancel()
		}
	})

	go func() {
		defer cancel()
		defer stop()

		result, err := e.run(callCtx, future, desc, args)
		if err != nil && desc != nil {
			err = withOp(err, desc.Name)
		}

		future.Resolve(result, err)
	}()

	return future
}

// Track polls a job returned by an earlier invocation.
func (e *Engine) Track(ctx context.Context, handle *cloudcall.JobHandle) *cloudcall.Future {
	return e.poller.Track(ctx, handle)
}

func (e *Engine) run(
	ctx context.Context,
	future *cloudcall.Future,
	desc *cloudcall.OperationDescriptor,
	args *cloudcall.Args,
) (*cloudcall.Result, error) {
	if desc == nil {
		return nil, &cloudcall.Error{Kind: cloudcall.KindInvalidArguments, Err: cloudcall.ErrUnknownDescriptor}
	}

	req, err := e.compiler.Compile(desc, args)
	if err != nil {
		return nil, err
	}

	chain, err := e.filters.Chain(desc.Filters)
	if err != nil {
		e.warnRejected(desc, err)

		return nil, err
	}

	req, err = chain.Apply(ctx, req)
	if err != nil {
		e.warnRejected(desc, err)

		return nil, err
	}

	if ctx.Err() != nil {
		return nil, contextError(ctx)
	}

	timeout := desc.Timeout
	if timeout <= 0 {
		timeout = e.callTimeout
	}

	resp, err := e.dispatcher.Dispatch(ctx, req, timeout).Wait(ctx)
	if err != nil {
		return nil, err
	}

	tracking := e.autoTrack && desc.ResultShapeOrDefault() == cloudcall.ShapeJob &&
		desc.StatusCheck != nil && e.poller.Decoder() != nil

	var result *cloudcall.Result

	interpretResponse := func() { result, err = e.interpreter.Interpret(desc, resp) }

	if tracking {
		// The future stays cancellable while the job is polled.
		if !future.Guard(interpretResponse) {
			return nil, contextError(ctx)
		}
	} else {
		if !future.Claim() {
			return nil, contextError(ctx)
		}

		interpretResponse()
	}

	if err != nil || result.Job == nil || !tracking {
		return result, err
	}

	return e.poller.Run(ctx, result.Job)
}

// RegisterFilter adds or replaces a named filter.
func (e *Engine) RegisterFilter(name string, filter cloudcall.Filter) {
	e.filters.Register(name, filter)
}

// RegisterResolver adds or replaces a named endpoint resolver.
func (e *Engine) RegisterResolver(name string, resolver cloudcall.EndpointResolver) {
	e.compiler.RegisterResolver(name, resolver)
}

// RegisterMapper adds or replaces a named exception mapper.
func (e *Engine) RegisterMapper(name string, mapper cloudcall.ExceptionMapper) {
	e.interpreter.RegisterMapper(name, mapper)
}

// RegisterParser adds or replaces a body parser.
func (e *Engine) RegisterParser(id string, parser cloudcall.Parser) {
	e.interpreter.RegisterParser(id, parser)
}

// SetStatusDecoder replaces the decoder used to read status checks.
func (e *Engine) SetStatusDecoder(decoder cloudcall.StatusDecoder) {
	e.poller.SetDecoder(decoder)
}

// Calls returns how many requests were dispatched.
func (e *Engine) Calls() int64 {
	return e.dispatcher.Calls()
}

// Jobs returns the bookkeeping store of tracked jobs.
func (e *Engine) Jobs() jobs.Store {
	return e.poller.Store()
}

func (e *Engine) warnRejected(desc *cloudcall.OperationDescriptor, err error) {
	if e.logger == nil {
		return
	}

	e.logger.Warn("request rejected by filter chain", map[string]interface{}{
		"operation": desc.Name,
		"error":     err.Error(),
	})
}

func contextError(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &cloudcall.Error{Kind: cloudcall.KindTimeout, Detail: "call timed out", Err: ctx.Err()}
	}

	return &cloudcall.Error{Kind: cloudcall.KindCancelled, Detail: "call cancelled", Err: ctx.Err()}
}

// withOp names the operation on errors raised before it was known.
func withOp(err error, op string) error {
	var callErr *cloudcall.Error
	if !errors.As(err, &callErr) || callErr.Op != "" {
		return err
	}

	out := *callErr
	out.Op = op

	return &out
}
