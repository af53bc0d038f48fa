// Package dispatch issues compiled requests without blocking the caller and
// hands back a cancellable, awaitable handle per call.
package dispatch

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/fivetwenty-io/cloudcall/internal/constants"
	"github.com/fivetwenty-io/cloudcall/pkg/cloudcall"
)

// Transport executes one request. Every HTTP status is a response; an error
// means nothing usable came back.
type Transport interface {
	Do(ctx context.Context, req *cloudcall.Request) (*cloudcall.Response, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, req *cloudcall.Request) (*cloudcall.Response, error)

// Do implements Transport.
func (f TransportFunc) Do(ctx context.Context, req *cloudcall.Request) (*cloudcall.Response, error) {
	return f(ctx, req)
}

// Handle is the outcome of one dispatched request.
type Handle = cloudcall.Promise[*cloudcall.Response]

// Dispatcher sends requests concurrently. It imposes no ordering between
// calls and no limit on how many are in flight.
type Dispatcher struct {
	transport Transport
	logger    cloudcall.Logger
	metrics   *Metrics
	calls     atomic.Int64
}

// Option configures the dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(logger cloudcall.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithMetrics records every call in m.
func WithMetrics(m *Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// New creates a dispatcher over transport.
func New(transport Transport, opts ...Option) *Dispatcher {
	d := &Dispatcher{transport: transport}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Calls returns how many requests reached the transport.
func (d *Dispatcher) Calls() int64 {
	return d.calls.Load()
}

// Dispatch starts req and returns at once. The handle resolves with the raw
// response, with KindServerFault on transport failure, with KindTimeout when
// timeout elapses first, or with KindCancelled when ctx ends or the handle is
// cancelled. A cancelled or expired handle aborts the in-flight I/O.
func (d *Dispatcher) Dispatch(ctx context.Context, req *cloudcall.Request, timeout time.Duration) *Handle {
	callCtx, cancel := context.WithCancel(ctx)
	handle := cloudcall.NewPromise[*cloudcall.Response](cancel)

	stopParent := context.AfterFunc(ctx, func() {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			handle.Expire()
		} else {
			handle.Cancel()
		}
	})

	var timer *time.Timer
	if timeout > 0 {
		timer = time.AfterFunc(timeout, func() { handle.Expire() })
	}

	d.calls.Add(1)
	d.metrics.started()

	requestID, _ := req.Metadata[constants.MetadataRequestID].(string)

	if d.logger != nil {
		d.logger.Debug("dispatching request", map[string]interface{}{
			"operation":  req.Operation,
			"method":     req.Method,
			"path":       req.URL.Path,
			"request_id": requestID,
		})
	}

	go func() {
		defer cancel()

		start := time.Now()
		resp, err := d.transport.Do(callCtx, req)
		elapsed := time.Since(start)

		stopParent()

		if timer != nil {
			timer.Stop()
		}

		status := 0
		if resp != nil {
			status = resp.StatusCode
		}

		d.metrics.finished(req.Operation, status, err, elapsed)

		if err != nil {
			if d.logger != nil {
				d.logger.Debug("request failed", map[string]interface{}{
					"operation":  req.Operation,
					"request_id": requestID,
					"duration":   elapsed.String(),
					"error":      err.Error(),
				})
			}

			handle.Resolve(nil, &cloudcall.Error{
				Kind:   cloudcall.KindServerFault,
				Op:     req.Operation,
				Detail: "transport failure",
				Err:    err,
			})

			return
		}

		if d.logger != nil {
			d.logger.Debug("request completed", map[string]interface{}{
				"operation":  req.Operation,
				"request_id": requestID,
				"status":     status,
				"duration":   elapsed.String(),
			})
		}

		handle.Resolve(resp, nil)
	}()

	return handle
}
