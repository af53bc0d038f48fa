// Package jobs tracks asynchronous provider jobs to completion.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fivetwenty-io/cloudcall/internal/constants"
	"github.com/fivetwenty-io/cloudcall/internal/interpret"
	"github.com/fivetwenty-io/cloudcall/pkg/cloudcall"
)

// Poller runs the status check of a job until the job reaches a terminal
// state. Polls of one job are strictly sequential; separate jobs are
// tracked independently.
type Poller struct {
	invoker    cloudcall.Invoker
	policy     IntervalPolicy
	maxPolls   int
	maxElapsed time.Duration
	store      Store
	logger     cloudcall.Logger
	now        func() time.Time

	mu      sync.RWMutex
	decoder cloudcall.StatusDecoder
}

// Option configures the poller.
type Option func(*Poller)

// WithIntervalPolicy sets the delay between polls.
func WithIntervalPolicy(policy IntervalPolicy) Option {
	return func(p *Poller) {
		p.policy = policy
	}
}

// WithLimits bounds each job by poll count and elapsed time. Zero disables
// a bound.
func WithLimits(maxPolls int, maxElapsed time.Duration) Option {
	return func(p *Poller) {
		p.maxPolls = maxPolls
		p.maxElapsed = maxElapsed
	}
}

// WithStore records job bookkeeping in store.
func WithStore(store Store) Option {
	return func(p *Poller) {
		p.store = store
	}
}

// WithLogger sets the logger.
func WithLogger(logger cloudcall.Logger) Option {
	return func(p *Poller) {
		p.logger = logger
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Poller) {
		p.now = now
	}
}

// NewPoller creates a poller issuing status checks through invoker.
func NewPoller(invoker cloudcall.Invoker, decoder cloudcall.StatusDecoder, opts ...Option) *Poller {
	p := &Poller{
		invoker:    invoker,
		decoder:    decoder,
		policy:     Fixed(constants.DefaultPollInterval),
		maxPolls:   constants.DefaultMaxPolls,
		maxElapsed: constants.DefaultJobPollTimeout,
		store:      NewNopStore(),
		now:        time.Now,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// SetDecoder replaces the status decoder.
func (p *Poller) SetDecoder(decoder cloudcall.StatusDecoder) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.decoder = decoder
}

// Decoder returns the current status decoder.
func (p *Poller) Decoder() cloudcall.StatusDecoder {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.decoder
}

// Store returns the job store.
func (p *Poller) Store() Store {
	return p.store
}

// Track polls handle in the background. Cancelling the future cancels the
// status check in flight and stops further polls.
func (p *Poller) Track(ctx context.Context, handle *cloudcall.JobHandle) *cloudcall.Future {
	trackCtx, cancel := context.WithCancel(ctx)
	future := cloudcall.NewPromise[*cloudcall.Result](cancel)

	go func() {
		defer cancel()

		result, err := p.Run(trackCtx, handle)
		future.Resolve(result, err)
	}()

	return future
}

// Run polls handle until it succeeds, fails, exceeds a bound or ctx ends.
// The first status check is issued at once.
func (p *Poller) Run(ctx context.Context, handle *cloudcall.JobHandle) (*cloudcall.Result, error) {
	check := handle.StatusCheck
	if check == nil || check.Operation == nil {
		return nil, &cloudcall.Error{
			Kind: cloudcall.KindInvalidArguments,
			Op:   handle.Operation,
			Err:  cloudcall.ErrStatusCheckRequired,
		}
	}

	decoder := p.Decoder()
	if decoder == nil {
		return nil, &cloudcall.Error{
			Kind: cloudcall.KindInvalidArguments,
			Op:   handle.Operation,
			Err:  constants.ErrNoStatusDecoder,
		}
	}

	job := cloudcall.NewAsyncJob(handle, p.now())
	job.Tracker = uuid.NewString()
	p.save(ctx, job)

	defer p.forget(ctx, job)

	for attempt := 0; ; attempt++ {
		args := cloudcall.NewArgs().Bind(check.JobIDParam, handle.ID)

		status, err := p.invoker.Invoke(ctx, check.Operation, args).Wait(ctx)
		if err != nil {
			return nil, err
		}

		report, err := decoder.Decode(status)
		if err != nil {
			return nil, &cloudcall.Error{
				Kind:   cloudcall.KindMalformedResponse,
				Op:     check.Operation.Name,
				Detail: "decoding job status",
				Err:    err,
			}
		}

		err = job.Advance(report, p.now())
		if err != nil {
			return nil, fmt.Errorf("advancing job %s: %w", job.ID, err)
		}

		p.save(ctx, job)

		if p.logger != nil {
			p.logger.Debug("job polled", map[string]interface{}{
				"job_id":    job.ID,
				"operation": job.Operation,
				"status":    string(job.Status),
				"polls":     job.Polls,
			})
		}

		switch job.Status {
		case cloudcall.JobSucceeded:
			p.logTerminal(job)

			return succeeded(job, check)
		case cloudcall.JobFailed:
			p.logTerminal(job)

			return nil, failed(job)
		case cloudcall.JobPending, cloudcall.JobInProgress:
		}

		if p.maxPolls > 0 && job.Polls >= p.maxPolls {
			return nil, p.timeout(job, fmt.Sprintf("job still %s after %d polls", job.Status, job.Polls))
		}

		delay := p.policy.Next(attempt)

		if p.maxElapsed > 0 && job.Elapsed(p.now())+delay >= p.maxElapsed {
			return nil, p.timeout(job, fmt.Sprintf("job still %s after %s", job.Status, job.Elapsed(p.now())))
		}

		err = sleep(ctx, delay)
		if err != nil {
			return nil, err
		}
	}
}

func succeeded(job *cloudcall.AsyncJob, check *cloudcall.StatusCheck) (*cloudcall.Result, error) {
	value, absent, err := interpret.Unwrap(job.Result, check.ResultUnwrap)
	if err != nil {
		var callErr *cloudcall.Error
		if errors.As(err, &callErr) && callErr.Op == "" {
			withOp := *callErr
			withOp.Op = job.Operation

			return nil, &withOp
		}

		return nil, err
	}

	return &cloudcall.Result{
		Shape:  cloudcall.ShapeSingleton,
		Value:  value,
		Absent: absent,
	}, nil
}

// failed derives the error of a failed job. An explicit kind wins, then the
// job's status-like code; anything unrecognised is a server fault.
func failed(job *cloudcall.AsyncJob) error {
	detail := job.ErrorDetail
	err := &cloudcall.Error{
		Kind:   cloudcall.KindServerFault,
		Op:     job.Operation,
		Detail: "job " + job.ID + " failed",
	}

	if detail == nil {
		return err
	}

	err.StatusCode = detail.Code

	if detail.Message != "" {
		err.Detail += ": " + detail.Message
	}

	switch {
	case detail.Kind != "":
		err.Kind = detail.Kind
	case detail.Code == http.StatusConflict:
		err.Kind = cloudcall.KindConflict
	case detail.Code == http.StatusTooManyRequests:
		err.Kind = cloudcall.KindRateLimited
	case detail.Code != 0:
		if kind := cloudcall.KindForStatus(detail.Code); kind != cloudcall.KindMalformedResponse {
			err.Kind = kind
		}
	}

	return err
}

func (p *Poller) timeout(job *cloudcall.AsyncJob, detail string) error {
	if p.logger != nil {
		p.logger.Warn("job polling gave up", map[string]interface{}{
			"job_id":    job.ID,
			"operation": job.Operation,
			"polls":     job.Polls,
		})
	}

	return &cloudcall.Error{Kind: cloudcall.KindTimeout, Op: job.Operation, Detail: detail}
}

func (p *Poller) logTerminal(job *cloudcall.AsyncJob) {
	if p.logger == nil {
		return
	}

	p.logger.Info("job finished", map[string]interface{}{
		"job_id":    job.ID,
		"operation": job.Operation,
		"status":    string(job.Status),
		"polls":     job.Polls,
		"elapsed":   job.Elapsed(p.now()).String(),
	})
}

func (p *Poller) save(ctx context.Context, job *cloudcall.AsyncJob) {
	err := p.store.Save(ctx, job)
	if err != nil && p.logger != nil {
		p.logger.Warn("saving job record failed", map[string]interface{}{
			"job_id": job.ID,
			"error":  err.Error(),
		})
	}
}

// forget drops the record once the job has been handed back to the caller.
func (p *Poller) forget(ctx context.Context, job *cloudcall.AsyncJob) {
	err := p.store.Delete(context.WithoutCancel(ctx), job.RecordKey())
	if err != nil && p.logger != nil {
		p.logger.Warn("deleting job record failed", map[string]interface{}{
			"job_id": job.ID,
			"error":  err.Error(),
		})
	}
}

// sleep waits for delay or until ctx ends.
func sleep(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		kind := cloudcall.KindCancelled
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			kind = cloudcall.KindTimeout
		}

		return &cloudcall.Error{Kind: kind, Detail: "job polling stopped", Err: ctx.Err()}
	}
}
