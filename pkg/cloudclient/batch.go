package cloudclient

import (
	"context"
	"sync"
	"time"

	"github.com/fivetwenty-io/cloudcall/internal/constants"
	"github.com/fivetwenty-io/cloudcall/pkg/cloudcall"
)

// BatchOperation represents a single invocation in a batch.
type BatchOperation struct {
	ID         string
	Descriptor *cloudcall.OperationDescriptor
	Args       *cloudcall.Args
	Callback   func(result *BatchResult)
}

// BatchResult represents the result of a batch operation.
type BatchResult struct {
	ID       string
	Success  bool
	Result   *cloudcall.Result
	Error    error
	Duration time.Duration
}

// BatchExecutor executes batch operations.
type BatchExecutor struct {
	invoker     cloudcall.Invoker
	concurrency int
	timeout     time.Duration
}

// NewBatchExecutor creates a new batch executor. Concurrency defaults to
// DefaultConcurrencyLimit and is capped at MaxWorkers.
func NewBatchExecutor(invoker cloudcall.Invoker, concurrency int) *BatchExecutor {
	if concurrency <= 0 {
		concurrency = constants.DefaultConcurrencyLimit
	}

	return &BatchExecutor{
		invoker:     invoker,
		concurrency: min(concurrency, constants.MaxWorkers),
		timeout:     constants.DefaultCallTimeout,
	}
}

// SetTimeout bounds each operation, polling included. Zero means no bound.
func (b *BatchExecutor) SetTimeout(timeout time.Duration) {
	b.timeout = timeout
}

// Execute runs a batch of operations. Results are in operation order; a
// failed operation never stops the others.
func (b *BatchExecutor) Execute(ctx context.Context, operations []BatchOperation) []BatchResult {
	results := make([]BatchResult, len(operations))

	var waitGroup sync.WaitGroup

	semaphore := make(chan struct{}, b.concurrency)

	for index, operation := range operations {
		waitGroup.Add(1)

		go func(index int, operation BatchOperation) {
			defer waitGroup.Done()

			semaphore <- struct{}{}

			defer func() { <-semaphore }()

			start := time.Now()
			result := b.executeOperation(ctx, operation)
			result.Duration = time.Since(start)
			results[index] = *result

			if operation.Callback != nil {
				operation.Callback(result)
			}
		}(index, operation)
	}

	waitGroup.Wait()

	return results
}

func (b *BatchExecutor) executeOperation(ctx context.Context, operation BatchOperation) *BatchResult {
	opCtx, cancel := ctx, context.CancelFunc(func() {})
	if b.timeout > 0 {
		opCtx, cancel = context.WithTimeout(ctx, b.timeout)
	}
	defer cancel()

	res, err := b.invoker.Invoke(opCtx, operation.Descriptor, operation.Args).Wait(opCtx)

	return &BatchResult{
		ID:      operation.ID,
		Success: err == nil,
		Result:  res,
		Error:   err,
	}
}
