package dispatch_test

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fivetwenty-io/cloudcall/internal/dispatch"
	"github.com/fivetwenty-io/cloudcall/pkg/cloudcall"
)

var errConnectionReset = errors.New("connection reset by peer")

func newRequest() *cloudcall.Request {
	return &cloudcall.Request{
		Operation: "listZones",
		Method:    http.MethodGet,
		URL:       &url.URL{Scheme: "https", Host: "api.example.com", Path: "/client/api"},
		Query:     cloudcall.NewOrderedValues(),
		Headers:   make(http.Header),
		Metadata:  make(map[string]interface{}),
	}
}

// blockingTransport holds every call until its context ends or release is closed.
type blockingTransport struct {
	release chan struct{}
	aborted atomic.Int32
}

func (b *blockingTransport) Do(ctx context.Context, _ *cloudcall.Request) (*cloudcall.Response, error) {
	select {
	case <-b.release:
		return &cloudcall.Response{StatusCode: http.StatusOK}, nil
	case <-ctx.Done():
		b.aborted.Add(1)

		return nil, ctx.Err()
	}
}

//nolint:funlen // Test functions can be longer for comprehensive testing
func TestDispatcher_Dispatch(t *testing.T) {
	t.Parallel()

	t.Run("resolves with the response", func(t *testing.T) {
		t.Parallel()

		dispatcher := dispatch.New(dispatch.TransportFunc(func(context.Context, *cloudcall.Request) (*cloudcall.Response, error) {
			return &cloudcall.Response{StatusCode: http.StatusAccepted, Body: []byte("ok")}, nil
		}))

		resp, err := dispatcher.Dispatch(context.Background(), newRequest(), 0).Await(time.Second)
		require.NoError(t, err)
		assert.Equal(t, http.StatusAccepted, resp.StatusCode)
		assert.Equal(t, int64(1), dispatcher.Calls())
	})

	t.Run("does not block the caller", func(t *testing.T) {
		t.Parallel()

		transport := &blockingTransport{release: make(chan struct{})}
		dispatcher := dispatch.New(transport)

		handle := dispatcher.Dispatch(context.Background(), newRequest(), 0)

		_, ok, _ := handle.Peek()
		assert.False(t, ok)
		assert.False(t, handle.IsDone())

		close(transport.release)

		resp, err := handle.Await(time.Second)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("transport failure is a server fault", func(t *testing.T) {
		t.Parallel()

		dispatcher := dispatch.New(dispatch.TransportFunc(func(context.Context, *cloudcall.Request) (*cloudcall.Response, error) {
			return nil, errConnectionReset
		}))

		_, err := dispatcher.Dispatch(context.Background(), newRequest(), 0).Await(time.Second)
		require.ErrorIs(t, err, cloudcall.ErrServerFault)
		require.ErrorIs(t, err, errConnectionReset)
	})

	t.Run("cancel aborts the request", func(t *testing.T) {
		t.Parallel()

		transport := &blockingTransport{release: make(chan struct{})}
		dispatcher := dispatch.New(transport)

		handle := dispatcher.Dispatch(context.Background(), newRequest(), 0)
		assert.True(t, handle.Cancel())
		assert.False(t, handle.Cancel())

		_, err := handle.Await(0)
		require.ErrorIs(t, err, cloudcall.ErrCancelled)
		assert.Eventually(t, func() bool { return transport.aborted.Load() == 1 }, time.Second, time.Millisecond)
	})

	t.Run("timeout expires the handle", func(t *testing.T) {
		t.Parallel()

		transport := &blockingTransport{release: make(chan struct{})}
		dispatcher := dispatch.New(transport)

		_, err := dispatcher.Dispatch(context.Background(), newRequest(), 20*time.Millisecond).Await(0)
		require.ErrorIs(t, err, cloudcall.ErrTimeout)
		assert.Eventually(t, func() bool { return transport.aborted.Load() == 1 }, time.Second, time.Millisecond)
	})

	t.Run("cancelled parent context", func(t *testing.T) {
		t.Parallel()

		transport := &blockingTransport{release: make(chan struct{})}
		dispatcher := dispatch.New(transport)

		ctx, cancel := context.WithCancel(context.Background())
		handle := dispatcher.Dispatch(ctx, newRequest(), 0)
		cancel()

		_, err := handle.Await(time.Second)
		require.ErrorIs(t, err, cloudcall.ErrCancelled)
	})

	t.Run("parent deadline is a timeout", func(t *testing.T) {
		t.Parallel()

		transport := &blockingTransport{release: make(chan struct{})}
		dispatcher := dispatch.New(transport)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()

		_, err := dispatcher.Dispatch(ctx, newRequest(), 0).Await(time.Second)
		require.ErrorIs(t, err, cloudcall.ErrTimeout)
	})
}

func TestDispatcher_Concurrency(t *testing.T) {
	t.Parallel()

	const total = 20

	var (
		inflight atomic.Int32
		peak     atomic.Int32
		gate     sync.WaitGroup
	)

	gate.Add(total)

	dispatcher := dispatch.New(dispatch.TransportFunc(func(context.Context, *cloudcall.Request) (*cloudcall.Response, error) {
		current := inflight.Add(1)
		for {
			old := peak.Load()
			if current <= old || peak.CompareAndSwap(old, current) {
				break
			}
		}

		gate.Done()
		gate.Wait()
		inflight.Add(-1)

		return &cloudcall.Response{StatusCode: http.StatusOK}, nil
	}))

	handles := make([]*dispatch.Handle, 0, total)
	for range total {
		handles = append(handles, dispatcher.Dispatch(context.Background(), newRequest(), 0))
	}

	for _, handle := range handles {
		_, err := handle.Await(5 * time.Second)
		require.NoError(t, err)
	}

	assert.Equal(t, int32(total), peak.Load())
	assert.Equal(t, int64(total), dispatcher.Calls())
}

func TestDispatcher_Metrics(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewRegistry()
	dispatcher := dispatch.New(
		dispatch.TransportFunc(func(context.Context, *cloudcall.Request) (*cloudcall.Response, error) {
			return &cloudcall.Response{StatusCode: http.StatusNotFound}, nil
		}),
		dispatch.WithMetrics(dispatch.NewMetrics(registry)),
	)

	_, err := dispatcher.Dispatch(context.Background(), newRequest(), 0).Await(time.Second)
	require.NoError(t, err)

	families, err := registry.Gather()
	require.NoError(t, err)

	counts := make(map[string]float64)

	for _, family := range families {
		for _, metric := range family.GetMetric() {
			switch {
			case metric.GetCounter() != nil:
				counts[family.GetName()] += metric.GetCounter().GetValue()

				for _, label := range metric.GetLabel() {
					if label.GetName() == "status" {
						assert.Equal(t, "404", label.GetValue())
					}
				}
			case metric.GetGauge() != nil:
				counts[family.GetName()] = metric.GetGauge().GetValue()
			}
		}
	}

	assert.InDelta(t, 1, counts["cloudcall_dispatch_calls_total"], 0)
	assert.InDelta(t, 0, counts["cloudcall_dispatch_inflight_calls"], 0)
}
