package client_test

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fivetwenty-io/cloudcall/internal/client"
	"github.com/fivetwenty-io/cloudcall/internal/compiler"
	"github.com/fivetwenty-io/cloudcall/internal/constants"
	"github.com/fivetwenty-io/cloudcall/internal/dispatch"
	"github.com/fivetwenty-io/cloudcall/internal/filters"
	"github.com/fivetwenty-io/cloudcall/internal/interpret"
	"github.com/fivetwenty-io/cloudcall/internal/jobs"
	"github.com/fivetwenty-io/cloudcall/pkg/cloudcall"
)

// MockLogger for testing.
type MockLogger struct {
	mu    sync.Mutex
	warns []string
}

func (l *MockLogger) Debug(string, map[string]interface{}) {}
func (l *MockLogger) Info(string, map[string]interface{})  {}
func (l *MockLogger) Error(string, map[string]interface{}) {}

func (l *MockLogger) Warn(msg string, _ map[string]interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.warns = append(l.warns, msg)
}

func jsonResponse(status int, body string) *cloudcall.Response {
	headers := make(http.Header)
	headers.Set("Content-Type", "application/json")

	return &cloudcall.Response{StatusCode: status, Headers: headers, Body: []byte(body)}
}

type harness struct {
	engine      *client.Engine
	interpreted atomic.Int32
}

// newHarness builds an engine over transport. Every interpretation of a
// body goes through a counting parser.
func newHarness(t *testing.T, transport dispatch.TransportFunc, opts ...client.Option) *harness {
	t.Helper()

	h := &harness{}

	interpreter := interpret.New()
	interpreter.RegisterParser(constants.ParserJSON, cloudcall.ParserFunc(func(body []byte) (any, error) {
		h.interpreted.Add(1)

		return interpret.ParseJSON(body)
	}))
	interpreter.RegisterMapper("count", cloudcall.MapperFunc(func(*cloudcall.OperationDescriptor, *cloudcall.Response) (*cloudcall.Result, error) {
		h.interpreted.Add(1)

		return nil, nil
	}))

	registry := filters.NewRegistry()
	registry.Register(constants.FilterBearer, filters.Bearer(filters.StaticCredential("token-1")))
	registry.Register("missing-session", filters.SessionCookie("vcloud-token", filters.StaticCredential("")))

	h.engine = client.New(
		compiler.New("https://cloud.example.com/client/api"),
		registry,
		dispatch.New(transport),
		interpreter,
		opts...,
	)

	return h
}

func listZones() *cloudcall.OperationDescriptor {
	return &cloudcall.OperationDescriptor{
		Name:        "listZones",
		Method:      http.MethodGet,
		StaticQuery: []cloudcall.Pair{{Key: "command", Value: "listZones"}},
		Params: []cloudcall.Param{
			{Name: "available", Role: cloudcall.RoleQuery, Type: cloudcall.TypeBool},
		},
		Filters:     []string{constants.FilterBearer},
		Mappers:     []string{"count"},
		Shape:       cloudcall.ShapeCollection,
		UnwrapDepth: 2,
	}
}

func TestEngine_Pipeline(t *testing.T) {
	t.Parallel()

	var seen *cloudcall.Request

	h := newHarness(t, func(_ context.Context, req *cloudcall.Request) (*cloudcall.Response, error) {
		seen = req

		return jsonResponse(http.StatusOK, `{"listzonesresponse":{"count":1,"zone":[{"id":"z1"}]}}`), nil
	})

	result, err := h.engine.Invoke(context.Background(), listZones(), cloudcall.NewArgs().Bind("available", true)).Await(time.Second)
	require.NoError(t, err)
	assert.Equal(t, []any{map[string]any{"id": "z1"}}, result.Items())

	require.NotNil(t, seen)
	assert.Equal(t, "https://cloud.example.com/client/api?command=listZones&available=true", seen.FullURL())
	assert.Equal(t, "Bearer token-1", seen.Headers.Get("Authorization"))
	assert.Equal(t, int64(1), h.engine.Calls())
}

func TestEngine_CancelBeforeCompletionNeverInterprets(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	arrived := make(chan struct{})

	h := newHarness(t, func(_ context.Context, _ *cloudcall.Request) (*cloudcall.Response, error) {
		close(arrived)

		<-release

		return jsonResponse(http.StatusNotFound, `{"listzonesresponse":{}}`), nil
	})

	future := h.engine.Invoke(context.Background(), listZones(), cloudcall.NewArgs())

	<-arrived
	assert.True(t, future.Cancel())
	close(release)

	_, err := future.Await(time.Second)
	require.ErrorIs(t, err, cloudcall.ErrCancelled)

	var callErr *cloudcall.Error
	require.ErrorAs(t, err, &callErr)
	assert.Equal(t, "listZones", callErr.Op)

	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, h.interpreted.Load(), "a cancelled call must never be interpreted")
	assert.True(t, future.IsDone())
}

func TestEngine_FilterFailureNeverDispatches(t *testing.T) {
	t.Parallel()

	logger := &MockLogger{}
	h := newHarness(t, func(context.Context, *cloudcall.Request) (*cloudcall.Response, error) {
		t.Error("transport must not be reached")

		return nil, nil
	}, client.WithLogger(logger))

	desc := listZones()
	desc.Filters = []string{constants.FilterBearer, "missing-session"}

	_, err := h.engine.Invoke(context.Background(), desc, cloudcall.NewArgs()).Await(time.Second)
	require.ErrorIs(t, err, cloudcall.ErrUnauthorized)
	assert.Zero(t, h.engine.Calls())

	desc.Filters = []string{"not-registered"}

	_, err = h.engine.Invoke(context.Background(), desc, cloudcall.NewArgs()).Await(time.Second)
	require.ErrorIs(t, err, cloudcall.ErrUnauthorized)
	assert.Zero(t, h.engine.Calls())

	logger.mu.Lock()
	defer logger.mu.Unlock()
	assert.Len(t, logger.warns, 2)
}

func TestEngine_Failures(t *testing.T) {
	t.Parallel()

	t.Run("invalid arguments", func(t *testing.T) {
		t.Parallel()

		h := newHarness(t, func(context.Context, *cloudcall.Request) (*cloudcall.Response, error) {
			return jsonResponse(http.StatusOK, `{}`), nil
		})

		_, err := h.engine.Invoke(context.Background(), listZones(), cloudcall.NewArgs().Bind("available", "maybe")).Await(time.Second)
		require.ErrorIs(t, err, cloudcall.ErrInvalidArguments)
		assert.Zero(t, h.engine.Calls())
	})

	t.Run("nil descriptor", func(t *testing.T) {
		t.Parallel()

		h := newHarness(t, nil)

		_, err := h.engine.Invoke(context.Background(), nil, nil).Await(time.Second)
		require.ErrorIs(t, err, cloudcall.ErrUnknownDescriptor)
	})

	t.Run("mapped status", func(t *testing.T) {
		t.Parallel()

		h := newHarness(t, func(context.Context, *cloudcall.Request) (*cloudcall.Response, error) {
			return jsonResponse(http.StatusUnauthorized, `{}`), nil
		})

		_, err := h.engine.Invoke(context.Background(), listZones(), nil).Await(time.Second)
		require.ErrorIs(t, err, cloudcall.ErrUnauthorized)
		assert.Equal(t, int32(1), h.interpreted.Load())
	})

	t.Run("descriptor timeout", func(t *testing.T) {
		t.Parallel()

		h := newHarness(t, func(ctx context.Context, _ *cloudcall.Request) (*cloudcall.Response, error) {
			<-ctx.Done()

			return nil, ctx.Err()
		})

		desc := listZones()
		desc.Timeout = 20 * time.Millisecond

		_, err := h.engine.Invoke(context.Background(), desc, nil).Await(time.Second)
		require.ErrorIs(t, err, cloudcall.ErrTimeout)
		assert.Zero(t, h.interpreted.Load())
	})

	t.Run("await expiry", func(t *testing.T) {
		t.Parallel()

		h := newHarness(t, func(ctx context.Context, _ *cloudcall.Request) (*cloudcall.Response, error) {
			<-ctx.Done()

			return nil, ctx.Err()
		}, client.WithCallTimeout(0))

		_, err := h.engine.Invoke(context.Background(), listZones(), nil).Await(20 * time.Millisecond)
		require.ErrorIs(t, err, cloudcall.ErrTimeout)
	})

	t.Run("parent context cancelled", func(t *testing.T) {
		t.Parallel()

		h := newHarness(t, func(ctx context.Context, _ *cloudcall.Request) (*cloudcall.Response, error) {
			<-ctx.Done()

			return nil, ctx.Err()
		})

		ctx, cancel := context.WithCancel(context.Background())
		future := h.engine.Invoke(ctx, listZones(), nil)
		cancel()

		_, err := future.Await(time.Second)
		require.ErrorIs(t, err, cloudcall.ErrCancelled)
	})
}

func deployDescriptors() *cloudcall.OperationDescriptor {
	query := &cloudcall.OperationDescriptor{
		Name:        "queryAsyncJobResult",
		Method:      http.MethodGet,
		StaticQuery: []cloudcall.Pair{{Key: "command", Value: "queryAsyncJobResult"}},
		Params:      []cloudcall.Param{{Name: "jobid", Role: cloudcall.RoleQuery, Required: true}},
		UnwrapDepth: 1,
	}

	return &cloudcall.OperationDescriptor{
		Name:        "deployVirtualMachine",
		Method:      http.MethodGet,
		StaticQuery: []cloudcall.Pair{{Key: "command", Value: "deployVirtualMachine"}},
		Shape:       cloudcall.ShapeJob,
		UnwrapDepth: 1,
		JobIDField:  "jobid",
		StatusCheck: &cloudcall.StatusCheck{Operation: query, JobIDParam: "jobid", ResultUnwrap: 1},
	}
}

var jobStatusDecoder = cloudcall.StatusDecoderFunc(func(res *cloudcall.Result) (cloudcall.StatusReport, error) {
	body, _ := res.Value.(map[string]any)

	switch body["jobstatus"] {
	case "1":
		return cloudcall.StatusReport{Status: cloudcall.JobSucceeded, Result: body["jobresult"]}, nil
	case "2":
		return cloudcall.StatusReport{Status: cloudcall.JobFailed, Error: &cloudcall.JobError{Code: 409}}, nil
	default:
		return cloudcall.StatusReport{Status: cloudcall.JobInProgress}, nil
	}
})

func jobTransport(polls *atomic.Int32, finalStatus string) dispatch.TransportFunc {
	return func(_ context.Context, req *cloudcall.Request) (*cloudcall.Response, error) {
		switch req.Query.Get("command") {
		case "deployVirtualMachine":
			return jsonResponse(http.StatusOK, `{"deployvirtualmachineresponse":{"id":"vm-1","jobid":"job-1"}}`), nil
		default:
			if req.Query.Get("jobid") != "job-1" {
				return jsonResponse(http.StatusNotFound, `{}`), nil
			}

			if polls.Add(1) < 3 {
				return jsonResponse(http.StatusOK, `{"queryasyncjobresultresponse":{"jobstatus":"0"}}`), nil
			}

			return jsonResponse(http.StatusOK, `{"queryasyncjobresultresponse":{"jobstatus":"`+finalStatus+
				`","jobresult":{"virtualmachine":{"id":"vm-1","state":"Running"}}}}`), nil
		}
	}
}

func TestEngine_AutoTrack(t *testing.T) {
	t.Parallel()

	var polls atomic.Int32

	h := newHarness(t, jobTransport(&polls, "1"),
		client.WithAutoTrack(true),
		client.WithStatusDecoder(jobStatusDecoder),
		client.WithPollOptions(jobs.WithIntervalPolicy(jobs.Fixed(constants.QuickPollInterval))))

	result, err := h.engine.Invoke(context.Background(), deployDescriptors(), nil).Await(5 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"id": "vm-1", "state": "Running"}, result.Value)
	assert.Equal(t, int32(3), polls.Load())
	assert.Equal(t, int64(4), h.engine.Calls())
}

func TestEngine_AutoTrackFailure(t *testing.T) {
	t.Parallel()

	var polls atomic.Int32

	h := newHarness(t, jobTransport(&polls, "2"),
		client.WithAutoTrack(true),
		client.WithStatusDecoder(jobStatusDecoder),
		client.WithPollOptions(jobs.WithIntervalPolicy(jobs.Fixed(constants.QuickPollInterval))))

	_, err := h.engine.Invoke(context.Background(), deployDescriptors(), nil).Await(5 * time.Second)
	require.ErrorIs(t, err, cloudcall.ErrConflict)
}

func TestEngine_ManualTrack(t *testing.T) {
	t.Parallel()

	var polls atomic.Int32

	h := newHarness(t, jobTransport(&polls, "1"),
		client.WithPollOptions(jobs.WithIntervalPolicy(jobs.Fixed(constants.QuickPollInterval))))

	submitted, err := h.engine.Invoke(context.Background(), deployDescriptors(), nil).Await(time.Second)
	require.NoError(t, err)
	require.NotNil(t, submitted.Job)
	assert.Equal(t, "job-1", submitted.Job.ID)
	assert.Zero(t, polls.Load())

	_, err = h.engine.Track(context.Background(), submitted.Job).Await(time.Second)
	require.ErrorIs(t, err, cloudcall.ErrInvalidArguments, "no decoder configured yet")

	h.engine.SetStatusDecoder(jobStatusDecoder)

	result, err := h.engine.Track(context.Background(), submitted.Job).Await(5 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "Running", result.Value.(map[string]any)["state"])
}

func TestEngine_CancelWhileTracking(t *testing.T) {
	t.Parallel()

	var polls atomic.Int32

	h := newHarness(t, func(_ context.Context, req *cloudcall.Request) (*cloudcall.Response, error) {
		if req.Query.Get("command") == "deployVirtualMachine" {
			return jsonResponse(http.StatusOK, `{"r":{"jobid":"job-1"}}`), nil
		}

		polls.Add(1)

		return jsonResponse(http.StatusOK, `{"r":{"jobstatus":"0"}}`), nil
	},
		client.WithAutoTrack(true),
		client.WithStatusDecoder(jobStatusDecoder),
		client.WithPollOptions(jobs.WithIntervalPolicy(jobs.Fixed(time.Hour)), jobs.WithLimits(0, 0)))

	future := h.engine.Invoke(context.Background(), deployDescriptors(), nil)

	require.Eventually(t, func() bool { return polls.Load() == 1 }, time.Second, time.Millisecond)
	assert.True(t, future.Cancel())

	_, err := future.Await(time.Second)
	require.ErrorIs(t, err, cloudcall.ErrCancelled)
	assert.Equal(t, int32(1), polls.Load())
}
