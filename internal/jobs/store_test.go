package jobs_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fivetwenty-io/cloudcall/internal/constants"
	"github.com/fivetwenty-io/cloudcall/internal/jobs"
	"github.com/fivetwenty-io/cloudcall/pkg/cloudcall"
)

func TestStoreFactory(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     cloudcall.JobStoreConfig
		want    any
		wantErr error
	}{
		{"default", cloudcall.JobStoreConfig{}, &jobs.MemoryStore{}, nil},
		{"memory", cloudcall.JobStoreConfig{Type: cloudcall.JobStoreMemory}, &jobs.MemoryStore{}, nil},
		{"none", cloudcall.JobStoreConfig{Type: cloudcall.JobStoreNone}, &jobs.NopStore{}, nil},
		{"nats without url", cloudcall.JobStoreConfig{Type: cloudcall.JobStoreNATS}, nil, constants.ErrNATSConfigRequired},
		{"unknown", cloudcall.JobStoreConfig{Type: "redis"}, nil, constants.ErrUnsupportedJobStoreType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			store, err := jobs.NewStore(context.Background(), tt.cfg)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)

				return
			}

			require.NoError(t, err)
			assert.IsType(t, tt.want, store)
			assert.NoError(t, store.Close())
		})
	}
}

func TestMemoryStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := jobs.NewMemoryStore()
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	second := cloudcall.NewAsyncJob(&cloudcall.JobHandle{ID: "b", Operation: "op"}, now.Add(time.Second))
	first := cloudcall.NewAsyncJob(&cloudcall.JobHandle{ID: "a", Operation: "op"}, now)

	require.NoError(t, store.Save(ctx, second))
	require.NoError(t, store.Save(ctx, first))

	first.Polls = 99

	loaded, err := store.Load(ctx, "a")
	require.NoError(t, err)
	assert.Zero(t, loaded.Polls, "the store keeps a copy")

	list, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].ID)
	assert.Equal(t, "b", list[1].ID)

	require.NoError(t, store.Delete(ctx, "a"))

	_, err = store.Load(ctx, "a")
	require.ErrorIs(t, err, constants.ErrJobNotFound)
}

func TestMemoryStore_SameJobTwice(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := jobs.NewMemoryStore()
	handle := &cloudcall.JobHandle{ID: "job-1", Operation: "op"}

	one := cloudcall.NewAsyncJob(handle, time.Now())
	one.Tracker = "one"
	two := cloudcall.NewAsyncJob(handle, time.Now())
	two.Tracker = "two"

	require.NoError(t, store.Save(ctx, one))
	require.NoError(t, store.Save(ctx, two))
	require.NoError(t, store.Delete(ctx, one.RecordKey()))

	list, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "two", list[0].Tracker)

	loaded, err := store.Load(ctx, two.RecordKey())
	require.NoError(t, err)
	assert.Equal(t, "job-1", loaded.ID)
}

func TestNopStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := jobs.NewNopStore()

	require.NoError(t, store.Save(ctx, &cloudcall.AsyncJob{ID: "a"}))

	_, err := store.Load(ctx, "a")
	require.ErrorIs(t, err, constants.ErrJobNotFound)

	list, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestCFJobDecoder(t *testing.T) {
	t.Parallel()

	decode := func(body string) (cloudcall.StatusReport, error) {
		var value any
		require.NoError(t, json.Unmarshal([]byte(body), &value))

		return jobs.CFJobDecoder.Decode(&cloudcall.Result{Value: value})
	}

	report, err := decode(`{"guid":"j","state":"PROCESSING"}`)
	require.NoError(t, err)
	assert.Equal(t, cloudcall.JobInProgress, report.Status)

	report, err = decode(`{"guid":"j","state":"COMPLETE"}`)
	require.NoError(t, err)
	assert.Equal(t, cloudcall.JobSucceeded, report.Status)
	assert.NotNil(t, report.Result)

	report, err = decode(`{"guid":"j","state":"FAILED","errors":[{"code":10008,"detail":"bad"},{"code":1,"detail":"worse"}]}`)
	require.NoError(t, err)
	assert.Equal(t, cloudcall.JobFailed, report.Status)
	assert.Equal(t, "multiple errors:\n  1. bad\n  2. worse", report.Error.Message)

	_, err = decode(`{"guid":"j","state":"WEIRD"}`)
	require.ErrorIs(t, err, constants.ErrUnexpectedPayload)
}
