package cloudcall_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fivetwenty-io/cloudcall/pkg/cloudcall"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPromise_ResolveOnce(t *testing.T) {
	t.Parallel()

	p := cloudcall.NewPromise[int](nil)
	assert.False(t, p.IsDone())

	_, ok, err := p.Peek()
	assert.False(t, ok)
	require.NoError(t, err)

	assert.True(t, p.Resolve(42, nil))
	assert.False(t, p.Resolve(7, nil))
	assert.False(t, p.Cancel())

	value, err := p.Await(0)
	require.NoError(t, err)
	assert.Equal(t, 42, value)
	assert.True(t, p.IsDone())
}

func TestPromise_CancelPending(t *testing.T) {
	t.Parallel()

	var cancelled atomic.Bool

	p := cloudcall.NewPromise[string](func() { cancelled.Store(true) })

	assert.True(t, p.Cancel())
	assert.True(t, cancelled.Load())
	assert.False(t, p.Resolve("late", nil))

	_, err := p.Await(time.Second)
	require.Error(t, err)
	assert.True(t, cloudcall.IsCancelled(err))
}

func TestPromise_ClaimBlocksCancel(t *testing.T) {
	t.Parallel()

	p := cloudcall.NewPromise[string](nil)

	require.True(t, p.Claim())
	assert.False(t, p.Cancel())
	assert.False(t, p.Expire())
	assert.True(t, p.Resolve("done", nil))

	value, err := p.Await(0)
	require.NoError(t, err)
	assert.Equal(t, "done", value)
}

func TestPromise_GuardSkipsAfterCancel(t *testing.T) {
	t.Parallel()

	p := cloudcall.NewPromise[int](nil)
	p.Cancel()

	ran := false
	assert.False(t, p.Guard(func() { ran = true }))
	assert.False(t, ran)
}

func TestPromise_AwaitTimeoutExpires(t *testing.T) {
	t.Parallel()

	var cancelled atomic.Bool

	p := cloudcall.NewPromise[int](func() { cancelled.Store(true) })

	_, err := p.Await(10 * time.Millisecond)
	require.Error(t, err)
	assert.True(t, cloudcall.IsTimeout(err))
	assert.True(t, cancelled.Load())
}

func TestPromise_AwaitTimeoutWhileClaimed(t *testing.T) {
	t.Parallel()

	p := cloudcall.NewPromise[int](nil)
	require.True(t, p.Claim())

	go func() {
		time.Sleep(30 * time.Millisecond)
		p.Resolve(9, nil)
	}()

	value, err := p.Await(5 * time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 9, value)
}

func TestPromise_WaitContext(t *testing.T) {
	t.Parallel()

	t.Run("cancelled context", func(t *testing.T) {
		t.Parallel()

		p := cloudcall.NewPromise[int](nil)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := p.Wait(ctx)
		assert.True(t, cloudcall.IsCancelled(err))
	})

	t.Run("deadline", func(t *testing.T) {
		t.Parallel()

		p := cloudcall.NewPromise[int](nil)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
		defer cancel()

		_, err := p.Wait(ctx)
		assert.True(t, cloudcall.IsTimeout(err))
	})
}

func TestResolved(t *testing.T) {
	t.Parallel()

	p := cloudcall.Resolved[*cloudcall.Result](nil, cloudcall.ErrNotFound)
	assert.True(t, p.IsDone())

	_, err := p.Await(0)
	assert.True(t, cloudcall.IsNotFound(err))
}
