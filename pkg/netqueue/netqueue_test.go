package netqueue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hackforge/cachekit/pkg/online"
)

func TestQueue_runsJobs(t *testing.T) {
	q, err := New(Opts{Concurrency: 2})
	require.NoError(t, err)
	defer q.Close()

	var n int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := q.Do(context.Background(), 0, func(context.Context) error {
				atomic.AddInt32(&n, 1)
				return nil
			})
			require.NoError(t, err)
		}()
	}
	wg.Wait()
	require.EqualValues(t, 16, n)
}

func TestQueue_priorityOrder(t *testing.T) {
	q, err := New(Opts{Concurrency: 1})
	require.NoError(t, err)
	defer q.Close()

	// Occupy the single worker so later submissions pile up in the heap.
	gate := make(chan struct{})
	blocker := q.Submit(context.Background(), 100, func(context.Context) error {
		<-gate
		return nil
	})
	time.Sleep(time.Millisecond * 20) // let the blocker start

	var mu sync.Mutex
	var order []int
	record := func(pri int) Job {
		return func(context.Context) error {
			mu.Lock()
			order = append(order, pri)
			mu.Unlock()
			return nil
		}
	}

	d1 := q.Submit(context.Background(), 1, record(1))
	d2 := q.Submit(context.Background(), 10, record(10))
	d3 := q.Submit(context.Background(), 5, record(5))

	close(gate)
	require.NoError(t, <-blocker)
	require.NoError(t, <-d1)
	require.NoError(t, <-d2)
	require.NoError(t, <-d3)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []int{10, 5, 1}, order)
}

func TestQueue_retries(t *testing.T) {
	q, err := New(Opts{Concurrency: 1, MaxRetries: 2, RetryDelay: time.Millisecond})
	require.NoError(t, err)
	defer q.Close()

	var attempts int32
	err = q.Do(context.Background(), 0, func(context.Context) error {
		if atomic.AddInt32(&attempts, 1) < 3 {
			return errors.New("flaky")
		}
		return nil
	})
	require.NoError(t, err)
	require.EqualValues(t, 3, attempts)
}

func TestQueue_retriesExhausted(t *testing.T) {
	q, err := New(Opts{Concurrency: 1, MaxRetries: 1, RetryDelay: time.Millisecond})
	require.NoError(t, err)
	defer q.Close()

	wantErr := errors.New("permanent")
	var attempts int32
	err = q.Do(context.Background(), 0, func(context.Context) error {
		atomic.AddInt32(&attempts, 1)
		return wantErr
	})
	require.ErrorIs(t, err, wantErr)
	require.EqualValues(t, 2, attempts)
}

func TestQueue_offlineGating(t *testing.T) {
	flag := online.NewFlag(false)
	q, err := New(Opts{Concurrency: 1, Oracle: flag})
	require.NoError(t, err)
	defer q.Close()

	var ran atomic.Bool
	done := q.Submit(context.Background(), 0, func(context.Context) error {
		ran.Store(true)
		return nil
	})

	time.Sleep(time.Millisecond * 50)
	require.False(t, ran.Load(), "job must not dispatch while offline")

	flag.Set(true)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second * 5):
		t.Fatal("job never ran after going online")
	}
	require.True(t, ran.Load())
}

func TestQueue_closeFailsQueuedJobs(t *testing.T) {
	q, err := New(Opts{Concurrency: 1})
	require.NoError(t, err)

	gate := make(chan struct{})
	blocker := q.Submit(context.Background(), 10, func(context.Context) error {
		close(gate)
		time.Sleep(time.Millisecond * 20)
		return nil
	})
	<-gate
	queued := q.Submit(context.Background(), 0, func(context.Context) error { return nil })

	q.Close()
	require.NoError(t, <-blocker)
	require.ErrorIs(t, <-queued, ErrClosed)
}

func TestQueue_contextCancelledWhileQueued(t *testing.T) {
	q, err := New(Opts{Concurrency: 1})
	require.NoError(t, err)
	defer q.Close()

	gate := make(chan struct{})
	blocker := q.Submit(context.Background(), 10, func(context.Context) error {
		<-gate
		return nil
	})
	time.Sleep(time.Millisecond * 20)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = q.Do(ctx, 0, func(context.Context) error { return nil })
	require.ErrorIs(t, err, context.Canceled)

	close(gate)
	require.NoError(t, <-blocker)
}
