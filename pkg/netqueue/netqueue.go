// Package netqueue runs backend requests through a bounded-concurrency
// priority queue with per-job retries. Higher priority dispatches first;
// equal priorities dispatch in submit order. When an oracle is configured
// and reports offline, dispatch pauses until connectivity returns, so
// queued work survives an outage instead of burning its retries.
package netqueue

import (
	"container/heap"
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/hackforge/cachekit/pkg/lifecycle"
	"github.com/hackforge/cachekit/pkg/online"
	"github.com/hackforge/cachekit/pkg/pool"
)

var nopLogger = zap.NewNop()

// ErrClosed is returned for jobs that were still queued when the queue
// shut down.
var ErrClosed = errors.New("queue closed")

type Job func(ctx context.Context) error

type Opts struct {
	// Concurrency limits jobs running at once. Default 4.
	Concurrency int64

	// MaxRetries per job. Default 0 (single attempt).
	MaxRetries int

	// RetryDelay is the base backoff between attempts, doubled each time
	// with jitter. Default 200ms.
	RetryDelay time.Duration

	// Oracle gates dispatch on connectivity. Nil means always online.
	Oracle online.Oracle

	// Logger for retry noise. A nil Logger disables logging.
	Logger *zap.Logger
}

func (opts *Opts) Init() error {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Millisecond * 200
	}
	if opts.Logger == nil {
		opts.Logger = nopLogger
	}
	return nil
}

type item struct {
	pri  int
	seq  uint64
	ctx  context.Context
	job  Job
	done chan error
}

// jobHeap orders by priority descending, then submit order.
type jobHeap []*item

func (h jobHeap) Len() int { return len(h) }
func (h jobHeap) Less(i, j int) bool {
	if h[i].pri != h[j].pri {
		return h[i].pri > h[j].pri
	}
	return h[i].seq < h[j].seq
}
func (h jobHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *jobHeap) Push(x any) { *h = append(*h, x.(*item)) }
func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

type Queue struct {
	opts Opts

	sem *semaphore.Weighted
	lc  *lifecycle.Group
	seq uint64

	// closeCtx is cancelled when the queue starts closing, so blocking
	// acquires abort promptly.
	closeCtx    context.Context
	closeCancel context.CancelFunc

	mu     sync.Mutex
	heap   jobHeap
	notify chan struct{}

	onlineCh    chan struct{}
	unsubscribe func()
}

func New(opts Opts) (*Queue, error) {
	if err := opts.Init(); err != nil {
		return nil, err
	}

	q := &Queue{
		opts:     opts,
		sem:      semaphore.NewWeighted(opts.Concurrency),
		lc:       lifecycle.NewGroup(),
		notify:   make(chan struct{}, 1),
		onlineCh: make(chan struct{}, 1),
	}
	q.closeCtx, q.closeCancel = context.WithCancel(context.Background())
	go func() {
		<-q.lc.Closing()
		q.closeCancel()
	}()
	if opts.Oracle != nil {
		q.unsubscribe = opts.Oracle.Subscribe(func(on bool) {
			if on {
				select {
				case q.onlineCh <- struct{}{}:
				default:
				}
			}
		})
	}

	go q.dispatch()
	return q, nil
}

// Submit queues job with the given priority and returns a channel that
// receives the job's final error (nil on success) exactly once. ctx bounds
// the job's whole life, queue wait included.
func (q *Queue) Submit(ctx context.Context, priority int, job Job) <-chan error {
	it := &item{
		pri:  priority,
		seq:  atomic.AddUint64(&q.seq, 1),
		ctx:  ctx,
		job:  job,
		done: make(chan error, 1),
	}

	q.mu.Lock()
	select {
	case <-q.lc.Closing():
		q.mu.Unlock()
		it.done <- ErrClosed
		return it.done
	default:
	}
	heap.Push(&q.heap, it)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return it.done
}

// Do is Submit plus waiting for the result.
func (q *Queue) Do(ctx context.Context, priority int, job Job) error {
	done := q.Submit(ctx, priority, job)
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops dispatch, fails queued jobs with ErrClosed and waits for
// running jobs to finish.
func (q *Queue) Close() error {
	q.lc.Signal(nil)
	q.lc.Done()
	q.lc.Shutdown()
	if q.unsubscribe != nil {
		q.unsubscribe()
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	for _, it := range q.heap {
		it.done <- ErrClosed
	}
	q.heap = nil
	return nil
}

func (q *Queue) pop() *item {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.heap) == 0 {
		return nil
	}
	return heap.Pop(&q.heap).(*item)
}

func (q *Queue) online() bool {
	if q.opts.Oracle == nil {
		return true
	}
	return q.opts.Oracle.Online()
}

func (q *Queue) dispatch() {
	for {
		// The worker slot is taken before the heap is consulted, so a job
		// submitted while all workers are busy can still outrank everything
		// queued before it.
		if err := q.sem.Acquire(q.closeCtx, 1); err != nil {
			return
		}

		it := q.next()
		if it == nil {
			q.sem.Release(1)
			return
		}

		if !q.lc.Attach(func(done func(), closing <-chan struct{}) {
			defer done()
			defer q.sem.Release(1)
			it.done <- q.run(it)
		}) {
			q.sem.Release(1)
			it.done <- ErrClosed
			return
		}
	}
}

// next blocks until a dispatchable job is available. It returns nil when
// the queue is closing.
func (q *Queue) next() *item {
	for {
		it := q.pop()
		if it == nil {
			select {
			case <-q.lc.Closing():
				return nil
			case <-q.notify:
			}
			continue
		}

		// A job whose context died while queued is dropped here rather
		// than burning a worker slot.
		if err := it.ctx.Err(); err != nil {
			it.done <- err
			continue
		}

		// Hold dispatch while offline. The job keeps its queue position.
		for !q.online() {
			select {
			case <-q.lc.Closing():
				it.done <- ErrClosed
				return nil
			case <-q.onlineCh:
			case <-it.ctx.Done():
			}
			if err := it.ctx.Err(); err != nil {
				it.done <- err
				break
			}
		}
		if it.ctx.Err() != nil {
			continue
		}
		return it
	}
}

func (q *Queue) run(it *item) error {
	var lastErr error
	delay := q.opts.RetryDelay

	for attempt := 0; ; attempt++ {
		lastErr = it.job(it.ctx)
		if lastErr == nil {
			return nil
		}
		if attempt >= q.opts.MaxRetries {
			return lastErr
		}

		wait := delay + time.Duration(rand.Int63n(int64(delay)/2+1))
		delay *= 2
		q.opts.Logger.Debug("job failed, will retry",
			zap.Int("attempt", attempt+1), zap.Duration("backoff", wait), zap.Error(lastErr))

		timer := pool.GetTimer(wait)
		select {
		case <-it.ctx.Done():
			pool.ReleaseTimer(timer)
			return lastErr
		case <-q.lc.Closing():
			pool.ReleaseTimer(timer)
			return lastErr
		case <-timer.C:
			pool.ReleaseTimer(timer)
		}
	}
}
