// Package online tracks backend reachability. Fetch strategies consult an
// Oracle to decide between network and cache; anything that can answer
// "are we online" and notify on change can back it.
package online

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var nopLogger = zap.NewNop()

type Oracle interface {
	Online() bool

	// Subscribe registers fn to be called whenever the state flips. The
	// returned func cancels the subscription. fn runs on the flipping
	// goroutine and must not block.
	Subscribe(fn func(online bool)) (cancel func())
}

// Flag is the basic Oracle: an atomic bool with change notification.
// A zero Flag is offline; use NewFlag to choose the initial state.
type Flag struct {
	online uint32

	mu     sync.Mutex
	nextID int
	subs   map[int]func(bool)
}

var _ Oracle = (*Flag)(nil)

func NewFlag(online bool) *Flag {
	f := new(Flag)
	if online {
		f.online = 1
	}
	return f
}

func (f *Flag) Online() bool {
	return atomic.LoadUint32(&f.online) != 0
}

// Set updates the state and notifies subscribers, but only on an actual
// flip.
func (f *Flag) Set(online bool) {
	var from, to uint32
	if online {
		to = 1
	} else {
		from = 1
	}
	if !atomic.CompareAndSwapUint32(&f.online, from, to) {
		return
	}

	f.mu.Lock()
	subs := make([]func(bool), 0, len(f.subs))
	for _, fn := range f.subs {
		subs = append(subs, fn)
	}
	f.mu.Unlock()

	for _, fn := range subs {
		fn(online)
	}
}

func (f *Flag) Subscribe(fn func(online bool)) (cancel func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subs == nil {
		f.subs = make(map[int]func(bool))
	}
	id := f.nextID
	f.nextID++
	f.subs[id] = fn

	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.subs, id)
	}
}

type ProberOpts struct {
	// Probe reports backend reachability. Cannot be nil.
	Probe func(ctx context.Context) error

	// Interval between probes while online. Default 30s.
	Interval time.Duration

	// ProbeTimeout bounds a single probe. Default 5s.
	ProbeTimeout time.Duration

	// Logger for probe failures. A nil Logger disables logging.
	Logger *zap.Logger
}

func (opts *ProberOpts) Init() error {
	if opts.Probe == nil {
		return errors.New("nil probe func")
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Second * 30
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = time.Second * 5
	}
	if opts.Logger == nil {
		opts.Logger = nopLogger
	}
	return nil
}

// Prober drives a Flag from a periodic probe. While offline it retries
// with increasing backoff instead of waiting a full interval, so recovery
// is noticed quickly.
type Prober struct {
	opts ProberOpts
	flag *Flag

	closed    uint32
	closeChan chan struct{}
}

var _ Oracle = (*Prober)(nil)

// NewProber assumes online until the first probe says otherwise, so a
// freshly started process does not spuriously fail network-first calls.
func NewProber(opts ProberOpts) (*Prober, error) {
	if err := opts.Init(); err != nil {
		return nil, err
	}
	p := &Prober{
		opts:      opts,
		flag:      NewFlag(true),
		closeChan: make(chan struct{}),
	}
	go p.loop()
	return p, nil
}

func (p *Prober) Online() bool {
	return p.flag.Online()
}

func (p *Prober) Subscribe(fn func(online bool)) (cancel func()) {
	return p.flag.Subscribe(fn)
}

func (p *Prober) Close() error {
	if atomic.CompareAndSwapUint32(&p.closed, 0, 1) {
		close(p.closeChan)
	}
	return nil
}

func (p *Prober) loop() {
	const maxBackoff = time.Second * 30
	backoff := time.Millisecond * 100

	for {
		ctx, cancel := context.WithTimeout(context.Background(), p.opts.ProbeTimeout)
		err := p.opts.Probe(ctx)
		cancel()

		var wait time.Duration
		if err != nil {
			p.flag.Set(false)
			if backoff >= maxBackoff {
				backoff = maxBackoff
			} else {
				backoff += time.Duration(rand.Intn(1000)) * time.Millisecond
			}
			p.opts.Logger.Warn("probe failed", zap.Error(err), zap.Duration("next_probe", backoff))
			wait = backoff
		} else {
			p.flag.Set(true)
			backoff = time.Millisecond * 100
			wait = p.opts.Interval
		}

		select {
		case <-p.closeChan:
			return
		case <-time.After(wait):
		}
	}
}
