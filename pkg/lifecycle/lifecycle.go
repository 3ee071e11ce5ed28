// Package lifecycle coordinates the shutdown of a service and its helper
// goroutines: Shutdown returns only after every attached goroutine has
// exited.
//
//  1. The main service goroutine waits on Closing and calls Done before it
//     returns.
//  2. Helper goroutines are started through Attach and wait on Closing.
//  3. On a fatal error any goroutine may call Signal to close the whole
//     service. Shutdown must not be called from inside the service or it
//     deadlocks.
//  4. External callers use Shutdown to stop the service and wait.
package lifecycle

import "sync"

type Group struct {
	m        sync.Mutex
	wg       sync.WaitGroup
	closing  chan struct{}
	done     chan struct{}
	doneOnce sync.Once
	closeErr error
}

func NewGroup() *Group {
	return &Group{
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Shutdown signals the group and blocks until Done has been called and all
// attached goroutines have exited. Safe to call multiple times and from
// multiple goroutines.
func (g *Group) Shutdown() {
	g.Signal(nil)
	g.wg.Wait()
	<-g.done
}

// Signal closes the group. The first non-nil error wins.
func (g *Group) Signal(err error) {
	g.m.Lock()
	defer g.m.Unlock()

	select {
	case <-g.closing:
		return
	default:
		if err != nil {
			g.closeErr = err
		}
		close(g.closing)
	}
}

// Err returns the first Signal error.
func (g *Group) Err() error {
	g.m.Lock()
	defer g.m.Unlock()
	return g.closeErr
}

func (g *Group) Closing() <-chan struct{} {
	return g.closing
}

// Attach runs f on its own goroutine tracked by the group. f must call
// done when it finishes and should watch closing. If the group is already
// closing, f does not run and Attach returns false.
func (g *Group) Attach(f func(done func(), closing <-chan struct{})) bool {
	g.m.Lock()
	select {
	case <-g.closing:
		g.m.Unlock()
		return false
	default:
		g.wg.Add(1)
	}
	g.m.Unlock()

	go func() {
		f(g.wg.Done, g.closing)
	}()
	return true
}

// Done marks the main service goroutine as finished. Safe to call multiple
// times.
func (g *Group) Done() {
	g.doneOnce.Do(func() {
		close(g.done)
	})
}
