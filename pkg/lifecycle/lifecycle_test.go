package lifecycle

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func Test_group_shutdownWaitsForAttached(t *testing.T) {
	g := NewGroup()

	var exited atomic.Int32
	for i := 0; i < 4; i++ {
		g.Attach(func(done func(), closing <-chan struct{}) {
			defer done()
			<-closing
			exited.Add(1)
		})
	}
	g.Done()
	g.Shutdown()

	if n := exited.Load(); n != 4 {
		t.Fatalf("%d goroutines exited, want 4", n)
	}
}

func Test_group_firstErrorWins(t *testing.T) {
	g := NewGroup()
	first := errors.New("first")

	g.Signal(first)
	g.Signal(errors.New("second"))
	g.Done()
	g.Shutdown()

	if !errors.Is(g.Err(), first) {
		t.Fatalf("err=%v, want %v", g.Err(), first)
	}
}

func Test_group_attachAfterClosingIsNoop(t *testing.T) {
	g := NewGroup()
	g.Signal(nil)

	ran := make(chan struct{})
	g.Attach(func(done func(), closing <-chan struct{}) {
		defer done()
		close(ran)
	})

	select {
	case <-ran:
		t.Fatal("attached goroutine ran on a closing group")
	case <-time.After(time.Millisecond * 20):
	}
	g.Done()
	g.Shutdown()
}

func Test_group_shutdownIsReentrant(t *testing.T) {
	g := NewGroup()
	g.Done()
	g.Shutdown()
	g.Shutdown()
}
