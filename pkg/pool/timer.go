// Package pool holds small sync.Pool helpers for hot paths.
package pool

import (
	"sync"
	"time"
)

var timerPool = sync.Pool{}

// GetTimer gets a timer from the pool and resets it to the given duration.
func GetTimer(d time.Duration) *time.Timer {
	timer, ok := timerPool.Get().(*time.Timer)
	if !ok {
		return time.NewTimer(d)
	}

	if !timer.Stop() {
		// Drain the channel if necessary.
		select {
		case <-timer.C:
		default:
		}
	}
	timer.Reset(d)
	return timer
}

// ReleaseTimer stops the timer, drains its channel, and returns it to the
// pool.
func ReleaseTimer(timer *time.Timer) {
	if timer == nil {
		return
	}

	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	timerPool.Put(timer)
}
