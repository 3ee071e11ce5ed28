package online

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFlag(t *testing.T) {
	f := NewFlag(true)
	require.True(t, f.Online())

	var flips []bool
	cancel := f.Subscribe(func(on bool) { flips = append(flips, on) })

	f.Set(true) // no flip, no notification
	f.Set(false)
	f.Set(false)
	f.Set(true)
	require.Equal(t, []bool{false, true}, flips)

	cancel()
	f.Set(false)
	require.Equal(t, []bool{false, true}, flips)
}

func TestProber(t *testing.T) {
	var failing atomic.Bool
	failing.Store(true)

	p, err := NewProber(ProberOpts{
		Probe: func(context.Context) error {
			if failing.Load() {
				return errors.New("unreachable")
			}
			return nil
		},
		Interval: time.Millisecond * 5,
	})
	require.NoError(t, err)
	defer p.Close()

	require.Eventually(t, func() bool { return !p.Online() },
		time.Second*5, time.Millisecond, "prober never went offline")

	failing.Store(false)
	require.Eventually(t, p.Online,
		time.Second*5, time.Millisecond, "prober never recovered")
}
