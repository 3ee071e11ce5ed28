package fetch

import (
	"sync"

	"go.uber.org/zap"
)

// Spawner runs fire-and-forget tasks. A task's error (or panic) is logged
// and dropped — nothing a detached task does can reach the goroutine that
// spawned it. WaitIdle lets tests wait for spawned tasks deterministically
// instead of sleeping.
type Spawner struct {
	logger *zap.Logger
	wg     sync.WaitGroup
}

func NewSpawner(logger *zap.Logger) *Spawner {
	if logger == nil {
		logger = nopLogger
	}
	return &Spawner{logger: logger}
}

func (s *Spawner) Spawn(name string, fn func() error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if v := recover(); v != nil {
				s.logger.Error("detached task panic", zap.String("task", name), zap.Any("panic", v))
			}
		}()
		if err := fn(); err != nil {
			s.logger.Warn("detached task failed", zap.String("task", name), zap.Error(err))
		}
	}()
}

// WaitIdle blocks until every task spawned so far has finished.
func (s *Spawner) WaitIdle() {
	s.wg.Wait()
}
