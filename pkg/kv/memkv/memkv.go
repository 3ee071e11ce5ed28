// Package memkv is a map-backed kv.Backend. It is the reference backend
// for tests and for single-process setups that do not need persistence.
package memkv

import (
	"sync"

	"github.com/hackforge/cachekit/pkg/kv"
)

type MemKV struct {
	mu sync.RWMutex
	m  map[string]string
}

var _ kv.Backend = (*MemKV)(nil)

func New() *MemKV {
	return &MemKV{m: make(map[string]string)}
}

func (s *MemKV) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.m[key]
	return v, ok
}

func (s *MemKV) Set(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = value
}

func (s *MemKV) Del(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, key)
}

func (s *MemKV) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.m))
	for k := range s.m {
		keys = append(keys, k)
	}
	return keys
}

func (s *MemKV) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m)
}

func (s *MemKV) Close() error {
	return nil
}
