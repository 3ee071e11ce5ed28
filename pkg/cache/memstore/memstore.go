// Package memstore implements the fast tier: a byte-budgeted in-memory
// store with per-entry TTL and least-recently-used eviction.
package memstore

import (
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hackforge/cachekit/pkg/cache"
	"github.com/hackforge/cachekit/pkg/lru"
)

const defaultCleanerInterval = time.Minute

type Opts struct {
	// MaxSizeBytes is the summed-size budget for live entries. Must be > 0.
	MaxSizeBytes int64

	// CleanerInterval is how often the background cleaner sweeps expired
	// entries. <= 0 disables the cleaner; expired entries are then only
	// removed lazily on access and before inserts.
	CleanerInterval time.Duration

	// Now overrides the clock. Nil means time.Now. Tests use this to
	// advance time deterministically.
	Now func() time.Time
}

type entry struct {
	value    []byte
	storedAt time.Time
	ttl      time.Duration
	size     int64
}

// MemStore is safe for concurrent use. One mutex guards all state, so every
// operation is atomic with respect to the others.
type MemStore struct {
	now func() time.Time

	closed           uint32
	closeCleanerChan chan struct{}

	mu        sync.Mutex
	lru       *lru.LRU[string, *entry]
	hits      uint64
	misses    uint64
	evictions uint64
}

var _ cache.Store = (*MemStore)(nil)

func New(opts Opts) *MemStore {
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	s := &MemStore{
		now:              now,
		closeCleanerChan: make(chan struct{}),
	}
	s.lru = lru.New[string, *entry](opts.MaxSizeBytes, func(string, *entry, int64) {
		s.evictions++
	})

	if opts.CleanerInterval > 0 {
		go s.startCleaner(opts.CleanerInterval)
	}
	return s
}

// expired uses a strict comparison: an entry whose age equals its ttl
// exactly is still live.
func (e *entry) expired(now time.Time) bool {
	return now.Sub(e.storedAt) > e.ttl
}

func (s *MemStore) Get(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lru.Peek(key)
	if !ok {
		s.misses++
		return nil, false
	}
	if e.expired(s.now()) {
		s.lru.Del(key)
		s.misses++
		return nil, false
	}

	s.lru.Get(key) // bump recency
	s.hits++
	return e.value, true
}

// Set stores value under key. The entry size is the byte length of value,
// fixed at write time. Expired entries are purged first, then LRU entries
// are evicted until the new entry fits. A value larger than the whole
// budget is rejected and the store is left unchanged.
func (s *MemStore) Set(key string, value []byte, ttl time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.lru.Clean(func(_ string, e *entry) bool {
		return e.expired(now)
	})

	return s.lru.Add(key, &entry{
		value:    value,
		storedAt: now,
		ttl:      ttl,
		size:     int64(len(value)),
	}, int64(len(value)))
}

func (s *MemStore) Delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.Del(key)
}

// Has reports whether a live entry exists without updating recency or the
// hit/miss counters. Like Get, it removes an expired entry it finds.
func (s *MemStore) Has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lru.Peek(key)
	if !ok {
		return false
	}
	if e.expired(s.now()) {
		s.lru.Del(key)
		return false
	}
	return true
}

func (s *MemStore) InvalidatePattern(re *regexp.Regexp) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.Clean(func(key string, _ *entry) bool {
		return re.MatchString(key)
	})
}

// Clear removes every entry. Counters keep their cumulative values.
func (s *MemStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lru.Clean(func(string, *entry) bool { return true })
}

func (s *MemStore) Stats() cache.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cache.Stats{
		Hits:           s.hits,
		Misses:         s.misses,
		Evictions:      s.evictions,
		TotalSizeBytes: s.lru.Cost(),
		EntryCount:     s.lru.Len(),
	}
}

func (s *MemStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.Len()
}

func (s *MemStore) Close() error {
	if atomic.CompareAndSwapUint32(&s.closed, 0, 1) {
		close(s.closeCleanerChan)
	}
	return nil
}

func (s *MemStore) startCleaner(interval time.Duration) {
	if interval <= 0 {
		interval = defaultCleanerInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.closeCleanerChan:
			return
		case <-ticker.C:
			now := s.now()
			s.mu.Lock()
			s.lru.Clean(func(_ string, e *entry) bool {
				return e.expired(now)
			})
			s.mu.Unlock()
		}
	}
}
