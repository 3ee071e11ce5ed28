package memstore

import (
	"fmt"
	"regexp"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.UnixMilli(1_700_000_000_000)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestStore(maxSize int64) (*MemStore, *fakeClock) {
	clk := newFakeClock()
	s := New(Opts{MaxSizeBytes: maxSize, Now: clk.Now})
	return s, clk
}

func Test_memStore_lruEviction(t *testing.T) {
	s, _ := newTestStore(1000)
	defer s.Close()

	val := make([]byte, 400)
	s.Set("a", val, time.Minute)
	s.Set("b", val, time.Minute)
	s.Set("c", val, time.Minute)

	if s.Has("a") {
		t.Fatal("a should have been evicted")
	}
	if !s.Has("b") || !s.Has("c") {
		t.Fatal("b and c should be live")
	}

	st := s.Stats()
	if st.TotalSizeBytes > 1000 {
		t.Fatalf("size over capacity: %d", st.TotalSizeBytes)
	}
	if st.Evictions != 1 || st.EntryCount != 2 {
		t.Fatalf("evictions=%d entries=%d", st.Evictions, st.EntryCount)
	}
}

func Test_memStore_getBumpsRecency(t *testing.T) {
	s, _ := newTestStore(1000)
	defer s.Close()

	val := make([]byte, 400)
	s.Set("a", val, time.Minute)
	s.Set("b", val, time.Minute)
	if _, ok := s.Get("a"); !ok {
		t.Fatal("a missing")
	}
	s.Set("c", val, time.Minute)

	if s.Has("b") {
		t.Fatal("b should have been evicted after a was touched")
	}
	if !s.Has("a") {
		t.Fatal("a should be live")
	}
}

func Test_memStore_hasDoesNotBumpRecency(t *testing.T) {
	s, _ := newTestStore(800)
	defer s.Close()

	val := make([]byte, 400)
	s.Set("a", val, time.Minute)
	s.Set("b", val, time.Minute)
	s.Has("a")
	s.Set("c", val, time.Minute)

	if s.Has("a") {
		t.Fatal("Has must not protect a from eviction")
	}
}

func Test_memStore_ttlBoundary(t *testing.T) {
	s, clk := newTestStore(1000)
	defer s.Close()

	ttl := time.Minute
	s.Set("k", []byte("v"), ttl)

	// elapsed == ttl is not expired.
	clk.Advance(ttl)
	if _, ok := s.Get("k"); !ok {
		t.Fatal("entry expired at elapsed == ttl")
	}

	// one more millisecond is.
	clk.Advance(time.Millisecond)
	if _, ok := s.Get("k"); ok {
		t.Fatal("entry alive past ttl")
	}
	if s.Has("k") {
		t.Fatal("Has sees expired entry")
	}
	if st := s.Stats(); st.EntryCount != 0 {
		t.Fatalf("expired entry still counted: %d", st.EntryCount)
	}
}

func Test_memStore_expiredPurgedBeforeEviction(t *testing.T) {
	s, clk := newTestStore(1000)
	defer s.Close()

	val := make([]byte, 400)
	s.Set("short", val, time.Second)
	s.Set("long", val, time.Hour)

	clk.Advance(time.Second * 2)
	s.Set("new", val, time.Hour)

	// "short" was expired, so inserting "new" needed no LRU eviction.
	if !s.Has("long") || !s.Has("new") {
		t.Fatal("live entry lost")
	}
	if st := s.Stats(); st.Evictions != 0 {
		t.Fatalf("expiry counted as eviction: %d", st.Evictions)
	}
}

func Test_memStore_rejectOversize(t *testing.T) {
	s, _ := newTestStore(1000)
	defer s.Close()

	s.Set("a", make([]byte, 400), time.Minute)
	if s.Set("big", make([]byte, 1001), time.Minute) {
		t.Fatal("oversize value accepted")
	}
	if !s.Has("a") {
		t.Fatal("rejected set mutated the store")
	}
}

func Test_memStore_invalidatePattern(t *testing.T) {
	s, _ := newTestStore(10_000)
	defer s.Close()

	for _, k := range []string{"api:events:1", "api:events:2", "api:teams:1"} {
		s.Set(k, []byte("v"), time.Minute)
	}

	n := s.InvalidatePattern(regexp.MustCompile("^api:events"))
	if n != 2 {
		t.Fatalf("removed %d, want 2", n)
	}
	if s.Has("api:events:1") || s.Has("api:events:2") {
		t.Fatal("matching key survived")
	}
	if !s.Has("api:teams:1") {
		t.Fatal("non-matching key removed")
	}
}

func Test_memStore_stats(t *testing.T) {
	s, _ := newTestStore(1000)
	defer s.Close()

	s.Set("a", []byte("hello"), time.Minute)
	s.Get("a")
	s.Get("a")
	s.Get("missing")

	st := s.Stats()
	if st.Hits != 2 || st.Misses != 1 {
		t.Fatalf("hits=%d misses=%d", st.Hits, st.Misses)
	}
	if st.TotalSizeBytes != 5 || st.EntryCount != 1 {
		t.Fatalf("size=%d entries=%d", st.TotalSizeBytes, st.EntryCount)
	}
}

func Test_memStore_cleaner(t *testing.T) {
	s := New(Opts{MaxSizeBytes: 1 << 20, CleanerInterval: time.Millisecond * 10})
	defer s.Close()

	for i := 0; i < 64; i++ {
		s.Set(fmt.Sprintf("k%d", i), []byte("v"), -time.Millisecond) // expired immediately
	}

	time.Sleep(time.Millisecond * 100)
	if s.Len() != 0 {
		t.Fatal()
	}
}

func Test_memStore_race(t *testing.T) {
	s, _ := newTestStore(1 << 20)
	defer s.Close()

	wg := sync.WaitGroup{}
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 256; i++ {
				key := fmt.Sprintf("k%d", i)
				s.Set(key, []byte("v"), time.Minute)
				s.Get(key)
				s.Has(key)
				s.Stats()
			}
		}()
	}
	wg.Wait()
}
