package lru

import "testing"

func Test_lru_costEviction(t *testing.T) {
	var evicted []string
	q := New[string, int](1000, func(key string, _ int, _ int64) {
		evicted = append(evicted, key)
	})

	q.Add("a", 1, 400)
	q.Add("b", 2, 400)
	q.Add("c", 3, 400)

	if len(evicted) != 1 || evicted[0] != "a" {
		t.Fatalf("want [a] evicted, got %v", evicted)
	}
	if q.Cost() != 800 || q.Len() != 2 {
		t.Fatalf("cost=%d len=%d", q.Cost(), q.Len())
	}
}

func Test_lru_recency(t *testing.T) {
	var evicted []string
	q := New[string, int](1000, func(key string, _ int, _ int64) {
		evicted = append(evicted, key)
	})

	q.Add("a", 1, 400)
	q.Add("b", 2, 400)
	if _, ok := q.Get("a"); !ok {
		t.Fatal("a missing")
	}
	q.Add("c", 3, 400)

	// a was touched, so b is the oldest.
	if len(evicted) != 1 || evicted[0] != "b" {
		t.Fatalf("want [b] evicted, got %v", evicted)
	}
}

func Test_lru_replaceAdjustsCost(t *testing.T) {
	q := New[string, int](1000, nil)
	q.Add("a", 1, 400)
	q.Add("a", 2, 100)
	if q.Cost() != 100 || q.Len() != 1 {
		t.Fatalf("cost=%d len=%d", q.Cost(), q.Len())
	}
	if v, _ := q.Get("a"); v != 2 {
		t.Fatalf("v=%d", v)
	}
}

func Test_lru_rejectOversize(t *testing.T) {
	q := New[string, int](1000, nil)
	q.Add("a", 1, 400)
	if q.Add("big", 2, 1001) {
		t.Fatal("oversize entry accepted")
	}
	if q.Cost() != 400 || q.Len() != 1 {
		t.Fatal("store mutated by rejected add")
	}
}

func Test_lru_peekDoesNotBump(t *testing.T) {
	q := New[string, int](800, nil)
	q.Add("a", 1, 400)
	q.Add("b", 2, 400)
	q.Peek("a")
	q.Add("c", 3, 400)

	// Peek must not have promoted a.
	if _, ok := q.Get("a"); ok {
		t.Fatal("a survived, peek bumped recency")
	}
	if _, ok := q.Get("b"); !ok {
		t.Fatal("b evicted unexpectedly")
	}
}

func Test_lru_clean(t *testing.T) {
	q := New[string, int](1000, nil)
	q.Add("a", 1, 100)
	q.Add("b", 2, 100)
	q.Add("c", 3, 100)

	removed := q.Clean(func(key string, _ int) bool { return key != "b" })
	if removed != 2 || q.Len() != 1 || q.Cost() != 100 {
		t.Fatalf("removed=%d len=%d cost=%d", removed, q.Len(), q.Cost())
	}
}
