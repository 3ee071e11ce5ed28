// Package lru implements a least-recently-used map with a byte-cost budget
// instead of an entry count limit. Every entry carries a caller-supplied
// cost; Add evicts from the least recently used end until the new entry
// fits. The zero cost is allowed.
package lru

import (
	"fmt"

	"github.com/hackforge/cachekit/pkg/list"
)

type LRU[K comparable, V any] struct {
	maxCost int64
	cost    int64
	onEvict func(key K, v V, cost int64)

	l *list.List[entry[K, V]]
	m map[K]*list.Elem[entry[K, V]]
}

type entry[K comparable, V any] struct {
	key  K
	v    V
	cost int64
}

// New creates a LRU with the given cost budget. onEvict is called for every
// entry removed to make room, but not for entries removed by Del or Clean.
func New[K comparable, V any](maxCost int64, onEvict func(key K, v V, cost int64)) *LRU[K, V] {
	if maxCost <= 0 {
		panic(fmt.Sprintf("lru: invalid max cost: %d", maxCost))
	}
	return &LRU[K, V]{
		maxCost: maxCost,
		onEvict: onEvict,
		l:       list.New[entry[K, V]](),
		m:       make(map[K]*list.Elem[entry[K, V]]),
	}
}

// Add inserts or replaces the entry for key and marks it most recently
// used. It evicts least-recently-used entries until the budget is
// respected. If cost alone exceeds the budget the entry cannot be stored;
// Add is a no-op and returns false.
func (q *LRU[K, V]) Add(key K, v V, cost int64) bool {
	if cost > q.maxCost {
		return false
	}

	// Replacing an existing entry frees its old cost first.
	if e, ok := q.m[key]; ok {
		q.cost -= e.Value.cost
		e.Value.v = v
		e.Value.cost = cost
		q.cost += cost
		q.l.MoveToBack(e)
		q.evictOver()
		return true
	}

	q.evictFor(cost)

	e := list.NewElem(entry[K, V]{key: key, v: v, cost: cost})
	q.m[key] = e
	q.l.PushBack(e)
	q.cost += cost
	return true
}

func (q *LRU[K, V]) Get(key K) (v V, ok bool) {
	e, ok := q.m[key]
	if !ok {
		return
	}
	q.l.MoveToBack(e)
	return e.Value.v, true
}

// Peek returns the value without updating recency.
func (q *LRU[K, V]) Peek(key K) (v V, ok bool) {
	e, ok := q.m[key]
	if !ok {
		return
	}
	return e.Value.v, true
}

func (q *LRU[K, V]) Del(key K) bool {
	e := q.m[key]
	if e == nil {
		return false
	}
	q.remove(e)
	return true
}

// PopOldest removes and returns the least recently used entry.
func (q *LRU[K, V]) PopOldest() (key K, v V, ok bool) {
	e := q.l.Front()
	if e == nil {
		return
	}
	q.remove(e)
	return e.Value.key, e.Value.v, true
}

// Clean removes every entry for which f returns true and reports how many
// were removed. Traversal order is oldest first.
func (q *LRU[K, V]) Clean(f func(key K, v V) bool) (removed int) {
	e := q.l.Front()
	for e != nil {
		next := e.Next()
		if f(e.Value.key, e.Value.v) {
			q.remove(e)
			removed++
		}
		e = next
	}
	return removed
}

func (q *LRU[K, V]) Len() int {
	return q.l.Len()
}

// Cost returns the summed cost of all live entries.
func (q *LRU[K, V]) Cost() int64 {
	return q.cost
}

func (q *LRU[K, V]) evictFor(cost int64) {
	for q.cost+cost > q.maxCost && q.l.Len() > 0 {
		q.evictOldest()
	}
}

func (q *LRU[K, V]) evictOver() {
	for q.cost > q.maxCost && q.l.Len() > 0 {
		q.evictOldest()
	}
}

func (q *LRU[K, V]) evictOldest() {
	e := q.l.Front()
	q.l.PopElem(e)
	delete(q.m, e.Value.key)
	q.cost -= e.Value.cost
	if q.onEvict != nil {
		q.onEvict(e.Value.key, e.Value.v, e.Value.cost)
	}
}

func (q *LRU[K, V]) remove(e *list.Elem[entry[K, V]]) {
	q.l.PopElem(e)
	delete(q.m, e.Value.key)
	q.cost -= e.Value.cost
}
