// Package cache defines the store contract shared by the in-memory tier
// and the mirrored two-tier store, plus their stats shape. Values enter a
// store already serialized, so an entry's size is simply the byte length
// of what was written.
package cache

import (
	"regexp"
	"time"
)

// Store is a key/value cache with per-entry TTL and pattern invalidation.
type Store interface {
	// Get returns the live value for key. Expired entries are removed and
	// treated as absent.
	Get(key string) ([]byte, bool)

	// Set stores value under key for ttl. It reports whether the value was
	// accepted (a store may reject a value it cannot hold).
	Set(key string, value []byte, ttl time.Duration) bool

	// Delete reports whether an entry was removed.
	Delete(key string) bool

	// Has reports whether a live entry exists.
	Has(key string) bool

	// InvalidatePattern removes every entry whose full key matches re and
	// returns the number removed.
	InvalidatePattern(re *regexp.Regexp) int

	Stats() Stats
}

// Stats are cumulative since construction, except TotalSizeBytes and
// EntryCount which describe the live set.
type Stats struct {
	Hits           uint64
	Misses         uint64
	Evictions      uint64
	TotalSizeBytes int64
	EntryCount     int
}
