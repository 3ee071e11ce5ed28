// Package kv defines the durable tier contract: a synchronous, string-only
// key/value backend. Implementations are best-effort — they handle and log
// their own failures and degrade to "absent"/no-op instead of returning
// errors, so a broken backend can never break a read path built on top.
package kv

import "io"

type Backend interface {
	// Get returns the stored value, or ok=false if the key is absent or
	// the backend failed.
	Get(key string) (value string, ok bool)

	// Set stores value under key. Best effort.
	Set(key, value string)

	// Del removes key. Best effort.
	Del(key string)

	// Keys returns every key currently in the backend. This is the only
	// O(backend-size) operation and is expected to be rare (clear and
	// pattern invalidation).
	Keys() []string

	io.Closer
}
