// Package mirror implements the two-tier store: a memstore fast tier
// mirrored into a durable kv.Backend slow tier. The fast tier is
// authoritative whenever it holds a live entry; the slow tier is only
// consulted on a fast-tier miss, and a hit there is lazily promoted back
// into the fast tier with its remaining ttl. Slow-tier failures are logged
// and degrade a read to "not cached" — they never propagate.
package mirror

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/golang/snappy"
	"go.uber.org/zap"

	"github.com/hackforge/cachekit/pkg/cache"
	"github.com/hackforge/cachekit/pkg/cache/memstore"
	"github.com/hackforge/cachekit/pkg/kv"
)

var nopLogger = zap.NewNop()

// compressedTag marks a snappy-compressed record. Uncompressed records are
// bare JSON and start with '{', so the two forms cannot collide.
const compressedTag = '\x01'

const defaultNamespace = "cachekit"

// record is the slow-tier wire shape. Timestamp and TTL are milliseconds
// so records written by other runtimes with the same layout stay readable.
type record struct {
	Data      []byte `json:"data"`
	Timestamp int64  `json:"timestamp"`
	TTL       int64  `json:"ttl"`
	Size      int64  `json:"size"`
}

type Opts struct {
	// Fast cannot be nil.
	Fast *memstore.MemStore

	// Slow cannot be nil.
	Slow kv.Backend

	// Namespace prefixes every slow-tier key as "<namespace>:<key>".
	// Default is "cachekit".
	Namespace string

	// Compress snappy-compresses slow-tier records. Reads detect the
	// format, so the flag can be toggled between restarts.
	Compress bool

	// Logger for swallowed slow-tier errors. A nil Logger disables logging.
	Logger *zap.Logger

	// Now overrides the clock. Nil means time.Now.
	Now func() time.Time
}

func (opts *Opts) Init() error {
	if opts.Fast == nil {
		return errors.New("nil fast tier")
	}
	if opts.Slow == nil {
		return errors.New("nil slow tier")
	}
	if len(opts.Namespace) == 0 {
		opts.Namespace = defaultNamespace
	}
	if opts.Logger == nil {
		opts.Logger = nopLogger
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return nil
}

type Mirror struct {
	opts   Opts
	prefix string
}

var _ cache.Store = (*Mirror)(nil)

func New(opts Opts) (*Mirror, error) {
	if err := opts.Init(); err != nil {
		return nil, err
	}
	return &Mirror{
		opts:   opts,
		prefix: opts.Namespace + ":",
	}, nil
}

func (m *Mirror) Get(key string) ([]byte, bool) {
	if v, ok := m.opts.Fast.Get(key); ok {
		return v, true
	}

	raw, ok := m.opts.Slow.Get(m.prefix + key)
	if !ok {
		return nil, false
	}

	rec, err := m.decode(raw)
	if err != nil {
		m.opts.Logger.Warn("corrupt slow-tier record", zap.String("key", key), zap.Error(err))
		m.opts.Slow.Del(m.prefix + key)
		return nil, false
	}

	// Expiry is recomputed from the record's own timestamp so a restart
	// does not reset the clock. Strictly greater, like the fast tier.
	elapsed := m.opts.Now().UnixMilli() - rec.Timestamp
	if elapsed > rec.TTL {
		m.opts.Slow.Del(m.prefix + key)
		return nil, false
	}

	// Lazy promotion with the remaining ttl.
	m.opts.Fast.Set(key, rec.Data, time.Duration(rec.TTL-elapsed)*time.Millisecond)
	return rec.Data, true
}

func (m *Mirror) Set(key string, value []byte, ttl time.Duration) bool {
	ok := m.opts.Fast.Set(key, value, ttl)

	raw, err := m.encode(record{
		Data:      value,
		Timestamp: m.opts.Now().UnixMilli(),
		TTL:       ttl.Milliseconds(),
		Size:      int64(len(value)),
	})
	if err != nil {
		m.opts.Logger.Warn("slow-tier encode", zap.String("key", key), zap.Error(err))
		return ok
	}
	m.opts.Slow.Set(m.prefix+key, raw)
	return ok
}

func (m *Mirror) Delete(key string) bool {
	ok := m.opts.Fast.Delete(key)
	m.opts.Slow.Del(m.prefix + key)
	return ok
}

// Has is Get under the hood, so a slow-tier hit is promoted as a side
// effect. Callers that need a pure existence check should ask the fast
// tier directly.
func (m *Mirror) Has(key string) bool {
	_, ok := m.Get(key)
	return ok
}

// Clear empties the fast tier and removes every slow-tier key carrying the
// mirror's namespace prefix. Foreign keys in a shared backend are left
// alone.
func (m *Mirror) Clear() {
	m.opts.Fast.Clear()
	for _, k := range m.opts.Slow.Keys() {
		if strings.HasPrefix(k, m.prefix) {
			m.opts.Slow.Del(k)
		}
	}
}

// InvalidatePattern matches re against full cache keys in both tiers and
// returns the combined number of removals.
func (m *Mirror) InvalidatePattern(re *regexp.Regexp) int {
	count := m.opts.Fast.InvalidatePattern(re)
	for _, k := range m.opts.Slow.Keys() {
		suffix, ok := strings.CutPrefix(k, m.prefix)
		if !ok {
			continue
		}
		if re.MatchString(suffix) {
			m.opts.Slow.Del(k)
			count++
		}
	}
	return count
}

// Stats delegates to the fast tier. The slow tier is not separately
// instrumented.
func (m *Mirror) Stats() cache.Stats {
	return m.opts.Fast.Stats()
}

func (m *Mirror) Close() error {
	err := m.opts.Fast.Close()
	if cerr := m.opts.Slow.Close(); err == nil {
		err = cerr
	}
	return err
}

func (m *Mirror) encode(rec record) (string, error) {
	b, err := json.Marshal(rec)
	if err != nil {
		return "", err
	}
	if !m.opts.Compress {
		return string(b), nil
	}
	enc := snappy.Encode(nil, b)
	out := make([]byte, 1+len(enc))
	out[0] = compressedTag
	copy(out[1:], enc)
	return string(out), nil
}

func (m *Mirror) decode(raw string) (record, error) {
	b := []byte(raw)
	if len(b) > 0 && b[0] == compressedTag {
		dec, err := snappy.Decode(nil, b[1:])
		if err != nil {
			return record{}, err
		}
		b = dec
	}
	var rec record
	if err := json.Unmarshal(b, &rec); err != nil {
		return record{}, err
	}
	return rec, nil
}
