// Package rediskv is a kv.Backend over a redis client. All redis errors
// are logged and swallowed so the durable tier can only degrade, never
// fail. After an error the client is temporarily disabled and a background
// ping loop with increasing backoff re-enables it once redis answers
// again.
package rediskv

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/hackforge/cachekit/pkg/kv"
)

var nopLogger = zap.NewNop()

const scanBatch = 256

type Opts struct {
	// Client cannot be nil.
	Client redis.Cmdable

	// ClientCloser closes Client when RedisKV.Close is called. Optional.
	ClientCloser io.Closer

	// ClientTimeout specifies the timeout for every redis operation.
	// Default is 1s.
	ClientTimeout time.Duration

	// Logger for swallowed errors. A nil Logger disables logging.
	Logger *zap.Logger
}

func (opts *Opts) Init() error {
	if opts.Client == nil {
		return errors.New("nil client")
	}
	if opts.ClientTimeout <= 0 {
		opts.ClientTimeout = time.Second
	}
	if opts.Logger == nil {
		opts.Logger = nopLogger
	}
	return nil
}

type RedisKV struct {
	opts           Opts
	clientDisabled uint32
}

var _ kv.Backend = (*RedisKV)(nil)

func New(opts Opts) (*RedisKV, error) {
	if err := opts.Init(); err != nil {
		return nil, err
	}
	return &RedisKV{opts: opts}, nil
}

func (r *RedisKV) disabled() bool {
	return atomic.LoadUint32(&r.clientDisabled) != 0
}

// disableClient stops all redis traffic and starts a ping loop that
// re-enables the client once redis is reachable again.
func (r *RedisKV) disableClient() {
	if atomic.CompareAndSwapUint32(&r.clientDisabled, 0, 1) {
		r.opts.Logger.Warn("redis temporarily disabled")
		go func() {
			const maxBackoff = time.Second * 30
			backoff := time.Millisecond * 100
			for {
				time.Sleep(backoff)
				ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond*500)
				err := r.opts.Client.Ping(ctx).Err()
				cancel()
				if err != nil {
					if backoff >= maxBackoff {
						backoff = maxBackoff
					} else {
						backoff += time.Duration(rand.Intn(1000))*time.Millisecond + time.Second
					}
					r.opts.Logger.Warn("redis ping failed", zap.Error(err), zap.Duration("next_ping", backoff))
					continue
				}
				atomic.StoreUint32(&r.clientDisabled, 0)
				r.opts.Logger.Info("redis re-enabled")
				return
			}
		}()
	}
}

func (r *RedisKV) Get(key string) (string, bool) {
	if r.disabled() {
		return "", false
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.opts.ClientTimeout)
	defer cancel()
	v, err := r.opts.Client.Get(ctx, key).Result()
	if err != nil {
		if err != redis.Nil {
			r.opts.Logger.Warn("redis get", zap.Error(err))
			r.disableClient()
		}
		return "", false
	}
	return v, true
}

func (r *RedisKV) Set(key, value string) {
	if r.disabled() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.opts.ClientTimeout)
	defer cancel()
	if err := r.opts.Client.Set(ctx, key, value, 0).Err(); err != nil {
		r.opts.Logger.Warn("redis set", zap.Error(err))
		r.disableClient()
	}
}

func (r *RedisKV) Del(key string) {
	if r.disabled() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.opts.ClientTimeout)
	defer cancel()
	if err := r.opts.Client.Del(ctx, key).Err(); err != nil {
		r.opts.Logger.Warn("redis del", zap.Error(err))
		r.disableClient()
	}
}

func (r *RedisKV) Keys() []string {
	if r.disabled() {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.opts.ClientTimeout)
	defer cancel()

	var keys []string
	var cursor uint64
	for {
		batch, next, err := r.opts.Client.Scan(ctx, cursor, "*", scanBatch).Result()
		if err != nil {
			r.opts.Logger.Warn("redis scan", zap.Error(err))
			r.disableClient()
			return keys
		}
		keys = append(keys, batch...)
		if next == 0 {
			return keys
		}
		cursor = next
	}
}

// Close closes the redis client.
func (r *RedisKV) Close() error {
	if f := r.opts.ClientCloser; f != nil {
		return f.Close()
	}
	return nil
}
