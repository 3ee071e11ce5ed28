// Package filekv is a kv.Backend persisted as a single JSON file. Every
// mutation rewrites the file through a temp-file rename, so a crash leaves
// either the old or the new snapshot, never a torn one. A missing or
// corrupt file degrades to an empty store.
package filekv

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/hackforge/cachekit/pkg/kv"
)

var nopLogger = zap.NewNop()

type Opts struct {
	// Path of the snapshot file. Cannot be empty.
	Path string

	// Logger for swallowed I/O errors. A nil Logger disables logging.
	Logger *zap.Logger
}

func (opts *Opts) Init() error {
	if len(opts.Path) == 0 {
		return errors.New("empty path")
	}
	if opts.Logger == nil {
		opts.Logger = nopLogger
	}
	return nil
}

type FileKV struct {
	opts Opts

	mu sync.Mutex
	m  map[string]string
}

var _ kv.Backend = (*FileKV)(nil)

func Open(opts Opts) (*FileKV, error) {
	if err := opts.Init(); err != nil {
		return nil, err
	}

	s := &FileKV{
		opts: opts,
		m:    make(map[string]string),
	}

	b, err := os.ReadFile(opts.Path)
	switch {
	case err == nil:
		if err := json.Unmarshal(b, &s.m); err != nil {
			opts.Logger.Warn("corrupt snapshot, starting empty",
				zap.String("path", opts.Path), zap.Error(err))
			s.m = make(map[string]string)
		}
	case os.IsNotExist(err):
		// first run
	default:
		return nil, err
	}
	return s, nil
}

func (s *FileKV) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.m[key]
	return v, ok
}

func (s *FileKV) Set(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = value
	s.persistLocked()
}

func (s *FileKV) Del(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.m[key]; !ok {
		return
	}
	delete(s.m, key)
	s.persistLocked()
}

func (s *FileKV) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.m))
	for k := range s.m {
		keys = append(keys, k)
	}
	return keys
}

func (s *FileKV) Close() error {
	return nil
}

func (s *FileKV) persistLocked() {
	b, err := json.Marshal(s.m)
	if err != nil {
		s.opts.Logger.Warn("snapshot marshal", zap.Error(err))
		return
	}

	tmp := s.opts.Path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		s.opts.Logger.Warn("snapshot write", zap.Error(err))
		return
	}
	if err := os.Rename(tmp, s.opts.Path); err != nil {
		s.opts.Logger.Warn("snapshot rename",
			zap.String("dir", filepath.Dir(s.opts.Path)), zap.Error(err))
	}
}
