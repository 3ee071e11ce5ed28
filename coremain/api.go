package coremain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"time"

	"go.uber.org/zap"

	"github.com/hackforge/cachekit/pkg/fetch"
)

// 4 MiB is plenty for a BaaS query response; anything bigger should not be
// cached anyway.
const maxBodyBytes = 4 << 20

var upstreamClient = &http.Client{Timeout: time.Second * 15}

type queryRequest struct {
	// Key is the cache key. Pick prefixes deliberately ("api:events:1")
	// so pattern invalidation can sweep whole families.
	Key string `json:"key"`

	// URL is fetched with a GET on a cache miss.
	URL string `json:"url"`

	// Profile selects configured fetch settings. When empty, Strategy and
	// TTLMS are used directly.
	Profile  string `json:"profile"`
	Strategy string `json:"strategy"`
	TTLMS    int64  `json:"ttl_ms"`

	// Priority orders the request in the network queue.
	Priority int `json:"priority"`
}

func (m *Cachekit) registerAPI() {
	m.httpAPIMux.HandleFunc("POST /api/query", m.handleQuery)
	m.httpAPIMux.HandleFunc("GET /api/cache/{key}", m.handleCacheGet)
	m.httpAPIMux.HandleFunc("PUT /api/cache/{key}", m.handleCachePut)
	m.httpAPIMux.HandleFunc("DELETE /api/cache/{key}", m.handleCacheDelete)
	m.httpAPIMux.HandleFunc("POST /api/invalidate", m.handleInvalidate)
	m.httpAPIMux.HandleFunc("POST /api/clear", m.handleClear)
	m.httpAPIMux.HandleFunc("GET /api/stats", m.handleStats)
}

func (m *Cachekit) handleQuery(w http.ResponseWriter, req *http.Request) {
	var q queryRequest
	if err := json.NewDecoder(io.LimitReader(req.Body, maxBodyBytes)).Decode(&q); err != nil {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return
	}
	if len(q.Key) == 0 || len(q.URL) == 0 {
		http.Error(w, "key and url are required", http.StatusBadRequest)
		return
	}

	fetcher := m.upstreamFetcher(q.URL, q.Priority)

	var v []byte
	var err error
	if len(q.Profile) > 0 {
		v, err = m.coord.DoProfile(req.Context(), q.Profile, q.Key, fetcher)
	} else {
		var strategy fetch.Strategy
		strategy, err = fetch.ParseStrategy(q.Strategy)
		if err == nil {
			ttl := time.Duration(q.TTLMS) * time.Millisecond
			if ttl <= 0 {
				ttl = m.cfg.Cache.maxAge()
			}
			v, err = m.coord.Do(req.Context(), q.Key, fetcher, strategy, ttl)
		}
	}
	if err != nil {
		m.logger.Debug("query failed", zap.String("key", q.Key), zap.Error(err))
		switch {
		case errors.Is(err, fetch.ErrNoSource):
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
		case errors.Is(err, fetch.ErrUnknownStrategy), errors.Is(err, fetch.ErrUnknownProfile):
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			http.Error(w, err.Error(), http.StatusBadGateway)
		}
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(v)
}

// upstreamFetcher builds the coordinator's data source: a GET against the
// BaaS, scheduled through the priority queue.
func (m *Cachekit) upstreamFetcher(url string, priority int) fetch.Fetcher {
	return func(ctx context.Context) ([]byte, error) {
		var body []byte
		err := m.queue.Do(ctx, priority, func(ctx context.Context) error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return err
			}
			resp, err := upstreamClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("upstream status %d", resp.StatusCode)
			}
			body, err = io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
			return err
		})
		if err != nil {
			return nil, err
		}
		return body, nil
	}
}

func (m *Cachekit) handleCacheGet(w http.ResponseWriter, req *http.Request) {
	v, ok := m.store.Get(req.PathValue("key"))
	if !ok {
		http.Error(w, "not cached", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(v)
}

func (m *Cachekit) handleCachePut(w http.ResponseWriter, req *http.Request) {
	body, err := io.ReadAll(io.LimitReader(req.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return
	}

	ttl := m.cfg.Cache.maxAge()
	if s := req.URL.Query().Get("ttl_ms"); len(s) > 0 {
		ms, err := parseMillis(s)
		if err != nil {
			http.Error(w, "bad ttl_ms", http.StatusBadRequest)
			return
		}
		ttl = ms
	}

	if !m.store.Set(req.PathValue("key"), body, ttl) {
		http.Error(w, "value too large", http.StatusRequestEntityTooLarge)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (m *Cachekit) handleCacheDelete(w http.ResponseWriter, req *http.Request) {
	m.store.Delete(req.PathValue("key"))
	w.WriteHeader(http.StatusNoContent)
}

func (m *Cachekit) handleInvalidate(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Pattern string `json:"pattern"`
	}
	if err := json.NewDecoder(io.LimitReader(req.Body, maxBodyBytes)).Decode(&body); err != nil {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return
	}

	re, err := regexp.Compile(body.Pattern)
	if err != nil {
		http.Error(w, "bad pattern", http.StatusBadRequest)
		return
	}

	removed := m.store.InvalidatePattern(re)
	m.logger.Info("pattern invalidation",
		zap.String("pattern", body.Pattern), zap.Int("removed", removed))
	writeJSON(w, map[string]int{"removed": removed})
}

func (m *Cachekit) handleClear(w http.ResponseWriter, req *http.Request) {
	m.store.Clear()
	w.WriteHeader(http.StatusNoContent)
}

func (m *Cachekit) handleStats(w http.ResponseWriter, req *http.Request) {
	s := m.store.Stats()
	writeJSON(w, map[string]any{
		"hits":             s.Hits,
		"misses":           s.Misses,
		"evictions":        s.Evictions,
		"total_size_bytes": s.TotalSizeBytes,
		"entry_count":      s.EntryCount,
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func parseMillis(s string) (time.Duration, error) {
	var ms int64
	if _, err := fmt.Sscanf(s, "%d", &ms); err != nil {
		return 0, err
	}
	if ms <= 0 {
		return 0, errors.New("non-positive")
	}
	return time.Duration(ms) * time.Millisecond, nil
}
