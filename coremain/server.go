package coremain

import (
	"context"
	"fmt"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/hackforge/cachekit/mlog"
	"github.com/hackforge/cachekit/pkg/cache"
	"github.com/hackforge/cachekit/pkg/cache/memstore"
	"github.com/hackforge/cachekit/pkg/cache/mirror"
	"github.com/hackforge/cachekit/pkg/fetch"
	"github.com/hackforge/cachekit/pkg/kv"
	"github.com/hackforge/cachekit/pkg/kv/filekv"
	"github.com/hackforge/cachekit/pkg/kv/memkv"
	"github.com/hackforge/cachekit/pkg/kv/rediskv"
	"github.com/hackforge/cachekit/pkg/lifecycle"
	"github.com/hackforge/cachekit/pkg/netqueue"
	"github.com/hackforge/cachekit/pkg/online"
)

type Cachekit struct {
	logger *zap.Logger
	cfg    *Config

	store  *mirror.Mirror
	coord  *fetch.Coordinator
	queue  *netqueue.Queue
	oracle online.Oracle

	httpAPIMux    *http.ServeMux
	httpAPIServer *http.Server

	metricsReg *prometheus.Registry

	lc *lifecycle.Group
}

// RunCachekit builds the daemon from cfg and blocks until shutdown.
// cfgPath, when non-empty, is watched for hot reload of exclude patterns
// and fetch profiles.
func RunCachekit(cfg *Config, cfgPath string) error {
	lg, err := mlog.NewLogger(&cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to init logger: %w", err)
	}
	mlog.SetLogger(lg)

	m := &Cachekit{
		logger:     lg,
		cfg:        cfg,
		httpAPIMux: http.NewServeMux(),
		metricsReg: newMetricsReg(),
		lc:         lifecycle.NewGroup(),
	}

	// Durable tier: redis > file > memory-only.
	var slow kv.Backend
	switch {
	case len(cfg.Redis.Addr) > 0:
		timeout := time.Duration(cfg.Redis.TimeoutMS) * time.Millisecond
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		slow, err = rediskv.New(rediskv.Opts{
			Client:        client,
			ClientCloser:  client,
			ClientTimeout: timeout,
			Logger:        lg.Named("rediskv"),
		})
		if err != nil {
			return fmt.Errorf("failed to init redis backend: %w", err)
		}
	case len(cfg.Cache.File) > 0:
		slow, err = filekv.Open(filekv.Opts{
			Path:   cfg.Cache.File,
			Logger: lg.Named("filekv"),
		})
		if err != nil {
			return fmt.Errorf("failed to open file backend: %w", err)
		}
	default:
		slow = memkv.New()
	}

	fast := memstore.New(memstore.Opts{
		MaxSizeBytes:    cfg.Cache.MaxSizeBytes,
		CleanerInterval: cfg.Cache.cleanerInterval(),
	})
	m.store, err = mirror.New(mirror.Opts{
		Fast:      fast,
		Slow:      slow,
		Namespace: cfg.Cache.Namespace,
		Compress:  cfg.Cache.Compress,
		Logger:    lg.Named("mirror"),
	})
	if err != nil {
		return fmt.Errorf("failed to init store: %w", err)
	}

	m.oracle, err = newOracle(cfg.Probe, lg)
	if err != nil {
		return fmt.Errorf("failed to init prober: %w", err)
	}

	m.queue, err = netqueue.New(netqueue.Opts{
		Concurrency: cfg.Queue.Concurrency,
		MaxRetries:  cfg.Queue.MaxRetries,
		RetryDelay:  time.Duration(cfg.Queue.RetryDelayMS) * time.Millisecond,
		Oracle:      m.oracle,
		Logger:      lg.Named("netqueue"),
	})
	if err != nil {
		return fmt.Errorf("failed to init queue: %w", err)
	}

	profiles, err := profilesFromConfig(cfg.Cache.Profiles)
	if err != nil {
		return err
	}
	m.coord, err = fetch.NewCoordinator(fetch.Opts{
		Store:           m.store,
		Oracle:          m.oracle,
		ExcludePatterns: cfg.Cache.ExcludePatterns,
		Profiles:        profiles,
		Coalesce:        true,
		Logger:          lg.Named("fetch"),
	})
	if err != nil {
		return err
	}

	if err := m.metricsReg.Register(cache.NewStatsCollector("fast", m.store.Stats)); err != nil {
		return fmt.Errorf("failed to register stats collector: %w", err)
	}

	m.httpAPIMux.Handle("/metrics", promhttp.HandlerFor(m.metricsReg, promhttp.HandlerOpts{}))
	m.httpAPIMux.HandleFunc("/debug/pprof/", pprof.Index)
	m.httpAPIMux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	m.httpAPIMux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	m.httpAPIMux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	m.httpAPIMux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	m.registerAPI()

	m.httpAPIServer = &http.Server{
		Addr:    cfg.API.Addr,
		Handler: m.httpAPIMux,
	}
	m.lc.Attach(func(done func(), closing <-chan struct{}) {
		defer done()
		lg.Info("http api started", zap.String("addr", cfg.API.Addr))
		if err := m.httpAPIServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			m.lc.Signal(fmt.Errorf("http api exited: %w", err))
		}
	})

	if len(cfgPath) > 0 {
		m.watchConfig(cfgPath)
	}

	// SIGINT/SIGTERM closes the whole service.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	m.lc.Attach(func(done func(), closing <-chan struct{}) {
		defer done()
		select {
		case sig := <-sigCh:
			lg.Info("signal received", zap.Stringer("signal", sig))
			m.lc.Signal(nil)
		case <-closing:
		}
	})

	<-m.lc.Closing()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()
	m.httpAPIServer.Shutdown(shutdownCtx)
	m.queue.Close()
	m.store.Close()
	if c, ok := m.oracle.(*online.Prober); ok {
		c.Close()
	}

	m.lc.Done()
	m.lc.Shutdown()
	return m.lc.Err()
}

func newMetricsReg() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

func newOracle(cfg ProbeConfig, lg *zap.Logger) (online.Oracle, error) {
	if len(cfg.URL) == 0 {
		return online.NewFlag(true), nil
	}

	return online.NewProber(online.ProberOpts{
		Probe: func(ctx context.Context) error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.URL, nil)
			if err != nil {
				return err
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return err
			}
			resp.Body.Close()
			if resp.StatusCode >= http.StatusInternalServerError {
				return fmt.Errorf("probe status %d", resp.StatusCode)
			}
			return nil
		},
		Interval: time.Duration(cfg.IntervalMS) * time.Millisecond,
		Logger:   lg.Named("prober"),
	})
}

func profilesFromConfig(pcs map[string]ProfileConfig) (map[string]fetch.Profile, error) {
	profiles := make(map[string]fetch.Profile, len(pcs))
	for tag, pc := range pcs {
		strategy, err := fetch.ParseStrategy(pc.Strategy)
		if err != nil {
			return nil, fmt.Errorf("profile %q: %w", tag, err)
		}
		profiles[tag] = fetch.Profile{
			Strategy:   strategy,
			TTL:        time.Duration(pc.TTLMS) * time.Millisecond,
			MaxRetries: pc.MaxRetries,
			RetryDelay: time.Duration(pc.RetryDelayMS) * time.Millisecond,
		}
	}
	return profiles, nil
}

// watchConfig re-applies exclude patterns and fetch profiles when the
// config file changes. Everything else needs a restart.
func (m *Cachekit) watchConfig(cfgPath string) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		m.logger.Warn("config watcher unavailable", zap.Error(err))
		return
	}
	if err := watcher.Add(cfgPath); err != nil {
		m.logger.Warn("cannot watch config", zap.String("path", cfgPath), zap.Error(err))
		watcher.Close()
		return
	}

	m.lc.Attach(func(done func(), closing <-chan struct{}) {
		defer done()
		defer watcher.Close()
		for {
			select {
			case <-closing:
				return
			case err := <-watcher.Errors:
				m.logger.Warn("config watcher", zap.Error(err))
			case ev := <-watcher.Events:
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				if err := m.reloadConfig(cfgPath); err != nil {
					m.logger.Warn("config reload failed, keeping previous settings", zap.Error(err))
					continue
				}
				m.logger.Info("config reloaded", zap.String("path", cfgPath))
			}
		}
	})
}

func (m *Cachekit) reloadConfig(cfgPath string) error {
	v := viper.New()
	v.SetConfigFile(cfgPath)
	if err := v.ReadInConfig(); err != nil {
		return err
	}
	cfg, err := decodeConfig(v)
	if err != nil {
		return err
	}

	if err := m.coord.SetExcludePatterns(cfg.Cache.ExcludePatterns); err != nil {
		return err
	}
	profiles, err := profilesFromConfig(cfg.Cache.Profiles)
	if err != nil {
		return err
	}
	m.coord.SetProfiles(profiles)
	return nil
}
