package coremain

import (
	"time"

	"github.com/hackforge/cachekit/mlog"
)

type Config struct {
	Log   mlog.LogConfig `yaml:"log"`
	API   APIConfig      `yaml:"api"`
	Cache CacheConfig    `yaml:"cache"`
	Redis RedisConfig    `yaml:"redis"`
	Queue QueueConfig    `yaml:"queue"`
	Probe ProbeConfig    `yaml:"probe"`
}

type APIConfig struct {
	// Addr is the HTTP API listen address. Default ":8957".
	Addr string `yaml:"addr"`
}

type CacheConfig struct {
	// MaxSizeBytes is the fast tier byte budget. Default 8 MiB.
	MaxSizeBytes int64 `yaml:"max_size_bytes"`

	// MaxAgeMS is the default entry ttl when a request carries none.
	// Default 5 minutes.
	MaxAgeMS int64 `yaml:"max_age_ms"`

	// CleanerIntervalMS is the fast tier expiry sweep interval.
	// 0 means one minute; negative disables the sweeper.
	CleanerIntervalMS int64 `yaml:"cleaner_interval_ms"`

	// Namespace prefixes durable tier keys. Default "cachekit".
	Namespace string `yaml:"namespace"`

	// Compress snappy-compresses durable tier records.
	Compress bool `yaml:"compress"`

	// File is the path of the file-backed durable tier, used when no
	// redis addr is configured. Empty means the durable tier is
	// memory-only (lost on restart).
	File string `yaml:"file"`

	// ExcludePatterns are case-insensitive regexps; matching keys are
	// never cached. Hot-reloaded.
	ExcludePatterns []string `yaml:"exclude_patterns"`

	// Profiles maps a domain tag to its fetch settings. Hot-reloaded.
	Profiles map[string]ProfileConfig `yaml:"profiles"`
}

type ProfileConfig struct {
	// Strategy: "cache-first", "network-first" or
	// "stale-while-revalidate".
	Strategy string `yaml:"strategy"`

	TTLMS        int64 `yaml:"ttl_ms"`
	MaxRetries   int   `yaml:"max_retries"`
	RetryDelayMS int64 `yaml:"retry_delay_ms"`
}

type RedisConfig struct {
	// Addr enables the redis durable tier when non-empty.
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	TimeoutMS int64  `yaml:"timeout_ms"`
}

type QueueConfig struct {
	// Concurrency limits backend requests in flight. Default 4.
	Concurrency int64 `yaml:"concurrency"`

	MaxRetries   int   `yaml:"max_retries"`
	RetryDelayMS int64 `yaml:"retry_delay_ms"`
}

type ProbeConfig struct {
	// URL enables the connectivity prober when non-empty; the probe is an
	// HTTP GET that must answer below 500.
	URL string `yaml:"url"`

	IntervalMS int64 `yaml:"interval_ms"`
}

func DefaultConfig() *Config {
	return &Config{
		Log: mlog.LogConfig{Level: "info"},
		API: APIConfig{Addr: ":8957"},
		Cache: CacheConfig{
			MaxSizeBytes: 8 << 20,
			MaxAgeMS:     (5 * time.Minute).Milliseconds(),
			Namespace:    "cachekit",
			ExcludePatterns: []string{
				"^auth:", "^session:",
			},
			Profiles: map[string]ProfileConfig{
				"events": {
					Strategy: "stale-while-revalidate",
					TTLMS:    (2 * time.Minute).Milliseconds(),
				},
				"teams": {
					Strategy:   "network-first",
					TTLMS:      (30 * time.Second).Milliseconds(),
					MaxRetries: 2,
				},
				"static": {
					Strategy: "cache-first",
					TTLMS:    (30 * time.Minute).Milliseconds(),
				},
			},
		},
		Queue: QueueConfig{Concurrency: 4, MaxRetries: 2},
	}
}

func (c *CacheConfig) maxAge() time.Duration {
	if c.MaxAgeMS <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.MaxAgeMS) * time.Millisecond
}

func (c *CacheConfig) cleanerInterval() time.Duration {
	switch {
	case c.CleanerIntervalMS < 0:
		return 0
	case c.CleanerIntervalMS == 0:
		return time.Minute
	default:
		return time.Duration(c.CleanerIntervalMS) * time.Millisecond
	}
}
