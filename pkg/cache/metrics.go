package cache

import (
	"github.com/prometheus/client_golang/prometheus"
)

type statsCollector struct {
	src func() Stats

	hits      *prometheus.Desc
	misses    *prometheus.Desc
	evictions *prometheus.Desc
	sizeBytes *prometheus.Desc
	entries   *prometheus.Desc
}

// NewStatsCollector returns a prometheus.Collector that reads src on every
// scrape. namespace distinguishes multiple stores in one registry.
func NewStatsCollector(namespace string, src func() Stats) prometheus.Collector {
	labels := prometheus.Labels{"store": namespace}
	return &statsCollector{
		src: src,
		hits: prometheus.NewDesc(
			"cachekit_hits_total", "Cumulative cache hits.", nil, labels),
		misses: prometheus.NewDesc(
			"cachekit_misses_total", "Cumulative cache misses.", nil, labels),
		evictions: prometheus.NewDesc(
			"cachekit_evictions_total", "Cumulative capacity evictions.", nil, labels),
		sizeBytes: prometheus.NewDesc(
			"cachekit_size_bytes", "Summed size of live entries.", nil, labels),
		entries: prometheus.NewDesc(
			"cachekit_entries", "Number of live entries.", nil, labels),
	}
}

func (c *statsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.hits
	ch <- c.misses
	ch <- c.evictions
	ch <- c.sizeBytes
	ch <- c.entries
}

func (c *statsCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.src()
	ch <- prometheus.MustNewConstMetric(c.hits, prometheus.CounterValue, float64(s.Hits))
	ch <- prometheus.MustNewConstMetric(c.misses, prometheus.CounterValue, float64(s.Misses))
	ch <- prometheus.MustNewConstMetric(c.evictions, prometheus.CounterValue, float64(s.Evictions))
	ch <- prometheus.MustNewConstMetric(c.sizeBytes, prometheus.GaugeValue, float64(s.TotalSizeBytes))
	ch <- prometheus.MustNewConstMetric(c.entries, prometheus.GaugeValue, float64(s.EntryCount))
}
