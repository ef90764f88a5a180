package promexport

import (
	"github.com/prometheus/client_golang/prometheus"
)

// LatencyStats is one command's live latency distribution summary.
type LatencyStats struct {
	Mean float64
	P50  int64
	P90  int64
	P99  int64
}

// LatencyCollector exposes live latency percentiles per command. It reads
// the rolling percentile windows at scrape time instead of maintaining its
// own histogram, so scraped values always reflect the current window.
type LatencyCollector struct {
	source func() map[string]LatencyStats

	meanDesc *prometheus.Desc
	pctDesc  *prometheus.Desc
}

// NewLatencyCollector builds a collector over source, which returns
// per-command latency stats keyed by command key.
func NewLatencyCollector(source func() map[string]LatencyStats) *LatencyCollector {
	return &LatencyCollector{
		source: source,
		meanDesc: prometheus.NewDesc(
			"resilience_command_latency_mean_ms",
			"Mean command latency over the rolling percentile window",
			[]string{"command"}, nil,
		),
		pctDesc: prometheus.NewDesc(
			"resilience_command_latency_percentile_ms",
			"Command latency percentile over the rolling percentile window",
			[]string{"command", "percentile"}, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *LatencyCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.meanDesc
	ch <- c.pctDesc
}

// Collect implements prometheus.Collector.
func (c *LatencyCollector) Collect(ch chan<- prometheus.Metric) {
	for key, stats := range c.source() {
		ch <- prometheus.MustNewConstMetric(c.meanDesc, prometheus.GaugeValue, stats.Mean, key)
		ch <- prometheus.MustNewConstMetric(c.pctDesc, prometheus.GaugeValue, float64(stats.P50), key, "50")
		ch <- prometheus.MustNewConstMetric(c.pctDesc, prometheus.GaugeValue, float64(stats.P90), key, "90")
		ch <- prometheus.MustNewConstMetric(c.pctDesc, prometheus.GaugeValue, float64(stats.P99), key, "99")
	}
}
