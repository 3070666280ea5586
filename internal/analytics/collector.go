package analytics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

// HistoryCollector exposes History aggregates to a Prometheus registry. The
// database is read on every scrape.
type HistoryCollector struct {
	history  *History
	runs     *prometheus.Desc
	failures *prometheus.Desc
	coverage *prometheus.Desc
}

// NewHistoryCollector returns a collector over h.
func NewHistoryCollector(h *History) *HistoryCollector {
	labels := []string{"feature"}
	return &HistoryCollector{
		history:  h,
		runs:     prometheus.NewDesc("speckit_runs_total", "Recorded orchestrator runs.", labels, nil),
		failures: prometheus.NewDesc("speckit_run_failures_total", "Recorded failed orchestrator runs.", labels, nil),
		coverage: prometheus.NewDesc("speckit_run_last_coverage_percent", "Coverage of the most recent run.", labels, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *HistoryCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.runs
	ch <- c.failures
	ch <- c.coverage
}

// Collect implements prometheus.Collector.
func (c *HistoryCollector) Collect(ch chan<- prometheus.Metric) {
	summaries, err := c.history.Summaries(context.Background())
	if err != nil {
		ch <- prometheus.NewInvalidMetric(c.runs, err)
		return
	}
	for _, s := range summaries {
		ch <- prometheus.MustNewConstMetric(c.runs, prometheus.CounterValue, float64(s.Runs), s.Feature)
		ch <- prometheus.MustNewConstMetric(c.failures, prometheus.CounterValue, float64(s.Failures), s.Feature)
		ch <- prometheus.MustNewConstMetric(c.coverage, prometheus.GaugeValue, s.LastCoverage, s.Feature)
	}
}
