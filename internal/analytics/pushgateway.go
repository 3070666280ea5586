package analytics

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// PushgatewaySink pushes run gauges to a Prometheus pushgateway, grouped by
// feature.
type PushgatewaySink struct {
	url string
	job string
}

// NewPushgatewaySink returns a sink for the gateway at url.
func NewPushgatewaySink(url, job string) *PushgatewaySink {
	if job == "" {
		job = "speckit"
	}
	return &PushgatewaySink{url: url, job: job}
}

// Record implements Sink.
func (s *PushgatewaySink) Record(ctx context.Context, p Payload) error {
	coverage := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "speckit_run_coverage_percent",
		Help: "Task or requirement completion of the last run.",
	})
	runtime := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "speckit_run_duration_seconds",
		Help: "Wall clock duration of the last run.",
	})
	success := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "speckit_run_success",
		Help: "1 if the last run succeeded, 0 otherwise.",
	})
	completed := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "speckit_run_last_completion_timestamp_seconds",
		Help: "Unix time the last run finished.",
	})

	coverage.Set(p.CoveragePct)
	runtime.Set(float64(p.RuntimeMs) / 1000)
	if p.Success {
		success.Set(1)
	}
	completed.SetToCurrentTime()

	feature := p.Feature
	if feature == "" {
		feature = "unknown"
	}
	err := push.New(s.url, s.job).
		Collector(coverage).
		Collector(runtime).
		Collector(success).
		Collector(completed).
		Grouping("feature", feature).
		PushContext(ctx)
	if err != nil {
		return fmt.Errorf("pushgateway push failed: %w", err)
	}
	return nil
}
