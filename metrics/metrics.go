// Package metrics exposes the engine's runtime counters as Prometheus
// series. The teacher instruments almost every subsystem (core, txpool,
// p2p) with a package-level registry of named meters/counters/gauges
// queried at scrape time by a custom prometheus.Collector
// (the teacher's metrics/prometheus collector, which is not carried into
// .teacher_ref); this package keeps
// that "narrow optional recorder interface per package" shape but talks
// to client_golang directly rather than the teacher's own hand-rolled
// meter types, since client_golang is already the dependency the rest of
// the ecosystem (and the teacher's own go.mod, albeit indirectly) expects
// a /metrics endpoint to be built on.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// QueueDepther is implemented by queue.Queue; depth is sampled lazily at
// scrape time rather than pushed on every enqueue/dequeue, matching the
// teacher's own scrape-time collector pattern.
type QueueDepther interface {
	Depth(ctx context.Context) (ready, delayed, processing int64, err error)
}

// Metrics holds every Prometheus series SPEC_FULL.md's observability
// section names and registers them against a private registry (never the
// global default one, so multiple Metrics instances never collide in
// tests).
type Metrics struct {
	reg *prometheus.Registry

	RunsTotal       *prometheus.CounterVec
	RunDuration     *prometheus.HistogramVec
	HandlerDuration *prometheus.HistogramVec
	QueueRetries    prometheus.Counter
	LedgerBalance   *prometheus.GaugeVec
}

// New builds and registers the metrics set. Pass a QueueDepther (the
// running queue.Queue) to have queue depth gauges sampled at scrape
// time; pass nil to omit queue depth (e.g. in a worker-only process with
// no local queue handle).
func New(queue QueueDepther) *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		reg: reg,
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zecflow",
			Name:      "runs_total",
			Help:      "Total workflow runs completed, by terminal status.",
		}, []string{"status"}),
		RunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "zecflow",
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of a workflow run's execution.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"status"}),
		HandlerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "zecflow",
			Name:      "handler_duration_seconds",
			Help:      "Duration of a single block handler invocation.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"handler"}),
		QueueRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "zecflow",
			Name:      "queue_retries_total",
			Help:      "Total job retries scheduled after a retryable failure.",
		}),
		LedgerBalance: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "zecflow",
			Name:      "ledger_balance",
			Help:      "Current credit balance, by tenant.",
		}, []string{"tenant"}),
	}

	reg.MustRegister(m.RunsTotal, m.RunDuration, m.HandlerDuration, m.QueueRetries, m.LedgerBalance)
	if queue != nil {
		reg.MustRegister(&queueDepthCollector{queue: queue})
	}
	return m
}

// ObserveRun records one workflow run's terminal status and duration,
// implementing engine.MetricsRecorder.
func (m *Metrics) ObserveRun(status string, duration time.Duration) {
	m.RunsTotal.WithLabelValues(status).Inc()
	m.RunDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// ObserveHandler records one block handler invocation's duration,
// implementing engine.MetricsRecorder.
func (m *Metrics) ObserveHandler(blockID string, duration time.Duration) {
	m.HandlerDuration.WithLabelValues(blockID).Observe(duration.Seconds())
}

// IncQueueRetry counts one scheduled retry, implementing
// queue.MetricsRecorder.
func (m *Metrics) IncQueueRetry() {
	m.QueueRetries.Inc()
}

// SetBalance records a tenant's balance after a ledger write,
// implementing ledger.MetricsRecorder.
func (m *Metrics) SetBalance(tenantID string, balance int64) {
	m.LedgerBalance.WithLabelValues(tenantID).Set(float64(balance))
}

// Handler serves the registered series in the Prometheus exposition
// format, mounted at GET /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// queueDepthCollector samples queue.Queue's three Redis structures at
// scrape time instead of requiring every enqueue/dequeue call site to
// push a gauge update, mirroring the teacher's own scrape-time
// prometheus.Collector adapter.
type queueDepthCollector struct {
	queue QueueDepther
}

func (c *queueDepthCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- queueDepthDesc
}

func (c *queueDepthCollector) Collect(ch chan<- prometheus.Metric) {
	ready, delayed, processing, err := c.queue.Depth(context.Background())
	if err != nil {
		return
	}
	ch <- prometheus.MustNewConstMetric(queueDepthDesc, prometheus.GaugeValue, float64(ready), "ready")
	ch <- prometheus.MustNewConstMetric(queueDepthDesc, prometheus.GaugeValue, float64(delayed), "delayed")
	ch <- prometheus.MustNewConstMetric(queueDepthDesc, prometheus.GaugeValue, float64(processing), "processing")
}

var queueDepthDesc = prometheus.NewDesc("zecflow_queue_depth", "Jobs in the queue, by state.", []string{"state"}, nil)
