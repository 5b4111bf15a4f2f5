package metrics

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector implements Collector backed by Prometheus. Metrics are
// registered lazily on first use.
type PrometheusCollector struct {
	reg       prometheus.Registerer
	namespace string
	once      sync.Once

	joins         *prometheus.CounterVec
	joinLatency   prometheus.Histogram
	floodWaits    prometheus.Histogram
	replacements  *prometheus.CounterVec
	activeWorkers prometheus.Gauge
	cycles        *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	distributed   prometheus.Counter
	backlog       *prometheus.GaugeVec
}

var _ Collector = (*PrometheusCollector)(nil)

// NewPrometheus creates a collector on reg (prometheus.DefaultRegisterer when
// nil) under namespace ("joiner" when empty).
func NewPrometheus(reg prometheus.Registerer, namespace string) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "joiner"
	}
	return &PrometheusCollector{reg: reg, namespace: namespace}
}

func (p *PrometheusCollector) ensureRegistered() {
	p.once.Do(func() {
		p.joins = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "worker",
			Name:      "joins_total",
			Help:      "Join attempts by recorded status.",
		}, []string{"status"})
		p.joinLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "worker",
			Name:      "join_latency_seconds",
			Help:      "Latency of platform join calls in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms .. ~25s
		})
		p.floodWaits = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "worker",
			Name:      "flood_wait_seconds",
			Help:      "Rate-limit waits signalled by the platform in seconds.",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 900, 3600},
		})
		p.replacements = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "worker",
			Name:      "replacements_total",
			Help:      "Dead links swapped for a reserve link, by whether the reserve had one.",
		}, []string{"found"})
		p.activeWorkers = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "cycle",
			Name:      "active_workers",
			Help:      "Session units currently running.",
		})
		p.cycles = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "cycle",
			Name:      "runs_total",
			Help:      "Finished join cycles by result (ok, cancelled, error).",
		}, []string{"result"})
		p.cycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "cycle",
			Name:      "duration_seconds",
			Help:      "Wall time of join cycles in seconds.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 9), // 1s .. ~18h
		})
		p.distributed = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "distributor",
			Name:      "assigned_total",
			Help:      "Links bound to sessions by distribution passes.",
		})
		p.backlog = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "store",
			Name:      "links",
			Help:      "Link totals from the last stats read, by kind.",
		}, []string{"kind"})

		p.reg.MustRegister(p.joins)
		p.reg.MustRegister(p.joinLatency)
		p.reg.MustRegister(p.floodWaits)
		p.reg.MustRegister(p.replacements)
		p.reg.MustRegister(p.activeWorkers)
		p.reg.MustRegister(p.cycles)
		p.reg.MustRegister(p.cycleDuration)
		p.reg.MustRegister(p.distributed)
		p.reg.MustRegister(p.backlog)
	})
}

func (p *PrometheusCollector) RecordJoin(status string) {
	p.ensureRegistered()
	p.joins.WithLabelValues(status).Inc()
}

func (p *PrometheusCollector) ObserveJoinLatency(seconds float64) {
	p.ensureRegistered()
	p.joinLatency.Observe(seconds)
}

func (p *PrometheusCollector) RecordFloodWait(seconds float64) {
	p.ensureRegistered()
	p.floodWaits.Observe(seconds)
}

func (p *PrometheusCollector) RecordReplacement(found bool) {
	p.ensureRegistered()
	p.replacements.WithLabelValues(strconv.FormatBool(found)).Inc()
}

func (p *PrometheusCollector) SetActiveWorkers(n int) {
	p.ensureRegistered()
	p.activeWorkers.Set(float64(n))
}

func (p *PrometheusCollector) RecordCycle(result string, seconds float64) {
	p.ensureRegistered()
	p.cycles.WithLabelValues(result).Inc()
	p.cycleDuration.Observe(seconds)
}

func (p *PrometheusCollector) RecordDistributed(n int) {
	if n <= 0 {
		return
	}
	p.ensureRegistered()
	p.distributed.Add(float64(n))
}

func (p *PrometheusCollector) SetBacklog(reserve, dead, pending int) {
	p.ensureRegistered()
	p.backlog.WithLabelValues("reserve").Set(float64(reserve))
	p.backlog.WithLabelValues("dead").Set(float64(dead))
	p.backlog.WithLabelValues("pending").Set(float64(pending))
}
