package ztl

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/behrlich/zns-ztl/internal/interfaces"
)

// PrometheusObserver implements interfaces.Observer by recording into
// Prometheus collectors. Per-zone latency and byte counters are
// intentionally NOT labeled by zone: with thousands of zones per device,
// per-zone label cardinality would overwhelm a scrape target. Zone
// resets are labeled by group only for the same reason — group counts
// stay small and bounded.
type PrometheusObserver struct {
	ops        *prometheus.CounterVec // labels: kind={append,write,read}, result={ok,err}
	bytes      *prometheus.CounterVec // labels: kind
	latency    *prometheus.HistogramVec // labels: kind
	zoneResets *prometheus.CounterVec  // labels: group
	mempoolExh *prometheus.CounterVec  // labels: pool_type
	finalize   *prometheus.CounterVec  // labels: result
	pieces     prometheus.Histogram
}

// NewPrometheusObserver creates and registers a PrometheusObserver's
// collectors against reg. Pass prometheus.DefaultRegisterer for the
// global registry.
func NewPrometheusObserver(reg prometheus.Registerer, namespace string) *PrometheusObserver {
	o := &PrometheusObserver{
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ztl_ops_total",
			Help:      "Total media operations by kind and result.",
		}, []string{"kind", "result"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ztl_bytes_total",
			Help:      "Total sectors transferred by kind.",
		}, []string{"kind"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ztl_op_latency_seconds",
			Help:      "Media operation latency by kind.",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 12),
		}, []string{"kind"}),
		zoneResets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ztl_zone_resets_total",
			Help:      "Total zone RESET operations by group.",
		}, []string{"group"}),
		mempoolExh: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ztl_mempool_exhausted_total",
			Help:      "Total mcmd mempool exhaustion events by pool type.",
		}, []string{"pool_type"}),
		finalize: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ztl_finalize_total",
			Help:      "Total ucmd finalizations by result.",
		}, []string{"result"}),
		pieces: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ztl_finalize_pieces",
			Help:      "Number of media pieces per successful finalization.",
			Buckets:   prometheus.LinearBuckets(1, 1, 8),
		}),
	}

	reg.MustRegister(o.ops, o.bytes, o.latency, o.zoneResets, o.mempoolExh, o.finalize, o.pieces)
	return o
}

func result(success bool) string {
	if success {
		return "ok"
	}
	return "err"
}

func (o *PrometheusObserver) RecordAppend(group, zone uint32, nsec uint32, latencyNs uint64, success bool) {
	o.ops.WithLabelValues("append", result(success)).Inc()
	if success {
		o.bytes.WithLabelValues("append").Add(float64(nsec))
	}
	o.latency.WithLabelValues("append").Observe(float64(latencyNs) / 1e9)
}

func (o *PrometheusObserver) RecordWrite(group, zone uint32, nsec uint32, latencyNs uint64, success bool) {
	o.ops.WithLabelValues("write", result(success)).Inc()
	if success {
		o.bytes.WithLabelValues("write").Add(float64(nsec))
	}
	o.latency.WithLabelValues("write").Observe(float64(latencyNs) / 1e9)
}

func (o *PrometheusObserver) RecordRead(nsec uint32, latencyNs uint64, success bool) {
	o.ops.WithLabelValues("read", result(success)).Inc()
	if success {
		o.bytes.WithLabelValues("read").Add(float64(nsec))
	}
	o.latency.WithLabelValues("read").Observe(float64(latencyNs) / 1e9)
}

func (o *PrometheusObserver) RecordZoneReset(group, zone uint32) {
	o.zoneResets.WithLabelValues(strconv.FormatUint(uint64(group), 10)).Inc()
}

func (o *PrometheusObserver) RecordMempoolExhausted(poolType int) {
	o.mempoolExh.WithLabelValues(strconv.Itoa(poolType)).Inc()
}

func (o *PrometheusObserver) RecordFinalize(pieces int, success bool) {
	o.finalize.WithLabelValues(result(success)).Inc()
	if success {
		o.pieces.Observe(float64(pieces))
	}
}

var _ interfaces.Observer = (*PrometheusObserver)(nil)
