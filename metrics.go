package ztl

import (
	"sync/atomic"
	"time"

	"github.com/behrlich/zns-ztl/internal/interfaces"
)

// LatencyBuckets defines the latency histogram buckets in nanoseconds,
// covering 1us to 10s with logarithmic spacing.
var LatencyBuckets = []uint64{
	1_000,
	10_000,
	100_000,
	1_000_000,
	10_000_000,
	100_000_000,
	1_000_000_000,
	10_000_000_000,
}

const numLatencyBuckets = 8

// Metrics tracks performance and operational statistics for a Core.
// AppendBytes, WriteBytes and ReadBytes accumulate the nsec passed to
// each Record call, so they count sectors, not bytes.
type Metrics struct {
	AppendOps   atomic.Uint64
	WriteOps    atomic.Uint64
	ReadOps     atomic.Uint64
	AppendBytes atomic.Uint64
	WriteBytes  atomic.Uint64
	ReadBytes   atomic.Uint64

	AppendErrors atomic.Uint64
	WriteErrors  atomic.Uint64
	ReadErrors   atomic.Uint64

	ZoneResets        atomic.Uint64
	MempoolExhausted  atomic.Uint64
	FinalizeSuccess   atomic.Uint64
	FinalizeFailure   atomic.Uint64
	FinalizePieceSum  atomic.Uint64 // sum of NOffs across successful finalizations

	TotalLatencyNs atomic.Uint64
	OpCount        atomic.Uint64

	LatencyHistogram [numLatencyBuckets]atomic.Uint64

	StartTime atomic.Int64
	StopTime  atomic.Int64
}

// NewMetrics creates a new metrics instance with StartTime set to now.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalLatencyNs.Add(latencyNs)
	m.OpCount.Add(1)
	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyHistogram[i].Add(1)
		}
	}
}

// RecordAppend implements interfaces.Observer.
func (m *Metrics) RecordAppend(group, zone uint32, nsec uint32, latencyNs uint64, success bool) {
	m.AppendOps.Add(1)
	if success {
		m.AppendBytes.Add(uint64(nsec))
	} else {
		m.AppendErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordWrite implements interfaces.Observer.
func (m *Metrics) RecordWrite(group, zone uint32, nsec uint32, latencyNs uint64, success bool) {
	m.WriteOps.Add(1)
	if success {
		m.WriteBytes.Add(uint64(nsec))
	} else {
		m.WriteErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordRead implements interfaces.Observer.
func (m *Metrics) RecordRead(nsec uint32, latencyNs uint64, success bool) {
	m.ReadOps.Add(1)
	if success {
		m.ReadBytes.Add(uint64(nsec))
	} else {
		m.ReadErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordZoneReset implements interfaces.Observer.
func (m *Metrics) RecordZoneReset(group, zone uint32) {
	m.ZoneResets.Add(1)
}

// RecordMempoolExhausted implements interfaces.Observer.
func (m *Metrics) RecordMempoolExhausted(poolType int) {
	m.MempoolExhausted.Add(1)
}

// RecordFinalize implements interfaces.Observer.
func (m *Metrics) RecordFinalize(pieces int, success bool) {
	if success {
		m.FinalizeSuccess.Add(1)
		m.FinalizePieceSum.Add(uint64(pieces))
	} else {
		m.FinalizeFailure.Add(1)
	}
}

// Stop marks the device as stopped.
func (m *Metrics) Stop() { m.StopTime.Store(time.Now().UnixNano()) }

// MetricsSnapshot is a point-in-time copy of Metrics.
type MetricsSnapshot struct {
	AppendOps, WriteOps, ReadOps               uint64
	AppendBytes, WriteBytes, ReadBytes         uint64
	AppendErrors, WriteErrors, ReadErrors      uint64
	ZoneResets, MempoolExhausted               uint64
	FinalizeSuccess, FinalizeFailure           uint64
	AvgPiecesPerFinalize                       float64
	AvgLatencyNs, UptimeNs                     uint64
	LatencyHistogram                           [numLatencyBuckets]uint64
	TotalOps, TotalBytes                       uint64
	ErrorRate                                  float64
}

// Snapshot creates a point-in-time snapshot of metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		AppendOps:        m.AppendOps.Load(),
		WriteOps:         m.WriteOps.Load(),
		ReadOps:          m.ReadOps.Load(),
		AppendBytes:      m.AppendBytes.Load(),
		WriteBytes:       m.WriteBytes.Load(),
		ReadBytes:        m.ReadBytes.Load(),
		AppendErrors:     m.AppendErrors.Load(),
		WriteErrors:      m.WriteErrors.Load(),
		ReadErrors:       m.ReadErrors.Load(),
		ZoneResets:       m.ZoneResets.Load(),
		MempoolExhausted: m.MempoolExhausted.Load(),
		FinalizeSuccess:  m.FinalizeSuccess.Load(),
		FinalizeFailure:  m.FinalizeFailure.Load(),
	}

	snap.TotalOps = snap.AppendOps + snap.WriteOps + snap.ReadOps
	snap.TotalBytes = snap.AppendBytes + snap.WriteBytes + snap.ReadBytes

	if snap.FinalizeSuccess > 0 {
		snap.AvgPiecesPerFinalize = float64(m.FinalizePieceSum.Load()) / float64(snap.FinalizeSuccess)
	}

	opCount := m.OpCount.Load()
	if opCount > 0 {
		snap.AvgLatencyNs = m.TotalLatencyNs.Load() / opCount
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	totalErrors := snap.AppendErrors + snap.WriteErrors + snap.ReadErrors
	if snap.TotalOps > 0 {
		snap.ErrorRate = float64(totalErrors) / float64(snap.TotalOps) * 100.0
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyHistogram[i].Load()
	}

	return snap
}

// Reset resets all metrics counters; useful for testing.
func (m *Metrics) Reset() {
	m.AppendOps.Store(0)
	m.WriteOps.Store(0)
	m.ReadOps.Store(0)
	m.AppendBytes.Store(0)
	m.WriteBytes.Store(0)
	m.ReadBytes.Store(0)
	m.AppendErrors.Store(0)
	m.WriteErrors.Store(0)
	m.ReadErrors.Store(0)
	m.ZoneResets.Store(0)
	m.MempoolExhausted.Store(0)
	m.FinalizeSuccess.Store(0)
	m.FinalizeFailure.Store(0)
	m.FinalizePieceSum.Store(0)
	m.TotalLatencyNs.Store(0)
	m.OpCount.Store(0)
	for i := 0; i < numLatencyBuckets; i++ {
		m.LatencyHistogram[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// NoOpObserver is a no-op interfaces.Observer.
type NoOpObserver struct{}

func (NoOpObserver) RecordAppend(uint32, uint32, uint32, uint64, bool) {}
func (NoOpObserver) RecordWrite(uint32, uint32, uint32, uint64, bool)  {}
func (NoOpObserver) RecordRead(uint32, uint64, bool)                  {}
func (NoOpObserver) RecordZoneReset(uint32, uint32)                   {}
func (NoOpObserver) RecordMempoolExhausted(int)                       {}
func (NoOpObserver) RecordFinalize(int, bool)                         {}

// MetricsObserver implements interfaces.Observer by recording into a
// Metrics instance.
type MetricsObserver struct {
	Metrics *Metrics
}

// NewMetricsObserver creates an observer that records into m.
func NewMetricsObserver(m *Metrics) *MetricsObserver { return &MetricsObserver{Metrics: m} }

func (o *MetricsObserver) RecordAppend(group, zone, nsec uint32, latencyNs uint64, success bool) {
	o.Metrics.RecordAppend(group, zone, nsec, latencyNs, success)
}
func (o *MetricsObserver) RecordWrite(group, zone, nsec uint32, latencyNs uint64, success bool) {
	o.Metrics.RecordWrite(group, zone, nsec, latencyNs, success)
}
func (o *MetricsObserver) RecordRead(nsec uint32, latencyNs uint64, success bool) {
	o.Metrics.RecordRead(nsec, latencyNs, success)
}
func (o *MetricsObserver) RecordZoneReset(group, zone uint32) { o.Metrics.RecordZoneReset(group, zone) }
func (o *MetricsObserver) RecordMempoolExhausted(poolType int) {
	o.Metrics.RecordMempoolExhausted(poolType)
}
func (o *MetricsObserver) RecordFinalize(pieces int, success bool) {
	o.Metrics.RecordFinalize(pieces, success)
}

var (
	_ interfaces.Observer = (*MetricsObserver)(nil)
	_ interfaces.Observer = (*NoOpObserver)(nil)
)
