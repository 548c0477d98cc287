package eventcore

import (
	"sync"
	"time"
)

// StorageMetrics tracks façade-level operation counts and latencies,
// readable at any time without blocking writers for long. Target
// thresholds: mean save < 50ms, mean load < 20ms.
type StorageMetrics struct {
	mu sync.Mutex

	totalSaves, successfulSaves int64
	totalLoads, successfulLoads int64

	saveLatencySum, loadLatencySum time.Duration
	maxSaveLatency, maxLoadLatency time.Duration

	lastOpAt        time.Time
	opsByType       map[string]int64
}

// NewStorageMetrics returns a zero-valued, ready-to-use StorageMetrics.
func NewStorageMetrics() *StorageMetrics {
	return &StorageMetrics{opsByType: make(map[string]int64)}
}

func (m *StorageMetrics) recordSave(d time.Duration, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalSaves++
	if ok {
		m.successfulSaves++
	}
	m.saveLatencySum += d
	if d > m.maxSaveLatency {
		m.maxSaveLatency = d
	}
	m.lastOpAt = time.Now()
	m.opsByType["save_events"]++
}

func (m *StorageMetrics) recordLoad(op string, d time.Duration, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalLoads++
	if ok {
		m.successfulLoads++
	}
	m.loadLatencySum += d
	if d > m.maxLoadLatency {
		m.maxLoadLatency = d
	}
	m.lastOpAt = time.Now()
	m.opsByType[op]++
}

// Snapshot is an immutable point-in-time read of StorageMetrics.
type Snapshot struct {
	TotalSaves, SuccessfulSaves int64
	TotalLoads, SuccessfulLoads int64
	MeanSaveLatency, MaxSaveLatency time.Duration
	MeanLoadLatency, MaxLoadLatency time.Duration
	LastOperationAt time.Time
	OpsByType       map[string]int64
}

// Snapshot reads the current metrics without mutating them.
func (m *StorageMetrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Snapshot{
		TotalSaves: m.totalSaves, SuccessfulSaves: m.successfulSaves,
		TotalLoads: m.totalLoads, SuccessfulLoads: m.successfulLoads,
		MaxSaveLatency: m.maxSaveLatency, MaxLoadLatency: m.maxLoadLatency,
		LastOperationAt: m.lastOpAt,
		OpsByType:       make(map[string]int64, len(m.opsByType)),
	}
	if m.totalSaves > 0 {
		s.MeanSaveLatency = m.saveLatencySum / time.Duration(m.totalSaves)
	}
	if m.totalLoads > 0 {
		s.MeanLoadLatency = m.loadLatencySum / time.Duration(m.totalLoads)
	}
	for k, v := range m.opsByType {
		s.OpsByType[k] = v
	}
	return s
}

// IsPerformanceTargetMet reports whether mean save < 50ms and mean
// load < 20ms both hold.
func (s Snapshot) IsPerformanceTargetMet() bool {
	return s.MeanSaveLatency < 50*time.Millisecond && s.MeanLoadLatency < 20*time.Millisecond
}
