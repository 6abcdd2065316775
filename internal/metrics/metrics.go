package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Counter names used across the service
const (
	CounterOrdersSynced      = "orders_synced"
	CounterOrdersFailed      = "orders_failed"
	CounterSyncRuns          = "sync_runs"
	CounterSyncFailures      = "sync_failures"
	CounterShipmentsAdvanced = "shipments_advanced"
	CounterEventsAppended    = "tracking_events_appended"
	CounterNotificationsSent = "notifications_sent"
	CounterNotificationsFail = "notifications_failed"
)

// timerStats accumulates timing samples for one named operation
type timerStats struct {
	count       int64
	totalTimeMs int64
	minTimeMs   int64
	maxTimeMs   int64
}

// TimerSnapshot is a read-only view of a timer's accumulated samples
type TimerSnapshot struct {
	Count         int64   `json:"count"`
	TotalTimeMs   int64   `json:"total_time_ms"`
	AverageTimeMs float64 `json:"average_time_ms"`
	MinTimeMs     int64   `json:"min_time_ms"`
	MaxTimeMs     int64   `json:"max_time_ms"`
}

// Snapshot is a point-in-time copy of all collected metrics
type Snapshot struct {
	UptimeSeconds int64                    `json:"uptime_seconds"`
	Counters      map[string]int64         `json:"counters"`
	Gauges        map[string]int64         `json:"gauges"`
	Timers        map[string]TimerSnapshot `json:"timers"`
}

// Metrics is the in-process metrics collector. Counters and gauges are
// updated atomically; the maps are only written under the mutex.
type Metrics struct {
	mu        sync.RWMutex
	counters  map[string]*int64
	gauges    map[string]*int64
	timers    map[string]*timerStats
	startTime time.Time
}

// NewMetrics creates a new metrics collector
func NewMetrics() *Metrics {
	return &Metrics{
		counters:  make(map[string]*int64),
		gauges:    make(map[string]*int64),
		timers:    make(map[string]*timerStats),
		startTime: time.Now(),
	}
}

// IncrementCounter increments a counter by 1
func (m *Metrics) IncrementCounter(name string) {
	m.IncrementCounterBy(name, 1)
}

// IncrementCounterBy increments a counter by the specified value
func (m *Metrics) IncrementCounterBy(name string, value int64) {
	m.mu.RLock()
	counter, exists := m.counters[name]
	m.mu.RUnlock()

	if !exists {
		m.mu.Lock()
		// Check again to avoid race conditions
		if counter, exists = m.counters[name]; !exists {
			var c int64
			counter = &c
			m.counters[name] = counter
		}
		m.mu.Unlock()
	}

	atomic.AddInt64(counter, value)
}

// SetGauge sets a gauge to a specific value
func (m *Metrics) SetGauge(name string, value int64) {
	m.mu.RLock()
	gauge, exists := m.gauges[name]
	m.mu.RUnlock()

	if !exists {
		m.mu.Lock()
		if gauge, exists = m.gauges[name]; !exists {
			var g int64
			gauge = &g
			m.gauges[name] = gauge
		}
		m.mu.Unlock()
	}

	atomic.StoreInt64(gauge, value)
}

// RecordDuration records one timing sample for a named operation
func (m *Metrics) RecordDuration(name string, d time.Duration) {
	ms := d.Milliseconds()

	m.mu.Lock()
	defer m.mu.Unlock()

	stats, exists := m.timers[name]
	if !exists {
		stats = &timerStats{minTimeMs: ms, maxTimeMs: ms}
		m.timers[name] = stats
	}

	stats.count++
	stats.totalTimeMs += ms
	if ms < stats.minTimeMs {
		stats.minTimeMs = ms
	}
	if ms > stats.maxTimeMs {
		stats.maxTimeMs = ms
	}
}

// TimeOperation runs fn and records its duration under name
func (m *Metrics) TimeOperation(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	m.RecordDuration(name, time.Since(start))
	return err
}

// GetSnapshot returns a copy of all current metric values
func (m *Metrics) GetSnapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := Snapshot{
		UptimeSeconds: int64(time.Since(m.startTime).Seconds()),
		Counters:      make(map[string]int64, len(m.counters)),
		Gauges:        make(map[string]int64, len(m.gauges)),
		Timers:        make(map[string]TimerSnapshot, len(m.timers)),
	}

	for name, counter := range m.counters {
		snap.Counters[name] = atomic.LoadInt64(counter)
	}
	for name, gauge := range m.gauges {
		snap.Gauges[name] = atomic.LoadInt64(gauge)
	}
	for name, stats := range m.timers {
		ts := TimerSnapshot{
			Count:       stats.count,
			TotalTimeMs: stats.totalTimeMs,
			MinTimeMs:   stats.minTimeMs,
			MaxTimeMs:   stats.maxTimeMs,
		}
		if stats.count > 0 {
			ts.AverageTimeMs = float64(stats.totalTimeMs) / float64(stats.count)
		}
		snap.Timers[name] = ts
	}

	return snap
}
