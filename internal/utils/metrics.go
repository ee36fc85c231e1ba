// internal/utils/metrics.go
package utils

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// MetricsCollector collects application metrics
type MetricsCollector struct {
	counters   map[string]*int64
	gauges     map[string]*int64
	histograms map[string]*Histogram

	mu sync.RWMutex
}

// Histogram tracks count, sum, min and max of observed values.
type Histogram struct {
	count int64
	sum   int64
	min   int64
	max   int64
	mu    sync.Mutex
}

var (
	globalMetrics *MetricsCollector
	metricsOnce   sync.Once
)

// NewMetricsCollector creates an empty collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		counters:   make(map[string]*int64),
		gauges:     make(map[string]*int64),
		histograms: make(map[string]*Histogram),
	}
}

// GetMetricsCollector returns the global metrics collector
func GetMetricsCollector() *MetricsCollector {
	metricsOnce.Do(func() {
		globalMetrics = NewMetricsCollector()
	})
	return globalMetrics
}

// slot returns the atomic cell for name, creating it under the write lock.
func (m *MetricsCollector) slot(table map[string]*int64, name string) *int64 {
	m.mu.RLock()
	cell, exists := table[name]
	m.mu.RUnlock()
	if exists {
		return cell
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if cell, exists = table[name]; !exists {
		cell = new(int64)
		table[name] = cell
	}
	return cell
}

// IncrementCounter increments a counter metric
func (m *MetricsCollector) IncrementCounter(name string) {
	atomic.AddInt64(m.slot(m.counters, name), 1)
}

// AddCounter adds a value to a counter metric
func (m *MetricsCollector) AddCounter(name string, value int64) {
	atomic.AddInt64(m.slot(m.counters, name), value)
}

// SetGauge sets a gauge metric
func (m *MetricsCollector) SetGauge(name string, value int64) {
	atomic.StoreInt64(m.slot(m.gauges, name), value)
}

// IncGauge increments a gauge metric
func (m *MetricsCollector) IncGauge(name string) {
	atomic.AddInt64(m.slot(m.gauges, name), 1)
}

// DecGauge decrements a gauge metric
func (m *MetricsCollector) DecGauge(name string) {
	atomic.AddInt64(m.slot(m.gauges, name), -1)
}

// GetGauge gets the current value of a gauge
func (m *MetricsCollector) GetGauge(name string) int64 {
	m.mu.RLock()
	cell, exists := m.gauges[name]
	m.mu.RUnlock()
	if !exists {
		return 0
	}
	return atomic.LoadInt64(cell)
}

// GetCounterValue gets the current value of a counter
func (m *MetricsCollector) GetCounterValue(name string) int64 {
	m.mu.RLock()
	cell, exists := m.counters[name]
	m.mu.RUnlock()
	if !exists {
		return 0
	}
	return atomic.LoadInt64(cell)
}

// RecordHistogram records a value in a histogram
func (m *MetricsCollector) RecordHistogram(name string, value int64) {
	m.mu.RLock()
	histogram, exists := m.histograms[name]
	m.mu.RUnlock()

	if !exists {
		m.mu.Lock()
		histogram, exists = m.histograms[name]
		if !exists {
			histogram = &Histogram{min: value, max: value}
			m.histograms[name] = histogram
		}
		m.mu.Unlock()
	}

	histogram.mu.Lock()
	defer histogram.mu.Unlock()

	histogram.count++
	histogram.sum += value
	if value < histogram.min {
		histogram.min = value
	}
	if value > histogram.max {
		histogram.max = value
	}
}

// GetMetrics returns a snapshot of all metrics
func (m *MetricsCollector) GetMetrics() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counters := make(map[string]int64, len(m.counters))
	for name, cell := range m.counters {
		counters[name] = atomic.LoadInt64(cell)
	}

	gauges := make(map[string]int64, len(m.gauges))
	for name, cell := range m.gauges {
		gauges[name] = atomic.LoadInt64(cell)
	}

	histograms := make(map[string]map[string]int64, len(m.histograms))
	for name, histogram := range m.histograms {
		histogram.mu.Lock()
		histograms[name] = map[string]int64{
			"count": histogram.count,
			"sum":   histogram.sum,
			"min":   histogram.min,
			"max":   histogram.max,
		}
		histogram.mu.Unlock()
	}

	return map[string]interface{}{
		"counters":   counters,
		"gauges":     gauges,
		"histograms": histograms,
	}
}

// WizardMetrics wraps the collector with the wizard's metric names.
type WizardMetrics struct {
	metrics *MetricsCollector
	logger  *Logger
}

// NewWizardMetrics creates a metrics facade; nil collector means the global one.
func NewWizardMetrics(collector *MetricsCollector) *WizardMetrics {
	if collector == nil {
		collector = GetMetricsCollector()
	}
	return &WizardMetrics{
		metrics: collector,
		logger:  GetLogger().Named("metrics"),
	}
}

// Collector exposes the underlying collector (for /api/metrics).
func (wm *WizardMetrics) Collector() *MetricsCollector {
	return wm.metrics
}

// RecordAPIRequest records metrics for an API request
func (wm *WizardMetrics) RecordAPIRequest(route, method string, statusCode int, duration time.Duration) {
	wm.metrics.IncrementCounter("api_requests_total")
	wm.metrics.IncrementCounter("api_requests_" + method + "_" + route)
	wm.metrics.IncrementCounter("api_responses_" + strconv.Itoa(statusCode/100) + "xx")
	wm.metrics.RecordHistogram("api_response_time_ms", duration.Milliseconds())
}

// RecordStepAdvance counts a cursor move onto stepID.
func (wm *WizardMetrics) RecordStepAdvance(stepID string) {
	wm.metrics.IncrementCounter("wizard_steps_advanced_total")
	wm.metrics.IncrementCounter("wizard_step_" + stepID)
}

// RecordBoundaryCall records one orchestration call and its outcome.
func (wm *WizardMetrics) RecordBoundaryCall(mode string, success bool, duration time.Duration) {
	wm.metrics.IncrementCounter("boundary_calls_total")
	wm.metrics.IncrementCounter("boundary_calls_" + mode)
	if !success {
		wm.metrics.IncrementCounter("boundary_failures_total")
	}
	wm.metrics.RecordHistogram("boundary_latency_ms", duration.Milliseconds())
}

// RecordReconcileFailure counts a rejected payload.
func (wm *WizardMetrics) RecordReconcileFailure(kind string) {
	wm.metrics.IncrementCounter("reconcile_failures_total")
	wm.metrics.IncrementCounter("reconcile_failures_" + kind)
	wm.logger.Debug("payload rejected", map[string]interface{}{"kind": kind})
}

// RecordLLMRequest records metrics for a provider completion
func (wm *WizardMetrics) RecordLLMRequest(provider, model string, tokensUsed int, duration time.Duration) {
	wm.metrics.IncrementCounter("llm_requests_total")
	wm.metrics.IncrementCounter("llm_requests_" + provider)
	wm.metrics.AddCounter("llm_tokens_total", int64(tokensUsed))
	wm.metrics.RecordHistogram("llm_response_time_ms", duration.Milliseconds())
	wm.logger.Info("LLM request completed", map[string]interface{}{
		"provider": provider,
		"model":    model,
		"tokens":   tokensUsed,
		"duration": duration.Milliseconds(),
	})
}

// SetActiveProjects publishes the live session count.
func (wm *WizardMetrics) SetActiveProjects(count int) {
	wm.metrics.SetGauge("active_projects", int64(count))
}
