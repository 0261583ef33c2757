package auth

import (
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// Metrics instruments a Controller. It registers on its own registry so
// several controllers (tests, the CLI) never collide. A nil *Metrics is a no-op.
type Metrics struct {
	registry    *prometheus.Registry
	operations  *prometheus.CounterVec
	errors      *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	transitions *prometheus.CounterVec

	mu      sync.Mutex
	latency map[Op]*LatencyTracker
}

// NewMetrics creates and registers the controller's collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authctl_operations_total",
			Help: "Controller operations attempted.",
		}, []string{"op"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authctl_operation_errors_total",
			Help: "Controller operations that failed, by kind.",
		}, []string{"op", "kind"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "authctl_operation_duration_seconds",
			Help:    "Wall time of controller operations including the engine round trip.",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authctl_state_transitions_total",
			Help: "Session state changes.",
		}, []string{"from", "to"}),
		latency: make(map[Op]*LatencyTracker),
	}
	m.registry.MustRegister(m.operations, m.errors, m.duration, m.transitions)
	return m
}

// Registry exposes the collectors for scraping or inspection.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordOperation counts one operation. kind is KindUnknown on success.
func (m *Metrics) RecordOperation(op Op, kind Kind, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(string(op)).Inc()
	m.duration.WithLabelValues(string(op)).Observe(elapsed.Seconds())
	if kind != KindUnknown {
		m.errors.WithLabelValues(string(op), kind.String()).Inc()
	}

	m.mu.Lock()
	lt, ok := m.latency[op]
	if !ok {
		lt = NewLatencyTracker(1000)
		m.latency[op] = lt
	}
	m.mu.Unlock()
	lt.Record(elapsed)
}

// RecordTransition counts a state change. Self-transitions are ignored.
func (m *Metrics) RecordTransition(from, to State) {
	if m == nil || from == to {
		return
	}
	m.transitions.WithLabelValues(from.String(), to.String()).Inc()
}

// OpStat summarizes one operation type
type OpStat struct {
	Op     Op
	Count  int64
	Errors int64
	P50    time.Duration
	P95    time.Duration
	Avg    time.Duration
}

// Summary is a point-in-time digest for terminal display
type Summary struct {
	Operations  []OpStat
	Transitions map[string]int64
}

// Summary gathers the registry into a display-friendly digest.
func (m *Metrics) Summary() Summary {
	s := Summary{Transitions: make(map[string]int64)}
	if m == nil {
		return s
	}

	families, err := m.registry.Gather()
	if err != nil {
		return s
	}

	stats := make(map[Op]*OpStat)
	stat := func(op Op) *OpStat {
		if st, ok := stats[op]; ok {
			return st
		}
		st := &OpStat{Op: op}
		stats[op] = st
		return st
	}

	for _, mf := range families {
		for _, metric := range mf.GetMetric() {
			switch mf.GetName() {
			case "authctl_operations_total":
				stat(Op(labelValue(metric, "op"))).Count = int64(metric.GetCounter().GetValue())
			case "authctl_operation_errors_total":
				stat(Op(labelValue(metric, "op"))).Errors += int64(metric.GetCounter().GetValue())
			case "authctl_state_transitions_total":
				key := labelValue(metric, "from") + " -> " + labelValue(metric, "to")
				s.Transitions[key] = int64(metric.GetCounter().GetValue())
			}
		}
	}

	m.mu.Lock()
	for op, lt := range m.latency {
		st := stat(op)
		st.P50 = lt.Percentile(50)
		st.P95 = lt.Percentile(95)
		st.Avg = lt.Average()
	}
	m.mu.Unlock()

	for _, st := range stats {
		s.Operations = append(s.Operations, *st)
	}
	sort.Slice(s.Operations, func(i, j int) bool { return s.Operations[i].Op < s.Operations[j].Op })
	return s
}

func labelValue(m *dto.Metric, name string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}

// LatencyTracker keeps the most recent samples for percentile calculation
type LatencyTracker struct {
	mu      sync.Mutex
	samples []time.Duration
	maxSize int
	totalNs int64
	count   int64
}

// NewLatencyTracker creates a tracker holding at most maxSize samples
func NewLatencyTracker(maxSize int) *LatencyTracker {
	return &LatencyTracker{
		samples: make([]time.Duration, 0, maxSize),
		maxSize: maxSize,
	}
}

// Record adds a latency sample, dropping the oldest when full
func (lt *LatencyTracker) Record(latency time.Duration) {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	lt.totalNs += latency.Nanoseconds()
	lt.count++

	if len(lt.samples) < lt.maxSize {
		lt.samples = append(lt.samples, latency)
		return
	}
	copy(lt.samples, lt.samples[1:])
	lt.samples[len(lt.samples)-1] = latency
}

// Percentile returns the p-th percentile latency
func (lt *LatencyTracker) Percentile(p float64) time.Duration {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	if len(lt.samples) == 0 {
		return 0
	}
	sorted := make([]time.Duration, len(lt.samples))
	copy(sorted, lt.samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := int(float64(len(sorted)-1) * p / 100.0)
	return sorted[idx]
}

// Average returns the mean of all samples ever recorded
func (lt *LatencyTracker) Average() time.Duration {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	if lt.count == 0 {
		return 0
	}
	return time.Duration(lt.totalNs / lt.count)
}
