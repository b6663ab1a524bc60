package splitjoin

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the prometheus collectors updated by an engine and its worker pool.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	invocations *prometheus.CounterVec
	subUnits    prometheus.Counter
	failures    *prometheus.CounterVec
	duration    prometheus.Histogram
	liveWorkers prometheus.Gauge
	busyWorkers prometheus.Gauge
}

// NewMetrics registers the split-join collectors on reg under the given namespace.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		invocations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "splitjoin",
			Name:      "invocations_total",
			Help:      "Number of split-join invocations by result.",
		}, []string{"result"}),
		subUnits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "splitjoin",
			Name:      "sub_units_total",
			Help:      "Number of sub-units dispatched.",
		}),
		failures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "splitjoin",
			Name:      "failures_total",
			Help:      "Number of recorded failures by kind.",
		}, []string{"kind"}),
		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "splitjoin",
			Name:      "invocation_duration_seconds",
			Help:      "Duration of split-join invocations.",
			Buckets:   prometheus.DefBuckets,
		}),
		liveWorkers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "splitjoin",
			Name:      "pool_live_workers",
			Help:      "Number of started workers owned by the worker pool.",
		}),
		busyWorkers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "splitjoin",
			Name:      "pool_busy_workers",
			Help:      "Number of workers currently borrowed.",
		}),
	}
}

const (
	resultSuccess = "success"
	resultFailure = "failure"
	resultNoop    = "noop"
)

func (m *Metrics) observeInvocation(result string, start time.Time) {
	if m == nil {
		return
	}
	m.invocations.WithLabelValues(result).Inc()
	m.duration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) addSubUnits(n int) {
	if m == nil {
		return
	}
	m.subUnits.Add(float64(n))
}

func (m *Metrics) observeFailure(err error) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(failureKind(err)).Inc()
}

func (m *Metrics) setWorkers(live, busy int) {
	if m == nil {
		return
	}
	m.liveWorkers.Set(float64(live))
	m.busyWorkers.Set(float64(busy))
}

func failureKind(err error) string {
	switch {
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrTaskPanic):
		return "panic"
	case errors.Is(err, ErrSplit):
		return "split"
	case errors.Is(err, ErrJoin):
		return "join"
	default:
		return "task"
	}
}
