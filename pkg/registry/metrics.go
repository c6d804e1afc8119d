package registry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics records registry activity. A nil *Metrics is valid and records nothing.
type Metrics struct {
	Allocations        *prometheus.CounterVec
	AllocationRetries  prometheus.Counter
	AllocationDuration prometheus.Histogram
	DocumentsCreated   *prometheus.CounterVec
	Routings           *prometheus.CounterVec
	RoutingsExpired    prometheus.Counter
}

// NewMetrics creates the registry metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Allocations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "registratura_allocations_total",
			Help: "Registration number allocations by result",
		}, []string{"result"}),
		AllocationRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "registratura_allocation_retries_total",
			Help: "Allocation transactions retried after contention",
		}),
		AllocationDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "registratura_allocation_duration_seconds",
			Help:    "Duration of allocate-and-persist transactions including retries",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
		DocumentsCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "registratura_documents_created_total",
			Help: "Documents created by document type",
		}, []string{"type"}),
		Routings: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "registratura_routings_total",
			Help: "Routing requests by action and result",
		}, []string{"action", "result"}),
		RoutingsExpired: factory.NewCounter(prometheus.CounterOpts{
			Name: "registratura_routings_expired_total",
			Help: "Sent routings flagged as expired",
		}),
	}
}

// ObserveAllocation records the outcome and duration of an allocation.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveAllocation(start time.Time, err error) {
	if m == nil {
		return
	}
	m.AllocationDuration.Observe(time.Since(start).Seconds())
	m.Allocations.WithLabelValues(resultLabel(err)).Inc()
}

func (m *Metrics) IncrementAllocationRetries() {
	if m == nil {
		return
	}
	m.AllocationRetries.Inc()
}

func (m *Metrics) IncrementDocumentsCreated(documentType string) {
	if m == nil {
		return
	}
	m.DocumentsCreated.WithLabelValues(documentType).Inc()
}

func (m *Metrics) IncrementRoutings(action string, err error) {
	if m == nil {
		return
	}
	m.Routings.WithLabelValues(action, resultLabel(err)).Inc()
}

func (m *Metrics) AddRoutingsExpired(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.RoutingsExpired.Add(float64(n))
}

func resultLabel(err error) string {
	if err == nil {
		return "success"
	}
	if code := CodeOf(err); code != "" {
		return string(code)
	}
	return "error"
}
