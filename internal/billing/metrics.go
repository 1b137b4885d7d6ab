package billing

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"github.com/sitebill/sitebill/internal/shared"
)

// Generation outcomes used as metric labels.
const (
	OutcomeCreated  = "created"
	OutcomeNothing  = "nothing_to_invoice"
	OutcomeConflict = "conflict"
	OutcomeInvalid  = "invalid"
	OutcomeError    = "error"
)

// Metrics exposes Prometheus collectors for invoice generation.
type Metrics struct {
	generations *prometheus.CounterVec
	billed      prometheus.Counter
	duration    prometheus.Histogram
	transitions *prometheus.CounterVec
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the billing metrics. A nil registerer uses the
// default Prometheus registerer once per process.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	generations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sitebill_invoice_generations_total",
		Help: "Invoice generation attempts partitioned by outcome.",
	}, []string{"outcome"})
	billed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sitebill_invoiced_amount_total",
		Help: "Sum of generated invoice amounts.",
	})
	duration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sitebill_invoice_generation_duration_seconds",
		Help:    "Duration of invoice generation including lock wait.",
		Buckets: prometheus.DefBuckets,
	})
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sitebill_invoice_status_transitions_total",
		Help: "Invoice status changes partitioned by target status.",
	}, []string{"status"})
	registerer.MustRegister(generations, billed, duration, transitions)
	return &Metrics{generations: generations, billed: billed, duration: duration, transitions: transitions}
}

// ObserveGeneration records one generation attempt.
func (m *Metrics) ObserveGeneration(err error, amount decimal.Decimal, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.generations.WithLabelValues(outcome(err)).Inc()
	m.duration.Observe(elapsed.Seconds())
	if err == nil {
		f, _ := amount.Float64()
		m.billed.Add(f)
	}
}

// ObserveTransition records a status change.
func (m *Metrics) ObserveTransition(to Status) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(string(to)).Inc()
}

func outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeCreated
	case errors.Is(err, ErrNothingToInvoice):
		return OutcomeNothing
	case errors.Is(err, shared.ErrConflict):
		return OutcomeConflict
	case errors.Is(err, shared.ErrValidation), errors.Is(err, shared.ErrNotFound):
		return OutcomeInvalid
	}
	return OutcomeError
}
