package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics aggregates the counters the lifecycle reports into.
type Metrics struct {
	Transitions           *prometheus.CounterVec
	NotificationsEnqueued prometheus.Counter
	InvoicesIssued        prometheus.Counter
}

func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith registers the counters on the given registerer; tests pass a fresh
// registry to read them in isolation.
func NewWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "policyflow_request_transitions_total",
			Help: "Total number of completed request lifecycle transitions by event",
		}, []string{"event"}),
		NotificationsEnqueued: factory.NewCounter(prometheus.CounterOpts{
			Name: "policyflow_notifications_enqueued_total",
			Help: "Total number of notifications enqueued to the outbox",
		}),
		InvoicesIssued: factory.NewCounter(prometheus.CounterOpts{
			Name: "policyflow_invoices_issued_total",
			Help: "Total number of invoices issued for requests",
		}),
	}
}
