// Package metrics exposes reimbursement workflow counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/warp/incapacity-engine/incapacity"
)

// Collector implements incapacity.Observer.
type Collector struct {
	registry *prometheus.Registry

	paymentsRecorded *prometheus.CounterVec
	paymentsRejected *prometheus.CounterVec
	amountPaid       *prometheus.CounterVec
	autoClosures     *prometheus.CounterVec
	statusChanges    *prometheus.CounterVec
}

var _ incapacity.Observer = (*Collector)(nil)

// New registers the counters on a fresh registry.
func New() *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{
		registry: reg,
		paymentsRecorded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "incapacity",
			Name:      "payments_recorded_total",
			Help:      "Insurer payments recorded, by case type.",
		}, []string{"case_type"}),
		paymentsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "incapacity",
			Name:      "payments_rejected_total",
			Help:      "Payments refused because of the case status.",
		}, []string{"status"}),
		amountPaid: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "incapacity",
			Name:      "amount_paid_total",
			Help:      "Sum of recorded insurer payments, by case type.",
		}, []string{"case_type"}),
		autoClosures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "incapacity",
			Name:      "auto_closures_total",
			Help:      "Cases moved to PAID by reconciliation, by previous status.",
		}, []string{"previous_status"}),
		statusChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "incapacity",
			Name:      "status_changes_total",
			Help:      "Manual status changes, by target status.",
		}, []string{"new_status"}),
	}
	reg.MustRegister(
		c.paymentsRecorded,
		c.paymentsRejected,
		c.amountPaid,
		c.autoClosures,
		c.statusChanges,
		collectors.NewGoCollector(),
	)
	return c
}

func (c *Collector) PaymentRecorded(lc incapacity.LeaveCase, p incapacity.PaymentRecord) {
	c.paymentsRecorded.WithLabelValues(string(lc.Type)).Inc()
	amount, _ := p.Amount.Float64()
	c.amountPaid.WithLabelValues(string(lc.Type)).Add(amount)
}

func (c *Collector) PaymentRejected(lc incapacity.LeaveCase) {
	c.paymentsRejected.WithLabelValues(string(lc.Status)).Inc()
}

func (c *Collector) CaseAutoClosed(_ incapacity.LeaveCase, e incapacity.StatusChangeEntry) {
	c.autoClosures.WithLabelValues(string(e.PreviousStatus)).Inc()
}

func (c *Collector) StatusChanged(e incapacity.StatusChangeEntry) {
	c.statusChanges.WithLabelValues(string(e.NewStatus)).Inc()
}

// Registry returns the underlying registry, mainly for tests.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
