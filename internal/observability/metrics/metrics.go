// Package metrics exposes prometheus instrumentation for the billing engine.
package metrics

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Config carries the constant labels stamped on every billing metric.
type Config struct {
	ServiceName string
	Environment string
}

const (
	JobReasonDeadlineExceeded = "deadline_exceeded"
	JobReasonValidation       = "validation"
	JobReasonGateway          = "gateway"
	JobReasonDB               = "db"
	JobReasonUnknown          = "unknown"
)

const (
	GatewayOutcomeOK    = "ok"
	GatewayOutcomeError = "error"
)

const (
	WebhookOutcomeProcessed = "processed"
	WebhookOutcomeIgnored   = "ignored"
	WebhookOutcomeDuplicate = "duplicate"
	WebhookOutcomeFailed    = "failed"
)

// BillingMetrics captures billing job and gateway health signals.
type BillingMetrics struct {
	jobRuns            *prometheus.CounterVec
	jobDuration        *prometheus.HistogramVec
	jobTimeouts        *prometheus.CounterVec
	jobErrors          *prometheus.CounterVec
	partnersProcessed  *prometheus.CounterVec
	invoicesGenerated  prometheus.Counter
	invoicedCentavos   prometheus.Counter
	creditsApplied     prometheus.Counter
	driftRepairedFees  prometheus.Counter
	gatewayRequests    *prometheus.HistogramVec
	webhookEvents      *prometheus.CounterVec
	premiumTransitions *prometheus.CounterVec
}

var (
	billingMetricsOnce sync.Once
	billingMetrics     *BillingMetrics
)

// Billing returns the singleton billing metrics registry.
func Billing() *BillingMetrics {
	return BillingWithConfig(Config{})
}

// BillingWithConfig returns the singleton billing metrics registry using config labels.
func BillingWithConfig(cfg Config) *BillingMetrics {
	billingMetricsOnce.Do(func() {
		billingMetrics = newBillingMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return billingMetrics
}

// ResetBillingMetricsForTest clears the singleton so tests can swap registries.
func ResetBillingMetricsForTest() {
	billingMetricsOnce = sync.Once{}
	billingMetrics = nil
}

func newBillingMetrics(reg prometheus.Registerer, cfg Config) *BillingMetrics {
	constLabels := prometheus.Labels{}
	if cfg.ServiceName != "" {
		constLabels["service"] = cfg.ServiceName
	}
	if cfg.Environment != "" {
		constLabels["env"] = cfg.Environment
	}

	factory := func(name, help string, labels []string) *prometheus.CounterVec {
		vec := prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        name,
			Help:        help,
			ConstLabels: constLabels,
		}, labels)
		reg.MustRegister(vec)
		return vec
	}

	counter := func(name, help string) prometheus.Counter {
		c := prometheus.NewCounter(prometheus.CounterOpts{
			Name:        name,
			Help:        help,
			ConstLabels: constLabels,
		})
		reg.MustRegister(c)
		return c
	}

	jobDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "billing_job_duration_seconds",
		Help:        "Duration of billing scheduler jobs.",
		ConstLabels: constLabels,
		Buckets:     prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"job"})
	reg.MustRegister(jobDuration)

	gatewayRequests := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "billing_gateway_request_seconds",
		Help:        "Latency of payment gateway calls.",
		ConstLabels: constLabels,
		Buckets:     prometheus.ExponentialBuckets(0.01, 2, 12),
	}, []string{"operation", "outcome"})
	reg.MustRegister(gatewayRequests)

	return &BillingMetrics{
		jobRuns:            factory("billing_job_runs_total", "Billing scheduler job executions.", []string{"job"}),
		jobDuration:        jobDuration,
		jobTimeouts:        factory("billing_job_timeouts_total", "Billing jobs that hit their deadline.", []string{"job"}),
		jobErrors:          factory("billing_job_errors_total", "Billing job errors by reason.", []string{"job", "reason"}),
		partnersProcessed:  factory("billing_partners_processed_total", "Partners handled per job.", []string{"job"}),
		invoicesGenerated:  counter("billing_invoices_generated_total", "Invoices created by the cycle generator."),
		invoicedCentavos:   counter("billing_invoiced_centavos_total", "Total invoiced amount in centavos."),
		creditsApplied:     counter("billing_credits_applied_centavos_total", "Credit value consumed against invoices in centavos."),
		driftRepairedFees:  counter("billing_settlement_drift_repaired_total", "Fees healed by the consistency repair pass."),
		gatewayRequests:    gatewayRequests,
		webhookEvents:      factory("billing_webhook_events_total", "Gateway webhook events by type and outcome.", []string{"type", "outcome"}),
		premiumTransitions: factory("billing_premium_transitions_total", "Partner premium flag transitions.", []string{"to"}),
	}
}

func (m *BillingMetrics) IncJobRun(job string) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
}

func (m *BillingMetrics) ObserveJobDuration(job string, d time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(d.Seconds())
}

func (m *BillingMetrics) IncJobTimeout(job string) {
	if m == nil {
		return
	}
	m.jobTimeouts.WithLabelValues(job).Inc()
}

func (m *BillingMetrics) IncJobError(job string, err error) {
	if m == nil {
		return
	}
	m.jobErrors.WithLabelValues(job, ClassifyJobReason(err)).Inc()
}

func (m *BillingMetrics) IncJobErrorReason(job, reason string) {
	if m == nil {
		return
	}
	m.jobErrors.WithLabelValues(job, reason).Inc()
}

func (m *BillingMetrics) AddPartnersProcessed(job string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.partnersProcessed.WithLabelValues(job).Add(float64(count))
}

func (m *BillingMetrics) IncInvoiceGenerated(totalCentavos, appliedCreditsCentavos int64) {
	if m == nil {
		return
	}
	m.invoicesGenerated.Inc()
	if totalCentavos > 0 {
		m.invoicedCentavos.Add(float64(totalCentavos))
	}
	if appliedCreditsCentavos > 0 {
		m.creditsApplied.Add(float64(appliedCreditsCentavos))
	}
}

func (m *BillingMetrics) AddDriftRepaired(count int64) {
	if m == nil || count <= 0 {
		return
	}
	m.driftRepairedFees.Add(float64(count))
}

func (m *BillingMetrics) ObserveGatewayRequest(operation, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.gatewayRequests.WithLabelValues(operation, outcome).Observe(d.Seconds())
}

func (m *BillingMetrics) IncWebhookEvent(eventType, outcome string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(eventType, outcome).Inc()
}

func (m *BillingMetrics) IncPremiumTransition(to string) {
	if m == nil {
		return
	}
	m.premiumTransitions.WithLabelValues(to).Inc()
}

// ClassifyJobReason buckets errors into stable metric label values.
func ClassifyJobReason(err error) string {
	if err == nil {
		return JobReasonUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return JobReasonDeadlineExceeded
	}
	return JobReasonUnknown
}
