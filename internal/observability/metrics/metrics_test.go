package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withTestRegistry(t *testing.T) *prometheus.Registry {
	t.Helper()

	reg := prometheus.NewRegistry()
	prevRegisterer := prometheus.DefaultRegisterer
	prevGatherer := prometheus.DefaultGatherer
	prometheus.DefaultRegisterer = reg
	prometheus.DefaultGatherer = reg
	ResetBillingMetricsForTest()

	t.Cleanup(func() {
		prometheus.DefaultRegisterer = prevRegisterer
		prometheus.DefaultGatherer = prevGatherer
		ResetBillingMetricsForTest()
	})

	return reg
}

func findMetric(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()

	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func TestBillingMetricsCounters(t *testing.T) {
	reg := withTestRegistry(t)

	m := BillingWithConfig(Config{ServiceName: "billing", Environment: "test"})
	m.IncJobRun("invoice_cycle")
	m.IncJobRun("invoice_cycle")
	m.ObserveJobDuration("invoice_cycle", 250*time.Millisecond)
	m.AddPartnersProcessed("invoice_cycle", 3)
	m.IncInvoiceGenerated(2500, 500)
	m.AddDriftRepaired(4)
	m.IncWebhookEvent("payment", WebhookOutcomeProcessed)

	runs := findMetric(t, reg, "billing_job_runs_total")
	require.NotNil(t, runs)
	assert.Equal(t, float64(2), runs.GetMetric()[0].GetCounter().GetValue())

	invoiced := findMetric(t, reg, "billing_invoiced_centavos_total")
	require.NotNil(t, invoiced)
	assert.Equal(t, float64(2500), invoiced.GetMetric()[0].GetCounter().GetValue())

	credits := findMetric(t, reg, "billing_credits_applied_centavos_total")
	require.NotNil(t, credits)
	assert.Equal(t, float64(500), credits.GetMetric()[0].GetCounter().GetValue())

	drift := findMetric(t, reg, "billing_settlement_drift_repaired_total")
	require.NotNil(t, drift)
	assert.Equal(t, float64(4), drift.GetMetric()[0].GetCounter().GetValue())
}

func TestBillingMetricsSingleton(t *testing.T) {
	withTestRegistry(t)

	first := Billing()
	second := Billing()
	assert.Same(t, first, second)
}

func TestClassifyJobReason(t *testing.T) {
	assert.Equal(t, JobReasonDeadlineExceeded, ClassifyJobReason(context.DeadlineExceeded))
	assert.Equal(t, JobReasonDeadlineExceeded, ClassifyJobReason(context.Canceled))
	assert.Equal(t, JobReasonUnknown, ClassifyJobReason(errors.New("boom")))
	assert.Equal(t, JobReasonUnknown, ClassifyJobReason(nil))
}

func TestBillingMetricsNilReceiver(t *testing.T) {
	var m *BillingMetrics
	assert.NotPanics(t, func() {
		m.IncJobRun("invoice_cycle")
		m.IncJobError("invoice_cycle", errors.New("boom"))
		m.ObserveGatewayRequest("create_payment", GatewayOutcomeError, time.Second)
	})
}
