package prommetrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestNewMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "test")

	if metrics == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestRecordWebhookEvent(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "test")

	metrics.RecordWebhookEvent("payment.succeeded", "success")
	metrics.RecordWebhookEvent("payment.succeeded", "success")
	metrics.RecordWebhookEvent("payment.failed", "success")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}

	var events *dto.MetricFamily
	for _, mf := range families {
		if mf.GetName() == "test_renewal_webhook_events_total" {
			events = mf
		}
	}
	if events == nil {
		t.Fatal("webhook events counter not registered")
	}

	for _, m := range events.GetMetric() {
		labels := map[string]string{}
		for _, l := range m.GetLabel() {
			labels[l.GetName()] = l.GetValue()
		}
		if labels["event_type"] == "payment.succeeded" {
			if got := m.GetCounter().GetValue(); got != 2 {
				t.Errorf("expected 2 succeeded events, got %v", got)
			}
		}
	}
}

func TestRecordSweepOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "test")

	metrics.RecordSweepAccount("renewed")
	metrics.RecordSweepAccount("deferred")
	metrics.RecordSweepDuration(2 * time.Second)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	if len(families) == 0 {
		t.Error("expected sweep metrics to be recorded")
	}
}

func TestRecordGatewayCall(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "test")

	metrics.RecordGatewayCall("create_payment_intent", "200")
	metrics.RecordGatewayCallDuration("create_payment_intent", 120*time.Millisecond)
	metrics.RecordLinkAttempt("success")
	metrics.RecordWebhookError("auth_failed")
	metrics.RecordWebhookProcessingDuration("payment.succeeded", 5*time.Millisecond)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	if len(families) < 4 {
		t.Errorf("expected at least 4 metric families, got %d", len(families))
	}
}
