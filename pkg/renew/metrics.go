package renew

import "time"

// Metrics defines the interface for tracking renewal engine operations.
// All methods are optional - components should gracefully handle nil metrics
// by substituting NoopMetrics.
type Metrics interface {
	// RecordWebhookEvent records a webhook event received from the gateway.
	// status: "success" or "error"
	RecordWebhookEvent(eventType, status string)

	// RecordWebhookError records a webhook processing error.
	// errorType: e.g. "auth_failed", "invalid_payload", "store_error"
	RecordWebhookError(errorType string)

	// RecordWebhookProcessingDuration records how long webhook handling took.
	RecordWebhookProcessingDuration(eventType string, duration time.Duration)

	// RecordSweepAccount records the outcome of one account in a sweep.
	// outcome: "renewed", "deferred", "failed", "expired", "reminded"
	RecordSweepAccount(outcome string)

	// RecordSweepDuration records the duration of a whole sweep.
	RecordSweepDuration(duration time.Duration)

	// RecordGatewayCall records a call to the payment gateway.
	// status: HTTP status code as string, or "transport_error"
	RecordGatewayCall(operation, status string)

	// RecordGatewayCallDuration records how long a gateway call took.
	RecordGatewayCallDuration(operation string, duration time.Duration)

	// RecordLinkAttempt records the outcome of an account linking flow.
	// status: "success", "warning", "error"
	RecordLinkAttempt(status string)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordWebhookEvent(_, _ string)                             {}
func (n *NoopMetrics) RecordWebhookError(_ string)                                {}
func (n *NoopMetrics) RecordWebhookProcessingDuration(_ string, _ time.Duration)  {}
func (n *NoopMetrics) RecordSweepAccount(_ string)                                {}
func (n *NoopMetrics) RecordSweepDuration(_ time.Duration)                        {}
func (n *NoopMetrics) RecordGatewayCall(_, _ string)                              {}
func (n *NoopMetrics) RecordGatewayCallDuration(_ string, _ time.Duration)        {}
func (n *NoopMetrics) RecordLinkAttempt(_ string)                                 {}
