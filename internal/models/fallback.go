package models

import "time"

// ErrorKind classifies why a message delivery failed.
type ErrorKind string

const (
	ErrorKindNetwork         ErrorKind = "network"
	ErrorKindTimeout         ErrorKind = "timeout"
	ErrorKindServerError     ErrorKind = "server_error"
	ErrorKindInvalidResponse ErrorKind = "invalid_response"
)

// HealthStatus is the delivery health state tracked by the fallback controller.
type HealthStatus string

const (
	StatusHealthy   HealthStatus = "healthy"
	StatusDegrading HealthStatus = "degrading"
	StatusDegraded  HealthStatus = "degraded"
)

// FallbackState is a snapshot of delivery health.
type FallbackState struct {
	Status              HealthStatus `json:"status"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	IsDegraded          bool         `json:"is_degraded"`
	LastFailureReason   *ErrorKind   `json:"last_failure_reason,omitempty"`
	DegradedSince       *time.Time   `json:"degraded_since,omitempty"`
}

// Healthy returns the initial fallback state.
func Healthy() FallbackState {
	return FallbackState{Status: StatusHealthy}
}
