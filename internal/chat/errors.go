package chat

import "errors"

var (
	// ErrNoPersonaSelected is returned when a submit has neither a pinned
	// persona nor a resolved routing outcome.
	ErrNoPersonaSelected = errors.New("no persona selected")
	// ErrUnknownPersona is returned for persona ids missing from the catalog.
	ErrUnknownPersona = errors.New("unknown persona")
	// ErrServiceDegraded is returned when a failed delivery leaves the
	// service degraded.
	ErrServiceDegraded = errors.New("service degraded")
	// ErrDeliveryFailed is returned when a delivery failed but the service
	// is not degraded yet.
	ErrDeliveryFailed = errors.New("delivery failed")
	// ErrRetryLimitExceeded is returned once a message has been retried the
	// maximum number of times.
	ErrRetryLimitExceeded = errors.New("retry limit exceeded")
	// ErrMessageNotFound is returned by Retry for unknown message ids.
	ErrMessageNotFound = errors.New("message not found")
	// ErrNotRetryable is returned when retrying an assistant message.
	ErrNotRetryable = errors.New("message is not retryable")
	// ErrEmptyMessage is returned for blank input.
	ErrEmptyMessage = errors.New("empty message")
)
