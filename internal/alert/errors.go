package alert

import "errors"

var (
	// ErrWebhookNotConfigured is returned when no webhook endpoint has been saved
	ErrWebhookNotConfigured = errors.New("webhook endpoint not configured")
	// ErrDeliveryRejected is returned when the webhook answers with an error
	ErrDeliveryRejected = errors.New("webhook rejected the message")
)
