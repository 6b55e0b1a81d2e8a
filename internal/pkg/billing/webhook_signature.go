package billing

import (
	"strings"

	"github.com/stripe/stripe-go/v83"
	"github.com/stripe/stripe-go/v83/webhook"
)

// VerifyStripeWebhookSignature checks the Stripe-Signature header against the
// endpoint secret and decodes the event. API version mismatches between the
// account and the SDK are tolerated.
func VerifyStripeWebhookSignature(payload []byte, signatureHeader, webhookSecret string) (stripe.Event, error) {
	sig := strings.TrimSpace(signatureHeader)
	secret := strings.TrimSpace(webhookSecret)
	if sig == "" || secret == "" {
		return stripe.Event{}, ErrInvalidSignature
	}
	return webhook.ConstructEventWithOptions(payload, sig, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
}
