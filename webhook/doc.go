// Package webhook implements outbound webhook delivery: subscriptions,
// event fan-out, HMAC-signed HTTP delivery, and a per-attempt audit log.
//
// Publishing an event creates one webhook-delivery job per matching
// active subscription, so a slow or failing endpoint only delays its
// own deliveries. The Engine's Handler runs on the webhook-delivery
// queue and performs the actual signed POST; failures surface as
// retryable errors so the queue applies its backoff schedule.
//
// Receivers authenticate payloads with the X-Webhook-Signature header:
//
//	sig := webhook.Sign(secret, body)            // "sha256=<hex>"
//	ok := webhook.VerifySignature(secret, body, header)
package webhook
