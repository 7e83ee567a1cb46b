// Package eventhook is a Courier extension that publishes job lifecycle
// transitions as webhook events.
//
// Each lifecycle hook publishes a typed event through a [Publisher]
// (normally the webhook delivery engine), so an organization's webhook
// subscribers can follow their own jobs' progress: subscribe to
// "job.completed", "job.failed", the "job.*" prefix, or "*".
//
// Jobs without an OrgID are skipped (there is nobody to notify), as are
// webhook-delivery jobs themselves, which would otherwise recurse.
//
// # Usage
//
//	eng, err := engine.Build(c)
//	eng.Extensions().Register(eventhook.New(eng.Webhooks(),
//	    eventhook.WithEvents(eventhook.EventJobCompleted, eventhook.EventJobFailed),
//	))
package eventhook
