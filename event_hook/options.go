package eventhook

// Option configures an Extension.
type Option func(*Extension)

// WithEvents restricts the extension to publish only the listed events.
// By default all events are published.
//
// Example:
//
//	eventhook.New(publisher,
//	    eventhook.WithEvents(
//	        eventhook.EventJobCompleted,
//	        eventhook.EventJobFailed,
//	    ),
//	)
func WithEvents(events ...string) Option {
	return func(h *Extension) {
		h.enabled = make(map[string]bool, len(events))
		for _, e := range events {
			h.enabled[e] = true
		}
	}
}
