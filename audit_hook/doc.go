// Package audithook is a Courier extension that bridges lifecycle events
// to an audit trail backend.
//
// Every job and delivery lifecycle hook emits a structured audit event
// through the [Recorder] interface. The extension assigns appropriate
// severity levels (info for normal operations, warning for retries,
// critical for terminal failures) and rich metadata (queue, elapsed
// time, errors).
//
// # Usage
//
//	eng, err := engine.Build(c,
//	    engine.WithExtension(audithook.New(audithook.SlogRecorder(logger))),
//	)
//
// # Selective filtering
//
//	audithook.New(recorder,
//	    audithook.WithActions(
//	        audithook.ActionJobFailed,
//	        audithook.ActionJobEscalated,
//	        audithook.ActionDeliveryFailed,
//	    ),
//	)
package audithook
