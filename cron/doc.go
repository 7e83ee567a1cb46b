// Package cron provides recurring schedules for the job queue.
//
// Entries are registered in code and evaluated on a tick loop. Each
// occurrence is guarded by a distributed lock (entry name + scheduled
// fire time), so when several replicas run the same schedules an entry
// still fires at most once per occurrence.
//
// # Entry
//
// An [Entry] either submits a job on every fire:
//
//	sched.Add(cron.Entry{
//	    Name:     "nightly-backup",
//	    Schedule: "0 3 * * *",
//	    Queue:    job.TypeBackup,
//	    Payload:  []byte(`{"target":"s3"}`),
//	})
//
// or runs a function directly:
//
//	sched.Add(cron.Entry{
//	    Name:     "dead-letter-sweep",
//	    Schedule: "@every 5m",
//	    Run:      func(ctx context.Context) error {
//	        _, err := escalator.EscalateAll(ctx)
//	        return err
//	    },
//	})
//
// Schedules use the standard 5-field cron syntax plus descriptors like
// "@every 30s", "@hourly", and "@daily".
//
// The engine package wires a Scheduler automatically; see
// engine.WithCron and Engine.ScheduleMaintenance.
package cron
