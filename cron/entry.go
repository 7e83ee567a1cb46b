package cron

import (
	"context"
	"errors"

	"github.com/openmeet/courier/job"
)

// Entry is a recurring schedule registered in code. Exactly one of
// Queue or Run must be set: a Queue entry submits Payload to that queue
// on every fire, a Run entry invokes the function directly.
type Entry struct {
	// Name uniquely identifies the entry. It is part of the distributed
	// lock key, so it must be stable across replicas.
	Name string

	// Schedule is a standard 5-field cron expression or a descriptor
	// such as "@every 30s" or "@hourly".
	Schedule string

	// Queue is the target queue for a submitting entry.
	Queue job.Type

	// Payload is the static payload submitted on every fire.
	Payload []byte

	// Opts are submission options applied on every fire.
	Opts []job.Option

	// Run is the function invoked on every fire for a local entry.
	Run func(ctx context.Context) error
}

func (e Entry) validate() error {
	if e.Name == "" {
		return errors.New("courier/cron: entry name required")
	}
	if e.Schedule == "" {
		return errors.New("courier/cron: entry schedule required")
	}
	hasQueue := e.Queue != ""
	hasRun := e.Run != nil
	if hasQueue == hasRun {
		return errors.New("courier/cron: entry needs exactly one of Queue or Run")
	}
	if hasQueue && !e.Queue.Valid() {
		return errors.New("courier/cron: unknown queue type " + e.Queue.String())
	}
	return nil
}
