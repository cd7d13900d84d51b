package queue

import (
	"time"
)

// Options tunes delivery for both queue backends.
//
// Workers:     size of the consumer pool draining the queue.
// MaxAttempts: delivery ceiling per batch; a handler error before the
//              ceiling puts the batch back on the queue.
// DedupTTL:    lifetime of the (session, batch index) publish guard.
type Options struct {
	Workers     int
	MaxAttempts int
	DedupTTL    time.Duration
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		Workers:     4,
		MaxAttempts: 3,
		DedupTTL:    30 * time.Minute,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Workers <= 0 {
		o.Workers = d.Workers
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = d.MaxAttempts
	}
	if o.DedupTTL <= 0 {
		o.DedupTTL = d.DedupTTL
	}
	return o
}
