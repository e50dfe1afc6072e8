package repository

import "github.com/okian/roomsync/pkg/clock"

// Option applies a configuration option to a store.
type Option func(*options)

type options struct {
	clock clock.Clock
}

func defaultOptions() options {
	return options{clock: clock.Real()}
}

// WithClock sets the clock used for UpdatedAt.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}
