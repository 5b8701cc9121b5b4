// Package redis provides a distributed Adapter backed by Redis Pub/Sub,
// letting several mux processes share rooms and broadcasts as one
// logical cluster. Local delivery is handled by an embedded in-memory
// Adapter; this package only adds the cross-process fan-out on top.
package redis

import "time"

const (
	defaultChannelPrefix  = "eventmux"
	defaultRequestsTimeout = 5 * time.Second
)

// Options configures an Adapter builder.
type Options struct {
	// Key prefixes every Redis channel this adapter uses, so several
	// independent clusters can share one Redis instance.
	Key string

	// RequestsTimeout bounds how long a cross-process request (remote
	// fetch, broadcast with ack, server-side emit with ack) waits
	// for every expected response before giving up.
	RequestsTimeout time.Duration
}

// DefaultOptions returns the zero-value Options with its effective
// defaults filled in.
func DefaultOptions() *Options {
	return &Options{
		Key:             defaultChannelPrefix,
		RequestsTimeout: defaultRequestsTimeout,
	}
}

func (o *Options) withDefaults() *Options {
	if o == nil {
		return DefaultOptions()
	}
	out := *o
	if out.Key == "" {
		out.Key = defaultChannelPrefix
	}
	if out.RequestsTimeout <= 0 {
		out.RequestsTimeout = defaultRequestsTimeout
	}
	return &out
}
