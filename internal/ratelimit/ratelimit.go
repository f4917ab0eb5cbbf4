// Package ratelimit counts requests per client identity over a trailing
// time window.
package ratelimit

import (
	"context"
	"time"
)

// UnknownClient is the bucket shared by every request without a usable
// client address.
const UnknownClient = "unknown"

// Limiter is what the router consults before issuing an upstream fetch.
// A false result is a normal rejection, errors are store failures.
type Limiter interface {
	Take(ctx context.Context, clientID string, now time.Time) (bool, error)
	Window() time.Duration
}

type Options struct {
	Window      time.Duration
	MaxRequests int
	// MaxClients caps the number of identities held in memory. The least
	// recently seen identity is evicted first.
	MaxClients    int
	SweepInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.Window <= 0 {
		o.Window = 60 * time.Second
	}
	if o.MaxRequests <= 0 {
		o.MaxRequests = 100
	}
	if o.MaxClients <= 0 {
		o.MaxClients = 10000
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = time.Minute
	}
	return o
}
