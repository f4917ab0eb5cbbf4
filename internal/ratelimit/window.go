package ratelimit

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

// SlidingWindow keeps the timestamps of accepted requests per client and
// rejects once a client holds MaxRequests of them inside the window.
type SlidingWindow struct {
	mu      sync.Mutex
	clients *lru.Cache[string, []time.Time]
	opts    Options
	log     *zap.Logger
}

func NewSlidingWindow(opts Options, log *zap.Logger) *SlidingWindow {
	opts = opts.withDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	// only fails for a non-positive size, which withDefaults rules out
	clients, _ := lru.New[string, []time.Time](opts.MaxClients)

	log.Info("rate limiter created",
		zap.Duration("window", opts.Window),
		zap.Int("max_requests", opts.MaxRequests),
		zap.Int("max_clients", opts.MaxClients),
	)
	return &SlidingWindow{clients: clients, opts: opts, log: log}
}

// Allow prunes timestamps older than now-window, then accepts and records
// now unless the client already has MaxRequests inside the window.
func (sw *SlidingWindow) Allow(clientID string, now time.Time) bool {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	stamps, _ := sw.clients.Get(clientID)
	stamps = prune(stamps, now.Add(-sw.opts.Window))

	if len(stamps) >= sw.opts.MaxRequests {
		sw.clients.Add(clientID, stamps)
		return false
	}
	sw.clients.Add(clientID, append(stamps, now))
	return true
}

func (sw *SlidingWindow) Take(_ context.Context, clientID string, now time.Time) (bool, error) {
	return sw.Allow(clientID, now), nil
}

func (sw *SlidingWindow) Window() time.Duration {
	return sw.opts.Window
}

// Len reports how many identities are currently tracked.
func (sw *SlidingWindow) Len() int {
	return sw.clients.Len()
}

// Run sweeps idle identities every SweepInterval until ctx is done.
func (sw *SlidingWindow) Run(ctx context.Context) {
	ticker := time.NewTicker(sw.opts.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if removed := sw.Sweep(now); removed > 0 {
				sw.log.Debug("rate limiter sweep", zap.Int("removed", removed), zap.Int("tracked", sw.Len()))
			}
		}
	}
}

// Sweep drops identities with no timestamp inside the window and returns
// how many were removed.
func (sw *SlidingWindow) Sweep(now time.Time) int {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	cutoff := now.Add(-sw.opts.Window)
	removed := 0
	for _, key := range sw.clients.Keys() {
		stamps, ok := sw.clients.Peek(key)
		if !ok {
			continue
		}
		if !anyAfter(stamps, cutoff) {
			sw.clients.Remove(key)
			removed++
		}
	}
	return removed
}

// prune removes timestamps strictly before cutoff, reusing the backing array.
func prune(stamps []time.Time, cutoff time.Time) []time.Time {
	kept := stamps[:0]
	for _, ts := range stamps {
		if !ts.Before(cutoff) {
			kept = append(kept, ts)
		}
	}
	return kept
}

func anyAfter(stamps []time.Time, cutoff time.Time) bool {
	for _, ts := range stamps {
		if !ts.Before(cutoff) {
			return true
		}
	}
	return false
}
