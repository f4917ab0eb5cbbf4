// Package cache holds rewritten playlists for a few seconds so that many
// viewers of one live stream share a single origin fetch.
package cache

import (
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
)

// Entry is a rewritten playlist ready to be served.
type Entry struct {
	Body []byte
	Kind string
}

type Playlists struct {
	cache *ristretto.Cache
	ttl   time.Duration
}

// New returns nil when ttl is not positive; a nil *Playlists never hits.
func New(ttl time.Duration, maxEntries int) (*Playlists, error) {
	if ttl <= 0 {
		return nil, nil
	}
	if maxEntries <= 0 {
		maxEntries = 1024
	}
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: int64(maxEntries * 10),
		MaxCost:     int64(maxEntries),
		BufferItems: 64,
		Cost: func(value interface{}) int64 {
			return 1
		},
		// cost counts entries, not bytes
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init playlist cache: %w", err)
	}
	return &Playlists{cache: c, ttl: ttl}, nil
}

// Key scopes an entry to everything that changes the rewritten output.
func Key(target, cookie, proxyBase string) string {
	return target + "\x00" + cookie + "\x00" + proxyBase
}

func (p *Playlists) Get(key string) (Entry, bool) {
	if p == nil {
		return Entry{}, false
	}
	raw, ok := p.cache.Get(key)
	if !ok {
		return Entry{}, false
	}
	entry, ok := raw.(Entry)
	return entry, ok
}

func (p *Playlists) Set(key string, entry Entry) {
	if p == nil {
		return
	}
	p.cache.SetWithTTL(key, entry, 1, p.ttl)
}

// Wait blocks until buffered writes are applied.
func (p *Playlists) Wait() {
	if p != nil {
		p.cache.Wait()
	}
}

func (p *Playlists) Close() {
	if p != nil {
		p.cache.Close()
	}
}
